package server

import (
	"google.golang.org/protobuf/reflect/protoreflect"
)

// messageSchema renders a message descriptor as a JSON Schema fragment.
// The seen set breaks cycles in self-referencing message graphs.
func messageSchema(desc protoreflect.MessageDescriptor, seen map[protoreflect.FullName]bool) map[string]interface{} {
	if desc == nil || seen[desc.FullName()] {
		return map[string]interface{}{"type": "object"}
	}
	seen[desc.FullName()] = true

	properties := make(map[string]interface{})
	fields := desc.Fields()
	for i := 0; i < fields.Len(); i++ {
		field := fields.Get(i)
		properties[field.JSONName()] = fieldSchema(field, seen)
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
}

func fieldSchema(field protoreflect.FieldDescriptor, seen map[protoreflect.FullName]bool) map[string]interface{} {
	if field.IsList() {
		return map[string]interface{}{
			"type":  "array",
			"items": scalarSchema(field, seen),
		}
	}
	if field.IsMap() {
		return map[string]interface{}{
			"type":                 "object",
			"additionalProperties": scalarSchema(field.MapValue(), seen),
		}
	}
	return scalarSchema(field, seen)
}

func scalarSchema(field protoreflect.FieldDescriptor, seen map[protoreflect.FullName]bool) map[string]interface{} {
	switch field.Kind() {
	case protoreflect.BoolKind:
		return map[string]interface{}{"type": "boolean"}
	case protoreflect.StringKind:
		return map[string]interface{}{"type": "string"}
	case protoreflect.BytesKind:
		return map[string]interface{}{
			"type":             "string",
			"contentEncoding":  "base64",
			"contentMediaType": "application/octet-stream",
		}
	case protoreflect.Int32Kind, protoreflect.Int64Kind,
		protoreflect.Sint32Kind, protoreflect.Sint64Kind,
		protoreflect.Sfixed32Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint32Kind, protoreflect.Uint64Kind,
		protoreflect.Fixed32Kind, protoreflect.Fixed64Kind:
		return map[string]interface{}{"type": "integer"}
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return map[string]interface{}{"type": "number"}
	case protoreflect.EnumKind:
		enum := field.Enum()
		values := make([]string, 0, enum.Values().Len())
		for i := 0; i < enum.Values().Len(); i++ {
			values = append(values, string(enum.Values().Get(i).Name()))
		}
		return map[string]interface{}{"type": "string", "enum": values}
	case protoreflect.MessageKind:
		switch field.Message().FullName() {
		case "google.protobuf.Timestamp":
			return map[string]interface{}{"type": "string", "format": "date-time"}
		case "google.protobuf.Duration":
			return map[string]interface{}{"type": "string"}
		case "google.protobuf.Struct", "google.protobuf.Any", "google.protobuf.Value":
			return map[string]interface{}{"type": "object"}
		case "google.protobuf.ListValue":
			return map[string]interface{}{"type": "array", "items": map[string]interface{}{}}
		default:
			return messageSchema(field.Message(), seen)
		}
	default:
		return map[string]interface{}{"type": "string"}
	}
}
