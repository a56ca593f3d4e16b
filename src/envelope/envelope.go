// Package envelope defines the correlation-id-tagged message container
// carried by the binary framing. Messages use the protobuf wire format,
// assembled with protowire so the shapes stay free of generated code;
// tool arguments and results travel as tagged opaque values (anypb.Any)
// that only a peer holding the type's definition can decode.
package envelope

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// ProtocolVersion identifies the envelope revision spoken by this package.
const ProtocolVersion = "1.0.0"

// ErrTruncated is returned when a message ends inside a field.
var ErrTruncated = errors.New("truncated envelope")

// Payload is one variant of the closed request/response set.
type Payload interface {
	isPayload()
}

// Envelope is one message on the wire: a correlation id plus exactly one
// payload variant.
type Envelope struct {
	ID      string
	Payload Payload
}

// InitializeRequest opens a session.
type InitializeRequest struct {
	ClientName    string
	ClientVersion string
}

// InitializeResponse acknowledges a session.
type InitializeResponse struct {
	ProtocolVersion string
	ServerName      string
	ServerVersion   string
}

// ListToolsRequest asks for tool summaries matching an optional query.
type ListToolsRequest struct {
	Query string
}

// ToolSummary advertises one tool: a name, a description, and an opaque
// schema reference the caller resolves lazily on first use.
type ToolSummary struct {
	Name        string
	Description string
	SchemaRef   string
}

// ListToolsResponse carries the matching tool summaries.
type ListToolsResponse struct {
	Tools []*ToolSummary
}

// CallToolRequest invokes a tool with a tagged opaque argument value.
type CallToolRequest struct {
	Name      string
	Arguments *anypb.Any
}

// CallToolResponse carries either a tagged result or an error.
type CallToolResponse struct {
	Result *anypb.Any
	Err    *Error
}

// Error is the wire error shape, JSON-RPC compatible codes.
type Error struct {
	Code    int32
	Message string
}

func (*InitializeRequest) isPayload()  {}
func (*InitializeResponse) isPayload() {}
func (*ListToolsRequest) isPayload()   {}
func (*ListToolsResponse) isPayload()  {}
func (*CallToolRequest) isPayload()    {}
func (*CallToolResponse) isPayload()   {}
func (*Error) isPayload()              {}

// Envelope field numbers. The payload variants behave as a oneof: the
// last variant field present wins.
const (
	fieldID           = 1
	fieldInitRequest  = 2
	fieldInitResponse = 3
	fieldListRequest  = 4
	fieldListResponse = 5
	fieldCallRequest  = 6
	fieldCallResponse = 7
	fieldError        = 8
)

// Marshal encodes the envelope into protobuf wire bytes.
func Marshal(env *Envelope) ([]byte, error) {
	var b []byte
	if env.ID != "" {
		b = appendString(b, fieldID, env.ID)
	}
	switch p := env.Payload.(type) {
	case nil:
		return nil, errors.New("envelope has no payload")
	case *InitializeRequest:
		b = appendMessage(b, fieldInitRequest, marshalInitRequest(p))
	case *InitializeResponse:
		b = appendMessage(b, fieldInitResponse, marshalInitResponse(p))
	case *ListToolsRequest:
		b = appendMessage(b, fieldListRequest, marshalListRequest(p))
	case *ListToolsResponse:
		b = appendMessage(b, fieldListResponse, marshalListResponse(p))
	case *CallToolRequest:
		body, err := marshalCallRequest(p)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, fieldCallRequest, body)
	case *CallToolResponse:
		body, err := marshalCallResponse(p)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, fieldCallResponse, body)
	case *Error:
		b = appendMessage(b, fieldError, marshalError(p))
	default:
		return nil, fmt.Errorf("unsupported payload type %T", env.Payload)
	}
	return b, nil
}

// Unmarshal decodes protobuf wire bytes into an envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	env := &Envelope{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case fieldID:
			env.ID = string(val)
		case fieldInitRequest:
			p, err := unmarshalInitRequest(val)
			if err != nil {
				return err
			}
			env.Payload = p
		case fieldInitResponse:
			p, err := unmarshalInitResponse(val)
			if err != nil {
				return err
			}
			env.Payload = p
		case fieldListRequest:
			p, err := unmarshalListRequest(val)
			if err != nil {
				return err
			}
			env.Payload = p
		case fieldListResponse:
			p, err := unmarshalListResponse(val)
			if err != nil {
				return err
			}
			env.Payload = p
		case fieldCallRequest:
			p, err := unmarshalCallRequest(val)
			if err != nil {
				return err
			}
			env.Payload = p
		case fieldCallResponse:
			p, err := unmarshalCallResponse(val)
			if err != nil {
				return err
			}
			env.Payload = p
		case fieldError:
			p, err := unmarshalError(val)
			if err != nil {
				return err
			}
			env.Payload = p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if env.Payload == nil {
		return nil, errors.New("envelope has no payload")
	}
	return env, nil
}

func marshalInitRequest(p *InitializeRequest) []byte {
	var b []byte
	b = appendString(b, 1, p.ClientName)
	b = appendString(b, 2, p.ClientVersion)
	return b
}

func unmarshalInitRequest(data []byte) (*InitializeRequest, error) {
	p := &InitializeRequest{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			p.ClientName = string(val)
		case 2:
			p.ClientVersion = string(val)
		}
		return nil
	})
	return p, err
}

func marshalInitResponse(p *InitializeResponse) []byte {
	var b []byte
	b = appendString(b, 1, p.ProtocolVersion)
	b = appendString(b, 2, p.ServerName)
	b = appendString(b, 3, p.ServerVersion)
	return b
}

func unmarshalInitResponse(data []byte) (*InitializeResponse, error) {
	p := &InitializeResponse{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			p.ProtocolVersion = string(val)
		case 2:
			p.ServerName = string(val)
		case 3:
			p.ServerVersion = string(val)
		}
		return nil
	})
	return p, err
}

func marshalListRequest(p *ListToolsRequest) []byte {
	var b []byte
	b = appendString(b, 1, p.Query)
	return b
}

func unmarshalListRequest(data []byte) (*ListToolsRequest, error) {
	p := &ListToolsRequest{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		if num == 1 {
			p.Query = string(val)
		}
		return nil
	})
	return p, err
}

func marshalListResponse(p *ListToolsResponse) []byte {
	var b []byte
	for _, t := range p.Tools {
		b = appendMessage(b, 1, marshalToolSummary(t))
	}
	return b
}

func unmarshalListResponse(data []byte) (*ListToolsResponse, error) {
	p := &ListToolsResponse{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		if num == 1 {
			t, err := unmarshalToolSummary(val)
			if err != nil {
				return err
			}
			p.Tools = append(p.Tools, t)
		}
		return nil
	})
	return p, err
}

func marshalToolSummary(t *ToolSummary) []byte {
	var b []byte
	b = appendString(b, 1, t.Name)
	b = appendString(b, 2, t.Description)
	b = appendString(b, 3, t.SchemaRef)
	return b
}

func unmarshalToolSummary(data []byte) (*ToolSummary, error) {
	t := &ToolSummary{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			t.Name = string(val)
		case 2:
			t.Description = string(val)
		case 3:
			t.SchemaRef = string(val)
		}
		return nil
	})
	return t, err
}

func marshalCallRequest(p *CallToolRequest) ([]byte, error) {
	var b []byte
	b = appendString(b, 1, p.Name)
	if p.Arguments != nil {
		anyBytes, err := proto.Marshal(p.Arguments)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, 2, anyBytes)
	}
	return b, nil
}

func unmarshalCallRequest(data []byte) (*CallToolRequest, error) {
	p := &CallToolRequest{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			p.Name = string(val)
		case 2:
			a := &anypb.Any{}
			if err := proto.Unmarshal(val, a); err != nil {
				return err
			}
			p.Arguments = a
		}
		return nil
	})
	return p, err
}

func marshalCallResponse(p *CallToolResponse) ([]byte, error) {
	var b []byte
	if p.Result != nil {
		anyBytes, err := proto.Marshal(p.Result)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, 1, anyBytes)
	}
	if p.Err != nil {
		b = appendMessage(b, 2, marshalError(p.Err))
	}
	return b, nil
}

func unmarshalCallResponse(data []byte) (*CallToolResponse, error) {
	p := &CallToolResponse{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			a := &anypb.Any{}
			if err := proto.Unmarshal(val, a); err != nil {
				return err
			}
			p.Result = a
		case 2:
			e, err := unmarshalError(val)
			if err != nil {
				return err
			}
			p.Err = e
		}
		return nil
	})
	return p, err
}

func marshalError(e *Error) []byte {
	var b []byte
	if e.Code != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(e.Code)))
	}
	b = appendString(b, 2, e.Message)
	return b
}

func unmarshalError(data []byte) (*Error, error) {
	e := &Error{}
	err := eachRawField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, ErrTruncated
			}
			e.Code = int32(uint32(v))
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, ErrTruncated
			}
			e.Message = string(v)
			return n, nil
		}
		n := protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return 0, ErrTruncated
		}
		return n, nil
	})
	return e, err
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// eachField walks the length-delimited fields of a message, skipping
// fields of other wire types.
func eachField(data []byte, fn func(num protowire.Number, typ protowire.Type, val []byte) error) error {
	return eachRawField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return 0, ErrTruncated
			}
			return n, nil
		}
		val, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return 0, ErrTruncated
		}
		if err := fn(num, typ, val); err != nil {
			return 0, err
		}
		return n, nil
	})
}

func eachRawField(data []byte, fn func(num protowire.Number, typ protowire.Type, data []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrTruncated
		}
		data = data[n:]
		consumed, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		data = data[consumed:]
	}
	return nil
}
