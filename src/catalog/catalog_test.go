package catalog

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

func stringField(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
		JsonName: proto.String(name),
	}
}

func webSearchSet() *descriptorpb.FileDescriptorSet {
	return &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{{
			Name:    proto.String("acme/tools/v1/tools.proto"),
			Package: proto.String("acme.tools.v1"),
			Syntax:  proto.String("proto3"),
			MessageType: []*descriptorpb.DescriptorProto{{
				Name:  proto.String("WebSearchRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{stringField("query", 1)},
			}},
		}},
	}
}

func TestInsertAndLookup(t *testing.T) {
	c := New()
	if err := c.Insert(webSearchSet()); err != nil {
		t.Fatalf("insert err: %v", err)
	}
	md, err := c.Lookup("acme.tools.v1.WebSearchRequest")
	if err != nil {
		t.Fatalf("lookup err: %v", err)
	}
	if got := string(md.FullName()); got != "acme.tools.v1.WebSearchRequest" {
		t.Errorf("full name = %q", got)
	}
}

func TestLookupMiss(t *testing.T) {
	c := New()
	_, err := c.Lookup("acme.tools.v1.Nope")
	if !errors.Is(err, ErrTypeNotFound) {
		t.Fatalf("err = %v, want ErrTypeNotFound", err)
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	c := New()
	if err := c.Insert(webSearchSet()); err != nil {
		t.Fatalf("first insert err: %v", err)
	}
	// Overlapping dependency sets are common when two tool schemas share
	// sub-types; re-inserting must be a no-op, not an error.
	if err := c.Insert(webSearchSet()); err != nil {
		t.Fatalf("second insert err: %v", err)
	}
	if _, err := c.Lookup("acme.tools.v1.WebSearchRequest"); err != nil {
		t.Fatalf("lookup after reinsert err: %v", err)
	}
}

func TestResolveInFileRelativeName(t *testing.T) {
	c := New()
	fds := webSearchSet()
	if err := c.Insert(fds); err != nil {
		t.Fatalf("insert err: %v", err)
	}
	// The reference carries the file-relative name; the catalog must
	// reconstruct the package-qualified spelling before giving up.
	md, err := c.ResolveIn("WebSearchRequest", fds)
	if err != nil {
		t.Fatalf("resolve err: %v", err)
	}
	if got := string(md.FullName()); got != "acme.tools.v1.WebSearchRequest" {
		t.Errorf("full name = %q", got)
	}
}

func TestResolveInNestedMessage(t *testing.T) {
	fds := &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{{
			Name:    proto.String("acme/tools/v1/nested.proto"),
			Package: proto.String("acme.tools.v1"),
			Syntax:  proto.String("proto3"),
			MessageType: []*descriptorpb.DescriptorProto{{
				Name: proto.String("Outer"),
				NestedType: []*descriptorpb.DescriptorProto{{
					Name:  proto.String("Inner"),
					Field: []*descriptorpb.FieldDescriptorProto{stringField("value", 1)},
				}},
			}},
		}},
	}
	c := New()
	if err := c.Insert(fds); err != nil {
		t.Fatalf("insert err: %v", err)
	}
	md, err := c.ResolveIn("Outer.Inner", fds)
	if err != nil {
		t.Fatalf("resolve err: %v", err)
	}
	if got := string(md.FullName()); got != "acme.tools.v1.Outer.Inner" {
		t.Errorf("full name = %q", got)
	}
}

func TestResolveInExhausted(t *testing.T) {
	c := New()
	fds := webSearchSet()
	if err := c.Insert(fds); err != nil {
		t.Fatalf("insert err: %v", err)
	}
	_, err := c.ResolveIn("acme.tools.v1.Missing", fds)
	if !errors.Is(err, ErrTypeNotFound) {
		t.Fatalf("err = %v, want ErrTypeNotFound", err)
	}
}

func TestInsertOutOfOrderDependencies(t *testing.T) {
	// The dependent file is listed before the file it imports; insertion
	// must retry rather than drop it.
	fds := &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{
			{
				Name:       proto.String("acme/tools/v1/search.proto"),
				Package:    proto.String("acme.tools.v1"),
				Syntax:     proto.String("proto3"),
				Dependency: []string{"acme/tools/v1/common.proto"},
				MessageType: []*descriptorpb.DescriptorProto{{
					Name: proto.String("SearchRequest"),
					Field: []*descriptorpb.FieldDescriptorProto{{
						Name:     proto.String("page"),
						Number:   proto.Int32(1),
						Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
						Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
						TypeName: proto.String(".acme.tools.v1.Page"),
						JsonName: proto.String("page"),
					}},
				}},
			},
			{
				Name:    proto.String("acme/tools/v1/common.proto"),
				Package: proto.String("acme.tools.v1"),
				Syntax:  proto.String("proto3"),
				MessageType: []*descriptorpb.DescriptorProto{{
					Name:  proto.String("Page"),
					Field: []*descriptorpb.FieldDescriptorProto{stringField("token", 1)},
				}},
			},
		},
	}
	c := New()
	if err := c.Insert(fds); err != nil {
		t.Fatalf("insert err: %v", err)
	}
	for _, name := range []string{"acme.tools.v1.SearchRequest", "acme.tools.v1.Page"} {
		if _, err := c.Lookup(protoreflect.FullName(name)); err != nil {
			t.Errorf("lookup %s err: %v", name, err)
		}
	}
}
