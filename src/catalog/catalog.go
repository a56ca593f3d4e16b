package catalog

import (
	"errors"
	"fmt"
	"sync"

	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ErrTypeNotFound is returned when a lookup exhausts the catalog.
var ErrTypeNotFound = errors.New("type not found in catalog")

// Catalog is an append-only pool of resolved type definitions keyed by
// fully-qualified name. A name, once inserted, maps to one definition for
// the catalog's lifetime; re-inserting an overlapping definition set is a
// no-op, which makes repeated registration of shared dependency sets safe.
type Catalog struct {
	mu    sync.RWMutex
	files *protoregistry.Files
}

// New creates an empty Catalog.
func New() *Catalog {
	return &Catalog{files: new(protoregistry.Files)}
}

// depResolver resolves file imports against the catalog first and falls
// back to the process-wide registry for well-known types.
type depResolver struct {
	files *protoregistry.Files
}

func (r depResolver) FindFileByPath(path string) (protoreflect.FileDescriptor, error) {
	if fd, err := r.files.FindFileByPath(path); err == nil {
		return fd, nil
	}
	return protoregistry.GlobalFiles.FindFileByPath(path)
}

func (r depResolver) FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error) {
	if d, err := r.files.FindDescriptorByName(name); err == nil {
		return d, nil
	}
	return protoregistry.GlobalFiles.FindDescriptorByName(name)
}

// Insert registers every file in fds that is not already present. Files in
// a set may arrive in any order, so registration retries until a full pass
// makes no progress; files that still fail then (already registered under
// another set, or missing an import the set never provides) are skipped.
func (c *Catalog) Insert(fds *descriptorpb.FileDescriptorSet) error {
	if fds == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := make([]*descriptorpb.FileDescriptorProto, 0, len(fds.File))
	for _, fdProto := range fds.File {
		if _, err := c.files.FindFileByPath(fdProto.GetName()); err == nil {
			continue
		}
		pending = append(pending, fdProto)
	}

	for len(pending) > 0 {
		var next []*descriptorpb.FileDescriptorProto
		progressed := false
		for _, fdProto := range pending {
			fd, err := protodesc.NewFile(fdProto, depResolver{files: c.files})
			if err != nil {
				next = append(next, fdProto)
				continue
			}
			if err := c.files.RegisterFile(fd); err != nil {
				return fmt.Errorf("failed to register file %s: %w", fd.Path(), err)
			}
			progressed = true
		}
		if !progressed {
			break
		}
		pending = next
	}
	return nil
}

// Lookup returns the message descriptor registered under the given
// fully-qualified name.
func (c *Catalog) Lookup(name protoreflect.FullName) (protoreflect.MessageDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookupLocked(name)
}

func (c *Catalog) lookupLocked(name protoreflect.FullName) (protoreflect.MessageDescriptor, error) {
	d, err := c.files.FindDescriptorByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, name)
	}
	md, ok := d.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("%s is not a message", name)
	}
	return md, nil
}

// ResolveIn looks up name, falling back to candidate names reconstructed
// from the given definition set. Registries may report a message under its
// file-relative name while the reference carries the package-qualified
// form, or the other way round; both spellings must resolve before the
// lookup is declared a miss.
func (c *Catalog) ResolveIn(name string, fds *descriptorpb.FileDescriptorSet) (protoreflect.MessageDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if md, err := c.lookupLocked(protoreflect.FullName(name)); err == nil {
		return md, nil
	}
	if fds == nil {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, name)
	}
	for _, fdProto := range fds.File {
		pkg := fdProto.GetPackage()
		for _, msg := range fdProto.GetMessageType() {
			if fqn, ok := matchMessage(pkg, "", msg, name); ok {
				return c.lookupLocked(protoreflect.FullName(fqn))
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, name)
}

// matchMessage reports whether msg (or one of its nested messages) is a
// plausible spelling of want, returning the fully-qualified name to use.
func matchMessage(pkg, outer string, msg *descriptorpb.DescriptorProto, want string) (string, bool) {
	local := msg.GetName()
	if outer != "" {
		local = outer + "." + local
	}
	fqn := local
	if pkg != "" {
		fqn = pkg + "." + local
	}
	if fqn == want || local == want {
		return fqn, true
	}
	for _, nested := range msg.GetNestedType() {
		if got, ok := matchMessage(pkg, local, nested, want); ok {
			return got, true
		}
	}
	return "", false
}
