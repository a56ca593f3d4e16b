package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/cache"
	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/catalog"
	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/schemaref"
)

// ErrTypeNotFound is returned when resolution exhausts every fallback.
var ErrTypeNotFound = catalog.ErrTypeNotFound

// Fetcher retrieves the raw type definitions a schema reference points at.
// Implementations own their timeouts and must fail in bounded time rather
// than hang; Resolve propagates whatever failure it receives.
type Fetcher interface {
	FetchTypeDefinitions(ctx context.Context, ref *schemaref.Ref) (*descriptorpb.FileDescriptorSet, error)
}

// FetchError wraps a failed remote fetch with the reference that caused it.
type FetchError struct {
	Ref string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("schema fetch failed for %s: %v", e.Ref, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Registry resolves schema references into runtime message types. It owns
// a process-wide type catalog and a bounded descriptor cache, both safe
// for concurrent use by every connection worker.
type Registry struct {
	fetcher Fetcher
	catalog *catalog.Catalog
	cache   *cache.DescriptorCache
	logger  func(format string, args ...interface{})
}

// Option configures a Registry.
type Option func(*Registry)

// WithCacheCapacity bounds the descriptor cache at n entries.
func WithCacheCapacity(n int) Option {
	return func(r *Registry) { r.cache = cache.New(n) }
}

// WithLogger installs a debug logger.
func WithLogger(logger func(format string, args ...interface{})) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Registry backed by the given fetcher.
func New(fetcher Fetcher, opts ...Option) *Registry {
	r := &Registry{
		fetcher: fetcher,
		catalog: catalog.New(),
		cache:   cache.New(cache.DefaultCapacity),
		logger:  func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog exposes the registry's type catalog for callers that decode
// tagged values themselves.
func (r *Registry) Catalog() *catalog.Catalog { return r.catalog }

// Resolve turns a schema reference string into a usable message type,
// fetching and registering its definition set on first use. Repeat calls
// for an already-resolved type are a catalog lookup and nothing more.
func (r *Registry) Resolve(ctx context.Context, refStr string) (protoreflect.MessageType, error) {
	ref, err := schemaref.Parse(refStr)
	if err != nil {
		return nil, err
	}

	// Fast path: the type was resolved before.
	if md, err := r.catalog.Lookup(protoreflect.FullName(ref.TypeName)); err == nil {
		return dynamicpb.NewMessageType(md), nil
	}

	repoKey := ref.RepoKey()
	fds, cached := r.cache.Get(repoKey)
	if !cached {
		// Fetch without holding any lock; two workers racing on the same
		// never-seen reference may both fetch, which is harmless since
		// both the cache put and the catalog insert are idempotent.
		fds, err = r.fetcher.FetchTypeDefinitions(ctx, ref)
		if err != nil {
			return nil, &FetchError{Ref: refStr, Err: err}
		}
		r.cache.Put(repoKey, fds)
		r.logger("registry: fetched %d files for %s", len(fds.GetFile()), repoKey)
	}

	if err := r.catalog.Insert(fds); err != nil {
		return nil, err
	}

	md, err := r.catalog.ResolveIn(ref.TypeName, fds)
	if err != nil {
		return nil, fmt.Errorf("%w (reference %s)", ErrTypeNotFound, refStr)
	}
	return dynamicpb.NewMessageType(md), nil
}

// Unpack decodes a tagged opaque value against the catalog. The type must
// have been resolved beforehand; Unpack never reaches for the network.
func (r *Registry) Unpack(any *anypb.Any) (protoreflect.Message, error) {
	if any == nil {
		return nil, errors.New("nil tagged value")
	}
	// The type URL's final path segment is the fully-qualified type name.
	parts := strings.Split(any.TypeUrl, "/")
	fullName := protoreflect.FullName(parts[len(parts)-1])

	md, err := r.catalog.Lookup(fullName)
	if err != nil {
		return nil, err
	}
	msg := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(any.Value, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", fullName, err)
	}
	return msg, nil
}
