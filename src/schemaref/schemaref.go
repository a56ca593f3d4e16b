package schemaref

import (
	"errors"
	"fmt"
	"strings"
)

// Scheme is the fixed host prefix every schema reference must carry.
const Scheme = "dtcp.dev/"

// DefaultVersion is used when a reference omits the ":version" suffix.
const DefaultVersion = "main"

// ErrMalformedReference is returned when a reference string cannot be parsed.
var ErrMalformedReference = errors.New("malformed schema reference")

// Ref is a parsed schema reference. It points at a remote, versioned type
// definition and is immutable after Parse.
type Ref struct {
	Owner      string
	Collection string
	TypeName   string
	Version    string
}

// Parse parses a schema reference string of the form
// dtcp.dev/{owner}/{collection}/{full_type_name}:{version}.
// The version suffix is optional and defaults to "main".
func Parse(ref string) (*Ref, error) {
	if !strings.HasPrefix(ref, Scheme) {
		return nil, fmt.Errorf("%w: %q must start with %s", ErrMalformedReference, ref, Scheme)
	}
	parts := strings.Split(strings.TrimPrefix(ref, Scheme), "/")
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: %q has too few path segments", ErrMalformedReference, ref)
	}

	owner := parts[0]
	collection := parts[1]
	if owner == "" || collection == "" {
		return nil, fmt.Errorf("%w: %q has empty path segments", ErrMalformedReference, ref)
	}

	// The remainder holds the type name and optional version.
	rest := strings.Join(parts[2:], "/")
	typeName := rest
	version := DefaultVersion
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		typeName = rest[:idx]
		version = rest[idx+1:]
		if version == "" {
			version = DefaultVersion
		}
	}
	if typeName == "" {
		return nil, fmt.Errorf("%w: %q has no type name", ErrMalformedReference, ref)
	}

	return &Ref{
		Owner:      owner,
		Collection: collection,
		TypeName:   typeName,
		Version:    version,
	}, nil
}

// RepoKey returns the "owner/collection@version" key used to cache the
// definition set a reference resolves against.
func (r *Ref) RepoKey() string {
	return fmt.Sprintf("%s/%s@%s", r.Owner, r.Collection, r.Version)
}

// String reassembles the canonical reference form.
func (r *Ref) String() string {
	return fmt.Sprintf("%s%s/%s/%s:%s", Scheme, r.Owner, r.Collection, r.TypeName, r.Version)
}
