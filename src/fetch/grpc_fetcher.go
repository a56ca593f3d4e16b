package fetch

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/schemaref"
)

const getTypeDefinitionsMethod = "/dtcp.registry.v1.SchemaService/GetTypeDefinitions"

// rawMessage is a passthrough body for the raw codec.
type rawMessage []byte

// rawCodec moves pre-encoded protobuf bytes through a gRPC channel
// unchanged. The request is assembled with protowire, the response is a
// plain FileDescriptorSet, so no generated service stubs are needed.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("raw codec cannot marshal %T", v)
	}
	return *m, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("raw codec cannot unmarshal into %T", v)
	}
	*m = append((*m)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "dtcp-raw" }

// GRPCFetcher fetches type definition sets over a gRPC channel to the
// schema registry service.
type GRPCFetcher struct {
	conn   *grpc.ClientConn
	logger func(format string, args ...interface{})
}

// NewGRPCFetcher dials the registry at addr. TLS is not configured here;
// the fetcher is meant for registries reachable over a trusted network.
func NewGRPCFetcher(ctx context.Context, addr string, logger func(format string, args ...interface{})) (*GRPCFetcher, error) {
	if logger == nil {
		logger = func(format string, args ...interface{}) {}
	}
	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial registry at %s: %w", addr, err)
	}
	return &GRPCFetcher{conn: conn, logger: logger}, nil
}

// FetchTypeDefinitions invokes the registry's fetch operation and decodes
// the returned descriptor set.
func (f *GRPCFetcher) FetchTypeDefinitions(ctx context.Context, ref *schemaref.Ref) (*descriptorpb.FileDescriptorSet, error) {
	// GetTypeDefinitionsRequest: 1 owner, 2 collection, 3 reference.
	var reqBytes []byte
	reqBytes = protowire.AppendTag(reqBytes, 1, protowire.BytesType)
	reqBytes = protowire.AppendString(reqBytes, ref.Owner)
	reqBytes = protowire.AppendTag(reqBytes, 2, protowire.BytesType)
	reqBytes = protowire.AppendString(reqBytes, ref.Collection)
	reqBytes = protowire.AppendTag(reqBytes, 3, protowire.BytesType)
	reqBytes = protowire.AppendString(reqBytes, ref.Version)

	req := rawMessage(reqBytes)
	var resp rawMessage
	err := f.conn.Invoke(ctx, getTypeDefinitionsMethod, &req, &resp, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		if st, ok := status.FromError(err); ok {
			return nil, &StatusError{Code: int(st.Code()), Message: st.Message()}
		}
		return nil, err
	}

	fds := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(resp, fds); err != nil {
		return nil, fmt.Errorf("failed to decode descriptor set: %w", err)
	}
	f.logger("fetch: %s returned %d files over grpc", ref.RepoKey(), len(fds.File))
	return fds, nil
}

// Close tears down the channel.
func (f *GRPCFetcher) Close() error {
	return f.conn.Close()
}
