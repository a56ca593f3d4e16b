// Package dtcp is a client for the dynamic tool calling protocol: tool
// discovery responses carry only a name, a description, and an opaque
// schema reference, and the concrete argument type is resolved lazily
// from a remote schema registry on first use.
package dtcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/envelope"
	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/frame"
	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/registry"
)

// ClientName and ClientVersion identify this client in initialize
// requests.
const (
	ClientName    = "go-dtcp"
	ClientVersion = "0.1.0"
)

// TaggedValuePrefix is prepended to a type's fully-qualified name to form
// the type URL of a tagged opaque value.
const TaggedValuePrefix = "dtcp.dev/types/"

// Client speaks the binary framing over a byte stream. Requests and
// responses on one connection are strictly FIFO, so a mutex serializes
// round trips.
type Client struct {
	mu       sync.Mutex
	rw       io.ReadWriter
	reader   *frame.Reader
	writer   *frame.Writer
	registry *registry.Registry
	logger   func(format string, args ...interface{})
}

// NewClient wraps an established byte stream (socket, pipe) in a client.
// The registry may be nil when the caller never builds or decodes tagged
// values.
func NewClient(rw io.ReadWriter, reg *registry.Registry, logger func(format string, args ...interface{})) *Client {
	if logger == nil {
		logger = func(format string, args ...interface{}) {}
	}
	return &Client{
		rw:       rw,
		reader:   frame.NewReader(rw),
		writer:   frame.NewWriter(rw),
		registry: reg,
		logger:   logger,
	}
}

// Dial connects to a server over TCP.
func Dial(ctx context.Context, addr string, reg *registry.Registry, logger func(format string, args ...interface{})) (*Client, error) {
	d := net.Dialer{Timeout: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn, reg, logger), nil
}

// Registry exposes the client's type registry.
func (c *Client) Registry() *registry.Registry { return c.registry }

// Close closes the underlying stream when it supports closing.
func (c *Client) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, payload envelope.Payload) (*envelope.Envelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	env := &envelope.Envelope{ID: uuid.NewString(), Payload: payload}
	body, err := envelope.Marshal(env)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writer.WriteFrame(body); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}
	respBody, err := c.reader.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	resp, err := envelope.Unmarshal(respBody)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.ID != env.ID {
		return nil, fmt.Errorf("response id %q does not match request id %q", resp.ID, env.ID)
	}
	return resp, nil
}

// Initialize opens the session.
func (c *Client) Initialize(ctx context.Context) (*envelope.InitializeResponse, error) {
	resp, err := c.roundTrip(ctx, &envelope.InitializeRequest{
		ClientName:    ClientName,
		ClientVersion: ClientVersion,
	})
	if err != nil {
		return nil, err
	}
	init, ok := resp.Payload.(*envelope.InitializeResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected initialize response type %T", resp.Payload)
	}
	c.logger("client: connected to %s %s", init.ServerName, init.ServerVersion)
	return init, nil
}

// ListTools returns tool summaries matching an optional query. Each
// summary's schema reference stays opaque until the tool is called.
func (c *Client) ListTools(ctx context.Context, query string) ([]*envelope.ToolSummary, error) {
	resp, err := c.roundTrip(ctx, &envelope.ListToolsRequest{Query: query})
	if err != nil {
		return nil, err
	}
	list, ok := resp.Payload.(*envelope.ListToolsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected list tools response type %T", resp.Payload)
	}
	return list.Tools, nil
}

// CallTool invokes a tool with a tagged argument value and returns the
// tagged result.
func (c *Client) CallTool(ctx context.Context, name string, arguments *anypb.Any) (*anypb.Any, error) {
	resp, err := c.roundTrip(ctx, &envelope.CallToolRequest{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	call, ok := resp.Payload.(*envelope.CallToolResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected call tool response type %T", resp.Payload)
	}
	if call.Err != nil {
		return nil, fmt.Errorf("tool %s failed (%d): %s", name, call.Err.Code, call.Err.Message)
	}
	return call.Result, nil
}

// BuildArguments turns JSON arguments into the tagged opaque value for a
// tool's input type, resolving the schema reference on first use.
func (c *Client) BuildArguments(ctx context.Context, schemaRef string, jsonArgs []byte) (*anypb.Any, error) {
	if c.registry == nil {
		return nil, errors.New("client has no type registry")
	}
	msgType, err := c.registry.Resolve(ctx, schemaRef)
	if err != nil {
		return nil, err
	}
	msg := msgType.New().Interface()
	if len(jsonArgs) == 0 {
		jsonArgs = []byte("{}")
	}
	if err := protojson.Unmarshal(jsonArgs, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	value, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return &anypb.Any{
		TypeUrl: TaggedValuePrefix + string(msg.ProtoReflect().Descriptor().FullName()),
		Value:   value,
	}, nil
}
