package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/envelope"
	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/frame"
	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/repository"
)

// ServerName and ServerVersion identify this implementation in
// initialize responses.
const (
	ServerName    = "go-dtcp-server"
	ServerVersion = "0.1.0"
)

// callTimeout bounds a single tool invocation.
const callTimeout = 30 * time.Second

// BinaryHandler serves framed binary envelopes on one connection.
// Messages are processed strictly in the order received.
type BinaryHandler struct {
	repo   *repository.InMemoryToolRepository
	logger func(format string, args ...interface{})
}

// NewBinaryHandler creates a handler over the shared tool repository.
func NewBinaryHandler(repo *repository.InMemoryToolRepository, logger func(format string, args ...interface{})) *BinaryHandler {
	if logger == nil {
		logger = func(format string, args ...interface{}) {}
	}
	return &BinaryHandler{repo: repo, logger: logger}
}

// Handle reads frames until the stream ends cleanly or a framing error
// kills the connection. Framing errors are unrecoverable since the byte
// alignment is lost.
func (h *BinaryHandler) Handle(rw io.ReadWriter) error {
	reader := frame.NewReader(rw)
	writer := frame.NewWriter(rw)

	for {
		body, err := reader.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("binary handler read error: %w", err)
		}

		msg, err := envelope.Unmarshal(body)
		if err != nil {
			return fmt.Errorf("binary handler decode error: %w", err)
		}

		resp, err := h.dispatch(msg)
		if err != nil {
			return err
		}
		respBytes, err := envelope.Marshal(resp)
		if err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
		if err := writer.WriteFrame(respBytes); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
}

func (h *BinaryHandler) dispatch(msg *envelope.Envelope) (*envelope.Envelope, error) {
	switch payload := msg.Payload.(type) {
	case *envelope.InitializeRequest:
		h.logger("server: initialize from %s %s", payload.ClientName, payload.ClientVersion)
		return &envelope.Envelope{
			ID: msg.ID,
			Payload: &envelope.InitializeResponse{
				ProtocolVersion: envelope.ProtocolVersion,
				ServerName:      ServerName,
				ServerVersion:   ServerVersion,
			},
		}, nil

	case *envelope.ListToolsRequest:
		matches := h.repo.List(payload.Query)
		summaries := make([]*envelope.ToolSummary, 0, len(matches))
		for _, t := range matches {
			summaries = append(summaries, &envelope.ToolSummary{
				Name:        t.Name,
				Description: t.Description,
				SchemaRef:   t.SchemaRef,
			})
		}
		return &envelope.Envelope{
			ID:      msg.ID,
			Payload: &envelope.ListToolsResponse{Tools: summaries},
		}, nil

	case *envelope.CallToolRequest:
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		var args []byte
		if payload.Arguments != nil {
			args = payload.Arguments.Value
		}
		result, err := h.repo.Call(ctx, payload.Name, args)
		cancel()

		resp := &envelope.CallToolResponse{}
		if err != nil {
			resp.Err = &envelope.Error{Code: -32603, Message: err.Error()}
		} else {
			wireResult := &envelope.ToolResult{}
			for _, c := range result.Content {
				wireResult.Content = append(wireResult.Content, &envelope.ToolContent{
					Type: c.Type,
					Text: c.Text,
					Data: c.Data,
				})
			}
			resp.Result = envelope.PackToolResult(wireResult)
		}
		return &envelope.Envelope{ID: msg.ID, Payload: resp}, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %T", msg.Payload)
	}
}
