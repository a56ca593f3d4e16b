package tools

import (
	"context"
)

// Handler executes a tool call. Arguments arrive as the serialized bytes
// of the tool's input type; the handler is expected to have resolved that
// type before decoding.
type Handler func(ctx context.Context, args []byte) (*Result, error)

// Tool holds the metadata for a single tool. Discovery advertises only
// the name, description, and an opaque schema reference — the concrete
// argument type is resolved lazily by whoever calls the tool.
type Tool struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SchemaRef   string   `json:"schema_ref,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Handler     Handler  `json:"-"`
}

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// Result is what a tool handler returns.
type Result struct {
	Content []Content `json:"content"`
}

// TextResult builds a single-item text result.
func TextResult(text string) *Result {
	return &Result{Content: []Content{{Type: "text", Text: text}}}
}
