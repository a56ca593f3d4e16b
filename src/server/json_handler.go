package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/fetch"
	json "github.com/dynamic-tool-calling-protocol/go-dtcp/src/json"
	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/repository"
	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/tools"
)

// SchemaResolver resolves a schema reference into a runtime message type.
type SchemaResolver interface {
	Resolve(ctx context.Context, refStr string) (protoreflect.MessageType, error)
}

// RegistrySearcher finds repositories in the remote schema registry.
type RegistrySearcher interface {
	Search(ctx context.Context, query string) ([]fetch.SearchResult, error)
}

// JSONHandler serves newline-delimited JSON-RPC 2.0 on one connection.
// Requests framed with a Content-Length header are also accepted for
// clients that speak that variant.
type JSONHandler struct {
	repo     *repository.InMemoryToolRepository
	resolver SchemaResolver
	searcher RegistrySearcher
	logger   func(format string, args ...interface{})
}

// NewJSONHandler creates a handler over the shared repository, resolver,
// and registry searcher.
func NewJSONHandler(repo *repository.InMemoryToolRepository, resolver SchemaResolver, searcher RegistrySearcher, logger func(format string, args ...interface{})) *JSONHandler {
	if logger == nil {
		logger = func(format string, args ...interface{}) {}
	}
	return &JSONHandler{repo: repo, resolver: resolver, searcher: searcher, logger: logger}
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type jsonRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type callToolArgs struct {
	SchemaRef string          `json:"schema_ref"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Handle serves requests until the stream ends.
func (h *JSONHandler) Handle(rw io.ReadWriter) error {
	enc := json.NewEncoder(rw)
	reader := bufio.NewReader(rw)

	for {
		var req jsonRPCRequest
		if err := readRequest(reader, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode JSON-RPC request: %w", err)
		}

		resp := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}

		switch req.Method {
		case "initialize":
			resp.Result = map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{"listChanged": false},
				},
				"serverInfo": map[string]interface{}{
					"name":    ServerName,
					"version": ServerVersion,
				},
			}
		case "tools/list":
			resp.Result = map[string]interface{}{"tools": h.listTools()}
		case "tools/call":
			ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
			result, err := h.handleToolCall(ctx, req.Params)
			cancel()
			if err != nil {
				resp.Error = jsonRPCError{Code: -32603, Message: err.Error()}
			} else {
				resp.Result = result
			}
		default:
			resp.Error = jsonRPCError{Code: -32601, Message: fmt.Sprintf("unsupported method: %s", req.Method)}
		}

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("failed to encode JSON-RPC response: %w", err)
		}
	}
}

func readRequest(reader *bufio.Reader, req *jsonRPCRequest) error {
	if hasContentLengthHeader(reader) {
		body, err := readContentLengthBody(reader)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, req)
	}
	// One request per line. A streaming decoder would read past the line
	// and swallow bytes of the next request.
	line, err := reader.ReadString('\n')
	if strings.TrimSpace(line) == "" {
		if err != nil {
			return err
		}
		return io.EOF
	}
	if err != nil && err != io.EOF {
		return err
	}
	return json.Unmarshal([]byte(line), req)
}

func hasContentLengthHeader(reader *bufio.Reader) bool {
	for {
		peek, err := reader.Peek(1)
		if err != nil {
			return false
		}
		if peek[0] != ' ' && peek[0] != '\n' && peek[0] != '\r' && peek[0] != '\t' {
			break
		}
		if _, err := reader.ReadByte(); err != nil {
			return false
		}
	}
	peek, err := reader.Peek(len("Content-Length:"))
	if err != nil {
		return false
	}
	return strings.EqualFold(string(peek), "Content-Length:")
}

func readContentLengthBody(reader *bufio.Reader) ([]byte, error) {
	const maxContentLength = 100 * 1024 * 1024

	headers := make(map[string]string)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}

	lengthStr := headers["content-length"]
	if lengthStr == "" {
		return nil, fmt.Errorf("content-length header missing")
	}
	length, err := strconv.Atoi(lengthStr)
	if err != nil {
		return nil, fmt.Errorf("invalid content-length: %w", err)
	}
	if length <= 0 {
		return nil, fmt.Errorf("invalid content-length: %d", length)
	}
	if length > maxContentLength {
		return nil, fmt.Errorf("content-length %d exceeds maximum of %d bytes", length, maxContentLength)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(reader, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (h *JSONHandler) listTools() []map[string]interface{} {
	// Meta-tools first; they exist regardless of what is registered.
	result := metaToolDefinitions()

	for _, t := range h.repo.List("") {
		toolJSON := map[string]interface{}{
			"name":        t.Name,
			"description": t.Description,
		}
		if t.SchemaRef != "" {
			toolJSON["schema_ref"] = t.SchemaRef
		}
		// Minimal inputSchema; resolve_schema yields the full one on demand.
		toolJSON["inputSchema"] = map[string]interface{}{"type": "object"}
		result = append(result, toolJSON)
	}
	return result
}

func metaToolDefinitions() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"name":        "search_registry",
			"description": "Search the schema registry for tool collections by keyword.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Keyword to search for in the registry.",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			"name":        "resolve_schema",
			"description": "Resolve a schema reference to its full JSON Schema. Use this to inspect the input format before calling a tool.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"schema_ref": map[string]interface{}{
						"type":        "string",
						"description": "The schema reference to resolve (e.g. dtcp.dev/acme/tools/acme.tools.v1.WebSearchRequest:main).",
					},
				},
				"required": []string{"schema_ref"},
			},
		},
		{
			"name":        "call_tool",
			"description": "Call a registered tool by schema reference and/or tool name, passing JSON arguments encoded against the resolved type.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"schema_ref": map[string]interface{}{
						"type":        "string",
						"description": "The schema reference for the tool's input type.",
					},
					"tool_name": map[string]interface{}{
						"type":        "string",
						"description": "The registered tool name to invoke. If omitted, the tool is looked up by schema_ref.",
					},
					"arguments": map[string]interface{}{
						"type":        "object",
						"description": "JSON arguments matching the tool's input schema.",
					},
				},
				"required": []string{"schema_ref"},
			},
		},
	}
}

func (h *JSONHandler) handleToolCall(ctx context.Context, rawParams json.RawMessage) (map[string]interface{}, error) {
	var params toolCallParams
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, fmt.Errorf("invalid tools/call params: %w", err)
	}

	switch params.Name {
	case "search_registry":
		return h.handleSearchRegistry(ctx, params.Arguments)
	case "resolve_schema":
		return h.handleResolveSchema(ctx, params.Arguments)
	case "call_tool":
		return h.handleCallTool(ctx, params.Arguments)
	default:
		return h.handleDirectToolCall(ctx, params.Name, params.Arguments)
	}
}

func (h *JSONHandler) handleSearchRegistry(ctx context.Context, rawArgs json.RawMessage) (map[string]interface{}, error) {
	if h.searcher == nil {
		return nil, fmt.Errorf("registry searcher is not configured")
	}

	var args map[string]interface{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, fmt.Errorf("invalid search_registry args: %w", err)
		}
	}
	query := strings.TrimSpace(cast.ToString(args["query"]))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	candidates, err := h.searcher.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]interface{}{
		"query":      query,
		"candidates": candidates,
	})
	if err != nil {
		return nil, err
	}
	return textResultJSON(string(payload)), nil
}

func (h *JSONHandler) handleResolveSchema(ctx context.Context, rawArgs json.RawMessage) (map[string]interface{}, error) {
	if h.resolver == nil {
		return nil, fmt.Errorf("schema resolver is not configured")
	}

	var args map[string]interface{}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil, fmt.Errorf("invalid resolve_schema args: %w", err)
	}
	ref := strings.TrimSpace(cast.ToString(args["schema_ref"]))
	if ref == "" {
		return nil, fmt.Errorf("schema_ref is required")
	}

	msgType, err := h.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	schema := messageSchema(msgType.Descriptor(), map[protoreflect.FullName]bool{})
	payload, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	return textResultJSON(string(payload)), nil
}

func (h *JSONHandler) handleCallTool(ctx context.Context, rawArgs json.RawMessage) (map[string]interface{}, error) {
	if h.resolver == nil {
		return nil, fmt.Errorf("schema resolver is not configured")
	}

	var args callToolArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil, fmt.Errorf("invalid call_tool args: %w", err)
	}
	args.SchemaRef = strings.TrimSpace(args.SchemaRef)
	if args.SchemaRef == "" {
		return nil, fmt.Errorf("schema_ref is required")
	}

	msgType, err := h.resolver.Resolve(ctx, args.SchemaRef)
	if err != nil {
		return nil, err
	}

	// Late binding: the JSON arguments only become wire bytes once the
	// referenced type is resolved.
	msg := msgType.New().Interface()
	if len(args.Arguments) == 0 {
		args.Arguments = []byte("{}")
	}
	if err := protojson.Unmarshal(args.Arguments, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	payload, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}

	var result *tools.Result
	if strings.TrimSpace(args.ToolName) != "" {
		result, err = h.repo.Call(ctx, args.ToolName, payload)
	} else {
		result, err = h.repo.CallBySchemaRef(ctx, args.SchemaRef, payload)
	}
	if err != nil {
		return nil, err
	}
	return toolResultJSON(result), nil
}

func (h *JSONHandler) handleDirectToolCall(ctx context.Context, name string, rawArgs json.RawMessage) (map[string]interface{}, error) {
	t, ok := h.repo.GetTool(name)
	if !ok {
		return nil, fmt.Errorf("tool %q not found", name)
	}

	args := []byte(rawArgs)
	if t.SchemaRef != "" && h.resolver != nil {
		msgType, err := h.resolver.Resolve(ctx, t.SchemaRef)
		if err != nil {
			return nil, err
		}
		msg := msgType.New().Interface()
		if len(rawArgs) == 0 {
			rawArgs = []byte("{}")
		}
		if err := protojson.Unmarshal(rawArgs, msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
		args, err = proto.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal arguments: %w", err)
		}
	}

	result, err := h.repo.Call(ctx, name, args)
	if err != nil {
		return nil, err
	}
	return toolResultJSON(result), nil
}

func textResultJSON(text string) map[string]interface{} {
	return map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
	}
}

func toolResultJSON(result *tools.Result) map[string]interface{} {
	if result == nil {
		return textResultJSON("")
	}
	content := make([]map[string]interface{}, 0, len(result.Content))
	for _, item := range result.Content {
		entry := map[string]interface{}{"type": item.Type}
		if item.Text != "" {
			entry["text"] = item.Text
		}
		if len(item.Data) > 0 {
			entry["data"] = item.Data
		}
		content = append(content, entry)
	}
	return map[string]interface{}{"content": content}
}
