// Package fetch implements the remote schema registry collaborator: the
// one operation that turns a parsed reference into a set of raw type
// definitions, over either HTTP or gRPC.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/descriptorpb"

	json "github.com/dynamic-tool-calling-protocol/go-dtcp/src/json"
	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/schemaref"
)

// defaultHTTPTimeout bounds each HTTP request to the registry API.
const defaultHTTPTimeout = 30 * time.Second

// defaultFetchTimeout is applied when the caller's context carries no
// deadline, so a fetch can never hang a resolve indefinitely.
const defaultFetchTimeout = 60 * time.Second

// TokenEnv names the environment variable consulted for the registry
// bearer token when none is configured explicitly.
const TokenEnv = "DTCP_REGISTRY_TOKEN"

// StatusError carries a non-success upstream response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry API error (%d): %s", e.Code, e.Message)
}

// HTTPFetcher fetches type definition sets from the schema registry's
// HTTP API.
type HTTPFetcher struct {
	httpClient *http.Client
	token      string
	baseURL    string
	logger     func(format string, args ...interface{})
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithToken overrides the bearer token read from TokenEnv.
func WithToken(token string) HTTPOption {
	return func(f *HTTPFetcher) { f.token = token }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) { f.httpClient = c }
}

// WithLogger installs a debug logger.
func WithLogger(logger func(format string, args ...interface{})) HTTPOption {
	return func(f *HTTPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewHTTPFetcher creates a fetcher against the given registry base URL.
func NewHTTPFetcher(baseURL string, opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		token:      os.Getenv(TokenEnv),
		baseURL:    baseURL,
		logger:     func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchTypeDefinitions retrieves the descriptor set for ref's repository.
func (f *HTTPFetcher) FetchTypeDefinitions(ctx context.Context, ref *schemaref.Ref) (*descriptorpb.FileDescriptorSet, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFetchTimeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/dtcp.registry.v1.SchemaService/GetTypeDefinitions", f.baseURL)
	body, err := f.post(ctx, url, map[string]interface{}{
		"owner":      ref.Owner,
		"collection": ref.Collection,
		"reference":  ref.Version,
	})
	if err != nil {
		return nil, err
	}

	var schemaResp struct {
		Schema struct {
			File []json.RawMessage `json:"file"`
		} `json:"schema"`
	}
	if err := json.Unmarshal(body, &schemaResp); err != nil {
		return nil, fmt.Errorf("failed to decode registry response: %w", err)
	}

	fds := &descriptorpb.FileDescriptorSet{}
	unmarshaler := protojson.UnmarshalOptions{DiscardUnknown: true}
	for _, fileJSON := range schemaResp.Schema.File {
		fd := &descriptorpb.FileDescriptorProto{}
		if err := unmarshaler.Unmarshal(fileJSON, fd); err != nil {
			return nil, fmt.Errorf("failed to unmarshal file descriptor: %w", err)
		}
		fds.File = append(fds.File, fd)
	}
	f.logger("fetch: %s returned %d files", ref.RepoKey(), len(fds.File))
	return fds, nil
}

// SearchResult is one repository found in the registry.
type SearchResult struct {
	Owner      string `json:"owner"`
	Collection string `json:"name"`
}

// Search queries the registry for repositories matching query.
func (f *HTTPFetcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFetchTimeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/dtcp.registry.v1.SearchService/Search", f.baseURL)
	body, err := f.post(ctx, url, map[string]interface{}{
		"query":    query,
		"pageSize": 5,
	})
	if err != nil {
		return nil, err
	}

	var searchResp struct {
		Results []struct {
			Repository SearchResult `json:"repository"`
		} `json:"searchResults"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]SearchResult, 0, len(searchResp.Results))
	for _, res := range searchResp.Results {
		if res.Repository.Owner != "" {
			results = append(results, res.Repository)
		}
	}
	return results, nil
}

func (f *HTTPFetcher) post(ctx context.Context, url string, payload map[string]interface{}) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, readErr := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		if readErr != nil {
			f.logger("fetch: unreadable error body from %s: %v", url, readErr)
			return nil, &StatusError{Code: resp.StatusCode, Message: "<body unreadable>"}
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: string(msg)}
	}
	return io.ReadAll(resp.Body)
}
