package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/tools"
)

func echoTool(name string) tools.Tool {
	return tools.Tool{
		Name:        name,
		Description: "Echoes its arguments back",
		Category:    "testing",
		Tags:        []string{"echo", "debug"},
		Handler: func(ctx context.Context, args []byte) (*tools.Result, error) {
			return tools.TextResult(string(args)), nil
		},
	}
}

func TestRegisterAndCall(t *testing.T) {
	repo := NewInMemoryToolRepository(nil)
	if err := repo.Register(echoTool("echo")); err != nil {
		t.Fatalf("register err: %v", err)
	}
	res, err := repo.Call(context.Background(), "echo", []byte("hello"))
	if err != nil {
		t.Fatalf("call err: %v", err)
	}
	if res.Content[0].Text != "hello" {
		t.Errorf("result = %+v", res.Content[0])
	}
}

func TestRegisterRequiresName(t *testing.T) {
	repo := NewInMemoryToolRepository(nil)
	if err := repo.Register(tools.Tool{}); err == nil {
		t.Fatal("expected an error for a nameless tool")
	}
}

func TestSnakeCaseAlias(t *testing.T) {
	repo := NewInMemoryToolRepository(nil)
	if err := repo.Register(echoTool("WebSearch")); err != nil {
		t.Fatalf("register err: %v", err)
	}
	if _, ok := repo.GetTool("web_search"); !ok {
		t.Fatal("snake_case alias not registered")
	}
	if _, err := repo.Call(context.Background(), "web_search", []byte("x")); err != nil {
		t.Fatalf("call via alias err: %v", err)
	}
}

func TestListEmptyQueryReturnsAll(t *testing.T) {
	repo := NewInMemoryToolRepository(nil)
	repo.Register(echoTool("alpha"))
	repo.Register(echoTool("beta"))
	got := repo.List("")
	if len(got) != 2 {
		t.Fatalf("list = %d tools, want 2", len(got))
	}
}

func TestListScoresExactMatchFirst(t *testing.T) {
	repo := NewInMemoryToolRepository(nil)
	repo.Register(echoTool("search"))
	repo.Register(echoTool("search_issues"))
	repo.Register(tools.Tool{
		Name:        "unrelated",
		Description: "does search things",
		Handler:     echoTool("x").Handler,
	})

	got := repo.List("search")
	if len(got) < 3 {
		t.Fatalf("list = %d results", len(got))
	}
	if got[0].Name != "search" {
		t.Errorf("first result = %q, want the exact match", got[0].Name)
	}
	last := got[len(got)-1]
	if last.Name != "unrelated" {
		t.Errorf("last result = %q, want the description-only match", last.Name)
	}
}

func TestListCategoryFilter(t *testing.T) {
	repo := NewInMemoryToolRepository(nil)
	repo.Register(echoTool("echo"))
	other := echoTool("deploy")
	other.Category = "ops"
	repo.Register(other)

	got := repo.List("category:ops")
	if len(got) != 1 || got[0].Name != "deploy" {
		t.Fatalf("list = %+v, want only deploy", got)
	}
}

func TestListIncludesAliasCopies(t *testing.T) {
	repo := NewInMemoryToolRepository(nil)
	repo.Register(echoTool("WebSearch"))
	got := repo.List("")
	names := make(map[string]bool)
	for _, tool := range got {
		names[tool.Name] = true
	}
	if !names["WebSearch"] || !names["web_search"] {
		t.Errorf("names = %v, want canonical and alias", names)
	}
}

func TestCallUnknownTool(t *testing.T) {
	repo := NewInMemoryToolRepository(nil)
	_, err := repo.Call(context.Background(), "nope", nil)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestCallBySchemaRef(t *testing.T) {
	repo := NewInMemoryToolRepository(nil)
	tool := echoTool("web_search")
	tool.SchemaRef = "dtcp.dev/acme/tools/acme.tools.v1.WebSearchRequest"
	repo.Register(tool)

	res, err := repo.CallBySchemaRef(context.Background(), tool.SchemaRef, []byte("q"))
	if err != nil {
		t.Fatalf("call err: %v", err)
	}
	if res.Content[0].Text != "q" {
		t.Errorf("result = %+v", res.Content[0])
	}

	if _, err := repo.CallBySchemaRef(context.Background(), "dtcp.dev/acme/tools/Other", nil); err == nil {
		t.Fatal("expected an error for an unknown schema ref")
	}
}

func TestCallBySchemaRefWithoutHandler(t *testing.T) {
	repo := NewInMemoryToolRepository(nil)
	repo.Register(tools.Tool{
		Name:      "bare",
		SchemaRef: "dtcp.dev/acme/tools/acme.tools.v1.BareRequest",
	})

	_, err := repo.CallBySchemaRef(context.Background(), "dtcp.dev/acme/tools/acme.tools.v1.BareRequest", nil)
	if err == nil || !strings.Contains(err.Error(), "no handler") {
		t.Fatalf("err = %v, want a handler error", err)
	}
}

func TestCategories(t *testing.T) {
	repo := NewInMemoryToolRepository(nil)
	repo.Register(echoTool("a"))
	b := echoTool("b")
	b.Category = "ops"
	repo.Register(b)
	got := repo.Categories()
	if len(got) != 2 || got[0] != "ops" || got[1] != "testing" {
		t.Errorf("categories = %v", got)
	}
}
