package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/tools"
)

// InMemoryToolRepository is a transport-agnostic registry of tools. It is
// shared by every connection's handler, so all access goes through one
// mutex.
type InMemoryToolRepository struct {
	mu               sync.RWMutex
	tools            map[string]tools.Tool
	aliases          map[string]string
	canonicalAliases map[string][]string
	logger           func(format string, args ...interface{})
}

// NewInMemoryToolRepository creates an empty repository with an optional
// logger.
func NewInMemoryToolRepository(logger func(format string, args ...interface{})) *InMemoryToolRepository {
	if logger == nil {
		logger = func(format string, args ...interface{}) {}
	}
	return &InMemoryToolRepository{
		tools:            make(map[string]tools.Tool),
		aliases:          make(map[string]string),
		canonicalAliases: make(map[string][]string),
		logger:           logger,
	}
}

// Register adds a tool. CamelCase names automatically gain a snake_case
// alias so loosely-written clients still find them.
func (r *InMemoryToolRepository) Register(t tools.Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	if alias := snakeCaseName(t.Name); alias != t.Name {
		if err := r.registerAliasLocked(t.Name, alias); err != nil {
			r.logger("repository: alias %q for %q not registered: %v", alias, t.Name, err)
		}
	}
	return nil
}

// RegisterAlias maps an alternate name onto a registered tool.
func (r *InMemoryToolRepository) RegisterAlias(canonical, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerAliasLocked(canonical, alias)
}

func (r *InMemoryToolRepository) registerAliasLocked(canonical, alias string) error {
	if canonical == "" || alias == "" {
		return fmt.Errorf("canonical and alias names must be non-empty")
	}
	if _, ok := r.tools[canonical]; !ok {
		return fmt.Errorf("canonical tool %q is not registered", canonical)
	}
	if _, ok := r.tools[alias]; ok {
		return fmt.Errorf("alias %q conflicts with an existing tool name", alias)
	}
	if existing, ok := r.aliases[alias]; ok {
		return fmt.Errorf("alias %q already mapped to %q", alias, existing)
	}
	r.aliases[alias] = canonical
	r.canonicalAliases[canonical] = append(r.canonicalAliases[canonical], alias)
	return nil
}

// GetTool looks up a tool by name, resolving aliases.
func (r *InMemoryToolRepository) GetTool(name string) (tools.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	t, ok := r.tools[name]
	return t, ok
}

type scoredTool struct {
	tool  tools.Tool
	score int
}

// List returns tools matching the query. An empty query returns
// everything; a "category:" prefix filters by category; free text is
// relevance-scored across names, aliases, tags, and descriptions.
// Alias copies are included so callers see snake_case names too.
func (r *InMemoryToolRepository) List(query string) []tools.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	queryLower := strings.ToLower(strings.TrimSpace(query))
	var categoryFilter string
	if strings.HasPrefix(queryLower, "category:") {
		categoryFilter = strings.TrimSpace(queryLower[len("category:"):])
		queryLower = ""
	}

	var results []scoredTool
	for name, t := range r.tools {
		if categoryFilter != "" && strings.ToLower(t.Category) != categoryFilter {
			continue
		}
		aliases := r.canonicalAliases[name]
		score := scoreMatch(t, aliases, queryLower)
		if score == 0 && queryLower != "" {
			continue
		}
		if queryLower == "" {
			score = 1
		}
		results = append(results, scoredTool{tool: t, score: score})
		for _, alias := range aliases {
			clone := t
			clone.Name = alias
			results = append(results, scoredTool{tool: clone, score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].tool.Name < results[j].tool.Name
	})

	out := make([]tools.Tool, len(results))
	for i, s := range results {
		out[i] = s.tool
	}
	return out
}

// scoreMatch tiers: 100 exact name, 80 name prefix, 60 name contains,
// 40 tag or category, 20 description.
func scoreMatch(t tools.Tool, aliases []string, queryLower string) int {
	if queryLower == "" {
		return 0
	}
	names := append([]string{t.Name}, aliases...)
	for _, n := range names {
		if strings.ToLower(n) == queryLower {
			return 100
		}
	}
	for _, n := range names {
		if strings.HasPrefix(strings.ToLower(n), queryLower) {
			return 80
		}
	}
	for _, n := range names {
		if strings.Contains(strings.ToLower(n), queryLower) {
			return 60
		}
	}
	if strings.Contains(strings.ToLower(t.Category), queryLower) {
		return 40
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), queryLower) {
			return 40
		}
	}
	if strings.Contains(strings.ToLower(t.Description), queryLower) {
		return 20
	}
	return 0
}

// Call invokes a tool by name with serialized arguments.
func (r *InMemoryToolRepository) Call(ctx context.Context, name string, args []byte) (*tools.Result, error) {
	t, ok := r.GetTool(name)
	if !ok {
		return nil, fmt.Errorf("tool %q not found", name)
	}
	if t.Handler == nil {
		return nil, fmt.Errorf("tool %q has no handler", name)
	}
	start := time.Now()
	res, err := t.Handler(ctx, args)
	r.logger("repository: call tool=%s duration_ms=%d error=%t", t.Name, time.Since(start).Milliseconds(), err != nil)
	return res, err
}

// CallBySchemaRef invokes the tool whose advertised schema reference
// matches ref.
func (r *InMemoryToolRepository) CallBySchemaRef(ctx context.Context, ref string, args []byte) (*tools.Result, error) {
	if ref == "" {
		return nil, fmt.Errorf("schema reference is required")
	}
	r.mu.RLock()
	var match *tools.Tool
	for _, t := range r.tools {
		if t.SchemaRef == ref {
			match = &t
			break
		}
	}
	r.mu.RUnlock()
	if match == nil {
		return nil, fmt.Errorf("no tool found for schema reference %q", ref)
	}
	if match.Handler == nil {
		return nil, fmt.Errorf("tool %q has no handler", match.Name)
	}
	start := time.Now()
	res, err := match.Handler(ctx, args)
	r.logger("repository: call tool=%s duration_ms=%d error=%t", match.Name, time.Since(start).Milliseconds(), err != nil)
	return res, err
}

// Categories returns the sorted, deduplicated category names in use.
func (r *InMemoryToolRepository) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, t := range r.tools {
		if t.Category != "" {
			seen[t.Category] = true
		}
	}
	cats := make([]string, 0, len(seen))
	for c := range seen {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

func snakeCaseName(name string) string {
	hasUpper := false
	for i := 0; i < len(name); i++ {
		if name[i] >= 'A' && name[i] <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return name
	}
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if ch >= 'A' && ch <= 'Z' {
			if i > 0 && name[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteByte(ch + ('a' - 'A'))
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}
