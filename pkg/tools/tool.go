// Package tools implements the market-data query tools and the registry
// that exposes them. Every tool reads through the distributed cache: key
// and TTL come from the cache strategy, upstream fetches happen only on a
// miss, and each result reports its cache status.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/whdghk1907/mcp-price-ranking/pkg/kisclient"
)

// Parameter describes one tool parameter for schema publication.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// Schema is a tool's published shape.
type Schema struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// Tool is a named market-data query with a declared parameter schema.
type Tool interface {
	Name() string
	Description() string
	Schema() Schema
	Execute(ctx context.Context, params map[string]any) (map[string]any, error)
}

// Registry holds registered tools. It is an explicit instance, wired into
// the server at startup; there is no package-level registry.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool under a key. Registering a duplicate key fails.
func (r *Registry) Register(key string, tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[key]; exists {
		return fmt.Errorf("tool %q is already registered", key)
	}
	r.tools[key] = tool
	r.logger.Info().Str("key", key).Str("tool", tool.Name()).Msg("Tool registered")
	return nil
}

// Get returns the tool registered under key, or nil.
func (r *Registry) Get(key string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[key]
}

// List returns all registered tool keys, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.tools))
	for k := range r.tools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Schemas returns the schemas of all registered tools, ordered by key.
func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.tools))
	for k := range r.tools {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	schemas := make([]Schema, 0, len(keys))
	for _, k := range keys {
		schemas = append(schemas, r.tools[k].Schema())
	}
	return schemas
}

// Unregister removes a tool, reporting whether it was registered.
func (r *Registry) Unregister(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[key]; !exists {
		return false
	}
	delete(r.tools, key)
	r.logger.Info().Str("key", key).Msg("Tool unregistered")
	return true
}

// Clear removes all tools.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]Tool)
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Parameter extraction helpers. JSON-decoded parameters arrive with
// float64 numbers; the helpers normalize and validate before any I/O.

func stringParam(params map[string]any, key, def string, enum ...string) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		raw = def
	}
	s, ok := raw.(string)
	if !ok {
		return "", &kisclient.ValidationError{Field: key, Message: "must be a string"}
	}
	if len(enum) > 0 {
		for _, e := range enum {
			if s == e {
				return s, nil
			}
		}
		return "", &kisclient.ValidationError{Field: key, Message: fmt.Sprintf("must be one of %v", enum)}
	}
	return s, nil
}

func intParam(params map[string]any, key string, def, min, max int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}

	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case float64:
		if v != float64(int(v)) {
			return 0, &kisclient.ValidationError{Field: key, Message: "must be an integer"}
		}
		n = int(v)
	default:
		return 0, &kisclient.ValidationError{Field: key, Message: "must be an integer"}
	}

	if n < min || n > max {
		return 0, &kisclient.ValidationError{Field: key, Message: fmt.Sprintf("must be between %d and %d", min, max)}
	}
	return n, nil
}

func boolParam(params map[string]any, key string, def bool) (bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, &kisclient.ValidationError{Field: key, Message: "must be a boolean"}
	}
	return b, nil
}

func stringSliceParam(params map[string]any, key string, minLen, maxLen int) ([]string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, &kisclient.ValidationError{Field: key, Message: "is required"}
	}

	var out []string
	switch v := raw.(type) {
	case []string:
		out = v
	case []any:
		out = make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &kisclient.ValidationError{Field: key, Message: "must be a list of strings"}
			}
			out = append(out, s)
		}
	default:
		return nil, &kisclient.ValidationError{Field: key, Message: "must be a list of strings"}
	}

	if len(out) < minLen || len(out) > maxLen {
		return nil, &kisclient.ValidationError{Field: key, Message: fmt.Sprintf("must contain between %d and %d items", minLen, maxLen)}
	}
	return out, nil
}
