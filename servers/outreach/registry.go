package outreach

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/xeipuuv/gojsonschema"

	"github.com/MegaGrindStone/go-mcp-outreach"
)

// Registry is the immutable catalog of tool descriptors. It is safe for concurrent use.
type Registry struct {
	tools    []mcp.Tool
	required map[string][]string
}

type inputSchema struct {
	Type     any      `json:"type"`
	Required []string `json:"required"`
}

// NewRegistry validates the descriptors and builds a Registry keeping their order. Every input
// schema must compile as JSON Schema and describe an object; names must be unique.
func NewRegistry(tools ...mcp.Tool) (*Registry, error) {
	r := &Registry{
		tools:    make([]mcp.Tool, 0, len(tools)),
		required: make(map[string][]string, len(tools)),
	}

	var errs []error
	for _, tool := range tools {
		if tool.Name == "" {
			errs = append(errs, errors.New("tool without a name"))
			continue
		}
		if _, ok := r.required[tool.Name]; ok {
			errs = append(errs, fmt.Errorf("duplicate tool %q", tool.Name))
			continue
		}

		required, err := parseInputSchema(tool.InputSchema)
		if err != nil {
			errs = append(errs, fmt.Errorf("tool %q: %w", tool.Name, err))
			continue
		}

		r.tools = append(r.tools, tool)
		r.required[tool.Name] = required
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid tool catalog: %w", errors.Join(errs...))
	}

	return r, nil
}

// Tools returns the descriptors in registration order. The returned slice is a copy and may be
// modified by the caller.
func (r *Registry) Tools() []mcp.Tool {
	tools := make([]mcp.Tool, len(r.tools))
	for i, tool := range r.tools {
		tools[i] = tool
		tools[i].InputSchema = slices.Clone(tool.InputSchema)
	}
	return tools
}

// Lookup returns the descriptor of the named tool and the names of its required properties.
func (r *Registry) Lookup(name string) (mcp.Tool, []string, bool) {
	required, ok := r.required[name]
	if !ok {
		return mcp.Tool{}, nil, false
	}
	idx := slices.IndexFunc(r.tools, func(t mcp.Tool) bool { return t.Name == name })
	return r.tools[idx], slices.Clone(required), true
}

func parseInputSchema(schema json.RawMessage) ([]string, error) {
	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema)); err != nil {
		return nil, fmt.Errorf("failed to compile input schema: %w", err)
	}

	var s inputSchema
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil, fmt.Errorf("failed to parse input schema: %w", err)
	}
	if s.Type != "object" {
		return nil, fmt.Errorf("input schema type must be \"object\", got %v", s.Type)
	}

	return s.Required, nil
}
