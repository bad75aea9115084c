// Package outreach exposes the marketing-automation REST API as MCP tools: campaigns, leads,
// analytics, webhooks and sending email accounts.
package outreach

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MegaGrindStone/go-mcp-outreach"
	"github.com/MegaGrindStone/go-mcp-outreach/metrics"
	"github.com/MegaGrindStone/go-mcp-outreach/servers/outreach/upstream"
)

// Backend performs upstream calls. *upstream.Client implements it.
type Backend interface {
	Invoke(ctx context.Context, req upstream.Request) (upstream.Result, error)
}

// Server dispatches tool calls to the upstream API. It implements mcp.ToolServer and is safe
// for concurrent use by any number of sessions.
type Server struct {
	registry *Registry
	routes   map[string]route
	backend  Backend

	logger  *slog.Logger
	metrics metrics.Recorder
}

// ServerOption represents the options for the Server.
type ServerOption func(*Server)

type toolCall struct {
	name     string
	args     map[string]any
	progress mcp.ProgressReporter
}

var (
	// ErrUnknownTool is returned for a tool name missing from the registry.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments is returned when the arguments of a call can't be used, e.g. a required
	// property is missing.
	ErrInvalidArguments = errors.New("invalid arguments")
)

const (
	errorPrefix = "Error: "

	unknownToolLabel = "unknown"
)

// WithLogger sets the logger of the Server.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "outreach"))
	}
}

// WithMetrics sets the metrics recorder of the Server.
func WithMetrics(recorder metrics.Recorder) ServerOption {
	return func(s *Server) {
		s.metrics = recorder
	}
}

// NewServer creates a Server serving the whole tool catalog through backend. Every tool is
// bound to exactly one route, and every path parameter of a route is a required property of
// its tool.
func NewServer(backend Backend, options ...ServerOption) (*Server, error) {
	registry, err := NewRegistry(toolList...)
	if err != nil {
		return nil, err
	}
	return newServer(registry, routes, backend, options...)
}

func newServer(registry *Registry, routes map[string]route, backend Backend, options ...ServerOption) (*Server, error) {
	if backend == nil {
		return nil, errors.New("nil backend")
	}

	var errs []error
	for _, tool := range registry.Tools() {
		r, ok := routes[tool.Name]
		if !ok {
			errs = append(errs, fmt.Errorf("tool %q has no route", tool.Name))
			continue
		}
		_, required, _ := registry.Lookup(tool.Name)
		for _, param := range r.pathParams() {
			if !slices.Contains(required, param) {
				errs = append(errs, fmt.Errorf("tool %q: path parameter %q is not required", tool.Name, param))
			}
		}
	}
	for name := range routes {
		if _, _, ok := registry.Lookup(name); !ok {
			errs = append(errs, fmt.Errorf("route %q has no tool", name))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid tool routes: %w", errors.Join(errs...))
	}

	s := &Server{
		registry: registry,
		routes:   routes,
		backend:  backend,
		logger:   slog.Default(),
		metrics:  metrics.NoOpRecorder{},
	}
	for _, opt := range options {
		opt(s)
	}

	return s, nil
}

// ListTools implements mcp.ToolServer interface.
// The whole catalog is returned in a single page, always in the same order.
func (s *Server) ListTools(context.Context, mcp.ListToolsParams) (mcp.ListToolsResult, error) {
	return mcp.ListToolsResult{Tools: s.registry.Tools()}, nil
}

// CallTool implements mcp.ToolServer interface.
//
// Every failure, including unknown tools and invalid arguments, is reported as a single text
// content block prefixed with "Error: " and IsError set; the returned error is always nil.
func (s *Server) CallTool(
	ctx context.Context,
	params mcp.CallToolParams,
	progress mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	start := time.Now()

	text, err := s.call(ctx, params, progress)

	label := params.Name
	if errors.Is(err, ErrUnknownTool) {
		label = unknownToolLabel
	}
	duration := time.Since(start)
	s.metrics.RecordToolCall(label, err == nil, duration.Seconds())

	if err != nil {
		s.logger.Warn("tool call failed",
			slog.String("tool", params.Name),
			slog.Duration("duration", duration),
			slog.String("err", err.Error()))

		return mcp.CallToolResult{
			Content: []mcp.Content{
				{
					Type: mcp.ContentTypeText,
					Text: errorPrefix + err.Error(),
				},
			},
			IsError: true,
		}, nil
	}

	s.logger.Debug("tool call succeeded",
		slog.String("tool", params.Name),
		slog.Duration("duration", duration))

	return mcp.CallToolResult{
		Content: []mcp.Content{
			{
				Type: mcp.ContentTypeText,
				Text: text,
			},
		},
	}, nil
}

func (s *Server) call(ctx context.Context, params mcp.CallToolParams, progress mcp.ProgressReporter) (string, error) {
	r, ok := s.routes[params.Name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, params.Name)
	}
	_, required, ok := s.registry.Lookup(params.Name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, params.Name)
	}

	args, err := decodeArguments(params.Arguments)
	if err != nil {
		return "", err
	}

	var missing []string
	for _, prop := range required {
		if v, ok := args[prop]; !ok || v == nil {
			missing = append(missing, prop)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing required properties for %s: %s",
			ErrInvalidArguments, params.Name, strings.Join(missing, ", "))
	}

	if progress == nil {
		progress = func(mcp.ProgressParams) {}
	}

	handle := r.handle
	if handle == nil {
		handle = forward
	}
	return handle(ctx, s, r.endpoint, toolCall{name: params.Name, args: args, progress: progress})
}

// decodeArguments decodes the arguments of a call, keeping numbers as json.Number so large
// identifiers are forwarded unchanged.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return args, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("%w: arguments must be a JSON object: %w", ErrInvalidArguments, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// forward sends the arguments to the endpoint of the tool in a single call.
func forward(ctx context.Context, s *Server, ep endpoint, call toolCall) (string, error) {
	req, err := ep.request(call.args)
	if err != nil {
		return "", err
	}

	res, err := s.backend.Invoke(ctx, req)
	if err != nil {
		return "", err
	}

	return formatResult(res)
}
