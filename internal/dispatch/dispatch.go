// Package dispatch implements the JSON-RPC 2.0 tool-call router from
// spec.md §4.9 ("tools/list", "tools/call"), using the tool/result types
// from github.com/mark3labs/mcp-go so tool descriptors and call results stay
// wire-compatible with the broader MCP ecosystem this client talks to.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/semaphore"

	"github.com/xiaoclient/voicecore/internal/errs"
	"github.com/xiaoclient/voicecore/internal/wire"
)

// DefaultConcurrency is the maximum number of tool handlers allowed to run
// at once; additional calls queue (spec.md §4.9).
const DefaultConcurrency = 8

// DefaultDeadline is the per-call execution budget before a handler is
// cancelled and a timeout error is returned.
const DefaultDeadline = 20 * time.Second

// DefaultPageSize is the max tools/list page size.
const DefaultPageSize = 32

// Handler executes one tool call. It must respect ctx cancellation; the
// dispatcher cancels ctx when the call's deadline elapses.
type Handler func(ctx context.Context, arguments json.RawMessage) (*mcp.CallToolResult, error)

// ParamSchema is a minimal JSON-Schema-shaped parameter descriptor used for
// the dispatcher's own validation pass (type/required/bounds), independent
// of whatever schema the handler itself also enforces.
type ParamSchema struct {
	Properties map[string]ParamProperty
	Required   []string
}

// ParamProperty describes one parameter's expected type and optional bounds.
type ParamProperty struct {
	Type string // "string", "number", "integer", "boolean", "object", "array"
	Min  *float64
	Max  *float64
}

// Tool is a registered, name-unique operation the remote model may invoke.
type Tool struct {
	Name        string
	Description string
	Schema      ParamSchema
	Handler     Handler
}

// Dispatcher routes JSON-RPC 2.0 tools/list and tools/call requests against
// an immutable, write-once tool registry (spec.md §4.9: "post-startup
// additions are forbidden").
type Dispatcher struct {
	tools    map[string]*Tool
	ordered  []string // stable name order for tools/list pagination
	started  bool
	mu       sync.Mutex // guards started/registration only, not calls
	sem      *semaphore.Weighted
	deadline time.Duration
}

// New returns a Dispatcher with DefaultConcurrency and DefaultDeadline.
func New() *Dispatcher {
	return &Dispatcher{
		tools:    make(map[string]*Tool),
		sem:      semaphore.NewWeighted(DefaultConcurrency),
		deadline: DefaultDeadline,
	}
}

// Register adds a tool to the table. Panics if called after Start, or with
// a duplicate name — both are programming errors, not runtime conditions.
func (d *Dispatcher) Register(t *Tool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		panic("dispatch: Register called after Start")
	}
	if _, exists := d.tools[t.Name]; exists {
		panic(fmt.Sprintf("dispatch: duplicate tool name %q", t.Name))
	}
	d.tools[t.Name] = t
	d.ordered = append(d.ordered, t.Name)
}

// Start freezes the tool registry. After Start, Register panics.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	sort.Strings(d.ordered)
	d.started = true
	d.mu.Unlock()
}

// Handle routes one parsed JSON-RPC request to its method, blocking until a
// response is ready. Malformed params, validation failures and dispatch
// errors all come back as populated error responses; Handle has no error
// return.
func (d *Dispatcher) Handle(ctx context.Context, req wire.Request) wire.Response {
	switch req.Method {
	case "tools/list":
		return d.handleList(req)
	case "tools/call":
		return d.handleCall(ctx, req)
	default:
		return wire.NewError(req.ID, wire.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

type listParams struct {
	Cursor   string `json:"cursor"`
	PageSize int    `json:"page_size"`
}

type listResult struct {
	Tools      []mcp.Tool `json:"tools"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

func (d *Dispatcher) handleList(req wire.Request) wire.Response {
	var p listParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return wire.NewError(req.ID, wire.CodeInvalidParams, "invalid params: "+err.Error())
		}
	}
	pageSize := p.PageSize
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}

	start := 0
	if p.Cursor != "" {
		for i, name := range d.ordered {
			if name == p.Cursor {
				start = i
				break
			}
		}
	}

	end := start + pageSize
	if end > len(d.ordered) {
		end = len(d.ordered)
	}

	var page []mcp.Tool
	for _, name := range d.ordered[start:end] {
		t := d.tools[name]
		page = append(page, mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: toInputSchema(t.Schema),
		})
	}

	var next string
	if end < len(d.ordered) {
		next = d.ordered[end]
	}

	return wire.NewResult(req.ID, listResult{Tools: page, NextCursor: next})
}

func toInputSchema(s ParamSchema) mcp.ToolInputSchema {
	props := make(map[string]interface{}, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = map[string]interface{}{"type": p.Type}
	}
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   s.Required,
	}
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (d *Dispatcher) handleCall(ctx context.Context, req wire.Request) wire.Response {
	var p callParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return wire.NewError(req.ID, wire.CodeInvalidParams, "invalid params: "+err.Error())
	}

	t, ok := d.tools[p.Name]
	if !ok {
		return wire.NewError(req.ID, wire.CodeMethodNotFound, "unknown tool: "+p.Name)
	}

	if err := validate(t.Schema, p.Arguments); err != nil {
		return wire.NewError(req.ID, wire.CodeInvalidParams, err.Error())
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return wire.NewError(req.ID, wire.CodeServerError, "dispatcher shutting down")
	}
	defer d.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	result, err := t.Handler(callCtx, p.Arguments)
	if err != nil {
		if callCtx.Err() != nil {
			return wire.NewError(req.ID, wire.CodeServerError, errs.ErrToolTimeout.Error())
		}
		return wire.NewError(req.ID, wire.CodeServerError, "handler error")
	}

	return wire.NewResult(req.ID, result)
}

// validate applies the dispatcher's own type/required/bounds checks against
// raw JSON arguments, independent of a handler's internal validation.
func validate(schema ParamSchema, raw json.RawMessage) error {
	if len(schema.Properties) == 0 {
		return nil
	}

	var args map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("%w: arguments is not a JSON object: %v", errs.ErrInvalidParams, err)
		}
	}

	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("%w: missing required parameter %q", errs.ErrInvalidParams, name)
		}
	}

	for name, v := range args {
		prop, ok := schema.Properties[name]
		if !ok {
			continue // unknown extra parameters are tolerated
		}
		if err := checkType(name, v, prop); err != nil {
			return err
		}
	}

	return nil
}

func checkType(name string, v any, prop ParamProperty) error {
	switch prop.Type {
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("%w: %q must be a string", errs.ErrInvalidParams, name)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%w: %q must be a boolean", errs.ErrInvalidParams, name)
		}
	case "number", "integer":
		n, ok := v.(float64)
		if !ok {
			return fmt.Errorf("%w: %q must be a number", errs.ErrInvalidParams, name)
		}
		if prop.Min != nil && n < *prop.Min {
			return fmt.Errorf("%w: %q below minimum %v", errs.ErrInvalidParams, name, *prop.Min)
		}
		if prop.Max != nil && n > *prop.Max {
			return fmt.Errorf("%w: %q above maximum %v", errs.ErrInvalidParams, name, *prop.Max)
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("%w: %q must be an object", errs.ErrInvalidParams, name)
		}
	case "array":
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("%w: %q must be an array", errs.ErrInvalidParams, name)
		}
	}
	return nil
}
