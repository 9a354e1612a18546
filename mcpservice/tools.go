package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/docfork/docfork-mcp/mcp"
	"github.com/invopop/jsonschema"
)

// ToolHandler is the function signature used to handle a tool invocation.
// A returned error is reported to the client as an error result.
type ToolHandler func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest is the container for tool call input and request metadata.
// It is generic over the typed argument struct A.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	title                     string
	description               string
	readOnly                  bool
	argDescriptions           map[string]string
	allowAdditionalProperties bool // default false (strict)
}

// WithToolTitle sets the human-readable tool title.
func WithToolTitle(title string) ToolOption {
	return func(c *toolConfig) { c.title = title }
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolReadOnly marks the tool as free of side effects.
func WithToolReadOnly() ToolOption {
	return func(c *toolConfig) { c.readOnly = true }
}

// WithArgDescription sets the description of one input property. It is
// meant for prose too long or punctuated for a struct tag.
func WithArgDescription(name, desc string) ToolOption {
	return func(c *toolConfig) {
		if c.argDescriptions == nil {
			c.argDescriptions = make(map[string]string)
		}
		c.argDescriptions[name] = desc
	}
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a writer-based tool with typed input A. The input schema
// is reflected from A and arguments are decoded into A before fn runs.
func NewTool[A any](name string, fn func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	desc := mcp.Tool{
		Name:        name,
		Title:       cfg.title,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](cfg),
	}
	if cfg.readOnly {
		desc.Annotations = &mcp.ToolAnnotations{ReadOnlyHint: true}
	}

	handler := func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var a A
		if len(req.Arguments) > 0 && string(req.Arguments) != "null" {
			dec := json.NewDecoder(bytes.NewReader(req.Arguments))
			if !cfg.allowAdditionalProperties {
				dec.DisallowUnknownFields()
			}
			if err := dec.Decode(&a); err != nil {
				return Errorf("invalid arguments: %v", err), nil
			}
		}
		w := newToolResponseWriter(ctx)
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}
		if err := fn(ctx, w, r); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// reflectInputSchema reflects A into an inline object schema.
func reflectInputSchema[A any](cfg toolConfig) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: cfg.allowAdditionalProperties,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return &jsonschema.Schema{Type: "object", Properties: jsonschema.NewProperties()}
	}
	s.Version = ""
	s.ID = ""
	if s.Properties == nil {
		s.Properties = jsonschema.NewProperties()
	}
	for name, d := range cfg.argDescriptions {
		if prop, ok := s.Properties.Get(name); ok && prop != nil {
			prop.Description = d
		}
	}
	return s
}

// TextResult returns a CallToolResult with a single text block.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}

// ToolsContainer owns an ordered, threadsafe set of tool descriptors and
// handlers.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool             // descriptors for listing
	handlers map[string]ToolHandler // name -> handler

	pageSize int
}

// NewToolsContainer constructs a container with the given tool definitions.
// A later definition replaces an earlier one with the same name.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	c := &ToolsContainer{pageSize: 50, handlers: make(map[string]ToolHandler)}
	for _, d := range defs {
		c.add(d)
	}
	return c
}

func (c *ToolsContainer) add(d StaticTool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.handlers[d.Descriptor.Name]; exists {
		for i := range c.tools {
			if c.tools[i].Name == d.Descriptor.Name {
				c.tools[i] = d.Descriptor
			}
		}
	} else {
		c.tools = append(c.tools, d.Descriptor)
	}
	c.handlers[d.Descriptor.Name] = d.Handler
}

// SetPageSize sets the pagination size used by Page.
func (c *ToolsContainer) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.pageSize = n
	c.mu.Unlock()
}

// Snapshot returns a copy of the tool descriptors in registration order.
func (c *ToolsContainer) Snapshot() []mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mcp.Tool(nil), c.tools...)
}

// Page returns the tools starting at cursor and the cursor of the next page,
// which is empty on the last page. Unparseable cursors start from the top.
func (c *ToolsContainer) Page(cursor string) ([]mcp.Tool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := parseCursor(cursor)
	if start >= len(c.tools) {
		return []mcp.Tool{}, ""
	}
	end := start + c.pageSize
	if end > len(c.tools) {
		end = len(c.tools)
	}
	items := append([]mcp.Tool(nil), c.tools[start:end]...)
	if end < len(c.tools) {
		return items, strconv.Itoa(end)
	}
	return items, ""
}

// Handler returns the handler registered for name.
func (c *ToolsContainer) Handler(name string) (ToolHandler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[name]
	return h, ok
}

func parseCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
