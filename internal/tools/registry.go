// Package tools is SubZero's tool runtime: a closed set of tool kinds
// with safety tiers, a registry binding each kind to its handler, and
// an executor that applies tier policy to parsed tool calls and
// formats the results for the next conversation turn.
package tools

import (
	"context"
	"fmt"
	"strings"
)

// Handler performs one tool's side effect. Handlers never panic and
// never return errors directly; every failure is a Result with
// Success false.
type Handler func(ctx context.Context, params map[string]string) Result

// Param documents one parameter of a tool for the system prompt.
type Param struct {
	Name string `json:"name"`
	Hint string `json:"hint"`
}

// Descriptor binds a tool kind to its documentation and handler.
type Descriptor struct {
	Kind        Kind
	Description string
	Params      []Param
	Handler     Handler
}

// Name returns the wire name of the tool.
func (d *Descriptor) Name() string { return d.Kind.String() }

// Tier returns the safety tier of the tool.
func (d *Descriptor) Tier() Tier { return d.Kind.Tier() }

// Registry is the immutable set of tools available to an executor.
type Registry struct {
	descs [kindCount]*Descriptor
	n     int
}

// NewRegistry builds a registry from descriptors. Each kind may appear
// at most once and every descriptor needs a handler.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{}
	for i := range descs {
		d := descs[i]
		if !d.Kind.Valid() {
			return nil, fmt.Errorf("descriptor %d: invalid kind %d", i, d.Kind)
		}
		if d.Handler == nil {
			return nil, fmt.Errorf("tool %s: nil handler", d.Kind)
		}
		if r.descs[d.Kind] != nil {
			return nil, fmt.Errorf("tool %s registered twice", d.Kind)
		}
		r.descs[d.Kind] = &d
		r.n++
	}
	return r, nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	k, ok := KindOf(name)
	if !ok {
		return nil, false
	}
	d := r.descs[k]
	return d, d != nil
}

// Descriptors returns the registered tools in kind order.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, r.n)
	for _, d := range r.descs {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

// Names returns the registered tool names in kind order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.n)
	for _, d := range r.Descriptors() {
		names = append(names, d.Name())
	}
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return r.n }

// List returns tool metadata for API responses.
func (r *Registry) List() []map[string]any {
	out := make([]map[string]any, 0, r.n)
	for _, d := range r.Descriptors() {
		out = append(out, map[string]any{
			"name":        d.Name(),
			"description": d.Description,
			"tier":        d.Tier().String(),
			"params":      d.Params,
		})
	}
	return out
}

// SystemPrompt renders the tool instructions embedded in the model's
// prompt. The output depends only on the registered descriptors.
func (r *Registry) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You have access to autonomous tools. To use a tool, write on its own line:\n")
	b.WriteString(`@tool tool_name param1="value1" param2="value2"` + "\n\n")
	b.WriteString("For multi-line content (like file writes), use a content block:\n")
	b.WriteString(`@tool file_write path="app.py"` + "\n")
	b.WriteString("```\nprint('hello world')\n```\n\n")
	b.WriteString("Available tools:\n")

	for _, d := range r.Descriptors() {
		params := "(no params)"
		if len(d.Params) > 0 {
			parts := make([]string, len(d.Params))
			for i, p := range d.Params {
				parts[i] = fmt.Sprintf("%s=%q", p.Name, p.Hint)
			}
			params = strings.Join(parts, " ")
		}
		fmt.Fprintf(&b, "  @tool %s %s  - %s\n", d.Name(), params, d.Description)
	}

	b.WriteString("\nRULES:\n")
	b.WriteString("- You can use multiple tools in one response\n")
	b.WriteString("- Tool results will be shown to you so you can chain actions\n")
	b.WriteString("- For web browsing: open URL first, then read/click/type as needed\n")
	b.WriteString("- For trading: quote first, then buy/sell (paper mode by default)\n")
	b.WriteString("- Always explain what you're doing before using tools")
	return b.String()
}
