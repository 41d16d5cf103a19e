// Package tools defines the tool abstraction, the registry, and the
// executor that runs tool calls with coercion, repeat-failure
// interception, and result refinement.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/nanobot/internal/providers"
)

// Tool is the interface every executable tool implements.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// Result is the unified return type from tool execution.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	// Remedy is an actionable suggestion appended to the output the LLM
	// sees when the call failed.
	Remedy                   string `json:"remedy,omitempty"`
	Severity                 string `json:"severity,omitempty"` // "transient", "warning", "error", "critical"
	ShouldRetry              bool   `json:"should_retry,omitempty"`
	RequiresUserConfirmation bool   `json:"requires_user_confirmation,omitempty"`
	Err                      error  `json:"-"`
}

func OkResult(output string) *Result {
	return &Result{Success: true, Output: output}
}

func ErrorResult(output string) *Result {
	return &Result{Success: false, Output: output, Severity: "error"}
}

func (r *Result) WithRemedy(remedy string) *Result {
	r.Remedy = remedy
	return r
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

// ContextAware tools receive the current delivery context before a turn
// so stateful tools (message senders, session tools) know where replies
// should land.
type ContextAware interface {
	SetDeliveryContext(channel, chatID, sessionKey, traceID string)
}

// Registry holds registered tools by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the OpenAI function schemas for all tools.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// SetDeliveryContext propagates the current delivery context to every
// context-aware tool.
func (r *Registry) SetDeliveryContext(channel, chatID, sessionKey, traceID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if ca, ok := t.(ContextAware); ok {
			ca.SetDeliveryContext(channel, chatID, sessionKey, traceID)
		}
	}
}

// Description returns a tool's description, or "" when unknown.
func (r *Registry) Description(name string) string {
	if t, ok := r.Get(name); ok {
		return t.Description()
	}
	return ""
}
