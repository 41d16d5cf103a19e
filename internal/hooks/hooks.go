// Package hooks is a typed event bus for tool and turn lifecycle events.
// Handlers are plain closures; the dispatcher isolates handler failures so
// one broken hook never affects the tool call or the remaining handlers.
package hooks

import "log/slog"

// Event identifies a lifecycle point.
type Event string

const (
	ToolBefore         Event = "tool_before"
	ToolAfter          Event = "tool_after"
	ToolError          Event = "tool_error"
	TurnIterationStart Event = "turn_iteration_start"
	TurnIterationEnd   Event = "turn_iteration_end"
	TurnEnd            Event = "turn_end"
)

// ToolPayload accompanies tool_* events.
type ToolPayload struct {
	Tool     string
	Params   map[string]any
	CallHash string

	// Set on tool_after.
	Success  bool
	Severity string
	Blocked  bool

	// Set on tool_error.
	Err error
}

// TurnPayload accompanies turn_* events.
type TurnPayload struct {
	TraceID    string
	SessionKey string
	Iteration  int
	Status     string // "final_text", "tool_round_completed", "forced_summary", ...
}

// ToolHandler observes a tool lifecycle event.
type ToolHandler func(ev Event, p ToolPayload)

// TurnHandler observes a turn lifecycle event.
type TurnHandler func(ev Event, p TurnPayload)

// Registry holds registered handlers. Safe to populate at startup; emission
// happens from the runtime's worker goroutines.
type Registry struct {
	tool map[Event][]ToolHandler
	turn map[Event][]TurnHandler
}

func NewRegistry() *Registry {
	return &Registry{
		tool: make(map[Event][]ToolHandler),
		turn: make(map[Event][]TurnHandler),
	}
}

// OnTool registers a handler for a tool event.
func (r *Registry) OnTool(ev Event, h ToolHandler) {
	r.tool[ev] = append(r.tool[ev], h)
}

// OnTurn registers a handler for a turn event.
func (r *Registry) OnTurn(ev Event, h TurnHandler) {
	r.turn[ev] = append(r.turn[ev], h)
}

// EmitTool dispatches a tool event to all handlers, recovering panics per
// handler.
func (r *Registry) EmitTool(ev Event, p ToolPayload) {
	if r == nil {
		return
	}
	for _, h := range r.tool[ev] {
		emitIsolated(string(ev), func() { h(ev, p) })
	}
}

// EmitTurn dispatches a turn event to all handlers, recovering panics per
// handler.
func (r *Registry) EmitTurn(ev Event, p TurnPayload) {
	if r == nil {
		return
	}
	for _, h := range r.turn[ev] {
		emitIsolated(string(ev), func() { h(ev, p) })
	}
}

func emitIsolated(event string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("hooks: handler panicked", "event", event, "panic", rec)
		}
	}()
	fn()
}
