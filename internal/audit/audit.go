// Package audit appends structured runtime events to a JSONL log and
// reads them back for health reporting.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types recorded in the audit log.
const (
	TypeToolStart         = "tool_start"
	TypeToolEnd           = "tool_end"
	TypeTurnEnd           = "turn_end"
	TypeCronStart         = "cron_start"
	TypeCronComplete      = "cron_complete"
	TypeCronError         = "cron_error"
	TypeHeartbeatStart    = "heartbeat_start"
	TypeHeartbeatComplete = "heartbeat_complete"
	TypeHeartbeatError    = "heartbeat_error"
)

// Event is one audit log line. TS and Type are always set; the rest
// depends on the event type.
type Event struct {
	TS         time.Time `json:"ts"`
	Type       string    `json:"type"`
	Tool       string    `json:"tool,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Status     string    `json:"status,omitempty"` // "ok", "error", "timeout"
	DurationS  float64   `json:"duration_s,omitempty"`
	ResultLen  int       `json:"result_len,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Logger appends events to a JSONL file. A nil Logger discards events.
type Logger struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewLogger creates an audit logger writing to path. Empty path
// disables writes.
func NewLogger(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

// Log appends one event; failures are silent since audit must never
// break the caller.
func (l *Logger) Log(ev Event) {
	if l == nil || l.path == "" {
		return
	}
	if ev.TS.IsZero() {
		ev.TS = l.now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(append(data, '\n'))
}

// Tail returns the last n events, oldest first. Unparseable lines are
// skipped.
func (l *Logger) Tail(n int) []Event {
	if l == nil || l.path == "" || n <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
		if len(events) > n*4 && len(events) > 4096 {
			events = events[len(events)-n:]
		}
	}
	if len(events) > n {
		events = events[len(events)-n:]
	}
	return events
}

// ToolHealth summarizes recent tool executions per tool.
type ToolHealth struct {
	Tool      string  `json:"tool"`
	Calls     int     `json:"calls"`
	Errors    int     `json:"errors"`
	AvgDurS   float64 `json:"avg_dur_s"`
	LastError string  `json:"last_error,omitempty"`
}

// ToolHealthReport aggregates tool_end events from the recent tail.
func (l *Logger) ToolHealthReport(tailSize int) map[string]*ToolHealth {
	report := make(map[string]*ToolHealth)
	for _, ev := range l.Tail(tailSize) {
		if ev.Type != TypeToolEnd || ev.Tool == "" {
			continue
		}
		h, ok := report[ev.Tool]
		if !ok {
			h = &ToolHealth{Tool: ev.Tool}
			report[ev.Tool] = h
		}
		h.Calls++
		h.AvgDurS += ev.DurationS
		if ev.Status != "ok" {
			h.Errors++
			h.LastError = ev.Detail
		}
	}
	for _, h := range report {
		if h.Calls > 0 {
			h.AvgDurS /= float64(h.Calls)
		}
	}
	return report
}
