package incident

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	defaultDedupeWindow      = 30 * time.Minute
	defaultEscalateThreshold = 3

	// maxPersistedFailures bounds the durable failure log to a tail.
	maxPersistedFailures = 200
)

// Decision is the manager's verdict for one reported event.
type Decision struct {
	Fingerprint    string `json:"fingerprint"`
	Count          int    `json:"count"`
	ShouldEscalate bool   `json:"should_escalate"`
	ShouldNotify   bool   `json:"should_notify_user"`
}

// DecisionFunc observes decisions (e.g. to send an escalation notice).
// Errors and panics inside the callback are swallowed.
type DecisionFunc func(event FailureEvent, decision Decision)

type fingerprintRow struct {
	firstSeen time.Time
	lastSeen  time.Time
	count     int
}

// Manager deduplicates failure events by fingerprint within a sliding
// window and escalates repeated error/critical failures.
type Manager struct {
	mu           sync.Mutex
	rows         map[string]*fingerprintRow
	window       time.Duration
	threshold    int
	failuresPath string
	onDecision   DecisionFunc

	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDedupeWindow overrides the sliding dedupe window.
func WithDedupeWindow(d time.Duration) Option {
	return func(m *Manager) { m.window = d }
}

// WithEscalateThreshold overrides the repetition count that triggers
// escalation.
func WithEscalateThreshold(n int) Option {
	return func(m *Manager) { m.threshold = n }
}

// WithDecisionCallback registers the decision observer.
func WithDecisionCallback(fn DecisionFunc) Option {
	return func(m *Manager) { m.onDecision = fn }
}

// NewManager creates an incident manager persisting to failuresPath
// (empty disables persistence).
func NewManager(failuresPath string, opts ...Option) *Manager {
	m := &Manager{
		rows:         make(map[string]*fingerprintRow),
		window:       defaultDedupeWindow,
		threshold:    defaultEscalateThreshold,
		failuresPath: failuresPath,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Report records a failure event and returns the dedupe/escalation
// decision. Stale fingerprint rows are pruned on every report.
func (m *Manager) Report(event FailureEvent) Decision {
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}
	fp := event.ResolvedFingerprint()

	m.mu.Lock()
	now := m.now()
	m.pruneLocked(now)

	row, ok := m.rows[fp]
	if !ok {
		row = &fingerprintRow{firstSeen: now}
		m.rows[fp] = row
	}
	row.lastSeen = now
	row.count++
	count := row.count
	m.mu.Unlock()

	escalate := (event.Severity == SeverityError || event.Severity == SeverityCritical) &&
		count >= m.threshold
	decision := Decision{
		Fingerprint:    fp,
		Count:          count,
		ShouldEscalate: escalate,
		ShouldNotify:   escalate,
	}

	slog.Warn("incident: failure reported",
		"source", event.Source,
		"category", event.Category,
		"severity", string(event.Severity),
		"fingerprint", fp,
		"count", count,
		"escalate", escalate,
	)

	if err := m.persist(event); err != nil {
		slog.Warn("incident: failed to persist failure log", "error", err)
	}

	if m.onDecision != nil {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Warn("incident: decision callback panicked", "panic", rec)
				}
			}()
			m.onDecision(event, decision)
		}()
	}

	return decision
}

// Count returns the current count for a fingerprint (0 when unknown or
// expired).
func (m *Manager) Count(fingerprint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(m.now())
	if row, ok := m.rows[fingerprint]; ok {
		return row.count
	}
	return 0
}

func (m *Manager) pruneLocked(now time.Time) {
	for fp, row := range m.rows {
		if now.Sub(row.lastSeen) > m.window {
			delete(m.rows, fp)
		}
	}
}

// persist appends the event to the durable failure log, keeping only the
// most recent maxPersistedFailures entries. The file is rewritten
// atomically.
func (m *Manager) persist(event FailureEvent) error {
	if m.failuresPath == "" {
		return nil
	}

	var events []FailureEvent
	if data, err := os.ReadFile(m.failuresPath); err == nil {
		// Tolerate a corrupt log: start fresh rather than fail reporting.
		if err := json.Unmarshal(data, &events); err != nil {
			slog.Warn("incident: resetting corrupt failure log", "path", m.failuresPath)
			events = nil
		}
	}

	events = append(events, event)
	if len(events) > maxPersistedFailures {
		events = events[len(events)-maxPersistedFailures:]
	}

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(m.failuresPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "failures-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, m.failuresPath)
}
