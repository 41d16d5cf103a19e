// Package cron schedules recurring and one-shot jobs persisted in a
// single JSON store, driven by a 1-second ticker.
package cron

// Schedule kinds.
const (
	KindEvery = "every"
	KindCron  = "cron"
	KindAt    = "at"
)

// Schedule describes when a job fires. Exactly one of the kind-specific
// fields is meaningful.
type Schedule struct {
	Kind    string `json:"kind"` // "every", "cron", "at"
	EveryMS int64  `json:"every_ms,omitempty"`
	Expr    string `json:"expr,omitempty"` // 5-field cron expression
	AtMS    int64  `json:"at_ms,omitempty"`
}

// Payload is what happens when a job fires.
type Payload struct {
	Kind           string `json:"kind"` // "message", "task_run"
	Message        string `json:"message,omitempty"`
	TaskName       string `json:"task_name,omitempty"`
	Deliver        bool   `json:"deliver"`
	Channel        string `json:"channel,omitempty"`
	To             string `json:"to,omitempty"`
	DeleteAfterRun bool   `json:"delete_after_run"`
}

// JobState is the mutable firing state.
type JobState struct {
	NextRunAtMS int64  `json:"next_run_at_ms"`
	LastRunAtMS int64  `json:"last_run_at_ms,omitempty"`
	LastStatus  string `json:"last_status,omitempty"` // "ok", "error"
}

// Job is one scheduled entry.
type Job struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Schedule Schedule `json:"schedule"`
	Payload  Payload  `json:"payload"`
	State    JobState `json:"state"`
}
