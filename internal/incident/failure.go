// Package incident defines failure events and the manager that deduplicates,
// classifies, and escalates them.
package incident

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Severity classifies a failure event.
type Severity string

const (
	SeverityTransient Severity = "transient"
	SeverityWarning   Severity = "warning"
	SeverityError     Severity = "error"
	SeverityCritical  Severity = "critical"
)

// stableDetailKeys are the detail fields that participate in fingerprint
// derivation. Values outside this set (timestamps, free text) would make
// every event unique and defeat deduplication.
var stableDetailKeys = []string{"tool", "error_type", "error_code", "job_id", "task_name", "reason"}

// FailureEvent describes one failure observed anywhere in the runtime.
type FailureEvent struct {
	Source      string         `json:"source"`
	Category    string         `json:"category"`
	Summary     string         `json:"summary"`
	Details     map[string]any `json:"details,omitempty"`
	Severity    Severity       `json:"severity"`
	Retryable   bool           `json:"retryable"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Timestamp   time.Time      `json:"ts"`
}

// ResolvedFingerprint returns the explicit fingerprint when set, otherwise a
// 16-hex-char hash over the event's stable identity: source, category, the
// first 120 chars of the summary, and the stable detail keys.
func (e FailureEvent) ResolvedFingerprint() string {
	if e.Fingerprint != "" {
		return e.Fingerprint
	}
	summary := e.Summary
	if len(summary) > 120 {
		summary = summary[:120]
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", e.Source, e.Category, summary)
	for _, k := range stableDetailKeys {
		if v, ok := e.Details[k]; ok {
			fmt.Fprintf(h, "|%s=%v", k, v)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
