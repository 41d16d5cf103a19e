// Package sessions persists per-session conversation logs as JSONL files.
// The first line of each file is a metadata header; every following line is
// one message in chronological order. Readers tolerate blank lines and a
// missing header; writers always emit the header first.
package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/nanobot/internal/providers"
)

// Record is one persisted message line.
type Record struct {
	Role       string               `json:"role"`
	Content    string               `json:"content"`
	Timestamp  time.Time            `json:"timestamp"`
	ToolCalls  []providers.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	Name       string               `json:"name,omitempty"`
}

// header is the metadata first line of a session file.
type header struct {
	Type      string         `json:"_type"`
	Key       string         `json:"key"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata"`
}

// Session is the in-memory view of one conversation.
type Session struct {
	Key      string
	Messages []Record
	Created  time.Time
	Updated  time.Time
	Metadata map[string]any
}

// Info is lightweight session metadata for listing.
type Info struct {
	Key          string    `json:"key"`
	MessageCount int       `json:"message_count"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// Manager owns the session cache and the sessions directory.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	dir      string
}

// NewManager creates a manager rooted at dir, loading any existing session
// files eagerly so listing works without touching disk again.
func NewManager(dir string) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		dir:      dir,
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("sessions: failed to create directory", "dir", dir, "error", err)
		}
		m.loadAll()
	}
	return m
}

// GetOrCreate returns the session for key, creating it when absent.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	now := time.Now()
	s := &Session{
		Key:      key,
		Messages: []Record{},
		Created:  now,
		Updated:  now,
		Metadata: map[string]any{},
	}
	m.sessions[key] = s
	return s
}

// AddMessage appends a message to a session, stamping it with the current
// time when the record carries none.
func (m *Manager) AddMessage(key string, rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		now := time.Now()
		s = &Session{Key: key, Created: now, Metadata: map[string]any{}}
		m.sessions[key] = s
	}
	s.Messages = append(s.Messages, rec)
	s.Updated = rec.Timestamp
}

// History returns a copy of the message history.
func (m *Manager) History(key string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	out := make([]Record, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// Rewind drops the last n messages from a session. Trailing tool messages
// left without their assistant tool-call declaration are dropped too, so
// the invariant "tool follows matching assistant" survives.
func (m *Manager) Rewind(key string, n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok || n <= 0 {
		return 0
	}
	if n > len(s.Messages) {
		n = len(s.Messages)
	}
	s.Messages = s.Messages[:len(s.Messages)-n]
	for len(s.Messages) > 0 && s.Messages[len(s.Messages)-1].Role == "tool" {
		s.Messages = s.Messages[:len(s.Messages)-1]
		n++
	}
	s.Updated = time.Now()
	return n
}

// ReplaceMessages swaps the full message list (used by compaction).
func (m *Manager) ReplaceMessages(key string, msgs []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return
	}
	s.Messages = append([]Record(nil), msgs...)
	s.Updated = time.Now()
}

// Delete removes a session and its file.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
	if m.dir == "" {
		return nil
	}
	path := filepath.Join(m.dir, SafeFilename(key)+".jsonl")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns metadata for all known sessions, most recently updated
// first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for key, s := range m.sessions {
		out = append(out, Info{
			Key:          key,
			MessageCount: len(s.Messages),
			Created:      s.Created,
			Updated:      s.Updated,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	return out
}

// Rotate archives the current session file to "<stem>.<unix>.jsonl" and
// clears the in-memory history. The metadata header carries over.
func (m *Manager) Rotate(key string) error {
	if err := m.Save(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	if m.dir != "" && len(s.Messages) > 0 {
		stem := SafeFilename(key)
		src := filepath.Join(m.dir, stem+".jsonl")
		dst := filepath.Join(m.dir, fmt.Sprintf("%s.%d.jsonl", stem, time.Now().Unix()))
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	s.Messages = []Record{}
	s.Updated = time.Now()
	return nil
}

// Save writes the session to its JSONL file atomically: metadata header
// first, then one message per line.
func (m *Manager) Save(key string) error {
	if m.dir == "" {
		return nil
	}
	m.mu.RLock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	hdr := header{
		Type:      "metadata",
		Key:       s.Key,
		CreatedAt: s.Created,
		UpdatedAt: s.Updated,
		Metadata:  s.Metadata,
	}
	msgs := make([]Record, len(s.Messages))
	copy(msgs, s.Messages)
	m.mu.RUnlock()

	if hdr.UpdatedAt.Before(hdr.CreatedAt) {
		hdr.UpdatedAt = hdr.CreatedAt
	}
	if hdr.Metadata == nil {
		hdr.Metadata = map[string]any{}
	}

	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(hdr); err != nil {
		return err
	}
	for _, rec := range msgs {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(m.dir, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(buf.String()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(m.dir, SafeFilename(key)+".jsonl"))
}

func (m *Manager) loadAll() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		// Skip rotated archives: "<stem>.<unix>.jsonl".
		stem := strings.TrimSuffix(name, ".jsonl")
		if i := strings.LastIndexByte(stem, '.'); i >= 0 {
			if _, err := fmt.Sscanf(stem[i+1:], "%d", new(int64)); err == nil {
				continue
			}
		}
		s, err := loadFile(filepath.Join(m.dir, name))
		if err != nil || s == nil {
			continue
		}
		if s.Key == "" {
			s.Key = stem
		}
		m.sessions[s.Key] = s
	}
}

// loadFile parses one session file. Blank lines are skipped; a file whose
// first line is not a metadata header is treated as headerless and the
// header is synthesized from message timestamps.
func loadFile(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s := &Session{Messages: []Record{}, Metadata: map[string]any{}}
	sawHeader := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			var hdr header
			if err := json.Unmarshal([]byte(line), &hdr); err == nil && hdr.Type == "metadata" {
				sawHeader = true
				s.Key = hdr.Key
				s.Created = hdr.CreatedAt
				s.Updated = hdr.UpdatedAt
				if hdr.Metadata != nil {
					s.Metadata = hdr.Metadata
				}
				continue
			}
			sawHeader = true // headerless file: fall through to message parsing
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Role == "" {
			continue
		}
		s.Messages = append(s.Messages, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if s.Created.IsZero() && len(s.Messages) > 0 {
		s.Created = s.Messages[0].Timestamp
	}
	if s.Updated.IsZero() && len(s.Messages) > 0 {
		s.Updated = s.Messages[len(s.Messages)-1].Timestamp
	}
	return s, nil
}
