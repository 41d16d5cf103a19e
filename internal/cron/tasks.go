package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Task is a named standing instruction that task_run job payloads
// reference by name.
type Task struct {
	Name        string `json:"name"`
	Prompt      string `json:"prompt"`
	CreatedAtMS int64  `json:"created_at_ms"`
	UpdatedAtMS int64  `json:"updated_at_ms"`
	LastRunAtMS int64  `json:"last_run_at_ms,omitempty"`
	RunCount    int    `json:"run_count,omitempty"`
}

// taskDocument is the on-disk shape: one JSON document for all tasks.
type taskDocument struct {
	Tasks []Task `json:"tasks"`
}

// TaskStore persists named tasks to a single JSON file with atomic
// rewrites, mirroring the job store.
type TaskStore struct {
	mu    sync.Mutex
	path  string
	tasks map[string]Task
	now   func() time.Time
}

// NewTaskStore loads (or initializes) the task store at path.
func NewTaskStore(path string) (*TaskStore, error) {
	s := &TaskStore{path: path, tasks: make(map[string]Task), now: time.Now}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var doc taskDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	for _, task := range doc.Tasks {
		s.tasks[task.Name] = task
	}
	return s, nil
}

// Put inserts or updates a task and persists. Creation time is kept
// across updates.
func (s *TaskStore) Put(name, prompt string) (Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Task{}, fmt.Errorf("task name is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return Task{}, fmt.Errorf("task prompt is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	nowMS := s.now().UnixMilli()
	task, ok := s.tasks[name]
	if !ok {
		task = Task{Name: name, CreatedAtMS: nowMS}
	}
	task.Prompt = prompt
	task.UpdatedAtMS = nowMS
	s.tasks[name] = task
	return task, s.flushLocked()
}

// Get returns one task by name.
func (s *TaskStore) Get(name string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[name]
	return task, ok
}

// Delete removes a task and persists. Unknown names are a no-op.
func (s *TaskStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; !ok {
		return nil
	}
	delete(s.tasks, name)
	return s.flushLocked()
}

// List returns all tasks ordered by name.
func (s *TaskStore) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MarkRun records a run of the named task. Unknown names are a no-op.
func (s *TaskStore) MarkRun(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[name]
	if !ok {
		return
	}
	task.LastRunAtMS = s.now().UnixMilli()
	task.RunCount++
	s.tasks[name] = task
	s.flushLocked()
}

func (s *TaskStore) flushLocked() error {
	doc := taskDocument{Tasks: make([]Task, 0, len(s.tasks))}
	for _, task := range s.tasks {
		doc.Tasks = append(doc.Tasks, task)
	}
	sort.Slice(doc.Tasks, func(i, j int) bool { return doc.Tasks[i].Name < doc.Tasks[j].Name })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "tasks-*.tmp")
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
	return os.Rename(tmpPath, s.path)
}
