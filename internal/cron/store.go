package cron

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// storeDocument is the on-disk shape: one JSON document for all jobs.
type storeDocument struct {
	Jobs []Job `json:"jobs"`
}

// Store persists cron jobs to a single JSON file with atomic rewrites.
type Store struct {
	mu   sync.Mutex
	path string
	jobs map[string]Job
}

// NewStore loads (or initializes) the job store at path.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, jobs: make(map[string]Job)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var doc storeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	for _, job := range doc.Jobs {
		s.jobs[job.ID] = job
	}
	return s, nil
}

// Put inserts or replaces a job and persists.
func (s *Store) Put(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return s.flushLocked()
}

// Delete removes a job and persists. Unknown ids are a no-op.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return nil
	}
	delete(s.jobs, id)
	return s.flushLocked()
}

// Get returns one job by id.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok
}

// List returns all jobs ordered by next_run_at_ms then id.
func (s *Store) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].State.NextRunAtMS != out[j].State.NextRunAtMS {
			return out[i].State.NextRunAtMS < out[j].State.NextRunAtMS
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) flushLocked() error {
	doc := storeDocument{Jobs: make([]Job, 0, len(s.jobs))}
	for _, job := range s.jobs {
		doc.Jobs = append(doc.Jobs, job)
	}
	sort.Slice(doc.Jobs, func(i, j int) bool { return doc.Jobs[i].ID < doc.Jobs[j].ID })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "cron-*.tmp")
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
