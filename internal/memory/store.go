// Package memory manages the assistant's long-term memory files: one
// markdown note per day plus a curated MEMORY.md, with lexical search
// over all of them.
package memory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// LongTermFile is the curated durable memory document.
const LongTermFile = "MEMORY.md"

var dailyNamePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.md$`)

// Store reads and writes memory files under a single directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates a memory store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Dir returns the memory directory path.
func (s *Store) Dir() string { return s.dir }

// TodayPath returns the path of today's daily note.
func (s *Store) TodayPath() string {
	return filepath.Join(s.dir, s.now().Format("2006-01-02")+".md")
}

// AppendDaily appends an entry to today's note, creating the file with a
// date heading when absent. Each entry gets an HH:MM timestamp line.
func (s *Store) AppendDaily(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	path := s.TodayPath()

	var block strings.Builder
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(&block, "# %s\n\n", s.now().Format("2006-01-02"))
	}
	fmt.Fprintf(&block, "## %s\n\n%s\n\n", s.now().Format("15:04"), entry)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(block.String())
	return err
}

// ReadLongTerm returns the content of MEMORY.md, or "" when missing.
func (s *Store) ReadLongTerm() string {
	data, err := os.ReadFile(filepath.Join(s.dir, LongTermFile))
	if err != nil {
		return ""
	}
	return string(data)
}

// WriteLongTerm replaces MEMORY.md.
func (s *Store) WriteLongTerm(content string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, LongTermFile), []byte(content), 0o644)
}

// ReadRecentDaily returns the content of the most recent daily notes, up
// to n files, newest first.
func (s *Store) ReadRecentDaily(n int) []Document {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && dailyNamePattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if n > 0 && len(names) > n {
		names = names[:n]
	}
	var docs []Document
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			slog.Warn("memory: failed to read daily note", "file", name, "error", err)
			continue
		}
		docs = append(docs, Document{Name: name, Content: string(data)})
	}
	return docs
}

// Documents returns every searchable unit: MEMORY.md split into
// heading chunks first, then daily notes newest first.
func (s *Store) Documents() []Document {
	var docs []Document
	if lt := s.ReadLongTerm(); lt != "" {
		docs = append(docs, SplitChunks(LongTermFile, lt)...)
	}
	docs = append(docs, s.ReadRecentDaily(0)...)
	return docs
}

// Search ranks the store's documents against the query and returns the
// top-k positive-scoring results.
func (s *Store) Search(query string, k int) []SearchResult {
	return Rank(query, s.Documents(), k)
}
