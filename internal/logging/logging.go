// Package logging configures slog for the gateway process and provides
// the size+age rotating file writer behind <data>/gateway.log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"
)

const (
	defaultMaxBytes = 10 * 1024 * 1024
	defaultMaxAge   = 7 * 24 * time.Hour
)

// Setup installs the default slog logger: text handler to stderr, and
// additionally to a rotating file when logPath is non-empty.
func Setup(verbose bool, logPath string) (io.Closer, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	var closer io.Closer
	if logPath != "" {
		rw, err := NewRotatingWriter(logPath, defaultMaxBytes, defaultMaxAge)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stderr, rw)
		closer = rw
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return closer, nil
}

// RotatingWriter appends to a log file, rotating it when it exceeds
// maxBytes and pruning rotated archives older than maxAge. Rotated
// files are named "<path>.<unix>". Safe for concurrent use.
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	maxAge   time.Duration
	file     *os.File
	size     int64
	now      func() time.Time
}

func NewRotatingWriter(path string, maxBytes int64, maxAge time.Duration) (*RotatingWriter, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	w := &RotatingWriter{
		path:     path,
		maxBytes: maxBytes,
		maxAge:   maxAge,
		now:      time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.size = info.Size()
	return nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	archived := fmt.Sprintf("%s.%d", w.path, w.now().Unix())
	if err := os.Rename(w.path, archived); err != nil {
		return err
	}
	w.pruneLocked()
	return w.open()
}

var archiveSuffixPattern = regexp.MustCompile(`\.(\d+)$`)

// pruneLocked removes rotated archives older than maxAge. Failures are
// ignored; pruning is opportunistic.
func (w *RotatingWriter) pruneLocked() {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := w.now().Add(-w.maxAge).Unix()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || len(name) <= len(base) || name[:len(base)+1] != base+"." {
			continue
		}
		m := archiveSuffixPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		ts, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || ts >= cutoff {
			continue
		}
		os.Remove(filepath.Join(dir, name))
	}
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
