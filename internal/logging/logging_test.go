package logging

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriterRotatesAtSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.log")

	w, err := NewRotatingWriter(path, 100, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 5; i++ {
		if _, err := w.Write(line); err != nil {
			t.Fatal(err)
		}
	}

	if countArchives(t, dir) == 0 {
		t.Error("expected at least one rotated archive")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > 100 {
		t.Errorf("active log over size limit: %d", info.Size())
	}
}

func TestRotatingWriterPrunesOldArchives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.log")

	w, err := NewRotatingWriter(path, 50, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	clock := time.Now()
	w.now = func() time.Time { return clock }

	// First rotation archives under the current timestamp.
	if _, err := w.Write([]byte(strings.Repeat("a", 60))); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(strings.Repeat("b", 60))); err != nil {
		t.Fatal(err)
	}
	if countArchives(t, dir) != 1 {
		t.Fatalf("archives after first rotation = %d", countArchives(t, dir))
	}

	// Two hours later the next rotation prunes the stale one.
	clock = clock.Add(2 * time.Hour)
	if _, err := w.Write([]byte(strings.Repeat("c", 60))); err != nil {
		t.Fatal(err)
	}

	cutoff := clock.Add(-time.Hour).Unix()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		m := archiveSuffixPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		ts, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if ts < cutoff {
			t.Errorf("stale archive survived pruning: %s", e.Name())
		}
	}
}

func countArchives(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gateway.log.") {
			n++
		}
	}
	return n
}
