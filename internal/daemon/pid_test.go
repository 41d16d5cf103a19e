package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.pid")

	if err := Acquire(path); err != nil {
		t.Fatal(err)
	}
	pid, err := ReadPID(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	// A live lock refuses a second acquire.
	err = Acquire(path)
	if _, ok := err.(*ErrAlreadyRunning); !ok {
		t.Errorf("second acquire = %v, want ErrAlreadyRunning", err)
	}

	Release(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("pid file should be removed")
	}
}

func TestAcquireReplacesStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.pid")
	// PIDs near the max are effectively never alive.
	if err := os.WriteFile(path, []byte("4194000"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Acquire(path); err != nil {
		t.Fatalf("stale lock not replaced: %v", err)
	}
	pid, _ := ReadPID(path)
	if pid != os.Getpid() {
		t.Errorf("pid = %d", pid)
	}
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPID(path); err == nil {
		t.Error("garbage pid file must error")
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(-3)), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPID(path); err == nil {
		t.Error("negative pid must error")
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("own process should be alive")
	}
	if Alive(4194000) {
		t.Error("near-max pid should not be alive")
	}
}
