package cron

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestService(t *testing.T, onJob OnJob) (*Service, *Store) {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "cron.json"))
	if err != nil {
		t.Fatal(err)
	}
	return NewService(store, "UTC", onJob), store
}

func TestEveryScheduleFiresAndReschedules(t *testing.T) {
	fired := 0
	svc, _ := newTestService(t, func(Job) { fired++ })
	clock := time.Now()
	svc.now = func() time.Time { return clock }

	job, err := svc.Add("ping", Schedule{Kind: KindEvery, EveryMS: 60_000}, Payload{Kind: "message", Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	svc.Tick()
	if fired != 0 {
		t.Fatal("job fired before its time")
	}

	clock = clock.Add(61 * time.Second)
	svc.Tick()
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	got, _ := svc.store.Get(job.ID)
	if got.State.LastStatus != "ok" {
		t.Errorf("last_status = %q", got.State.LastStatus)
	}
	if got.State.NextRunAtMS <= clock.UnixMilli() {
		t.Error("next run should be rescheduled into the future")
	}

	// Not due again immediately.
	svc.Tick()
	if fired != 1 {
		t.Error("job fired twice without passing its interval")
	}
}

func TestAtScheduleDeleteAfterRun(t *testing.T) {
	fired := 0
	svc, store := newTestService(t, func(Job) { fired++ })
	clock := time.Now()
	svc.now = func() time.Time { return clock }

	job, err := svc.Add("once", Schedule{Kind: KindAt, AtMS: clock.Add(time.Second).UnixMilli()},
		Payload{Kind: "message", Message: "reminder", DeleteAfterRun: true})
	if err != nil {
		t.Fatal(err)
	}

	clock = clock.Add(2 * time.Second)
	svc.Tick()
	if fired != 1 {
		t.Fatalf("fired = %d", fired)
	}
	if _, ok := store.Get(job.ID); ok {
		t.Error("delete_after_run job should be gone")
	}
}

func TestAtScheduleWithoutDeleteDisables(t *testing.T) {
	svc, store := newTestService(t, func(Job) {})
	clock := time.Now()
	svc.now = func() time.Time { return clock }

	job, _ := svc.Add("once", Schedule{Kind: KindAt, AtMS: clock.Add(time.Second).UnixMilli()}, Payload{Kind: "message"})
	clock = clock.Add(2 * time.Second)
	svc.Tick()

	got, ok := store.Get(job.ID)
	if !ok {
		t.Fatal("job should remain")
	}
	if got.Enabled {
		t.Error("one-shot job should be disabled after firing")
	}
}

func TestCronExpressionSchedule(t *testing.T) {
	svc, _ := newTestService(t, nil)
	next, err := svc.nextRun(Schedule{Kind: KindCron, Expr: "0 9 * * *"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if next <= time.Now().UnixMilli() {
		t.Error("next run should be in the future")
	}

	if _, err := svc.nextRun(Schedule{Kind: KindCron, Expr: "not a cron"}, time.Now()); err == nil {
		t.Error("invalid expression should error")
	}
}

func TestCallbackPanicMarksError(t *testing.T) {
	svc, store := newTestService(t, func(Job) { panic("callback bug") })
	clock := time.Now()
	svc.now = func() time.Time { return clock }

	job, _ := svc.Add("bad", Schedule{Kind: KindEvery, EveryMS: 1000}, Payload{Kind: "message"})
	clock = clock.Add(2 * time.Second)
	svc.Tick()

	got, _ := store.Get(job.ID)
	if got.State.LastStatus != "error" {
		t.Errorf("last_status = %q, want error", got.State.LastStatus)
	}
}

func TestStorePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cron.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	store.Put(Job{ID: "b", Name: "second", State: JobState{NextRunAtMS: 200}})
	store.Put(Job{ID: "a", Name: "first", State: JobState{NextRunAtMS: 100}})

	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	jobs := reloaded.List()
	if len(jobs) != 2 {
		t.Fatalf("reloaded %d jobs", len(jobs))
	}
	if jobs[0].ID != "a" || jobs[1].ID != "b" {
		t.Errorf("order = %s, %s (want by next_run_at_ms)", jobs[0].ID, jobs[1].ID)
	}
}
