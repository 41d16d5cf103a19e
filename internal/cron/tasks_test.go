package cron

import (
	"path/filepath"
	"testing"
	"time"
)

func TestTaskStorePutGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	store, err := NewTaskStore(path)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Put("", "do things"); err == nil {
		t.Error("empty name must fail")
	}
	if _, err := store.Put("report", "  "); err == nil {
		t.Error("empty prompt must fail")
	}

	task, err := store.Put("report", "汇总今天的日程")
	if err != nil {
		t.Fatal(err)
	}
	if task.CreatedAtMS == 0 || task.UpdatedAtMS == 0 {
		t.Errorf("timestamps not set: %+v", task)
	}

	created := task.CreatedAtMS
	store.now = func() time.Time { return time.Now().Add(time.Hour) }
	task, err = store.Put("report", "汇总今天和明天的日程")
	if err != nil {
		t.Fatal(err)
	}
	if task.CreatedAtMS != created {
		t.Error("update must keep creation time")
	}
	if task.UpdatedAtMS <= created {
		t.Error("update must advance updated_at")
	}

	got, ok := store.Get("report")
	if !ok || got.Prompt != "汇总今天和明天的日程" {
		t.Errorf("get = %+v, ok = %v", got, ok)
	}

	if err := store.Delete("report"); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Get("report"); ok {
		t.Error("task still present after delete")
	}
	if err := store.Delete("missing"); err != nil {
		t.Errorf("deleting unknown task: %v", err)
	}
}

func TestTaskStoreReloadAndMarkRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	store, err := NewTaskStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put("water", "提醒老板喝水"); err != nil {
		t.Fatal(err)
	}
	store.MarkRun("water")
	store.MarkRun("water")
	store.MarkRun("ghost")

	reloaded, err := NewTaskStore(path)
	if err != nil {
		t.Fatal(err)
	}
	task, ok := reloaded.Get("water")
	if !ok {
		t.Fatal("task lost across reload")
	}
	if task.RunCount != 2 || task.LastRunAtMS == 0 {
		t.Errorf("run state = %+v", task)
	}
	if tasks := reloaded.List(); len(tasks) != 1 || tasks[0].Name != "water" {
		t.Errorf("list = %+v", tasks)
	}
}
