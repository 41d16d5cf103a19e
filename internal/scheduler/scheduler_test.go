package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLaneRunsInInsertionOrder(t *testing.T) {
	s := New()
	defer s.Shutdown()

	var mu sync.Mutex
	var order []int
	ctx := context.Background()

	var handles []<-chan Outcome
	for i := 0; i < 5; i++ {
		i := i
		handles = append(handles, s.Enqueue(ctx, LaneMain, "t", func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		}))
	}
	for _, h := range handles {
		<-h
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
}

func TestLaneConcurrencyCap(t *testing.T) {
	s := New()
	defer s.Shutdown()

	var mu sync.Mutex
	active, peak := 0, 0
	ctx := context.Background()

	var handles []<-chan Outcome
	for i := 0; i < 6; i++ {
		handles = append(handles, s.Enqueue(ctx, LaneMain, "t", func(ctx context.Context) (any, error) {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return nil, nil
		}))
	}
	for _, h := range handles {
		<-h
	}

	if peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
}

func TestLanesRunIndependently(t *testing.T) {
	s := New()
	defer s.Shutdown()
	ctx := context.Background()

	block := make(chan struct{})
	s.Enqueue(ctx, LaneMain, "blocker", func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	})

	done := s.Enqueue(ctx, LaneBackground, "bg", func(ctx context.Context) (any, error) {
		return "ok", nil
	})

	select {
	case out := <-done:
		if out.Result != "ok" {
			t.Errorf("background result = %v", out.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("background lane blocked by main lane")
	}
	close(block)
}

func TestCancelledBeforeStart(t *testing.T) {
	s := New()
	defer s.Shutdown()

	block := make(chan struct{})
	s.Enqueue(context.Background(), LaneMain, "blocker", func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	h := s.Enqueue(ctx, LaneMain, "victim", func(ctx context.Context) (any, error) {
		ran = true
		return nil, nil
	})
	cancel()
	close(block)

	out := <-h
	if out.Err == nil {
		t.Error("expected cancellation error")
	}
	if ran {
		t.Error("cancelled task must not run")
	}
}

func TestStateReflectsQueue(t *testing.T) {
	s := New()
	defer s.Shutdown()
	ctx := context.Background()

	block := make(chan struct{})
	running := make(chan struct{})
	s.Enqueue(ctx, LaneMain, "a", func(ctx context.Context) (any, error) {
		close(running)
		<-block
		return nil, nil
	})
	<-running
	h := s.Enqueue(ctx, LaneMain, "b", func(ctx context.Context) (any, error) { return nil, nil })

	st := s.State(LaneMain)
	if st.Active != 1 || st.QueueLength != 1 {
		t.Errorf("state = %+v, want active=1 queue=1", st)
	}
	close(block)
	<-h
}
