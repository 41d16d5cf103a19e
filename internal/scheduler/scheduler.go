// Package scheduler implements the command queue: named lanes, each with an
// independent FIFO and a concurrency cap. Within a lane tasks start in
// insertion order; across lanes there is no ordering. The agent runtime uses
// the main lane for user-visible requests, the background lane for
// system/cron work, and the probe lane for liveness checks.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Lane names. Additional lanes are created on demand.
const (
	LaneMain       = "main"
	LaneBackground = "background"
	LaneProbe      = "probe"
)

// slowWaitThreshold is how long a task may sit queued before a warning is
// logged about the lane falling behind.
const slowWaitThreshold = 2 * time.Second

// Outcome is the terminal result of a scheduled task.
type Outcome struct {
	Result any
	Err    error
}

// Task is a unit of work run on a lane.
type Task func(ctx context.Context) (any, error)

// LaneState is an observable snapshot of one lane.
type LaneState struct {
	Active      int
	QueueLength int
}

type queuedTask struct {
	name     string
	ctx      context.Context
	fn       Task
	out      chan Outcome
	enqueued time.Time
}

type lane struct {
	name          string
	maxConcurrent int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*queuedTask
	active int
	closed bool
}

// Scheduler owns the lane table.
type Scheduler struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

// New creates a scheduler with the three predefined lanes, each with
// max_concurrent = 1.
func New() *Scheduler {
	s := &Scheduler{lanes: make(map[string]*lane)}
	for _, name := range []string{LaneMain, LaneBackground, LaneProbe} {
		s.getLane(name)
	}
	return s
}

func (s *Scheduler) getLane(name string) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lanes[name]; ok {
		return l
	}
	l := &lane{name: name, maxConcurrent: 1}
	l.cond = sync.NewCond(&l.mu)
	s.lanes[name] = l
	go l.run()
	return l
}

// SetMaxConcurrent adjusts a lane's concurrency cap (minimum 1).
func (s *Scheduler) SetMaxConcurrent(laneName string, n int) {
	if n < 1 {
		n = 1
	}
	l := s.getLane(laneName)
	l.mu.Lock()
	l.maxConcurrent = n
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Enqueue registers a task on a lane and returns a handle channel that
// resolves with the task's outcome. If the task's context is cancelled
// before the task starts, the handle resolves with the context error and
// the task never runs.
func (s *Scheduler) Enqueue(ctx context.Context, laneName, name string, fn Task) <-chan Outcome {
	l := s.getLane(laneName)
	t := &queuedTask{
		name:     name,
		ctx:      ctx,
		fn:       fn,
		out:      make(chan Outcome, 1),
		enqueued: time.Now(),
	}
	l.mu.Lock()
	l.queue = append(l.queue, t)
	l.cond.Signal()
	l.mu.Unlock()
	return t.out
}

// State returns the current snapshot of a lane.
func (s *Scheduler) State(laneName string) LaneState {
	l := s.getLane(laneName)
	l.mu.Lock()
	defer l.mu.Unlock()
	return LaneState{Active: l.active, QueueLength: len(l.queue)}
}

// Shutdown stops all lane runners. Queued tasks that have not started
// resolve with context.Canceled.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	lanes := make([]*lane, 0, len(s.lanes))
	for _, l := range s.lanes {
		lanes = append(lanes, l)
	}
	s.mu.Unlock()
	for _, l := range lanes {
		l.mu.Lock()
		l.closed = true
		pending := l.queue
		l.queue = nil
		l.cond.Broadcast()
		l.mu.Unlock()
		for _, t := range pending {
			t.out <- Outcome{Err: context.Canceled}
		}
	}
}

func (l *lane) run() {
	for {
		l.mu.Lock()
		for !l.closed && (len(l.queue) == 0 || l.active >= l.maxConcurrent) {
			l.cond.Wait()
		}
		if l.closed {
			l.mu.Unlock()
			return
		}
		t := l.queue[0]
		l.queue = l.queue[1:]
		l.active++
		l.mu.Unlock()

		if wait := time.Since(t.enqueued); wait > slowWaitThreshold {
			slog.Warn("scheduler: slow lane",
				"lane", l.name,
				"task", t.name,
				"waited", wait.Round(time.Millisecond),
			)
		}

		go func(t *queuedTask) {
			defer func() {
				l.mu.Lock()
				l.active--
				l.cond.Signal()
				l.mu.Unlock()
			}()

			// Cancelled while queued: signal the handle, skip the work.
			if err := t.ctx.Err(); err != nil {
				t.out <- Outcome{Err: err}
				return
			}
			res, err := t.fn(t.ctx)
			t.out <- Outcome{Result: res, Err: err}
		}(t)
	}
}
