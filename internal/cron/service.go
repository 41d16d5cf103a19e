package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// tickResolution is how often the service scans for due jobs.
const tickResolution = time.Second

// defaultTimezone governs cron-expression evaluation.
const defaultTimezone = "Asia/Shanghai"

// OnJob is invoked for every due job.
type OnJob func(job Job)

// Service walks enabled jobs on a ticker and fires the callback for
// each job whose next run time has passed.
type Service struct {
	store *Store
	onJob OnJob
	loc   *time.Location
	gron  *gronx.Gronx
	now   func() time.Time
}

// NewService creates the scheduler. timezone falls back to
// Asia/Shanghai, then UTC.
func NewService(store *Store, timezone string, onJob OnJob) *Service {
	if timezone == "" {
		timezone = defaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		slog.Warn("cron: unknown timezone, using UTC", "timezone", timezone)
		loc = time.UTC
	}
	return &Service{
		store: store,
		onJob: onJob,
		loc:   loc,
		gron:  gronx.New(),
		now:   time.Now,
	}
}

// Add creates a job, computes its first fire time, and persists it.
func (s *Service) Add(name string, schedule Schedule, payload Payload) (Job, error) {
	next, err := s.nextRun(schedule, s.now())
	if err != nil {
		return Job{}, err
	}
	job := Job{
		ID:       uuid.NewString()[:8],
		Name:     name,
		Enabled:  true,
		Schedule: schedule,
		Payload:  payload,
		State:    JobState{NextRunAtMS: next},
	}
	if err := s.store.Put(job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Remove deletes a job.
func (s *Service) Remove(id string) error { return s.store.Delete(id) }

// List returns jobs ordered by next fire time.
func (s *Service) List() []Job { return s.store.List() }

// SetEnabled toggles a job.
func (s *Service) SetEnabled(id string, enabled bool) error {
	job, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("cron job %s not found", id)
	}
	job.Enabled = enabled
	return s.store.Put(job)
}

// Run drives the ticker until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(tickResolution)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick fires every due enabled job once. Exposed for tests.
func (s *Service) Tick() {
	nowMS := s.now().UnixMilli()
	for _, job := range s.store.List() {
		if !job.Enabled || job.State.NextRunAtMS == 0 || job.State.NextRunAtMS > nowMS {
			continue
		}
		s.fire(job)
	}
}

func (s *Service) fire(job Job) {
	status := "ok"
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				status = "error"
				slog.Error("cron: job callback panicked", "job", job.ID, "panic", rec)
			}
		}()
		if s.onJob != nil {
			s.onJob(job)
		}
	}()

	now := s.now()
	job.State.LastRunAtMS = now.UnixMilli()
	job.State.LastStatus = status

	if job.Schedule.Kind == KindAt {
		if job.Payload.DeleteAfterRun {
			if err := s.store.Delete(job.ID); err != nil {
				slog.Warn("cron: failed to delete one-shot job", "job", job.ID, "error", err)
			}
			return
		}
		job.Enabled = false
		job.State.NextRunAtMS = 0
	} else {
		next, err := s.nextRun(job.Schedule, now)
		if err != nil {
			slog.Warn("cron: failed to compute next run, disabling job", "job", job.ID, "error", err)
			job.Enabled = false
			job.State.NextRunAtMS = 0
		} else {
			job.State.NextRunAtMS = next
		}
	}
	if err := s.store.Put(job); err != nil {
		slog.Warn("cron: failed to persist job state", "job", job.ID, "error", err)
	}
}

// nextRun computes the next fire time in epoch milliseconds.
func (s *Service) nextRun(schedule Schedule, from time.Time) (int64, error) {
	switch schedule.Kind {
	case KindEvery:
		if schedule.EveryMS <= 0 {
			return 0, fmt.Errorf("every schedule needs a positive interval")
		}
		return from.Add(time.Duration(schedule.EveryMS) * time.Millisecond).UnixMilli(), nil
	case KindCron:
		if !s.gron.IsValid(schedule.Expr) {
			return 0, fmt.Errorf("invalid cron expression: %q", schedule.Expr)
		}
		next, err := gronx.NextTickAfter(schedule.Expr, from.In(s.loc), false)
		if err != nil {
			return 0, err
		}
		return next.UnixMilli(), nil
	case KindAt:
		if schedule.AtMS <= 0 {
			return 0, fmt.Errorf("at schedule needs a timestamp")
		}
		return schedule.AtMS, nil
	default:
		return 0, fmt.Errorf("unknown schedule kind: %q", schedule.Kind)
	}
}
