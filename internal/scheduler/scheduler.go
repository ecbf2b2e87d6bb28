// Package scheduler runs named recurring and one-off jobs for the agent.
// Jobs can fire on a fixed interval, on a 5-field cron expression, or once at
// a future time. A failing job body never crashes the scheduler.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptoagent/internal/domain"
)

// TaskFunc is a scheduled unit of work. Errors are logged, never propagated.
type TaskFunc func(ctx context.Context) error

type triggerKind int

const (
	triggerInterval triggerKind = iota
	triggerCron
	triggerOnce
)

// TaskInfo describes one active job for listing.
type TaskInfo struct {
	ID      string
	Name    string
	NextRun *time.Time
	Trigger string
	Active  bool
}

type job struct {
	id       string
	kind     triggerKind
	fn       TaskFunc
	interval time.Duration
	cronExpr string
	runAt    time.Time

	cancel  context.CancelFunc
	paused  bool
	nextRun time.Time
}

func (j *job) trigger() string {
	switch j.kind {
	case triggerInterval:
		return fmt.Sprintf("interval[%s]", j.interval)
	case triggerCron:
		return fmt.Sprintf("cron[%s]", j.cronExpr)
	default:
		return fmt.Sprintf("once[%s]", j.runAt.Format(time.RFC3339))
	}
}

// Scheduler owns the job registry. Jobs only fire while the scheduler is
// started; scheduling is allowed in either state.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a stopped scheduler with an empty registry.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With(slog.String("component", "scheduler")),
		jobs:   make(map[string]*job),
	}
}

// ScheduleInterval registers a job firing every interval. An empty id gets a
// generated one; an existing id is replaced.
func (s *Scheduler) ScheduleInterval(fn TaskFunc, interval time.Duration, id string) string {
	if id == "" {
		id = "interval_" + uuid.NewString()[:8]
	}
	s.add(&job{id: id, kind: triggerInterval, fn: fn, interval: interval})
	s.logger.Info("scheduler: interval task scheduled",
		slog.String("task_id", id),
		slog.Duration("interval", interval),
	)
	return id
}

// ScheduleCron registers a job firing on a 5-field cron expression
// (minute hour day-of-month month day-of-week).
func (s *Scheduler) ScheduleCron(fn TaskFunc, cronExpr, id string) (string, error) {
	if _, err := parseCron(cronExpr); err != nil {
		return "", fmt.Errorf("scheduler: schedule cron %q: %w", id, err)
	}
	if id == "" {
		id = "cron_" + uuid.NewString()[:8]
	}
	s.add(&job{id: id, kind: triggerCron, fn: fn, cronExpr: cronExpr})
	s.logger.Info("scheduler: cron task scheduled",
		slog.String("task_id", id),
		slog.String("cron", cronExpr),
	)
	return id, nil
}

// ScheduleOnce registers a job firing once at runAt. The job removes itself
// after execution, whether it succeeds or fails.
func (s *Scheduler) ScheduleOnce(fn TaskFunc, runAt time.Time, id string) string {
	if id == "" {
		id = "once_" + uuid.NewString()[:8]
	}
	s.add(&job{id: id, kind: triggerOnce, fn: fn, runAt: runAt})
	s.logger.Info("scheduler: one-time task scheduled",
		slog.String("task_id", id),
		slog.Time("run_at", runAt),
	)
	return id
}

// add installs the job, replacing (and stopping) any job under the same id.
func (s *Scheduler) add(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[j.id]; ok && existing.cancel != nil {
		existing.cancel()
	}
	s.jobs[j.id] = j
	if s.running {
		s.startJobLocked(j)
	}
}

// RemoveTask stops and unregisters a job. It reports whether the id existed.
func (s *Scheduler) RemoveTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Scheduler) removeLocked(id string) bool {
	j, ok := s.jobs[id]
	if !ok {
		s.logger.Warn("scheduler: task not found for removal", slog.String("task_id", id))
		return false
	}
	if j.cancel != nil {
		j.cancel()
	}
	delete(s.jobs, id)
	s.logger.Info("scheduler: task removed", slog.String("task_id", id))
	return true
}

// PauseTask suspends a job's executions without unregistering it.
func (s *Scheduler) PauseTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	j.paused = true
	s.logger.Info("scheduler: task paused", slog.String("task_id", id))
	return true
}

// ResumeTask resumes a paused job.
func (s *Scheduler) ResumeTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	j.paused = false
	s.logger.Info("scheduler: task resumed", slog.String("task_id", id))
	return true
}

// ListTasks returns a snapshot of every registered job.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := TaskInfo{
			ID:      j.id,
			Name:    j.id,
			Trigger: j.trigger(),
			Active:  !j.paused,
		}
		if !j.nextRun.IsZero() {
			next := j.nextRun
			info.NextRun = &next
		}
		out = append(out, info)
	}
	return out
}

// GetTask returns the listing entry for one job id.
func (s *Scheduler) GetTask(id string) (TaskInfo, error) {
	for _, info := range s.ListTasks() {
		if info.ID == id {
			return info, nil
		}
	}
	return TaskInfo{}, fmt.Errorf("scheduler: get task %q: %w", id, domain.ErrTaskNotFound)
}

// IsRunning reports whether the scheduler has been started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches the firing goroutines for every registered job. Starting an
// already-started scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	for _, j := range s.jobs {
		s.startJobLocked(j)
	}
	s.logger.Info("scheduler: started", slog.Int("tasks", len(s.jobs)))
}

// Stop cancels all job goroutines without waiting for them. Stopping an
// already-stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.running = false
	s.logger.Info("scheduler: stopped")
}

// Shutdown stops the scheduler and waits for in-flight job executions to
// drain, or for ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler: shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) startJobLocked(j *job) {
	jobCtx, cancel := context.WithCancel(s.ctx)
	j.cancel = cancel
	s.wg.Add(1)
	go s.runJob(jobCtx, j)
}

// runJob is one job's firing loop. It computes the next fire time, sleeps,
// and executes. Paused jobs skip the execution but keep advancing.
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer s.wg.Done()

	for {
		next, err := s.nextFire(j)
		if err != nil {
			s.logger.Error("scheduler: cannot compute next fire time",
				slog.String("task_id", j.id),
				slog.String("error", err.Error()),
			)
			return
		}

		s.mu.Lock()
		j.nextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		paused := j.paused
		s.mu.Unlock()

		if !paused {
			s.execute(ctx, j)
		}

		if j.kind == triggerOnce {
			s.mu.Lock()
			// Only self-remove if this job instance still owns the id
			// (it may have been replaced while executing).
			if current, ok := s.jobs[j.id]; ok && current == j {
				s.removeLocked(j.id)
			}
			s.mu.Unlock()
			return
		}
	}
}

func (s *Scheduler) nextFire(j *job) (time.Time, error) {
	now := time.Now()
	switch j.kind {
	case triggerInterval:
		return now.Add(j.interval), nil
	case triggerCron:
		return nextCronTime(j.cronExpr, now.UTC())
	default:
		if j.runAt.After(now) {
			return j.runAt, nil
		}
		return now, nil
	}
}

// execute runs the job body, containing panics and logging errors so a
// failing task never escapes to the scheduler.
func (s *Scheduler) execute(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: task panicked",
				slog.String("task_id", j.id),
				slog.Any("panic", r),
			)
		}
	}()

	if err := j.fn(ctx); err != nil {
		s.logger.Error("scheduler: task failed",
			slog.String("task_id", j.id),
			slog.String("error", err.Error()),
		)
	}
}
