// Package analysis provides an in-process implementation of the analysis-job
// contract. Jobs run in their own goroutine; callers poll GetJob until the
// status turns terminal.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptoagent/internal/domain"
)

// RunFunc produces analysis results for a goal. Implementations may take
// minutes; they must honor ctx cancellation.
type RunFunc func(ctx context.Context, goal string, metadata map[string]string) (*domain.AnalysisResults, error)

// Runner is an in-process domain.AnalysisService backed by a job table.
type Runner struct {
	logger *slog.Logger
	run    RunFunc

	mu   sync.Mutex
	jobs map[string]*domain.AnalysisJob
}

var _ domain.AnalysisService = (*Runner)(nil)

// NewRunner creates a runner that executes jobs with fn.
func NewRunner(fn RunFunc, logger *slog.Logger) *Runner {
	return &Runner{
		logger: logger.With(slog.String("component", "analysis")),
		run:    fn,
		jobs:   make(map[string]*domain.AnalysisJob),
	}
}

// StartAnalysis registers a job and launches it. The returned job ID can be
// polled with GetJob immediately.
func (r *Runner) StartAnalysis(ctx context.Context, goal string, metadata map[string]string) (string, error) {
	if r.run == nil {
		return "", fmt.Errorf("analysis: start: no run function configured")
	}

	id := "analysis_" + uuid.NewString()[:8]
	job := &domain.AnalysisJob{
		ID:        id,
		Goal:      goal,
		Status:    domain.AnalysisQueued,
		StartedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()

	r.logger.Info("analysis: job started",
		slog.String("job_id", id),
		slog.String("goal", goal),
	)

	// Detach from the caller's context: the job outlives the request that
	// started it.
	go r.execute(context.WithoutCancel(ctx), id, goal, metadata)

	return id, nil
}

// GetJob returns a copy of the job's current state.
func (r *Runner) GetJob(ctx context.Context, jobID string) (domain.AnalysisJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return domain.AnalysisJob{}, fmt.Errorf("analysis: get job %q: %w", jobID, domain.ErrNotFound)
	}
	return *job, nil
}

func (r *Runner) execute(ctx context.Context, id, goal string, metadata map[string]string) {
	r.setStatus(id, domain.AnalysisRunning, nil, "")

	results, err := r.runSafely(ctx, goal, metadata)
	if err != nil {
		r.logger.Error("analysis: job failed",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		r.setStatus(id, domain.AnalysisFailed, nil, err.Error())
		return
	}

	if results != nil {
		results.JobID = id
	}
	r.setStatus(id, domain.AnalysisCompleted, results, "")
	r.logger.Info("analysis: job completed", slog.String("job_id", id))
}

// runSafely contains panics from the injected run function.
func (r *Runner) runSafely(ctx context.Context, goal string, metadata map[string]string) (results *domain.AnalysisResults, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("analysis: run panicked: %v", rec)
		}
	}()
	return r.run(ctx, goal, metadata)
}

func (r *Runner) setStatus(id string, status domain.AnalysisStatus, results *domain.AnalysisResults, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return
	}
	job.Status = status
	job.Results = results
	job.Error = errMsg
}
