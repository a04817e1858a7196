package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/cuongbtq/console-automator/internal/browser"
	"github.com/cuongbtq/console-automator/internal/events"
	"github.com/cuongbtq/console-automator/internal/queue"
	"github.com/cuongbtq/console-automator/internal/worker/domain"
	"github.com/cuongbtq/console-automator/internal/workflow"
)

// processJob runs the workflow for one job. A non-nil error ends the run:
// either ctx is done or a *domain.SessionError.
func (w *Worker) processJob(ctx context.Context, engine browser.Engine, job queue.Job) error {
	logger := w.logger.With(slog.String("job_id", job.ID), slog.String("job_name", job.Name))
	logger.Info("Processing job", slog.Int("pending", w.queue.Len()))
	w.publish(ctx, events.Event{Type: events.JobStarted, JobID: job.ID, JobName: job.Name})

	// Step 1: Re-validate the session before touching the console
	status, err := w.checkSession(ctx, engine)
	if err != nil {
		if ctx.Err() != nil {
			return w.abortOnShutdown(ctx, job)
		}
		// Probe trouble is not proof of a lost session
		w.finish(ctx, domain.Outcome{Job: job, Status: domain.JobStatusFailed, Err: fmt.Errorf("session check failed: %w", err)})
		return nil
	}
	if !status.Valid {
		return w.invalidate(ctx, status, &job)
	}
	w.setSession(status)

	// Step 2: Execute the workflow steps
	result := w.runWorkflow(ctx, engine, job)
	if result.Failed() && ctx.Err() != nil {
		return w.abortOnShutdown(ctx, job)
	}

	outcome := domain.Outcome{Job: job, Status: domain.JobStatusCompleted, Skipped: result.Skipped()}
	for _, step := range result.Steps {
		outcome.Duration += step.Duration
	}
	if result.Failed() {
		outcome.Status = domain.JobStatusFailed
		outcome.Err = result.Err
	} else {
		// Step 3: Persist refreshed cookies after a successful run
		w.persistSession(ctx, engine)
	}

	// Step 4: Record outcome and move on
	w.finish(ctx, outcome)
	return nil
}

// runWorkflow isolates panics in the step execution to the current job.
func (w *Worker) runWorkflow(ctx context.Context, engine browser.Engine, job queue.Job) (result workflow.Result) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Workflow panicked",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = workflow.Result{Job: job, Err: fmt.Errorf("workflow panic: %v", r)}
		}
	}()
	return w.executor.Run(ctx, engine, job)
}

func (w *Worker) finish(ctx context.Context, outcome domain.Outcome) {
	w.queue.FinishCurrent()

	logger := w.logger.With(
		slog.String("job_id", outcome.Job.ID),
		slog.String("job_name", outcome.Job.Name),
	)
	if outcome.Status == domain.JobStatusAborted {
		logger.Warn("Job aborted", slog.String("error", outcome.Err.Error()))
		w.publish(ctx, events.Event{
			Type:    events.JobAborted,
			JobID:   outcome.Job.ID,
			JobName: outcome.Job.Name,
			Error:   outcome.Err.Error(),
		})
		return
	}

	failed := outcome.Status == domain.JobStatusFailed
	w.countOutcome(failed)
	if failed {
		logger.Error("Job failed",
			slog.String("error", outcome.Err.Error()),
			slog.Int("pending", w.queue.Len()),
		)
		w.publish(ctx, events.Event{
			Type:    events.JobFailed,
			JobID:   outcome.Job.ID,
			JobName: outcome.Job.Name,
			Error:   outcome.Err.Error(),
		})
		return
	}

	logger.Info("Job completed successfully",
		slog.Int("skipped_steps", outcome.Skipped),
		slog.Duration("took", outcome.Duration),
	)
	w.publish(ctx, events.Event{Type: events.JobCompleted, JobID: outcome.Job.ID, JobName: outcome.Job.Name})
}

func (w *Worker) abortOnShutdown(ctx context.Context, job queue.Job) error {
	w.finish(ctx, domain.Outcome{Job: job, Status: domain.JobStatusAborted, Err: errors.New(domain.ReasonShutdown)})
	return ctx.Err()
}
