package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/console-automator/internal/browser"
	"github.com/cuongbtq/console-automator/internal/queue"
)

// StepError wraps the failure of one step
type StepError struct {
	Step   string
	Action Action
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (%s): %v", e.Step, e.Action, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StepResult is the outcome of one step
type StepResult struct {
	Step     string
	Action   Action
	Err      error
	Skipped  bool
	Duration time.Duration
}

// Result folds the step results of one job. Err is set when a required step
// failed; the job is then abandoned.
type Result struct {
	Job   queue.Job
	Steps []StepResult
	Err   error
}

// Failed reports whether the job was abandoned
func (r Result) Failed() bool {
	return r.Err != nil
}

// Skipped counts optional steps that failed and were passed over
func (r Result) Skipped() int {
	n := 0
	for _, s := range r.Steps {
		if s.Skipped {
			n++
		}
	}
	return n
}

// ExecutorConfig holds executor dependencies
type ExecutorConfig struct {
	Definition     *Definition
	Navigator      *Navigator
	Uploader       *Uploader
	ElementTimeout time.Duration
	Logger         *slog.Logger
}

// Executor runs a Definition for one job at a time.
type Executor struct {
	def            *Definition
	nav            *Navigator
	up             *Uploader
	elementTimeout time.Duration
	logger         *slog.Logger
	sleep          sleepFunc
}

// NewExecutor creates an executor
func NewExecutor(cfg *ExecutorConfig) *Executor {
	timeout := cfg.ElementTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		def:            cfg.Definition,
		nav:            cfg.Navigator,
		up:             cfg.Uploader,
		elementTimeout: timeout,
		logger:         cfg.Logger,
		sleep:          sleepCtx,
	}
}

// Definition returns the workflow being executed
func (e *Executor) Definition() *Definition {
	return e.def
}

// Navigator returns the navigator shared with the worker's session checks
func (e *Executor) Navigator() *Navigator {
	return e.nav
}

// Run executes every step in order. Optional steps that fail are recorded
// and skipped; the first required failure ends the job.
func (e *Executor) Run(ctx context.Context, engine browser.Engine, job queue.Job) Result {
	result := Result{Job: job, Steps: make([]StepResult, 0, len(e.def.Steps))}
	logger := e.logger.With(slog.String("job_id", job.ID), slog.String("job_name", job.Name))

	for _, step := range e.def.Steps {
		start := time.Now()
		err := e.runStep(ctx, engine, step, job.Name)
		sr := StepResult{Step: step.Name, Action: step.Action, Err: err, Duration: time.Since(start)}

		if err != nil && step.Optional && ctx.Err() == nil {
			sr.Skipped = true
			logger.Warn("Optional step failed, continuing",
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
		}
		result.Steps = append(result.Steps, sr)

		if err != nil && !sr.Skipped {
			result.Err = &StepError{Step: step.Name, Action: step.Action, Err: err}
			return result
		}
		if err == nil {
			logger.Debug("Step done",
				slog.String("step", step.Name),
				slog.Duration("took", sr.Duration),
			)
		}
	}
	return result
}

func (e *Executor) runStep(ctx context.Context, engine browser.Engine, step Step, appName string) error {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.elementTimeout
	}

	switch step.Action {
	case ActionNavigate:
		url, err := e.def.Render(step.URL, appName)
		if err != nil {
			return err
		}
		_, err = e.nav.Navigate(ctx, engine, url, step.WaitFor)
		return err

	case ActionClick:
		return engine.Click(ctx, step.Selector, timeout)

	case ActionClickNth:
		return engine.ClickNth(ctx, step.Selector, step.Index, timeout)

	case ActionFill:
		value, err := e.def.Render(step.Value, appName)
		if err != nil {
			return err
		}
		return engine.Fill(ctx, step.Selector, value, timeout)

	case ActionUpload:
		file, err := e.def.Render(step.File, appName)
		if err != nil {
			return err
		}
		_, err = e.up.Upload(ctx, engine, step.Selector, file)
		return err

	case ActionWait:
		return engine.WaitVisible(ctx, step.Selector, timeout)

	case ActionPause:
		return e.sleep(ctx, step.Duration)
	}
	return fmt.Errorf("unknown action %q", step.Action)
}
