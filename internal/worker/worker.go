package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/console-automator/internal/browser"
	"github.com/cuongbtq/console-automator/internal/events"
	"github.com/cuongbtq/console-automator/internal/queue"
	"github.com/cuongbtq/console-automator/internal/session"
	"github.com/cuongbtq/console-automator/internal/worker/domain"
	"github.com/cuongbtq/console-automator/internal/workflow"
)

// Config holds worker configuration
type Config struct {
	Logger    *slog.Logger
	Queue     *queue.Queue
	Store     session.Store
	Validator *session.Validator
	Executor  *workflow.Executor
	Browser   browser.Factory
	Events    events.Publisher
	// PollInterval is how long the worker idles between queue checks.
	PollInterval time.Duration
	// AutoStart launches the browser as soon as Start is called.
	AutoStart bool
}

// Status is a point-in-time view of the worker
type Status struct {
	State         domain.State   `json:"state"`
	StopReason    string         `json:"stop_reason,omitempty"`
	Session       session.Status `json:"session_status"`
	LastValidated time.Time      `json:"last_validated,omitempty"`
	Completed     int            `json:"jobs_completed"`
	Failed        int            `json:"jobs_failed"`
}

// Running reports whether the worker is consuming the queue
func (s Status) Running() bool {
	return s.State.Active()
}

// Worker owns the browser and processes queued jobs one at a time.
// All browser work happens on the goroutine running Start.
type Worker struct {
	logger       *slog.Logger
	queue        *queue.Queue
	store        session.Store
	validator    *session.Validator
	executor     *workflow.Executor
	browser      browser.Factory
	events       events.Publisher
	pollInterval time.Duration
	autoStart    bool

	mu            sync.RWMutex
	state         domain.State
	stopReason    string
	sessionStatus session.Status
	lastValidated time.Time
	completed     int
	failed        int
	stopped       bool

	startChan      chan struct{}
	revalidateChan chan struct{}
	wg             sync.WaitGroup
	stopChan       chan struct{}
	stopOnce       sync.Once
	now            func() time.Time
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Worker{
		logger:         cfg.Logger,
		queue:          cfg.Queue,
		store:          cfg.Store,
		validator:      cfg.Validator,
		executor:       cfg.Executor,
		browser:        cfg.Browser,
		events:         publisher,
		pollInterval:   poll,
		autoStart:      cfg.AutoStart,
		state:          domain.StateStopped,
		stopReason:     domain.ReasonNotStarted,
		sessionStatus:  session.NotValidated(),
		startChan:      make(chan struct{}, 1),
		revalidateChan: make(chan struct{}, 1),
		stopChan:       make(chan struct{}),
		now:            time.Now,
	}
}

// Start runs the worker until ctx is canceled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	// Add under mu so it cannot race the Wait in Stop
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.logger.Info("Starting worker",
		slog.Duration("poll_interval", w.pollInterval),
		slog.Bool("auto_start", w.autoStart),
	)

	if w.autoStart {
		w.EnsureStarted()
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker context canceled, stopping...")
			return nil

		case <-w.startChan:
			w.runSession(ctx)

		case <-w.revalidateChan:
			w.logger.Debug("Revalidation requested while stopped, ignoring")
		}
	}
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// EnsureStarted requests a browser launch when the worker is stopped.
// It returns false when the worker is already starting or running.
func (w *Worker) EnsureStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != domain.StateStopped {
		return false
	}
	w.state = domain.StateInitializing
	w.stopReason = ""

	select {
	case w.startChan <- struct{}{}:
	default:
	}
	return true
}

// RequestRevalidation asks an idle worker to re-check the session.
func (w *Worker) RequestRevalidation() {
	select {
	case w.revalidateChan <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the worker state
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Status{
		State:         w.state,
		StopReason:    w.stopReason,
		Session:       w.sessionStatus,
		LastValidated: w.lastValidated,
		Completed:     w.completed,
		Failed:        w.failed,
	}
}

// ClearSession deletes the persisted session. The worker must be stopped.
func (w *Worker) ClearSession(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != domain.StateStopped {
		return fmt.Errorf("cannot clear session in state %s: %w", w.state, domain.ErrWorkerNotStopped)
	}
	if err := w.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	w.sessionStatus = session.Status{Valid: false, Message: session.MessageNoSession}
	w.logger.Info("Persisted session cleared")
	return nil
}

func (w *Worker) setState(state domain.State) {
	w.mu.Lock()
	prev := w.state
	w.state = state
	w.mu.Unlock()

	if prev != state {
		w.logger.Debug("Worker state changed",
			slog.String("from", string(prev)),
			slog.String("to", string(state)),
		)
	}
}

func (w *Worker) setSession(status session.Status) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessionStatus = status
	if status.Valid {
		w.lastValidated = w.now()
	}
}

func (w *Worker) countOutcome(failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if failed {
		w.failed++
	} else {
		w.completed++
	}
}

// halt moves the worker to STOPPED and marks the queue idle.
func (w *Worker) halt(ctx context.Context, reason string) {
	w.queue.MarkIdle()

	w.mu.Lock()
	w.state = domain.StateStopped
	w.stopReason = reason
	w.mu.Unlock()

	w.logger.Info("Worker halted", slog.String("reason", reason))
	w.publish(ctx, events.Event{Type: events.WorkerStopped, Message: reason})
}

// stopOn halts the worker after processJob or revalidate ended the run.
func (w *Worker) stopOn(ctx context.Context, err error) {
	var sessionErr *domain.SessionError
	if errors.As(err, &sessionErr) {
		w.halt(ctx, "Session invalid: "+sessionErr.Reason)
		return
	}
	w.halt(ctx, domain.ReasonShutdown)
}

// runSession launches the browser and drains the queue until the session
// is lost or ctx is done.
func (w *Worker) runSession(ctx context.Context) {
	w.setState(domain.StateInitializing)

	engine, err := w.browser(ctx)
	if err != nil {
		w.logger.Error("Failed to launch browser", slog.String("error", err.Error()))
		w.halt(ctx, fmt.Sprintf("Browser launch failed: %v", err))
		return
	}
	defer func() {
		if err := engine.Close(); err != nil {
			w.logger.Warn("Failed to close browser", slog.String("error", err.Error()))
		}
	}()

	status, err := w.initialize(ctx, engine)
	if err != nil {
		if ctx.Err() != nil {
			w.halt(ctx, domain.ReasonShutdown)
			return
		}
		w.logger.Error("Worker initialization failed", slog.String("error", err.Error()))
		w.halt(ctx, fmt.Sprintf("Initialization failed: %v", err))
		return
	}
	if !status.Valid {
		w.stopOn(ctx, w.invalidate(ctx, status, nil))
		return
	}

	w.setState(domain.StateRunning)
	w.queue.MarkActive()
	w.logger.Info("Worker running", slog.Int("pending", w.queue.Len()))

	w.drain(ctx, engine)
}

// drain is the consumption loop: one job at a time, idling when empty.
func (w *Worker) drain(ctx context.Context, engine browser.Engine) {
	for {
		if ctx.Err() != nil {
			w.halt(ctx, domain.ReasonShutdown)
			return
		}

		job, ok := w.queue.DequeueNext()
		if !ok {
			w.setState(domain.StateIdleWait)

			select {
			case <-ctx.Done():
				w.halt(ctx, domain.ReasonShutdown)
				return

			case <-w.revalidateChan:
				if err := w.revalidate(ctx, engine); err != nil {
					w.stopOn(ctx, err)
					return
				}

			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.setState(domain.StateDraining)
		if err := w.processJob(ctx, engine, job); err != nil {
			w.stopOn(ctx, err)
			return
		}
	}
}
