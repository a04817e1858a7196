package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/console-automator/internal/browser"
	"github.com/cuongbtq/console-automator/internal/events"
	"github.com/cuongbtq/console-automator/internal/queue"
	"github.com/cuongbtq/console-automator/internal/session"
	"github.com/cuongbtq/console-automator/internal/worker/domain"
)

const publishTimeout = 5 * time.Second

// initialize restores the persisted session into the browser, or waits for
// a human to sign in when none exists, and reports the resulting validity.
func (w *Worker) initialize(ctx context.Context, engine browser.Engine) (session.Status, error) {
	home, err := w.executor.Definition().Home()
	if err != nil {
		return session.Status{}, fmt.Errorf("failed to render home url: %w", err)
	}

	state, err := w.store.Load(ctx)
	switch {
	case errors.Is(err, session.ErrNoSession):
		w.setSession(session.Status{Valid: false, Message: session.MessageNoSession})
		w.logger.Warn("No persisted session, manual sign-in required")

		if _, err := w.executor.Navigator().Navigate(ctx, engine, home, ""); err != nil {
			return session.Status{}, fmt.Errorf("failed to open console: %w", err)
		}
		if err := w.validator.WaitForLogin(ctx, engine); err != nil {
			return session.Status{}, err
		}
		w.persistSession(ctx, engine)

		status := session.Status{Valid: true, Message: session.MessageValid}
		w.setSession(status)
		w.publish(ctx, events.Event{Type: events.SessionValidated, Message: status.Message})
		return status, nil

	case err != nil:
		return session.Status{}, fmt.Errorf("failed to load session: %w", err)
	}

	w.logger.Info("Restoring persisted session",
		slog.Int("cookies", len(state.Cookies)),
		slog.Time("saved_at", state.SavedAt),
	)
	if err := engine.SetCookies(ctx, state.Cookies); err != nil {
		return session.Status{}, fmt.Errorf("failed to restore cookies: %w", err)
	}

	status, err := w.checkSession(ctx, engine)
	if err != nil {
		return session.Status{}, err
	}
	if status.Valid {
		w.setSession(status)
		w.publish(ctx, events.Event{Type: events.SessionValidated, Message: status.Message})
	}
	return status, nil
}

// checkSession opens the console home page and validates the session there.
func (w *Worker) checkSession(ctx context.Context, engine browser.Engine) (session.Status, error) {
	home, err := w.executor.Definition().Home()
	if err != nil {
		return session.Status{}, fmt.Errorf("failed to render home url: %w", err)
	}
	if _, err := w.executor.Navigator().Navigate(ctx, engine, home, ""); err != nil {
		return session.Status{}, fmt.Errorf("failed to open console: %w", err)
	}
	return w.validator.Validate(ctx, engine)
}

// revalidate re-checks the session while idle. A probe failure is logged
// and left for the next check; an invalid session stops the worker.
func (w *Worker) revalidate(ctx context.Context, engine browser.Engine) error {
	w.logger.Debug("Revalidating session")

	status, err := w.checkSession(ctx, engine)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("Session revalidation failed", slog.String("error", err.Error()))
		return nil
	}
	if !status.Valid {
		return w.invalidate(ctx, status, nil)
	}

	w.setSession(status)
	return nil
}

// invalidate records the lost session and drops all pending work. The
// returned *domain.SessionError tells the caller to stop the worker.
// current is the job in flight, if any.
func (w *Worker) invalidate(ctx context.Context, status session.Status, current *queue.Job) error {
	w.setSession(status)

	dropped := w.queue.Clear()
	if current != nil {
		dropped = append([]queue.Job{*current}, dropped...)
	}

	w.logger.Error("Session invalidated, stopping worker",
		slog.String("message", status.Message),
		slog.Int("dropped_jobs", len(dropped)),
		slog.Any("dropped", queue.Names(dropped)),
	)

	w.publish(ctx, events.Event{Type: events.SessionInvalidated, Message: status.Message})
	for _, job := range dropped {
		w.publish(ctx, events.Event{
			Type:    events.JobAborted,
			JobID:   job.ID,
			JobName: job.Name,
			Error:   status.Message,
		})
	}

	w.queue.FinishCurrent()
	return domain.NewSessionError(status.Message)
}

// persistSession saves the browser cookies. Failures are logged only.
func (w *Worker) persistSession(ctx context.Context, engine browser.Engine) {
	cookies, err := engine.Cookies(ctx)
	if err != nil {
		w.logger.Warn("Failed to read browser cookies", slog.String("error", err.Error()))
		return
	}

	state := &session.State{Cookies: cookies, SavedAt: w.now().UTC()}
	if err := w.store.Save(ctx, state); err != nil {
		w.logger.Warn("Failed to persist session", slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("Session persisted", slog.Int("cookies", len(cookies)))
}

// publish sends an event without letting delivery problems affect the run.
func (w *Worker) publish(ctx context.Context, event events.Event) {
	if event.At.IsZero() {
		event.At = w.now().UTC()
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := w.events.Publish(pctx, event); err != nil {
		w.logger.Warn("Failed to publish event",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()),
		)
	}
}
