// Package intake accepts batches of app names from the control surface and
// the message broker and hands them to the queue.
package intake

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/console-automator/internal/queue"
	"github.com/cuongbtq/console-automator/internal/session"
	"github.com/cuongbtq/console-automator/internal/worker"
	"github.com/cuongbtq/console-automator/internal/worker/domain"
)

// ErrNoAppNames is returned when a batch has no usable names
var ErrNoAppNames = errors.New("no app names provided")

// Controller is the part of the worker a submission needs
type Controller interface {
	Status() worker.Status
	EnsureStarted() bool
}

// Receipt describes an accepted or rejected batch
type Receipt struct {
	Queued    int
	QueueSize int
	Running   bool
	Started   bool
	Session   session.Status
}

// Service gates submissions on session validity
type Service struct {
	queue  *queue.Queue
	worker Controller
	logger *slog.Logger
}

// NewService creates a new intake service
func NewService(q *queue.Queue, ctrl Controller, logger *slog.Logger) *Service {
	return &Service{queue: q, worker: ctrl, logger: logger}
}

// Submit enqueues names when the session is valid and wakes a stopped worker.
func (s *Service) Submit(names []string, source string) (Receipt, error) {
	status := s.worker.Status()
	receipt := Receipt{Session: status.Session, Running: status.Running(), QueueSize: s.queue.Len()}

	names = queue.CleanNames(names)
	if len(names) == 0 {
		return receipt, ErrNoAppNames
	}

	if !status.Session.Valid {
		s.logger.Warn("Rejecting batch, session not valid",
			slog.String("source", source),
			slog.Int("names", len(names)),
			slog.String("session_message", status.Session.Message),
		)
		return receipt, fmt.Errorf("%w: %s", domain.ErrSessionInvalid, status.Session.Message)
	}

	receipt.QueueSize = s.queue.EnqueueMany(names)
	receipt.Queued = len(names)

	if status.State == domain.StateStopped {
		receipt.Started = s.worker.EnsureStarted()
	}
	receipt.Running = s.worker.Status().Running()

	s.logger.Info("Batch queued",
		slog.String("source", source),
		slog.Int("queued", receipt.Queued),
		slog.Int("queue_size", receipt.QueueSize),
		slog.Bool("worker_started", receipt.Started),
	)
	return receipt, nil
}
