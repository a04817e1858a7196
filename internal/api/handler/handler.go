package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/console-automator/internal/intake"
	"github.com/cuongbtq/console-automator/internal/queue"
	"github.com/cuongbtq/console-automator/internal/worker"
)

// WorkerController is the worker surface the control plane may use. It
// never exposes the browser.
type WorkerController interface {
	Status() worker.Status
	EnsureStarted() bool
	ClearSession(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	ServiceName string
	Queue       *queue.Queue
	Worker      WorkerController
	Intake      *intake.Service
	// TokenHash enables bearer auth when set (bcrypt)
	TokenHash string
}

// AutomationHandler handles automation-related HTTP requests
type AutomationHandler struct {
	logger       *slog.Logger
	queue        *queue.Queue
	worker       WorkerController
	intake       *intake.Service
	serviceName  string
	authRequired bool
}

// NewAutomationHandler creates a new AutomationHandler instance
func NewAutomationHandler(deps *Dependencies) *AutomationHandler {
	return &AutomationHandler{
		logger:       deps.Logger,
		queue:        deps.Queue,
		worker:       deps.Worker,
		intake:       deps.Intake,
		serviceName:  deps.ServiceName,
		authRequired: deps.TokenHash != "",
	}
}
