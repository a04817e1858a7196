package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/console-automator/internal/api/dto"
	"github.com/cuongbtq/console-automator/internal/intake"
	"github.com/cuongbtq/console-automator/internal/queue"
	"github.com/cuongbtq/console-automator/internal/worker/domain"
	"github.com/gin-gonic/gin"
)

const maxBodyBytes = 1 << 20

// RunAutomation handles POST /run_automation
// Queues one job per non-empty line of app names
func (h *AutomationHandler) RunAutomation(c *gin.Context) {
	// 1. Read names from the form field or the raw body
	names, err := h.readNames(c)
	if tooLarge := new(http.MaxBytesError); errors.As(err, &tooLarge) {
		h.logger.Warn("Rejected oversized run_automation body", slog.Int64("limit", tooLarge.Limit))
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
			Status:  dto.StatusError,
			Message: fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit),
		})
		return
	}
	if err != nil {
		h.logger.Warn("Invalid run_automation body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Status:  dto.StatusError,
			Message: "Invalid request body",
		})
		return
	}

	// 2. Gate on session validity and enqueue
	receipt, err := h.intake.Submit(names, "http")
	if err != nil {
		session := receipt.Session
		switch {
		case errors.Is(err, intake.ErrNoAppNames):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Status:        dto.StatusError,
				Message:       "No app names provided",
				SessionStatus: &session,
			})
		case errors.Is(err, domain.ErrSessionInvalid):
			c.JSON(http.StatusConflict, dto.ErrorResponse{
				Status:        dto.StatusError,
				Message:       "Session is not valid: " + session.Message,
				SessionStatus: &session,
			})
		default:
			h.logger.Error("Failed to queue batch", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
				Status:  dto.StatusError,
				Message: "Failed to queue apps",
			})
		}
		return
	}

	// 3. Return the queue view
	c.JSON(http.StatusOK, dto.RunAutomationResponse{
		Status:        dto.StatusSuccess,
		Message:       fmt.Sprintf("Queued %d app(s)", receipt.Queued),
		QueueSize:     receipt.QueueSize,
		Running:       receipt.Running,
		SessionStatus: receipt.Session,
	})
}

func (h *AutomationHandler) readNames(c *gin.Context) ([]string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	contentType := c.ContentType()
	if contentType == "application/x-www-form-urlencoded" || contentType == "multipart/form-data" {
		var req dto.RunAutomationRequest
		if err := c.ShouldBind(&req); err != nil {
			return nil, err
		}
		return queue.SplitNames(req.AppNames), nil
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil, nil
	}
	if contentType == "application/json" {
		return parseJSONNames(body)
	}
	return queue.SplitNames(string(body)), nil
}

// parseJSONNames accepts {"app_names": "a\nb"} as well as the list forms
// understood by the broker intake.
func parseJSONNames(body []byte) ([]string, error) {
	var req dto.RunAutomationRequest
	if err := json.Unmarshal(body, &req); err == nil {
		return queue.SplitNames(req.AppNames), nil
	}
	return intake.ParseBatch(body)
}

// AutomationStatus handles GET /automation_status
func (h *AutomationHandler) AutomationStatus(c *gin.Context) {
	snap := h.queue.Snapshot()
	status := h.worker.Status()

	resp := dto.AutomationStatusResponse{
		Running:       status.Running(),
		QueueSize:     len(snap.Pending),
		QueueList:     queue.Names(snap.Pending),
		Queue:         make([]dto.QueuedJob, 0, len(snap.Pending)),
		SessionStatus: status.Session,
		WorkerState:   string(status.State),
		StopReason:    status.StopReason,
		JobsCompleted: status.Completed,
		JobsFailed:    status.Failed,
	}
	if snap.Current != nil {
		name := snap.Current.Name
		resp.CurrentProcessing = &name
	}
	for _, job := range snap.Pending {
		resp.Queue = append(resp.Queue, dto.QueuedJob{ID: job.ID, Name: job.Name, EnqueuedAt: job.EnqueuedAt})
	}
	if !status.LastValidated.IsZero() {
		at := status.LastValidated
		resp.LastValidated = &at
	}

	c.JSON(http.StatusOK, resp)
}

// SessionStatus handles GET /session_status
func (h *AutomationHandler) SessionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.worker.Status().Session)
}

// StartWorker handles POST /worker/start
func (h *AutomationHandler) StartWorker(c *gin.Context) {
	started := h.worker.EnsureStarted()
	state := string(h.worker.Status().State)

	if !started {
		c.JSON(http.StatusOK, dto.WorkerActionResponse{
			Status:      dto.StatusSuccess,
			Message:     "Worker already " + strings.ToLower(state),
			WorkerState: state,
		})
		return
	}

	h.logger.Info("Worker start requested")
	c.JSON(http.StatusAccepted, dto.WorkerActionResponse{
		Status:      dto.StatusSuccess,
		Message:     "Worker starting",
		WorkerState: state,
	})
}

// ClearSession handles DELETE /session
func (h *AutomationHandler) ClearSession(c *gin.Context) {
	err := h.worker.ClearSession(c.Request.Context())
	state := string(h.worker.Status().State)

	if errors.Is(err, domain.ErrWorkerNotStopped) {
		c.JSON(http.StatusConflict, dto.WorkerActionResponse{
			Status:      dto.StatusError,
			Message:     "Worker must be stopped before clearing the session",
			WorkerState: state,
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to clear session", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.WorkerActionResponse{
			Status:      dto.StatusError,
			Message:     "Failed to clear session",
			WorkerState: state,
		})
		return
	}

	c.JSON(http.StatusOK, dto.WorkerActionResponse{
		Status:      dto.StatusSuccess,
		Message:     "Session cleared; next start requires manual sign-in",
		WorkerState: state,
	})
}
