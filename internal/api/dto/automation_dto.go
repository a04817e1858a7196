package dto

import (
	"time"

	"github.com/cuongbtq/console-automator/internal/session"
)

// Response status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RunAutomationRequest is the form or JSON body of POST /run_automation
type RunAutomationRequest struct {
	AppNames string `form:"app_names" json:"app_names"`
}

// RunAutomationResponse is returned when a batch is queued
type RunAutomationResponse struct {
	Status        string         `json:"status"`
	Message       string         `json:"message"`
	QueueSize     int            `json:"queue_size"`
	Running       bool           `json:"running"`
	SessionStatus session.Status `json:"session_status"`
}

// ErrorResponse is returned for rejected requests
type ErrorResponse struct {
	Status        string          `json:"status"`
	Message       string          `json:"message"`
	SessionStatus *session.Status `json:"session_status,omitempty"`
}

// QueuedJob is one entry of the queue listing
type QueuedJob struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// AutomationStatusResponse is returned by GET /automation_status
type AutomationStatusResponse struct {
	Running           bool           `json:"running"`
	CurrentProcessing *string        `json:"current_processing"`
	QueueSize         int            `json:"queue_size"`
	QueueList         []string       `json:"queue_list"`
	Queue             []QueuedJob    `json:"queue"`
	SessionStatus     session.Status `json:"session_status"`
	WorkerState       string         `json:"worker_state"`
	StopReason        string         `json:"stop_reason,omitempty"`
	LastValidated     *time.Time     `json:"last_validated,omitempty"`
	JobsCompleted     int            `json:"jobs_completed"`
	JobsFailed        int            `json:"jobs_failed"`
}

// WorkerActionResponse is returned by worker and session control routes
type WorkerActionResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	WorkerState string `json:"worker_state"`
}
