// Package events reports worker progress to external listeners.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Type names an event
type Type string

// Event types
const (
	JobStarted         Type = "job_started"
	JobCompleted       Type = "job_completed"
	JobFailed          Type = "job_failed"
	JobAborted         Type = "job_aborted"
	SessionValidated   Type = "session_validated"
	SessionInvalidated Type = "session_invalidated"
	WorkerStopped      Type = "worker_stopped"
)

// Event is one published notification
type Event struct {
	Type    Type      `json:"type"`
	JobID   string    `json:"job_id,omitempty"`
	JobName string    `json:"job_name,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// amqpPublisher is the part of rabbitmq.Client used here
type amqpPublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// RabbitPublisher publishes events as JSON to a RabbitMQ exchange
type RabbitPublisher struct {
	client amqpPublisher
	logger *slog.Logger
}

// NewRabbitPublisher creates a publisher on top of a connected client
func NewRabbitPublisher(client amqpPublisher, logger *slog.Logger) *RabbitPublisher {
	return &RabbitPublisher{client: client, logger: logger}
}

func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	p.logger.Debug("Event published",
		slog.String("type", string(event.Type)),
		slog.String("job_id", event.JobID),
	)
	return nil
}

// Recorder keeps events in memory. A full buffer blocks Publish.
type Recorder struct {
	ch chan Event
}

// NewRecorder creates a recorder buffering up to size events
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Publish(ctx context.Context, event Event) error {
	select {
	case r.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the receive side of the recorder
func (r *Recorder) Events() <-chan Event {
	return r.ch
}
