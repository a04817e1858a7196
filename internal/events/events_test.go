package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	bodies       [][]byte
	contentTypes []string
	err          error
}

func (f *fakeClient) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.bodies = append(f.bodies, body)
	f.contentTypes = append(f.contentTypes, contentType)
	return nil
}

func TestRabbitPublisher_Publish(t *testing.T) {
	client := &fakeClient{}
	p := NewRabbitPublisher(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := p.Publish(context.Background(), Event{Type: JobFailed, JobID: "j1", JobName: "Acme Diner", Error: "step failed"})
	require.NoError(t, err)
	require.Len(t, client.bodies, 1)
	assert.Equal(t, "application/json", client.contentTypes[0])

	var got map[string]any
	require.NoError(t, json.Unmarshal(client.bodies[0], &got))
	assert.Equal(t, "job_failed", got["type"])
	assert.Equal(t, "j1", got["job_id"])
	assert.Equal(t, "Acme Diner", got["job_name"])
	assert.Equal(t, "step failed", got["error"])
	assert.NotEmpty(t, got["at"])
	assert.NotContains(t, got, "message")
}

func TestRabbitPublisher_PublishError(t *testing.T) {
	client := &fakeClient{err: errors.New("channel closed")}
	p := NewRabbitPublisher(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := p.Publish(context.Background(), Event{Type: WorkerStopped})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker_stopped")
	assert.Contains(t, err.Error(), "channel closed")
}

func TestRecorder(t *testing.T) {
	r := NewRecorder(1)
	require.NoError(t, r.Publish(context.Background(), Event{Type: JobStarted}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Publish(ctx, Event{Type: JobCompleted}), context.DeadlineExceeded)

	ev := <-r.Events()
	assert.Equal(t, JobStarted, ev.Type)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{Type: JobStarted}))
}
