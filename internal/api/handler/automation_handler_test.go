package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/console-automator/internal/api/dto"
	"github.com/cuongbtq/console-automator/internal/intake"
	"github.com/cuongbtq/console-automator/internal/queue"
	"github.com/cuongbtq/console-automator/internal/session"
	"github.com/cuongbtq/console-automator/internal/worker"
	"github.com/cuongbtq/console-automator/internal/worker/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeWorker struct {
	mu       sync.Mutex
	status   worker.Status
	starts   int
	clears   int
	clearErr error
}

func (f *fakeWorker) Status() worker.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeWorker) EnsureStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status.State != domain.StateStopped {
		return false
	}
	f.starts++
	f.status.State = domain.StateInitializing
	return true
}

func (f *fakeWorker) ClearSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status.State != domain.StateStopped {
		return domain.ErrWorkerNotStopped
	}
	if f.clearErr != nil {
		return f.clearErr
	}
	f.clears++
	f.status.Session = session.Status{Valid: false, Message: session.MessageNoSession}
	return nil
}

func validSession() session.Status {
	return session.Status{Valid: true, Message: session.MessageValid}
}

func setup(w *fakeWorker) (*gin.Engine, *queue.Queue) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New()
	h := NewAutomationHandler(&Dependencies{
		Logger: logger,
		Queue:  q,
		Worker: w,
		Intake: intake.NewService(q, w, logger),
	})

	r := gin.New()
	r.POST("/run_automation", h.RunAutomation)
	r.GET("/automation_status", h.AutomationStatus)
	r.GET("/session_status", h.SessionStatus)
	r.POST("/worker/start", h.StartWorker)
	r.DELETE("/session", h.ClearSession)
	return r, q
}

func do(r http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRunAutomation(t *testing.T) {
	form := url.Values{"app_names": {"Acme Diner\n\n  Best Pizza  \n"}}.Encode()

	tests := []struct {
		name        string
		status      worker.Status
		contentType string
		body        string
		wantCode    int
		wantStatus  string
		wantQueue   []string
		wantStarts  int
	}{
		{
			name:        "form body on running worker",
			status:      worker.Status{State: domain.StateIdleWait, Session: validSession()},
			contentType: "application/x-www-form-urlencoded",
			body:        form,
			wantCode:    http.StatusOK,
			wantStatus:  dto.StatusSuccess,
			wantQueue:   []string{"Acme Diner", "Best Pizza"},
		},
		{
			name:        "json string field",
			status:      worker.Status{State: domain.StateRunning, Session: validSession()},
			contentType: "application/json",
			body:        `{"app_names":"One\nTwo"}`,
			wantCode:    http.StatusOK,
			wantStatus:  dto.StatusSuccess,
			wantQueue:   []string{"One", "Two"},
		},
		{
			name:        "json list wakes stopped worker",
			status:      worker.Status{State: domain.StateStopped, Session: validSession()},
			contentType: "application/json",
			body:        `{"app_names":["One"," Two "]}`,
			wantCode:    http.StatusOK,
			wantStatus:  dto.StatusSuccess,
			wantQueue:   []string{"One", "Two"},
			wantStarts:  1,
		},
		{
			name:        "plain text lines",
			status:      worker.Status{State: domain.StateRunning, Session: validSession()},
			contentType: "text/plain",
			body:        "Alpha\r\nBeta\n",
			wantCode:    http.StatusOK,
			wantStatus:  dto.StatusSuccess,
			wantQueue:   []string{"Alpha", "Beta"},
		},
		{
			name:        "blank names",
			status:      worker.Status{State: domain.StateRunning, Session: validSession()},
			contentType: "application/x-www-form-urlencoded",
			body:        url.Values{"app_names": {"\n \n"}}.Encode(),
			wantCode:    http.StatusBadRequest,
			wantStatus:  dto.StatusError,
		},
		{
			name:        "empty body",
			status:      worker.Status{State: domain.StateRunning, Session: validSession()},
			contentType: "application/json",
			wantCode:    http.StatusBadRequest,
			wantStatus:  dto.StatusError,
		},
		{
			name:        "malformed json",
			status:      worker.Status{State: domain.StateRunning, Session: validSession()},
			contentType: "application/json",
			body:        `{"app_names":`,
			wantCode:    http.StatusBadRequest,
			wantStatus:  dto.StatusError,
		},
		{
			name: "session not valid",
			status: worker.Status{
				State:   domain.StateStopped,
				Session: session.Status{Valid: false, Message: session.MessageSignIn},
			},
			contentType: "application/x-www-form-urlencoded",
			body:        form,
			wantCode:    http.StatusConflict,
			wantStatus:  dto.StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWorker{status: tt.status}
			r, q := setup(w)

			rec := do(r, http.MethodPost, "/run_automation", tt.contentType, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])

			snap := q.Snapshot()
			if tt.wantQueue == nil {
				assert.Empty(t, snap.Pending)
			} else {
				assert.Equal(t, tt.wantQueue, queue.Names(snap.Pending))
				assert.EqualValues(t, len(tt.wantQueue), body["queue_size"])
			}
			assert.Equal(t, tt.wantStarts, w.starts)
		})
	}
}

func TestRunAutomation_OversizedBody(t *testing.T) {
	filler := strings.Repeat("x", maxBodyBytes)

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{name: "plain text", contentType: "text/plain", body: "Acme Diner\n" + filler + "TAIL\nBest Pizza\n"},
		{name: "json", contentType: "application/json", body: `{"app_names":"Acme Diner\n` + filler + `"}`},
		{name: "form", contentType: "application/x-www-form-urlencoded", body: url.Values{"app_names": {"Acme Diner\n" + filler}}.Encode()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWorker{status: worker.Status{State: domain.StateRunning, Session: validSession()}}
			r, q := setup(w)

			rec := do(r, http.MethodPost, "/run_automation", tt.contentType, tt.body)
			require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, dto.StatusError, resp.Status)
			assert.Contains(t, resp.Message, "exceeds")
			assert.Zero(t, q.Len())
		})
	}
}

func TestRunAutomation_RejectedIncludesSessionStatus(t *testing.T) {
	w := &fakeWorker{status: worker.Status{
		State:   domain.StateStopped,
		Session: session.Status{Valid: false, Message: session.MessageNoSession},
	}}
	r, _ := setup(w)

	rec := do(r, http.MethodPost, "/run_automation", "text/plain", "Acme Diner")
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, dto.StatusError, resp.Status)
	require.NotNil(t, resp.SessionStatus)
	assert.False(t, resp.SessionStatus.Valid)
	assert.Equal(t, session.MessageNoSession, resp.SessionStatus.Message)
	assert.Contains(t, resp.Message, session.MessageNoSession)
	assert.Zero(t, w.starts)
}

func TestAutomationStatus(t *testing.T) {
	validated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := &fakeWorker{status: worker.Status{
		State:         domain.StateDraining,
		Session:       validSession(),
		LastValidated: validated,
		Completed:     3,
		Failed:        1,
	}}
	r, q := setup(w)
	q.EnqueueMany([]string{"First", "Second", "Third"})
	_, ok := q.DequeueNext()
	require.True(t, ok)

	rec := do(r, http.MethodGet, "/automation_status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.AutomationStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Running)
	require.NotNil(t, resp.CurrentProcessing)
	assert.Equal(t, "First", *resp.CurrentProcessing)
	assert.Equal(t, 2, resp.QueueSize)
	assert.Equal(t, []string{"Second", "Third"}, resp.QueueList)
	require.Len(t, resp.Queue, 2)
	assert.NotEmpty(t, resp.Queue[0].ID)
	assert.Equal(t, string(domain.StateDraining), resp.WorkerState)
	require.NotNil(t, resp.LastValidated)
	assert.True(t, validated.Equal(*resp.LastValidated))
	assert.Equal(t, 3, resp.JobsCompleted)
	assert.Equal(t, 1, resp.JobsFailed)
}

func TestAutomationStatus_Idle(t *testing.T) {
	w := &fakeWorker{status: worker.Status{
		State:      domain.StateStopped,
		StopReason: domain.ReasonNotStarted,
		Session:    session.NotValidated(),
	}}
	r, _ := setup(w)

	rec := do(r, http.MethodGet, "/automation_status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["running"])
	assert.Nil(t, body["current_processing"])
	assert.Equal(t, []any{}, body["queue_list"])
	assert.Equal(t, domain.ReasonNotStarted, body["stop_reason"])
	assert.NotContains(t, body, "last_validated")
}

func TestSessionStatus(t *testing.T) {
	w := &fakeWorker{status: worker.Status{State: domain.StateIdleWait, Session: validSession()}}
	r, _ := setup(w)

	rec := do(r, http.MethodGet, "/session_status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":true,"message":"Session is valid"}`, rec.Body.String())
}

func TestStartWorker(t *testing.T) {
	w := &fakeWorker{status: worker.Status{State: domain.StateStopped, Session: session.NotValidated()}}
	r, _ := setup(w)

	rec := do(r, http.MethodPost, "/worker/start", "", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), string(domain.StateInitializing))

	rec = do(r, http.MethodPost, "/worker/start", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already initializing")
	assert.Equal(t, 1, w.starts)
}

func TestClearSession(t *testing.T) {
	tests := []struct {
		name     string
		state    domain.State
		clearErr error
		wantCode int
		wantN    int
	}{
		{name: "stopped", state: domain.StateStopped, wantCode: http.StatusOK, wantN: 1},
		{name: "running", state: domain.StateIdleWait, wantCode: http.StatusConflict},
		{name: "store error", state: domain.StateStopped, clearErr: assert.AnError, wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWorker{
				status:   worker.Status{State: tt.state, Session: validSession()},
				clearErr: tt.clearErr,
			}
			r, _ := setup(w)

			rec := do(r, http.MethodDelete, "/session", "", "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantN, w.clears)
		})
	}
}
