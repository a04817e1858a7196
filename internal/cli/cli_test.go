package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Names  string
}

type fakeServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	replies  map[string]reply
}

type reply struct {
	code int
	body string
}

func newFakeServer(t *testing.T, replies map[string]reply) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{replies: replies}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		fs.mu.Lock()
		fs.requests = append(fs.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			Names:  r.PostForm.Get("app_names"),
		})
		fs.mu.Unlock()

		rep, ok := fs.replies[r.Method+" "+r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rep.code)
		_, _ = w.Write([]byte(rep.body))
	}))
	t.Cleanup(srv.Close)
	return fs, srv
}

func (f *fakeServer) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func runCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader("From Stdin\n"))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestSubmit(t *testing.T) {
	fs, srv := newFakeServer(t, map[string]reply{
		"POST /run_automation": {code: 200, body: `{"status":"success","message":"Queued 3 app(s)","queue_size":3,"running":true,"session_status":{"valid":true,"message":"Session is valid"}}`},
	})

	path := filepath.Join(t.TempDir(), "names.txt")
	require.NoError(t, os.WriteFile(path, []byte("Best Pizza\n\nCorner Cafe\n"), 0o600))

	out, _, err := runCmd(t, "--server", srv.URL, "--token", "s3cret", "submit", "Acme Diner", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Queued 3 app(s)")

	req := fs.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "Bearer s3cret", req.Auth)
	assert.Equal(t, "Acme Diner\nBest Pizza\nCorner Cafe", req.Names)
}

func TestSubmit_Stdin(t *testing.T) {
	fs, srv := newFakeServer(t, map[string]reply{
		"POST /run_automation": {code: 200, body: `{"status":"success","message":"Queued 1 app(s)","queue_size":1}`},
	})

	_, _, err := runCmd(t, "--server", srv.URL, "submit", "-f", "-")
	require.NoError(t, err)
	assert.Equal(t, "From Stdin", fs.last().Names)
	assert.Empty(t, fs.last().Auth)
}

func TestSubmit_NoNames(t *testing.T) {
	_, srv := newFakeServer(t, nil)

	_, _, err := runCmd(t, "--server", srv.URL, "submit", "  ")
	assert.EqualError(t, err, "no app names given")
}

func TestSubmit_SessionInvalid(t *testing.T) {
	_, srv := newFakeServer(t, map[string]reply{
		"POST /run_automation": {code: 409, body: `{"status":"error","message":"Session is not valid: No saved session: manual sign-in required","session_status":{"valid":false,"message":"No saved session: manual sign-in required"}}`},
	})

	_, stderr, err := runCmd(t, "--server", srv.URL, "submit", "Acme Diner")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Contains(t, stderr, "automationctl start")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.NotNil(t, apiErr.SessionStatus)
	assert.False(t, apiErr.SessionStatus.Valid)
}

func TestStatus(t *testing.T) {
	_, srv := newFakeServer(t, map[string]reply{
		"GET /automation_status": {code: 200, body: `{"running":true,"current_processing":"Acme Diner","queue_size":2,"queue_list":["Best Pizza","Corner Cafe"],"session_status":{"valid":true,"message":"Session is valid"},"worker_state":"DRAINING","jobs_completed":4,"jobs_failed":1}`},
	})

	out, _, err := runCmd(t, "--server", srv.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "DRAINING")
	assert.Contains(t, out, "Acme Diner")
	assert.Contains(t, out, "1. Best Pizza")
	assert.Contains(t, out, "2. Corner Cafe")
	assert.Contains(t, out, "4 / 1")
}

func TestStatus_JSON(t *testing.T) {
	_, srv := newFakeServer(t, map[string]reply{
		"GET /automation_status": {code: 200, body: `{"running":false,"current_processing":null,"queue_size":0,"queue_list":[],"session_status":{"valid":false,"message":"Session not yet validated"},"worker_state":"STOPPED","jobs_completed":0,"jobs_failed":0}`},
	})

	out, _, err := runCmd(t, "--server", srv.URL, "--json", "status")
	require.NoError(t, err)
	assert.Contains(t, out, `"worker_state": "STOPPED"`)
}

func TestSessionStartLogout(t *testing.T) {
	fs, srv := newFakeServer(t, map[string]reply{
		"GET /session_status": {code: 200, body: `{"valid":true,"message":"Session is valid"}`},
		"POST /worker/start":  {code: 202, body: `{"status":"success","message":"Worker starting","worker_state":"INITIALIZING"}`},
		"DELETE /session":     {code: 409, body: `{"status":"error","message":"Worker must be stopped before clearing the session","worker_state":"IDLE_WAIT"}`},
	})

	out, _, err := runCmd(t, "--server", srv.URL, "session")
	require.NoError(t, err)
	assert.Equal(t, "valid=true Session is valid\n", out)

	out, _, err = runCmd(t, "--server", srv.URL, "start")
	require.NoError(t, err)
	assert.Equal(t, "Worker starting (INITIALIZING)\n", out)
	assert.Equal(t, http.MethodPost, fs.last().Method)

	_, stderr, err := runCmd(t, "--server", srv.URL, "logout")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, stderr, "worker is running")
	assert.Equal(t, http.MethodDelete, fs.last().Method)
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", 200*time.Millisecond)
	_, err := c.Session(context.Background())
	assert.Error(t, err)
	assert.False(t, IsConflict(err))
}
