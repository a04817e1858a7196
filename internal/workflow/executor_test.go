package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/console-automator/internal/browser"
	"github.com/cuongbtq/console-automator/internal/browser/browsertest"
	"github.com/cuongbtq/console-automator/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition() *Definition {
	return &Definition{
		Name:    "test",
		HomeURL: "https://console.example/{{.Vars.dev}}/home",
		Vars:    map[string]string{"dev": "42", "email": "help@example.com"},
		Steps: []Step{
			{Name: "open", Action: ActionNavigate, URL: "https://console.example/{{.Vars.dev}}/create", WaitFor: "#main-content"},
			{Name: "app name", Action: ActionFill, Selector: "#name", Value: "{{.AppName}}"},
			{Name: "free", Action: ActionClick, Selector: "#free"},
			{Name: "category", Action: ActionClickNth, Selector: "input[type='radio']", Index: 2},
			{Name: "upload", Action: ActionUpload, Selector: "input[type='file']", File: "data.csv"},
			{Name: "settle", Action: ActionPause, Duration: time.Second},
			{Name: "close dialog", Action: ActionClick, Selector: "#close", Optional: true},
			{Name: "listing", Action: ActionWait, Selector: "main-store-listing-page"},
			{Name: "email", Action: ActionFill, Selector: "#email", Value: "{{.Vars.email}}"},
		},
	}
}

func newTestExecutor(t *testing.T, def *Definition) *Executor {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.csv"), []byte("a,b\n"), 0o600))

	nav, _ := newTestNavigator(NavigationPolicy{RetryCeiling: 2, MaxReloads: 1, Timeout: time.Second})
	up := NewUploader(UploadPolicy{Attempts: 2, StaticDir: dir}, discardLogger())
	up.sleep = func(context.Context, time.Duration) error { return nil }

	exec := NewExecutor(&ExecutorConfig{
		Definition:     def,
		Navigator:      nav,
		Uploader:       up,
		ElementTimeout: time.Second,
		Logger:         discardLogger(),
	})
	exec.sleep = func(context.Context, time.Duration) error { return nil }
	return exec
}

func TestExecutor_RunAllSteps(t *testing.T) {
	exec := newTestExecutor(t, testDefinition())
	engine := browsertest.New()
	job := queue.Job{ID: "job-1", Name: "Acme Diner"}

	result := exec.Run(context.Background(), engine, job)
	require.NoError(t, result.Err)
	assert.False(t, result.Failed())
	assert.Len(t, result.Steps, 9)
	assert.Equal(t, 0, result.Skipped())

	assert.Equal(t, []string{
		"navigate https://console.example/42/create",
		"wait #main-content",
		"fill #name",
		"click #free",
		"click_nth input[type='radio'] 2",
		"upload input[type='file']",
		"value input[type='file']",
		"click #close",
		"wait main-store-listing-page",
		"fill #email",
	}, engine.Calls())
	assert.Equal(t, "Acme Diner", engine.Filled("#name"))
	assert.Equal(t, "help@example.com", engine.Filled("#email"))
}

func TestExecutor_OptionalFailureIsSkipped(t *testing.T) {
	exec := newTestExecutor(t, testDefinition())
	engine := browsertest.New()
	engine.ClickFunc = func(sel string) error {
		if sel == "#close" {
			return browser.ErrTimeout
		}
		return nil
	}

	result := exec.Run(context.Background(), engine, queue.Job{Name: "Acme Diner"})
	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.Skipped())
	assert.Len(t, result.Steps, 9)
}

func TestExecutor_RequiredFailureAbortsJob(t *testing.T) {
	exec := newTestExecutor(t, testDefinition())
	engine := browsertest.New()
	engine.ClickFunc = func(sel string) error {
		if sel == "#free" {
			return browser.ErrTimeout
		}
		return nil
	}

	result := exec.Run(context.Background(), engine, queue.Job{Name: "Acme Diner"})
	require.Error(t, result.Err)
	assert.True(t, result.Failed())
	assert.Len(t, result.Steps, 3)

	var stepErr *StepError
	require.True(t, errors.As(result.Err, &stepErr))
	assert.Equal(t, "free", stepErr.Step)
	assert.Equal(t, ActionClick, stepErr.Action)
	assert.True(t, browser.IsTimeout(result.Err))
	assert.NotContains(t, engine.Calls(), "click_nth input[type='radio'] 2")
}

func TestExecutor_UploadExhaustionFailsJob(t *testing.T) {
	exec := newTestExecutor(t, testDefinition())
	engine := browsertest.New()
	engine.SetUploadFilesFunc = func(string, []string) error { return errors.New("input detached") }

	result := exec.Run(context.Background(), engine, queue.Job{Name: "Acme Diner"})
	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, ErrUploadExhausted)
	assert.Equal(t, 2, engine.Count("upload input[type='file']"))
}

func TestExecutor_NavigationExhaustionFailsJob(t *testing.T) {
	exec := newTestExecutor(t, testDefinition())
	engine := browsertest.New()
	engine.NavigateFunc = func(string) error { return errors.New("net::ERR_NAME_NOT_RESOLVED") }

	result := exec.Run(context.Background(), engine, queue.Job{Name: "Acme Diner"})
	assert.ErrorIs(t, result.Err, ErrNavigationExhausted)
	assert.Len(t, result.Steps, 1)
}
