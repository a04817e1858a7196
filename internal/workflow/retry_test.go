package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/console-automator/internal/browser"
	"github.com/cuongbtq/console-automator/internal/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// failFirst returns a hook failing the first n calls.
func failFirst(n int, err error) (func() error, *int) {
	calls := 0
	return func() error {
		calls++
		if calls <= n {
			return err
		}
		return nil
	}, &calls
}

func newTestNavigator(policy NavigationPolicy) (*Navigator, *[]time.Duration) {
	nav := NewNavigator(policy, discardLogger())
	var sleeps []time.Duration
	nav.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return nav, &sleeps
}

func TestNavigator_Navigate(t *testing.T) {
	const url = "https://console.example/create"
	policy := NavigationPolicy{RetryCeiling: 3, Backoff: 2 * time.Second, MaxReloads: 2, Timeout: time.Second}

	tests := []struct {
		name        string
		failures    int
		wantRetries int
		wantReloads int
		wantSleeps  int
	}{
		{name: "first attempt succeeds", failures: 0},
		{name: "one failure below ceiling", failures: 1, wantRetries: 1, wantSleeps: 1},
		{name: "two failures below ceiling", failures: 2, wantRetries: 2, wantSleeps: 2},
		{name: "ceiling reached forces reload", failures: 3, wantRetries: 3, wantReloads: 1, wantSleeps: 2},
		{name: "second reload", failures: 6, wantRetries: 6, wantReloads: 2, wantSleeps: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := browsertest.New()
			hook, calls := failFirst(tt.failures, errors.New("net::ERR_CONNECTION_RESET"))
			engine.NavigateFunc = func(string) error { return hook() }

			nav, sleeps := newTestNavigator(policy)
			res, err := nav.Navigate(context.Background(), engine, url, "")
			require.NoError(t, err)

			assert.Equal(t, tt.wantRetries, res.Retries)
			assert.Equal(t, tt.wantReloads, res.Reloads)
			assert.Equal(t, tt.failures+1, *calls)
			assert.Equal(t, tt.wantReloads, engine.Count("reload"))
			assert.Len(t, *sleeps, tt.wantSleeps)
		})
	}
}

func TestNavigator_ReadyIndicatorTimeoutIsRetried(t *testing.T) {
	engine := browsertest.New()
	hook, _ := failFirst(1, browser.ErrTimeout)
	engine.WaitVisibleFunc = func(string, time.Duration) error { return hook() }

	nav, _ := newTestNavigator(NavigationPolicy{RetryCeiling: 3, MaxReloads: 1, Timeout: time.Second})
	res, err := nav.Navigate(context.Background(), engine, "https://console.example", "#main-content")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, 2, engine.Count("wait #main-content"))
}

func TestNavigator_Exhausted(t *testing.T) {
	engine := browsertest.New()
	engine.NavigateFunc = func(string) error { return errors.New("page crashed") }

	nav, _ := newTestNavigator(NavigationPolicy{RetryCeiling: 2, MaxReloads: 1})
	res, err := nav.Navigate(context.Background(), engine, "https://console.example", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNavigationExhausted)
	assert.Equal(t, 4, res.Retries)
	assert.Equal(t, 1, res.Reloads)
	assert.Equal(t, 4, engine.Count("navigate https://console.example"))
}

func TestNavigator_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := browsertest.New()
	engine.NavigateFunc = func(string) error {
		cancel()
		return context.Canceled
	}

	nav, _ := newTestNavigator(NavigationPolicy{RetryCeiling: 3, MaxReloads: 3})
	_, err := nav.Navigate(ctx, engine, "https://console.example", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNavigationExhausted)
}

func newTestUploader(t *testing.T, attempts int) (*Uploader, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data_safety.csv"), []byte("a,b\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	up := NewUploader(UploadPolicy{Attempts: attempts, Backoff: time.Second, Timeout: time.Second, StaticDir: dir}, discardLogger())
	up.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return up, dir
}

func TestUploader_Upload(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		wantAttempts int
		wantErr      error
	}{
		{name: "first attempt", failures: 0, wantAttempts: 1},
		{name: "four failures then success", failures: 4, wantAttempts: 5},
		{name: "five failures exhaust the budget", failures: 5, wantAttempts: 5, wantErr: ErrUploadExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up, dir := newTestUploader(t, 5)
			engine := browsertest.New()
			hook, _ := failFirst(tt.failures, errors.New("file chooser not ready"))
			var gotFiles []string
			engine.SetUploadFilesFunc = func(_ string, files []string) error {
				gotFiles = files
				return hook()
			}

			attempts, err := up.Upload(context.Background(), engine, "input[type='file']", "data_safety.csv")
			assert.Equal(t, tt.wantAttempts, attempts)
			assert.Equal(t, tt.wantAttempts, engine.Count("upload input[type='file']"))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			wantPath, _ := filepath.Abs(filepath.Join(dir, "data_safety.csv"))
			assert.Equal(t, []string{wantPath}, gotFiles)
		})
	}
}

func TestUploader_EmptyInputValueIsAFailure(t *testing.T) {
	up, _ := newTestUploader(t, 3)
	engine := browsertest.New()
	values := []string{"", "", `C:\fakepath\data_safety.csv`}
	engine.InputValueFunc = func(string) (string, error) {
		v := values[0]
		values = values[1:]
		return v, nil
	}

	attempts, err := up.Upload(context.Background(), engine, "input[type='file']", "data_safety.csv")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestUploader_MissingFile(t *testing.T) {
	up, _ := newTestUploader(t, 5)
	engine := browsertest.New()

	attempts, err := up.Upload(context.Background(), engine, "input[type='file']", "missing.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaticFileMissing)
	assert.Equal(t, 0, attempts)
	assert.Empty(t, engine.Calls())
}

func TestUploader_NonCSVStillUploads(t *testing.T) {
	up, _ := newTestUploader(t, 5)
	engine := browsertest.New()

	attempts, err := up.Upload(context.Background(), engine, "input[type='file']", "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}
