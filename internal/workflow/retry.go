package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/console-automator/internal/browser"
)

var (
	// ErrNavigationExhausted is returned when retries and forced reloads are used up
	ErrNavigationExhausted = errors.New("navigation retries exhausted")

	// ErrUploadExhausted is returned when every upload attempt failed
	ErrUploadExhausted = errors.New("upload retries exhausted")

	// ErrStaticFileMissing is returned when the file to upload does not exist
	ErrStaticFileMissing = errors.New("static file not found")
)

// NavigationPolicy bounds navigation retries
type NavigationPolicy struct {
	// RetryCeiling is the number of failed attempts that triggers a forced reload.
	RetryCeiling int
	Backoff      time.Duration
	// MaxReloads is the number of forced reloads before giving up.
	MaxReloads int
	// Timeout bounds the wait for the ready indicator after each attempt.
	Timeout time.Duration
}

// UploadPolicy bounds upload retries
type UploadPolicy struct {
	Attempts  int
	Backoff   time.Duration
	Timeout   time.Duration
	StaticDir string
}

// NavigationResult reports how much recovery a navigation needed.
type NavigationResult struct {
	Retries int
	Reloads int
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Navigator loads pages with retry, backoff and a forced-reload escape hatch.
type Navigator struct {
	policy NavigationPolicy
	logger *slog.Logger
	sleep  sleepFunc
}

// NewNavigator creates a navigator
func NewNavigator(policy NavigationPolicy, logger *slog.Logger) *Navigator {
	if policy.RetryCeiling <= 0 {
		policy.RetryCeiling = 3
	}
	if policy.MaxReloads < 0 {
		policy.MaxReloads = 0
	}
	return &Navigator{policy: policy, logger: logger, sleep: sleepCtx}
}

// Navigate opens url and, when waitFor is set, waits for it to become
// visible. Each failure counts as a retry; once retries reach the ceiling the
// page is force-reloaded and the count starts over. When the reload budget is
// spent the error wraps ErrNavigationExhausted.
func (n *Navigator) Navigate(ctx context.Context, engine browser.Engine, url, waitFor string) (NavigationResult, error) {
	var res NavigationResult
	retries := 0

	for {
		err := n.attempt(ctx, engine, url, waitFor)
		if err == nil {
			if res.Retries > 0 {
				n.logger.Info("Navigation recovered",
					slog.String("url", url),
					slog.Int("retries", res.Retries),
					slog.Int("reloads", res.Reloads),
				)
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		retries++
		res.Retries++
		n.logger.Warn("Navigation attempt failed",
			slog.String("url", url),
			slog.Int("retry", retries),
			slog.Int("retry_ceiling", n.policy.RetryCeiling),
			slog.String("error", err.Error()),
		)

		if retries < n.policy.RetryCeiling {
			if err := n.sleep(ctx, n.policy.Backoff); err != nil {
				return res, err
			}
			continue
		}

		if res.Reloads >= n.policy.MaxReloads {
			return res, fmt.Errorf("%w: %s after %d attempts and %d reloads: %v",
				ErrNavigationExhausted, url, res.Retries, res.Reloads, err)
		}

		res.Reloads++
		retries = 0
		n.logger.Warn("Retry ceiling reached, forcing page reload",
			slog.String("url", url),
			slog.Int("reload", res.Reloads),
			slog.Int("max_reloads", n.policy.MaxReloads),
		)
		if err := engine.Reload(ctx); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			n.logger.Warn("Forced reload failed", slog.String("error", err.Error()))
		}
	}
}

func (n *Navigator) attempt(ctx context.Context, engine browser.Engine, url, waitFor string) error {
	if err := engine.Navigate(ctx, url); err != nil {
		return err
	}
	if waitFor == "" {
		return nil
	}
	return engine.WaitVisible(ctx, waitFor, n.policy.Timeout)
}

// Uploader attaches a static file to a file input with bounded retry.
type Uploader struct {
	policy UploadPolicy
	logger *slog.Logger
	sleep  sleepFunc
}

// NewUploader creates an uploader
func NewUploader(policy UploadPolicy, logger *slog.Logger) *Uploader {
	if policy.Attempts <= 0 {
		policy.Attempts = 5
	}
	return &Uploader{policy: policy, logger: logger, sleep: sleepCtx}
}

// Upload sets filename (relative to the static dir) on the input matched by
// selector and confirms the input holds a value. It returns the number of
// attempts used.
func (u *Uploader) Upload(ctx context.Context, engine browser.Engine, selector, filename string) (int, error) {
	path, err := u.resolve(filename)
	if err != nil {
		return 0, err
	}

	var lastErr error
	for attempt := 1; attempt <= u.policy.Attempts; attempt++ {
		lastErr = u.attempt(ctx, engine, selector, path)
		if lastErr == nil {
			u.logger.Info("File uploaded",
				slog.String("file", filename),
				slog.Int("attempt", attempt),
			)
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}

		u.logger.Warn("Upload attempt failed",
			slog.String("file", filename),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", u.policy.Attempts),
			slog.String("error", lastErr.Error()),
		)

		if attempt < u.policy.Attempts {
			if err := u.sleep(ctx, u.policy.Backoff); err != nil {
				return attempt, err
			}
		}
	}

	return u.policy.Attempts, fmt.Errorf("%w: %s after %d attempts: %v",
		ErrUploadExhausted, filename, u.policy.Attempts, lastErr)
}

func (u *Uploader) attempt(ctx context.Context, engine browser.Engine, selector, path string) error {
	if err := engine.SetUploadFiles(ctx, selector, []string{path}, u.policy.Timeout); err != nil {
		return err
	}
	value, err := engine.InputValue(ctx, selector)
	if err != nil {
		return err
	}
	if value == "" {
		return errors.New("no file attached after upload")
	}
	return nil
}

func (u *Uploader) resolve(filename string) (string, error) {
	path, err := filepath.Abs(filepath.Join(u.policy.StaticDir, filename))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", filename, err)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrStaticFileMissing, path)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		u.logger.Warn("Upload file may not be a CSV file", slog.String("file", filename))
	}
	return path, nil
}
