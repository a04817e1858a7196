// Package browser defines the browser-automation capability the worker drives
// and a chromedp-backed implementation of it.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when a bounded wait expires before its condition holds
	ErrTimeout = errors.New("browser wait timed out")

	// ErrClosed is returned when the engine is used after Close
	ErrClosed = errors.New("browser engine closed")
)

// Cookie is the serializable form of a browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// Engine is everything the worker needs from a browser. Every wait takes an
// explicit timeout; a zero timeout means "no deadline beyond ctx" and is only
// used for the interactive login wait.
type Engine interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	ClickNth(ctx context.Context, selector string, index int, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	SetUploadFiles(ctx context.Context, selector string, files []string, timeout time.Duration) error
	InputValue(ctx context.Context, selector string) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Close() error
}

// Factory opens a fresh engine. The worker opens one per start.
type Factory func(ctx context.Context) (Engine, error)

// IsTimeout reports whether err is a bounded-wait timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// withTimeout derives a bounded context; timeout <= 0 leaves ctx as is.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// classify maps a deadline hit on the step context to ErrTimeout while
// leaving cancellation of the parent context untouched.
func classify(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
