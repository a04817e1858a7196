// Package browsertest provides a scriptable in-memory browser.Engine for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/console-automator/internal/browser"
)

// Engine records calls and delegates to optional hooks. A nil hook succeeds.
// WaitVisible succeeds unless WaitVisibleFunc says otherwise.
type Engine struct {
	NavigateFunc       func(url string) error
	ReloadFunc         func() error
	WaitVisibleFunc    func(selector string, timeout time.Duration) error
	ClickFunc          func(selector string) error
	ClickNthFunc       func(selector string, index int) error
	FillFunc           func(selector, value string) error
	SetUploadFilesFunc func(selector string, files []string) error
	InputValueFunc     func(selector string) (string, error)

	mu      sync.Mutex
	calls   []string
	fills   map[string]string
	cookies []browser.Cookie
	closed  bool
}

// New creates a fake engine
func New() *Engine {
	return &Engine{fills: map[string]string{}}
}

func (e *Engine) record(format string, args ...any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return browser.ErrClosed
	}
	e.calls = append(e.calls, fmt.Sprintf(format, args...))
	return nil
}

// Calls returns every recorded call in order
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// Count returns how many recorded calls equal call
func (e *Engine) Count(call string) int {
	n := 0
	for _, c := range e.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// Filled returns the last value filled into selector
func (e *Engine) Filled(selector string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fills[selector]
}

// Closed reports whether Close was called
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) Navigate(ctx context.Context, url string) error {
	if err := e.record("navigate %s", url); err != nil {
		return err
	}
	if e.NavigateFunc != nil {
		return e.NavigateFunc(url)
	}
	return ctx.Err()
}

func (e *Engine) Reload(ctx context.Context) error {
	if err := e.record("reload"); err != nil {
		return err
	}
	if e.ReloadFunc != nil {
		return e.ReloadFunc()
	}
	return nil
}

func (e *Engine) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := e.record("wait %s", selector); err != nil {
		return err
	}
	if e.WaitVisibleFunc != nil {
		return e.WaitVisibleFunc(selector, timeout)
	}
	return nil
}

func (e *Engine) Click(ctx context.Context, selector string, timeout time.Duration) error {
	if err := e.record("click %s", selector); err != nil {
		return err
	}
	if e.ClickFunc != nil {
		return e.ClickFunc(selector)
	}
	return nil
}

func (e *Engine) ClickNth(ctx context.Context, selector string, index int, timeout time.Duration) error {
	if err := e.record("click_nth %s %d", selector, index); err != nil {
		return err
	}
	if e.ClickNthFunc != nil {
		return e.ClickNthFunc(selector, index)
	}
	return nil
}

func (e *Engine) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	if err := e.record("fill %s", selector); err != nil {
		return err
	}
	if e.FillFunc != nil {
		if err := e.FillFunc(selector, value); err != nil {
			return err
		}
	}
	e.mu.Lock()
	e.fills[selector] = value
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetUploadFiles(ctx context.Context, selector string, files []string, timeout time.Duration) error {
	if err := e.record("upload %s", selector); err != nil {
		return err
	}
	if e.SetUploadFilesFunc != nil {
		return e.SetUploadFilesFunc(selector, files)
	}
	return nil
}

func (e *Engine) InputValue(ctx context.Context, selector string) (string, error) {
	if err := e.record("value %s", selector); err != nil {
		return "", err
	}
	if e.InputValueFunc != nil {
		return e.InputValueFunc(selector)
	}
	return `C:\fakepath\file.csv`, nil
}

func (e *Engine) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	if err := e.record("cookies"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]browser.Cookie, len(e.cookies))
	copy(out, e.cookies)
	return out, nil
}

func (e *Engine) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	if err := e.record("set_cookies %d", len(cookies)); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cookies = append([]browser.Cookie(nil), cookies...)
	return nil
}

// SetBrowserCookies seeds the cookie jar as if a human had signed in
func (e *Engine) SetBrowserCookies(cookies []browser.Cookie) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cookies = append([]browser.Cookie(nil), cookies...)
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Factory returns a browser.Factory handing out e
func (e *Engine) Factory() browser.Factory {
	return func(ctx context.Context) (browser.Engine, error) {
		e.mu.Lock()
		e.closed = false
		e.mu.Unlock()
		return e, nil
	}
}
