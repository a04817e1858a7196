package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// ChromeConfig holds browser launch settings
type ChromeConfig struct {
	Headless          bool
	ExecPath          string
	UserDataDir       string
	UserAgent         string
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
	ElementTimeout    time.Duration
	Logger            *slog.Logger
}

// Chrome drives a single Chrome tab through chromedp. It is owned by exactly
// one goroutine (the worker loop) and is not safe for concurrent use.
type Chrome struct {
	cfg         *ChromeConfig
	logger      *slog.Logger
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	closed      atomic.Bool
}

// NewChromeFactory returns a Factory launching Chrome with cfg
func NewChromeFactory(cfg *ChromeConfig) Factory {
	return func(ctx context.Context) (Engine, error) {
		return NewChrome(ctx, cfg)
	}
}

// NewChrome launches a browser and opens one tab
func NewChrome(ctx context.Context, cfg *ChromeConfig) (*Chrome, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("start-maximized", true))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("chromedp error", slog.String("detail", fmt.Sprintf(format, args...)))
		}),
	)

	// An empty Run starts the browser and attaches the tab
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	logger.Info("Browser launched",
		slog.Bool("headless", cfg.Headless),
		slog.String("user_data_dir", cfg.UserDataDir),
	)

	return &Chrome{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}, nil
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if c.closed.Load() {
		return ErrClosed
	}

	tctx, cancel := withTimeout(c.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return classify(ctx, chromedp.Run(tctx, actions...))
}

// Navigate loads url and waits for the load event
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, c.cfg.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Reload forces a full page reload
func (c *Chrome) Reload(ctx context.Context) error {
	if err := c.run(ctx, c.cfg.NavigationTimeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// WaitVisible waits until selector is visible
func (c *Chrome) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	sel := ParseSelector(selector)
	if err := c.run(ctx, timeout, chromedp.WaitVisible(sel.Expr, sel.queryOption())); err != nil {
		return fmt.Errorf("wait for %s: %w", sel, err)
	}
	return nil
}

// Click clicks the first visible match. A failed native click falls back to
// a DOM click, which reaches controls covered by overlays.
func (c *Chrome) Click(ctx context.Context, selector string, timeout time.Duration) error {
	sel := ParseSelector(selector)
	err := c.run(ctx, timeout, chromedp.Click(sel.Expr, sel.queryOption(), chromedp.NodeVisible))
	if err == nil {
		return nil
	}
	if IsTimeout(err) || ctx.Err() != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}

	c.logger.Debug("Native click failed, using DOM click",
		slog.String("selector", sel.String()),
		slog.String("error", err.Error()),
	)
	if fallbackErr := c.clickNth(ctx, sel, 0); fallbackErr != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

// ClickNth clicks the index-th element matching selector
func (c *Chrome) ClickNth(ctx context.Context, selector string, index int, timeout time.Duration) error {
	sel := ParseSelector(selector)
	if err := c.run(ctx, timeout, chromedp.WaitVisible(sel.Expr, sel.queryOption())); err != nil {
		return fmt.Errorf("click %s[%d]: %w", sel, index, err)
	}
	if err := c.clickNth(ctx, sel, index); err != nil {
		return fmt.Errorf("click %s[%d]: %w", sel, index, err)
	}
	return nil
}

func (c *Chrome) clickNth(ctx context.Context, sel Selector, index int) error {
	var found bool
	if err := c.run(ctx, c.cfg.ElementTimeout, chromedp.Evaluate(sel.jsClickNth(index), &found)); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no element at index %d", index)
	}
	return nil
}

// Fill replaces the value of an input or textarea
func (c *Chrome) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	sel := ParseSelector(selector)
	err := c.run(ctx, timeout,
		chromedp.WaitVisible(sel.Expr, sel.queryOption()),
		chromedp.Clear(sel.Expr, sel.queryOption()),
		chromedp.SendKeys(sel.Expr, value, sel.queryOption()),
	)
	if err != nil {
		return fmt.Errorf("fill %s: %w", sel, err)
	}
	return nil
}

// SetUploadFiles attaches files to a file input. The input only has to be
// attached to the DOM; file inputs are usually hidden.
func (c *Chrome) SetUploadFiles(ctx context.Context, selector string, files []string, timeout time.Duration) error {
	sel := ParseSelector(selector)

	var disabled string
	var hasDisabled bool
	err := c.run(ctx, timeout,
		chromedp.WaitReady(sel.Expr, sel.queryOption()),
		chromedp.AttributeValue(sel.Expr, "disabled", &disabled, &hasDisabled, sel.queryOption()),
	)
	if err != nil {
		return fmt.Errorf("file input %s not ready: %w", sel, err)
	}
	if hasDisabled {
		return fmt.Errorf("file input %s is disabled", sel)
	}

	if err := c.run(ctx, timeout, chromedp.SetUploadFiles(sel.Expr, files, sel.queryOption())); err != nil {
		return fmt.Errorf("set upload files on %s: %w", sel, err)
	}
	return nil
}

// InputValue reads the current value of an input
func (c *Chrome) InputValue(ctx context.Context, selector string) (string, error) {
	sel := ParseSelector(selector)
	var value string
	if err := c.run(ctx, c.cfg.ElementTimeout, chromedp.Value(sel.Expr, &value, sel.queryOption(), chromedp.NodeReady)); err != nil {
		return "", fmt.Errorf("read value of %s: %w", sel, err)
	}
	return value, nil
}

// Cookies returns every cookie in the browser context
func (c *Chrome) Cookies(ctx context.Context) ([]Cookie, error) {
	var cookies []*network.Cookie
	err := c.run(ctx, c.cfg.ElementTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	out := make([]Cookie, 0, len(cookies))
	for _, ck := range cookies {
		out = append(out, Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			SameSite: string(ck.SameSite),
		})
	}
	return out, nil
}

// SetCookies injects cookies into the browser context
func (c *Chrome) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	now := time.Now()
	for _, ck := range cookies {
		param := &network.CookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HTTPOnly: ck.HTTPOnly,
			SameSite: network.CookieSameSite(ck.SameSite),
		}
		if ck.Expires > 0 {
			sec, frac := math.Modf(ck.Expires)
			expires := time.Unix(int64(sec), int64(frac*1e9))
			if !expires.After(now) {
				continue
			}
			ts := cdp.TimeSinceEpoch(expires)
			param.Expires = &ts
		}
		params = append(params, param)
	}

	err := c.run(ctx, c.cfg.ElementTimeout,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookies(params).Do(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}

	c.logger.Debug("Cookies restored",
		slog.Int("restored", len(params)),
		slog.Int("expired", len(cookies)-len(params)),
	)
	return nil
}

// Close shuts the tab and the browser process
func (c *Chrome) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.tabCancel()
	c.allocCancel()
	c.logger.Info("Browser closed")
	return nil
}
