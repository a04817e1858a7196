package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/console-automator/internal/browser"
)

// Status messages
const (
	MessageValid        = "Session is valid"
	MessageSignIn       = "Session expired: sign-in required"
	MessageAmbiguous    = "Session status ambiguous"
	MessageNotValidated = "Session not yet validated"
	MessageNoSession    = "No saved session: manual sign-in required"
)

// Status is the derived validity of the session
type Status struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// NotValidated is the status before the first check
func NotValidated() Status {
	return Status{Valid: false, Message: MessageNotValidated}
}

// Probe inspects the live page. browser.Engine satisfies it.
type Probe interface {
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
}

// ValidatorConfig holds indicator selectors and wait bounds
type ValidatorConfig struct {
	SignInSelector        string
	AuthenticatedSelector string
	// Timeout bounds one Validate call.
	Timeout time.Duration
	// PollSlice is how long each indicator is awaited per round.
	PollSlice time.Duration
	// LoginTimeout bounds WaitForLogin; zero waits until ctx is done.
	LoginTimeout time.Duration
	Logger       *slog.Logger
}

// Validator decides whether the current page belongs to a signed-in session.
type Validator struct {
	signIn        string
	authenticated string
	timeout       time.Duration
	slice         time.Duration
	loginTimeout  time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewValidator creates a validator
func NewValidator(cfg *ValidatorConfig) *Validator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	slice := cfg.PollSlice
	if slice <= 0 || slice > timeout {
		slice = timeout / 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		signIn:        cfg.SignInSelector,
		authenticated: cfg.AuthenticatedSelector,
		timeout:       timeout,
		slice:         slice,
		loginTimeout:  cfg.LoginTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

// Validate alternates short bounded waits on the sign-in and authenticated
// indicators until one shows up or the overall timeout passes. Not being
// signed in is a normal result; only probe failures other than a timeout
// are returned as errors.
func (v *Validator) Validate(ctx context.Context, probe Probe) (Status, error) {
	deadline := v.now().Add(v.timeout)

	for {
		err := probe.WaitVisible(ctx, v.signIn, v.slice)
		if err == nil {
			v.logger.Warn("Sign-in prompt detected")
			return Status{Valid: false, Message: MessageSignIn}, nil
		}
		if !browser.IsTimeout(err) {
			return Status{}, fmt.Errorf("probe sign-in indicator: %w", err)
		}

		err = probe.WaitVisible(ctx, v.authenticated, v.slice)
		if err == nil {
			return Status{Valid: true, Message: MessageValid}, nil
		}
		if !browser.IsTimeout(err) {
			return Status{}, fmt.Errorf("probe authenticated indicator: %w", err)
		}

		if !v.now().Before(deadline) {
			msg := fmt.Sprintf("%s: no sign-in or console indicator within %s", MessageAmbiguous, v.timeout)
			v.logger.Warn("Session status ambiguous", slog.Duration("timeout", v.timeout))
			return Status{Valid: false, Message: msg}, nil
		}
	}
}

// WaitForLogin blocks until a human completes sign-in in the browser window.
// This is the only wait with no built-in bound.
func (v *Validator) WaitForLogin(ctx context.Context, probe Probe) error {
	v.logger.Info("Waiting for manual sign-in in the browser window",
		slog.String("indicator", v.authenticated),
		slog.Duration("timeout", v.loginTimeout),
	)

	if err := probe.WaitVisible(ctx, v.authenticated, v.loginTimeout); err != nil {
		return fmt.Errorf("waiting for sign-in: %w", err)
	}

	v.logger.Info("Sign-in detected")
	return nil
}
