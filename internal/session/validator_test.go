package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/console-automator/internal/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	signInSel = "input[type='email']"
	authSel   = "#main-content"
)

// fakeProbe reports selectors in visible as present, returns errs[selector]
// when set, and times out otherwise.
type fakeProbe struct {
	visible map[string]bool
	errs    map[string]error
	calls   map[string]int
	lastTO  time.Duration
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{
		visible: map[string]bool{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

func (p *fakeProbe) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	p.calls[selector]++
	p.lastTO = timeout
	if err, ok := p.errs[selector]; ok {
		return err
	}
	if p.visible[selector] {
		return nil
	}
	return browser.ErrTimeout
}

func newTestValidator() *Validator {
	return NewValidator(&ValidatorConfig{
		SignInSelector:        signInSel,
		AuthenticatedSelector: authSel,
		Timeout:               30 * time.Millisecond,
		PollSlice:             time.Millisecond,
	})
}

func TestValidator_Validate(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(p *fakeProbe)
		wantValid   bool
		wantMessage string
		wantErr     bool
	}{
		{
			name:        "sign-in prompt means invalid",
			setup:       func(p *fakeProbe) { p.visible[signInSel] = true },
			wantValid:   false,
			wantMessage: MessageSignIn,
		},
		{
			name:        "console indicator means valid",
			setup:       func(p *fakeProbe) { p.visible[authSel] = true },
			wantValid:   true,
			wantMessage: MessageValid,
		},
		{
			name:        "neither indicator is ambiguous",
			setup:       func(p *fakeProbe) {},
			wantValid:   false,
			wantMessage: "ambiguous",
		},
		{
			name:        "sign-in prompt wins over console indicator",
			setup:       func(p *fakeProbe) { p.visible[signInSel] = true; p.visible[authSel] = true },
			wantValid:   false,
			wantMessage: MessageSignIn,
		},
		{
			name:    "transport failure is an error, not logged out",
			setup:   func(p *fakeProbe) { p.errs[signInSel] = errors.New("websocket: close 1006") },
			wantErr: true,
		},
		{
			name:    "transport failure on console indicator",
			setup:   func(p *fakeProbe) { p.errs[authSel] = errors.New("target closed") },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := newFakeProbe()
			tt.setup(probe)

			status, err := newTestValidator().Validate(context.Background(), probe)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, status.Valid)
			assert.Contains(t, status.Message, tt.wantMessage)
		})
	}
}

func TestValidator_ValidateIsBounded(t *testing.T) {
	probe := newFakeProbe()
	v := newTestValidator()

	start := time.Now()
	status, err := v.Validate(context.Background(), probe)
	require.NoError(t, err)
	assert.False(t, status.Valid)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, time.Millisecond, probe.lastTO)
	assert.Greater(t, probe.calls[authSel], 0)
}

func TestValidator_WaitForLogin(t *testing.T) {
	t.Run("unbounded by default", func(t *testing.T) {
		probe := newFakeProbe()
		probe.visible[authSel] = true

		v := newTestValidator()
		require.NoError(t, v.WaitForLogin(context.Background(), probe))
		assert.Equal(t, time.Duration(0), probe.lastTO)
	})

	t.Run("configured bound is passed through", func(t *testing.T) {
		probe := newFakeProbe()

		v := NewValidator(&ValidatorConfig{
			SignInSelector:        signInSel,
			AuthenticatedSelector: authSel,
			LoginTimeout:          time.Minute,
		})
		err := v.WaitForLogin(context.Background(), probe)
		require.Error(t, err)
		assert.True(t, browser.IsTimeout(err))
		assert.Equal(t, time.Minute, probe.lastTO)
	})
}

func TestNotValidated(t *testing.T) {
	s := NotValidated()
	assert.False(t, s.Valid)
	assert.Equal(t, MessageNotValidated, s.Message)
}
