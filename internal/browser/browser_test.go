package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  Selector
		print string
	}{
		{
			name:  "css selector",
			raw:   "material-radio[debug-id='app-radio'] input[type='radio']",
			want:  Selector{Expr: "material-radio[debug-id='app-radio'] input[type='radio']"},
			print: "material-radio[debug-id='app-radio'] input[type='radio']",
		},
		{
			name:  "xpath selector",
			raw:   "xpath=//*[@id='main-content']//input",
			want:  Selector{Expr: "//*[@id='main-content']//input", XPath: true},
			print: "xpath=//*[@id='main-content']//input",
		},
		{
			name:  "surrounding whitespace trimmed",
			raw:   "  #main-content ",
			want:  Selector{Expr: "#main-content"},
			print: "#main-content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseSelector(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.print, got.String())
		})
	}
}

func TestSelector_JSExpressions(t *testing.T) {
	css := ParseSelector(`input[name="a"]`)
	assert.Contains(t, css.jsAll(), `document.querySelectorAll("input[name=\"a\"]")`)
	assert.Contains(t, css.jsClickNth(2), "els[2]")

	xp := ParseSelector("xpath=//button")
	assert.Contains(t, xp.jsAll(), `document.evaluate("//button"`)
}

func TestClassify(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, classify(context.Background(), nil))
	})

	t.Run("step deadline becomes ErrTimeout", func(t *testing.T) {
		err := classify(context.Background(), fmt.Errorf("wrapped: %w", context.DeadlineExceeded))
		assert.True(t, IsTimeout(err))
	})

	t.Run("parent cancellation wins", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := classify(ctx, context.DeadlineExceeded)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, IsTimeout(err))
	})

	t.Run("other errors pass through", func(t *testing.T) {
		boom := errors.New("websocket closed")
		assert.Equal(t, boom, classify(context.Background(), boom))
	})
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := withTimeout(context.Background(), 0)
	defer cancel()
	_, hasDeadline := ctx.Deadline()
	assert.False(t, hasDeadline)

	ctx2, cancel2 := withTimeout(context.Background(), time.Minute)
	defer cancel2()
	_, hasDeadline = ctx2.Deadline()
	assert.True(t, hasDeadline)
}
