package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/stretchr/testify/assert"
)

func defaultPolicy() *ExponentialPolicy {
	return NewExponentialPolicy(3, 5*time.Second, 5, time.Hour, true)
}

func TestExponentialPolicy_Table(t *testing.T) {
	p := defaultPolicy()

	tests := []struct {
		name      string
		err       error
		attempt   int
		retryable bool
		delay     time.Duration
	}{
		{"timeout first attempt", context.DeadlineExceeded, 1, true, 5 * time.Second},
		{"connection second attempt", custom_errors.NewRenderError(custom_errors.CategoryConnection, "refused"), 2, true, 25 * time.Second},
		{"io third attempt", io.ErrUnexpectedEOF, 3, true, 125 * time.Second},
		{"upstream fourth attempt", custom_errors.NewRenderError(custom_errors.CategoryUpstream, "502"), 4, true, 625 * time.Second},
		{"capped at max", context.DeadlineExceeded, 10, true, time.Hour},
		{"zero attempt treated as first", context.DeadlineExceeded, 0, true, 5 * time.Second},
		{"validation", custom_errors.NewRenderError(custom_errors.CategoryValidation, "bad width"), 1, false, 5 * time.Second},
		{"security", custom_errors.ErrURLRejected, 1, false, 5 * time.Second},
		{"permission", custom_errors.NewRenderError(custom_errors.CategoryPermission, "403"), 2, false, 25 * time.Second},
		{"unknown retried by default", errors.New("weird"), 1, true, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, p.ShouldRetry(tt.err))
			assert.Equal(t, tt.delay, p.CalculateDelay(tt.attempt))
		})
	}
}

func TestExponentialPolicy_UnknownNotRetried(t *testing.T) {
	p := NewExponentialPolicy(3, time.Second, 2, time.Minute, false)
	assert.False(t, p.ShouldRetry(errors.New("weird")))
	assert.True(t, p.ShouldRetry(context.DeadlineExceeded))
}

func TestExponentialPolicy_TotalOverCategories(t *testing.T) {
	p := defaultPolicy()
	for _, c := range custom_errors.AllCategories {
		// every category must yield a decision without panicking
		_ = p.IsRetryableCategory(c)
	}
	assert.Equal(t, 3, p.MaxRetries())
}

func TestExponentialPolicy_HugeAttemptDoesNotOverflow(t *testing.T) {
	p := defaultPolicy()
	assert.Equal(t, time.Hour, p.CalculateDelay(1000))
}
