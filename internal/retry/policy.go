// Package retry decides whether a failed render is retried and when, and
// applies that decision to the job record and the delayed queue.
package retry

import (
	"math"
	"time"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/RezaEskandarii/shotfire/types/config"
)

// Policy is a pure decision function over an error and an attempt number.
type Policy interface {
	ShouldRetry(err error) bool
	// CalculateDelay returns the wait before the retry that follows failed attempt n (1-indexed).
	CalculateDelay(attempt int) time.Duration
	MaxRetries() int
}

// retryable is total over the closed category set. Categories missing here are permanent.
var retryable = map[custom_errors.Category]bool{
	custom_errors.CategoryTimeout:     true,
	custom_errors.CategoryConnection:  true,
	custom_errors.CategoryIO:          true,
	custom_errors.CategoryUpstream:    true,
	custom_errors.CategoryInterrupted: true,
	custom_errors.CategoryValidation:  false,
	custom_errors.CategorySecurity:    false,
	custom_errors.CategoryPermission:  false,
}

// ExponentialPolicy backs off as base * multiplier^(attempt-1), capped at max.
// With base 5s and multiplier 5 the first three gaps are 5s, 25s and 125s.
type ExponentialPolicy struct {
	maxRetries   int
	base         time.Duration
	multiplier   float64
	max          time.Duration
	retryUnknown bool
}

func NewExponentialPolicy(maxRetries int, base time.Duration, multiplier float64, maxDelay time.Duration, retryUnknown bool) *ExponentialPolicy {
	return &ExponentialPolicy{
		maxRetries:   maxRetries,
		base:         base,
		multiplier:   multiplier,
		max:          maxDelay,
		retryUnknown: retryUnknown,
	}
}

func NewPolicyFromConfig(cfg config.RetryConfig) *ExponentialPolicy {
	return NewExponentialPolicy(cfg.MaxRetries, cfg.BaseDelay, cfg.DelayMultiplier, cfg.MaxDelay, cfg.RetryUnknown)
}

func (p *ExponentialPolicy) ShouldRetry(err error) bool {
	return p.IsRetryableCategory(custom_errors.Classify(err))
}

func (p *ExponentialPolicy) IsRetryableCategory(c custom_errors.Category) bool {
	if c == custom_errors.CategoryUnknown {
		return p.retryUnknown
	}
	return retryable[c]
}

func (p *ExponentialPolicy) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.base) * math.Pow(p.multiplier, float64(attempt-1))
	if p.max > 0 && (d > float64(p.max) || math.IsInf(d, 0)) {
		return p.max
	}
	return time.Duration(d)
}

func (p *ExponentialPolicy) MaxRetries() int {
	return p.maxRetries
}
