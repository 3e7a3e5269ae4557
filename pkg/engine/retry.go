package engine

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/cartflow/pkg/conditions"
	"github.com/dukex/cartflow/pkg/dispatcher"
)

// RetryPolicy bounds retries of transient step failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor applied to each interval, 0 for none.
	Jitter float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 30 * time.Second,
		MaxInterval:     30 * time.Minute,
		Multiplier:      2,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()

	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}

	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}

	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}

	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}

	return p
}

// Delay is the wait before retry number attempt, starting at 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	delay := p.InitialInterval
	for range max(attempt, 1) {
		delay = b.NextBackOff()
	}

	return delay
}

// Exhausted reports whether attempt failed attempts reach the ceiling.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// permanent reports whether retrying the step cannot succeed.
func permanent(err error) bool {
	return dispatcher.IsPermanent(err) ||
		errors.Is(err, conditions.ErrUnknownConditionType) ||
		errors.Is(err, conditions.ErrIncompatibleOperator) ||
		errors.Is(err, conditions.ErrInvalidValue)
}
