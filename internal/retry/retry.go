package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// ErrExhausted is returned (wrapped) when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy controls how failed calls are retried with exponential backoff.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// Classify decides whether an error is worth another attempt. Nil means Classify.
	Classify func(error) Class
	// Sleep waits between attempts. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger receives one line per failed attempt. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultPolicy returns a Policy with the bot's defaults:
// 3 attempts, 5s initial delay, 2x multiplier, 60s max delay.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     60 * time.Second,
	}
}

// WithClassifier returns a copy of p that uses fn to classify errors.
func (p *Policy) WithClassifier(fn func(error) Class) *Policy {
	cp := *p
	cp.Classify = fn
	return &cp
}

// NextDelay returns the backoff delay for the given attempt number (1-indexed).
// The delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *Policy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether err may be retried after the given attempt.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	return p.classify(err) == Transient
}

func (p *Policy) classify(err error) Class {
	if p.Classify != nil {
		return p.Classify(err)
	}
	return Classify(err)
}

func (p *Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Execute runs fn until it succeeds, fails permanently, or MaxAttempts is
// reached. The returned error wraps ErrExhausted when attempts ran out.
func (p *Policy) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do runs fn under policy p and returns its result. It never panics on its
// own; callers apply their fallback when the error is non-nil.
func Do[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		class := p.classify(err)
		if class == Canceled || ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		if class == Permanent {
			p.logger().Warn("call failed permanently",
				"op", op,
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"class", class.String(),
				"error", err,
			)
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.NextDelay(attempt)
		p.logger().Warn("call failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"class", class.String(),
			"error", err,
		)
		if err := p.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
	}

	p.logger().Error("call failed after all attempts",
		"op", op,
		"max_attempts", maxAttempts,
		"error", lastErr,
	)
	return zero, fmt.Errorf("%s: %w: %w", op, ErrExhausted, lastErr)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
