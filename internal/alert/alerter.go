package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultQuiet is how long an identical alert is suppressed after delivery.
const DefaultQuiet = 10 * time.Minute

// Alerter fans a notice out to every configured target and suppresses
// repeats of the same text, so a long outage does not flood the channel.
type Alerter struct {
	registry *Registry
	targets  []string
	quiet    time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	sent map[string]time.Time
}

// Option configures an Alerter.
type Option func(*Alerter)

// WithQuiet overrides DefaultQuiet. Zero disables suppression.
func WithQuiet(d time.Duration) Option { return func(a *Alerter) { a.quiet = d } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(a *Alerter) { a.now = now } }

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option { return func(a *Alerter) { a.logger = l } }

func New(registry *Registry, targets []string, opts ...Option) *Alerter {
	a := &Alerter{
		registry: registry,
		targets:  targets,
		quiet:    DefaultQuiet,
		timeout:  15 * time.Second,
		now:      time.Now,
		logger:   slog.Default(),
		sent:     make(map[string]time.Time),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Notify delivers message to every target. It reports whether the message
// was sent (false when suppressed or when there are no targets).
func (a *Alerter) Notify(ctx context.Context, message string) bool {
	if a == nil || len(a.targets) == 0 {
		return false
	}

	a.mu.Lock()
	now := a.now()
	if last, ok := a.sent[message]; ok && a.quiet > 0 && now.Sub(last) < a.quiet {
		a.mu.Unlock()
		return false
	}
	a.sent[message] = now
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	for _, target := range a.targets {
		if err := a.registry.Deliver(ctx, target, message); err != nil {
			a.logger.Warn("alert delivery failed", "target", target, "error", err)
		}
	}
	return true
}

// LoopError has the shape of the poller's loop error hook.
func (a *Alerter) LoopError(err error) {
	a.Notify(context.Background(), fmt.Sprintf("otomed: poll pass failed: %v", err))
}

// LogHandler writes alerts to logger. Useful as a fallback target ("log:").
func LogHandler(logger *slog.Logger) Handler {
	return func(_ context.Context, target, message string) error {
		logger.Error("operator alert", "target", target, "message", message)
		return nil
	}
}
