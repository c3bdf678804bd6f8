// Package poller runs the notification loop: fetch mentions newer than the
// cursor, advance the cursor, then decide and reply to each mention in order.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/otomed/otomed3/internal/brain"
	"github.com/otomed/otomed3/internal/cursor"
	"github.com/otomed/otomed3/internal/persona"
	"github.com/otomed/otomed3/internal/retry"
	"github.com/otomed/otomed3/internal/social"
)

// ErrNotVerified is returned by RunOnce before a successful Verify.
var ErrNotVerified = errors.New("poller: credentials not verified")

// Decider picks the action for one conversation. It must not fail.
type Decider interface {
	Decide(ctx context.Context, conversation string) brain.Decision
}

// Dispatcher carries out a decision as a reply to status.
type Dispatcher interface {
	Dispatch(ctx context.Context, d brain.Decision, status *social.Status, author string) error
}

// Config tunes the loop. Zero durations use the defaults.
type Config struct {
	// Interval is the pause after a successful pass (default 15s).
	Interval time.Duration
	// Cooldown is the pause after a failed pass (default 60s).
	Cooldown time.Duration
	// Ignore lists accounts whose mentions are skipped, e.g. other bots.
	Ignore []string
	// Policy wraps credential checks and notification fetches.
	Policy *retry.Policy
	// Sleep replaces the pause between passes; Trigger has no effect when set.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnLoopError is called for every failed pass.
	OnLoopError func(err error)
	Logger      *slog.Logger
}

// Stats is a snapshot of loop counters.
type Stats struct {
	Self      string    `json:"self"`
	Cursor    string    `json:"cursor"`
	Started   time.Time `json:"started"`
	LastPoll  time.Time `json:"last_poll"`
	Polls     int64     `json:"polls"`
	Processed int64     `json:"processed"`
	Skipped   int64     `json:"skipped"`
	Failed    int64     `json:"failed"`
	LastError string    `json:"last_error,omitempty"`
}

// Poller is the single sequential mention loop.
type Poller struct {
	platform social.Platform
	cursor   cursor.Store
	decider  Decider
	dispatch Dispatcher
	persona  persona.Persona
	cfg      Config
	logger   *slog.Logger
	ignore   map[string]bool

	pass    sync.Mutex
	trigger chan struct{}

	mu    sync.Mutex
	stats Stats
}

// New creates a poller. Verify must succeed before RunOnce or Run.
func New(platform social.Platform, store cursor.Store, decider Decider, dispatch Dispatcher, p persona.Persona, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.Policy == nil {
		cfg.Policy = retry.DefaultPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ignore := make(map[string]bool, len(cfg.Ignore))
	for _, a := range cfg.Ignore {
		ignore[normalizeAcct(a)] = true
	}
	return &Poller{
		platform: platform,
		cursor:   store,
		decider:  decider,
		dispatch: dispatch,
		persona:  p,
		cfg:      cfg,
		logger:   logger,
		ignore:   ignore,
		trigger:  make(chan struct{}, 1),
		stats:    Stats{Started: time.Now()},
	}
}

// Verify checks the credentials and records the bot's own handle.
func (p *Poller) Verify(ctx context.Context) error {
	acct, err := retry.Do(ctx, p.cfg.Policy, "verify_credentials", func(ctx context.Context) (*social.Account, error) {
		return p.platform.VerifyCredentials(ctx)
	})
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	if acct == nil || acct.Acct == "" {
		return fmt.Errorf("verify credentials: empty account")
	}

	p.mu.Lock()
	p.stats.Self = acct.Acct
	p.mu.Unlock()

	p.logger.Info("logged in", "acct", acct.Acct)
	return nil
}

// Self returns the verified handle, or "" before Verify.
func (p *Poller) Self() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.Self
}

// Snapshot returns a copy of the current counters.
func (p *Poller) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Trigger wakes a sleeping Run early. It reports false when a wake-up is
// already pending.
func (p *Poller) Trigger() bool {
	select {
	case p.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run repeats RunOnce until ctx is canceled. Failed passes are logged and
// followed by the cooldown; Run itself only returns nil.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", "interval", p.cfg.Interval, "cooldown", p.cfg.Cooldown)
	for {
		err := p.RunOnce(ctx)
		if ctx.Err() != nil {
			p.logger.Info("poller stopped")
			return nil
		}

		wait := p.cfg.Interval
		if err != nil {
			wait = p.cfg.Cooldown
			p.recordError(err)
			p.logger.Error("poll pass failed", "error", err, "cooldown", wait)
			if p.cfg.OnLoopError != nil {
				p.cfg.OnLoopError(err)
			}
		} else {
			p.logger.Debug("poll pass done", "next_in", wait)
		}

		if err := p.wait(ctx, wait); err != nil {
			p.logger.Info("poller stopped")
			return nil
		}
	}
}

func (p *Poller) wait(ctx context.Context, d time.Duration) error {
	if p.cfg.Sleep != nil {
		return p.cfg.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	case <-p.trigger:
		return nil
	}
}

// RunOnce performs one pass. The returned error is a loop-level failure
// (cursor or fetch); per-mention failures are logged and counted only.
func (p *Poller) RunOnce(ctx context.Context) error {
	p.pass.Lock()
	defer p.pass.Unlock()

	self := p.Self()
	if self == "" {
		return ErrNotVerified
	}
	logger := p.logger.With("pass_id", uuid.NewString()[:8])

	since, _, err := p.cursor.Get(ctx)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}

	notes, err := retry.Do(ctx, p.cfg.Policy, "fetch_notifications", func(ctx context.Context) ([]*social.Notification, error) {
		return p.platform.Notifications(ctx, since)
	})
	p.mu.Lock()
	p.stats.Polls++
	p.stats.LastPoll = time.Now()
	p.stats.Cursor = since
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}
	if len(notes) == 0 {
		return nil
	}
	logger.Info("new notifications", "count", len(notes), "since_id", since)

	if newest := social.MaxID(notes); newest != "" && (since == "" || social.CompareIDs(newest, since) > 0) {
		if err := p.cursor.Set(ctx, newest); err != nil {
			return fmt.Errorf("write cursor: %w", err)
		}
		p.mu.Lock()
		p.stats.Cursor = newest
		p.mu.Unlock()
	}

	for _, n := range oldestFirst(notes, since) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.handle(ctx, logger, self, n)
	}
	return nil
}

// oldestFirst drops nil entries and anything at or below since, then sorts
// ascending by id.
func oldestFirst(notes []*social.Notification, since string) []*social.Notification {
	out := make([]*social.Notification, 0, len(notes))
	for _, n := range notes {
		if n == nil || n.ID == "" {
			continue
		}
		if since != "" && social.CompareIDs(n.ID, since) <= 0 {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return social.CompareIDs(out[i].ID, out[j].ID) < 0
	})
	return out
}

func (p *Poller) handle(ctx context.Context, logger *slog.Logger, self string, n *social.Notification) {
	logger = logger.With("notification_id", n.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling notification", "panic", r)
			p.count(func(s *Stats) { s.Failed++ })
		}
	}()

	if reason := p.skipReason(self, n); reason != "" {
		logger.Debug("skipping notification", "reason", reason)
		p.count(func(s *Stats) { s.Skipped++ })
		return
	}

	st := n.Status
	author := n.Account.Acct
	logger = logger.With("status_id", st.ID, "author", author)
	logger.Info("handling mention")

	conversation := p.persona.Context(p.parentText(ctx, logger, st), social.NormalizeContent(st.Content, self))
	decision := p.decider.Decide(ctx, conversation)
	if decision == nil {
		decision = brain.Unknown{}
	}

	if err := p.dispatch.Dispatch(ctx, decision, st, author); err != nil {
		logger.Error("reply failed", "tool", decision.Tool(), "error", err)
		p.count(func(s *Stats) { s.Failed++ })
		return
	}
	logger.Info("mention handled", "tool", decision.Tool())
	p.count(func(s *Stats) { s.Processed++ })
}

func (p *Poller) skipReason(self string, n *social.Notification) string {
	switch {
	case n.Type != social.NotificationMention:
		return "not a mention"
	case n.Status == nil || n.Status.ID == "":
		return "no status"
	case n.Account.Acct == "":
		return "no author"
	case normalizeAcct(n.Account.Acct) == normalizeAcct(self):
		return "own post"
	case p.ignore[normalizeAcct(n.Account.Acct)]:
		return "ignored account"
	default:
		return ""
	}
}

// parentText fetches the replied-to status once. Failures leave it empty.
func (p *Poller) parentText(ctx context.Context, logger *slog.Logger, st *social.Status) string {
	if st.InReplyToID == "" {
		return ""
	}
	parent, err := p.platform.GetStatus(ctx, st.InReplyToID)
	if err != nil || parent == nil {
		logger.Warn("parent status unavailable", "in_reply_to_id", st.InReplyToID, "error", err)
		return ""
	}
	return social.NormalizeContent(parent.Content, "")
}

func (p *Poller) count(fn func(*Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

func (p *Poller) recordError(err error) {
	p.mu.Lock()
	p.stats.LastError = err.Error()
	p.mu.Unlock()
}

func normalizeAcct(a string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(a), "@"))
}
