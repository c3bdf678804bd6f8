package poller

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otomed/otomed3/internal/brain"
	"github.com/otomed/otomed3/internal/cursor"
	"github.com/otomed/otomed3/internal/persona"
	"github.com/otomed/otomed3/internal/retry"
	"github.com/otomed/otomed3/internal/social"
	"github.com/otomed/otomed3/internal/social/socialtest"
)

type recordingDecider struct {
	mu            sync.Mutex
	conversations []string
	decide        func(conversation string) brain.Decision
}

func (r *recordingDecider) Decide(ctx context.Context, conversation string) brain.Decision {
	r.mu.Lock()
	r.conversations = append(r.conversations, conversation)
	r.mu.Unlock()
	if r.decide != nil {
		return r.decide(conversation)
	}
	return brain.Chat{Text: "Merhaba!"}
}

type dispatched struct {
	decision brain.Decision
	statusID string
	author   string
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
	fail  func(statusID string) error
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, d brain.Decision, st *social.Status, author string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dispatched{decision: d, statusID: st.ID, author: author})
	if r.fail != nil {
		return r.fail(st.ID)
	}
	return nil
}

func (r *recordingDispatcher) statusIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, c := range r.calls {
		ids = append(ids, c.statusID)
	}
	return ids
}

func noWait() *retry.Policy {
	return &retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		Sleep:        func(context.Context, time.Duration) error { return nil },
	}
}

type fixture struct {
	platform *socialtest.Platform
	cursor   *cursor.Memory
	decider  *recordingDecider
	dispatch *recordingDispatcher
	poller   *Poller
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		platform: socialtest.New("otomed"),
		cursor:   cursor.NewMemory(""),
		decider:  &recordingDecider{},
		dispatch: &recordingDispatcher{},
	}
	if cfg.Policy == nil {
		cfg.Policy = noWait()
	}
	f.poller = New(f.platform, f.cursor, f.decider, f.dispatch, persona.Default(), cfg)
	require.NoError(t, f.poller.Verify(context.Background()))
	return f
}

func TestRunOnceRequiresVerify(t *testing.T) {
	p := New(socialtest.New("otomed"), cursor.NewMemory(""), &recordingDecider{}, &recordingDispatcher{}, persona.Default(), Config{})
	assert.ErrorIs(t, p.RunOnce(context.Background()), ErrNotVerified)
}

func TestVerifyFailureIsReported(t *testing.T) {
	platform := socialtest.New("otomed")
	platform.VerifyErr = retry.WrapStatus(http.StatusUnauthorized, errors.New("invalid token"))
	p := New(platform, cursor.NewMemory(""), &recordingDecider{}, &recordingDispatcher{}, persona.Default(), Config{Policy: noWait()})

	assert.Error(t, p.Verify(context.Background()))
	assert.Equal(t, "", p.Self())
}

func TestCursorEqualsMaxIDSeen(t *testing.T) {
	f := newFixture(t, Config{})
	f.platform.Feed = []*social.Notification{
		socialtest.Mention("9", "s9", "ayse", "<p>a</p>"),
		socialtest.Mention("110", "s110", "ayse", "<p>b</p>"),
		socialtest.Mention("100", "s100", "ayse", "<p>c</p>"),
	}

	require.NoError(t, f.poller.RunOnce(context.Background()))

	v, ok, err := f.cursor.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "110", v)
	assert.Equal(t, "110", f.poller.Snapshot().Cursor)
}

func TestNewestFirstFeedIsAnsweredOldestFirst(t *testing.T) {
	f := newFixture(t, Config{})
	f.platform.Feed = []*social.Notification{
		socialtest.Mention("103", "s3", "ayse", "<p>üç</p>"),
		socialtest.Mention("102", "s2", "mehmet", "<p>iki</p>"),
		socialtest.Mention("101", "s1", "ayse", "<p>bir</p>"),
	}

	require.NoError(t, f.poller.RunOnce(context.Background()))
	assert.Equal(t, []string{"s1", "s2", "s3"}, f.dispatch.statusIDs())
}

func TestNeverRepliesToSelf(t *testing.T) {
	f := newFixture(t, Config{})
	f.platform.Feed = []*social.Notification{
		socialtest.Mention("5", "s5", "OtoMed", "<p>kendime not</p>"),
		socialtest.Mention("6", "s6", "ayse", "<p>selam</p>"),
	}

	require.NoError(t, f.poller.RunOnce(context.Background()))

	assert.Equal(t, []string{"s6"}, f.dispatch.statusIDs())
	snap := f.poller.Snapshot()
	assert.Equal(t, int64(1), snap.Skipped)
	assert.Equal(t, int64(1), snap.Processed)
}

func TestSkipsNonMentionsAndIncompleteNotifications(t *testing.T) {
	f := newFixture(t, Config{Ignore: []string{"@spambot"}})
	fav := socialtest.Mention("1", "s1", "ayse", "x")
	fav.Type = social.NotificationFavourite
	noStatus := socialtest.Mention("2", "s2", "ayse", "x")
	noStatus.Status = nil
	noAuthor := socialtest.Mention("3", "s3", "", "x")
	f.platform.Feed = []*social.Notification{
		fav,
		noStatus,
		noAuthor,
		nil,
		socialtest.Mention("4", "s4", "spambot", "x"),
		socialtest.Mention("5", "s5", "ayse", "x"),
	}

	require.NoError(t, f.poller.RunOnce(context.Background()))

	assert.Equal(t, []string{"s5"}, f.dispatch.statusIDs())
	assert.Equal(t, int64(4), f.poller.Snapshot().Skipped)
	v, _, _ := f.cursor.Get(context.Background())
	assert.Equal(t, "5", v)
}

func TestFaultIsolation(t *testing.T) {
	f := newFixture(t, Config{})
	f.decider.decide = func(conversation string) brain.Decision {
		if strings.Contains(conversation, "patla") {
			panic("decider exploded")
		}
		return brain.Chat{Text: "ok"}
	}
	f.dispatch.fail = func(statusID string) error {
		if statusID == "s2" {
			return errors.New("post rejected")
		}
		return nil
	}
	f.platform.Feed = []*social.Notification{
		socialtest.Mention("1", "s1", "ayse", "<p>patla</p>"),
		socialtest.Mention("2", "s2", "ayse", "<p>selam</p>"),
		socialtest.Mention("3", "s3", "ayse", "<p>merhaba</p>"),
	}

	require.NoError(t, f.poller.RunOnce(context.Background()))

	assert.Equal(t, []string{"s2", "s3"}, f.dispatch.statusIDs())
	snap := f.poller.Snapshot()
	assert.Equal(t, int64(2), snap.Failed)
	assert.Equal(t, int64(1), snap.Processed)
}

func TestSecondPassStartsFromCursor(t *testing.T) {
	f := newFixture(t, Config{})
	f.platform.Feed = []*social.Notification{socialtest.Mention("10", "s10", "ayse", "x")}

	require.NoError(t, f.poller.RunOnce(context.Background()))
	require.NoError(t, f.poller.RunOnce(context.Background()))

	assert.Equal(t, []string{"", "10"}, f.platform.SinceIDs())
	assert.Equal(t, []string{"s10"}, f.dispatch.statusIDs(), "mention must not be answered twice")
	assert.Equal(t, 1, f.cursor.Sets())
}

func TestItemsAtOrBelowCursorAreIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.cursor.Set(context.Background(), "50"))
	f.platform.Feed = []*social.Notification{
		socialtest.Mention("40", "s40", "ayse", "x"),
		socialtest.Mention("50", "s50", "ayse", "x"),
	}

	require.NoError(t, f.poller.RunOnce(context.Background()))

	assert.Empty(t, f.dispatch.statusIDs())
	v, _, _ := f.cursor.Get(context.Background())
	assert.Equal(t, "50", v, "cursor never moves backwards")
}

func TestContextIncludesParent(t *testing.T) {
	f := newFixture(t, Config{})
	f.platform.Statuses["800"] = &social.Status{ID: "800", Content: "<p>Bugün hava çok güzel</p>"}
	n := socialtest.Mention("1", "s1", "ayse", `<p><span class="h-card"><a href="https://sosyal.teknofest.app/@otomed" class="u-url mention">@<span>otomed</span></a></span> katılıyor musun?</p>`)
	n.Status.InReplyToID = "800"
	f.platform.Feed = []*social.Notification{n}

	require.NoError(t, f.poller.RunOnce(context.Background()))

	require.Len(t, f.decider.conversations, 1)
	assert.Equal(t,
		"Yanıt verilen üst gönderi metni: 'Bugün hava çok güzel'\nKullanıcının bu gönderiye yanıtı: 'katılıyor musun?'",
		f.decider.conversations[0])
}

func TestParentFetchFailureLeavesParentEmpty(t *testing.T) {
	f := newFixture(t, Config{})
	f.platform.GetStatusErr = errors.New("404")
	n := socialtest.Mention("1", "s1", "ayse", "<p>@otomed selam</p>")
	n.Status.InReplyToID = "800"
	f.platform.Feed = []*social.Notification{n}

	require.NoError(t, f.poller.RunOnce(context.Background()))

	require.Len(t, f.decider.conversations, 1)
	assert.Equal(t, "Yanıt verilen üst gönderi metni: ''\nKullanıcının bu gönderiye yanıtı: 'selam'", f.decider.conversations[0])
	assert.Equal(t, []string{"s1"}, f.dispatch.statusIDs())
}

type failingCursor struct {
	cursor.Memory
	setErr error
}

func (c *failingCursor) Set(ctx context.Context, v string) error { return c.setErr }

func TestCursorWriteFailureAbortsPass(t *testing.T) {
	platform := socialtest.New("otomed")
	platform.Feed = []*social.Notification{socialtest.Mention("1", "s1", "ayse", "x")}
	dispatch := &recordingDispatcher{}
	p := New(platform, &failingCursor{setErr: errors.New("disk full")}, &recordingDecider{}, dispatch, persona.Default(), Config{Policy: noWait()})
	require.NoError(t, p.Verify(context.Background()))

	err := p.RunOnce(context.Background())
	assert.ErrorContains(t, err, "write cursor")
	assert.Empty(t, dispatch.statusIDs(), "nothing is processed without a persisted cursor")
}

func TestFetchFailureIsLoopLevel(t *testing.T) {
	f := newFixture(t, Config{})
	f.platform.NotificationsErr = retry.WrapStatus(http.StatusBadGateway, errors.New("bad gateway"))

	err := f.poller.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Len(t, f.platform.SinceIDs(), 3, "transient fetch errors are retried")
}

func TestRunUsesIntervalAndCooldown(t *testing.T) {
	var (
		mu     sync.Mutex
		sleeps []time.Duration
		loops  []error
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, Config{
		Interval: 15 * time.Second,
		Cooldown: 60 * time.Second,
		OnLoopError: func(err error) {
			mu.Lock()
			loops = append(loops, err)
			mu.Unlock()
		},
	})
	f.poller.cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		n := len(sleeps)
		mu.Unlock()
		switch n {
		case 1:
			f.platform.NotificationsErr = errors.New("network down")
		case 2:
			f.platform.NotificationsErr = nil
		default:
			cancel()
		}
		return ctx.Err()
	}

	require.NoError(t, f.poller.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{15 * time.Second, 60 * time.Second, 15 * time.Second}, sleeps)
	require.Len(t, loops, 1)
	assert.Contains(t, f.poller.Snapshot().LastError, "network down")
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.poller.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestTriggerWakesRun(t *testing.T) {
	f := newFixture(t, Config{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.poller.Run(ctx) }()

	require.Eventually(t, func() bool { return f.poller.Snapshot().Polls == 1 }, 5*time.Second, 10*time.Millisecond)
	f.poller.Trigger()
	require.Eventually(t, func() bool { return f.poller.Snapshot().Polls == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestTriggerCoalesces(t *testing.T) {
	f := newFixture(t, Config{})
	assert.True(t, f.poller.Trigger())
	assert.False(t, f.poller.Trigger())
}
