package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatnav/internal/browser"
	"chatnav/internal/browser/browsertest"
	"chatnav/internal/chatstate"
	"chatnav/internal/host/hosttest"
)

const testDebounce = 40 * time.Millisecond

type fakeLock struct {
	mu          sync.Mutex
	navigating  bool
	lastSuccess time.Time
}

func (l *fakeLock) Navigating() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.navigating
}

func (l *fakeLock) LastSuccess() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSuccess
}

func (l *fakeLock) set(navigating bool, last time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.navigating = navigating
	l.lastSuccess = last
}

type fixture struct {
	host    *hosttest.Host
	browser *browsertest.Browser
	lock    *fakeLock
	sched   *Scheduler
	alice   string
	bob     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := hosttest.New()
	f := &fixture{
		host:    h,
		browser: browsertest.New("http://localhost:8000", "/"),
		lock:    &fakeLock{},
	}
	f.alice = h.AddCharacter("alice.png", "Alice", "alice - chat1")
	f.bob = h.AddCharacter("bob.png", "Bob", "bob - chat1")
	h.AddGroup("g1", "Party", "session1")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.sched = New(ctx, Options{
		Browser:      f.browser,
		State:        chatstate.NewResolver(h),
		Lock:         f.lock,
		DefaultTitle: "SillyTavern",
		Debounce:     testDebounce,
		Settle:       100 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	f.sched.SetReady(true)
	return f
}

func TestSyncNowWritesCanonicalURL(t *testing.T) {
	f := newFixture(t)
	f.host.Activate(f.alice, "alice - chat1")

	outcome, err := f.sched.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeWritten, outcome)

	history := f.browser.History()
	require.Len(t, history, 1)
	assert.Equal(t, "/?nav=char&avatar=alice&cid=alice%20-%20chat1", history[0].URL)
	assert.Equal(t, "Alice - SillyTavern", history[0].Title)
	assert.Equal(t, "Alice - SillyTavern", f.browser.Title())
}

func TestSyncNowIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.host.ActivateGroup("g1", "session1")
	ctx := context.Background()

	first, err := f.sched.SyncNow(ctx)
	require.NoError(t, err)
	second, err := f.sched.SyncNow(ctx)
	require.NoError(t, err)

	assert.Equal(t, OutcomeWritten, first)
	assert.Equal(t, OutcomeUnchanged, second)
	assert.Len(t, f.browser.History(), 1)
	assert.Equal(t, "Party - SillyTavern", f.browser.Title())
}

func TestSyncNowRefreshesTitleWithoutWriting(t *testing.T) {
	f := newFixture(t)
	f.host.Activate(f.alice, "alice - chat1")
	f.browser.SetLocation("?nav=char&avatar=alice&cid=alice%20-%20chat1&msg=3", "")

	outcome, err := f.sched.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Empty(t, f.browser.History())
	assert.Equal(t, "Alice - SillyTavern", f.browser.Title())
}

func TestSyncNowReplacesLegacyFragment(t *testing.T) {
	f := newFixture(t)
	f.host.Activate(f.alice, "alice - chat1")
	f.browser.SetLocation("", "#/char/alice.png/alice%20-%20chat1")

	outcome, err := f.sched.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeWritten, outcome)
	loc, _ := f.browser.Location(context.Background())
	assert.Equal(t, "", loc.Hash)
	assert.Equal(t, "?nav=char&avatar=alice&cid=alice%20-%20chat1", loc.Search)
}

func TestSyncNowSkipsWhileNavigating(t *testing.T) {
	f := newFixture(t)
	f.host.Activate(f.alice, "alice - chat1")
	f.lock.set(true, time.Time{})

	outcome, err := f.sched.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNavigating, outcome)
	assert.Empty(t, f.browser.History())

	f.lock.set(false, time.Time{})
	outcome, err = f.sched.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeWritten, outcome)
}

func TestSyncNowSkipsWhenDisabledOrNotReady(t *testing.T) {
	f := newFixture(t)
	f.host.Activate(f.alice, "alice - chat1")

	f.sched.SetEnabled(false)
	outcome, _ := f.sched.SyncNow(context.Background())
	assert.Equal(t, OutcomeDisabled, outcome)

	f.sched.SetEnabled(true)
	f.sched.SetReady(false)
	outcome, _ = f.sched.SyncNow(context.Background())
	assert.Equal(t, OutcomeNotReady, outcome)
	assert.Empty(t, f.browser.History())
}

func TestSyncNowClearsWhenNoChat(t *testing.T) {
	f := newFixture(t)
	f.browser.SetLocation("?nav=char&avatar=alice&cid=x", "")
	require.NoError(t, f.browser.SetTitle(context.Background(), "Alice - SillyTavern"))

	outcome, err := f.sched.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCleared, outcome)

	history := f.browser.History()
	require.Len(t, history, 1)
	assert.Equal(t, "/", history[0].URL)
	assert.Equal(t, "SillyTavern", f.browser.Title())

	outcome, err = f.sched.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Len(t, f.browser.History(), 1)
}

func TestSyncNowKeepsURLRightAfterNavigation(t *testing.T) {
	f := newFixture(t)
	f.browser.SetLocation("?nav=char&avatar=alice&cid=x", "")
	f.lock.set(false, time.Now())

	outcome, err := f.sched.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettling, outcome)
	assert.Empty(t, f.browser.History())

	time.Sleep(120 * time.Millisecond)
	outcome, err = f.sched.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCleared, outcome)
}

func TestNotifyDebouncesBursts(t *testing.T) {
	f := newFixture(t)

	// The host settles through intermediate chats before the final one.
	f.host.Activate(f.bob, "bob - chat1")
	f.sched.Notify()
	f.host.ActivateGroup("g1", "session1")
	f.sched.Notify()
	f.host.Activate(f.alice, "alice - chat1")
	f.sched.Notify()

	assert.Empty(t, f.browser.History(), "nothing fires inside the window")
	require.Eventually(t, func() bool { return len(f.browser.History()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(f.browser.History()) > 1 }, 3*testDebounce, 10*time.Millisecond)
	assert.Equal(t, "/?nav=char&avatar=alice&cid=alice%20-%20chat1", f.browser.History()[0].URL)
}

func TestNotifyAfterContextDone(t *testing.T) {
	f := newFixture(t)
	f.host.Activate(f.alice, "alice - chat1")

	ctx, cancel := context.WithCancel(context.Background())
	sched := New(ctx, Options{
		Browser:  f.browser,
		State:    chatstate.NewResolver(f.host),
		Lock:     f.lock,
		Debounce: testDebounce,
		Logger:   zerolog.Nop(),
	})
	sched.SetReady(true)
	cancel()

	sched.Notify()
	assert.Never(t, func() bool { return len(f.browser.History()) > 0 }, 3*testDebounce, 10*time.Millisecond)
}

// slowBrowser widens the gap between reading the location and writing it.
type slowBrowser struct {
	*browsertest.Browser
}

func (b slowBrowser) Location(ctx context.Context) (browser.Location, error) {
	time.Sleep(5 * time.Millisecond)
	return b.Browser.Location(ctx)
}

func TestConcurrentSyncNowWritesOnce(t *testing.T) {
	f := newFixture(t)
	f.host.Activate(f.alice, "alice - chat1")
	sched := New(context.Background(), Options{
		Browser:      slowBrowser{f.browser},
		State:        chatstate.NewResolver(f.host),
		Lock:         f.lock,
		DefaultTitle: "SillyTavern",
		Logger:       zerolog.Nop(),
	})
	sched.SetReady(true)

	var wg sync.WaitGroup
	outcomes := make(chan Outcome, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := sched.SyncNow(context.Background())
			assert.NoError(t, err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	written := 0
	for outcome := range outcomes {
		if outcome == OutcomeWritten {
			written++
		}
	}
	assert.Equal(t, 1, written)
	assert.Len(t, f.browser.History(), 1)
}
