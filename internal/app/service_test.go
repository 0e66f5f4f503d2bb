package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatnav/internal/browser/browsertest"
	"chatnav/internal/chatid"
	"chatnav/internal/chatstate"
	"chatnav/internal/handoff"
	"chatnav/internal/host"
	"chatnav/internal/host/hosttest"
	"chatnav/internal/navigator"
	"chatnav/internal/scroller"
	"chatnav/internal/settings"
	"chatnav/internal/syncer"
)

const appURL = "http://localhost:8000"

type fixture struct {
	host       *hosttest.Host
	browser    *browsertest.Browser
	notifier   *browsertest.Notifier
	transcript *browsertest.Transcript
	redis      *miniredis.Miniredis
	store      *handoff.RedisStore
	nav        *navigator.Controller
	svc        *Service
	alice      string
	bob        string
}

func newFixture(t *testing.T, settings Settings) *fixture {
	t.Helper()
	return newTabFixture(t, settings, miniredis.RunT(t))
}

// newTabFixture builds another tab of the same browser profile: its own
// host and page, sharing redis with the other tabs.
func newTabFixture(t *testing.T, settings Settings, redis *miniredis.Miniredis) *fixture {
	t.Helper()
	h := hosttest.New()
	f := &fixture{
		host:       h,
		browser:    browsertest.New(appURL, "/"),
		notifier:   &browsertest.Notifier{},
		transcript: browsertest.NewTranscript(0, 1, 2, 3, 4, 5),
		redis:      redis,
	}
	f.alice = h.AddCharacter("alice.png", "Alice", "alice - chat1")
	f.bob = h.AddCharacter("bob.png", "Bob", "bob - chat1")
	h.AddGroup("g1", "Party", "session0")

	store, err := handoff.NewRedisStore("redis://"+f.redis.Addr(), handoff.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	f.store = store

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	state := chatstate.NewResolver(h)
	reveal := scroller.New(f.transcript, 10*time.Millisecond, 200*time.Millisecond, zerolog.Nop())
	f.nav = navigator.New(h, f.notifier, reveal, 200*time.Millisecond, zerolog.Nop())
	sched := syncer.New(ctx, syncer.Options{
		Browser:      f.browser,
		State:        state,
		Lock:         f.nav,
		DefaultTitle: "SillyTavern",
		Debounce:     20 * time.Millisecond,
		Settle:       50 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	f.svc = New(Deps{
		Host:      h,
		Browser:   f.browser,
		Notifier:  f.notifier,
		State:     state,
		Navigator: f.nav,
		Scheduler: sched,
		Store:     store,
		Logger:    zerolog.Nop(),
		Title:     "SillyTavern",
		Settings:  settings,
	})
	return f
}

func enabled() Settings {
	return Settings{Enabled: true, AutoUpdateURL: true}
}

func (f *fixture) active(t *testing.T) host.Entity {
	t.Helper()
	entity, ok, err := f.host.CurrentActiveEntity(context.Background())
	require.NoError(t, err)
	require.True(t, ok, "expected an active chat")
	return entity
}

func TestStartConsumesHandoff(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	require.NoError(t, f.store.Publish(ctx, chatid.Group("g1", "session1")))

	require.NoError(t, f.svc.Start(ctx))

	entity := f.active(t)
	assert.Equal(t, host.EntityGroup, entity.Kind)
	assert.Equal(t, "g1", entity.ID)
	assert.Equal(t, "session1", entity.ActiveChatFile)
	assert.False(t, f.redis.Exists(handoff.HandoffKey))

	_, ok, err := f.svc.ConsumeHandoff(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "handoff is consumed once")
}

func TestStartNavigatesFromQuery(t *testing.T) {
	f := newFixture(t, enabled())
	f.browser.SetLocation("?nav=char&avatar=alice&cid=alice%20-%20chat2", "")

	require.NoError(t, f.svc.Start(context.Background()))

	entity := f.active(t)
	assert.Equal(t, f.alice, entity.ID)
	assert.Equal(t, "alice - chat2", entity.ActiveChatFile)
	assert.Equal(t, 1, f.host.CallCount("OpenCharacterChat"))
	assert.Empty(t, f.notifier.Errors())
}

func TestStartNavigatesFromLegacyFragment(t *testing.T) {
	f := newFixture(t, enabled())
	f.browser.SetLocation("", "#/group/g1/session2")

	require.NoError(t, f.svc.Start(context.Background()))

	entity := f.active(t)
	assert.Equal(t, "g1", entity.ID)
	assert.Equal(t, "session2", entity.ActiveChatFile)
}

func TestStartResolvesShortLink(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	token, err := f.store.CreateShortLink(ctx, chatid.Character("bob", "bob - chat3"))
	require.NoError(t, err)
	f.browser.SetLocation("?"+chatid.ShortLinkQuery(token), "")

	require.NoError(t, f.svc.Start(ctx))

	entity := f.active(t)
	assert.Equal(t, f.bob, entity.ID)
	assert.Equal(t, "bob - chat3", entity.ActiveChatFile)
}

func TestStartScrollsToDeepLinkedMessage(t *testing.T) {
	f := newFixture(t, enabled())
	f.browser.SetLocation("?nav=char&avatar=alice&cid=alice%20-%20chat1&msg=5", "")

	require.NoError(t, f.svc.Start(context.Background()))

	assert.Equal(t, []int{5}, f.transcript.Scrolled())
	assert.True(t, f.transcript.Highlighted(5))
	require.Eventually(t, func() bool { return !f.transcript.Highlighted(5) }, time.Second, 5*time.Millisecond)
}

func TestStartWithoutTargetProjectsCurrentChat(t *testing.T) {
	f := newFixture(t, enabled())
	f.host.Activate(f.alice, "alice - chat1")

	require.NoError(t, f.svc.Start(context.Background()))

	history := f.browser.History()
	require.Len(t, history, 1)
	assert.Equal(t, "/?nav=char&avatar=alice&cid=alice%20-%20chat1", history[0].URL)
	assert.Equal(t, "Alice - SillyTavern", f.browser.Title())
	assert.Empty(t, f.host.Calls())
}

func TestStartDisabledDoesNothing(t *testing.T) {
	f := newFixture(t, Settings{Enabled: false, AutoUpdateURL: true})
	f.browser.SetLocation("?nav=char&avatar=alice&cid=alice%20-%20chat1", "")

	require.NoError(t, f.svc.Start(context.Background()))

	assert.True(t, f.svc.Ready())
	assert.Empty(t, f.host.Calls())
	assert.Empty(t, f.browser.History())
}

func TestBackToBarePathClosesChat(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	f.host.Activate(f.alice, "alice - chat1")
	require.NoError(t, f.svc.Start(ctx))
	require.Equal(t, "Alice - SillyTavern", f.browser.Title())

	f.browser.SetLocation("", "")
	require.NoError(t, f.svc.HandleLocationChange(ctx, host.EventPopState))

	assert.Equal(t, 1, f.host.CallCount("CloseActiveChat"))
	assert.Equal(t, "SillyTavern", f.browser.Title())
	_, ok, err := f.host.CurrentActiveEntity(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPopStateNavigatesToPreviousChat(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	f.host.Activate(f.bob, "bob - chat1")
	require.NoError(t, f.svc.Start(ctx))

	f.browser.SetLocation("?nav=char&avatar=alice&cid=alice%20-%20chat1", "")
	require.NoError(t, f.svc.HandleLocationChange(ctx, host.EventPopState))

	assert.Equal(t, f.alice, f.active(t).ID)
}

func TestHashChangeIgnoredWhileNavigating(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	require.NoError(t, f.svc.Start(ctx))

	f.browser.SetLocation("?nav=char&avatar=alice&cid=alice%20-%20chat1", "")
	require.NoError(t, f.svc.HandleLocationChange(ctx, host.EventPopState))
	require.True(t, f.nav.Navigating(), "lock is held during the grace period")
	opened := f.host.CallCount("OpenCharacterChat")

	f.browser.SetLocation("", "#/char/bob.png/bob%20-%20chat1")
	require.NoError(t, f.svc.HandleLocationChange(ctx, host.EventHashChange))

	assert.Equal(t, opened, f.host.CallCount("OpenCharacterChat"))
	assert.Equal(t, f.alice, f.active(t).ID)
}

func TestChangedEventSyncsAfterDebounce(t *testing.T) {
	f := newFixture(t, enabled())
	events := hosttest.NewEvents()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx, events) }()

	events.Emit(host.EventReady)
	f.host.Activate(f.bob, "bob - chat1")
	events.Emit(host.EventStateChanged)

	require.Eventually(t, func() bool { return len(f.browser.History()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "/?nav=char&avatar=bob&cid=bob%20-%20chat1", f.browser.History()[0].URL)

	events.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the event stream closed")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newFixture(t, enabled())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.svc.Run(ctx, hosttest.NewEvents())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCopyURL(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	f.host.ActivateGroup("g1", "session1")

	url, err := f.svc.CopyURL(ctx)
	require.NoError(t, err)

	assert.Equal(t, appURL+"/?nav=group&gid=g1&cid=session1", url)
	assert.Equal(t, url, f.browser.Clipboard())
	notices := f.notifier.Notices()
	require.NotEmpty(t, notices)
	assert.Equal(t, "Chat URL copied to clipboard", notices[len(notices)-1].Message)
}

func TestCopyURLWithoutChat(t *testing.T) {
	f := newFixture(t, enabled())

	_, err := f.svc.CopyURL(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveChat)
	assert.Empty(t, f.browser.Clipboard())
	notices := f.notifier.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "warning", notices[0].Level)
}

func TestOpenInNewTabPublishesHandoff(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	f.host.Activate(f.alice, "alice - chat1")

	url, err := f.svc.OpenInNewTab(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{appURL + "/?nav=char&avatar=alice&cid=alice%20-%20chat1"}, f.browser.Tabs())
	assert.Equal(t, f.browser.Tabs()[0], url)

	// The new tab picks the chat up on startup.
	id, ok, err := f.store.Consume(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, id.Equal(chatid.Character("alice", "alice - chat1")))
}

func TestShareLinkRoundTrip(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	f.host.Activate(f.bob, "bob - chat1")

	token, url, err := f.svc.ShareLink(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, appURL+"/?chatlink="+token, url)

	id, err := f.svc.ResolveShortLink(ctx, token)
	require.NoError(t, err)
	assert.True(t, id.Equal(chatid.Character("bob", "bob - chat1")))

	_, err = f.svc.ResolveShortLink(ctx, strings.Repeat("0", 32))
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestShareLinkForExplicitChat(t *testing.T) {
	f := newFixture(t, enabled())
	target := chatid.Group("g1", "session4.jsonl").WithMessage(2)

	token, _, err := f.svc.ShareLink(context.Background(), &target)
	require.NoError(t, err)

	id, err := f.svc.ResolveShortLink(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "session4", id.ChatFile)
	require.NotNil(t, id.MessageID)
	assert.Equal(t, 2, *id.MessageID)
}

func TestNavigateErrors(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, Settings{})
	assert.ErrorIs(t, f.svc.Navigate(ctx, chatid.Character("alice", "alice - chat1")), ErrFeatureOff)

	f = newFixture(t, enabled())
	assert.ErrorIs(t, f.svc.Navigate(ctx, chatid.Character("alice", "alice - chat1")), ErrHostNotLoaded)

	require.NoError(t, f.svc.Start(ctx))
	assert.ErrorIs(t, f.svc.Navigate(ctx, chatid.Character("carol", "carol - chat1")), ErrNavigateChat)
	assert.Equal(t, []string{"Character not found: carol"}, f.notifier.Errors())

	require.NoError(t, f.svc.Navigate(ctx, chatid.Character("alice", "alice - chat1")))
	assert.Equal(t, f.alice, f.active(t).ID)
}

func TestUpdateSettingsResyncsWhenTurnedOn(t *testing.T) {
	f := newFixture(t, Settings{Enabled: true, AutoUpdateURL: false})
	ctx := context.Background()
	f.host.Activate(f.alice, "alice - chat1")
	require.NoError(t, f.svc.Start(ctx))
	assert.Empty(t, f.browser.History(), "auto update is off")

	applied, err := f.svc.UpdateSettings(ctx, enabled())
	require.NoError(t, err)
	assert.Equal(t, enabled(), applied)
	assert.Len(t, f.browser.History(), 1)

	applied, err = f.svc.UpdateSettings(ctx, Settings{Enabled: true})
	require.NoError(t, err)
	assert.False(t, applied.AutoUpdateURL)
	f.host.Activate(f.bob, "bob - chat1")
	outcome, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncer.OutcomeDisabled, outcome)
}

func TestUpdateSettingsPersists(t *testing.T) {
	f := newFixture(t, enabled())
	path := filepath.Join(t.TempDir(), "chatnav.yaml")
	file, _, err := settings.Open(path, enabled(), zerolog.Nop())
	require.NoError(t, err)
	f.svc.settingsFile = file

	_, err = f.svc.UpdateSettings(context.Background(), Settings{Enabled: true})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "enabled: true\nauto_update_url: false\n", string(data))
}

func TestReloadSettingsDoesNotPersist(t *testing.T) {
	f := newFixture(t, enabled())
	saver := &countingSaver{}
	f.svc.settingsFile = saver

	got, err := f.svc.ReloadSettings(context.Background(), Settings{})
	require.NoError(t, err)
	assert.Equal(t, Settings{}, got)
	assert.Equal(t, Settings{}, f.svc.Settings())
	assert.Zero(t, saver.calls)
}

type countingSaver struct {
	calls int
}

func (c *countingSaver) Save(settings.Settings) error {
	c.calls++
	return nil
}

func TestStartFallsBackToQueryWhenShortLinkLookupFails(t *testing.T) {
	f := newFixture(t, enabled())
	f.browser.SetLocation("?chatlink=tok&nav=char&avatar=bob&cid=bob%20-%20chat1", "")
	f.redis.SetError("ERR server unavailable")

	require.NoError(t, f.svc.Start(context.Background()))

	entity := f.active(t)
	assert.Equal(t, f.bob, entity.ID)
	assert.Equal(t, "bob - chat1", entity.ActiveChatFile)
}

func runTab(t *testing.T, tabs *Tabs, svc *Service) (*hosttest.Events, context.CancelFunc, <-chan error) {
	t.Helper()
	events := hosttest.NewEvents()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tabs.Run(ctx, svc, events) }()
	require.Eventually(t, func() bool { return tabs.Len() == 1 }, time.Second, 5*time.Millisecond)
	return events, cancel, done
}

func TestOpenInNewTabHandsOffToFollowedTab(t *testing.T) {
	first := newFixture(t, enabled())
	second := newTabFixture(t, enabled(), first.redis)
	ctx := context.Background()
	first.host.ActivateGroup("g1", "session0")

	_, err := first.svc.OpenInNewTab(ctx)
	require.NoError(t, err)
	require.True(t, first.redis.Exists(handoff.HandoffKey))

	tabs := NewTabs(zerolog.Nop())
	events, cancel, done := runTab(t, tabs, second.svc)
	defer cancel()
	events.Emit(host.EventReady)

	require.Eventually(t, func() bool {
		entity, ok, err := second.host.CurrentActiveEntity(ctx)
		return err == nil && ok && entity.ID == "g1" && entity.ActiveChatFile == "session0"
	}, time.Second, 5*time.Millisecond)
	assert.False(t, first.redis.Exists(handoff.HandoffKey), "the new tab consumed the handoff")

	events.Close()
	require.NoError(t, <-done, "a closed tab is not an error")
	assert.Zero(t, tabs.Len())
}

func TestSettingsReachFollowedTabs(t *testing.T) {
	first := newFixture(t, enabled())
	second := newTabFixture(t, enabled(), first.redis)
	tabs := NewTabs(zerolog.Nop())
	first.svc.onSettings = tabs.ApplySettings

	_, cancel, done := runTab(t, tabs, second.svc)

	_, err := first.svc.UpdateSettings(context.Background(), Settings{Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, Settings{Enabled: true}, second.svc.Settings())

	cancel()
	require.NoError(t, <-done)
}
