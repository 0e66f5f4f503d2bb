package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"chatnav/internal/browser"
	"chatnav/internal/chatid"
	"chatnav/internal/chatstate"
	"chatnav/internal/host"
	"chatnav/internal/navigator"
	"chatnav/internal/settings"
	"chatnav/internal/syncer"
)

type Settings = settings.Settings

type settingsStore interface {
	Save(s settings.Settings) error
}

type navigationController interface {
	ApplyNavigation(ctx context.Context, target chatid.Identity) bool
	Navigating() bool
	Lock() navigator.Lock
}

type syncScheduler interface {
	SyncNow(ctx context.Context) (syncer.Outcome, error)
	Notify()
	SetEnabled(enabled bool)
	SetReady(ready bool)
}

type stateReader interface {
	Current(ctx context.Context) (chatstate.State, bool, error)
}

type handoffStore interface {
	Publish(ctx context.Context, id chatid.Identity) error
	Consume(ctx context.Context) (chatid.Identity, bool, error)
	CreateShortLink(ctx context.Context, id chatid.Identity) (string, error)
	ResolveShortLink(ctx context.Context, token string) (chatid.Identity, bool, error)
	Ping(ctx context.Context) error
}

type Deps struct {
	Host      host.Host
	Browser   browser.Browser
	Notifier  browser.Notifier
	State     stateReader
	Navigator navigationController
	Scheduler syncScheduler
	Store     handoffStore
	Logger    zerolog.Logger
	Title     string
	Settings  Settings

	// SettingsFile persists settings changed through the service. Optional.
	SettingsFile    settingsStore
	// SettingsChanged is called after new settings were applied. Optional.
	SettingsChanged func(ctx context.Context, next Settings)
}

// Service ties the navigator, the scheduler and the handoff store to the
// host's lifecycle and to the actions a settings panel or link overlay calls.
type Service struct {
	host         host.Host
	browser      browser.Browser
	notifier     browser.Notifier
	state        stateReader
	nav          navigationController
	scheduler    syncScheduler
	store        handoffStore
	settingsFile settingsStore
	onSettings   func(ctx context.Context, next Settings)
	logger       zerolog.Logger
	defaultTitle string

	mu       sync.Mutex
	settings Settings
	ready    bool
}

func New(deps Deps) *Service {
	s := &Service{
		host:         deps.Host,
		browser:      deps.Browser,
		notifier:     deps.Notifier,
		state:        deps.State,
		nav:          deps.Navigator,
		scheduler:    deps.Scheduler,
		store:        deps.Store,
		settingsFile: deps.SettingsFile,
		onSettings:   deps.SettingsChanged,
		logger:       deps.Logger,
		defaultTitle: deps.Title,
		settings:     deps.Settings,
	}
	s.scheduler.SetEnabled(deps.Settings.Enabled && deps.Settings.AutoUpdateURL)
	return s
}

// Run processes page events until ctx is done or the stream closes.
func (s *Service) Run(ctx context.Context, events host.Events) error {
	stream := events.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, ev host.Event) {
	switch ev.Kind {
	case host.EventReady:
		if err := s.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("startup navigation failed")
		}
	case host.EventStateChanged:
		if s.Settings().Enabled {
			s.scheduler.Notify()
		}
	case host.EventPopState, host.EventHashChange:
		if err := s.HandleLocationChange(ctx, ev.Kind); err != nil {
			s.logger.Error().Err(err).Str("event", string(ev.Kind)).Msg("location change failed")
		}
	default:
		s.logger.Debug().Str("event", string(ev.Kind)).Msg("ignoring event")
	}
}

// Start runs once the host signals readiness. A pending handoff wins over
// the address bar; with neither, the current chat is projected into the URL.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ready = true
	enabled := s.settings.Enabled
	s.mu.Unlock()
	s.scheduler.SetReady(true)

	if !enabled {
		return nil
	}

	id, ok, err := s.store.Consume(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("handoff unavailable")
	}
	if ok {
		s.logger.Info().Str("target", id.String()).Msg("navigating to handed-off chat")
		s.nav.ApplyNavigation(ctx, id)
		return nil
	}

	loc, err := s.browser.Location(ctx)
	if err != nil {
		return fmt.Errorf("read location: %w", err)
	}
	id, source, err := chatid.DecodeLocation(ctx, loc.Search, loc.Hash, s.store)
	if err != nil {
		s.logger.Warn().Err(err).Msg("decode location")
	}
	if source != chatid.SourceNone {
		s.logger.Info().Str("target", id.String()).Str("source", string(source)).Msg("navigating to chat from URL")
		s.nav.ApplyNavigation(ctx, id)
		return nil
	}

	_, err = s.scheduler.SyncNow(ctx)
	return err
}

// HandleLocationChange reacts to back/forward and manual fragment edits.
func (s *Service) HandleLocationChange(ctx context.Context, kind host.EventKind) error {
	if !s.Settings().Enabled {
		return nil
	}
	if kind == host.EventHashChange && s.nav.Navigating() {
		return nil
	}

	loc, err := s.browser.Location(ctx)
	if err != nil {
		return fmt.Errorf("read location: %w", err)
	}
	id, source, err := chatid.DecodeLocation(ctx, loc.Search, loc.Hash, s.store)
	if err != nil {
		s.logger.Warn().Err(err).Msg("decode location")
	}
	if source != chatid.SourceNone {
		s.nav.ApplyNavigation(ctx, id)
		return nil
	}
	if !loc.Bare() {
		return nil
	}

	// Back to the bare app URL: leave the chat.
	if _, active, err := s.state.Current(ctx); err == nil && active {
		if err := s.host.CloseActiveChat(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("close active chat")
		}
	}
	if err := s.browser.SetTitle(ctx, s.defaultTitle); err != nil {
		return fmt.Errorf("reset title: %w", err)
	}
	return nil
}

func (s *Service) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings applies and persists new settings; switching either flag on
// re-syncs.
func (s *Service) UpdateSettings(ctx context.Context, next Settings) (Settings, error) {
	if s.settingsFile != nil {
		if err := s.settingsFile.Save(next); err != nil {
			return s.Settings(), err
		}
	}
	return s.ReloadSettings(ctx, next)
}

// ReloadSettings applies settings that are already persisted, e.g. after the
// settings file was edited by hand.
func (s *Service) ReloadSettings(ctx context.Context, next Settings) (Settings, error) {
	s.mu.Lock()
	prev := s.settings
	s.settings = next
	s.mu.Unlock()

	s.scheduler.SetEnabled(next.Enabled && next.AutoUpdateURL)
	if s.onSettings != nil {
		s.onSettings(ctx, next)
	}
	turnedOn := (next.Enabled && !prev.Enabled) || (next.AutoUpdateURL && !prev.AutoUpdateURL)
	if turnedOn {
		if _, err := s.scheduler.SyncNow(ctx); err != nil {
			return next, err
		}
	}
	return next, nil
}

func (s *Service) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Service) Lock() navigator.Lock {
	return s.nav.Lock()
}

// Navigate applies id on behalf of an API caller.
func (s *Service) Navigate(ctx context.Context, id chatid.Identity) error {
	if !s.Settings().Enabled {
		return ErrFeatureOff
	}
	if !s.Ready() {
		return ErrHostNotLoaded
	}
	if !s.nav.ApplyNavigation(ctx, id) {
		return ErrNavigateChat
	}
	return nil
}

func (s *Service) Sync(ctx context.Context) (syncer.Outcome, error) {
	return s.scheduler.SyncNow(ctx)
}

// CurrentChat returns the active chat or ErrNoActiveChat.
func (s *Service) CurrentChat(ctx context.Context) (chatstate.State, error) {
	state, ok, err := s.state.Current(ctx)
	if err != nil {
		return chatstate.State{}, err
	}
	if !ok {
		return chatstate.State{}, ErrNoActiveChat
	}
	return state, nil
}

// ChatURL is the absolute canonical URL of the active chat.
func (s *Service) ChatURL(ctx context.Context) (string, error) {
	state, err := s.CurrentChat(ctx)
	if err != nil {
		return "", err
	}
	return s.urlWithQuery(ctx, chatid.Encode(state.Identity))
}

func (s *Service) CopyURL(ctx context.Context) (string, error) {
	url, err := s.ChatURL(ctx)
	if errors.Is(err, ErrNoActiveChat) {
		s.notifier.Warning(ctx, "No chat is currently open")
	}
	if err != nil {
		return "", err
	}
	if err := s.browser.WriteClipboard(ctx, url); err != nil {
		return "", fmt.Errorf("write clipboard: %w", err)
	}
	s.notifier.Success(ctx, "Chat URL copied to clipboard")
	return url, nil
}

// OpenInNewTab hands the active chat over to a fresh tab.
func (s *Service) OpenInNewTab(ctx context.Context) (string, error) {
	state, err := s.CurrentChat(ctx)
	if errors.Is(err, ErrNoActiveChat) {
		s.notifier.Warning(ctx, "No chat is currently open")
	}
	if err != nil {
		return "", err
	}
	if err := s.store.Publish(ctx, state.Identity); err != nil {
		return "", err
	}
	url, err := s.urlWithQuery(ctx, chatid.Encode(state.Identity))
	if err != nil {
		return "", err
	}
	if err := s.browser.OpenTab(ctx, url); err != nil {
		return "", fmt.Errorf("open tab: %w", err)
	}
	s.notifier.Info(ctx, "Opening chat in new tab")
	return url, nil
}

// ShareLink creates a short link for id, or for the active chat when id is nil.
func (s *Service) ShareLink(ctx context.Context, id *chatid.Identity) (string, string, error) {
	target, err := s.targetOrCurrent(ctx, id)
	if err != nil {
		return "", "", err
	}
	token, err := s.store.CreateShortLink(ctx, target)
	if err != nil {
		return "", "", err
	}
	url, err := s.urlWithQuery(ctx, chatid.ShortLinkQuery(token))
	if err != nil {
		return "", "", err
	}
	return token, url, nil
}

func (s *Service) ResolveShortLink(ctx context.Context, token string) (chatid.Identity, error) {
	id, ok, err := s.store.ResolveShortLink(ctx, token)
	if err != nil {
		return chatid.Identity{}, err
	}
	if !ok {
		return chatid.Identity{}, ErrLinkNotFound
	}
	return id, nil
}

// PublishHandoff stores id, or the active chat when id is nil, for the next
// tab that starts up.
func (s *Service) PublishHandoff(ctx context.Context, id *chatid.Identity) (chatid.Identity, error) {
	target, err := s.targetOrCurrent(ctx, id)
	if err != nil {
		return chatid.Identity{}, err
	}
	if err := s.store.Publish(ctx, target); err != nil {
		return chatid.Identity{}, err
	}
	return target, nil
}

func (s *Service) ConsumeHandoff(ctx context.Context) (chatid.Identity, bool, error) {
	return s.store.Consume(ctx)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) targetOrCurrent(ctx context.Context, id *chatid.Identity) (chatid.Identity, error) {
	if id != nil {
		return id.Normalize(), nil
	}
	state, err := s.CurrentChat(ctx)
	if err != nil {
		return chatid.Identity{}, err
	}
	return state.Identity, nil
}

func (s *Service) urlWithQuery(ctx context.Context, query string) (string, error) {
	loc, err := s.browser.Location(ctx)
	if err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc.WithQuery(query), nil
}
