// Package chrome drives a live SillyTavern tab over the Chrome DevTools
// Protocol. It implements the host, browser, transcript and notifier
// capabilities on top of a single page target.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"chatnav/internal/host"
)

// bindingName is the page-side function the bridge script calls to report
// events back to us.
const bindingName = "__chatnavEmit"

type Options struct {
	// CDPURL attaches to an already running browser (ws:// or http:// debug
	// endpoint). When empty a local Chrome is launched.
	CDPURL   string
	AppURL   string
	Headless bool
	Logger   zerolog.Logger
}

// Session owns the page target the adapters act on.
type Session struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      zerolog.Logger
	// opened is shared by every tab of the browser.
	opened chan *Session

	mu     sync.Mutex
	events chan host.Event
	closed bool
}

// Connect opens AppURL in a new tab and installs the event bridge before the
// application's own scripts run.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	if opts.AppURL == "" {
		return nil, errors.New("chrome: app url is required")
	}

	allocCtx, cancelAlloc := newAllocator(ctx, opts)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, contextOptions(opts.Logger)...)

	s := newSession(tabCtx, cancelTab, opts.Logger, make(chan *Session, 8))
	s.cancelAlloc = cancelAlloc
	if err := s.attach(opts.AppURL); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Info().Str("url", opts.AppURL).Bool("remote", opts.CDPURL != "").Msg("chat application tab opened")
	return s, nil
}

func newSession(tabCtx context.Context, cancelTab context.CancelFunc, logger zerolog.Logger, opened chan *Session) *Session {
	return &Session{
		tabCtx:    tabCtx,
		cancelTab: cancelTab,
		logger:    logger,
		opened:    opened,
		events:    make(chan host.Event, 64),
	}
}

func contextOptions(logger zerolog.Logger) []chromedp.ContextOption {
	return []chromedp.ContextOption{
		chromedp.WithLogf(logger.Printf),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Error().Msgf(format, args...)
		}),
	}
}

// attach installs the event bridge on the session's target and loads url.
// It must be the first run on tabCtx: that run attaches the target.
func (s *Session) attach(url string) error {
	chromedp.ListenTarget(s.tabCtx, s.onTargetEvent)

	err := chromedp.Run(s.tabCtx,
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(bridgeScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(url),
	)
	if err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}

	go func() {
		<-s.tabCtx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.closed {
			s.closed = true
			close(s.events)
		}
	}()
	return nil
}

// OpenTab opens url in a new tab of the same browser, attaches to it with
// the same event bridge and announces it on Opened.
func (s *Session) OpenTab(ctx context.Context, url string) (*Session, error) {
	var id target.ID
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		var err error
		// Blank first, so the bridge is in place before the app loads.
		id, err = target.CreateTarget("about:blank").Do(cdp.WithExecutor(ctx, c.Browser))
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("create tab: %w", err)
	}

	logger := s.logger.With().Str("tab", string(id)).Logger()
	tabCtx, cancelTab := chromedp.NewContext(s.tabCtx, append(contextOptions(logger), chromedp.WithTargetID(id))...)
	tab := newSession(tabCtx, cancelTab, logger, s.opened)
	if err := tab.attach(url); err != nil {
		tab.Close()
		return nil, err
	}
	logger.Info().Str("url", url).Msg("chat application tab opened")

	s.announce(tab)
	return tab, nil
}

// Opened streams tabs opened through OpenTab on any tab of this browser.
func (s *Session) Opened() <-chan *Session {
	return s.opened
}

func (s *Session) announce(tab *Session) {
	select {
	case s.opened <- tab:
	default:
		s.logger.Warn().Msg("no one is following new tabs, leaving it unmanaged")
	}
}

func newAllocator(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	if opts.CDPURL != "" {
		return chromedp.NewRemoteAllocator(ctx, opts.CDPURL)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.WindowSize(1366, 768),
	)
	return chromedp.NewExecAllocator(ctx, allocOpts...)
}

// Events streams notifications raised by the page. The channel closes when
// the tab goes away.
func (s *Session) Events() <-chan host.Event {
	return s.events
}

func (s *Session) Close() {
	s.cancelTab()
	if s.cancelAlloc != nil {
		s.cancelAlloc()
	}
}

// Done is closed when the tab has gone away.
func (s *Session) Done() <-chan struct{} {
	return s.tabCtx.Done()
}

func (s *Session) onTargetEvent(ev any) {
	called, ok := ev.(*runtime.EventBindingCalled)
	if !ok || called.Name != bindingName {
		return
	}
	event, ok := parseEvent(called.Payload)
	if !ok {
		s.logger.Debug().Str("payload", called.Payload).Msg("ignoring unknown page event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.logger.Warn().Str("event", string(event.Kind)).Msg("event buffer full, dropping")
	}
}

func parseEvent(payload string) (host.Event, bool) {
	switch kind := host.EventKind(payload); kind {
	case host.EventReady, host.EventStateChanged, host.EventPopState, host.EventHashChange:
		return host.Event{Kind: kind}, true
	}
	return host.Event{}, false
}

// run executes actions on the tab, bounded by ctx as well as by the tab.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// eval evaluates a script in the page, awaiting a returned promise, and
// decodes its JSON result into dest (which may be nil).
func (s *Session) eval(ctx context.Context, script string, dest any) error {
	started := time.Now()
	err := s.run(ctx, chromedp.Evaluate(script, dest, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		s.logger.Debug().Err(err).Dur("took", time.Since(started)).Msg("page script failed")
	}
	return err
}
