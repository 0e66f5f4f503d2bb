// Package syncer projects the host's active chat onto the browser address bar
// and title.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"

	"chatnav/internal/browser"
	"chatnav/internal/chatid"
	"chatnav/internal/chatstate"
	"chatnav/internal/metrics"
)

const (
	DefaultDebounce = 300 * time.Millisecond
	DefaultSettle   = 2 * time.Second
)

// Outcome says what a sync run did.
type Outcome string

const (
	OutcomeDisabled   Outcome = "disabled"
	OutcomeNotReady   Outcome = "not_ready"
	OutcomeNavigating Outcome = "navigating"
	OutcomeSettling   Outcome = "settling"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeWritten    Outcome = "written"
	OutcomeCleared    Outcome = "cleared"
)

// NavigationLock is the read side of the navigator's advisory lock.
type NavigationLock interface {
	Navigating() bool
	LastSuccess() time.Time
}

// StateReader returns the host's active chat.
type StateReader interface {
	Current(ctx context.Context) (chatstate.State, bool, error)
}

type Options struct {
	Browser      browser.Browser
	State        StateReader
	Lock         NavigationLock
	DefaultTitle string
	// Debounce is the quiet period after the last notification.
	Debounce time.Duration
	// Settle suppresses clearing the URL this long after a successful
	// navigation, while the host may briefly report no active chat.
	Settle time.Duration
	Logger zerolog.Logger
}

type Scheduler struct {
	browser      browser.Browser
	state        StateReader
	lock         NavigationLock
	defaultTitle string
	settle       time.Duration
	debounced    func(f func())
	logger       zerolog.Logger
	ctx          context.Context

	// syncMu serializes the read-compare-write of SyncNow.
	syncMu sync.Mutex

	mu      sync.Mutex
	enabled bool
	ready   bool
}

// New creates a scheduler bound to ctx; debounced runs use ctx and stop
// touching the browser once it is done. It starts enabled and not ready.
func New(ctx context.Context, opts Options) *Scheduler {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	return &Scheduler{
		browser:      opts.Browser,
		state:        opts.State,
		lock:         opts.Lock,
		defaultTitle: opts.DefaultTitle,
		settle:       opts.Settle,
		debounced:    debounce.New(opts.Debounce),
		logger:       opts.Logger,
		ctx:          ctx,
		enabled:      true,
	}
}

func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// SetReady records that the host signalled it finished loading.
func (s *Scheduler) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// Notify handles a host state-changed notification. Only the last
// notification of a burst triggers a sync.
func (s *Scheduler) Notify() {
	s.debounced(func() {
		if s.ctx.Err() != nil {
			return
		}
		if _, err := s.SyncNow(s.ctx); err != nil {
			s.logger.Warn().Err(err).Msg("sync after state change failed")
		}
	})
}

// SyncNow writes the canonical URL and title of the active chat, pushing a
// history entry only when the location does not already name that chat.
func (s *Scheduler) SyncNow(ctx context.Context) (Outcome, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	enabled, ready := s.enabled, s.ready
	s.mu.Unlock()

	switch {
	case !enabled:
		return s.skip(OutcomeDisabled), nil
	case !ready:
		return s.skip(OutcomeNotReady), nil
	case s.lock.Navigating():
		return s.skip(OutcomeNavigating), nil
	}

	state, ok, err := s.state.Current(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve current chat: %w", err)
	}
	loc, err := s.browser.Location(ctx)
	if err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}

	if !ok {
		return s.clear(ctx, loc)
	}

	title := chatid.Title(state.DisplayName, s.defaultTitle)
	outcome := OutcomeUnchanged
	if !chatid.MatchesLocation(loc.Search, loc.Hash, state.Identity) {
		target := loc.Pathname + "?" + chatid.Encode(state.Identity)
		if err := s.browser.PushState(ctx, target, title); err != nil {
			return "", fmt.Errorf("push history: %w", err)
		}
		metrics.HistoryWrites.WithLabelValues("chat").Inc()
		s.logger.Debug().Str("url", target).Msg("history updated")
		outcome = OutcomeWritten
	} else {
		metrics.SyncsSkipped.WithLabelValues(string(OutcomeUnchanged)).Inc()
	}

	if err := s.browser.SetTitle(ctx, title); err != nil {
		return "", fmt.Errorf("set title: %w", err)
	}
	return outcome, nil
}

func (s *Scheduler) clear(ctx context.Context, loc browser.Location) (Outcome, error) {
	if last := s.lock.LastSuccess(); !last.IsZero() && time.Since(last) < s.settle {
		return s.skip(OutcomeSettling), nil
	}

	outcome := OutcomeUnchanged
	if !loc.Bare() {
		if err := s.browser.PushState(ctx, loc.Pathname, s.defaultTitle); err != nil {
			return "", fmt.Errorf("clear history: %w", err)
		}
		metrics.HistoryWrites.WithLabelValues("clear").Inc()
		outcome = OutcomeCleared
	}
	if err := s.browser.SetTitle(ctx, s.defaultTitle); err != nil {
		return "", fmt.Errorf("reset title: %w", err)
	}
	return outcome, nil
}

func (s *Scheduler) skip(outcome Outcome) Outcome {
	metrics.SyncsSkipped.WithLabelValues(string(outcome)).Inc()
	return outcome
}
