// Package scroller brings a linked message into view after navigation.
package scroller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chatnav/internal/browser"
	"chatnav/internal/metrics"
)

const (
	DefaultRetryDelay        = 500 * time.Millisecond
	DefaultHighlightDuration = 2 * time.Second
)

type Scroller struct {
	transcript        browser.Transcript
	retryDelay        time.Duration
	highlightDuration time.Duration
	logger            zerolog.Logger
}

func New(transcript browser.Transcript, retryDelay, highlightDuration time.Duration, logger zerolog.Logger) *Scroller {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if highlightDuration <= 0 {
		highlightDuration = DefaultHighlightDuration
	}
	return &Scroller{
		transcript:        transcript,
		retryDelay:        retryDelay,
		highlightDuration: highlightDuration,
		logger:            logger,
	}
}

// Reveal scrolls to messageID and flashes it. A message that is not rendered
// yet gets exactly one more attempt after the retry delay.
func (s *Scroller) Reveal(ctx context.Context, messageID int) bool {
	if s.ScrollTo(ctx, messageID) {
		metrics.DeepLinks.WithLabelValues("found").Inc()
		return true
	}

	timer := time.NewTimer(s.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	if s.ScrollTo(ctx, messageID) {
		metrics.DeepLinks.WithLabelValues("retried").Inc()
		return true
	}
	metrics.DeepLinks.WithLabelValues("missing").Inc()
	s.logger.Debug().Int("message_id", messageID).Msg("linked message not rendered, giving up")
	return false
}

// ScrollTo makes a single attempt and reports whether the message was found.
func (s *Scroller) ScrollTo(ctx context.Context, messageID int) bool {
	found, err := s.transcript.HasMessage(ctx, messageID)
	if err != nil {
		s.logger.Debug().Err(err).Int("message_id", messageID).Msg("message lookup failed")
		return false
	}
	if !found {
		return false
	}

	if err := s.transcript.ScrollToMessage(ctx, messageID); err != nil {
		s.logger.Debug().Err(err).Int("message_id", messageID).Msg("scroll failed")
		return false
	}
	if err := s.transcript.SetHighlight(ctx, messageID, true); err != nil {
		s.logger.Debug().Err(err).Int("message_id", messageID).Msg("highlight failed")
		return true
	}

	// The request context may end before the highlight does.
	unhighlightCtx := context.WithoutCancel(ctx)
	time.AfterFunc(s.highlightDuration, func() {
		if err := s.transcript.SetHighlight(unhighlightCtx, messageID, false); err != nil {
			s.logger.Debug().Err(err).Int("message_id", messageID).Msg("clearing highlight failed")
		}
	})
	return true
}
