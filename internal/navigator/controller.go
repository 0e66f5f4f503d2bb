// Package navigator applies a chat identity to the host application.
//
// While a navigation is in flight, and for a grace period after it finishes,
// the controller holds an advisory lock. The sync scheduler reads the lock and
// stays away from history so that the state changes the host emits as a side
// effect of the navigation are not projected back into the address bar.
package navigator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatnav/internal/browser"
	"chatnav/internal/chatid"
	"chatnav/internal/host"
	"chatnav/internal/metrics"
)

const DefaultLockGrace = 500 * time.Millisecond

// Lock is a snapshot of the navigation lock.
type Lock struct {
	Held       bool      `json:"held"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Revealer brings a message of the open chat into view.
type Revealer interface {
	Reveal(ctx context.Context, messageID int) bool
}

type Controller struct {
	host     host.Host
	notifier browser.Notifier
	revealer Revealer
	grace    time.Duration
	logger   zerolog.Logger

	mu          sync.Mutex
	lock        Lock
	release     *time.Timer
	generation  uint64
	inflight    int
	lastSuccess time.Time
}

// New creates a controller. revealer may be nil when deep links are not
// supported by the page.
func New(h host.Host, notifier browser.Notifier, revealer Revealer, grace time.Duration, logger zerolog.Logger) *Controller {
	if grace <= 0 {
		grace = DefaultLockGrace
	}
	return &Controller{
		host:     h,
		notifier: notifier,
		revealer: revealer,
		grace:    grace,
		logger:   logger,
	}
}

func (c *Controller) Lock() Lock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lock
}

// Navigating reports whether the lock is held.
func (c *Controller) Navigating() bool {
	return c.Lock().Held
}

// LastSuccess is when the most recent successful navigation completed.
func (c *Controller) LastSuccess() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

// ApplyNavigation switches the host to target and opens its chat. It never
// blocks on another navigation in flight and always schedules the lock
// release, whatever the outcome. Failures are reported to the user and
// turned into a false result.
func (c *Controller) ApplyNavigation(ctx context.Context, target chatid.Identity) bool {
	c.acquire()
	defer c.scheduleRelease()

	started := time.Now()
	target = target.Normalize()
	log := c.logger.With().Str("target", target.String()).Logger()

	if err := target.Validate(); err != nil {
		log.Warn().Err(err).Msg("refusing to navigate")
		c.notifier.Error(ctx, "Invalid chat link")
		metrics.Navigations.WithLabelValues(string(target.Kind), "invalid").Inc()
		return false
	}

	var ok bool
	switch target.Kind {
	case chatid.KindGroup:
		ok = c.applyGroup(ctx, target, log)
	default:
		ok = c.applyCharacter(ctx, target, log)
	}
	metrics.NavigationDuration.Observe(time.Since(started).Seconds())
	if !ok {
		return false
	}

	c.mu.Lock()
	c.lastSuccess = time.Now()
	c.mu.Unlock()
	metrics.Navigations.WithLabelValues(string(target.Kind), "ok").Inc()
	log.Info().Dur("took", time.Since(started)).Msg("navigated")

	if target.MessageID != nil && c.revealer != nil {
		c.revealer.Reveal(ctx, *target.MessageID)
	}
	return true
}

func (c *Controller) applyCharacter(ctx context.Context, target chatid.Identity, log zerolog.Logger) bool {
	characters, err := c.host.ListCharacters(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list characters")
		c.notifier.Error(ctx, "Character not found: "+target.AvatarID)
		metrics.Navigations.WithLabelValues(string(target.Kind), "not_found").Inc()
		return false
	}

	var character *host.Character
	for i := range characters {
		if chatid.NormalizeAvatar(characters[i].Avatar) == target.AvatarID {
			character = &characters[i]
			break
		}
	}
	if character == nil {
		log.Warn().Msg("character not in roster")
		c.notifier.Error(ctx, "Character not found: "+target.AvatarID)
		metrics.Navigations.WithLabelValues(string(target.Kind), "not_found").Inc()
		return false
	}

	active, hasActive, err := c.host.CurrentActiveEntity(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("read active entity, selecting anyway")
		hasActive = false
	}
	if !hasActive || active.Kind != host.EntityCharacter || active.ID != character.ID {
		if err := c.host.SelectCharacter(ctx, character.ID); err != nil {
			log.Error().Err(err).Str("character_id", character.ID).Msg("select character")
			c.notifier.Error(ctx, "Failed to open chat: "+target.ChatFile)
			metrics.Navigations.WithLabelValues(string(target.Kind), "open_failed").Inc()
			return false
		}
	}

	if err := c.host.OpenCharacterChat(ctx, target.ChatFile); err != nil {
		log.Error().Err(err).Msg("open character chat")
		c.notifier.Error(ctx, "Failed to open chat: "+target.ChatFile)
		metrics.Navigations.WithLabelValues(string(target.Kind), "open_failed").Inc()
		return false
	}
	c.notifier.Success(ctx, "Opened chat: "+target.ChatFile)
	return true
}

func (c *Controller) applyGroup(ctx context.Context, target chatid.Identity, log zerolog.Logger) bool {
	groups, err := c.host.ListGroups(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list groups")
	}

	found := false
	for _, g := range groups {
		if g.ID == target.GroupID {
			found = true
			break
		}
	}
	if !found {
		log.Warn().Msg("group not in roster")
		c.notifier.Error(ctx, "Group not found: "+target.GroupID)
		metrics.Navigations.WithLabelValues(string(target.Kind), "not_found").Inc()
		return false
	}

	// Opening a group chat also makes the group active.
	if err := c.host.OpenGroupChat(ctx, target.GroupID, target.ChatFile); err != nil {
		log.Error().Err(err).Msg("open group chat")
		c.notifier.Error(ctx, "Failed to open group chat")
		metrics.Navigations.WithLabelValues(string(target.Kind), "open_failed").Inc()
		return false
	}
	c.notifier.Success(ctx, "Opened group chat")
	return true
}

// acquire takes the lock and cancels a release scheduled by an earlier
// navigation, so that release cannot land in the middle of this one.
func (c *Controller) acquire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopReleaseLocked()
	c.inflight++
	c.lock = Lock{Held: true, AcquiredAt: time.Now()}
}

// scheduleRelease frees the lock one grace period from now, replacing any
// pending release. The lock stays held while another navigation is running.
func (c *Controller) scheduleRelease() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	if c.inflight > 0 {
		return
	}
	c.stopReleaseLocked()
	gen := c.generation
	c.release = time.AfterFunc(c.grace, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation != gen {
			return
		}
		c.lock = Lock{}
		c.release = nil
	})
}

func (c *Controller) stopReleaseLocked() {
	if c.release != nil {
		c.release.Stop()
		c.release = nil
	}
	c.generation++
}
