package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"chatnav/internal/host"
)

// Tabs runs the services of tabs opened after the first one and keeps their
// settings in step with it.
type Tabs struct {
	logger zerolog.Logger

	mu       sync.Mutex
	services map[*Service]struct{}
}

func NewTabs(logger zerolog.Logger) *Tabs {
	return &Tabs{logger: logger, services: map[*Service]struct{}{}}
}

// Run drives svc from events until the tab closes or ctx is done. A closed
// tab is not an error.
func (t *Tabs) Run(ctx context.Context, svc *Service, events host.Events) error {
	t.mu.Lock()
	t.services[svc] = struct{}{}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.services, svc)
		t.mu.Unlock()
	}()

	err := svc.Run(ctx, events)
	if err == nil {
		t.logger.Info().Msg("tab closed")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (t *Tabs) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.services)
}

// ApplySettings reloads next into every running tab.
func (t *Tabs) ApplySettings(ctx context.Context, next Settings) {
	t.mu.Lock()
	services := make([]*Service, 0, len(t.services))
	for svc := range t.services {
		services = append(services, svc)
	}
	t.mu.Unlock()

	for _, svc := range services {
		if _, err := svc.ReloadSettings(ctx, next); err != nil {
			t.logger.Warn().Err(err).Msg("apply settings to tab")
		}
	}
}
