package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chatnav/internal/app"
	"chatnav/internal/chatstate"
	"chatnav/internal/chrome"
	"chatnav/internal/handoff"
	"chatnav/internal/navigator"
	"chatnav/internal/scroller"
	"chatnav/internal/settings"
	"chatnav/internal/syncer"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach to the chat application and serve the control API",
	Long: `Open (or attach to) the chat application in Chrome, keep its URL and
title in step with the active chat, and serve the control API.

Chrome is launched locally unless CHATNAV_CDP_URL points at a running
browser's debugging endpoint.`,
	RunE: runDaemon,
}

var errTabClosed = errors.New("chat application tab closed")

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := handoff.NewRedisStore(cfg.RedisURL, handoff.Options{
		HandoffTTL:   cfg.HandoffTTL,
		ShortLinkTTL: cfg.ShortLinkTTL,
		Logger:       logger.With().Str("component", "handoff").Logger(),
	})
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info().Msg("connected to Redis")

	session, err := chrome.Connect(ctx, chrome.Options{
		CDPURL:   cfg.CDPURL,
		AppURL:   cfg.AppURL,
		Headless: cfg.Headless,
		Logger:   logger.With().Str("component", "chrome").Logger(),
	})
	if err != nil {
		return err
	}
	defer session.Close()

	current := settings.Settings{Enabled: cfg.Enabled, AutoUpdateURL: cfg.AutoUpdateURL}
	var settingsFile *settings.File
	if cfg.SettingsFile != "" {
		settingsFile, current, err = settings.Open(cfg.SettingsFile, current, logger.With().Str("component", "settings").Logger())
		if err != nil {
			return err
		}
	}

	tabs := app.NewTabs(logger.With().Str("component", "tabs").Logger())
	deps := tabDeps(ctx, session, store, current, logger)
	deps.SettingsChanged = tabs.ApplySettings
	if settingsFile != nil {
		deps.SettingsFile = settingsFile
	}
	service := app.New(deps)

	httpServer := app.NewHTTPServer(service, cfg.APIToken, logger.With().Str("component", "http").Logger())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Msg("control API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := service.Run(gctx, session)
		switch {
		case err == nil:
			return errTabClosed
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return fmt.Errorf("event loop: %w", err)
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case tab := <-session.Opened():
				tabLogger := logger.With().Str("tab", "opened").Logger()
				svc := app.New(tabDeps(gctx, tab, store, service.Settings(), tabLogger))
				g.Go(func() error {
					defer tab.Close()
					return tabs.Run(gctx, svc, tab)
				})
			}
		}
	})
	if settingsFile != nil {
		g.Go(func() error {
			return settingsFile.Watch(gctx, func(next settings.Settings) {
				if _, err := service.ReloadSettings(gctx, next); err != nil {
					logger.Warn().Err(err).Msg("apply reloaded settings")
				}
			})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// tabDeps wires the per-tab collaborators of one attached tab.
func tabDeps(ctx context.Context, tab *chrome.Session, store *handoff.RedisStore, current settings.Settings, logger zerolog.Logger) app.Deps {
	page := tab.Page()
	toasts := tab.Toasts()
	chatHost := tab.Host()
	state := chatstate.NewResolver(chatHost)

	reveal := scroller.New(page, cfg.ScrollRetry, cfg.HighlightDuration, logger.With().Str("component", "scroller").Logger())
	nav := navigator.New(chatHost, toasts, reveal, cfg.LockGrace, logger.With().Str("component", "navigator").Logger())
	sched := syncer.New(ctx, syncer.Options{
		Browser:      page,
		State:        state,
		Lock:         nav,
		DefaultTitle: cfg.DefaultTitle,
		Debounce:     cfg.Debounce,
		Settle:       cfg.Settle,
		Logger:       logger.With().Str("component", "syncer").Logger(),
	})

	return app.Deps{
		Host:      chatHost,
		Browser:   page,
		Notifier:  toasts,
		State:     state,
		Navigator: nav,
		Scheduler: sched,
		Store:     store,
		Logger:    logger.With().Str("component", "app").Logger(),
		Title:     cfg.DefaultTitle,
		Settings:  current,
	}
}
