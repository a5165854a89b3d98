// Package app wires configuration, storage and the analysis backend into a
// running session.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"biograph/internal/analysis"
	"biograph/internal/assistant"
	"biograph/internal/config"
	"biograph/internal/history"
	"biograph/internal/kvstore"
	"biograph/internal/logging"
	"biograph/internal/server"
	"biograph/internal/session"
	"biograph/internal/settings"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    kvstore.Store
	Settings *settings.Provider
	History  *history.Cache
	Session  *session.Orchestrator
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	log = logging.OrNop(log)
	store, err := kvstore.Open(ctx, cfg.Store.KV())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	svc, err := newService(ctx, cfg, log)
	if err != nil {
		_ = kvstore.Close(store)
		return nil, err
	}

	prov := settings.NewProvider(ctx, store, log)
	hist := history.New(ctx, store, prov, log)
	sess := session.New(session.Options{
		Service:      svc,
		Settings:     prov,
		History:      hist,
		Log:          log,
		PollInterval: cfg.PollInterval,
	})
	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		Settings: prov,
		History:  hist,
		Session:  sess,
	}, nil
}

func newService(ctx context.Context, cfg *config.Config, log *zap.Logger) (analysis.Service, error) {
	var svc analysis.Service = analysis.NewHTTPClient(cfg.API.URL, cfg.API.Timeout, log)
	if cfg.Assistant.Provider != config.AssistantGemini {
		return svc, nil
	}
	g, err := assistant.NewGemini(ctx, assistant.Options{
		APIKey: cfg.Assistant.APIKey,
		Model:  cfg.Assistant.Model,
		RPS:    cfg.Assistant.RPS,
		Log:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init assistant: %w", err)
	}
	return analysis.WithAssistant(svc, g), nil
}

// Serve runs the HTTP server and the settings watcher until ctx is done.
func (a *App) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.cfg.Port
	}
	srv := server.New(addr, server.NewAPI(a.Session, a.History, a.Settings, a.log).Handler(), a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if w, err := settings.NewWatcher(a.Settings); err == nil {
		g.Go(func() error { return w.Run(gctx) })
	} else if !errors.Is(err, settings.ErrNotFileBacked) {
		return err
	}
	return g.Wait()
}

// Close stops the session and releases the store.
func (a *App) Close() error {
	a.Session.Close()
	a.History.Close()
	a.Settings.Close()
	return kvstore.Close(a.store)
}
