// Package app assembles the process: gateways, stores, the engine fleet and
// the management API, then runs them until the context is canceled.
package app

import (
	"context"
	"fmt"
	"time"

	"keel/internal/config"
	"keel/internal/engine"
	"keel/internal/gateway/binance"
	"keel/internal/journal"
	"keel/internal/logger"
	"keel/internal/manager"
	"keel/internal/notifier"
	"keel/internal/persist"
	"keel/internal/strategy"
	"keel/internal/transport/httpapi"
)

type App struct {
	cfgPath string
	cfg     *config.Config

	source  *binance.Source
	mgr     *manager.TradingManager
	server  *httpapi.Server
	journal *journal.Store
}

// New builds the application from a loaded config. Nothing starts yet.
func New(cfgPath string, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	gatewayCfg := binance.Config{
		APIKey:        cfg.Exchange.APIKey,
		APISecret:     cfg.Exchange.APISecret,
		RESTBaseURL:   cfg.Exchange.RESTBaseURL,
		HTTPTimeout:   time.Duration(cfg.Exchange.HTTPTimeoutSeconds) * time.Second,
		SubmitTimeout: time.Duration(cfg.Execution.SubmitTimeoutSeconds) * time.Second,
	}
	source := binance.NewSource(gatewayCfg)
	trader := binance.NewTrader(gatewayCfg)

	store, err := persist.NewStore(cfg.Persist.Dir)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	var jstore *journal.Store
	if cfg.Journal.Enabled {
		jstore, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		logger.Infof("trade journal at %s", cfg.Journal.Path)
	}

	var notify notifier.Notifier = notifier.Nop{}
	if cfg.Notify.Telegram.Enabled {
		notify = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
		logger.Infof("telegram alerts enabled")
	}

	var templates *strategy.TemplateRegistry
	if cfg.Strategy.TemplatesPath != "" {
		templates, err = strategy.NewTemplateRegistry(cfg.Strategy.TemplatesPath)
		if err != nil {
			logger.Warnf("strategy templates unavailable (%v), only direct strategy references will work", err)
			templates = nil
		}
	}

	mgr, err := manager.New(cfg, engine.Deps{
		Source:    source,
		Trader:    trader,
		Store:     store,
		Journal:   jstore,
		Notify:    notify,
		Templates: templates,
	})
	if err != nil {
		return nil, err
	}

	serverCfg := httpapi.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		AuthToken: cfg.App.AuthToken,
		Manager:   mgr,
		Reload:    func() (*config.Config, error) { return config.Load(cfgPath) },
	}
	if jstore != nil {
		// A nil *Store inside the interface would dodge the handler's nil check.
		serverCfg.Journal = jstore
	}
	server, err := httpapi.NewServer(serverCfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		source:  source,
		mgr:     mgr,
		server:  server,
		journal: jstore,
	}, nil
}

// Run starts the enabled engines, the config watcher and the HTTP server,
// and blocks until ctx is canceled. Shutdown drains every engine before
// returning.
func (a *App) Run(ctx context.Context) error {
	if err := a.mgr.StartEnabled(ctx); err != nil {
		return fmt.Errorf("start engines: %w", err)
	}

	if _, err := config.Watch(ctx, a.cfgPath, func(cfg *config.Config) {
		if err := a.mgr.ApplyConfig(ctx, cfg); err != nil {
			logger.Errorf("hot reload apply failed: %v", err)
		}
	}); err != nil {
		logger.Warnf("config watcher disabled: %v", err)
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- a.server.Start(ctx) }()
	logger.Infof("management API listening on %s", a.server.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		if runErr != nil {
			logger.Errorf("http server failed: %v", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.mgr.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown incomplete: %v", err)
		if runErr == nil {
			runErr = err
		}
	}
	if err := a.source.Close(); err != nil {
		logger.Warnf("closing market source: %v", err)
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("closing journal: %v", err)
		}
	}
	logger.Infof("shutdown complete")
	return runErr
}
