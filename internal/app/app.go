package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sendboard/internal/config"
	"sendboard/internal/dispatch"
	"sendboard/internal/httpapi"
	"sendboard/internal/observability/pprof"
	"sendboard/internal/scanner"
	"sendboard/internal/session"
	"sendboard/internal/storage"
	"sendboard/internal/users"
	logx "sendboard/pkg/logx"
)

// App wires the whole process: config manager, logging, store, sessions,
// delivery registry, scanner, HTTP API and the optional pprof server.
// Everything is passed by injection; no package globals.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store    storage.Store
	users    *users.Registry
	sessions *session.Manager
	registry *dispatch.Registry
	scan     *scanner.Service
	api      *httpapi.Server
	prof     *pprof.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// settings holds the runtime-typed view of the config's duration strings.
type settings struct {
	tokenTTL    time.Duration
	interval    time.Duration
	sendDelay   time.Duration
	busyTimeout time.Duration
	pollTimeout time.Duration
}

func parseSettings(cfg *config.Config) (settings, error) {
	var s settings
	var err error
	if s.tokenTTL, err = config.ParseDurationField("server.token_ttl", cfg.Server.TokenTTL); err != nil {
		return s, err
	}
	if s.interval, err = config.ParseDurationField("scanner.interval", cfg.Scanner.Interval); err != nil {
		return s, err
	}
	if s.sendDelay, err = config.ParseDurationField("scanner.send_delay", cfg.Scanner.SendDelay); err != nil {
		return s, err
	}
	if s.busyTimeout, err = config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return s, err
	}
	if cfg.Sessions.Telegram != nil {
		if s.pollTimeout, err = config.ParseDurationField("sessions.telegram.poll_timeout", cfg.Sessions.Telegram.PollTimeout); err != nil {
			return s, err
		}
	}
	return s, nil
}

func New(cfgPath string) (*App, error) {
	cfgMgr := config.NewManager(cfgPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	set, err := parseSettings(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	cfgMgr.SetLogger(log.With(logx.String("svc", "config")))
	cfgMgr.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		_, err := parseSettings(cfg)
		return err
	})

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: set.busyTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	usersReg, err := users.Load(cfg.Users.Path, log)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	sessions, err := session.NewManager(sessionConfig(cfg, set), log)
	if err != nil {
		return nil, err
	}

	registry := dispatch.NewRegistry(dispatch.Config{SendDelay: set.sendDelay}, store, sessions, log)
	scan := scanner.New(
		scanner.Config{Enabled: cfg.Scanner.Enabled, Interval: set.interval},
		store, usersReg, sessions, registry, log,
	)

	api, err := httpapi.New(httpapi.Config{
		Addr:      cfg.Server.Addr,
		JWTSecret: cfg.Server.JWTSecret,
		TokenTTL:  set.tokenTTL,
	}, store, usersReg, sessions, log)
	if err != nil {
		return nil, err
	}

	prof := pprof.New(pprofConfig(cfg), log)

	return &App{
		cfgMgr:   cfgMgr,
		logSvc:   logSvc,
		log:      log,
		store:    store,
		users:    usersReg,
		sessions: sessions,
		registry: registry,
		scan:     scan,
		api:      api,
		prof:     prof,
	}, nil
}

func sessionConfig(cfg *config.Config, set settings) session.Config {
	sc := session.Config{
		Driver:     cfg.Sessions.Driver,
		RatePerSec: cfg.Sessions.RatePerSec,
	}
	if cfg.Sessions.Telegram != nil {
		sc.Telegram = session.TelegramConfig{
			Tokens:      cfg.Sessions.Telegram.Tokens,
			PollTimeout: set.pollTimeout,
		}
	}
	return sc
}

func pprofConfig(cfg *config.Config) pprof.Config {
	if cfg.Pprof == nil {
		return pprof.Config{}
	}
	return pprof.Config{Enabled: cfg.Pprof.Enabled, Addr: cfg.Pprof.Addr}
}

func (a *App) Start(ctx context.Context) error {
	if err := a.scan.Start(ctx); err != nil {
		return fmt.Errorf("start scanner: %w", err)
	}
	if err := a.api.Start(ctx); err != nil {
		return fmt.Errorf("start http api: %w", err)
	}
	if err := a.prof.Start(ctx); err != nil {
		a.log.Warn("pprof not started", logx.Err(err))
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.cfgMgr.Watch(watchCtx); err != nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()
	updates := a.cfgMgr.Subscribe(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(updates)
		for {
			select {
			case <-watchCtx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.log.Info("sendboard started")
	return nil
}

// applyConfig installs the live-reloadable subset of a new config: logging
// level/sinks, the inter-message send delay, and the scan interval. Drivers
// and listen addresses stay as booted.
func (a *App) applyConfig(cfg *config.Config) {
	set, err := parseSettings(cfg)
	if err != nil {
		a.log.Warn("config update ignored", logx.Err(err))
		return
	}

	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	a.registry.Apply(dispatch.Config{SendDelay: set.sendDelay})
	if err := a.scan.Apply(scanner.Config{Enabled: cfg.Scanner.Enabled, Interval: set.interval}); err != nil {
		a.log.Warn("scan interval update failed", logx.Err(err))
	}
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	if err := a.api.Stop(ctx); err != nil {
		a.log.Warn("http api stop", logx.Err(err))
	}
	if err := a.scan.Stop(ctx); err != nil {
		a.log.Warn("scanner stop", logx.Err(err))
	}
	a.sessions.StopAll(ctx)
	if err := a.prof.Stop(ctx); err != nil {
		a.log.Warn("pprof stop", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}

	a.wg.Wait()
	a.log.Info("sendboard stopped")
	_ = a.logSvc.Close()
	return nil
}
