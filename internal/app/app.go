// Package app assembles and runs the whole bot: config, logging,
// storage, the posting engine, the broadcast pool, maintenance jobs and
// the Telegram surface.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"adbot/internal/bot"
	"adbot/internal/config"
	"adbot/internal/engine"
	"adbot/internal/maintenance"
	"adbot/internal/notifier/broadcast"
	"adbot/internal/storage"
	"adbot/internal/tier"
	telegram "adbot/internal/transport/telegram"

	logx "adbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter *telegram.Adapter
	gate    *tier.Gate
	eng     *engine.Service
	bcast   *broadcast.Service
	maint   *maintenance.Service
	bot     *bot.Service

	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Bootstrap logging with the Telegram sink disabled: the target chat
	// must be set before Apply enables it, or Apply warns spuriously.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, adapter)
	log = log.With(logx.String("comp", "app"))
	applyLogTarget(logSvc, cfg)
	logSvc.Apply(mapLogConfig(cfg))

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	gate := tier.NewGate(store, log.With(logx.String("comp", "tier")))

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	eng := engine.New(engCfg, store, adapter, gate, log.With(logx.String("comp", "engine")))

	bcast := broadcast.New(broadcast.Config{
		Workers:    cfg.Broadcast.Workers,
		RatePerSec: cfg.Broadcast.RatePerSec,
		RetryMax:   cfg.Broadcast.RetryMax,
	}, adapter, log.With(logx.String("comp", "broadcast")))

	maint := maintenance.New(maintenance.Config{
		PremiumSweepSpec:     cfg.Maintenance.PremiumSweepSpec,
		DestinationAuditSpec: cfg.Maintenance.DestinationAuditSpec,
		Timezone:             cfg.Maintenance.Timezone,
	}, store, log.With(logx.String("comp", "maintenance")))

	botSvc := bot.New(mapBotConfig(cfg), adapter.Bot(), store, gate, eng, bcast,
		log.With(logx.String("comp", "bot")))
	botSvc.Register()

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: adapter,
		gate:    gate,
		eng:     eng,
		bcast:   bcast,
		maint:   maint,
		bot:     botSvc,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if err := a.adapter.Start(runCtx); err != nil {
		cancel()
		return err
	}
	a.eng.Start(runCtx)
	a.bcast.Start(runCtx)
	if err := a.maint.Start(runCtx); err != nil {
		a.log.Warn("maintenance start failed", logx.Err(err))
	}

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

// reloadLoop applies hot-reloadable config sections: logging, sponsor
// link and delay, admin list, limits and broadcast pacing. Storage and
// engine topology changes need a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			applyLogTarget(a.logs, cfg)
			a.logs.Apply(mapLogConfig(cfg))

			sponsorDelay, err := config.ParseDurationOrDefault("sponsor.delay", cfg.Sponsor.Delay, 30*time.Second)
			if err == nil {
				a.eng.ApplySponsor(cfg.Sponsor.Link, sponsorDelay)
			}

			a.bot.Apply(mapBotConfig(cfg))
			a.bcast.Apply(broadcast.Config{
				Workers:    cfg.Broadcast.Workers,
				RatePerSec: cfg.Broadcast.RatePerSec,
				RetryMax:   cfg.Broadcast.RetryMax,
			})

			a.log.Info("config reloaded")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.runCancel != nil {
		a.runCancel()
	}

	// One shutdown step, bounded so a stuck component cannot stall the
	// whole stop.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					a.log.Warn("panic in stop step", logx.String("name", name), logx.Any("panic", r))
				}
			}()
			fn(stepCtx)
		}()
		select {
		case <-done:
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
		if cancel != nil {
			cancel()
		}
	}

	step("engine", 35*time.Second, func(c context.Context) { a.eng.Stop(c) })
	step("broadcast", 3*time.Second, func(c context.Context) { a.bcast.Stop(c) })
	step("maintenance", 2*time.Second, func(c context.Context) { a.maint.Stop(c) })
	step("adapter", 3*time.Second, func(c context.Context) { _ = a.adapter.Stop(c) })
	step("storage", 2*time.Second, func(c context.Context) {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	})

	waitDone := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
	}

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("engine.tick_interval", cfg.Engine.TickInterval); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("engine.idle_delay", cfg.Engine.IdleDelay); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("sponsor.delay", cfg.Sponsor.Delay); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if cfg.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must be >= 0")
	}
	if cfg.Limits.FreeDestinations < 0 {
		return fmt.Errorf("limits.free_destinations must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Maintenance.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("maintenance.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func applyLogTarget(logs *logx.Service, cfg *config.Config) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		logs.SetTelegramTarget(0, 0)
		return
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return
	}
	logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	path := cfg.Storage.Path
	if strings.TrimSpace(path) == "" {
		path = "./adbot.db"
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	tick, err := config.ParseDurationOrDefault("engine.tick_interval", cfg.Engine.TickInterval, 10*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("engine.idle_delay", cfg.Engine.IdleDelay, time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	sponsorDelay, err := config.ParseDurationOrDefault("sponsor.delay", cfg.Sponsor.Delay, 30*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:      cfg.Engine.Enabled,
		TickInterval: tick,
		Workers:      cfg.Engine.Workers,
		IdleDelay:    idle,
		SponsorDelay: sponsorDelay,
		SponsorLink:  cfg.Sponsor.Link,
	}, nil
}

func mapBotConfig(cfg *config.Config) bot.Config {
	return bot.Config{
		AdminIDs:         cfg.Telegram.AdminUserIDs,
		FreeDestinations: cfg.Limits.FreeDestinations,
		SponsorLink:      cfg.Sponsor.Link,
		TONWallet:        cfg.Payments.TONWallet,
		SupportURL:       cfg.Payments.SupportURL,
	}
}
