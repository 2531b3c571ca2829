// Package app wires the duel engine, scheduler, broadcast dispatchers and
// the Telegram transport into one process with a config-driven lifecycle.
package app

import (
	"context"
	"time"

	"duelbot/internal/config"
	"duelbot/internal/duel"
	eventsink "duelbot/internal/events"
	"duelbot/internal/services/broadcast"
	"duelbot/internal/services/scheduler"
	"duelbot/internal/storage"
	"duelbot/internal/transport/telegram"
	logx "duelbot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	logs *logx.Service
	log  logx.Logger

	adapter *telegram.Adapter
	store   storage.Store
	engine  *duel.Engine
	sink    *eventsink.KafkaSink

	sched *scheduler.Service
	// bcast paces ad-hoc and reminder sends; bulk carries the full-audience
	// fan-outs (daily broadcast, weekly digest) at the slower bulk delay.
	bcast *broadcast.Service
	bulk  *broadcast.Service

	texts Texts
	jobs  jobSettings

	watchCancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	adapter, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token},
		root.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	duelCfg, err := buildDuelConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	engine := duel.NewEngine(duelCfg, store, duel.NewEvents(),
		root.With(logx.String("comp", "duel")))

	sink := eventsink.NewKafkaSink(eventsink.KafkaConfig{
		Enabled: cfg.Events.Kafka.Enabled,
		Brokers: cfg.Events.Kafka.Brokers,
		Topic:   cfg.Events.Kafka.Topic,
	}, root.With(logx.String("comp", "events")))

	schedCfg, err := buildSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, root.With(logx.String("comp", "scheduler")))

	bcastCfg, bulkCfg, err := buildBroadcastConfigs(cfg)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	bcast := broadcast.New(bcastCfg, adapter, store,
		root.With(logx.String("comp", "broadcast")))
	bulk := broadcast.New(bulkCfg, adapter, store,
		root.With(logx.String("comp", "broadcast"), logx.String("pool", "bulk")))

	jobs, err := buildJobSettings(cfg)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		adapter: adapter,
		store:   store,
		engine:  engine,
		sink:    sink,
		sched:   sched,
		bcast:   bcast,
		bulk:    bulk,
		texts:   configTexts{jobs: cfg.Jobs},
		jobs:    jobs,
	}, nil
}

// Engine exposes the duel engine to the command layer.
func (a *App) Engine() *duel.Engine { return a.engine }

// Store exposes persistence to the command layer (subscription toggles,
// activity touches).
func (a *App) Store() storage.Store { return a.store }

// SetTexts replaces the outbound message builder. Must be called before Start.
func (a *App) SetTexts(t Texts) {
	if t != nil {
		a.texts = t
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sink.Start(ctx, a.engine.Events())
	a.bcast.Start(ctx)
	a.bulk.Start(ctx)

	if err := a.registerJobs(); err != nil {
		return err
	}
	a.sched.Start(ctx)

	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	sub := a.cfgm.Subscribe(8)
	go a.reloadLoop(watchCtx, sub)
	if err := a.cfgm.Watch(watchCtx); err != nil {
		a.log.Warn("config watch unavailable; hot reload disabled", logx.Err(err))
	}

	a.log.Info("app started")
	return nil
}

// Stop shuts down in dependency order: no new ticks first, then the
// dispatchers, then the event sink, then storage.
func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	a.sched.Stop(ctx)
	a.bcast.Stop(ctx)
	a.bulk.Stop(ctx)
	a.sink.Stop(ctx)
	err := a.store.Close()
	a.log.Info("app stopped")
	_ = a.logs.Close()
	return err
}

// reloadLoop applies the runtime-tunable sections of a reloaded config:
// logging sinks, scheduler timezone/timeouts, broadcast pacing. Job triggers,
// the voting window and the Kafka sink stay as loaded at startup.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts, keep the newest
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
					continue
				default:
				}
				break
			}
			a.applyRuntime(cfg)
		}
	}
}

func (a *App) applyRuntime(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if schedCfg, err := buildSchedulerConfig(cfg); err != nil {
		a.log.Warn("invalid scheduler config on reload; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
	}

	if bcastCfg, bulkCfg, err := buildBroadcastConfigs(cfg); err != nil {
		a.log.Warn("invalid broadcast config on reload; keeping previous", logx.Err(err))
	} else {
		a.bcast.Apply(bcastCfg)
		a.bulk.Apply(bulkCfg)
	}

	a.log.Info("runtime config applied")
}

func buildDuelConfig(cfg *config.Config) (duel.Config, error) {
	window, err := config.ParseDurationOrDefault("duel.voting_window", cfg.Duel.VotingWindow, 300*time.Second)
	if err != nil {
		return duel.Config{}, err
	}
	oneActive := true
	if cfg.Duel.OneActivePerUser != nil {
		oneActive = *cfg.Duel.OneActivePerUser
	}
	return duel.Config{
		VotingWindow:     window,
		MinVotes:         cfg.Duel.MinVotes,
		OneActivePerUser: oneActive,
	}, nil
}

func buildSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:        true,
		Workers:        cfg.Scheduler.Workers,
		DefaultTimeout: timeout,
		HistorySize:    cfg.Scheduler.HistorySize,
		Timezone:       cfg.Scheduler.Timezone,
	}, nil
}

func buildBroadcastConfigs(cfg *config.Config) (broadcast.Config, broadcast.Config, error) {
	delay, err := config.ParseDurationOrDefault("broadcast.send_delay", cfg.Broadcast.SendDelay, 100*time.Millisecond)
	if err != nil {
		return broadcast.Config{}, broadcast.Config{}, err
	}
	bulkDelay, err := config.ParseDurationOrDefault("broadcast.bulk_send_delay", cfg.Broadcast.BulkSendDelay, delay)
	if err != nil {
		return broadcast.Config{}, broadcast.Config{}, err
	}
	base := broadcast.Config{
		Enabled:   true,
		Workers:   cfg.Broadcast.Workers,
		SendDelay: delay,
	}
	bulk := base
	bulk.SendDelay = bulkDelay
	// One worker per bulk pool keeps the big fan-outs strictly sequential.
	bulk.Workers = 1
	return base, bulk, nil
}
