package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"giveawaybot/internal/bot"
	"giveawaybot/internal/broadcast"
	"giveawaybot/internal/config"
	"giveawaybot/internal/eventbus"
	"giveawaybot/internal/giveaway"
	"giveawaybot/internal/runtime/supervisor"
	"giveawaybot/internal/scheduler"
	"giveawaybot/internal/storage"
	kit "giveawaybot/internal/transport"
	"giveawaybot/internal/transport/telegram"
	logx "giveawaybot/pkg/logx"
)

const closeJobName = "giveaway.close"

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	adapter *telegram.Adapter
	jobs    *broadcast.Jobs
	svc     *giveaway.Service
	sched   *scheduler.Service
	bot     *bot.Bot

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// target first so the Telegram sink never starts without a chat
	logSvc, root := logx.NewService(logx.Config{Level: cfg.Logging.Level, Console: true}, ad)
	logSvc.SetChat(cfg.Telegram.LogChatID)
	logSvc.Apply(cfg.LogConfig())
	log := root.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	tr := telegram.NewTransport(ad)
	jobs := broadcast.NewJobs(cfg.JobsConfig(), tr, bus, store, root.With(logx.String("comp", "broadcast")))
	svc := giveaway.New(mapGiveawayOptions(cfg), store, ad, tr, jobs, bus, root)
	sched := scheduler.New(cfg.Location(), root)

	b := bot.New(bot.Deps{
		Adapter:       ad,
		Giveaways:     svc,
		Jobs:          jobs,
		Schedules:     sched,
		Bus:           bus,
		Log:           root,
		Admins:        cfg.Telegram.AdminIDs,
		BroadcastRate: cfg.BroadcastRate(),
	})

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		jobs:    jobs,
		svc:     svc,
		sched:   sched,
		bot:     b,
		updates: make(chan kit.Update, 256),
	}
	if err := a.syncCloseJob(nil, cfg); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// syncCloseJob registers or drops the auto-close job to match cfg.
func (a *App) syncCloseJob(prev, cfg *config.Config) error {
	if prev != nil && prev.Giveaway.AutoClose == cfg.Giveaway.AutoClose && prev.Giveaway.CloseSpec == cfg.Giveaway.CloseSpec {
		return nil
	}
	a.sched.Remove(closeJobName)
	if !cfg.Giveaway.AutoClose {
		return nil
	}
	return a.sched.Add(scheduler.Job{
		Name:    closeJobName,
		Spec:    cfg.Giveaway.CloseSpec,
		Timeout: 10 * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := a.svc.CloseExpired(ctx)
			return err
		},
	})
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.jobs.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("admins", len(a.cfgm.Get().Telegram.AdminIDs)),
		logx.Bool("auto_close", a.cfgm.Get().Giveaway.AutoClose),
	)
	return nil
}

// applyConfig pushes the hot-reloadable parts of next into the running components.
func (a *App) applyConfig(prev, next *config.Config) {
	changed, attrs := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.SetChat(next.Telegram.LogChatID)
	a.logs.Apply(next.LogConfig())

	a.bot.Apply(next.Telegram.AdminIDs, next.BroadcastRate())
	a.svc.Apply(mapGiveawayOptions(next))
	a.jobs.Apply(next.JobsConfig())
	a.sched.SetLocation(next.Location())
	if err := a.syncCloseJob(prev, next); err != nil {
		a.log.Warn("auto-close schedule not updated", logx.Err(err))
	}

	if restart := config.RestartRequired(changed, prev, next); len(restart) > 0 {
		a.log.Warn("config changes need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop)
	a.step(ctx, "broadcast.jobs", 5*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max so a stuck component cannot
// stall the rest of the stop sequence.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
