// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"readingsbot/internal/blogs"
	"readingsbot/internal/commands"
	"readingsbot/internal/config"
	"readingsbot/internal/fetch"
	"readingsbot/internal/lives"
	"readingsbot/internal/notifier"
	"readingsbot/internal/observability"
	"readingsbot/internal/runner"
	rtsup "readingsbot/internal/runtime/supervisor"
	"readingsbot/internal/schedule"
	"readingsbot/internal/storage"
	kit "readingsbot/internal/transport"
	"readingsbot/internal/transport/slack"
	"readingsbot/internal/transport/telegram"
	logx "readingsbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	sup  *rtsup.Supervisor

	store     storage.Store
	sched     *schedule.Service
	blogs     *blogs.Cache
	lives     *lives.Cache
	transport *kit.Multi
	notif     *notifier.Service
	runner    *runner.Runner
	router    *commands.Router
	metrics   *observability.Metrics
	obs       *observability.Server

	updates chan kit.Update
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, cfg: cfg, updates: make(chan kit.Update, 256)}
	a.logs, a.log = logx.New(mapLogging(cfg), nil)
	cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.build(); err != nil {
		_ = a.logs.Close()
		if a.store != nil {
			_ = a.store.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg
	dir := dataDir(cfg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("data_dir: %w", err)
	}

	// storage and schedule
	sc, err := mapStorage(cfg)
	if err != nil {
		return err
	}
	if a.store, err = storage.Open(sc, a.log.With(logx.String("comp", "storage"))); err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	opts, err := mapScheduleOptions(cfg, a.log)
	if err != nil {
		return err
	}
	a.sched = schedule.New(a.store, opts...)

	// content
	a.metrics = observability.NewMetrics()
	fc, err := mapFetch(cfg)
	if err != nil {
		return err
	}
	fetcher := fetch.New(fc, a.log.With(logx.String("comp", "fetch")))

	catalog, err := blogs.NewCatalog(cfg.Blogs.Catalog)
	if err != nil {
		return err
	}
	blogZone, err := loadZone("blogs.timezone", cfg.Blogs.Timezone, "UTC")
	if err != nil {
		return err
	}
	a.blogs = blogs.NewCache(blogs.Config{
		MaxCacheSize: cfg.Blogs.MaxCacheSize,
		Zone:         blogZone,
		Dir:          filepath.Join(dir, "cache", "blogs"),
		Log:          a.log,
		OnRefresh:    a.metrics.ObserveRefresh,
	}, catalog, fetcher)

	livesZone, err := loadZone("lives.timezone", cfg.Lives.Timezone, lives.DefaultZone)
	if err != nil {
		return err
	}
	a.lives = lives.NewCache(lives.Config{
		URL:       cfg.Lives.URL,
		Zone:      livesZone,
		Dir:       filepath.Join(dir, "cache", "lives"),
		Log:       a.log.With(logx.String("comp", "lives")),
		OnRefresh: a.metrics.ObserveRefresh,
	}, fetcher)

	// transports
	var adapters []kit.Adapter
	if cfg.Telegram.Enabled {
		tc, err := mapTelegram(cfg)
		if err != nil {
			return err
		}
		tg, err := telegram.New(tc, a.log.With(logx.String("comp", "telegram")))
		if err != nil {
			return err
		}
		adapters = append(adapters, tg)
	}
	if cfg.Slack.Enabled {
		sl, err := slack.New(mapSlack(cfg), a.log.With(logx.String("comp", "slack")))
		if err != nil {
			return err
		}
		adapters = append(adapters, sl)
	}
	if len(adapters) == 0 {
		return errors.New("no transport enabled")
	}
	a.transport = kit.NewMulti(adapters...)
	a.logs.SetSender(a.chatSender())

	// delivery, runner, commands
	nc, err := mapNotifier(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(nc, a.transport, a.log)
	a.notif.OnDelivery = a.metrics.ObserveDelivery

	rc, err := mapRunner(cfg)
	if err != nil {
		return err
	}
	a.runner = runner.New(rc, runner.Deps{
		Schedule:  a.sched,
		Blogs:     a.blogs,
		Lives:     a.lives,
		Notifier:  a.notif,
		Connected: a.transport.Connected(),
		Log:       a.log,
		Metrics:   a.metrics,
	})

	cc, err := mapCommands(cfg)
	if err != nil {
		return err
	}
	mode, err := blogs.ParseMode(cfg.Scheduler.NewSubscriptionMode)
	if err != nil {
		return err
	}
	cc.Guilds = a.sched
	a.router = commands.NewRouter(cc, a.notif, a.log)
	a.router.Register(commands.ReadingCommands(commands.Deps{
		Schedule:    a.sched,
		Catalog:     catalog,
		Blogs:       a.blogs,
		Lives:       a.lives,
		Notifier:    a.notif,
		DefaultZone: cfg.Scheduler.DefaultTimezone,

		NewSubscriptions: mode,
	})...)

	a.obs = observability.NewServer(mapObservability(cfg), a.metrics, a.health, a.log)
	return nil
}

// chatSender posts log lines to logging.chat.target.
func (a *App) chatSender() logx.SendFunc {
	t, ok := config.ParseTarget(a.cfg.Logging.Chat.Target)
	if !ok {
		return nil
	}
	to := kit.Target{Guild: t.Guild, Channel: t.Channel}
	return func(ctx context.Context, text string) error {
		if !a.transport.IsConnected() {
			return errors.New("transport not connected")
		}
		return a.transport.SendText(ctx, to, text)
	}
}

func (a *App) health() error {
	if !a.transport.IsConnected() {
		return errors.New("transport not connected")
	}
	return nil
}

// Done is closed when the app supervisor stops.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	if err := a.transport.Start(runCtx, a.updates); err != nil {
		return err
	}
	if err := a.obs.Start(runCtx); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	a.runner.Start(runCtx)

	a.sup.Go("commands", func(c context.Context) error { return a.router.Run(c, a.updates) })
	a.sup.Go0("connected", func(c context.Context) {
		select {
		case <-a.transport.Connected():
			a.log.Info("transport connected")
		case <-c.Done():
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.reload", a.reloadLoop)

	a.log.Info("started",
		logx.Int("adapters", a.transport.Len()),
		logx.String("storage", a.cfg.Storage.Driver),
		logx.Int("blogs", a.blogs.Catalog().Len()),
		logx.String("metrics", a.obs.Addr()),
	)
	return nil
}

// reloadLoop applies the hot sections of a reloaded config. Other changes are
// logged and take effect after a restart.
func (a *App) reloadLoop(ctx context.Context) {
	ch := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case next := <-ch:
			prev := a.cfg
			changed, fields := config.SummarizeChange(prev, next)
			if len(changed) == 0 {
				continue
			}
			a.logs.Apply(mapLogging(next))
			if cc, err := mapCommands(next); err == nil {
				a.router.SetPrefixes(cc.Prefixes)
				a.router.SetAdmins(cc.Admins)
			}
			a.cfg = next
			a.log.Info("config reloaded", append(fields, logx.Strings("sections", changed))...)
			if restart := config.NeedsRestart(changed); len(restart) > 0 {
				a.log.Warn("config sections change after restart", logx.String("sections", strings.Join(restart, ",")))
			}
		}
	}
}

// Stop shuts components down in reverse start order, bounding each step.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("runner", 5*time.Second, a.runner.Stop)
	a.sup.Cancel()
	step("observability", time.Second, a.obs.Stop)
	step("transport", 3*time.Second, a.transport.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
