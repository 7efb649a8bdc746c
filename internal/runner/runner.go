// Package runner fires due directives: it polls the schedule, fetches the
// content each directive needs, delivers it and advances the directive.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"readingsbot/internal/blogs"
	"readingsbot/internal/lives"
	"readingsbot/internal/model"
	"readingsbot/internal/render"
	rtsup "readingsbot/internal/runtime/supervisor"
	kit "readingsbot/internal/transport"
	logx "readingsbot/pkg/logx"
)

const (
	DefaultPollInterval  = time.Minute
	DefaultMaxConcurrent = 8
)

var ErrNoSource = errors.New("content source not configured")

type Schedule interface {
	ListDue(ctx context.Context, now time.Time) ([]model.Directive, error)
	AdvanceRecurrence(ctx context.Context, d model.Directive) error
}

type BlogSource interface {
	Get(ctx context.Context) (blogs.Snapshot, error)
}

type LivesSource interface {
	Get(ctx context.Context) (lives.Day, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, to kit.Target, posts []kit.Post) error
}

// Metrics observes ticks and dispatch outcomes. Nil is allowed.
type Metrics interface {
	ObserveTick(due int)
	ObserveDispatch(kind model.PayloadKind, err error)
}

type Config struct {
	PollInterval  time.Duration
	MaxConcurrent int
	// NewSubscriptions decides what a source without a pointer receives.
	NewSubscriptions blogs.Mode
}

type Deps struct {
	Schedule Schedule
	Blogs    BlogSource
	Lives    LivesSource
	Notifier Deliverer
	// Connected is closed once messages can be sent; nil means ready now.
	Connected <-chan struct{}
	Log       logx.Logger
	Clock     func() time.Time
	Metrics   Metrics
}

type Runner struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	mu   sync.Mutex
	sup  *rtsup.Supervisor
	cron *cron.Cron
}

func New(cfg Config, deps Deps) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.NewSubscriptions == "" {
		cfg.NewSubscriptions = blogs.ModeSilent
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "runner"))}
}

// Start waits for the transport in the background, runs one tick and then
// ticks every poll interval. A tick never overlaps the previous one.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sup != nil {
		return
	}
	r.sup = rtsup.New(ctx, rtsup.WithLogger(r.log))
	sup := r.sup

	sup.Go0("runner.start", func(c context.Context) {
		if r.deps.Connected != nil {
			r.log.Debug("waiting for transport")
			select {
			case <-r.deps.Connected:
			case <-c.Done():
				return
			}
		}

		cl := cronLogger{log: r.log}
		cr := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
		cr.Schedule(cron.Every(r.cfg.PollInterval), cron.FuncJob(func() { r.Tick(c) }))

		r.mu.Lock()
		if r.sup != sup {
			r.mu.Unlock()
			return
		}
		r.cron = cr
		r.mu.Unlock()

		r.Tick(c)
		cr.Start()
		r.log.Info("runner started", logx.Duration("poll", r.cfg.PollInterval), logx.Int("max_concurrent", r.cfg.MaxConcurrent))
	})
}

// Stop stops the periodic driver and waits for an in-flight tick or ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	sup, cr := r.sup, r.cron
	r.sup, r.cron = nil, nil
	r.mu.Unlock()

	if sup == nil {
		return nil
	}
	if cr != nil {
		select {
		case <-cr.Stop().Done():
		case <-ctx.Done():
		}
	}
	err := sup.Stop(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	r.log.Info("runner stopped")
	return err
}

// Tick fires every due directive once. Directives run concurrently up to the
// configured limit; a failing directive does not affect the others.
func (r *Runner) Tick(ctx context.Context) int {
	now := r.deps.Clock()
	due, err := r.deps.Schedule.ListDue(ctx, now)
	if err != nil {
		r.log.Error("listing due directives failed", logx.Err(err))
		return 0
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveTick(len(due))
	}
	if len(due) == 0 {
		return 0
	}
	r.log.Debug("tick", logx.Int("due", len(due)), logx.Time("now", now))

	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrent)
	for _, d := range due {
		g.Go(func() error {
			err := r.dispatchSafe(ctx, d)
			if r.deps.Metrics != nil {
				r.deps.Metrics.ObserveDispatch(kindOf(d), err)
			}
			if err != nil {
				r.log.Warn("directive failed; retrying next tick",
					logx.String("id", d.ID),
					logx.String("guild", d.GuildRef),
					logx.String("channel", d.ChannelRef),
					logx.String("kind", string(kindOf(d))),
					logx.Err(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(due)
}

func (r *Runner) dispatchSafe(ctx context.Context, d model.Directive) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("dispatch panic", logx.String("id", d.ID), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("dispatch panic: %v", rec)
		}
	}()
	return r.Dispatch(ctx, d)
}

// Dispatch fetches, delivers and advances one directive. Any error leaves the
// directive's next fire untouched.
func (r *Runner) Dispatch(ctx context.Context, d model.Directive) error {
	to := kit.Target{Guild: d.GuildRef, Channel: d.ChannelRef}

	var posts []kit.Post
	switch p := d.Payload.(type) {
	case model.DailyReading:
		if r.deps.Lives == nil {
			return fmt.Errorf("lives: %w", ErrNoSource)
		}
		day, err := r.deps.Lives.Get(ctx)
		if err != nil {
			return fmt.Errorf("lives: %w", err)
		}
		posts = render.Lives(day)
	case model.ImageQuote:
		posts = []kit.Post{render.Quote(p)}
	case model.BlogSubscriptionSet:
		if r.deps.Blogs == nil {
			return fmt.Errorf("blogs: %w", ErrNoSource)
		}
		snap, err := r.deps.Blogs.Get(ctx)
		if err != nil {
			return fmt.Errorf("blogs: %w", err)
		}
		items, updated := blogs.Diff(p.Subscriptions, snap, r.cfg.NewSubscriptions)
		posts = render.BlogItems(items)
		d.Payload = model.BlogSubscriptionSet{Subscriptions: updated}
	default:
		return fmt.Errorf("%w: %T", model.ErrUnknownPayload, d.Payload)
	}

	if len(posts) > 0 {
		if err := r.deps.Notifier.Deliver(ctx, to, posts); err != nil {
			return err
		}
	}
	if err := r.deps.Schedule.AdvanceRecurrence(ctx, d); err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	r.log.Info("directive fired",
		logx.String("id", d.ID),
		logx.String("target", to.String()),
		logx.String("kind", string(kindOf(d))),
		logx.Int("posts", len(posts)),
	)
	return nil
}

func kindOf(d model.Directive) model.PayloadKind {
	if d.Payload == nil {
		return ""
	}
	return d.Payload.Kind()
}

// cronLogger routes cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
