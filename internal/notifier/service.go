package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "readingsbot/internal/transport"
	logx "readingsbot/pkg/logx"
)

const (
	DefaultPostInterval = 1500 * time.Millisecond
	DefaultRatePerSec   = 20
	DefaultRetryMax     = 3

	historyMax = 300
)

var ErrNoSender = errors.New("notifier has no sender")

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	cfg     Config
	sender  kit.Sender
	log     logx.Logger
	global  *rate.Limiter
	targets map[string]*rate.Limiter

	// OnDelivery, when set, observes every post outcome ("ok" or "error").
	OnDelivery func(result string)

	sleep func(ctx context.Context, d time.Duration) error

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender:  sender,
		log:     log.With(logx.String("comp", "notifier")),
		targets: map[string]*rate.Limiter{},
		sleep:   sleepCtx,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.PostInterval < 0 {
		cfg.PostInterval = 0
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultRatePerSec
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	s.cfg = cfg
	s.global = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	// new pacing applies to targets seen from now on
	s.targets = map[string]*rate.Limiter{}
}

func (s *Service) limiterFor(to kit.Target) (*rate.Limiter, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := to.String()
	lim, ok := s.targets[key]
	if !ok {
		every := rate.Inf
		if s.cfg.PostInterval > 0 {
			every = rate.Every(s.cfg.PostInterval)
		}
		lim = rate.NewLimiter(every, 1)
		s.targets[key] = lim
	}
	return s.global, lim
}

// Deliver sends posts to one target in order. It stops at the first post that
// still fails after retries and returns that error; posts already sent stay sent.
func (s *Service) Deliver(ctx context.Context, to kit.Target, posts []kit.Post) error {
	if s.sender == nil {
		return ErrNoSender
	}
	for i, p := range posts {
		err := s.deliverOne(ctx, to, p)
		s.record(to, p.Title, err)
		if err != nil {
			s.log.Warn("delivery aborted",
				logx.String("target", to.String()),
				logx.Int("sent", i),
				logx.Int("total", len(posts)),
				logx.Err(err),
			)
			return fmt.Errorf("deliver %d/%d to %s: %w", i+1, len(posts), to, err)
		}
	}
	if len(posts) > 0 {
		s.log.Debug("delivered", logx.String("target", to.String()), logx.Int("posts", len(posts)))
	}
	return nil
}

func (s *Service) deliverOne(ctx context.Context, to kit.Target, p kit.Post) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	global, perTarget := s.limiterFor(to)

	if err := perTarget.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, retryDelay(attempt-1)); err != nil {
				return err
			}
		}
		if err := global.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := s.sender.SendPost(callCtx, to, p)
		cancel()
		if err == nil {
			s.observe("ok")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		s.log.Debug("post send failed", logx.String("target", to.String()), logx.Int("attempt", attempt+1), logx.Err(err))
	}
	s.observe("error")
	return lastErr
}

// SendText sends a command reply. Replies are not paced per target.
func (s *Service) SendText(ctx context.Context, to kit.Target, text string) error {
	if s.sender == nil {
		return ErrNoSender
	}
	s.mu.Lock()
	global := s.global
	timeout := s.cfg.SendTimeout
	s.mu.Unlock()
	if err := global.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.sender.SendText(callCtx, to, text)
}

func (s *Service) observe(result string) {
	if s.OnDelivery != nil {
		s.OnDelivery(result)
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) record(to kit.Target, title string, err error) {
	it := HistoryItem{At: time.Now(), Target: to.String(), Title: title}
	if err != nil {
		it.Error = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historyMax {
		s.history = s.history[len(s.history)-historyMax:]
	}
	s.hmu.Unlock()
}

// retryDelay is 200ms, 300ms, 400ms, ... for retry i = 0, 1, 2, ...
func retryDelay(i int) time.Duration {
	return time.Duration(200+100*i) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
