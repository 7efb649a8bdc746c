// Package cache provides a snapshot-backed content cache whose refreshes are
// collapsed into a single in-flight fetch.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	logx "readingsbot/pkg/logx"
)

type Options[T any] struct {
	// Name labels logs and metrics.
	Name string
	// Path of the JSON snapshot file. Empty disables persistence.
	Path string
	// Refresh builds a complete new value. prev is nil when nothing is cached yet.
	Refresh func(ctx context.Context, prev *T) (T, error)
	// Stale reports whether cur must be refreshed before being served.
	Stale func(now time.Time, cur T) bool
	Clock func() time.Time
	Log   logx.Logger
	// OnRefresh is called after every refresh attempt.
	OnRefresh func(name string, err error)
}

// Cache holds one value of T. Readers see either the old or the new value, never a mix.
type Cache[T any] struct {
	opt Options[T]
	log logx.Logger

	mu      sync.RWMutex
	cur     T
	has     bool
	invalid bool

	loadOnce sync.Once
	flight   singleflight.Group
}

func New[T any](opt Options[T]) *Cache[T] {
	if opt.Clock == nil {
		opt.Clock = time.Now
	}
	if opt.Stale == nil {
		opt.Stale = func(time.Time, T) bool { return false }
	}
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(opt.Name) == "" {
		opt.Name = "cache"
	}
	return &Cache[T]{opt: opt, log: log.With(logx.String("cache", opt.Name))}
}

func (c *Cache[T]) Name() string { return c.opt.Name }

// Get returns the current value, refreshing it first when missing or stale.
//
// When the refresh fails, the caller that ran it gets the error. Callers that
// only waited on it get the previous value if there is one.
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	c.loadOnce.Do(c.loadSnapshot)

	c.mu.RLock()
	cur, has, invalid := c.cur, c.has, c.invalid
	c.mu.RUnlock()
	if has && !invalid && !c.opt.Stale(c.opt.Clock(), cur) {
		return cur, nil
	}
	return c.refresh(ctx)
}

// Peek returns the cached value without refreshing.
func (c *Cache[T]) Peek() (T, bool) {
	c.loadOnce.Do(c.loadSnapshot)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur, c.has
}

// Invalidate forces the next Get to refresh.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	c.invalid = true
	c.mu.Unlock()
}

func (c *Cache[T]) refresh(ctx context.Context) (T, error) {
	var zero T
	leader := false
	ch := c.flight.DoChan("refresh", func() (any, error) {
		leader = true
		return c.runRefresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(T), nil
		}
		if leader {
			return zero, res.Err
		}
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.has {
			return c.cur, nil
		}
		return zero, res.Err
	}
}

func (c *Cache[T]) runRefresh(ctx context.Context) (any, error) {
	if c.opt.Refresh == nil {
		return nil, errors.New("cache " + c.opt.Name + ": no refresh function")
	}
	c.mu.RLock()
	cur, has, invalid := c.cur, c.has, c.invalid
	c.mu.RUnlock()
	// A flight that finished after this caller's check may already have
	// refreshed the value.
	if has && !invalid && !c.opt.Stale(c.opt.Clock(), cur) {
		return cur, nil
	}
	var prev *T
	if has {
		prev = &cur
	}

	start := time.Now()
	v, err := c.opt.Refresh(ctx, prev)
	if c.opt.OnRefresh != nil {
		c.opt.OnRefresh(c.opt.Name, err)
	}
	if err != nil {
		c.log.Warn("refresh failed", logx.Duration("took", time.Since(start)), logx.Err(err))
		return nil, err
	}

	c.mu.Lock()
	c.cur = v
	c.has = true
	c.invalid = false
	c.mu.Unlock()
	c.log.Debug("refreshed", logx.Duration("took", time.Since(start)))

	if err := c.writeSnapshot(v); err != nil {
		c.log.Warn("snapshot write failed", logx.String("path", c.opt.Path), logx.Err(err))
	}
	return v, nil
}

func (c *Cache[T]) loadSnapshot() {
	if c.opt.Path == "" {
		return
	}
	b, err := os.ReadFile(c.opt.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("snapshot read failed", logx.String("path", c.opt.Path), logx.Err(err))
		}
		return
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		c.log.Warn("snapshot ignored", logx.String("path", c.opt.Path), logx.Err(err))
		return
	}
	c.mu.Lock()
	if !c.has {
		c.cur = v
		c.has = true
	}
	c.mu.Unlock()
	c.log.Info("snapshot loaded", logx.String("path", c.opt.Path))
}

// writeSnapshot overwrites the file in one write.
func (c *Cache[T]) writeSnapshot(v T) error {
	if c.opt.Path == "" {
		return nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.opt.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.opt.Path, b, 0o644)
}
