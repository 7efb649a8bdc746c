package config

import (
	"errors"
	"fmt"
	"strings"

	"readingsbot/internal/blogs"
	"readingsbot/internal/schedule"
	logx "readingsbot/pkg/logx"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if !cfg.Telegram.Enabled && !cfg.Slack.Enabled {
		add(errors.New("at least one of telegram.enabled or slack.enabled must be true"))
	}
	if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or READINGSBOT_TELEGRAM_TOKEN)"))
	}
	if cfg.Slack.Enabled {
		if strings.TrimSpace(cfg.Slack.Token) == "" {
			add(errors.New("slack.token is required (or READINGSBOT_SLACK_TOKEN)"))
		}
		if strings.TrimSpace(cfg.Slack.ListenAddr) != "" && strings.TrimSpace(cfg.Slack.SigningSecret) == "" {
			add(errors.New("slack.signing_secret is required when slack.listen_addr is set"))
		}
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level %q: want trace, debug, info, warn or error", cfg.Logging.Level))
	}
	if cfg.Logging.Chat.Enabled && !logx.ValidLevel(cfg.Logging.Chat.MinLevel) {
		add(fmt.Errorf("logging.chat.min_level %q is not a level", cfg.Logging.Chat.MinLevel))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when logging.file.enabled"))
	}
	if cfg.Logging.Chat.Enabled {
		if _, ok := ParseTarget(cfg.Logging.Chat.Target); !ok {
			add(fmt.Errorf("logging.chat.target %q: want <guild>/<channel>", cfg.Logging.Chat.Target))
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "memory", "file", "sqlite":
	case "redis":
		if strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			add(errors.New("storage.redis.addr is required for the redis driver"))
		}
	default:
		add(fmt.Errorf("storage.driver %q: want memory, file, sqlite or redis", cfg.Storage.Driver))
	}

	for path, z := range map[string]string{
		"scheduler.default_timezone": cfg.Scheduler.DefaultTimezone,
		"blogs.timezone":             cfg.Blogs.Timezone,
		"lives.timezone":             cfg.Lives.Timezone,
	} {
		if _, err := schedule.LoadZone(z, "UTC"); err != nil {
			add(fmt.Errorf("%s: %w", path, err))
		}
	}
	if _, err := schedule.ParseDSTPolicy(cfg.Scheduler.DSTPolicy); err != nil {
		add(fmt.Errorf("scheduler.dst_policy: %w", err))
	}
	if _, err := blogs.ParseMode(cfg.Scheduler.NewSubscriptionMode); err != nil {
		add(fmt.Errorf("scheduler.new_subscription_mode: %w", err))
	}
	if _, err := blogs.NewCatalog(cfg.Blogs.Catalog); err != nil {
		add(err)
	}

	for _, ds := range durationSettings(cfg) {
		add(ds.check())
	}

	for path, n := range map[string]int{
		"scheduler.max_concurrent": cfg.Scheduler.MaxConcurrent,
		"fetch.retries":            cfg.Fetch.Retries,
		"blogs.max_cache_size":     cfg.Blogs.MaxCacheSize,
		"notifier.retry_max":       cfg.Notifier.RetryMax,
		"notifier.rate_per_sec":    cfg.Notifier.RatePerSec,
		"commands.workers":         cfg.Commands.Workers,
	} {
		if n < 0 {
			add(fmt.Errorf("%s must be >= 0", path))
		}
	}
	return errors.Join(errs...)
}

// Target is a chat destination written as "<guild>/<channel>".
type Target struct {
	Guild   string
	Channel string
}

// ParseTarget splits "<guild>/<channel>" at the last slash.
func ParseTarget(s string) (Target, bool) {
	s = strings.TrimSpace(s)
	i := strings.LastIndexByte(s, '/')
	if i <= 0 || i == len(s)-1 {
		return Target{}, false
	}
	return Target{Guild: s[:i], Channel: s[i+1:]}, true
}
