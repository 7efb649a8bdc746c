package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"readingsbot/internal/blogs"
	"readingsbot/internal/commands"
	"readingsbot/internal/config"
	"readingsbot/internal/fetch"
	"readingsbot/internal/notifier"
	"readingsbot/internal/observability"
	"readingsbot/internal/runner"
	"readingsbot/internal/schedule"
	"readingsbot/internal/storage"
	"readingsbot/internal/transport/slack"
	"readingsbot/internal/transport/telegram"
	logx "readingsbot/pkg/logx"
)

const defaultDataDir = "./data"

func dataDir(cfg *config.Config) string {
	if d := strings.TrimSpace(cfg.DataDir); d != "" {
		return d
	}
	return defaultDataDir
}

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file":
		if path == "" {
			path = filepath.Join(dataDir(cfg), "directives")
		}
	case "sqlite", "sqlite3":
		if path == "" {
			path = filepath.Join(dataDir(cfg), "readings.db")
		}
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: busy,
		Redis: storage.RedisConfig{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		},
	}, nil
}

func mapScheduleOptions(cfg *config.Config, log logx.Logger) ([]schedule.Option, error) {
	policy, err := schedule.ParseDSTPolicy(cfg.Scheduler.DSTPolicy)
	if err != nil {
		return nil, err
	}
	return []schedule.Option{
		schedule.WithDSTPolicy(policy),
		schedule.WithLogger(log.With(logx.String("comp", "schedule"))),
	}, nil
}

func mapRunner(cfg *config.Config) (runner.Config, error) {
	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval, time.Minute)
	if err != nil {
		return runner.Config{}, err
	}
	mode, err := blogs.ParseMode(cfg.Scheduler.NewSubscriptionMode)
	if err != nil {
		return runner.Config{}, err
	}
	return runner.Config{PollInterval: poll, MaxConcurrent: cfg.Scheduler.MaxConcurrent, NewSubscriptions: mode}, nil
}

func mapFetch(cfg *config.Config) (fetch.Config, error) {
	timeout, err := config.ParseDurationOrDefault("fetch.timeout", cfg.Fetch.Timeout, 20*time.Second)
	if err != nil {
		return fetch.Config{}, err
	}
	return fetch.Config{UserAgent: cfg.Fetch.UserAgent, Timeout: timeout, Retries: cfg.Fetch.Retries}, nil
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	interval, err := config.ParseDurationOrDefault("notifier.post_interval", cfg.Notifier.PostInterval, notifier.DefaultPostInterval)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("notifier.send_timeout", cfg.Notifier.SendTimeout, 30*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		PostInterval: interval,
		RatePerSec:   cfg.Notifier.RatePerSec,
		RetryMax:     cfg.Notifier.RetryMax,
		SendTimeout:  sendTimeout,
	}, nil
}

func mapCommands(cfg *config.Config) (commands.Config, error) {
	timeout, err := config.ParseDurationOrDefault("commands.timeout", cfg.Commands.Timeout, 30*time.Second)
	if err != nil {
		return commands.Config{}, err
	}
	prefixes := cfg.Commands.Prefix
	if len(prefixes) == 0 {
		prefixes = []string{"!"}
		if cfg.Telegram.Enabled {
			prefixes = append(prefixes, "/")
		}
	}
	return commands.Config{
		Prefixes:       prefixes,
		Admins:         cfg.Commands.AdminUserIDs,
		DefaultTimeout: timeout,
		Workers:        cfg.Commands.Workers,
	}, nil
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapSlack(cfg *config.Config) slack.Config {
	return slack.Config{
		Token:         cfg.Slack.Token,
		SigningSecret: cfg.Slack.SigningSecret,
		ListenAddr:    cfg.Slack.ListenAddr,
		CommandPath:   cfg.Slack.CommandPath,
	}
}

func mapObservability(cfg *config.Config) observability.Config {
	oc := cfg.Observability
	return observability.Config{
		Enabled:       oc.Enabled,
		Addr:          oc.Addr,
		Pprof:         oc.Pprof,
		PprofPrefix:   oc.PprofPrefix,
		Token:         oc.Token,
		AllowInsecure: oc.AllowInsecure,
		ReadTimeout:   10 * time.Second,
		IdleTimeout:   time.Minute,
	}
}

func loadZone(path, name, fallback string) (*time.Location, error) {
	loc, err := schedule.LoadZone(name, fallback)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return loc, nil
}
