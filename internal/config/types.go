package config

import (
	"readingsbot/internal/blogs"
)

// Config is the whole bot configuration. Durations are Go duration strings
// ("1500ms", "20s", "1m"); empty means the default.
type Config struct {
	// DataDir holds cache snapshots and, by default, the directive store.
	DataDir string `json:"data_dir"`

	Logging       LoggingConfig       `json:"logging"`
	Telegram      TelegramConfig      `json:"telegram"`
	Slack         SlackConfig         `json:"slack"`
	Storage       StorageConfig       `json:"storage"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Fetch         FetchConfig         `json:"fetch"`
	Blogs         BlogsConfig         `json:"blogs"`
	Lives         LivesConfig         `json:"lives"`
	Notifier      NotifierConfig      `json:"notifier"`
	Commands      CommandsConfig      `json:"commands"`
	Observability ObservabilityConfig `json:"observability"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards log lines to a chat channel.
type LoggingChat struct {
	Enabled bool `json:"enabled"`
	// Target is "<guild ref>/<channel>", e.g. "telegram:-100123/-100123".
	Target     string `json:"target"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type TelegramConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
}

type SlackConfig struct {
	Enabled       bool   `json:"enabled"`
	Token         string `json:"token"`
	SigningSecret string `json:"signing_secret"`
	ListenAddr    string `json:"listen_addr"`
	CommandPath   string `json:"command_path"`
}

// StorageConfig selects the directive store.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/readings.db }
type StorageConfig struct {
	Driver      string      `json:"driver"`
	Path        string      `json:"path"`
	BusyTimeout string      `json:"busy_timeout,omitempty"`
	Redis       RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

type SchedulerConfig struct {
	DefaultTimezone string `json:"default_timezone"`
	PollInterval    string `json:"poll_interval"`
	MaxConcurrent   int    `json:"max_concurrent"`
	// DSTPolicy is "lenient" or "strict".
	DSTPolicy string `json:"dst_policy"`
	// NewSubscriptionMode is "silent" or "backlog".
	NewSubscriptionMode string `json:"new_subscription_mode"`
}

type FetchConfig struct {
	UserAgent string `json:"user_agent"`
	Timeout   string `json:"timeout"`
	Retries   int    `json:"retries"`
}

type BlogsConfig struct {
	MaxCacheSize int                     `json:"max_cache_size"`
	Timezone     string                  `json:"timezone"`
	Catalog      []blogs.BlogDescription `json:"catalog"`
}

type LivesConfig struct {
	URL      string `json:"url"`
	Timezone string `json:"timezone"`
}

type NotifierConfig struct {
	PostInterval string `json:"post_interval"`
	RatePerSec   int    `json:"rate_per_sec"`
	RetryMax     int    `json:"retry_max"`
	SendTimeout  string `json:"send_timeout"`
}

type CommandsConfig struct {
	Prefix       []string `json:"prefix"`
	AdminUserIDs []string `json:"admin_user_ids"`
	Timeout      string   `json:"timeout"`
	Workers      int      `json:"workers"`
}

// ObservabilityConfig controls the metrics/health HTTP server.
//
// Security note: a non-loopback addr needs a token or allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr"`
	Pprof         bool   `json:"pprof"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
