package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variables that override the file. Secrets usually live here.
const (
	EnvTelegramToken      = "READINGSBOT_TELEGRAM_TOKEN"
	EnvSlackToken         = "READINGSBOT_SLACK_TOKEN"
	EnvSlackSigningSecret = "READINGSBOT_SLACK_SIGNING_SECRET"
	EnvRedisPassword      = "READINGSBOT_REDIS_PASSWORD"
	EnvRedisDB            = "READINGSBOT_REDIS_DB"
	EnvDataDir            = "READINGSBOT_DATA_DIR"
	EnvLogLevel           = "READINGSBOT_LOG_LEVEL"
	EnvObservabilityToken = "READINGSBOT_OBSERVABILITY_TOKEN"
	EnvAdminUserIDs       = "READINGSBOT_ADMIN_USER_IDS"
)

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Slack.Token, EnvSlackToken)
	set(&cfg.Slack.SigningSecret, EnvSlackSigningSecret)
	set(&cfg.Storage.Redis.Password, EnvRedisPassword)
	set(&cfg.DataDir, EnvDataDir)
	set(&cfg.Logging.Level, EnvLogLevel)
	set(&cfg.Observability.Token, EnvObservabilityToken)

	if v := strings.TrimSpace(getenv(EnvAdminUserIDs)); v != "" {
		var ids []string
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		cfg.Commands.AdminUserIDs = ids
	}
	if v := strings.TrimSpace(getenv(EnvRedisDB)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.Redis.DB = n
		}
	}
}
