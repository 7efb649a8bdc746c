package config

import (
	"reflect"

	logx "readingsbot/pkg/logx"
)

// HotSections can change without a restart.
var HotSections = map[string]bool{"logging": true, "commands": true}

// SummarizeChange lists the top-level sections that differ and safe log
// fields describing them. Secrets are reported only as set or unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var fields []logx.Field
	diff := func(name string, a, b any, f ...logx.Field) {
		if !reflect.DeepEqual(a, b) {
			changed = append(changed, name)
			fields = append(fields, f...)
		}
	}

	diff("data_dir", oldCfg.DataDir, newCfg.DataDir, logx.String("data_dir", newCfg.DataDir))
	diff("logging", oldCfg.Logging, newCfg.Logging,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
	)
	diff("telegram", oldCfg.Telegram, newCfg.Telegram,
		logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
		logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""),
	)
	diff("slack", oldCfg.Slack, newCfg.Slack,
		logx.Bool("slack.enabled", newCfg.Slack.Enabled),
		logx.String("slack.listen_addr", newCfg.Slack.ListenAddr),
		logx.Bool("slack.token_set", newCfg.Slack.Token != ""),
	)
	diff("storage", oldCfg.Storage, newCfg.Storage, logx.String("storage.driver", newCfg.Storage.Driver))
	diff("scheduler", oldCfg.Scheduler, newCfg.Scheduler,
		logx.String("scheduler.default_timezone", newCfg.Scheduler.DefaultTimezone),
		logx.String("scheduler.poll_interval", newCfg.Scheduler.PollInterval),
	)
	diff("fetch", oldCfg.Fetch, newCfg.Fetch, logx.String("fetch.timeout", newCfg.Fetch.Timeout))
	diff("blogs", oldCfg.Blogs, newCfg.Blogs, logx.Int("blogs.catalog", len(newCfg.Blogs.Catalog)))
	diff("lives", oldCfg.Lives, newCfg.Lives, logx.String("lives.url", newCfg.Lives.URL))
	diff("notifier", oldCfg.Notifier, newCfg.Notifier, logx.String("notifier.post_interval", newCfg.Notifier.PostInterval))
	diff("commands", oldCfg.Commands, newCfg.Commands,
		logx.Strings("commands.prefix", newCfg.Commands.Prefix),
		logx.Int("commands.admins", len(newCfg.Commands.AdminUserIDs)),
	)
	diff("observability", oldCfg.Observability, newCfg.Observability,
		logx.Bool("observability.enabled", newCfg.Observability.Enabled),
		logx.String("observability.addr", newCfg.Observability.Addr),
		logx.Bool("observability.token_set", newCfg.Observability.Token != ""),
	)
	return changed, fields
}

// NeedsRestart returns the changed sections that are only read at startup.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !HotSections[s] {
			out = append(out, s)
		}
	}
	return out
}
