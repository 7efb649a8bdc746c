package config

import (
	"fmt"
	"strings"
	"time"
)

// durationSetting is one duration option of the config file. Zero means
// "use the default" and is always allowed; anything else must reach min.
type durationSetting struct {
	path string
	raw  string
	min  time.Duration
}

func durationSettings(cfg *Config) []durationSetting {
	return []durationSetting{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout, 0},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout, 0},
		{"scheduler.poll_interval", cfg.Scheduler.PollInterval, time.Second},
		{"fetch.timeout", cfg.Fetch.Timeout, 0},
		{"notifier.post_interval", cfg.Notifier.PostInterval, 0},
		{"notifier.send_timeout", cfg.Notifier.SendTimeout, 0},
		{"commands.timeout", cfg.Commands.Timeout, 0},
	}
}

func (s durationSetting) check() error {
	d, err := ParseDurationField(s.path, s.raw)
	if err != nil {
		return err
	}
	if d > 0 && d < s.min {
		return fmt.Errorf("%s must be at least %s", s.path, s.min)
	}
	return nil
}

// ParseDurationField parses a Go duration string such as "1500ms" or "1m".
// Blank is 0; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for 0.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
