package notifier

import "time"

type Config struct {
	// PostInterval spaces posts sent to the same target.
	PostInterval time.Duration
	// RatePerSec caps sends across all targets.
	RatePerSec int
	RetryMax   int
	// SendTimeout bounds one adapter call.
	SendTimeout time.Duration
}

type HistoryItem struct {
	At     time.Time
	Target string
	Title  string
	Error  string `json:",omitempty"`
}
