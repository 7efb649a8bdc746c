// Package lives caches the daily "Lives of the Saints" commemorations.
package lives

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"readingsbot/internal/cache"
	"readingsbot/internal/htmltext"
	logx "readingsbot/pkg/logx"
)

const (
	DefaultURL  = "https://www.oca.org/saints/today.json"
	DefaultZone = "America/Detroit"

	SnapshotFile = "lives.json"
)

type Commemoration struct {
	Title string `json:"title"`
	Link  string `json:"link"`
	Image string `json:"image"`
	Thumb string `json:"thumb"`
	Text  string `json:"text"`
}

// PlainText is the commemoration text without markup.
func (c Commemoration) PlainText() string { return htmltext.Text(c.Text) }

// Day is one day of commemorations as published by the OCA.
type Day struct {
	Header         string          `json:"header"`
	Link           string          `json:"link"`
	Date           string          `json:"date"`
	DateFull       string          `json:"date_full"`
	DateRFC        string          `json:"date_rfc"`
	Copyright      string          `json:"copyright"`
	Commemorations []Commemoration `json:"commemorations"`
	FetchedAt      time.Time       `json:"fetched_at,omitempty"`
}

// Published is the day the document is for, falling back to the fetch time.
func (d Day) Published() time.Time {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, strings.TrimSpace(d.DateRFC)); err == nil {
			return t
		}
	}
	return d.FetchedAt
}

// Stale reports whether a new calendar day has begun in loc since the document's day.
func (d Day) Stale(now time.Time, loc *time.Location) bool {
	pub := d.Published()
	if pub.IsZero() {
		return true
	}
	py, pm, pd := pub.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	return time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC).After(time.Date(py, pm, pd, 0, 0, 0, 0, time.UTC))
}

type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

type Config struct {
	URL       string
	Zone      *time.Location
	Dir       string
	Clock     func() time.Time
	Log       logx.Logger
	OnRefresh func(name string, err error)
}

type Cache struct {
	*cache.Cache[Day]
}

func NewCache(cfg Config, f Fetcher) *Cache {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Zone == nil {
		if loc, err := time.LoadLocation(DefaultZone); err == nil {
			cfg.Zone = loc
		} else {
			cfg.Zone = time.UTC
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	log := cfg.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	path := ""
	if cfg.Dir != "" {
		path = filepath.Join(cfg.Dir, SnapshotFile)
	}
	refresh := func(ctx context.Context, _ *Day) (Day, error) {
		b, err := f.FetchBytes(ctx, cfg.URL)
		if err != nil {
			return Day{}, err
		}
		var d Day
		if err := json.Unmarshal(b, &d); err != nil {
			return Day{}, fmt.Errorf("decode lives %s: %w", cfg.URL, err)
		}
		if len(d.Commemorations) == 0 {
			return Day{}, errors.New("lives: document has no commemorations")
		}
		d.FetchedAt = cfg.Clock().UTC()
		log.Info("lives refreshed", logx.String("date", d.Date), logx.Int("commemorations", len(d.Commemorations)))
		return d, nil
	}
	return &Cache{Cache: cache.New(cache.Options[Day]{
		Name:      "lives",
		Path:      path,
		Refresh:   refresh,
		Stale:     func(now time.Time, d Day) bool { return d.Stale(now, cfg.Zone) },
		Clock:     cfg.Clock,
		Log:       log,
		OnRefresh: cfg.OnRefresh,
	})}
}
