package lives

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

const sample = `{
  "header": "Saints and Feasts",
  "link": "https://www.oca.org/saints/lives/2024/03/02",
  "date": "March 2",
  "date_full": "Saturday, March 2, 2024",
  "date_rfc": "Sat, 02 Mar 2024 00:00:00 -0500",
  "copyright": "OCA",
  "commemorations": [
    {"title": "Hieromartyr Theodotus", "link": "https://www.oca.org/x", "image": "https://www.oca.org/x.jpg", "thumb": "", "text": "<p>He was bishop.</p><p>See <a href=\"https://www.oca.org/y\">more</a></p>"}
  ]
}`

type countingFetcher struct {
	calls atomic.Int32
	body  string
}

func (f *countingFetcher) FetchBytes(context.Context, string) ([]byte, error) {
	f.calls.Add(1)
	if f.body == "" {
		return nil, fmt.Errorf("fetch: down")
	}
	return []byte(f.body), nil
}

func detroit(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(DefaultZone)
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	return loc
}

func TestDayStaleOnNewLocalDay(t *testing.T) {
	t.Parallel()
	loc := detroit(t)
	d := Day{DateRFC: "Sat, 02 Mar 2024 00:00:00 -0500"}
	tests := []struct {
		now  time.Time
		want bool
	}{
		{now: time.Date(2024, 3, 2, 12, 0, 0, 0, loc), want: false},
		{now: time.Date(2024, 3, 2, 23, 59, 0, 0, loc), want: false},
		{now: time.Date(2024, 3, 3, 0, 0, 0, 0, loc), want: true},
		// 03:00 UTC on the 3rd is still the 2nd in Detroit
		{now: time.Date(2024, 3, 3, 3, 0, 0, 0, time.UTC), want: false},
	}
	for _, tt := range tests {
		if got := d.Stale(tt.now, loc); got != tt.want {
			t.Fatalf("Stale(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
	if !(Day{}).Stale(time.Now(), loc) {
		t.Fatal("an empty day is always stale")
	}
}

func TestCacheFetchesOncePerDay(t *testing.T) {
	t.Parallel()
	loc := detroit(t)
	now := time.Date(2024, 3, 2, 9, 0, 0, 0, loc)
	f := &countingFetcher{body: sample}
	c := NewCache(Config{Zone: loc, Dir: t.TempDir(), Clock: func() time.Time { return now }}, f)

	for i := 0; i < 3; i++ {
		d, err := c.Get(context.Background())
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(d.Commemorations) != 1 || d.DateFull != "Saturday, March 2, 2024" {
			t.Fatalf("day = %+v", d)
		}
	}
	if f.calls.Load() != 1 {
		t.Fatalf("fetches = %d, want 1", f.calls.Load())
	}
}

func TestCommemorationPlainText(t *testing.T) {
	t.Parallel()
	c := Commemoration{Text: `<p>He was bishop.</p><p>See <a href="https://www.oca.org/y">more</a></p>`}
	if got := c.PlainText(); got != "He was bishop.\nSee [more](https://www.oca.org/y)" {
		t.Fatalf("PlainText = %q", got)
	}
}

func TestCacheRejectsEmptyDocument(t *testing.T) {
	t.Parallel()
	f := &countingFetcher{body: `{"header":"x","commemorations":[]}`}
	c := NewCache(Config{Zone: time.UTC}, f)
	if _, err := c.Get(context.Background()); err == nil {
		t.Fatal("expected error for empty document")
	}
}
