package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"readingsbot/internal/model"
)

// DSTPolicy decides what happens when a recurrence lands on a wall-clock time
// that a daylight saving transition skips or repeats.
type DSTPolicy int

const (
	// DSTLenient moves a skipped time forward by the gap and picks the earlier
	// of two repeated times.
	DSTLenient DSTPolicy = iota
	// DSTStrict refuses both cases with model.ErrAmbiguousOrSkippedLocalTime.
	DSTStrict
)

func (p DSTPolicy) String() string {
	if p == DSTStrict {
		return "strict"
	}
	return "lenient"
}

func ParseDSTPolicy(s string) (DSTPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lenient":
		return DSTLenient, nil
	case "strict":
		return DSTStrict, nil
	}
	return DSTLenient, fmt.Errorf("unknown dst policy %q (want lenient or strict)", s)
}

// LoadZone loads name, or fallback when name is empty.
func LoadZone(name, fallback string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSpace(fallback)
	}
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("time zone %q not recognized: %w", name, err)
	}
	return loc, nil
}

// civil strips the location from t, keeping its wall clock.
func civil(t time.Time) time.Time {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return time.Date(y, mo, d, h, mi, s, t.Nanosecond(), time.UTC)
}

// candidates returns every instant whose wall clock in loc reads wall, oldest first.
// time.Date normalises silently, so the offsets around wall are probed instead.
func candidates(wall time.Time, loc *time.Location) []time.Time {
	naive := civil(wall)
	seen := map[int]bool{}
	var out []time.Time
	for _, probe := range []time.Time{naive.Add(-24 * time.Hour), naive, naive.Add(24 * time.Hour)} {
		_, off := probe.In(loc).Zone()
		if seen[off] {
			continue
		}
		seen[off] = true
		t := naive.Add(-time.Duration(off) * time.Second)
		if civil(t.In(loc)).Equal(naive) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ResolveStrict maps a wall-clock date-time to the single instant it names in loc.
func ResolveStrict(wall time.Time, loc *time.Location) (time.Time, error) {
	c := candidates(wall, loc)
	switch len(c) {
	case 0:
		return time.Time{}, fmt.Errorf("%s in %s: %w", civil(wall).Format("2006-01-02 15:04:05"), loc, model.ErrSkippedLocalTime)
	case 1:
		return c[0], nil
	default:
		return time.Time{}, fmt.Errorf("%s in %s: %w", civil(wall).Format("2006-01-02 15:04:05"), loc, model.ErrAmbiguousLocalTime)
	}
}

// resolveLenient never fails: skipped times move forward by the gap, repeated
// times take the earlier offset.
func resolveLenient(wall time.Time, loc *time.Location) time.Time {
	c := candidates(wall, loc)
	if len(c) > 0 {
		return c[0]
	}
	naive := civil(wall)
	_, before := naive.Add(-24 * time.Hour).In(loc).Zone()
	return naive.Add(-time.Duration(before) * time.Second)
}

// Resolve applies policy to wall in loc.
func Resolve(wall time.Time, loc *time.Location, policy DSTPolicy) (time.Time, error) {
	if policy == DSTStrict {
		return ResolveStrict(wall, loc)
	}
	return resolveLenient(wall, loc), nil
}

// LocalDateTimeIn returns instant as seen in the named zone.
func LocalDateTimeIn(instant time.Time, zone string) (time.Time, error) {
	loc, err := LoadZone(zone, "")
	if err != nil {
		return time.Time{}, err
	}
	return instant.In(loc), nil
}

// FirstFireAt returns today's hour:minute in loc, or tomorrow's if that has passed.
func FirstFireAt(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	wall := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, time.UTC)
	at := resolveLenient(wall, loc)
	if !at.After(now) {
		at = resolveLenient(wall.AddDate(0, 0, 1), loc)
	}
	return at
}

// TopOfHour truncates now to the hour in loc.
func TopOfHour(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	into := time.Duration(local.Minute())*time.Minute + time.Duration(local.Second())*time.Second + time.Duration(local.Nanosecond())
	return local.Add(-into)
}
