package model

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Period is a calendar period: date components are added on the wall clock,
// Duration is added afterwards as elapsed time on that wall clock.
type Period struct {
	Years    int
	Months   int
	Days     int
	Duration time.Duration
}

var (
	Daily  = Period{Days: 1}
	Hourly = Period{Duration: time.Hour}
)

func (p Period) IsZero() bool {
	return p.Years == 0 && p.Months == 0 && p.Days == 0 && p.Duration == 0
}

// DateOnly reports whether the period has no sub-day component.
func (p Period) DateOnly() bool { return p.Duration == 0 && !p.IsZero() }

// Positive reports whether adding p always moves a wall clock forward.
func (p Period) Positive() bool {
	return p.Years >= 0 && p.Months >= 0 && p.Days >= 0 && p.Duration >= 0 && !p.IsZero()
}

// AddTo adds p to a wall-clock value. The location of t is kept as-is; callers
// pass civil times in UTC and resolve them against a zone afterwards.
func (p Period) AddTo(t time.Time) time.Time {
	return t.AddDate(p.Years, p.Months, p.Days).Add(p.Duration)
}

var periodRe = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParsePeriod parses an ISO-8601 period such as "P1D", "PT1H" or "P1Y2M3DT4H5M6S".
func ParsePeriod(s string) (Period, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	m := periodRe.FindStringSubmatch(raw)
	if m == nil || raw == "P" || strings.HasSuffix(raw, "T") {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	var v [8]int64
	for i := 1; i < len(m); i++ {
		if m[i] == "" {
			continue
		}
		x, err := strconv.ParseInt(m[i], 10, 32)
		if err != nil {
			return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
		}
		v[i] = x
	}
	days := v[3]*7 + v[4]
	secs := v[5]*3600 + v[6]*60 + v[7]
	if days > math.MaxInt32 || secs > maxPeriodSeconds {
		return Period{}, fmt.Errorf("invalid period %q: out of range", s)
	}
	return Period{
		Years:    int(v[1]),
		Months:   int(v[2]),
		Days:     int(days),
		Duration: time.Duration(secs) * time.Second,
	}, nil
}

// maxPeriodSeconds keeps the time part of a period inside time.Duration.
const maxPeriodSeconds = math.MaxInt64 / int64(time.Second)

func (p Period) String() string {
	if p.IsZero() {
		return "PT0S"
	}
	var b strings.Builder
	b.WriteString("P")
	if p.Years != 0 {
		b.WriteString(strconv.Itoa(p.Years) + "Y")
	}
	if p.Months != 0 {
		b.WriteString(strconv.Itoa(p.Months) + "M")
	}
	if p.Days != 0 {
		b.WriteString(strconv.Itoa(p.Days) + "D")
	}
	if p.Duration != 0 {
		b.WriteString("T")
		d := p.Duration
		if h := d / time.Hour; h != 0 {
			b.WriteString(strconv.FormatInt(int64(h), 10) + "H")
			d -= h * time.Hour
		}
		if m := d / time.Minute; m != 0 {
			b.WriteString(strconv.FormatInt(int64(m), 10) + "M")
			d -= m * time.Minute
		}
		if d != 0 {
			b.WriteString(strconv.FormatInt(int64(d/time.Second), 10) + "S")
		}
	}
	return b.String()
}

func (p Period) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

func (p *Period) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
