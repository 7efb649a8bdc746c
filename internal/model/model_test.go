package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParsePeriod(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Period
		str  string
	}{
		{raw: "P1D", want: Period{Days: 1}, str: "P1D"},
		{raw: "PT1H", want: Period{Duration: time.Hour}, str: "PT1H"},
		{raw: "p2w", want: Period{Days: 14}, str: "P14D"},
		{raw: "P1Y2M3DT4H5M6S", want: Period{Years: 1, Months: 2, Days: 3, Duration: 4*time.Hour + 5*time.Minute + 6*time.Second}, str: "P1Y2M3DT4H5M6S"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePeriod(tt.raw)
			if err != nil {
				t.Fatalf("ParsePeriod(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParsePeriod(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
			if got.String() != tt.str {
				t.Fatalf("String() = %q, want %q", got.String(), tt.str)
			}
		})
	}
}

func TestParsePeriodInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"", "P", "PT", "1D", "P1DT", "P-1D", "daily",
		"P99999999999999999999D", "PT9999999999H", "PT3000000H", "P999999999W",
	} {
		if _, err := ParsePeriod(raw); err == nil {
			t.Fatalf("ParsePeriod(%q) expected error", raw)
		}
	}
}

func TestPeriodAddToWallClock(t *testing.T) {
	t.Parallel()
	civil := time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)
	if got := Daily.AddTo(civil); !got.Equal(time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("daily = %v", got)
	}
	if got := Hourly.AddTo(civil); !got.Equal(time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("hourly = %v", got)
	}
	if !Daily.DateOnly() || Hourly.DateOnly() {
		t.Fatal("DateOnly mismatch")
	}
}

func TestDirectiveDueBoundary(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d := Directive{NextFire: at}
	if !d.Due(at) {
		t.Fatal("directive must be due at its own fire instant")
	}
	if d.Due(at.Add(-time.Nanosecond)) {
		t.Fatal("directive must not be due before its fire instant")
	}
}

func TestDirectiveJSONKeepsPayloadVariant(t *testing.T) {
	t.Parallel()
	last := NewItemID("Post", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	d := Directive{
		ID:         "id-1",
		GuildRef:   "g",
		ChannelRef: "c",
		Payload: BlogSubscriptionSet{Subscriptions: []Pointer{
			{Source: SourceID{Name: "A", Author: "a"}, Last: &last},
			{Source: SourceID{Name: "B", Author: "b"}},
		}},
		NextFire:  time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
		TimeZone:  "America/New_York",
		Period:    Hourly,
		Recurring: true,
	}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Directive
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	set, ok := got.Payload.(BlogSubscriptionSet)
	if !ok {
		t.Fatalf("payload type = %T", got.Payload)
	}
	if len(set.Subscriptions) != 2 || set.Subscriptions[1].Last != nil || !set.Subscriptions[0].Last.Equal(last) {
		t.Fatalf("subscriptions = %+v", set.Subscriptions)
	}
	if got.Key() != d.Key() || got.Period != Hourly {
		t.Fatalf("key/period mismatch: %+v", got)
	}
}

func TestUnmarshalPayloadUnknownKind(t *testing.T) {
	t.Parallel()
	_, err := UnmarshalPayload([]byte(`{"kind":"horoscope","data":{}}`))
	if !errors.Is(err, ErrUnknownPayload) {
		t.Fatalf("err = %v, want ErrUnknownPayload", err)
	}
}

func TestCloneDetachesSubscriptions(t *testing.T) {
	t.Parallel()
	last := NewItemID("x", time.Unix(100, 0))
	d := Directive{Payload: BlogSubscriptionSet{Subscriptions: []Pointer{{Source: SourceID{Name: "A"}, Last: &last}}}}
	cp := d.Clone()
	set := cp.Payload.(BlogSubscriptionSet)
	set.Subscriptions[0].Last.Title = "changed"
	if d.Payload.(BlogSubscriptionSet).Subscriptions[0].Last.Title != "x" {
		t.Fatal("Clone shares pointer state with the original")
	}
}

func TestPersistenceWrapsOnce(t *testing.T) {
	t.Parallel()
	base := errors.New("down")
	err := Persistence("save", Persistence("inner", base))
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Op != "inner" {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatal("PersistenceError must unwrap to the cause")
	}
	if Persistence("x", nil) != nil {
		t.Fatal("nil must stay nil")
	}
}
