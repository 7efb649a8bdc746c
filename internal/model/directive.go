package model

import (
	"encoding/json"
	"time"
)

// DirectiveKey is the store identity of a directive: at most one per
// guild, channel and payload kind.
type DirectiveKey struct {
	GuildRef   string
	ChannelRef string
	Kind       PayloadKind
}

// Directive is a persisted instruction to post content in a channel, optionally recurring.
type Directive struct {
	ID         string
	GuildRef   string
	ChannelRef string
	Payload    Payload
	// NextFire is the absolute instant of the next firing.
	NextFire time.Time
	// TimeZone is the IANA zone the recurrence is computed in.
	TimeZone string
	// LocalTime is the wall-clock time of day ("15:04:05") the directive was scheduled for.
	LocalTime string
	Period    Period
	Recurring bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d Directive) Key() DirectiveKey {
	var kind PayloadKind
	if d.Payload != nil {
		kind = d.Payload.Kind()
	}
	return DirectiveKey{GuildRef: d.GuildRef, ChannelRef: d.ChannelRef, Kind: kind}
}

// Due reports whether the directive should fire at now (boundary included).
func (d Directive) Due(now time.Time) bool { return !d.NextFire.After(now) }

// Clone returns a copy whose subscription list can be modified without touching d.
func (d Directive) Clone() Directive {
	cp := d
	if set, ok := d.Payload.(BlogSubscriptionSet); ok {
		subs := make([]Pointer, len(set.Subscriptions))
		for i, p := range set.Subscriptions {
			subs[i] = p
			if p.Last != nil {
				last := *p.Last
				subs[i].Last = &last
			}
		}
		cp.Payload = BlogSubscriptionSet{Subscriptions: subs}
	}
	return cp
}

type directiveJSON struct {
	ID         string          `json:"id"`
	GuildRef   string          `json:"guildRef"`
	ChannelRef string          `json:"channelRef"`
	Payload    json.RawMessage `json:"payload"`
	NextFire   time.Time       `json:"nextFire"`
	TimeZone   string          `json:"timeZone"`
	LocalTime  string          `json:"localTime,omitempty"`
	Period     Period          `json:"period"`
	Recurring  bool            `json:"recurring"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func (d Directive) MarshalJSON() ([]byte, error) {
	pb, err := MarshalPayload(d.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(directiveJSON{
		ID:         d.ID,
		GuildRef:   d.GuildRef,
		ChannelRef: d.ChannelRef,
		Payload:    pb,
		NextFire:   d.NextFire.UTC(),
		TimeZone:   d.TimeZone,
		LocalTime:  d.LocalTime,
		Period:     d.Period,
		Recurring:  d.Recurring,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	})
}

func (d *Directive) UnmarshalJSON(b []byte) error {
	var raw directiveJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p, err := UnmarshalPayload(raw.Payload)
	if err != nil {
		return err
	}
	*d = Directive{
		ID:         raw.ID,
		GuildRef:   raw.GuildRef,
		ChannelRef: raw.ChannelRef,
		Payload:    p,
		NextFire:   raw.NextFire.UTC(),
		TimeZone:   raw.TimeZone,
		LocalTime:  raw.LocalTime,
		Period:     raw.Period,
		Recurring:  raw.Recurring,
		CreatedAt:  raw.CreatedAt,
		UpdatedAt:  raw.UpdatedAt,
	}
	return nil
}
