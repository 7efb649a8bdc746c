package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"readingsbot/internal/model"
	"readingsbot/internal/storage"
	logx "readingsbot/pkg/logx"
)

var ErrInvalidDirective = errors.New("invalid directive")

const localTimeLayout = "15:04:05"

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Service) {
		if !log.IsZero() {
			s.log = log
		}
	}
}

func WithDSTPolicy(p DSTPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// Service is the only writer of directives.
type Service struct {
	store  storage.Store
	now    func() time.Time
	log    logx.Logger
	policy DSTPolicy
}

func New(store storage.Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Policy() DSTPolicy { return s.policy }

// ScheduleOrUpdate stores d, replacing any directive with the same guild,
// channel and payload kind. replaced reports whether one existed.
func (s *Service) ScheduleOrUpdate(ctx context.Context, d model.Directive) (bool, error) {
	if err := validate(d); err != nil {
		return false, err
	}
	now := s.now().UTC()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	d.NextFire = d.NextFire.UTC()
	if d.LocalTime == "" {
		if local, err := LocalDateTimeIn(d.NextFire, d.TimeZone); err == nil {
			d.LocalTime = local.Format(localTimeLayout)
		}
	}

	replaced, err := s.store.Save(ctx, d)
	if err != nil {
		return false, model.Persistence("save", err)
	}
	s.log.Debug("directive saved",
		logx.String("guild", d.GuildRef),
		logx.String("channel", d.ChannelRef),
		logx.String("kind", string(d.Payload.Kind())),
		logx.Time("next_fire", d.NextFire),
		logx.Bool("replaced", replaced),
	)
	return replaced, nil
}

func validate(d model.Directive) error {
	switch {
	case strings.TrimSpace(d.GuildRef) == "" || strings.TrimSpace(d.ChannelRef) == "":
		return fmt.Errorf("%w: guild and channel are required", ErrInvalidDirective)
	case d.Payload == nil:
		return fmt.Errorf("%w: payload is required", ErrInvalidDirective)
	case d.NextFire.IsZero():
		return fmt.Errorf("%w: next fire time is required", ErrInvalidDirective)
	case d.Recurring && !d.Period.Positive():
		return fmt.Errorf("%w: recurring directive needs a positive period, got %s", ErrInvalidDirective, d.Period)
	}
	if _, err := LoadZone(d.TimeZone, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDirective, err)
	}
	return nil
}

// Delete removes the directive for guild, channel and kind.
func (s *Service) Delete(ctx context.Context, guild, channel string, kind model.PayloadKind) (bool, error) {
	ok, err := s.store.DeleteMatching(ctx, model.DirectiveKey{GuildRef: guild, ChannelRef: channel, Kind: kind})
	if err != nil {
		return false, model.Persistence("delete", err)
	}
	return ok, nil
}

func (s *Service) Get(ctx context.Context, guild, channel string, kind model.PayloadKind) (model.Directive, bool, error) {
	d, ok, err := s.store.Find(ctx, model.DirectiveKey{GuildRef: guild, ChannelRef: channel, Kind: kind})
	if err != nil {
		return model.Directive{}, false, model.Persistence("find", err)
	}
	return d, ok, nil
}

func (s *Service) ListForGuild(ctx context.Context, guild string) ([]model.Directive, error) {
	out, err := s.store.FindByGuild(ctx, guild)
	if err != nil {
		return nil, model.Persistence("list guild", err)
	}
	return out, nil
}

// ListDue returns every directive whose next fire is at or before now.
func (s *Service) ListDue(ctx context.Context, now time.Time) ([]model.Directive, error) {
	out, err := s.store.FindDue(ctx, now)
	if err != nil {
		return nil, model.Persistence("list due", err)
	}
	return out, nil
}

func (s *Service) GuildZone(ctx context.Context, guild string) (string, error) {
	z, err := s.store.GuildZone(ctx, guild)
	if err != nil {
		return "", model.Persistence("guild zone", err)
	}
	return z, nil
}

func (s *Service) SetGuildZone(ctx context.Context, guild, zone string) error {
	if _, err := LoadZone(zone, ""); err != nil {
		return err
	}
	return model.Persistence("set guild zone", s.store.SetGuildZone(ctx, guild, zone))
}

func (s *Service) GuildPrefix(ctx context.Context, guild string) (string, error) {
	p, err := s.store.GuildPrefix(ctx, guild)
	if err != nil {
		return "", model.Persistence("guild prefix", err)
	}
	return p, nil
}

// SetGuildPrefix stores the guild's command prefix; "" clears it.
func (s *Service) SetGuildPrefix(ctx context.Context, guild, prefix string) error {
	return model.Persistence("set guild prefix", s.store.SetGuildPrefix(ctx, guild, prefix))
}

// AdvanceRecurrence is called after d fired successfully. One-shot directives
// are removed; recurring ones move to their next occurrence. For blog
// subscriptions the delivered pointers of d are merged into whatever is stored
// now, so subscriptions changed during delivery survive.
func (s *Service) AdvanceRecurrence(ctx context.Context, d model.Directive) error {
	if !d.Recurring {
		_, err := s.Delete(ctx, d.GuildRef, d.ChannelRef, d.Payload.Kind())
		return err
	}

	next, err := NextOccurrence(d, DSTStrict)
	if errors.Is(err, model.ErrAmbiguousOrSkippedLocalTime) && s.policy == DSTLenient {
		s.log.Warn("recurrence adjusted for daylight saving", logx.String("id", d.ID), logx.String("tz", d.TimeZone), logx.Err(err))
		next, err = NextOccurrence(d, DSTLenient)
	}
	if err != nil {
		return err
	}

	stored, ok, err := s.Get(ctx, d.GuildRef, d.ChannelRef, d.Payload.Kind())
	if err != nil {
		return err
	}
	if !ok {
		// cancelled while firing
		return nil
	}
	out := d
	if !stored.NextFire.Equal(d.NextFire) {
		// rescheduled while firing: keep the new schedule
		out = stored
	}
	out.Payload = mergePayload(stored.Payload, d.Payload)
	if out.NextFire.Equal(d.NextFire) {
		out.NextFire = next
	}
	_, err = s.ScheduleOrUpdate(ctx, out)
	return err
}

func mergePayload(stored, fired model.Payload) model.Payload {
	cur, ok := stored.(model.BlogSubscriptionSet)
	if !ok {
		return fired
	}
	done, ok := fired.(model.BlogSubscriptionSet)
	if !ok {
		return stored
	}
	subs := make([]model.Pointer, len(cur.Subscriptions))
	copy(subs, cur.Subscriptions)
	for i, p := range subs {
		if j := done.Index(p.Source.Name); j >= 0 {
			subs[i].Last = done.Subscriptions[j].Last
		}
	}
	return model.BlogSubscriptionSet{Subscriptions: subs}
}

// NextOccurrence computes the first firing after d.NextFire in the directive's
// zone. Date-only periods keep the original local time of day.
func NextOccurrence(d model.Directive, policy DSTPolicy) (time.Time, error) {
	if !d.Period.Positive() {
		return time.Time{}, fmt.Errorf("%w: period %s does not advance", ErrInvalidDirective, d.Period)
	}
	loc, err := LoadZone(d.TimeZone, "")
	if err != nil {
		return time.Time{}, err
	}

	wall := civil(d.NextFire.In(loc))
	if d.Period.DateOnly() && d.LocalTime != "" {
		if tod, perr := time.Parse(localTimeLayout, d.LocalTime); perr == nil {
			wall = time.Date(wall.Year(), wall.Month(), wall.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC)
		}
	}

	for i := 0; i < 4; i++ {
		wall = d.Period.AddTo(wall)
		at, err := Resolve(wall, loc, policy)
		if err != nil {
			return time.Time{}, err
		}
		if at.After(d.NextFire) {
			return at.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: no occurrence after %s", ErrInvalidDirective, d.NextFire)
}
