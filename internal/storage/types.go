package storage

import (
	"context"
	"errors"
	"time"

	"readingsbot/internal/model"
)

var (
	ErrClosed      = errors.New("storage closed")
	ErrInvalidKey  = errors.New("directive key is incomplete")
	ErrNoDirective = errors.New("directive not found")
)

// Store is the event store used by the scheduling service.
//
// Save upserts by Directive.Key(); on replace the stored ID and CreatedAt are kept.
// FindDue returns every directive with NextFire <= now, in no particular order.
type Store interface {
	Save(ctx context.Context, d model.Directive) (replaced bool, err error)
	DeleteMatching(ctx context.Context, key model.DirectiveKey) (deleted bool, err error)
	Find(ctx context.Context, key model.DirectiveKey) (model.Directive, bool, error)
	FindByGuild(ctx context.Context, guildRef string) ([]model.Directive, error)
	FindDue(ctx context.Context, now time.Time) ([]model.Directive, error)

	// GuildZone returns the default time zone of a guild, "" when unset.
	GuildZone(ctx context.Context, guildRef string) (string, error)
	SetGuildZone(ctx context.Context, guildRef, zone string) error
	// GuildPrefix returns the command prefix of a guild, "" when unset.
	GuildPrefix(ctx context.Context, guildRef string) (string, error)
	SetGuildPrefix(ctx context.Context, guildRef, prefix string) error

	Close() error
}

// Config configures storage.
//
// If Driver is empty, "memory" is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func validKey(k model.DirectiveKey) error {
	if k.GuildRef == "" || k.ChannelRef == "" || !k.Kind.Valid() {
		return ErrInvalidKey
	}
	return nil
}

// keyString flattens a key for drivers that need a single string identity.
func keyString(k model.DirectiveKey) string {
	return k.GuildRef + "|" + k.ChannelRef + "|" + string(k.Kind)
}

// filterDue drops directives the coarse driver query let through.
func filterDue(in []model.Directive, now time.Time) []model.Directive {
	out := in[:0]
	for _, d := range in {
		if d.Due(now) {
			out = append(out, d)
		}
	}
	return out
}
