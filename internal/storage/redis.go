package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"readingsbot/internal/model"
	logx "readingsbot/pkg/logx"
)

// redisStore layout (prefix defaults to "readingsbot"):
//   - <prefix>:directives      HASH  key -> directive JSON
//   - <prefix>:due             ZSET  key scored by next fire (unix ms)
//   - <prefix>:guild:<guild>   SET   keys of the guild
//   - <prefix>:zones           HASH  guild -> time zone
//   - <prefix>:prefixes        HASH  guild -> command prefix
type redisStore struct {
	rdb    *redis.Client
	log    logx.Logger
	prefix string
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return newRedisStore(rdb, cfg.Redis.Prefix, log), nil
}

func newRedisStore(rdb *redis.Client, prefix string, log logx.Logger) *redisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "readingsbot"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{rdb: rdb, log: log, prefix: prefix}
}

func (s *redisStore) directivesKey() string { return s.prefix + ":directives" }
func (s *redisStore) dueKey() string { return s.prefix + ":due" }
func (s *redisStore) zonesKey() string { return s.prefix + ":zones" }
func (s *redisStore) prefixesKey() string { return s.prefix + ":prefixes" }
func (s *redisStore) guildKey(guild string) string { return s.prefix + ":guild:" + guild }

func (s *redisStore) Close() error { return s.rdb.Close() }

func (s *redisStore) Save(ctx context.Context, d model.Directive) (bool, error) {
	key := d.Key()
	if err := validKey(key); err != nil {
		return false, err
	}
	ks := keyString(key)

	replaced := false
	prev, err := s.rdb.HGet(ctx, s.directivesKey(), ks).Result()
	switch {
	case err == nil:
		var old model.Directive
		if jerr := json.Unmarshal([]byte(prev), &old); jerr == nil {
			d.ID = old.ID
			d.CreatedAt = old.CreatedAt
		}
		replaced = true
	case errors.Is(err, redis.Nil):
	default:
		return false, err
	}

	data, err := json.Marshal(d)
	if err != nil {
		return false, err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.directivesKey(), ks, data)
		p.ZAdd(ctx, s.dueKey(), redis.Z{Score: float64(d.NextFire.UnixMilli()), Member: ks})
		p.SAdd(ctx, s.guildKey(key.GuildRef), ks)
		return nil
	})
	if err != nil {
		return false, err
	}
	return replaced, nil
}

func (s *redisStore) DeleteMatching(ctx context.Context, key model.DirectiveKey) (bool, error) {
	ks := keyString(key)
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.HDel(ctx, s.directivesKey(), ks)
		p.ZRem(ctx, s.dueKey(), ks)
		p.SRem(ctx, s.guildKey(key.GuildRef), ks)
		return nil
	})
	if err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}

func (s *redisStore) Find(ctx context.Context, key model.DirectiveKey) (model.Directive, bool, error) {
	raw, err := s.rdb.HGet(ctx, s.directivesKey(), keyString(key)).Result()
	if errors.Is(err, redis.Nil) {
		return model.Directive{}, false, nil
	}
	if err != nil {
		return model.Directive{}, false, err
	}
	var d model.Directive
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return model.Directive{}, false, err
	}
	return d, true, nil
}

func (s *redisStore) FindByGuild(ctx context.Context, guildRef string) ([]model.Directive, error) {
	keys, err := s.rdb.SMembers(ctx, s.guildKey(guildRef)).Result()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, keys)
}

func (s *redisStore) FindDue(ctx context.Context, now time.Time) ([]model.Directive, error) {
	keys, err := s.rdb.ZRangeByScore(ctx, s.dueKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	out, err := s.load(ctx, keys)
	if err != nil {
		return nil, err
	}
	return filterDue(out, now), nil
}

func (s *redisStore) load(ctx context.Context, keys []string) ([]model.Directive, error) {
	out := make([]model.Directive, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := s.rdb.HMGet(ctx, s.directivesKey(), keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// index entry without a record; left behind by an interrupted delete
			s.log.Debug("dangling directive index entry", logx.String("key", keys[i]))
			continue
		}
		var d model.Directive
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			s.log.Warn("skipping undecodable directive", logx.String("key", keys[i]), logx.Err(err))
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *redisStore) GuildZone(ctx context.Context, guildRef string) (string, error) {
	z, err := s.rdb.HGet(ctx, s.zonesKey(), guildRef).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return z, err
}

func (s *redisStore) SetGuildZone(ctx context.Context, guildRef, zone string) error {
	if strings.TrimSpace(zone) == "" {
		return s.rdb.HDel(ctx, s.zonesKey(), guildRef).Err()
	}
	return s.rdb.HSet(ctx, s.zonesKey(), guildRef, zone).Err()
}

func (s *redisStore) GuildPrefix(ctx context.Context, guildRef string) (string, error) {
	p, err := s.rdb.HGet(ctx, s.prefixesKey(), guildRef).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return p, err
}

func (s *redisStore) SetGuildPrefix(ctx context.Context, guildRef, prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return s.rdb.HDel(ctx, s.prefixesKey(), guildRef).Err()
	}
	return s.rdb.HSet(ctx, s.prefixesKey(), guildRef, prefix).Err()
}
