package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"readingsbot/internal/model"
	logx "readingsbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return err
	}
	// guild_settings predates the prefix column.
	return s.addColumn(ctx, "guild_settings", "prefix", "TEXT")
}

func (s *sqliteStore) addColumn(ctx context.Context, table, column, typ string) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_ = rows.Close()
	_, err = s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Save(ctx context.Context, d model.Directive) (bool, error) {
	key := d.Key()
	if err := validKey(key); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var prevID, prevCreated string
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM directives WHERE guild_ref = ? AND channel_ref = ? AND kind = ?`,
		key.GuildRef, key.ChannelRef, string(key.Kind),
	).Scan(&prevID, &prevCreated)
	replaced := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	if replaced {
		d.ID = prevID
		if t, perr := time.Parse(time.RFC3339Nano, prevCreated); perr == nil {
			d.CreatedAt = t
		}
	}

	data, err := json.Marshal(d)
	if err != nil {
		return false, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO directives(guild_ref, channel_ref, kind, id, next_fire, created_at, updated_at, data)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(guild_ref, channel_ref, kind) DO UPDATE SET
		   next_fire=excluded.next_fire, updated_at=excluded.updated_at, data=excluded.data`,
		key.GuildRef, key.ChannelRef, string(key.Kind), d.ID, d.NextFire.UnixMilli(),
		d.CreatedAt.UTC().Format(time.RFC3339Nano), d.UpdatedAt.UTC().Format(time.RFC3339Nano), string(data),
	)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return replaced, nil
}

func (s *sqliteStore) DeleteMatching(ctx context.Context, key model.DirectiveKey) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM directives WHERE guild_ref = ? AND channel_ref = ? AND kind = ?`,
		key.GuildRef, key.ChannelRef, string(key.Kind),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) Find(ctx context.Context, key model.DirectiveKey) (model.Directive, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM directives WHERE guild_ref = ? AND channel_ref = ? AND kind = ?`,
		key.GuildRef, key.ChannelRef, string(key.Kind),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Directive{}, false, nil
	}
	if err != nil {
		return model.Directive{}, false, err
	}
	var d model.Directive
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return model.Directive{}, false, err
	}
	return d, true, nil
}

func (s *sqliteStore) FindByGuild(ctx context.Context, guildRef string) ([]model.Directive, error) {
	return s.query(ctx, `SELECT data FROM directives WHERE guild_ref = ? ORDER BY next_fire`, guildRef)
}

func (s *sqliteStore) FindDue(ctx context.Context, now time.Time) ([]model.Directive, error) {
	out, err := s.query(ctx, `SELECT data FROM directives WHERE next_fire <= ? ORDER BY next_fire`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	return filterDue(out, now), nil
}

func (s *sqliteStore) query(ctx context.Context, q string, args ...any) ([]model.Directive, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Directive, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var d model.Directive
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			s.log.Warn("skipping undecodable directive row", logx.Err(err))
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GuildZone(ctx context.Context, guildRef string) (string, error) {
	var zone sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT time_zone FROM guild_settings WHERE guild_ref = ?`, guildRef).Scan(&zone)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return zone.String, nil
}

func (s *sqliteStore) SetGuildZone(ctx context.Context, guildRef, zone string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_settings(guild_ref, time_zone) VALUES(?,?)
		 ON CONFLICT(guild_ref) DO UPDATE SET time_zone=excluded.time_zone`,
		guildRef, nullStr(zone),
	)
	return err
}

func (s *sqliteStore) GuildPrefix(ctx context.Context, guildRef string) (string, error) {
	var prefix sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT prefix FROM guild_settings WHERE guild_ref = ?`, guildRef).Scan(&prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return prefix.String, nil
}

func (s *sqliteStore) SetGuildPrefix(ctx context.Context, guildRef, prefix string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_settings(guild_ref, prefix) VALUES(?,?)
		 ON CONFLICT(guild_ref) DO UPDATE SET prefix=excluded.prefix`,
		guildRef, nullStr(prefix),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
