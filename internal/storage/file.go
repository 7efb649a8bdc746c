package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"readingsbot/internal/model"
	logx "readingsbot/pkg/logx"
)

// fileStore keeps every directive in memory and, when backed by a path, persists
// mutations to disk.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal, replayed on open)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	directives map[string]model.Directive
	zones      map[string]string
	prefixes   map[string]string

	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
	closed       bool
}

type fileSnapshot struct {
	Directives []model.Directive `json:"directives"`
	Zones      map[string]string `json:"zones"`
	Prefixes   map[string]string `json:"prefixes,omitempty"`
}

type journalRecord struct {
	Op        string           `json:"op"` // put | del | zone | prefix
	Directive *model.Directive `json:"directive,omitempty"`
	Key       string           `json:"key,omitempty"`
	Guild     string           `json:"guild,omitempty"`
	Zone      string           `json:"zone,omitempty"`
	Prefix    string           `json:"prefix,omitempty"`
}

// NewMemory returns a store that lives only as long as the process.
func NewMemory() Store {
	return &fileStore{
		log:        logx.Nop(),
		directives: map[string]model.Directive{},
		zones:      map[string]string{},
		prefixes:   map[string]string{},
	}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		directives:   map[string]model.Directive{},
		zones:        map[string]string{},
		prefixes:     map[string]string{},
		snapshotPath: prefix + ".snapshot.json",
		compactEvery: 200,
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	if n, err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	} else if n > 0 {
		log.Debug("journal replayed", logx.Int("records", n))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return err
	}
	var snap fileSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	for _, d := range snap.Directives {
		s.directives[keyString(d.Key())] = d
	}
	for g, z := range snap.Zones {
		s.zones[g] = z
	}
	for g, p := range snap.Prefixes {
		s.prefixes[g] = p
	}
	return nil
}

func (s *fileStore) replayJournal(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn last line after a crash; everything before it is still valid.
			s.log.Warn("journal record skipped", logx.Err(err))
			continue
		}
		s.applyLocked(r)
		n++
	}
	return n, sc.Err()
}

func (s *fileStore) applyLocked(r journalRecord) {
	switch r.Op {
	case "put":
		if r.Directive != nil {
			s.directives[keyString(r.Directive.Key())] = *r.Directive
		}
	case "del":
		delete(s.directives, r.Key)
	case "zone":
		if r.Zone == "" {
			delete(s.zones, r.Guild)
		} else {
			s.zones[r.Guild] = r.Zone
		}
	case "prefix":
		if r.Prefix == "" {
			delete(s.prefixes, r.Guild)
		} else {
			s.prefixes[r.Guild] = r.Prefix
		}
	}
}

// appendLocked writes r to the journal. Memory-only stores skip it.
func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return nil
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	if s.journal == nil {
		return nil
	}
	snap := fileSnapshot{Directives: make([]model.Directive, 0, len(s.directives)), Zones: s.zones, Prefixes: s.prefixes}
	for _, d := range s.directives {
		snap.Directives = append(snap.Directives, d)
	}
	sort.Slice(snap.Directives, func(i, j int) bool {
		return keyString(snap.Directives[i].Key()) < keyString(snap.Directives[j].Key())
	})

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) Save(ctx context.Context, d model.Directive) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := d.Key()
	if err := validKey(key); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	ks := keyString(key)
	prev, replaced := s.directives[ks]
	if replaced {
		d.ID = prev.ID
		d.CreatedAt = prev.CreatedAt
	}
	d = d.Clone()
	if err := s.appendLocked(journalRecord{Op: "put", Directive: &d}); err != nil {
		return false, err
	}
	s.directives[ks] = d
	return replaced, nil
}

func (s *fileStore) DeleteMatching(ctx context.Context, key model.DirectiveKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	ks := keyString(key)
	if _, ok := s.directives[ks]; !ok {
		return false, nil
	}
	if err := s.appendLocked(journalRecord{Op: "del", Key: ks}); err != nil {
		return false, err
	}
	delete(s.directives, ks)
	return true, nil
}

func (s *fileStore) Find(ctx context.Context, key model.DirectiveKey) (model.Directive, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Directive{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Directive{}, false, ErrClosed
	}
	d, ok := s.directives[keyString(key)]
	if !ok {
		return model.Directive{}, false, nil
	}
	return d.Clone(), true, nil
}

func (s *fileStore) FindByGuild(ctx context.Context, guildRef string) ([]model.Directive, error) {
	return s.collect(ctx, func(d model.Directive) bool { return d.GuildRef == guildRef })
}

func (s *fileStore) FindDue(ctx context.Context, now time.Time) ([]model.Directive, error) {
	return s.collect(ctx, func(d model.Directive) bool { return d.Due(now) })
}

func (s *fileStore) collect(ctx context.Context, keep func(model.Directive) bool) ([]model.Directive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.Directive, 0)
	for _, d := range s.directives {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextFire.Before(out[j].NextFire) })
	return out, nil
}

func (s *fileStore) GuildZone(ctx context.Context, guildRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.zones[guildRef], nil
}

func (s *fileStore) SetGuildZone(ctx context.Context, guildRef, zone string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r := journalRecord{Op: "zone", Guild: guildRef, Zone: zone}
	if err := s.appendLocked(r); err != nil {
		return err
	}
	s.applyLocked(r)
	return nil
}

func (s *fileStore) GuildPrefix(ctx context.Context, guildRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.prefixes[guildRef], nil
}

func (s *fileStore) SetGuildPrefix(ctx context.Context, guildRef, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r := journalRecord{Op: "prefix", Guild: guildRef, Prefix: prefix}
	if err := s.appendLocked(r); err != nil {
		return err
	}
	s.applyLocked(r)
	return nil
}
