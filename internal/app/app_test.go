package app

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"readingsbot/internal/blogs"
	"readingsbot/internal/config"
)

func TestMapStorageDefaultsIntoDataDir(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{DataDir: "/var/lib/readings", Storage: config.StorageConfig{Driver: "SQLite"}}
	sc, err := mapStorage(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != "sqlite" || sc.Path != filepath.Join("/var/lib/readings", "readings.db") || sc.BusyTimeout != time.Second {
		t.Fatalf("storage=%+v", sc)
	}

	cfg.Storage = config.StorageConfig{Driver: "redis", Redis: config.RedisConfig{Addr: "localhost:6379", Prefix: "rb:"}}
	if sc, _ = mapStorage(cfg); sc.Redis.Addr != "localhost:6379" || sc.Path != "" {
		t.Fatalf("redis storage=%+v", sc)
	}
}

func TestMapCommandPrefixes(t *testing.T) {
	t.Parallel()

	cc, err := mapCommands(&config.Config{Telegram: config.TelegramConfig{Enabled: true}})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cc.Prefixes, []string{"!", "/"}) || cc.DefaultTimeout != 30*time.Second {
		t.Fatalf("commands=%+v", cc)
	}
	cc, _ = mapCommands(&config.Config{Commands: config.CommandsConfig{Prefix: []string{"?"}}})
	if !reflect.DeepEqual(cc.Prefixes, []string{"?"}) {
		t.Fatalf("prefixes=%q", cc.Prefixes)
	}
}

func TestMapRunnerAndNotifier(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{PollInterval: "30s", NewSubscriptionMode: "backlog"},
		Notifier:  config.NotifierConfig{RetryMax: 5},
	}
	rc, err := mapRunner(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if rc.PollInterval != 30*time.Second || rc.NewSubscriptions != blogs.ModeBacklog {
		t.Fatalf("runner=%+v", rc)
	}
	nc, err := mapNotifier(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if nc.PostInterval != 1500*time.Millisecond || nc.RetryMax != 5 {
		t.Fatalf("notifier=%+v", nc)
	}
}

func TestNewBuildsEveryComponent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
data_dir: ` + filepath.Join(dir, "data") + `
logging:
  level: error
slack:
  enabled: true
  token: xoxb-test
storage:
  driver: file
blogs:
  catalog:
    - name: Orthodox Way
      author: Fr. Andrew
      feed_url: https://blogs.example.org/feed
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		_ = a.store.Close()
		_ = a.logs.Close()
	})

	if a.transport.Len() != 1 || a.blogs.Catalog().Len() != 1 {
		t.Fatalf("adapters=%d blogs=%d", a.transport.Len(), a.blogs.Catalog().Len())
	}
	if err := a.health(); err == nil {
		t.Fatal("health should fail before the transport connects")
	}
	if _, err := os.Stat(filepath.Join(dir, "data")); err != nil {
		t.Fatalf("data dir not created: %v", err)
	}
}
