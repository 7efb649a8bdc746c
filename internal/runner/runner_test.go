package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"readingsbot/internal/blogs"
	"readingsbot/internal/lives"
	"readingsbot/internal/model"
	"readingsbot/internal/schedule"
	"readingsbot/internal/storage"
	kit "readingsbot/internal/transport"
	logx "readingsbot/pkg/logx"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeLives struct {
	day lives.Day
	err error
}

func (f fakeLives) Get(context.Context) (lives.Day, error) { return f.day, f.err }

type fakeBlogs struct{ snap blogs.Snapshot }

func (f fakeBlogs) Get(context.Context) (blogs.Snapshot, error) { return f.snap, nil }

type recorder struct {
	mu    sync.Mutex
	sent  map[string][]string
	fail  map[string]bool
	panic map[string]bool
}

func newRecorder() *recorder {
	return &recorder{sent: map[string][]string{}, fail: map[string]bool{}, panic: map[string]bool{}}
}

func (r *recorder) Deliver(_ context.Context, to kit.Target, posts []kit.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panic[to.Channel] {
		panic("adapter exploded")
	}
	if r.fail[to.Channel] {
		return errors.New("channel gone")
	}
	for _, p := range posts {
		r.sent[to.Channel] = append(r.sent[to.Channel], p.Title)
	}
	return nil
}

type countingMetrics struct {
	mu       sync.Mutex
	ticks    int
	failures int
}

func (m *countingMetrics) ObserveTick(int) {
	m.mu.Lock()
	m.ticks++
	m.mu.Unlock()
}

func (m *countingMetrics) ObserveDispatch(_ model.PayloadKind, err error) {
	m.mu.Lock()
	if err != nil {
		m.failures++
	}
	m.mu.Unlock()
}

func setup(t *testing.T, now time.Time) (*schedule.Service, func() time.Time) {
	t.Helper()
	clock := func() time.Time { return now }
	return schedule.New(storage.NewMemory(), schedule.WithClock(clock)), clock
}

func lifeDirective(channel string) model.Directive {
	return model.Directive{
		GuildRef:   "telegram:1",
		ChannelRef: channel,
		Payload:    model.DailyReading{Description: "Lives of the Saints"},
		NextFire:   base,
		TimeZone:   "UTC",
		Period:     model.Daily,
		Recurring:  true,
	}
}

func item(source, title string, at time.Time) model.ContentItem {
	return model.ContentItem{Source: model.SourceID{Name: source}, ID: model.NewItemID(title, at)}
}

func TestTickDeliversAndAdvances(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched, clock := setup(t, base.Add(30*time.Second))
	if _, err := sched.ScheduleOrUpdate(ctx, lifeDirective("c1")); err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	r := New(Config{}, Deps{
		Schedule: sched,
		Lives:    fakeLives{day: lives.Day{Commemorations: []lives.Commemoration{{Title: "St. A"}, {Title: "St. B"}}}},
		Notifier: rec,
		Clock:    clock,
		Log:      logx.Nop(),
	})

	if n := r.Tick(ctx); n != 1 {
		t.Fatalf("Tick dispatched %d", n)
	}
	if got := rec.sent["c1"]; len(got) != 2 || got[0] != "St. A" {
		t.Fatalf("sent = %v", got)
	}
	d, ok, err := sched.Get(ctx, "telegram:1", "c1", model.KindDailyReading)
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	if !d.NextFire.Equal(base.Add(24 * time.Hour)) {
		t.Fatalf("NextFire = %v", d.NextFire)
	}
	if n := r.Tick(ctx); n != 0 {
		t.Fatalf("second tick dispatched %d", n)
	}
}

func TestFailuresAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched, clock := setup(t, base)
	for _, ch := range []string{"ok", "fails", "panics"} {
		if _, err := sched.ScheduleOrUpdate(ctx, lifeDirective(ch)); err != nil {
			t.Fatal(err)
		}
	}
	rec := newRecorder()
	rec.fail["fails"] = true
	rec.panic["panics"] = true
	m := &countingMetrics{}
	r := New(Config{MaxConcurrent: 2}, Deps{
		Schedule: sched,
		Lives:    fakeLives{day: lives.Day{Commemorations: []lives.Commemoration{{Title: "St. A"}}}},
		Notifier: rec,
		Clock:    clock,
		Metrics:  m,
	})
	if n := r.Tick(ctx); n != 3 {
		t.Fatalf("Tick dispatched %d", n)
	}
	if len(rec.sent["ok"]) != 1 {
		t.Fatalf("healthy channel got %v", rec.sent["ok"])
	}
	if m.ticks != 1 || m.failures != 2 {
		t.Fatalf("metrics ticks=%d failures=%d", m.ticks, m.failures)
	}
	for _, ch := range []string{"fails", "panics"} {
		d, _, _ := sched.Get(ctx, "telegram:1", ch, model.KindDailyReading)
		if !d.NextFire.Equal(base) {
			t.Fatalf("%s advanced to %v after failure", ch, d.NextFire)
		}
	}
	ok, _, _ := sched.Get(ctx, "telegram:1", "ok", model.KindDailyReading)
	if !ok.NextFire.After(base) {
		t.Fatal("healthy directive not advanced")
	}
}

func TestFetchErrorLeavesDirective(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched, clock := setup(t, base)
	if _, err := sched.ScheduleOrUpdate(ctx, lifeDirective("c1")); err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	r := New(Config{}, Deps{Schedule: sched, Lives: fakeLives{err: errors.New("oca down")}, Notifier: rec, Clock: clock})
	r.Tick(ctx)
	d, _, _ := sched.Get(ctx, "telegram:1", "c1", model.KindDailyReading)
	if !d.NextFire.Equal(base) || len(rec.sent) != 0 {
		t.Fatalf("NextFire=%v sent=%v", d.NextFire, rec.sent)
	}
}

func TestBlogDispatchAdvancesPointers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched, clock := setup(t, base)
	old := model.NewItemID("old", base.Add(-3*time.Hour))
	d := model.Directive{
		GuildRef:   "telegram:1",
		ChannelRef: "c1",
		Payload: model.BlogSubscriptionSet{Subscriptions: []model.Pointer{
			{Source: model.SourceID{Name: "B"}, Last: &old},
			{Source: model.SourceID{Name: "A"}},
		}},
		NextFire:  base,
		TimeZone:  "UTC",
		Period:    model.Hourly,
		Recurring: true,
	}
	if _, err := sched.ScheduleOrUpdate(ctx, d); err != nil {
		t.Fatal(err)
	}
	snap := blogs.Snapshot{LastUpdated: base, Items: map[string][]model.ContentItem{
		"B": {item("B", "new2", base.Add(-time.Hour)), item("B", "new1", base.Add(-2*time.Hour)), item("B", "old", base.Add(-3*time.Hour))},
		"A": {item("A", "a1", base.Add(-time.Hour))},
	}}
	rec := newRecorder()
	r := New(Config{NewSubscriptions: blogs.ModeSilent}, Deps{Schedule: sched, Blogs: fakeBlogs{snap: snap}, Notifier: rec, Clock: clock})
	r.Tick(ctx)

	if got := rec.sent["c1"]; len(got) != 2 || got[0] != "new1" || got[1] != "new2" {
		t.Fatalf("sent = %v", got)
	}
	stored, _, _ := sched.Get(ctx, "telegram:1", "c1", model.KindBlogSubscriptions)
	set := stored.Payload.(model.BlogSubscriptionSet)
	if set.Subscriptions[0].Last == nil || set.Subscriptions[0].Last.Title != "new2" {
		t.Fatalf("B pointer = %+v", set.Subscriptions[0].Last)
	}
	// silent seeding for the new source
	if set.Subscriptions[1].Last == nil || set.Subscriptions[1].Last.Title != "a1" {
		t.Fatalf("A pointer = %+v", set.Subscriptions[1].Last)
	}
	if !stored.NextFire.Equal(base.Add(time.Hour)) {
		t.Fatalf("NextFire = %v", stored.NextFire)
	}
}

func TestOneShotQuoteIsRemoved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sched, clock := setup(t, base)
	q := model.Directive{
		GuildRef:   "telegram:1",
		ChannelRef: "c1",
		Payload:    model.ImageQuote{ImageLocation: "https://img.example.org/q.png"},
		NextFire:   base,
		TimeZone:   "UTC",
	}
	if _, err := sched.ScheduleOrUpdate(ctx, q); err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	r := New(Config{}, Deps{Schedule: sched, Notifier: rec, Clock: clock})
	r.Tick(ctx)
	if len(rec.sent["c1"]) != 1 {
		t.Fatalf("sent = %v", rec.sent)
	}
	if _, ok, _ := sched.Get(ctx, "telegram:1", "c1", model.KindImageQuote); ok {
		t.Fatal("one-shot directive still stored")
	}
}

func TestStartWaitsForConnection(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched, clock := setup(t, base)
	if _, err := sched.ScheduleOrUpdate(ctx, lifeDirective("c1")); err != nil {
		t.Fatal(err)
	}
	connected := make(chan struct{})
	m := &countingMetrics{}
	r := New(Config{PollInterval: time.Hour}, Deps{
		Schedule:  sched,
		Lives:     fakeLives{day: lives.Day{Commemorations: []lives.Commemoration{{Title: "St. A"}}}},
		Notifier:  newRecorder(),
		Clock:     clock,
		Connected: connected,
		Metrics:   m,
	})
	r.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	m.mu.Lock()
	before := m.ticks
	m.mu.Unlock()
	if before != 0 {
		t.Fatal("ticked before the transport connected")
	}

	close(connected)
	deadline := time.Now().Add(5 * time.Second)
	for {
		m.mu.Lock()
		n := m.ticks
		m.mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no tick after connecting")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
