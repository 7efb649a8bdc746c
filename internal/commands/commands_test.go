package commands

import (
	"context"
	"reflect"
	"strings"
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

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in     string
		h, m   int
		wantOK bool
	}{
		{"9:00", 9, 0, true},
		{"21:30", 21, 30, true},
		{"9:30 pm", 21, 30, true},
		{"9:30p", 21, 30, true},
		{"9 am", 9, 0, true},
		{"12am", 0, 0, true},
		{"12 PM", 12, 0, true},
		{"0", 0, 0, true},
		{"24", 0, 0, false},
		{"13 pm", 0, 0, false},
		{"9:5", 0, 0, false},
		{"9:60", 0, 0, false},
		{"noon", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tc := range cases {
		h, m, err := ParseTimeOfDay(tc.in)
		if tc.wantOK != (err == nil) {
			t.Fatalf("ParseTimeOfDay(%q) err=%v, want ok=%v", tc.in, err, tc.wantOK)
		}
		if tc.wantOK && (h != tc.h || m != tc.m) {
			t.Fatalf("ParseTimeOfDay(%q)=%d:%d, want %d:%d", tc.in, h, m, tc.h, tc.m)
		}
	}
}

func TestFormatTimeOfDay(t *testing.T) {
	t.Parallel()

	cases := map[[2]int]string{
		{0, 0}:   "12:00 AM",
		{9, 5}:   "9:05 AM",
		{12, 30}: "12:30 PM",
		{23, 59}: "11:59 PM",
	}
	for in, want := range cases {
		if got := FormatTimeOfDay(in[0], in[1]); got != want {
			t.Fatalf("FormatTimeOfDay(%d, %d)=%q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestTokenizeAndFlags(t *testing.T) {
	t.Parallel()

	toks := tokenize(`quote schedule "9 am" -t America/New_York https://x/img.png`)
	want := []string{"quote", "schedule", "9 am", "-t", "America/New_York", "https://x/img.png"}
	if !reflect.DeepEqual(toks, want) {
		t.Fatalf("tokenize=%q, want %q", toks, want)
	}

	pos, flags, bools := parseFlags(toks[2:])
	if !reflect.DeepEqual(pos, []string{"9 am", "https://x/img.png"}) {
		t.Fatalf("positionals=%q", pos)
	}
	if flags["t"] != "America/New_York" {
		t.Fatalf("flags=%v", flags)
	}
	if len(bools) != 0 {
		t.Fatalf("bools=%v", bools)
	}
}

var now = time.Date(2024, 3, 1, 9, 20, 0, 0, time.UTC)

type fakeLives struct{ day lives.Day }

func (f fakeLives) Get(context.Context) (lives.Day, error) { return f.day, nil }

type fakeBlogs struct{ snap blogs.Snapshot }

func (f fakeBlogs) Get(context.Context) (blogs.Snapshot, error) { return f.snap, nil }

type fakeNotifier struct {
	mu    sync.Mutex
	posts []kit.Post
}

func (f *fakeNotifier) Deliver(_ context.Context, _ kit.Target, posts []kit.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, posts...)
	return nil
}

type harness struct {
	t       *testing.T
	router  *Router
	sched   *schedule.Service
	notify  *fakeNotifier
	replies []string
}

func newHarness(t *testing.T, admins ...string) *harness {
	t.Helper()

	catalog, err := blogs.NewCatalog([]blogs.BlogDescription{
		{Name: "Orthodox Way", Author: "Fr. Andrew", Aliases: []string{"way"}, FeedURL: "https://blogs.example.org/feed"},
		{Name: "Glory to God", Author: "Fr. Stephen", Aliases: []string{"glory"}, FeedURL: "https://blogs.example.org/feed"},
	})
	if err != nil {
		t.Fatal(err)
	}
	clock := func() time.Time { return now }
	h := &harness{
		t:      t,
		sched:  schedule.New(storage.NewMemory(), schedule.WithClock(clock)),
		notify: &fakeNotifier{},
	}
	h.router = NewRouter(Config{Prefixes: []string{"!", "/"}, Admins: admins, Guilds: h.sched}, nil, logx.Nop())
	h.router.Register(ReadingCommands(Deps{
		Schedule: h.sched,
		Catalog:  catalog,
		Blogs: fakeBlogs{snap: blogs.Snapshot{Items: map[string][]model.ContentItem{
			"Orthodox Way": {{Source: model.SourceID{Name: "Orthodox Way"}, ID: model.NewItemID("Newest", now), Link: "https://blogs.example.org/newest"}},
		}}},
		Lives: fakeLives{day: lives.Day{Commemorations: []lives.Commemoration{
			{Title: "St. David of Wales", Text: "<p>Bishop</p>"},
			{Title: "Martyr Nestor", Text: "<p>Martyr</p>"},
		}}},
		Notifier: h.notify,
		Clock:    clock,
	})...)
	return h
}

func (h *harness) send(up kit.Update) (string, bool) {
	h.t.Helper()
	if up.Guild == "" {
		up.Guild, up.Channel = "telegram:1", "10"
	}
	if up.UserID == "" {
		up.UserID = "u1"
	}
	before := len(h.replies)
	up.Reply = func(_ context.Context, text string) error {
		h.replies = append(h.replies, text)
		return nil
	}
	handled := h.router.Handle(context.Background(), up)
	if len(h.replies) == before {
		return "", handled
	}
	return h.replies[len(h.replies)-1], handled
}

func (h *harness) say(text string) string {
	h.t.Helper()
	got, _ := h.send(kit.Update{Text: text})
	return got
}

func TestLivesScheduleAndCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	got := h.say("!lives schedule 9:00 am -t America/New_York")
	if want := "Scheduled Lives of the Saints posting in this channel for 9:00 AM America/New_York every day."; got != want {
		t.Fatalf("reply=%q, want %q", got, want)
	}
	d, ok, err := h.sched.Get(context.Background(), "telegram:1", "10", model.KindDailyReading)
	if err != nil || !ok {
		t.Fatalf("directive missing: ok=%v err=%v", ok, err)
	}
	if want := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC); !d.NextFire.Equal(want) {
		t.Fatalf("NextFire=%s, want %s", d.NextFire, want)
	}
	if !d.Recurring || d.Period != model.Daily {
		t.Fatalf("directive not daily: %+v", d)
	}

	got = h.say("!lives schedule 6 pm -t America/New_York")
	if want := "Rescheduled Lives of the Saints posting in this channel to 6:00 PM America/New_York every day."; got != want {
		t.Fatalf("reply=%q, want %q", got, want)
	}

	if got = h.say("/lives@ReadingsBot cancel"); got != "Canceled daily Lives of the Saints posting in this channel." {
		t.Fatalf("cancel reply=%q", got)
	}
	if got = h.say("!lives cancel"); got != "There was no Lives of the Saints posting to cancel in this channel." {
		t.Fatalf("second cancel reply=%q", got)
	}
}

func TestScheduleRejectsBadInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if got := h.say("!lives schedule 9 -t Mars/Olympus"); !strings.HasPrefix(got, `Time zone "Mars/Olympus" is not recognized`) {
		t.Fatalf("reply=%q", got)
	}
	if got := h.say("!lives schedule soon"); !strings.Contains(got, "not recognized") {
		t.Fatalf("reply=%q", got)
	}
	if got := h.say("!quote schedule 9:00 not-a-url"); got != "The last argument must be the image URL." {
		t.Fatalf("reply=%q", got)
	}
}

func TestGuildZoneIsDefaultForSchedules(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if got := h.say("!timezone get"); got != "No time zone set for this server; using UTC." {
		t.Fatalf("reply=%q", got)
	}
	if got := h.say("!timezone set Europe/Athens"); got != "Default time zone for this server set to Europe/Athens." {
		t.Fatalf("reply=%q", got)
	}
	got := h.say("!quote schedule 7:30 https://img.example.org/q.jpg")
	if want := "Scheduled Image Quote posting in this channel for 7:30 AM Europe/Athens every day."; got != want {
		t.Fatalf("reply=%q, want %q", got, want)
	}
	d, ok, _ := h.sched.Get(context.Background(), "telegram:1", "10", model.KindImageQuote)
	if !ok {
		t.Fatal("quote directive missing")
	}
	// 09:20 UTC is 11:20 in Athens, so the first post is tomorrow 05:30 UTC.
	if want := time.Date(2024, 3, 2, 5, 30, 0, 0, time.UTC); !d.NextFire.Equal(want) {
		t.Fatalf("NextFire=%s, want %s", d.NextFire, want)
	}
	if q := d.Payload.(model.ImageQuote); q.ImageLocation != "https://img.example.org/q.jpg" {
		t.Fatalf("payload=%+v", q)
	}
}

func TestBlogSubscriptions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	if got := h.say("!blogs subscribe nowhere"); got != "Blog name or alias not found in available blogs" {
		t.Fatalf("reply=%q", got)
	}
	if got := h.say("!blogs subscribe way"); got != "Added Orthodox Way to the subscriptions for this channel." {
		t.Fatalf("reply=%q", got)
	}
	if got := h.say("!blogs subscribe Orthodox Way"); got != "This blog is already subscribed to on this channel" {
		t.Fatalf("reply=%q", got)
	}
	if got := h.say("!blogs subscribe glory"); got != "Added Glory to God to the subscriptions for this channel." {
		t.Fatalf("reply=%q", got)
	}

	d, ok, err := h.sched.Get(ctx, "telegram:1", "10", model.KindBlogSubscriptions)
	if err != nil || !ok {
		t.Fatalf("directive missing: ok=%v err=%v", ok, err)
	}
	if want := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC); !d.NextFire.Equal(want) {
		t.Fatalf("NextFire=%s, want top of hour %s", d.NextFire, want)
	}
	if d.Period != model.Hourly {
		t.Fatalf("period=%s", d.Period)
	}
	set := d.Payload.(model.BlogSubscriptionSet)
	if !reflect.DeepEqual(set.Sources(), []string{"Orthodox Way", "Glory to God"}) {
		t.Fatalf("sources=%v", set.Sources())
	}
	// new subscriptions start now, so only items published later are posted
	for _, p := range set.Subscriptions {
		if p.Last == nil || !p.Last.Instant.Equal(now) || p.Last.Title != "" {
			t.Fatalf("pointer %s not started at subscription time: %+v", p.Source.Name, p.Last)
		}
	}

	if got := h.say("!blogs cancel way"); got != "Removed Orthodox Way from the subscriptions for this channel." {
		t.Fatalf("reply=%q", got)
	}
	if got := h.say("!blogs cancel way"); got != "This blog is not subscribed to on this channel" {
		t.Fatalf("reply=%q", got)
	}
	if got := h.say("!blogs cancel glory"); got != "Removed Glory to God from the subscriptions for this channel." {
		t.Fatalf("reply=%q", got)
	}
	if _, ok, _ := h.sched.Get(ctx, "telegram:1", "10", model.KindBlogSubscriptions); ok {
		t.Fatal("empty subscription set should delete the directive")
	}
	if got := h.say("!blogs cancel glory"); got != "There are no blog subscriptions on this channel" {
		t.Fatalf("reply=%q", got)
	}
}

func TestPostNowCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say("!lives now")
	if len(h.notify.posts) != 2 || h.notify.posts[0].Title != "St. David of Wales" {
		t.Fatalf("lives posts=%+v", h.notify.posts)
	}

	if got := h.say("!blogs now"); got != "There are no blog subscriptions on this channel" {
		t.Fatalf("reply=%q", got)
	}
	h.say("!blogs subscribe way")
	h.say("!blogs now")
	if len(h.notify.posts) != 3 || h.notify.posts[2].URL != "https://blogs.example.org/newest" {
		t.Fatalf("blog posts=%+v", h.notify.posts)
	}
}

func TestReadingsShow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if got := h.say("!readings show"); got != "Nothing is scheduled in this server." {
		t.Fatalf("reply=%q", got)
	}
	h.say("!lives schedule 9:00 -t UTC")
	h.say("!blogs subscribe way")

	got := h.say("!schedules")
	for _, want := range []string{
		"Blog Posts:\n- channel 10: Orthodox Way, checked hourly",
		"Lives of the Saints:\n- channel 10: 9:00 AM UTC every day",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("reply %q does not contain %q", got, want)
		}
	}
}

func TestRouting(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "admin")

	if _, handled := h.send(kit.Update{Text: "good morning"}); handled {
		t.Fatal("plain text should not be handled")
	}
	if got := h.say("!nope"); got != `Unknown command "nope". Try !help` {
		t.Fatalf("reply=%q", got)
	}
	if got := h.say("!blogs"); !strings.Contains(got, "!blogs subscribe - ") {
		t.Fatalf("group help=%q", got)
	}
	if got := h.say("!timezone set UTC"); got != "You are not allowed to run that command." {
		t.Fatalf("reply=%q", got)
	}
	got, _ := h.send(kit.Update{Text: "timezone set UTC", UserID: "admin", Addressed: true})
	if got != "Default time zone for this server set to UTC." {
		t.Fatalf("admin reply=%q", got)
	}
	if got := h.say("!help lives schedule"); !strings.Contains(got, "Usage: !lives schedule <time>") {
		t.Fatalf("help=%q", got)
	}
	if got := h.say("!help"); !strings.Contains(got, "!readings show - ") || !strings.Contains(got, "!help - ") {
		t.Fatalf("help=%q", got)
	}
}

func TestGuildPrefix(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "admin")

	if got := h.say("!prefix set $"); got != "You are not allowed to run that command." {
		t.Fatalf("non-admin reply=%q", got)
	}
	admin := func(text string) string {
		got, _ := h.send(kit.Update{Text: text, UserID: "admin"})
		return got
	}
	if got := admin("!prefix set"); got != "Usage: !prefix set <prefix>" {
		t.Fatalf("usage reply=%q", got)
	}
	if got := admin("!prefix set waytoolong"); !strings.HasPrefix(got, "A prefix is 1 to 8 characters") {
		t.Fatalf("long prefix reply=%q", got)
	}
	if got := admin("!setprefix $"); got != "Prefix successfully set to $" {
		t.Fatalf("set reply=%q", got)
	}
	if p, _ := h.sched.GuildPrefix(context.Background(), "telegram:1"); p != "$" {
		t.Fatalf("stored prefix=%q", p)
	}

	if got := h.say("$timezone get"); got != "No time zone set for this server; using UTC." {
		t.Fatalf("guild prefix reply=%q", got)
	}
	if got := h.say("$nope"); got != `Unknown command "nope". Try $help` {
		t.Fatalf("unknown reply=%q", got)
	}
	if got := h.say("$help lives schedule"); !strings.Contains(got, "Usage: $lives schedule <time>") {
		t.Fatalf("help=%q", got)
	}
	if got := h.say("!timezone get"); got != "No time zone set for this server; using UTC." {
		t.Fatalf("configured prefix reply=%q", got)
	}

	other, handled := h.send(kit.Update{Guild: "slack:T1", Channel: "C1", Text: "$timezone get"})
	if handled || other != "" {
		t.Fatalf("other guild handled %q: %v", other, handled)
	}

	if got := admin("$prefix reset"); got != "Prefix reset to the default." {
		t.Fatalf("reset reply=%q", got)
	}
	if _, handled := h.send(kit.Update{Text: "$timezone get"}); handled {
		t.Fatal("old guild prefix still accepted after reset")
	}
}

func TestRunHandlesUpdates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan kit.Update)
	done := make(chan error, 1)
	go func() { done <- h.router.Run(ctx, in) }()

	replied := make(chan string, 1)
	in <- kit.Update{
		Guild: "slack:T1", Channel: "C1", UserID: "U1", Text: "timezone get", Addressed: true,
		Reply: func(_ context.Context, text string) error { replied <- text; return nil },
	}
	select {
	case got := <-replied:
		if got != "No time zone set for this server; using UTC." {
			t.Fatalf("reply=%q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
