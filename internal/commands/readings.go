package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"readingsbot/internal/blogs"
	"readingsbot/internal/lives"
	"readingsbot/internal/model"
	"readingsbot/internal/render"
	"readingsbot/internal/schedule"
	kit "readingsbot/internal/transport"
)

// LivesDescription names the daily Lives of the Saints payload.
const LivesDescription = "Lives of the Saints"

type Schedule interface {
	ScheduleOrUpdate(ctx context.Context, d model.Directive) (bool, error)
	Delete(ctx context.Context, guild, channel string, kind model.PayloadKind) (bool, error)
	Get(ctx context.Context, guild, channel string, kind model.PayloadKind) (model.Directive, bool, error)
	ListForGuild(ctx context.Context, guild string) ([]model.Directive, error)
	GuildZone(ctx context.Context, guild string) (string, error)
	SetGuildZone(ctx context.Context, guild, zone string) error
	GuildPrefix(ctx context.Context, guild string) (string, error)
	SetGuildPrefix(ctx context.Context, guild, prefix string) error
}

type BlogSource interface {
	Get(ctx context.Context) (blogs.Snapshot, error)
}

type LivesSource interface {
	Get(ctx context.Context) (lives.Day, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, to kit.Target, posts []kit.Post) error
}

type Deps struct {
	Schedule Schedule
	Catalog  *blogs.Catalog
	Blogs    BlogSource
	Lives    LivesSource
	Notifier Deliverer
	// NewSubscriptions is the runner's mode for sources without a delivered item.
	// Outside backlog mode a new subscription starts at the moment it was made.
	NewSubscriptions blogs.Mode
	// DefaultZone is used when neither the command nor the guild names a zone.
	DefaultZone string
	Clock       func() time.Time
}

type readings struct {
	Deps
}

// ReadingCommands returns the bot's commands bound to d.
func ReadingCommands(d Deps) []Command {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	h := &readings{Deps: d}
	return []Command{
		{
			Route:       "lives schedule",
			Description: "Post the Lives of the Saints in this channel every day.",
			Usage:       "lives schedule <time> [-t <time zone>]",
			Handle:      h.livesSchedule,
		},
		{
			Route:       "lives cancel",
			Description: "Stop the daily Lives of the Saints in this channel.",
			Usage:       "lives cancel",
			Handle:      h.livesCancel,
		},
		{
			Route:       "lives now",
			Description: "Post today's Lives of the Saints now.",
			Usage:       "lives now",
			Timeout:     2 * time.Minute,
			Handle:      h.livesNow,
		},
		{
			Route:       "quote schedule",
			Description: "Post an image in this channel every day.",
			Usage:       "quote schedule <time> [-t <time zone>] <image url>",
			Handle:      h.quoteSchedule,
		},
		{
			Route:       "quote cancel",
			Description: "Stop the daily image in this channel.",
			Usage:       "quote cancel",
			Handle:      h.quoteCancel,
		},
		{
			Route:       "blogs list",
			Description: "List the blogs that can be subscribed to.",
			Usage:       "blogs list",
			Handle:      h.blogsList,
		},
		{
			Route:       "blogs subscribe",
			Description: "Post new entries of a blog in this channel.",
			Usage:       "blogs subscribe <name or alias>",
			Handle:      h.blogsSubscribe,
		},
		{
			Route:       "blogs cancel",
			Description: "Stop posting a blog in this channel.",
			Usage:       "blogs cancel <name or alias>",
			Handle:      h.blogsCancel,
		},
		{
			Route:       "blogs now",
			Description: "Post the newest cached entry of every blog subscribed in this channel.",
			Usage:       "blogs now",
			Access:      AccessAdmin,
			Timeout:     2 * time.Minute,
			Handle:      h.blogsNow,
		},
		{
			Route:       "readings show",
			Aliases:     []string{"schedules"},
			Description: "Show everything scheduled in this server.",
			Usage:       "readings show",
			Handle:      h.readingsShow,
		},
		{
			Route:       "timezone set",
			Description: "Set the default time zone for this server.",
			Usage:       "timezone set <IANA zone, e.g. America/New_York>",
			Access:      AccessAdmin,
			Handle:      h.timezoneSet,
		},
		{
			Route:       "prefix set",
			Aliases:     []string{"setprefix"},
			Description: "Set the command prefix for this server.",
			Usage:       "prefix set <prefix>",
			Access:      AccessAdmin,
			Handle:      h.prefixSet,
		},
		{
			Route:       "prefix reset",
			Description: "Go back to the default command prefix in this server.",
			Usage:       "prefix reset",
			Access:      AccessAdmin,
			Handle:      h.prefixReset,
		},
		{
			Route:       "timezone get",
			Description: "Show the default time zone for this server.",
			Usage:       "timezone get",
			Handle:      h.timezoneGet,
		},
	}
}

// zoneFor resolves the zone of a scheduling command: -t flag, then the guild
// default, then the configured default.
func (h *readings) zoneFor(ctx context.Context, req *Request) (string, *time.Location, error) {
	name := firstFlag(req.Flags, "t", "tz", "timezone")
	if name == "" {
		z, err := h.Schedule.GuildZone(ctx, req.Update.Guild)
		if err != nil {
			return "", nil, err
		}
		name = z
	}
	if name == "" {
		name = h.DefaultZone
	}
	loc, err := schedule.LoadZone(name, "UTC")
	if err != nil {
		return "", nil, &UserError{Msg: fmt.Sprintf("Time zone %q is not recognized. Use an IANA name such as America/New_York.", name)}
	}
	return loc.String(), loc, nil
}

func firstFlag(flags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(flags[k]); v != "" {
			return v
		}
	}
	return ""
}

func (h *readings) scheduleDaily(ctx context.Context, req *Request, timeArgs []string, p model.Payload) error {
	if len(timeArgs) == 0 {
		return userErrorf("Please give a time, e.g. %s", "9:00 or 9:30 pm")
	}
	hour, minute, err := ParseTimeOfDay(strings.Join(timeArgs, " "))
	if err != nil {
		return &UserError{Msg: err.Error()}
	}
	zone, loc, err := h.zoneFor(ctx, req)
	if err != nil {
		return err
	}

	at := schedule.FirstFireAt(h.Clock(), loc, hour, minute)
	replaced, err := h.Schedule.ScheduleOrUpdate(ctx, model.Directive{
		GuildRef:   req.Update.Guild,
		ChannelRef: req.Update.Channel,
		Payload:    p,
		NextFire:   at,
		TimeZone:   zone,
		LocalTime:  fmt.Sprintf("%02d:%02d:00", hour, minute),
		Period:     model.Daily,
		Recurring:  true,
	})
	if err != nil {
		return err
	}

	when := FormatTimeOfDay(hour, minute) + " " + zone
	if replaced {
		return req.Reply(ctx, fmt.Sprintf("Rescheduled %s posting in this channel to %s every day.", p.Describe(), when))
	}
	return req.Reply(ctx, fmt.Sprintf("Scheduled %s posting in this channel for %s every day.", p.Describe(), when))
}

func (h *readings) cancel(ctx context.Context, req *Request, kind model.PayloadKind, what string) error {
	ok, err := h.Schedule.Delete(ctx, req.Update.Guild, req.Update.Channel, kind)
	if err != nil {
		return err
	}
	if !ok {
		return req.Reply(ctx, fmt.Sprintf("There was no %s posting to cancel in this channel.", what))
	}
	return req.Reply(ctx, fmt.Sprintf("Canceled daily %s posting in this channel.", what))
}

func (h *readings) livesSchedule(ctx context.Context, req *Request) error {
	return h.scheduleDaily(ctx, req, req.Args, model.DailyReading{Description: LivesDescription})
}

func (h *readings) livesCancel(ctx context.Context, req *Request) error {
	return h.cancel(ctx, req, model.KindDailyReading, LivesDescription)
}

func (h *readings) livesNow(ctx context.Context, req *Request) error {
	if h.Lives == nil {
		return userErrorf("The Lives of the Saints are not available.")
	}
	day, err := h.Lives.Get(ctx)
	if err != nil {
		return err
	}
	return h.Notifier.Deliver(ctx, req.Target(), render.Lives(day))
}

func (h *readings) quoteSchedule(ctx context.Context, req *Request) error {
	args := req.Args
	if len(args) < 2 {
		return userErrorf("Usage: quote schedule <time> [-t <time zone>] <image url>")
	}
	url := args[len(args)-1]
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return userErrorf("The last argument must be the image URL.")
	}
	return h.scheduleDaily(ctx, req, args[:len(args)-1], model.ImageQuote{ImageLocation: url})
}

func (h *readings) quoteCancel(ctx context.Context, req *Request) error {
	return h.cancel(ctx, req, model.KindImageQuote, model.ImageQuote{}.Describe())
}

func (h *readings) blogsList(ctx context.Context, req *Request) error {
	list := h.Catalog.List()
	if len(list) == 0 {
		return req.Reply(ctx, "No blogs are available.")
	}
	var b strings.Builder
	b.WriteString("Available blogs:\n")
	for _, blog := range list {
		fmt.Fprintf(&b, "- %s by %s", blog.Name, blog.Author)
		if len(blog.Aliases) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(blog.Aliases, ", "))
		}
		b.WriteByte('\n')
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (h *readings) subscriptions(ctx context.Context, req *Request) (model.Directive, model.BlogSubscriptionSet, bool, error) {
	d, ok, err := h.Schedule.Get(ctx, req.Update.Guild, req.Update.Channel, model.KindBlogSubscriptions)
	if err != nil || !ok {
		return model.Directive{}, model.BlogSubscriptionSet{}, false, err
	}
	set, _ := d.Payload.(model.BlogSubscriptionSet)
	return d, set, true, nil
}

func (h *readings) blogsSubscribe(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return userErrorf("Usage: blogs subscribe <name or alias>")
	}
	blog, ok := h.Catalog.Lookup(strings.Join(req.Args, " "))
	if !ok {
		return userErrorf("Blog name or alias not found in available blogs")
	}

	d, set, exists, err := h.subscriptions(ctx, req)
	if err != nil {
		return err
	}
	if set.Index(blog.Name) >= 0 {
		return userErrorf("This blog is already subscribed to on this channel")
	}
	p := model.Pointer{Source: blog.Source()}
	if h.NewSubscriptions != blogs.ModeBacklog {
		mark := model.NewItemID("", h.Clock())
		p.Last = &mark
	}
	subs := append(append([]model.Pointer(nil), set.Subscriptions...), p)

	if !exists {
		zone, loc, err := h.zoneFor(ctx, req)
		if err != nil {
			return err
		}
		d = model.Directive{
			GuildRef:   req.Update.Guild,
			ChannelRef: req.Update.Channel,
			NextFire:   schedule.TopOfHour(h.Clock(), loc),
			TimeZone:   zone,
			Period:     model.Hourly,
			Recurring:  true,
		}
	}
	d.Payload = model.BlogSubscriptionSet{Subscriptions: subs}
	if _, err := h.Schedule.ScheduleOrUpdate(ctx, d); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Added %s to the subscriptions for this channel.", blog.Name))
}

func (h *readings) blogsCancel(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return userErrorf("Usage: blogs cancel <name or alias>")
	}
	blog, ok := h.Catalog.Lookup(strings.Join(req.Args, " "))
	if !ok {
		return userErrorf("Blog name or alias not found in available blogs")
	}
	d, set, exists, err := h.subscriptions(ctx, req)
	if err != nil {
		return err
	}
	if !exists || len(set.Subscriptions) == 0 {
		return userErrorf("There are no blog subscriptions on this channel")
	}
	i := set.Index(blog.Name)
	if i < 0 {
		return userErrorf("This blog is not subscribed to on this channel")
	}

	subs := make([]model.Pointer, 0, len(set.Subscriptions)-1)
	subs = append(subs, set.Subscriptions[:i]...)
	subs = append(subs, set.Subscriptions[i+1:]...)
	if len(subs) == 0 {
		_, err = h.Schedule.Delete(ctx, d.GuildRef, d.ChannelRef, model.KindBlogSubscriptions)
	} else {
		d.Payload = model.BlogSubscriptionSet{Subscriptions: subs}
		_, err = h.Schedule.ScheduleOrUpdate(ctx, d)
	}
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Removed %s from the subscriptions for this channel.", blog.Name))
}

func (h *readings) blogsNow(ctx context.Context, req *Request) error {
	_, set, exists, err := h.subscriptions(ctx, req)
	if err != nil {
		return err
	}
	if !exists || len(set.Subscriptions) == 0 {
		return userErrorf("There are no blog subscriptions on this channel")
	}
	snap, err := h.Blogs.Get(ctx)
	if err != nil {
		return err
	}
	var items []model.ContentItem
	for _, name := range set.Sources() {
		if list := snap.Items[name]; len(list) > 0 {
			items = append(items, list[0])
		}
	}
	if len(items) == 0 {
		return req.Reply(ctx, "Nothing has been posted on the subscribed blogs yet.")
	}
	return h.Notifier.Deliver(ctx, req.Target(), render.BlogItems(items))
}

func (h *readings) readingsShow(ctx context.Context, req *Request) error {
	list, err := h.Schedule.ListForGuild(ctx, req.Update.Guild)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return req.Reply(ctx, "Nothing is scheduled in this server.")
	}

	groups := map[string][]model.Directive{}
	for _, d := range list {
		k := d.Payload.Describe()
		groups[k] = append(groups[k], d)
	}
	names := make([]string, 0, len(groups))
	for k := range groups {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name + ":\n")
		ds := groups[name]
		sort.Slice(ds, func(i, j int) bool { return ds[i].ChannelRef < ds[j].ChannelRef })
		for _, d := range ds {
			b.WriteString("- " + describeDirective(d) + "\n")
		}
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func describeDirective(d model.Directive) string {
	where := "channel " + d.ChannelRef
	if set, ok := d.Payload.(model.BlogSubscriptionSet); ok {
		return fmt.Sprintf("%s: %s, checked hourly", where, strings.Join(set.Sources(), ", "))
	}
	local := d.NextFire
	if t, err := schedule.LocalDateTimeIn(d.NextFire, d.TimeZone); err == nil {
		local = t
	}
	if !d.Recurring {
		return fmt.Sprintf("%s: once at %s %s", where, local.Format("Jan 2 3:04 PM"), d.TimeZone)
	}
	return fmt.Sprintf("%s: %s %s every %s", where, FormatTimeOfDay(local.Hour(), local.Minute()), d.TimeZone, periodWord(d.Period))
}

func periodWord(p model.Period) string {
	switch p {
	case model.Daily:
		return "day"
	case model.Hourly:
		return "hour"
	}
	return p.String()
}

func (h *readings) timezoneSet(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return userErrorf("Usage: timezone set <IANA zone, e.g. America/New_York>")
	}
	if err := h.Schedule.SetGuildZone(ctx, req.Update.Guild, req.Args[0]); err != nil {
		if _, zerr := schedule.LoadZone(req.Args[0], ""); zerr != nil {
			return userErrorf("Time zone %q is not recognized.", req.Args[0])
		}
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Default time zone for this server set to %s.", req.Args[0]))
}

func (h *readings) timezoneGet(ctx context.Context, req *Request) error {
	z, err := h.Schedule.GuildZone(ctx, req.Update.Guild)
	if err != nil {
		return err
	}
	if z == "" {
		return req.Reply(ctx, fmt.Sprintf("No time zone set for this server; using %s.", orUTC(h.DefaultZone)))
	}
	return req.Reply(ctx, "This server uses "+z+".")
}

func orUTC(z string) string {
	if z == "" {
		return "UTC"
	}
	return z
}

const maxPrefixLen = 8

func (h *readings) prefixSet(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return userErrorf("Usage: %sprefix set <prefix>", req.Prefix)
	}
	p := req.Args[0]
	if strings.TrimSpace(p) == "" || strings.ContainsAny(p, " \t\n") || utf8.RuneCountInString(p) > maxPrefixLen {
		return userErrorf("A prefix is 1 to %d characters without spaces.", maxPrefixLen)
	}
	if err := h.Schedule.SetGuildPrefix(ctx, req.Update.Guild, p); err != nil {
		return err
	}
	return req.Reply(ctx, "Prefix successfully set to "+p)
}

func (h *readings) prefixReset(ctx context.Context, req *Request) error {
	if err := h.Schedule.SetGuildPrefix(ctx, req.Update.Guild, ""); err != nil {
		return err
	}
	return req.Reply(ctx, "Prefix reset to the default.")
}
