// Package transport defines what the bot needs from a chat platform.
package transport

import (
	"context"
	"errors"
	"strings"
)

// ErrUnknownTarget is returned when no adapter serves a target.
var ErrUnknownTarget = errors.New("no adapter for target")

// Target is a channel inside a guild. Guild refs carry the adapter name as a
// prefix ("telegram:-100123", "slack:T0123") so one store can hold both.
type Target struct {
	Guild   string
	Channel string
}

func (t Target) String() string { return t.Guild + "/" + t.Channel }

// Platform returns the adapter name encoded in the guild ref.
func (t Target) Platform() string {
	if i := strings.IndexByte(t.Guild, ':'); i > 0 {
		return t.Guild[:i]
	}
	return ""
}

// GuildRef builds a prefixed guild ref.
func GuildRef(platform, id string) string { return platform + ":" + id }

// Update is an incoming text message.
type Update struct {
	Guild    string
	Channel  string
	UserID   string
	UserName string
	Text     string
	// Addressed marks text that is already a command without the prefix,
	// such as a slash command body.
	Addressed bool
	// Reply answers the message on the platform it came from. Adapters may leave
	// it nil, in which case the caller replies through SendText.
	Reply func(ctx context.Context, text string) error
}

func (u Update) Target() Target { return Target{Guild: u.Guild, Channel: u.Channel} }

// Post is a platform-neutral rich message.
type Post struct {
	Title      string
	URL        string
	Author     string
	AuthorIcon string
	Body       string
	ImageURL   string
	Footer     string
}

type Adapter interface {
	Name() string
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	// Connected is closed once the adapter can send.
	Connected() <-chan struct{}

	SendText(ctx context.Context, to Target, text string) error
	SendPost(ctx context.Context, to Target, p Post) error
}

// Sender is the sending half of an Adapter.
type Sender interface {
	SendText(ctx context.Context, to Target, text string) error
	SendPost(ctx context.Context, to Target, p Post) error
}
