// Package commands parses chat messages into commands and runs them.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	rtsup "readingsbot/internal/runtime/supervisor"
	kit "readingsbot/internal/transport"
	logx "readingsbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type Command struct {
	// Route is a space-separated command path, e.g. "lives schedule".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Command string
	Args    []string

	Flags     map[string]string
	BoolFlags map[string]bool

	// Prefix is the command prefix in effect where the request came from.
	Prefix string

	Logger logx.Logger
	reply  func(ctx context.Context, text string) error
}

func (r *Request) Reply(ctx context.Context, text string) error { return r.reply(ctx, text) }

// Target is where the request came from.
func (r *Request) Target() kit.Target { return r.Update.Target() }

// UserError is shown to the user as is.
type UserError struct{ Msg string }

func (e *UserError) Error() string { return e.Msg }

func userErrorf(format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

type Replier interface {
	SendText(ctx context.Context, to kit.Target, text string) error
}

// GuildPrefixes looks up a per-guild command prefix; "" means none is set.
type GuildPrefixes interface {
	GuildPrefix(ctx context.Context, guild string) (string, error)
}

type Config struct {
	// Prefixes mark a message as a command, e.g. "!" and "/".
	Prefixes []string
	// Guilds, when set, is consulted before Prefixes.
	Guilds GuildPrefixes
	// Admins are user ids allowed to run admin commands. Empty allows everyone.
	Admins         []string
	DefaultTimeout time.Duration
	Workers        int
}

type Router struct {
	mu       sync.RWMutex
	root     *cmdNode
	alias    map[string]*cmdNode
	prefixes []string
	admins   map[string]bool
	guilds   GuildPrefixes

	timeout time.Duration
	workers int
	reply   Replier
	log     logx.Logger
}

func NewRouter(cfg Config, reply Replier, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	r := &Router{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		timeout: cfg.DefaultTimeout,
		workers: cfg.Workers,
		guilds:  cfg.Guilds,
		reply:   reply,
		log:     log.With(logx.String("comp", "commands")),
	}
	r.SetPrefixes(cfg.Prefixes)
	r.SetAdmins(cfg.Admins)
	return r
}

func (r *Router) SetPrefixes(p []string) {
	out := make([]string, 0, len(p))
	for _, s := range p {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = []string{"!"}
	}
	r.mu.Lock()
	r.prefixes = out
	r.mu.Unlock()
}

// Prefix is the primary prefix, used in help texts.
func (r *Router) Prefix() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prefixes[0]
}

// SetAdmins is safe to call during hot reload.
func (r *Router) SetAdmins(ids []string) {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			m[id] = true
		}
	}
	r.mu.Lock()
	r.admins = m
	r.mu.Unlock()
}

func (r *Router) isAdmin(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.admins) == 0 || r.admins[user]
}

// Register replaces the command set. help is always added.
func (r *Router) Register(cmds ...Command) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h", "man"},
		Description: "List commands, or describe one.",
		Usage:       "help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.Prefix, req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	r.mu.Lock()
	r.root = root
	r.alias = alias
	r.mu.Unlock()
}

// Run handles updates from in until ctx ends.
func (r *Router) Run(ctx context.Context, in <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log))
	for i := 0; i < r.workers; i++ {
		sup.GoRestart0(fmt.Sprintf("commands.worker.%d", i), func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case up, ok := <-in:
					if !ok {
						return
					}
					r.Handle(c, up)
				}
			}
		})
	}
	<-ctx.Done()
	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Stop(wctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Handle runs the command in up, if any. It reports whether up was a command.
func (r *Router) Handle(ctx context.Context, up kit.Update) bool {
	text, prefix, ok := r.stripPrefix(ctx, up)
	if !ok {
		return false
	}
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return false
	}
	// Telegram appends the bot name in groups: /lives@ReadingsBot
	if i := strings.IndexByte(tokens[0], '@'); i > 0 {
		tokens[0] = tokens[0][:i]
	}

	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()

	node, n := root.match(tokens)
	if n == 0 {
		if a, ok := alias[strings.ToLower(tokens[0])]; ok {
			node, n = a, 1
		}
	}

	reply := up.Reply
	if reply == nil {
		reply = func(ctx context.Context, text string) error {
			if r.reply == nil {
				return errors.New("no replier")
			}
			return r.reply.SendText(ctx, up.Target(), text)
		}
	}
	say := func(text string) {
		if err := reply(ctx, text); err != nil {
			r.log.Warn("reply failed", logx.String("target", up.Target().String()), logx.Err(err))
		}
	}

	switch {
	case n == 0:
		say(fmt.Sprintf("Unknown command %q. Try %shelp", tokens[0], prefix))
		return true
	case node.cmd == nil:
		say(r.groupHelp(prefix, node, strings.Join(tokens[:n], " ")))
		return true
	}

	c := node.cmd
	if c.Access == AccessAdmin && !r.isAdmin(up.UserID) {
		say("You are not allowed to run that command.")
		return true
	}

	pos, flags, bools := parseFlags(tokens[n:])
	req := &Request{
		Update:    up,
		Command:   c.Route,
		Args:      pos,
		Flags:     flags,
		BoolFlags: bools,
		Prefix:    prefix,
		Logger:    r.log.With(logx.String("cmd", c.Route)),
		reply:     reply,
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	h := Chain(c.Handle, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout))
	if err := h(ctx, req); err != nil {
		var ue *UserError
		if errors.As(err, &ue) {
			say(ue.Msg)
		} else {
			say("Sorry, that did not work. Please try again later.")
		}
	}
	return true
}

// guildPrefix returns the prefix stored for guild, "" when there is none or
// the lookup fails.
func (r *Router) guildPrefix(ctx context.Context, guild string) string {
	if r.guilds == nil || guild == "" {
		return ""
	}
	p, err := r.guilds.GuildPrefix(ctx, guild)
	if err != nil {
		r.log.Debug("guild prefix lookup failed", logx.String("guild", guild), logx.Err(err))
		return ""
	}
	return strings.TrimSpace(p)
}

// stripPrefix returns the command text of up and the prefix to show in
// replies. The guild's own prefix is tried before the configured ones.
func (r *Router) stripPrefix(ctx context.Context, up kit.Update) (string, string, bool) {
	text := strings.TrimSpace(up.Text)
	gp := r.guildPrefix(ctx, up.Guild)

	r.mu.RLock()
	prefixes := r.prefixes
	r.mu.RUnlock()
	shown := prefixes[0]
	if gp != "" {
		shown = gp
		prefixes = append([]string{gp}, prefixes...)
	}

	if up.Addressed {
		if text == "" {
			text = "help"
		}
		return text, shown, true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(text, p) {
			return strings.TrimSpace(strings.TrimPrefix(text, p)), shown, true
		}
	}
	return "", "", false
}
