// Package slack connects the bot to a Slack workspace: slash commands come in
// over HTTP, posts go out through the Web API as Block Kit messages.
package slack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slack-go/slack"

	rtsup "readingsbot/internal/runtime/supervisor"
	kit "readingsbot/internal/transport"
	logx "readingsbot/pkg/logx"
)

const (
	Name = "slack"

	DefaultCommandPath = "/slack/commands"

	// section text limit of the Block Kit API
	sectionLimit = 3000
)

var ErrNotConnected = errors.New("slack: not connected")

type Config struct {
	Token         string
	SigningSecret string
	// ListenAddr serves the slash command endpoint; empty disables it.
	ListenAddr  string
	CommandPath string
	// APIURL overrides the Web API base URL (tests).
	APIURL string
}

type Adapter struct {
	cfg    Config
	log    logx.Logger
	client *slack.Client

	out    atomic.Value // chan<- kit.Update
	teamID atomic.Value // string

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	srv     *http.Server

	connOnce  sync.Once
	connected chan struct{}
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("slack token is empty")
	}
	if strings.TrimSpace(cfg.CommandPath) == "" {
		cfg.CommandPath = DefaultCommandPath
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var opts []slack.Option
	if cfg.APIURL != "" {
		u := cfg.APIURL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		opts = append(opts, slack.OptionAPIURL(u))
	}
	a := &Adapter{
		cfg:       cfg,
		log:       log.With(logx.String("comp", "slack")),
		client:    slack.New(cfg.Token, opts...),
		connected: make(chan struct{}),
	}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.teamID.Store("")
	return a, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Connected() <-chan struct{} { return a.connected }

// TeamID is known after the first successful auth.test.
func (a *Adapter) TeamID() string { return a.teamID.Load().(string) }

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}

	var ln net.Listener
	if addr := strings.TrimSpace(a.cfg.ListenAddr); addr != "" {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("slack listen %s: %w", addr, err)
		}
		ln = l
	}

	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup

	sup.GoRestart("slack.auth", func(c context.Context) error {
		actx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		res, err := a.client.AuthTestContext(actx)
		if err != nil {
			return fmt.Errorf("slack auth.test: %w", err)
		}
		a.teamID.Store(res.TeamID)
		a.log.Info("connected", logx.String("team", res.Team), logx.String("team_id", res.TeamID), logx.String("bot_user", res.UserID))
		a.connOnce.Do(func() { close(a.connected) })
		return nil
	}, rtsup.WithRestartBackoff(time.Second, time.Minute))

	if ln != nil {
		mux := http.NewServeMux()
		mux.Handle(a.cfg.CommandPath, a.Handler())
		a.srv = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
		}
		srv := a.srv
		sup.Go("slack.http", func(c context.Context) error {
			a.log.Info("slash command endpoint listening", logx.String("addr", ln.Addr().String()), logx.String("path", a.cfg.CommandPath))
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup, srv := a.sup, a.srv
	a.sup, a.srv = nil, nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	var errs []error
	if srv != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handler serves slash commands. Requests must carry a valid Slack signature.
// The command is acknowledged at once; answers are posted to the channel.
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body))

		verifier, err := slack.NewSecretsVerifier(r.Header, a.cfg.SigningSecret)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if _, err := verifier.Write(body); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if err := verifier.Ensure(); err != nil {
			a.log.Debug("slash command rejected", logx.Err(err))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		s, err := slack.SlashCommandParse(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		out, _ := a.out.Load().(chan<- kit.Update)
		if out == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		up := kit.Update{
			Guild:     kit.GuildRef(Name, s.TeamID),
			Channel:   s.ChannelID,
			UserID:    s.UserID,
			UserName:  s.UserName,
			Text:      strings.TrimSpace(s.Text),
			Addressed: true,
		}
		select {
		case out <- up:
			w.WriteHeader(http.StatusOK)
		default:
			a.log.Warn("slash command dropped (channel full)", logx.String("channel", s.ChannelID))
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
}

func (a *Adapter) ready() error {
	select {
	case <-a.connected:
		return nil
	default:
		return ErrNotConnected
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.Target, text string) error {
	if err := a.ready(); err != nil {
		return err
	}
	_, _, err := a.client.PostMessageContext(ctx, to.Channel, slack.MsgOptionText(text, false))
	return err
}

func (a *Adapter) SendPost(ctx context.Context, to kit.Target, p kit.Post) error {
	if err := a.ready(); err != nil {
		return err
	}
	_, _, err := a.client.PostMessageContext(ctx, to.Channel,
		slack.MsgOptionBlocks(PostBlocks(p)...),
		slack.MsgOptionText(fallbackText(p), false),
	)
	return err
}

// PostBlocks lays a post out as a title section, the body, the image and a
// context line.
func PostBlocks(p kit.Post) []slack.Block {
	blocks := make([]slack.Block, 0, 4)

	title := "*" + escape(p.Title) + "*"
	if p.URL != "" {
		title = "*<" + p.URL + "|" + escape(p.Title) + ">*"
	}
	if p.Author != "" {
		title += "\n_" + escape(p.Author) + "_"
	}
	var accessory *slack.Accessory
	if p.AuthorIcon != "" {
		accessory = slack.NewAccessory(slack.NewImageBlockElement(p.AuthorIcon, p.Author))
	}
	blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, title, false, false), nil, accessory))

	if body := strings.TrimSpace(p.Body); body != "" {
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, truncate(escape(body), sectionLimit), false, false), nil, nil))
	}
	if p.ImageURL != "" {
		blocks = append(blocks, slack.NewImageBlock(p.ImageURL, p.Title, "", nil))
	}
	if p.Footer != "" {
		blocks = append(blocks, slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, escape(p.Footer), false, false)))
	}
	return blocks
}

func fallbackText(p kit.Post) string {
	if p.URL == "" {
		return p.Title
	}
	return p.Title + " " + p.URL
}

var mrkdwnEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string { return mrkdwnEscaper.Replace(s) }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
