// Package telegram connects the bot to Telegram through long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "readingsbot/internal/runtime/supervisor"
	kit "readingsbot/internal/transport"
	"readingsbot/pkg/tgui"
	logx "readingsbot/pkg/logx"
)

const Name = "telegram"

var ErrNotConnected = errors.New("telegram: not connected")

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot atomic.Pointer[tele.Bot]
	out atomic.Value // chan<- kit.Update

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	connOnce  sync.Once
	connected chan struct{}

	dropped atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), connected: make(chan struct{})}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Connected() <-chan struct{} { return a.connected }

// Start connects in the background; Connected closes after getMe succeeds.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup

	sup.Go0("telegram.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if n := a.dropped.Swap(0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)))
				}
			}
		}
	})

	sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if b := a.bot.Load(); b != nil {
			b.Stop()
		}
	})

	// telebot's Start returns only when stopped; an early return is restarted.
	sup.GoRestart("telegram.poll", func(c context.Context) error {
		b := a.bot.Load()
		if b == nil {
			nb, err := a.connect()
			if err != nil {
				return err
			}
			b = nb
		}
		a.log.Info("polling started", logx.String("bot", b.Me.Username))
		b.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(time.Second, time.Minute),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) connect() (*tele.Bot, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:  a.cfg.Token,
		Poller: &tele.LongPoller{Timeout: a.cfg.PollTimeout},
		OnError: func(err error, c tele.Context) {
			a.log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	b.Handle(tele.OnText, a.onText)
	a.bot.Store(b)
	a.connOnce.Do(func() { close(a.connected) })
	return b, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	up := kit.Update{
		Guild:   kit.GuildRef(Name, strconv.FormatInt(m.Chat.ID, 10)),
		Channel: channelRef(m.Chat.ID, m.ThreadID),
		Text:    m.Text,
	}
	if m.Sender != nil {
		up.UserID = strconv.FormatInt(m.Sender.ID, 10)
		up.UserName = m.Sender.Username
	}
	v, _ := a.out.Load().(chan<- kit.Update)
	if v == nil {
		return nil
	}
	select {
	case v <- up:
	default:
		a.dropped.Add(1)
	}
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	// stop_on_cancel stops the poller
	sup.Cancel()

	// the long poll may still be waiting; do not hold shutdown for it
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		a.log.Debug("telegram stopped with error", logx.Err(err))
	}
	return nil
}

// channelRef is the chat id, plus ":<thread>" for forum topics.
func channelRef(chatID int64, thread int) string {
	id := strconv.FormatInt(chatID, 10)
	if thread > 0 {
		return id + ":" + strconv.Itoa(thread)
	}
	return id
}

func parseChannel(ref string) (int64, int, error) {
	chat, thread, _ := strings.Cut(strings.TrimSpace(ref), ":")
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram: bad channel %q", ref)
	}
	if thread == "" {
		return id, 0, nil
	}
	tid, err := strconv.Atoi(thread)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram: bad thread in %q", ref)
	}
	return id, tid, nil
}

func (a *Adapter) target(to kit.Target) (*tele.Bot, *tele.Chat, int, error) {
	b := a.bot.Load()
	if b == nil {
		return nil, nil, 0, ErrNotConnected
	}
	id, thread, err := parseChannel(to.Channel)
	if err != nil {
		return nil, nil, 0, err
	}
	return b, &tele.Chat{ID: id}, thread, nil
}

// SendText sends plain text, split into several messages when long.
func (a *Adapter) SendText(ctx context.Context, to kit.Target, text string) error {
	return a.sendHTML(ctx, to, tgui.Esc(text), nil)
}

func (a *Adapter) sendHTML(ctx context.Context, to kit.Target, h tgui.H, markup *tele.ReplyMarkup) error {
	b, chat, thread, err := a.target(to)
	if err != nil {
		return err
	}
	for i, chunk := range tgui.Split(h.String(), tgui.TextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true, ThreadID: thread}
		if i == 0 && markup != nil {
			opt.ReplyMarkup = markup
		}
		if _, err := b.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

// SendPost sends the image (if any) with the post as caption, falling back to
// a separate text message when the caption would be too long.
func (a *Adapter) SendPost(ctx context.Context, to kit.Target, p kit.Post) error {
	body := RenderPost(p)
	var markup *tele.ReplyMarkup
	if p.URL != "" {
		markup = tgui.NewInline().Row(tgui.URLBtn("Read", p.URL)).Markup()
	}
	if p.ImageURL == "" {
		return a.sendHTML(ctx, to, body, markup)
	}

	b, chat, thread, err := a.target(to)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := &tele.Photo{File: tele.FromURL(p.ImageURL)}
	fits := len([]rune(body.String())) <= tgui.CaptionLimit
	if fits {
		photo.Caption = body.String()
	} else {
		photo.Caption = tgui.BoldLink(p.Title, p.URL).String()
	}
	opt := &tele.SendOptions{ParseMode: tele.ModeHTML, ThreadID: thread}
	if fits {
		opt.ReplyMarkup = markup
	}
	if _, err := b.Send(chat, photo, opt); err != nil {
		return err
	}
	if fits {
		return nil
	}
	return a.sendHTML(ctx, to, body, markup)
}

// RenderPost formats p for Telegram's HTML parse mode.
func RenderPost(p kit.Post) tgui.H {
	var author tgui.H
	if p.Author != "" {
		author = tgui.I(p.Author)
	}
	var footer tgui.H
	if p.Footer != "" {
		footer = tgui.I(p.Footer)
	}
	head := tgui.JoinH("\n", tgui.BoldLink(p.Title, p.URL), author)
	return tgui.JoinH("\n\n", head, tgui.Esc(p.Body), footer)
}
