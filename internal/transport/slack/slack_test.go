package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	kit "readingsbot/internal/transport"
	logx "readingsbot/pkg/logx"
)

const secret = "shh"

func signedRequest(t *testing.T, secret, text string) *http.Request {
	t.Helper()
	form := url.Values{
		"token":        {"test-token"},
		"team_id":      {"T1"},
		"team_domain":  {"parish"},
		"channel_id":   {"C42"},
		"channel_name": {"general"},
		"user_id":      {"U7"},
		"user_name":    {"reader"},
		"command":      {"/readings"},
		"text":         {text},
		"response_url": {"https://hooks.slack.com/commands/test"},
		"trigger_id":   {"trigger"},
	}
	body := form.Encode()
	req := httptest.NewRequest(http.MethodPost, DefaultCommandPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func newAdapter(t *testing.T, apiURL string) *Adapter {
	t.Helper()
	a, err := New(Config{Token: "xoxb-test", SigningSecret: secret, APIURL: apiURL}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestHandlerTurnsSlashCommandIntoUpdate(t *testing.T) {
	t.Parallel()
	a := newAdapter(t, "")
	out := make(chan kit.Update, 1)
	a.out.Store((chan<- kit.Update)(out))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, signedRequest(t, secret, " lives schedule 9:00 "))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	up := <-out
	if up.Guild != "slack:T1" || up.Channel != "C42" || up.UserID != "U7" {
		t.Fatalf("update = %+v", up)
	}
	if up.Text != "lives schedule 9:00" || !up.Addressed {
		t.Fatalf("text = %q addressed=%v", up.Text, up.Addressed)
	}
}

func TestHandlerRejectsBadSignature(t *testing.T) {
	t.Parallel()
	a := newAdapter(t, "")
	out := make(chan kit.Update, 1)
	a.out.Store((chan<- kit.Update)(out))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, signedRequest(t, "wrong", "help"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(out) != 0 {
		t.Fatal("unsigned command must not reach the router")
	}
}

func TestStartAuthenticatesAndPostsBlocks(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		post string
	)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/auth.test"):
			_, _ = io.WriteString(w, `{"ok":true,"team":"Parish","user":"bot","team_id":"T1","user_id":"UBOT"}`)
		case strings.HasSuffix(r.URL.Path, "/chat.postMessage"):
			b, _ := io.ReadAll(r.Body)
			mu.Lock()
			post = string(b)
			mu.Unlock()
			_, _ = io.WriteString(w, `{"ok":true,"channel":"C42","ts":"1700000000.000100"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer api.Close()

	a := newAdapter(t, api.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	to := kit.Target{Guild: "slack:T1", Channel: "C42"}
	if err := a.SendText(ctx, to, "early"); err != ErrNotConnected {
		t.Fatalf("send before connect: %v", err)
	}

	if err := a.Start(ctx, make(chan kit.Update, 1)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background())

	select {
	case <-a.Connected():
	case <-time.After(5 * time.Second):
		t.Fatal("adapter never connected")
	}
	if a.TeamID() != "T1" {
		t.Fatalf("TeamID = %q", a.TeamID())
	}

	err := a.SendPost(ctx, to, kit.Post{Title: "St. Nicholas", URL: "https://oca.example.org/nicholas", Body: "Wonderworker", ImageURL: "https://img.example.org/n.jpg"})
	if err != nil {
		t.Fatalf("SendPost: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(post, "C42") || !strings.Contains(post, "img.example.org") {
		t.Fatalf("postMessage body = %s", post)
	}
}

func TestPostBlocksLayout(t *testing.T) {
	t.Parallel()
	blocks := PostBlocks(kit.Post{
		Title:      "A <b> post",
		URL:        "https://blog.example.org/p",
		Author:     "Fr. John",
		AuthorIcon: "https://img.example.org/john.png",
		Body:       "text",
		ImageURL:   "https://img.example.org/p.jpg",
		Footer:     "Mar 2",
	})
	want := []slack.MessageBlockType{slack.MBTSection, slack.MBTSection, slack.MBTImage, slack.MBTContext}
	if len(blocks) != len(want) {
		t.Fatalf("len = %d", len(blocks))
	}
	for i, b := range blocks {
		if b.BlockType() != want[i] {
			t.Fatalf("block %d = %s, want %s", i, b.BlockType(), want[i])
		}
	}
	head := blocks[0].(*slack.SectionBlock)
	if head.Text.Text != "*<https://blog.example.org/p|A &lt;b&gt; post>*\n_Fr. John_" {
		t.Fatalf("title = %q", head.Text.Text)
	}
	if head.Accessory == nil || head.Accessory.ImageElement == nil {
		t.Fatal("author icon accessory missing")
	}

	bare := PostBlocks(kit.Post{Title: "Only"})
	if len(bare) != 1 {
		t.Fatalf("bare post blocks = %d", len(bare))
	}
}
