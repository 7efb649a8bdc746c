package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeAdapter struct {
	name      string
	connected chan struct{}

	mu    sync.Mutex
	texts []string
}

func newFake(name string) *fakeAdapter {
	return &fakeAdapter{name: name, connected: make(chan struct{})}
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Start(context.Context, chan<- Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error { return nil }
func (f *fakeAdapter) Connected() <-chan struct{} { return f.connected }
func (f *fakeAdapter) SendPost(context.Context, Target, Post) error { return nil }
func (f *fakeAdapter) SendText(_ context.Context, to Target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, to.Channel+":"+text)
	return nil
}

func TestMultiRoutesByPlatform(t *testing.T) {
	t.Parallel()
	tg, sl := newFake("telegram"), newFake("slack")
	m := NewMulti(tg, sl)
	ctx := context.Background()

	if err := m.SendText(ctx, Target{Guild: GuildRef("slack", "T1"), Channel: "C1"}, "hi"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(sl.texts) != 1 || len(tg.texts) != 0 {
		t.Fatalf("slack=%v telegram=%v", sl.texts, tg.texts)
	}
	err := m.SendText(ctx, Target{Guild: "discord:1", Channel: "x"}, "hi")
	if !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("err = %v", err)
	}
}

func TestMultiConnectedWaitsForAll(t *testing.T) {
	t.Parallel()
	tg, sl := newFake("telegram"), newFake("slack")
	m := NewMulti(tg, sl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx, make(chan Update, 1)); err != nil {
		t.Fatal(err)
	}

	close(tg.connected)
	time.Sleep(20 * time.Millisecond)
	if m.IsConnected() {
		t.Fatal("connected before every adapter was")
	}
	close(sl.connected)
	select {
	case <-m.Connected():
	case <-time.After(time.Second):
		t.Fatal("Connected never closed")
	}
}

func TestTargetPlatform(t *testing.T) {
	t.Parallel()
	if p := (Target{Guild: "telegram:-100"}).Platform(); p != "telegram" {
		t.Fatalf("Platform = %q", p)
	}
	if p := (Target{Guild: "plain"}).Platform(); p != "" {
		t.Fatalf("Platform = %q", p)
	}
}
