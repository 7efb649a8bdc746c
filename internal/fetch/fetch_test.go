package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logx "readingsbot/pkg/logx"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestFetchBytesSendsUserAgent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "tester/1" {
			t.Errorf("User-Agent = %q", got)
		}
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := New(Config{UserAgent: "tester/1"}, logx.Nop())
	b, err := c.FetchBytes(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchBytes: %v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("body = %q", b)
	}
}

func TestFetchBytesStatusErrorIsDistinguishable(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(Config{Retries: 3}, logx.Nop())
	c.sleep = noSleep
	_, err := c.FetchBytes(context.Background(), srv.URL)
	code, ok := IsStatus(err)
	if !ok || code != http.StatusNotFound {
		t.Fatalf("err = %v, want status 404", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("404 must not be retried, hits = %d", hits.Load())
	}
}

func TestFetchBytesRetriesServerErrors(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(Config{Retries: 2}, logx.Nop())
	c.sleep = noSleep
	b, err := c.FetchBytes(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchBytes: %v", err)
	}
	if string(b) != "ok" || hits.Load() != 3 {
		t.Fatalf("body=%q hits=%d", b, hits.Load())
	}
}

func TestFetchBytesBodyLimit(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	c := New(Config{MaxBytes: 10}, logx.Nop())
	if _, err := c.FetchBytes(context.Background(), srv.URL); err == nil {
		t.Fatal("expected size limit error")
	}
}
