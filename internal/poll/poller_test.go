package poll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skypro1111/lfasr-relay/internal/cache"
	"github.com/skypro1111/lfasr-relay/internal/parse"
	"github.com/skypro1111/lfasr-relay/internal/signature"
	"github.com/skypro1111/lfasr-relay/internal/transport"
)

var testCreds = signature.Credentials{AppID: "app123", SecretKey: "secret456"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPoller(t *testing.T, baseURL, apiVersion string) *Poller {
	t.Helper()
	client, err := transport.NewClient(transport.Config{BaseURL: baseURL}, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	signer, err := signature.ForAPIVersion(apiVersion)
	if err != nil {
		t.Fatalf("ForAPIVersion failed: %v", err)
	}
	return NewPoller(client, signer, parse.NewParser(testLogger()), cache.New(0, 0), apiVersion, testLogger())
}

func serveBody(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusNotFound, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("Terminal(%s) = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestPollCompleted(t *testing.T) {
	server := serveBody(`{"code":"000000","descInfo":"success","content":{
		"orderInfo":{"status":4,"failType":0},
		"orderResult":"{\"lattice\":[{\"json_1best\":\"{\\\"st\\\":{\\\"bg\\\":\\\"100\\\",\\\"rl\\\":\\\"0\\\",\\\"rt\\\":[{\\\"ws\\\":[{\\\"cw\\\":[{\\\"w\\\":\\\"hello\\\"}]},{\\\"cw\\\":[{\\\"w\\\":\\\" world\\\"}]}]}]}}\"}]}"
	}}`)
	defer server.Close()

	p := newTestPoller(t, server.URL, "v2")
	res, err := p.Poll(context.Background(), "order-1", testCreds, true)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if res.Text != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", res.Text)
	}
	if res.FromCache {
		t.Error("first poll must not come from cache")
	}
}

func TestPollCachesTerminalOutcome(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"code":"000000","content":{"orderInfo":{"status":9,"failType":7}}}`)
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL, "v2")

	res, err := p.Poll(context.Background(), "order-2", testCreds, true)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if res.Text != "no speech detected" {
		t.Errorf("expected fail reason, got %q", res.Text)
	}

	res, err = p.Poll(context.Background(), "order-2", testCreds, true)
	if err != nil {
		t.Fatalf("second Poll failed: %v", err)
	}
	if !res.FromCache {
		t.Error("second poll should be served from cache")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 remote call, got %d", got)
	}
}

func TestPollBypassCache(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"code":"26602","descInfo":"order not found"}`)
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL, "v2")

	for i := 0; i < 2; i++ {
		res, err := p.Poll(context.Background(), "order-3", testCreds, false)
		if err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
		if res.Status != StatusNotFound {
			t.Fatalf("expected not_found, got %s", res.Status)
		}
		if res.FromCache {
			t.Error("useCache=false must not serve from cache")
		}
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 remote calls, got %d", got)
	}
}

func TestPollProcessingStates(t *testing.T) {
	for _, remote := range []int{0, 1, 2, 3} {
		server := serveBody(fmt.Sprintf(`{"code":"000000","content":{"orderInfo":{"status":%d},"taskEstimateTime":5000}}`, remote))

		p := newTestPoller(t, server.URL, "v2")
		res, err := p.Poll(context.Background(), "order-4", testCreds, true)
		server.Close()
		if err != nil {
			t.Fatalf("Poll failed for remote status %d: %v", remote, err)
		}
		if res.Status != StatusProcessing {
			t.Errorf("remote status %d: expected processing, got %s", remote, res.Status)
		}
		// Non-terminal outcomes are never cached.
		if _, ok := p.cache.Get("order-4"); ok {
			t.Errorf("remote status %d: processing outcome was cached", remote)
		}
	}
}

func TestPollNotFound(t *testing.T) {
	server := serveBody(`{"code":"26602","descInfo":"order not found"}`)
	defer server.Close()

	p := newTestPoller(t, server.URL, "v2")
	res, err := p.Poll(context.Background(), "order-5", testCreds, true)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if res.Status != StatusNotFound {
		t.Fatalf("expected not_found, got %s", res.Status)
	}
	if entry, ok := p.cache.Get("order-5"); !ok || entry.Status != "not_found" {
		t.Error("not_found outcome should be cached")
	}
}

func TestPollTransientRejectionNotCached(t *testing.T) {
	server := serveBody(`{"code":"10003","descInfo":"service busy"}`)
	defer server.Close()

	p := newTestPoller(t, server.URL, "v2")
	res, err := p.Poll(context.Background(), "order-6", testCreds, true)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if _, ok := p.cache.Get("order-6"); ok {
		t.Error("a busy-service failure must not be cached")
	}
}

func TestPollMalformedBodyIsFailed(t *testing.T) {
	server := serveBody(`<html>gateway error</html>`)
	defer server.Close()

	p := newTestPoller(t, server.URL, "v2")
	res, err := p.Poll(context.Background(), "order-7", testCreds, true)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if res.Status != StatusFailed {
		t.Errorf("expected failed for undecodable body, got %s", res.Status)
	}
}

func TestPollTransportErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	p := newTestPoller(t, server.URL, "v2")
	_, err := p.Poll(context.Background(), "order-8", testCreds, true)
	var rerr *transport.RequestError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
}

func TestPollCompletedEmptyResultIsFailed(t *testing.T) {
	server := serveBody(`{"code":"000000","content":{"orderInfo":{"status":4}}}`)
	defer server.Close()

	p := newTestPoller(t, server.URL, "v2")
	res, err := p.Poll(context.Background(), "order-9", testCreds, true)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if res.Status != StatusFailed {
		t.Errorf("completed without a result should be failed, got %s", res.Status)
	}
}

func TestPollTopLevelStatusFormat(t *testing.T) {
	server := serveBody(`{"code":0,"status":4,"data":"[{\"bg\":\"0\",\"onebest\":\"legacy text\",\"speaker\":\"1\"}]"}`)
	defer server.Close()

	p := newTestPoller(t, server.URL, "v2")
	res, err := p.Poll(context.Background(), "order-10", testCreds, true)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if res.Text != "legacy text" {
		t.Errorf("expected %q, got %q", "legacy text", res.Text)
	}
}

func TestPollLegacyProgressAndResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/getProgress", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":0,"failed":null,"data":"{\"status\":9,\"desc\":\"done\"}"}`)
	})
	mux.HandleFunc("/getResult", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":0,"failed":null,"data":"[{\"bg\":\"10\",\"onebest\":\"one\",\"speaker\":\"0\"},{\"bg\":\"20\",\"onebest\":\"two\",\"speaker\":\"0\"}]"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := newTestPoller(t, server.URL, "v1")
	res, err := p.Poll(context.Background(), "task-1", testCreds, true)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if res.Text != "one two" {
		t.Errorf("expected %q, got %q", "one two", res.Text)
	}
}

func TestPollLegacyInProgress(t *testing.T) {
	server := serveBody(`{"ok":0,"failed":null,"data":"{\"status\":3,\"desc\":\"transcribing\"}"}`)
	defer server.Close()

	p := newTestPoller(t, server.URL, "v1")
	res, err := p.Poll(context.Background(), "task-2", testCreds, true)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if res.Status != StatusProcessing {
		t.Errorf("expected processing, got %s", res.Status)
	}
}

func TestFailReason(t *testing.T) {
	if got := FailReason(7); got != "no speech detected" {
		t.Errorf("FailReason(7) = %q", got)
	}
	if got := FailReason(99); got != "unknown error" {
		t.Errorf("FailReason(99) = %q", got)
	}
}

func TestWaitReturnsOnTerminal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			fmt.Fprint(w, `{"code":"000000","content":{"orderInfo":{"status":3}}}`)
			return
		}
		fmt.Fprint(w, `{"code":"000000","content":{"orderInfo":{"status":4},"orderResult":"{\"lattice\":[{\"json_1best\":\"{\\\"st\\\":{\\\"rt\\\":[{\\\"ws\\\":[{\\\"cw\\\":[{\\\"w\\\":\\\"done\\\"}]}]}]}}\"}]}"}}`)
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL, "v2")
	res, err := p.Wait(context.Background(), "order-w1", testCreds, 10*time.Millisecond, 5*time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if res.Text != "done" {
		t.Errorf("expected %q, got %q", "done", res.Text)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 polls, got %d", got)
	}
}

func TestWaitTimesOut(t *testing.T) {
	server := serveBody(`{"code":"000000","content":{"orderInfo":{"status":3}}}`)
	defer server.Close()

	p := newTestPoller(t, server.URL, "v2")
	start := time.Now()
	_, err := p.Wait(context.Background(), "order-w2", testCreds, 10*time.Millisecond, 50*time.Millisecond)
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if terr.OrderID != "order-w2" {
		t.Errorf("timeout error names %q, want order-w2", terr.OrderID)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Wait did not honor the deadline: took %s", elapsed)
	}
}

func TestWaitSurvivesTransientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"code":"26602","descInfo":"order not found"}`)
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL, "v2")
	res, err := p.Wait(context.Background(), "order-w3", testCreds, 10*time.Millisecond, 5*time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.Status != StatusNotFound {
		t.Errorf("expected not_found after a transient error, got %s", res.Status)
	}
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	server := serveBody(`{"code":"000000","content":{"orderInfo":{"status":1}}}`)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	p := newTestPoller(t, server.URL, "v2")
	_, err := p.Wait(ctx, "order-w4", testCreds, time.Second, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
