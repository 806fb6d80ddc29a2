package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

func testNotifier(serverURL string, client *http.Client) *Notifier {
	return &Notifier{
		botToken:   "test-token",
		chatID:     "test-chat",
		httpClient: client,
		enabled:    true,
		baseURL:    serverURL,
		log:        zerolog.Nop(),
	}
}

func okServer(t *testing.T, received *string, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if received != nil {
			*received = r.URL.Query().Get("text")
		}
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]bool{"ok": true}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewNotifierDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if n.Enabled() {
		t.Fatal("expected disabled notifier with empty credentials")
	}
}

func TestNewNotifierEnabled(t *testing.T) {
	n := NewNotifier("bot123", "chat456")
	if !n.Enabled() {
		t.Fatal("expected enabled notifier with credentials")
	}
}

func TestNilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	if err := n.NotifyGameSummary(context.Background(), "x"); err != nil {
		t.Fatalf("nil notifier should succeed silently: %v", err)
	}
}

func TestSendDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.Send(context.Background(), "test"); err != nil {
		t.Fatalf("disabled send should succeed silently: %v", err)
	}
}

func TestSendSuccess(t *testing.T) {
	var receivedChatID, receivedText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedChatID = r.URL.Query().Get("chat_id")
		receivedText = r.URL.Query().Get("text")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]bool{"ok": true}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	n := testNotifier(server.URL, server.Client())
	if err := n.Send(context.Background(), "hello world"); err != nil {
		t.Fatalf("send should succeed: %v", err)
	}
	if receivedChatID != "test-chat" {
		t.Errorf("expected chat_id=test-chat, got %s", receivedChatID)
	}
	if receivedText != "hello world" {
		t.Errorf("expected text=hello world, got %s", receivedText)
	}
}

func TestSendServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(map[string]string{"description": "bad request"}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	n := testNotifier(server.URL, server.Client())
	err := n.Send(context.Background(), "test")
	if err == nil || !strings.Contains(err.Error(), "bad request") {
		t.Fatalf("expected telegram error description, got %v", err)
	}
}

func TestNotifyEliminationSuccess(t *testing.T) {
	var receivedText string
	server := okServer(t, &receivedText, nil)
	n := testNotifier(server.URL, server.Client())

	acct := model.BankrollAccount{
		ExpertID:        "gambler",
		Season:          "2025",
		StartingBalance: decimal.NewFromInt(10000),
		PeakBalance:     decimal.NewFromInt(12500),
		RiskMetrics:     model.RiskMetrics{Wins: 4, Losses: 9},
	}
	if err := n.NotifyElimination(context.Background(), acct); err != nil {
		t.Fatalf("notify elimination: %v", err)
	}
	for _, want := range []string{"Expert Eliminated", "gambler", "12500.00", "4 won, 9 lost"} {
		if !strings.Contains(receivedText, want) {
			t.Errorf("expected %q in %q", want, receivedText)
		}
	}
}

func TestNotifyInvariantViolationEscapes(t *testing.T) {
	var receivedText string
	server := okServer(t, &receivedText, nil)
	n := testNotifier(server.URL, server.Client())

	err := n.NotifyInvariantViolation(context.Background(), "e<1>", "g1", "b1", errors.New("balance -5 < 0"))
	if err != nil {
		t.Fatalf("notify invariant: %v", err)
	}
	if !strings.Contains(receivedText, "e&lt;1&gt;") || !strings.Contains(receivedText, "balance -5 &lt; 0") {
		t.Fatalf("expected escaped payload, got %q", receivedText)
	}
}

func TestNotifyDisabled(t *testing.T) {
	n := NewNotifier("", "")
	ctx := context.Background()
	if err := n.NotifyElimination(ctx, model.BankrollAccount{ExpertID: "e1"}); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
	if err := n.NotifyInvariantViolation(ctx, "e1", "g1", "b1", errors.New("x")); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
	if err := n.NotifyGameSummary(ctx, "<b>x</b>"); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
}

func TestRateLimitThrottles(t *testing.T) {
	var calls int32
	server := okServer(t, nil, &calls)
	n := testNotifier(server.URL, server.Client())
	n.limiter = rate.NewLimiter(rate.Limit(1.0/60), 1)

	if err := n.Send(context.Background(), "first"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := n.Send(ctx, "second"); err == nil {
		t.Fatal("expected second send to be throttled")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one delivered message, got %d", got)
	}
}

func TestWithRateLimitDisable(t *testing.T) {
	n := NewNotifier("a", "b", WithRateLimit(0, 0))
	if n.limiter != nil {
		t.Fatal("expected limiter disabled for non-positive rate")
	}
	n = NewNotifier("a", "b", WithRateLimit(60, 0))
	if n.limiter == nil || n.limiter.Burst() != 1 {
		t.Fatal("expected limiter with burst 1")
	}
}
