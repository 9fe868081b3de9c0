package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cexdex-arb/internal/market"
)

func rankedOpportunities() []market.Opportunity {
	ts := time.Date(2025, 9, 1, 0, 0, 1, 0, time.UTC)
	return []market.Opportunity{
		{Timestamp: ts, BlockNumber: 100, Direction: market.BuyOnchainSellOffchain, SpreadPct: 1.66, OptimalTradeSize: 100, NetProfit: 3000, ROIPct: 1},
		{Timestamp: ts, BlockNumber: 101, Direction: market.BuyOffchainSellOnchain, SpreadPct: 1.2, OptimalTradeSize: 50, NetProfit: 500, ROIPct: 0.8},
		{Timestamp: ts, BlockNumber: 102, Direction: market.BuyOnchainSellOffchain, SpreadPct: 0.9, OptimalTradeSize: 20, NetProfit: 150, ROIPct: 0.5},
		{Timestamp: ts, BlockNumber: 103, Direction: market.BuyOnchainSellOffchain, SpreadPct: 0.2, OptimalTradeSize: 1, NetProfit: 100, ROIPct: 0.1},
	}
}

func TestBuildSelectsTopAboveThreshold(t *testing.T) {
	note, ok := Build(rankedOpportunities(), 100, 2)
	if !ok {
		t.Fatal("应有满足阈值的机会")
	}
	if note.Matched != 3 {
		t.Fatalf("100 is not strictly above the threshold, expected 3 matches, got %d", note.Matched)
	}
	if len(note.Top) != 2 || note.Top[0].Block != 100 || note.Top[1].Block != 101 {
		t.Fatalf("unexpected top entries %+v", note.Top)
	}
	if !note.TotalProfit.Equal(decimal.NewFromInt(3650)) {
		t.Fatalf("total profit should cover every match, got %s", note.TotalProfit)
	}

	if _, ok := Build(rankedOpportunities(), 5000, 5); ok {
		t.Fatal("阈值过高时不应告警")
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note, _ := Build(rankedOpportunities(), 100, 3)
	note.RunID = "run-1"

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "Run: run-1") || !strings.Contains(text, "#1") || !strings.Contains(text, "net $3000.00") {
		t.Fatalf("text 内容不完整: %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note, _ := Build(rankedOpportunities(), 100, 1)

	if err := notifier.Notify(context.Background(), note); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{}); err == nil {
		t.Fatal("502 应报错")
	}
}

type failing struct{ calls *int }

func (f failing) Notify(context.Context, Notification) error {
	*f.calls++
	return errors.New("boom")
}

func TestMultiDeliversToAll(t *testing.T) {
	calls := 0
	m := Multi{failing{&calls}, NewLogNotifier(testLogger()), failing{&calls}}
	note, _ := Build(rankedOpportunities(), 0, 5)
	if err := m.Notify(context.Background(), note); err == nil {
		t.Fatal("errors should be joined and returned")
	}
	if calls != 2 {
		t.Fatalf("every notifier should be called, got %d", calls)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
