package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBinanceFetchPaginates(t *testing.T) {
	start := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	ms := start.UnixMilli()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/api/v3/aggTrades" || r.URL.Query().Get("symbol") != "ETHUSDT" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("fromId") {
		case "":
			_, _ = w.Write([]byte(`[{"a":1,"p":"3000.10","q":"0.5","T":` + itoa(ms+100) + `},{"a":2,"p":"3000.20","q":"1.5","T":` + itoa(ms+200) + `}]`))
		case "3":
			_, _ = w.Write([]byte(`[{"a":3,"p":"3001","q":"1","T":` + itoa(ms+300) + `},{"a":4,"p":"3002","q":"1","T":` + itoa(ms+5000) + `}]`))
		default:
			t.Errorf("unexpected fromId %s", r.URL.Query().Get("fromId"))
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Symbol: "ethusdt", Timeout: time.Second}, zerolog.Nop())
	trades, err := b.FetchTrades(context.Background(), start, start.Add(time.Second))
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("期望 3 笔成交, 实际 %d", len(trades))
	}
	if trades[0].Time != (ms+100)*1000 || trades[0].Price != 3000.10 || trades[0].Quantity != 0.5 {
		t.Fatalf("unexpected trade %+v", trades[0])
	}
	if calls != 2 {
		t.Fatalf("expected two pages, got %d", calls)
	}
}

func TestBinanceFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Symbol: "NOPE"}, zerolog.Nop())
	start := time.Now().Add(-time.Minute)
	if _, err := b.FetchTrades(context.Background(), start, start.Add(time.Second)); err == nil {
		t.Fatal("HTTP 400 应返回错误")
	}
}

func TestBinanceMissingSymbol(t *testing.T) {
	b := NewBinance(BinanceOptions{}, zerolog.Nop())
	now := time.Now()
	if _, err := b.FetchTrades(context.Background(), now, now.Add(time.Second)); err == nil {
		t.Fatal("缺少交易对时应返回错误")
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
