package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Environment != "test" || cfg.App.Name != "cexdexarb" {
		t.Fatalf("unexpected app config %+v", cfg.App)
	}
	if cfg.Align.Tolerance != 5*time.Minute || cfg.Aggregator.Interval != time.Second {
		t.Fatalf("unexpected durations: tolerance=%s interval=%s", cfg.Align.Tolerance, cfg.Aggregator.Interval)
	}
	if len(cfg.Optimizer.TradeSizes) != 9 || cfg.Optimizer.TradeSizes[8] != 100 {
		t.Fatalf("unexpected trade sizes %v", cfg.Optimizer.TradeSizes)
	}
	if cfg.Optimizer.CEXTakerFee != 0.001 || cfg.Optimizer.DEXFeeTier != 0.0005 {
		t.Fatalf("unexpected fee rates %+v", cfg.Optimizer)
	}
	if cfg.Database.Driver != "none" || cfg.Cache.Backend != "file" || cfg.Cache.Lock != "file" {
		t.Fatalf("unexpected storage defaults: %+v %+v", cfg.Database, cfg.Cache)
	}
	if cfg.Ethereum.HeaderWorkers != 8 || cfg.Binance.Symbol != "ETHUSDT" {
		t.Fatalf("unexpected source defaults")
	}
}

func TestLoadFileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
optimizer:
  trade_sizes: [1, 2, 4]
  min_profit: 25
database:
  driver: sqlite
  path: /tmp/x.db
align:
  tolerance: 90s
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Optimizer.TradeSizes) != 3 || cfg.Optimizer.MinProfit != 25 {
		t.Fatalf("file overrides not applied: %+v", cfg.Optimizer)
	}
	if cfg.Align.Tolerance != 90*time.Second {
		t.Fatalf("tolerance should be 90s, got %s", cfg.Align.Tolerance)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "/tmp/x.db" {
		t.Fatalf("unexpected database %+v", cfg.Database)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CEXDEXARB_OPTIMIZER_MIN_PROFIT", "42.5")
	t.Setenv("CEXDEXARB_SERVER_ADDR", ":9999")
	cfg, err := Load(writeConfig(t, "optimizer:\n  min_profit: 10\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Optimizer.MinProfit != 42.5 {
		t.Fatalf("环境变量应覆盖配置文件, got %f", cfg.Optimizer.MinProfit)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"decoder.mode":        "decoder:\n  mode: magic\n",
		"strictly ascending":  "optimizer:\n  trade_sizes: [5, 1]\n",
		"cache.backend":       "cache:\n  backend: gcs\n",
		"s3.bucket":           "cache:\n  backend: s3\n",
		"database.dsn":        "database:\n  driver: postgres\n",
		"database.driver":     "database:\n  driver: mysql\n",
		"cache.lock postgres": "cache:\n  lock: postgres\n",
		"redis.addr":          "cache:\n  lock: redis\n",
		"bot_token":           "alerting:\n  telegram:\n    enabled: true\n",
	}
	for want, body := range cases {
		_, err := Load(writeConfig(t, body))
		if err == nil {
			t.Fatalf("%s: expected validation error", want)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: unexpected error %v", want, err)
		}
	}
}

func TestResolveOverrides(t *testing.T) {
	cfg := &Config{}
	cfg.Export.MaxDataPoints = 500
	cfg.Optimizer.MinProfit = 10
	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Fatalf("expected config default, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(20); got != 20 {
		t.Fatalf("expected override, got %d", got)
	}
	if got := cfg.ResolveMinProfit(nil); got != 10 {
		t.Fatalf("expected config min profit, got %f", got)
	}
	zero := 0.0
	if got := cfg.ResolveMinProfit(&zero); got != 0 {
		t.Fatalf("explicit zero must win, got %f", got)
	}
}
