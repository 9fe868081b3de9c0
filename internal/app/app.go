package app

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cexdex-arb/internal/aggregator"
	"cexdex-arb/internal/alerting"
	"cexdex-arb/internal/align"
	"cexdex-arb/internal/cache"
	"cexdex-arb/internal/config"
	"cexdex-arb/internal/decoder"
	"cexdex-arb/internal/engine"
	"cexdex-arb/internal/logging"
	"cexdex-arb/internal/optimizer"
	"cexdex-arb/internal/slippage"
	"cexdex-arb/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger}
}

func (a *App) newPipeline() *engine.Pipeline {
	dc := a.Config.Decoder
	return &engine.Pipeline{
		Inputs: engine.Inputs{
			OnchainLogs: a.Config.Data.OnchainLogs,
			TradesDir:   a.Config.Data.TradesDir,
			GasCSV:      a.Config.Data.GasCSV,
		},
		Decoder: decoder.New(decoder.Options{
			Mode:           decoder.Mode(dc.Mode),
			ScaleExponent:  dc.ScaleExponent,
			PlausibleMin:   dc.PlausibleMin,
			PlausibleMax:   dc.PlausibleMax,
			SanityMin:      dc.SanityMin,
			SanityMax:      dc.SanityMax,
			Token0Decimals: dc.Token0Decimals,
			Token1Decimals: dc.Token1Decimals,
			BaseIsToken0:   dc.BaseIsToken0,
		}),
		Aggregator: aggregator.Options{
			Interval:        a.Config.Aggregator.Interval,
			VolatilityFloor: a.Config.Aggregator.VolatilityFloor,
			TimeUnit:        aggregator.TimeUnit(a.Config.Data.TradeTimeUnit),
		},
		Aligner:     align.New(a.Config.Align.Tolerance),
		FallbackFee: a.Config.Align.FallbackBaseFee,
		Logger:      logging.Component(a.Logger, "pipeline"),
	}
}

func (a *App) newOptimizer() (*optimizer.Optimizer, error) {
	oc := a.Config.Optimizer
	models := slippage.NewSet(oc.BaseDecimals, oc.ImpactFactor, oc.LinearScale, oc.ZeroLiquidityPenalty)
	return optimizer.New(optimizer.Options{
		TradeSizes:      oc.TradeSizes,
		CEXTakerFee:     oc.CEXTakerFee,
		DEXFeeTier:      oc.DEXFeeTier,
		GasLimit:        oc.GasLimit,
		PriorityFeeWei:  oc.PriorityFeeWei,
		TransferCost:    oc.TransferCost,
		MinSpread:       oc.MinSpread,
		VolatilityFloor: oc.VolatilityFloor,
		Workers:         oc.Workers,
	}, models)
}

func (a *App) cacheParams() cache.Params {
	dc := a.Config.Decoder
	return cache.Params{
		Tolerance:     a.Config.Align.Tolerance,
		Interval:      a.Config.Aggregator.Interval,
		DecoderMode:   dc.Mode,
		ScaleExponent: dc.ScaleExponent,
		PlausibleMin:  dc.PlausibleMin,
		PlausibleMax:  dc.PlausibleMax,
		SanityMin:     dc.SanityMin,
		SanityMax:     dc.SanityMax,
		FallbackFee:   a.Config.Align.FallbackBaseFee,
		Extra: fmt.Sprintf("vol_floor=%g;unit=%s;explicit=%d/%d/%t",
			a.Config.Aggregator.VolatilityFloor, a.Config.Data.TradeTimeUnit,
			dc.Token0Decimals, dc.Token1Decimals, dc.BaseIsToken0),
	}
}

// newGate wires the artifact store and writer lock. The returned closer is
// never nil.
func (a *App) newGate(ctx context.Context, repo storage.Repository) (*cache.Gate, func(), error) {
	noop := func() {}
	cc := a.Config.Cache
	if !cc.Enabled {
		return nil, noop, nil
	}

	var store cache.Store
	switch cc.Backend {
	case "s3":
		s3c := a.Config.S3
		s3Store, err := cache.NewS3Store(ctx, cache.S3Options{
			Endpoint:       s3c.Endpoint,
			Region:         s3c.Region,
			Bucket:         s3c.Bucket,
			AccessKey:      s3c.AccessKey,
			SecretKey:      s3c.SecretKey,
			UseSSL:         s3c.UseSSL,
			ForcePathStyle: s3c.ForcePathStyle,
		}, cc.Key)
		if err != nil {
			return nil, noop, err
		}
		store = s3Store
	default:
		store = cache.NewFileStore(cc.Path)
	}

	var (
		locker cache.Locker
		closer = noop
	)
	switch cc.Lock {
	case "none":
		locker = cache.NopLocker{}
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		locker = cache.NewRedisLocker(rdb)
		closer = func() { _ = rdb.Close() }
	case "postgres":
		pg, ok := repo.(*storage.Store)
		if !ok {
			return nil, noop, fmt.Errorf("cache.lock postgres requires an open postgres store")
		}
		// the scheduler holds AdvisoryLockKey during refreshes
		locker = cache.PostgresLocker{Store: pg, LockID: a.Config.Scheduler.AdvisoryLockKey + 1}
	default:
		dir := filepath.Dir(cc.Path)
		locker = cache.FileLocker{Dir: dir}
	}

	gate := cache.NewGate(store, locker, "cexdexarb:"+cc.Key, cc.LockTTL, logging.Component(a.Logger, "cache"))
	a.Logger.Debug().Str("store", store.Location()).Str("lock", cc.Lock).Msg("cache gate ready")
	return gate, closer, nil
}

// newEngine builds and initialises the engine. The closer is never nil.
func (a *App) newEngine(ctx context.Context, repo storage.Repository) (*engine.Engine, func(), error) {
	opt, err := a.newOptimizer()
	if err != nil {
		return nil, func() {}, err
	}
	gate, closeGate, err := a.newGate(ctx, repo)
	if err != nil {
		return nil, func() {}, err
	}

	eng := engine.New(a.newPipeline(), opt, gate, a.cacheParams(), a.Logger)
	started := time.Now()
	if err := eng.Initialize(ctx); err != nil {
		closeGate()
		return nil, func() {}, fmt.Errorf("initialize engine: %w", err)
	}
	st := eng.Status()
	a.Logger.Info().
		Int("events", st.Events).
		Int("candidates", st.Candidates).
		Bool("from_cache", st.FromCache).
		Dur("elapsed", time.Since(started)).
		Msg("引擎初始化完成")
	return eng, closeGate, nil
}

// openStore opens the configured repository; both results are nil when
// persistence is disabled. The closer is never nil.
func (a *App) openStore(ctx context.Context) (storage.Repository, func(), error) {
	repo, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, func() {}, err
	}
	if repo == nil {
		return nil, func() {}, nil
	}
	return repo, repo.Close, nil
}

func (a *App) newNotifier() alerting.Notifier {
	var out alerting.Multi
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		out = append(out, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if slices.Contains(a.Config.Alerting.Channels, "log") {
		out = append(out, alerting.NewLogNotifier(a.Logger))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// AlignOptions configure the align command.
type AlignOptions struct {
	CSVPath string
}

// DetectOptions configure the detect command.
type DetectOptions struct {
	MinProfit *float64
	Top       int
	CSVPath   string
	NoAlert   bool
}

// ExportOptions hold parameters for exporting opportunities and the chart.
type ExportOptions struct {
	MinProfit *float64
	Timeframe string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	RunID string
}

// FetchOptions configure the acquisition job.
type FetchOptions struct {
	FromBlock uint64
	ToBlock   uint64
	From      time.Time
	To        time.Time
	Chain     bool
	Trades    bool
	DryRun    bool
}

// PruneOptions configure run retention.
type PruneOptions struct {
	OlderThan time.Duration
	Now       time.Time
}
