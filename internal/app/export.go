package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"cexdex-arb/internal/market"
)

// Export renders the opportunity list as CSV and/or the price chart as PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)
	if opts.Timeframe == "" {
		opts.Timeframe = a.Config.Export.ChartTimeframe
	}
	minProfit := a.Config.ResolveMinProfit(opts.MinProfit)

	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	eng, closeEngine, err := a.newEngine(ctx, repo)
	if err != nil {
		return err
	}
	defer closeEngine()

	if opts.CSVPath != "" {
		opps := eng.Opportunities(minProfit)
		if err := writeOpportunitiesCSV(opts.CSVPath, opps); err != nil {
			return err
		}
		a.Logger.Info().Int("rows", len(opps)).Str("path", opts.CSVPath).Msg("exported opportunities")
	}

	if opts.PNGPath != "" {
		points, err := eng.Chart(opts.Timeframe)
		if err != nil {
			return err
		}
		if len(points) == 0 {
			a.Logger.Info().Msg("no chart points for export")
			return nil
		}
		sampled := downsamplePoints(points, opts.MaxPoints)
		a.Logger.Info().Int("total", len(points)).Int("exported", len(sampled)).Str("timeframe", opts.Timeframe).Msg("exporting chart")
		if err := writeChartPNG(opts.PNGPath, sampled); err != nil {
			return err
		}
	}
	return nil
}

func downsamplePoints(points []market.ChartPoint, max int) []market.ChartPoint {
	if max <= 1 || len(points) <= max {
		return points
	}

	result := make([]market.ChartPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

var opportunityHeader = []string{
	"timestamp", "block_number", "direction", "price_onchain", "price_offchain",
	"spread_pct", "optimal_trade_size", "net_profit_usd", "roi_pct", "risk_score",
	"onchain_slippage", "offchain_slippage", "gas_cost_usd", "onchain_model",
}

func writeOpportunitiesCSV(path string, opps []market.Opportunity) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(opportunityHeader); err != nil {
		return err
	}
	for _, o := range opps {
		record := []string{
			o.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatUint(o.BlockNumber, 10),
			string(o.Direction),
			formatFloat(o.OnchainPrice, 4),
			formatFloat(o.OffchainPrice, 4),
			formatFloat(o.SpreadPct, 6),
			formatFloat(o.OptimalTradeSize, 4),
			formatFloat(o.NetProfit, 2),
			formatFloat(o.ROIPct, 4),
			formatFloat(o.RiskScore, 4),
			formatFloat(o.Slippage.Onchain, 6),
			formatFloat(o.Slippage.Offchain, 6),
			formatFloat(o.Slippage.GasCostQuote, 2),
			o.Slippage.Model,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeChartPNG(path string, points []market.ChartPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	onchain := make([]float64, len(points))
	offchain := make([]float64, len(points))
	spread := make([]float64, len(points))

	for i, p := range points {
		x[i] = p.Timestamp
		onchain[i] = p.OnchainPrice
		offchain[i] = p.OffchainPrice
		spread[i] = p.SpreadPct
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USDT)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Spread (%)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.3f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Uniswap",
				XValues: x,
				YValues: onchain,
			},
			chart.TimeSeries{
				Name:    "Binance",
				XValues: x,
				YValues: offchain,
			},
			chart.TimeSeries{
				Name:    "Spread %",
				XValues: x,
				YValues: spread,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
