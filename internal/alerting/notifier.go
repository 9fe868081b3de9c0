package alerting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"

	"cexdex-arb/internal/market"
)

// Entry 是告警中的单条机会。
type Entry struct {
	Timestamp time.Time
	Block     uint64
	Direction string
	SpreadPct decimal.Decimal
	TradeSize decimal.Decimal
	NetProfit decimal.Decimal
	ROIPct    decimal.Decimal
	Model     string
}

// Notification 封装一次检测的告警上下文。
type Notification struct {
	RunID         string
	GeneratedAt   time.Time
	Threshold     decimal.Decimal
	Matched       int
	TotalProfit   decimal.Decimal
	Top           []Entry
	Channels      []string
	AdditionalMsg string
}

// Build selects the topN opportunities with net profit above threshold. The
// input is expected ranked; ok is false when nothing qualifies.
func Build(opps []market.Opportunity, threshold float64, topN int) (Notification, bool) {
	note := Notification{
		GeneratedAt: time.Now().UTC(),
		Threshold:   decimal.NewFromFloat(threshold),
		TotalProfit: decimal.Zero,
	}
	for _, o := range opps {
		if !(o.NetProfit > threshold) {
			continue
		}
		note.Matched++
		note.TotalProfit = note.TotalProfit.Add(decimal.NewFromFloat(o.NetProfit))
		if topN > 0 && len(note.Top) >= topN {
			continue
		}
		note.Top = append(note.Top, Entry{
			Timestamp: o.Timestamp,
			Block:     o.BlockNumber,
			Direction: string(o.Direction),
			SpreadPct: decimal.NewFromFloat(o.SpreadPct),
			TradeSize: decimal.NewFromFloat(o.OptimalTradeSize),
			NetProfit: decimal.NewFromFloat(o.NetProfit),
			ROIPct:    decimal.NewFromFloat(o.ROIPct),
			Model:     o.Slippage.Model,
		})
	}
	return note, note.Matched > 0
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := sonnet.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)); err == nil && sonnet.Unmarshal(raw, &result) == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("run_id", note.RunID).
		Int("matched", note.Matched).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier writes the alert to the application log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs one line per top entry.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	for i, e := range note.Top {
		n.logger.Warn().
			Str("run_id", note.RunID).
			Int("rank", i+1).
			Time("ts", e.Timestamp).
			Uint64("block", e.Block).
			Str("direction", e.Direction).
			Str("net_profit", e.NetProfit.StringFixed(2)).
			Str("threshold", note.Threshold.StringFixed(2)).
			Msg("发现套利机会")
	}
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers to all notifiers even when one fails.
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[CEX-DEX Arbitrage Alert]\n")
	builder.WriteString(fmt.Sprintf("Generated: %s UTC\n", note.GeneratedAt.UTC().Format(time.RFC3339)))
	if note.RunID != "" {
		builder.WriteString(fmt.Sprintf("Run: %s\n", note.RunID))
	}
	builder.WriteString(fmt.Sprintf("Opportunities: %d above $%s (total $%s)\n",
		note.Matched, note.Threshold.StringFixed(2), note.TotalProfit.StringFixed(2)))
	for i, e := range note.Top {
		builder.WriteString(fmt.Sprintf("#%d %s block %d %s\n", i+1, e.Timestamp.UTC().Format(time.RFC3339), e.Block, e.Direction))
		builder.WriteString(fmt.Sprintf("   spread %s%%, size %s, net $%s, ROI %s%%\n",
			e.SpreadPct.StringFixed(3), e.TradeSize.String(), e.NetProfit.StringFixed(2), e.ROIPct.StringFixed(3)))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
