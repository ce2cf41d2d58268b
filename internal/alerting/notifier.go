package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kind tells which engine event a notification describes.
type Kind string

const (
	KindAggregation Kind = "aggregation"
	KindDispute     Kind = "dispute"
)

// Notification carries the event context.
type Notification struct {
	Kind        Kind
	Pair        string
	Epoch       int64
	Timestamp   time.Time
	Value       decimal.Decimal
	Confidence  int
	SourceCount int
	Outliers    int
	DisputeID   string
	Bond        decimal.Decimal
	Submitter   string
	Reason      string
	Channels    []string
	Additional  string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Nop discards every notification.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Notification) error { return nil }

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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

// Notify posts the rendered text via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("kind", string(note.Kind)).
		Str("pair", note.Pair).
		Int64("epoch", note.Epoch).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("notification sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindDispute:
		builder.WriteString("[Keen Oracle Dispute]\n")
		builder.WriteString(fmt.Sprintf("Epoch: #%d\n", note.Epoch))
		builder.WriteString(fmt.Sprintf("Dispute: %s\n", note.DisputeID))
		builder.WriteString(fmt.Sprintf("Submitter: %s\n", note.Submitter))
		builder.WriteString(fmt.Sprintf("Bond: %s\n", note.Bond.StringFixed(2)))
		if note.Reason != "" {
			builder.WriteString(fmt.Sprintf("Reason: %s\n", note.Reason))
		}
	default:
		builder.WriteString("[Keen Oracle Aggregation]\n")
		builder.WriteString(fmt.Sprintf("Pair: %s\n", note.Pair))
		builder.WriteString(fmt.Sprintf("Epoch: #%d\n", note.Epoch))
		builder.WriteString(fmt.Sprintf("Price: %s\n", note.Value.StringFixed(2)))
		builder.WriteString(fmt.Sprintf("Confidence: %d%%\n", note.Confidence))
		builder.WriteString(fmt.Sprintf("Sources: %d", note.SourceCount))
		if note.Outliers > 0 {
			builder.WriteString(fmt.Sprintf(" (%d outliers excluded)", note.Outliers))
		}
		builder.WriteString("\n")
	}
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.Timestamp.UTC().Format(time.RFC3339)))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.Additional != "" {
		builder.WriteString(note.Additional)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = Nop{}
)
