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

	"cost-anomaly-engine/internal/anomaly"
)

// Notifier delivers an anomaly alert to one channel.
type Notifier interface {
	Notify(ctx context.Context, event anomaly.Event) error
}

// TelegramNotifier pushes alerts through the Telegram Bot API.
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

// Notify calls sendMessage with a rendered alert.
func (n *TelegramNotifier) Notify(ctx context.Context, event anomaly.Event) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(event),
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
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
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
		Str("anomaly_id", event.AnomalyID).
		Str("tenant_id", event.TenantID).
		Str("severity", string(event.Severity)).
		Msg("alert sent (telegram)")
	return nil
}

func renderMessage(e anomaly.Event) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Cost Anomaly: %s]\n", strings.ToUpper(string(e.Severity))))
	builder.WriteString(fmt.Sprintf("Tenant: %s\n", e.TenantID))
	builder.WriteString(fmt.Sprintf("Service: %s (%s)\n", e.Service, e.Provider))
	if !e.Date.IsZero() {
		builder.WriteString(fmt.Sprintf("Date: %s\n", e.Date.Format(anomaly.DateLayout)))
	}
	builder.WriteString(fmt.Sprintf("Expected: %s\n", e.ExpectedCost.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Actual: %s\n", e.ActualCost.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Deviation: %s%%\n", e.DeviationPct.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Anomaly: %s\n", e.AnomalyID))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
