package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/fleetgate/internal/domain"
)

// WebhookNotifier доставляет уведомления во внешние синки.
// Исходящий трафик обернут в защиту: локальный rate limiter, circuit breaker
// и ретраи с бэкоффом — мертвый webhook не должен съедать воркеры шлюза.
type WebhookNotifier struct {
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewWebhookNotifier(logger *zap.Logger) *WebhookNotifier {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alert-sinks",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &WebhookNotifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 5),
		cb:      cb,
		logger:  logger.Named("notifier"),
	}
}

// Notify форматирует тело под тип канала и отправляет его через защитную обертку.
func (n *WebhookNotifier) Notify(ctx context.Context, channel *domain.AlertChannel, body Notification) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify rate limit: %w", err)
	}

	_, err := n.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.Delay(300*time.Millisecond),
			retry.DelayType(retry.BackOffDelay),
		)
		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return n.send(tCtx, channel, body)
		})
	})
	return err
}

func (n *WebhookNotifier) send(ctx context.Context, channel *domain.AlertChannel, body Notification) error {
	switch channel.Type {
	case domain.ChannelSlack:
		return slack.PostWebhookContext(ctx, channel.URL, &slack.WebhookMessage{
			Text: FormatSlackText(body),
		})
	case domain.ChannelDiscord:
		return n.postJSON(ctx, channel.URL, BuildDiscordPayload(body))
	case domain.ChannelWebhook:
		return n.postJSON(ctx, channel.URL, body)
	default:
		return fmt.Errorf("unknown channel type %q", channel.Type)
	}
}

func (n *WebhookNotifier) postJSON(ctx context.Context, url string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sink responded %d", resp.StatusCode)
	}
	return nil
}

// FormatSlackText — Slack ждет единственное markdown-поле text.
func FormatSlackText(body Notification) string {
	return fmt.Sprintf("*%s*\n%s\n\n*Agent:* `%s`\n*Severity:* %s\n<%s|Open in FleetGate>",
		body.Title, body.Message, body.AgentID, body.Severity, body.Link)
}

// BuildDiscordPayload — Discord ждет embed с inline-полями CPU/Memory/Latency.
func BuildDiscordPayload(body Notification) discordgo.WebhookParams {
	return discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       body.Title,
			Description: body.Message,
			URL:         body.Link,
			Color:       severityColor(body.Severity),
			Timestamp:   body.Timestamp.Format(time.RFC3339),
			Fields: []*discordgo.MessageEmbedField{
				{Name: "CPU", Value: fmt.Sprintf("%.1f%%", body.Metrics.CPUUsage), Inline: true},
				{Name: "Memory", Value: fmt.Sprintf("%.1f%%", body.Metrics.MemoryUsage), Inline: true},
				{Name: "Latency", Value: fmt.Sprintf("%.0fms", body.Metrics.LatencyMs), Inline: true},
			},
			Footer: &discordgo.MessageEmbedFooter{Text: string(body.Severity)},
		}},
	}
}

func severityColor(s domain.AlertSeverity) int {
	switch s {
	case domain.SeverityCritical:
		return 0xE74C3C
	case domain.SeverityError:
		return 0xE67E22
	default:
		return 0xF1C40F
	}
}
