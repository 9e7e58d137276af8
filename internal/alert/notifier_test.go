package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/domain"
)

func sampleNotification() Notification {
	return Notification{
		Title:    "Smart Alert: billing-bot",
		Message:  "CPU usage 95.0% exceeded threshold 90.0%",
		AgentID:  "agent-1",
		Metrics:  domain.AgentMetrics{CPUUsage: 95, MemoryUsage: 41.5, LatencyMs: 120},
		Link:     "https://console.example.com/agents/agent-1",
		Severity: domain.SeverityMetric,

		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFormatSlackText(t *testing.T) {
	text := FormatSlackText(sampleNotification())

	for _, want := range []string{
		"*Smart Alert: billing-bot*",
		"CPU usage 95.0% exceeded threshold 90.0%",
		"`agent-1`",
		"<https://console.example.com/agents/agent-1|Open in FleetGate>",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("slack text missing %q:\n%s", want, text)
		}
	}
}

func TestBuildDiscordPayload(t *testing.T) {
	p := BuildDiscordPayload(sampleNotification())

	if len(p.Embeds) != 1 {
		t.Fatalf("embeds: got %d, want 1", len(p.Embeds))
	}
	embed := p.Embeds[0]
	if embed.Title != "Smart Alert: billing-bot" {
		t.Fatalf("embed title: %q", embed.Title)
	}
	if len(embed.Fields) != 3 {
		t.Fatalf("embed fields: got %d, want CPU/Memory/Latency", len(embed.Fields))
	}
	for i, want := range []struct{ name, value string }{
		{"CPU", "95.0%"},
		{"Memory", "41.5%"},
		{"Latency", "120ms"},
	} {
		f := embed.Fields[i]
		if f.Name != want.name || f.Value != want.value || !f.Inline {
			t.Errorf("field %d: got {%s %s inline=%v}, want {%s %s inline}", i, f.Name, f.Value, f.Inline, want.name, want.value)
		}
	}
	if embed.Timestamp != "2026-08-01T12:00:00Z" {
		t.Fatalf("embed timestamp: %q", embed.Timestamp)
	}
}

func TestNotify_RawWebhookDeliversJSON(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type: %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(zap.NewNop())
	ch := &domain.AlertChannel{Type: domain.ChannelWebhook, URL: srv.URL, Active: true}

	if err := n.Notify(context.Background(), ch, sampleNotification()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.AgentID != "agent-1" || got.Severity != domain.SeverityMetric {
		t.Fatalf("payload not delivered intact: %+v", got)
	}
}

func TestNotify_SinkErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(zap.NewNop())
	ch := &domain.AlertChannel{Type: domain.ChannelWebhook, URL: srv.URL, Active: true}

	if err := n.Notify(context.Background(), ch, sampleNotification()); err == nil {
		t.Fatal("5xx from sink must surface as error")
	}
}

func TestNotify_UnknownChannelType(t *testing.T) {
	n := NewWebhookNotifier(zap.NewNop())
	ch := &domain.AlertChannel{Type: "telegram", URL: "https://example.com", Active: true}

	if err := n.Notify(context.Background(), ch, sampleNotification()); err == nil {
		t.Fatal("unknown channel type must error")
	}
}
