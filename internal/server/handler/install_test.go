package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestInstallScript_RendersParams(t *testing.T) {
	h := NewInstallHandler("https://fleet.example.com", zap.NewNop())

	rec := httptest.NewRecorder()
	h.Bash(rec, httptest.NewRequest(http.MethodGet,
		"/install-agent?agent_id=7b7a2a07-6c7a-4b8e-a6d7-9e01a1b2c3d4&interval=30", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type: %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`FLEETGATE_URL="https://fleet.example.com"`,
		`AGENT_ID="7b7a2a07-6c7a-4b8e-a6d7-9e01a1b2c3d4"`,
		`INTERVAL="30"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("script missing %q", want)
		}
	}
}

func TestInstallScript_DefaultInterval(t *testing.T) {
	h := NewInstallHandler("https://fleet.example.com", zap.NewNop())

	rec := httptest.NewRecorder()
	h.Python(rec, httptest.NewRequest(http.MethodGet,
		"/install-agent-py?agent_id=7b7a2a07-6c7a-4b8e-a6d7-9e01a1b2c3d4", nil))

	if !strings.Contains(rec.Body.String(), `INTERVAL = "60"`) {
		t.Fatalf("default interval missing:\n%s", rec.Body.String())
	}
}

func TestInstallScript_RejectsInjection(t *testing.T) {
	h := NewInstallHandler("https://fleet.example.com", zap.NewNop())

	// Параметры уходят в shell-скрипт, поэтому всё, что не UUID/цифры — 400.
	// Пары с ';' стандартный парсер выбрасывает молча — такие запросы должны
	// отклоняться целиком, а не проходить с параметрами "по умолчанию".
	cases := []string{
		"/install-agent?agent_id=$(rm%20-rf%20/)",
		"/install-agent?agent_id=",
		"/install-agent?agent_id=7b7a2a07-6c7a-4b8e-a6d7-9e01a1b2c3d4&agent_secret=;curl",
		"/install-agent?agent_id=7b7a2a07-6c7a-4b8e-a6d7-9e01a1b2c3d4&interval=30;reboot",
		"/install-agent?agent_id=7b7a2a07-6c7a-4b8e-a6d7-9e01a1b2c3d4&interval=%zz",
	}
	for _, url := range cases {
		rec := httptest.NewRecorder()
		h.Bash(rec, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", url, rec.Code)
		}
	}
}
