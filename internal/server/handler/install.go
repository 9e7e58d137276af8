package handler

import (
	"net/http"
	"net/url"
	"regexp"
	"text/template"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/domain"
	"github.com/xela07ax/fleetgate/internal/server"
)

// InstallHandler отдает платформенные install-скрипты (text/plain).
// Параметры интерполируются в shell-скрипт, поэтому валидация строгая:
// agent_id и agent_secret — только UUID, interval — только цифры.
type InstallHandler struct {
	baseURL string
	logger  *zap.Logger
}

func NewInstallHandler(baseURL string, logger *zap.Logger) *InstallHandler {
	return &InstallHandler{baseURL: baseURL, logger: logger.Named("install-api")}
}

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

type installParams struct {
	BaseURL  string
	AgentID  string
	Secret   string
	Interval string
}

var bashScript = template.Must(template.New("bash").Parse(`#!/usr/bin/env bash
set -euo pipefail

FLEETGATE_URL="{{.BaseURL}}"
AGENT_ID="{{.AgentID}}"
AGENT_SECRET="{{.Secret}}"
INTERVAL="{{.Interval}}"

echo "Installing fleetgate agent ${AGENT_ID}..."
mkdir -p /etc/fleetgate
cat > /etc/fleetgate/agent.env <<EOF
FLEETGATE_URL=${FLEETGATE_URL}
AGENT_ID=${AGENT_ID}
AGENT_SECRET=${AGENT_SECRET}
HEARTBEAT_INTERVAL=${INTERVAL}
EOF
curl -fsSL "${FLEETGATE_URL}/downloads/fleetgate-agent-linux" -o /usr/local/bin/fleetgate-agent
chmod +x /usr/local/bin/fleetgate-agent
echo "Done. Start with: fleetgate-agent --env /etc/fleetgate/agent.env"
`))

var psScript = template.Must(template.New("ps").Parse(`$ErrorActionPreference = "Stop"

$FleetgateUrl = "{{.BaseURL}}"
$AgentId = "{{.AgentID}}"
$AgentSecret = "{{.Secret}}"
$Interval = "{{.Interval}}"

Write-Host "Installing fleetgate agent $AgentId..."
New-Item -ItemType Directory -Force -Path "$env:ProgramData\fleetgate" | Out-Null
@"
FLEETGATE_URL=$FleetgateUrl
AGENT_ID=$AgentId
AGENT_SECRET=$AgentSecret
HEARTBEAT_INTERVAL=$Interval
"@ | Set-Content "$env:ProgramData\fleetgate\agent.env"
Invoke-WebRequest "$FleetgateUrl/downloads/fleetgate-agent-windows.exe" -OutFile "$env:ProgramData\fleetgate\fleetgate-agent.exe"
Write-Host "Done."
`))

var pyScript = template.Must(template.New("py").Parse(`#!/usr/bin/env python3
import os, pathlib, urllib.request

FLEETGATE_URL = "{{.BaseURL}}"
AGENT_ID = "{{.AgentID}}"
AGENT_SECRET = "{{.Secret}}"
INTERVAL = "{{.Interval}}"

print(f"Installing fleetgate agent {AGENT_ID}...")
conf = pathlib.Path.home() / ".fleetgate"
conf.mkdir(exist_ok=True)
(conf / "agent.env").write_text(
    f"FLEETGATE_URL={FLEETGATE_URL}\n"
    f"AGENT_ID={AGENT_ID}\n"
    f"AGENT_SECRET={AGENT_SECRET}\n"
    f"HEARTBEAT_INTERVAL={INTERVAL}\n"
)
urllib.request.urlretrieve(f"{FLEETGATE_URL}/downloads/fleetgate-agent.pyz", conf / "fleetgate-agent.pyz")
print("Done.")
`))

// Bash — GET /install-agent
func (h *InstallHandler) Bash(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, bashScript)
}

// PowerShell — GET /install-agent-ps
func (h *InstallHandler) PowerShell(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, psScript)
}

// Python — GET /install-agent-py
func (h *InstallHandler) Python(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, pyScript)
}

func (h *InstallHandler) render(w http.ResponseWriter, r *http.Request, tmpl *template.Template) {
	params, err := h.validate(r)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := tmpl.Execute(w, params); err != nil {
		h.logger.Error("install script render failed", zap.Error(err))
	}
}

func (h *InstallHandler) validate(r *http.Request) (*installParams, error) {
	// r.URL.Query() молча выбрасывает пары с неэкранированным ';' — враждебный
	// ввод выглядел бы как отсутствующий параметр. Парсим сами и отвечаем 400.
	q, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return nil, domain.NewValidation("malformed query string")
	}

	agentID := q.Get("agent_id")
	if _, err := uuid.Parse(agentID); err != nil {
		return nil, domain.NewValidation("agent_id must be a valid UUID")
	}

	secret := q.Get("agent_secret")
	if secret != "" {
		if _, err := uuid.Parse(secret); err != nil {
			return nil, domain.NewValidation("agent_secret must be a valid UUID")
		}
	}

	interval := q.Get("interval")
	if interval != "" && !digitsOnly.MatchString(interval) {
		return nil, domain.NewValidation("interval must contain digits only")
	}
	if interval == "" {
		interval = "60"
	}

	return &installParams{
		BaseURL:  h.baseURL,
		AgentID:  agentID,
		Secret:   secret,
		Interval: interval,
	}, nil
}
