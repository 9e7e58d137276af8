package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/fleetgate/internal/domain"
)

type AlertRepo struct {
	db *sql.DB
}

func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

func (r *AlertRepo) CreateChannel(ctx context.Context, ch *domain.AlertChannel) error {
	query := `INSERT INTO alert_channels (id, user_id, type, url, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.db.ExecContext(ctx, query, ch.ID, ch.UserID, ch.Type, ch.URL, ch.Active, ch.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create channel: %w", err)
	}
	return nil
}

func (r *AlertRepo) CreateConfig(ctx context.Context, c *domain.AlertConfig) error {
	query := `INSERT INTO alert_configs
		(id, user_id, agent_id, fleet_id, channel_id, cpu_threshold, mem_threshold,
		 latency_threshold, offline_alert, error_alert, cooldown_minutes, created_at)
		VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.UserID, c.AgentID, c.FleetID, c.ChannelID, c.CPUThreshold, c.MemThreshold,
		c.LatencyThreshold, c.OfflineAlert, c.ErrorAlert, c.CooldownMinutes, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create config: %w", err)
	}
	return nil
}

// ListConfigsForAgent собирает конфиги, применимые к агенту: его персональные
// плюс флитовые по fleet_id. Канал подклеивается LEFT JOIN'ом; фильтрацию
// отсутствующих/неактивных каналов делает движок алертов.
func (r *AlertRepo) ListConfigsForAgent(ctx context.Context, agentID, fleetID string) ([]*domain.AlertConfig, error) {
	query := `SELECT c.id, c.user_id, COALESCE(c.agent_id, ''), COALESCE(c.fleet_id, ''), c.channel_id,
		c.cpu_threshold, c.mem_threshold, c.latency_threshold, c.offline_alert, c.error_alert,
		c.cooldown_minutes, c.last_triggered_at, c.created_at,
		ch.id, ch.type, ch.url, ch.active
		FROM alert_configs c
		LEFT JOIN alert_channels ch ON ch.id = c.channel_id
		WHERE c.agent_id = $1 OR (c.fleet_id = $2 AND $2 <> '')`

	rows, err := r.db.QueryContext(ctx, query, agentID, fleetID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list configs: %w", err)
	}
	defer rows.Close()

	configs := make([]*domain.AlertConfig, 0)
	for rows.Next() {
		var c domain.AlertConfig
		var lastTriggered sql.NullTime
		var chID, chType, chURL sql.NullString
		var chActive sql.NullBool

		err := rows.Scan(&c.ID, &c.UserID, &c.AgentID, &c.FleetID, &c.ChannelID,
			&c.CPUThreshold, &c.MemThreshold, &c.LatencyThreshold, &c.OfflineAlert, &c.ErrorAlert,
			&c.CooldownMinutes, &lastTriggered, &c.CreatedAt,
			&chID, &chType, &chURL, &chActive)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan config: %w", err)
		}

		if lastTriggered.Valid {
			t := lastTriggered.Time
			c.LastTriggeredAt = &t
		}
		if chID.Valid {
			c.Channel = &domain.AlertChannel{
				ID:     chID.String,
				Type:   domain.ChannelType(chType.String),
				URL:    chURL.String,
				Active: chActive.Bool,
			}
		}
		configs = append(configs, &c)
	}
	return configs, rows.Err()
}

// UpdateConfigLastTriggered двигает cooldown. Вызывается только для agent-scoped
// конфигов: общий last_triggered_at на флитовом конфиге глушил бы алерты чужих агентов.
func (r *AlertRepo) UpdateConfigLastTriggered(ctx context.Context, configID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE alert_configs SET last_triggered_at = $1 WHERE id = $2`, at, configID)
	if err != nil {
		return fmt.Errorf("postgres: update last_triggered_at: %w", err)
	}
	return nil
}

func (r *AlertRepo) InsertAlert(ctx context.Context, a *domain.Alert) error {
	meta, _ := json.Marshal(a.Metadata)
	query := `INSERT INTO alerts (id, user_id, agent_id, severity, title, message, metadata, resolved, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.UserID, a.AgentID, a.Severity, a.Title, a.Message, meta, a.Resolved, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert alert: %w", err)
	}
	return nil
}

// ExistsRecentAlert — squelch-проверка для флитовых конфигов: был ли уже алерт
// по ЭТОМУ агенту и ЭТОМУ конфигу внутри окна. Маркер config_id лежит в metadata.
func (r *AlertRepo) ExistsRecentAlert(ctx context.Context, agentID, configID string, since time.Time) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (
		SELECT 1 FROM alerts
		WHERE agent_id = $1 AND metadata->>'config_id' = $2 AND created_at > $3)`
	err := r.db.QueryRowContext(ctx, query, agentID, configID, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: recent alert lookup: %w", err)
	}
	return exists, nil
}

func (r *AlertRepo) ListAlertsByUser(ctx context.Context, userID string, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, agent_id, severity, title, message, metadata, resolved, resolved_at, created_at
		FROM alerts WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*domain.Alert, 0)
	for rows.Next() {
		var a domain.Alert
		var meta []byte
		var resolvedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.UserID, &a.AgentID, &a.Severity, &a.Title, &a.Message,
			&meta, &a.Resolved, &resolvedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			a.ResolvedAt = &t
		}
		_ = json.Unmarshal(meta, &a.Metadata)
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

func (r *AlertRepo) ResolveAlert(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET resolved = TRUE, resolved_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: resolve alert: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.NewNotFound("alert")
	}
	return nil
}
