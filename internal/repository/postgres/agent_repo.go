package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/fleetgate/internal/domain"
)

type AgentRepo struct {
	db *sql.DB
}

// NewAgentRepo создает новый экземпляр репозитория
func NewAgentRepo(db *sql.DB) *AgentRepo {
	return &AgentRepo{db: db}
}

const agentColumns = `id, name, fleet_id, user_id, gateway_url, status, last_heartbeat,
	config, metrics, machine_id, location, model, encrypted_secret, policy_profile,
	pending_restart, created_at, updated_at`

func (r *AgentRepo) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM agents WHERE id = $1`, agentColumns)
	return r.scanAgent(r.db.QueryRowContext(ctx, query, id))
}

// GetAgentName — легкое чтение для подстановки имени в заголовок алерта.
func (r *AgentRepo) GetAgentName(ctx context.Context, id string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx, `SELECT name FROM agents WHERE id = $1`, id).Scan(&name)
	if err == sql.ErrNoRows {
		return "", domain.NewNotFound("agent")
	}
	if err != nil {
		return "", fmt.Errorf("postgres: get agent name: %w", err)
	}
	return name, nil
}

func (r *AgentRepo) ListAgentsByUser(ctx context.Context, userID string) ([]*domain.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM agents WHERE user_id = $1 ORDER BY created_at`, agentColumns)
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	agents := make([]*domain.Agent, 0)
	for rows.Next() {
		a, err := r.scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (r *AgentRepo) CountAgentsByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count agents: %w", err)
	}
	return n, nil
}

func (r *AgentRepo) CreateAgent(ctx context.Context, a *domain.Agent) error {
	cfg, _ := json.Marshal(a.Config)
	metrics, _ := json.Marshal(a.Metrics)

	query := `INSERT INTO agents (id, name, fleet_id, user_id, gateway_url, status,
		config, metrics, machine_id, location, model, encrypted_secret, policy_profile,
		pending_restart, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Name, a.FleetID, a.UserID, a.GatewayURL, a.Status,
		cfg, metrics, a.MachineID, a.Location, a.Model, a.EncryptedSecret, a.PolicyProfile,
		a.PendingRestart, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create agent: %w", err)
	}
	return nil
}

// DeleteAgent удаляет агента каскадно вместе с историей метрик и алертами.
func (r *AgentRepo) DeleteAgent(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM metrics_history WHERE agent_id = $1`,
		`DELETE FROM alerts WHERE agent_id = $1`,
		`DELETE FROM alert_configs WHERE agent_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("postgres: cascade delete: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete agent: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return domain.NewNotFound("agent")
	}
	return tx.Commit()
}

// UpdateHeartbeat сохраняет результат heartbeat'а: статус, снапшот метрик и
// опциональные machine_id/location/model (COALESCE с NULLIF не затирает пустыми строками).
func (r *AgentRepo) UpdateHeartbeat(ctx context.Context, a *domain.Agent) error {
	metrics, _ := json.Marshal(a.Metrics)

	query := `UPDATE agents SET
		status = $1, last_heartbeat = $2, metrics = $3,
		machine_id = COALESCE(NULLIF($4, ''), machine_id),
		location = COALESCE(NULLIF($5, ''), location),
		model = COALESCE(NULLIF($6, ''), model),
		pending_restart = $7,
		updated_at = NOW()
		WHERE id = $8`

	result, err := r.db.ExecContext(ctx, query,
		a.Status, a.LastHeartbeat, metrics, a.MachineID, a.Location, a.Model, a.PendingRestart, a.ID)
	if err != nil {
		return fmt.Errorf("postgres: update heartbeat: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.NewNotFound("agent")
	}
	return nil
}

// TouchHeartbeat — легкий путь для rich-токенов без метрик: обновляет только
// статус и last_heartbeat. CTE возвращает ПРЕЖНЕЕ значение pending_restart —
// сам флаг этим же запросом гасится (агент заберет рестарт ровно один раз).
func (r *AgentRepo) TouchHeartbeat(ctx context.Context, id string, status domain.AgentStatus, at time.Time) (bool, error) {
	query := `WITH prev AS (SELECT pending_restart FROM agents WHERE id = $3)
		UPDATE agents SET status = $1, last_heartbeat = $2, pending_restart = FALSE, updated_at = NOW()
		WHERE id = $3
		RETURNING (SELECT pending_restart FROM prev)`

	var restart bool
	err := r.db.QueryRowContext(ctx, query, status, at, id).Scan(&restart)
	if err == sql.ErrNoRows {
		return false, domain.NewNotFound("agent")
	}
	if err != nil {
		return false, fmt.Errorf("postgres: touch heartbeat: %w", err)
	}
	return restart, nil
}

// SetPendingRestart взводит флаг рестарта; его заберет следующий heartbeat.
func (r *AgentRepo) SetPendingRestart(ctx context.Context, id string, pending bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE agents SET pending_restart = $1, updated_at = NOW() WHERE id = $2`, pending, id)
	if err != nil {
		return fmt.Errorf("postgres: set pending restart: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.NewNotFound("agent")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *AgentRepo) scanAgent(row *sql.Row) (*domain.Agent, error) {
	a, err := scanAgentFrom(row)
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFound("agent")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan agent: %w", err)
	}
	return a, nil
}

func (r *AgentRepo) scanAgentRows(rows *sql.Rows) (*domain.Agent, error) {
	a, err := scanAgentFrom(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan agent row: %w", err)
	}
	return a, nil
}

func scanAgentFrom(s rowScanner) (*domain.Agent, error) {
	var a domain.Agent
	var cfg, metrics []byte
	var lastHB sql.NullTime

	err := s.Scan(&a.ID, &a.Name, &a.FleetID, &a.UserID, &a.GatewayURL, &a.Status, &lastHB,
		&cfg, &metrics, &a.MachineID, &a.Location, &a.Model, &a.EncryptedSecret, &a.PolicyProfile,
		&a.PendingRestart, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastHB.Valid {
		t := lastHB.Time
		a.LastHeartbeat = &t
	}
	_ = json.Unmarshal(cfg, &a.Config)
	_ = json.Unmarshal(metrics, &a.Metrics)

	return &a, nil
}
