package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/fleetgate/internal/domain"
)

type PolicyRepo struct {
	db *sql.DB
}

func NewPolicyRepo(db *sql.DB) *PolicyRepo {
	return &PolicyRepo{db: db}
}

func (r *PolicyRepo) CreateCustomPolicy(ctx context.Context, p *domain.CustomPolicy) error {
	skills, _ := json.Marshal(p.Skills)
	tools, _ := json.Marshal(p.Tools)
	guardrails, _ := json.Marshal(p.Guardrails)

	query := `INSERT INTO custom_policies
		(id, user_id, name, label, skills, tools, data_access, heartbeat_interval, guardrails, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.Name, p.Label, skills, tools, p.DataAccess, p.HeartbeatInterval, guardrails, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create custom policy: %w", err)
	}
	return nil
}

func (r *PolicyRepo) GetCustomPolicy(ctx context.Context, userID, name string) (*domain.CustomPolicy, error) {
	query := `SELECT id, user_id, name, label, skills, tools, data_access, heartbeat_interval, guardrails, created_at
		FROM custom_policies WHERE user_id = $1 AND name = $2`

	var p domain.CustomPolicy
	var skills, tools, guardrails []byte
	err := r.db.QueryRowContext(ctx, query, userID, name).Scan(
		&p.ID, &p.UserID, &p.Name, &p.Label, &skills, &tools, &p.DataAccess, &p.HeartbeatInterval, &guardrails, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFound("custom policy")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get custom policy: %w", err)
	}

	_ = json.Unmarshal(skills, &p.Skills)
	_ = json.Unmarshal(tools, &p.Tools)
	_ = json.Unmarshal(guardrails, &p.Guardrails)
	return &p, nil
}
