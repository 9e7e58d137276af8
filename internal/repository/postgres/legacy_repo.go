package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/fleetgate/internal/legacy"
)

// LegacyRepo — адаптер унаследованного реляционного хранилища.
// Пишет снапшоты агентов пачками: write-behind воркер копит очередь,
// а сюда она приезжает одним bulk upsert'ом.
type LegacyRepo struct {
	db *sql.DB
}

func NewLegacyRepo(connString string) (*LegacyRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("legacy: open failed: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &LegacyRepo{db: db}, nil
}

func (r *LegacyRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *LegacyRepo) Close() error {
	return r.db.Close()
}

// UpsertBatch — пакетная запись снапшотов. Количество колонок в legacy_agents = 7.
func (r *LegacyRepo) UpsertBatch(ctx context.Context, snapshots []legacy.AgentSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	numFields := 7
	placeholderStr := ""
	vals := make([]interface{}, 0, len(snapshots)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, s := range snapshots {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7)

		metrics, _ := json.Marshal(s.Metrics)
		vals = append(vals,
			s.AgentID, s.Name, s.Status, s.LastHeartbeat, metrics, s.Model, s.SyncedAt)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		`INSERT INTO legacy_agents (agent_id, name, status, last_heartbeat, metrics, model, synced_at)
		 VALUES %s
		 ON CONFLICT (agent_id) DO UPDATE SET
			name = EXCLUDED.name, status = EXCLUDED.status, last_heartbeat = EXCLUDED.last_heartbeat,
			metrics = EXCLUDED.metrics, model = EXCLUDED.model, synced_at = EXCLUDED.synced_at`,
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}
