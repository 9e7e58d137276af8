package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xela07ax/fleetgate/internal/domain"
)

// MetricsRepo пишет в append-only таблицу metrics_history — точки time-series
// для исторических графиков. Источник истины — строка агента, не история:
// разрыв между апдейтом агента и вставкой точки допустим.
type MetricsRepo struct {
	db *sql.DB
}

func NewMetricsRepo(db *sql.DB) *MetricsRepo {
	return &MetricsRepo{db: db}
}

func (r *MetricsRepo) InsertSnapshot(ctx context.Context, s domain.MetricSnapshot) error {
	query := `INSERT INTO metrics_history
		(agent_id, cpu_usage, memory_usage, latency_ms, uptime_hours, tasks_completed, errors_count, cost_usd, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := r.db.ExecContext(ctx, query,
		s.AgentID, s.CPUUsage, s.MemoryUsage, s.LatencyMs,
		s.UptimeHours, s.TasksCompleted, s.ErrorsCount, s.CostUSD, s.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot: %w", err)
	}
	return nil
}

// ListRecent возвращает последние точки агента (новые — первыми).
func (r *MetricsRepo) ListRecent(ctx context.Context, agentID string, limit int) ([]domain.MetricSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT agent_id, cpu_usage, memory_usage, latency_ms, uptime_hours,
		tasks_completed, errors_count, cost_usd, timestamp
		FROM metrics_history WHERE agent_id = $1 ORDER BY timestamp DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]domain.MetricSnapshot, 0, limit)
	for rows.Next() {
		var s domain.MetricSnapshot
		if err := rows.Scan(&s.AgentID, &s.CPUUsage, &s.MemoryUsage, &s.LatencyMs,
			&s.UptimeHours, &s.TasksCompleted, &s.ErrorsCount, &s.CostUSD, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
