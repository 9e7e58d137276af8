package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/fleetgate/internal/infra"
)

// NewDB открывает пул соединений к Postgres. Доступность проверяется Ping'ом в main.
func NewDB(cfg infra.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Ping проверяет доступность базы при старте.
func Ping(ctx context.Context, db *sql.DB) error {
	return db.PingContext(ctx)
}
