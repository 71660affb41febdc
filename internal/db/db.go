package db

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// schema is applied on startup. Every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS subscribers (
    identity        TEXT PRIMARY KEY,
    expires_at      TIMESTAMPTZ NOT NULL,
    last_payment_at TIMESTAMPTZ NOT NULL,
    status          TEXT NOT NULL,
    expired_at      TIMESTAMPTZ NULL,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS subscribers_active_expiry_idx
    ON subscribers (expires_at) WHERE status = 'active';
`

// DBClient представляет клиент для работы с базой данных.
type DBClient struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewDBClient подключается к PostgreSQL через pgx и применяет схему.
func NewDBClient(ctx context.Context, dsn string, log *logger.Logger) (*DBClient, error) {
	log.Info("Connecting to PostgreSQL")

	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		log.Errorw("Failed to connect to database", "error", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		log.Errorw("Failed to apply database schema", "error", err)
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Info("Successfully connected to PostgreSQL")
	return &DBClient{db: db, log: log}, nil
}

// DB возвращает подключение sqlx
func (dc *DBClient) DB() *sqlx.DB {
	return dc.db
}

// Close закрывает соединение с базой данных.
func (dc *DBClient) Close() error {
	if err := dc.db.Close(); err != nil {
		dc.log.Errorw("Failed to close database connection", "error", err)
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}
