package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/jmoiron/sqlx"
)

// subscriberRow is the sqlx mapping of the subscribers table
type subscriberRow struct {
	Identity      string       `db:"identity"`
	ExpiresAt     time.Time    `db:"expires_at"`
	LastPaymentAt time.Time    `db:"last_payment_at"`
	Status        string       `db:"status"`
	ExpiredAt     sql.NullTime `db:"expired_at"`
}

func (r subscriberRow) toDomain() domain.Subscriber {
	rec := domain.Subscriber{
		Identity:      r.Identity,
		ExpiresAt:     r.ExpiresAt,
		LastPaymentAt: r.LastPaymentAt,
		Status:        domain.SubscriberStatus(r.Status),
	}
	if r.ExpiredAt.Valid {
		t := r.ExpiredAt.Time
		rec.ExpiredAt = &t
	}
	return rec
}

func fromDomain(rec domain.Subscriber) subscriberRow {
	row := subscriberRow{
		Identity:      rec.Identity,
		ExpiresAt:     rec.ExpiresAt,
		LastPaymentAt: rec.LastPaymentAt,
		Status:        string(rec.Status),
	}
	if rec.ExpiredAt != nil {
		row.ExpiredAt = sql.NullTime{Time: *rec.ExpiredAt, Valid: true}
	}
	return row
}

// PostgresStore реализует SubscriberStore для PostgreSQL. Each Upsert is a
// single INSERT ... ON CONFLICT statement, atomic on its own.
type PostgresStore struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresStore создает новый экземпляр хранилища для PostgreSQL.
func NewPostgresStore(db *sqlx.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:  db,
		log: log,
	}
}

// Get возвращает подписчика по идентификатору
func (r *PostgresStore) Get(ctx context.Context, identity string) (domain.Subscriber, error) {
	var row subscriberRow
	query := `
        SELECT identity, expires_at, last_payment_at, status, expired_at
        FROM subscribers
        WHERE identity = $1`

	err := r.db.GetContext(ctx, &row, query, identity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Subscriber{}, ErrNotFound
		}
		r.log.Errorw("Failed to get subscriber from DB", "error", err, "identity", identity)
		return domain.Subscriber{}, domain.NewStoreError("get", identity, err)
	}
	return row.toDomain(), nil
}

// Upsert создает или заменяет запись подписчика
func (r *PostgresStore) Upsert(ctx context.Context, rec domain.Subscriber) error {
	if err := validateRecord(rec); err != nil {
		return fmt.Errorf("upsert %q: %w", rec.Identity, err)
	}

	query := `
        INSERT INTO subscribers (identity, expires_at, last_payment_at, status, expired_at, updated_at)
        VALUES (:identity, :expires_at, :last_payment_at, :status, :expired_at, now())
        ON CONFLICT (identity) DO UPDATE SET
            expires_at = EXCLUDED.expires_at,
            last_payment_at = EXCLUDED.last_payment_at,
            status = EXCLUDED.status,
            expired_at = EXCLUDED.expired_at,
            updated_at = now()`

	if _, err := r.db.NamedExecContext(ctx, query, fromDomain(rec)); err != nil {
		r.log.Errorw("Failed to upsert subscriber in DB", "error", err, "identity", rec.Identity)
		return domain.NewStoreError("upsert", rec.Identity, err)
	}

	r.log.Debugw("Subscriber persisted", "identity", rec.Identity, "status", rec.Status)
	return nil
}

// ScanAll возвращает всех подписчиков
func (r *PostgresStore) ScanAll(ctx context.Context) ([]domain.Subscriber, error) {
	var rows []subscriberRow
	query := `
        SELECT identity, expires_at, last_payment_at, status, expired_at
        FROM subscribers
        ORDER BY identity`

	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		r.log.Errorw("Failed to scan subscribers", "error", err)
		return nil, domain.NewStoreError("scan", "", err)
	}

	out := make([]domain.Subscriber, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Close закрывает подключение
func (r *PostgresStore) Close() error {
	return r.db.Close()
}
