package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// Префикс ключей обработанных платежей
	paymentReferenceKeyPrefix = "processed_payment:"

	// Provider retries stop long before this
	defaultLedgerTTL = 90 * 24 * time.Hour
)

// RedisPaymentLedger records processed payment references in Redis so a
// re-delivered confirmation can be recognised.
type RedisPaymentLedger struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisPaymentLedger создает новый экземпляр Redis журнала платежей
func NewRedisPaymentLedger(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisPaymentLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisPaymentLedger{
		client: client,
		ttl:    defaultLedgerTTL,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisPaymentLedger) Close() error {
	return r.client.Close()
}

// Seen reports whether reference was already applied
func (r *RedisPaymentLedger) Seen(ctx context.Context, reference string) (bool, error) {
	key := paymentReferenceKeyPrefix + reference

	_, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		r.log.Errorw("Error reading payment ledger", "error", err, "reference", reference)
		return false, fmt.Errorf("failed to read payment ledger: %w", err)
	}
	return true, nil
}

// Record marks reference as applied. Recording an existing reference is not
// an error.
func (r *RedisPaymentLedger) Record(ctx context.Context, reference, identity string) error {
	key := paymentReferenceKeyPrefix + reference

	created, err := r.client.SetNX(ctx, key, identity, r.ttl).Result()
	if err != nil {
		r.log.Errorw("Failed to record payment reference", "error", err, "reference", reference)
		return fmt.Errorf("failed to record payment reference: %w", err)
	}
	if !created {
		r.log.Warnw("Payment reference already recorded", "reference", reference, "identity", identity)
	}
	return nil
}
