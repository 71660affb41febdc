package domain

import (
	"strings"
	"time"
)

// SubscriberStatus статус подписчика
type SubscriberStatus string

const (
	SubscriberStatusActive  SubscriberStatus = "active"
	SubscriberStatusExpired SubscriberStatus = "expired"
)

// Valid reports whether s is a known status
func (s SubscriberStatus) Valid() bool {
	return s == SubscriberStatusActive || s == SubscriberStatusExpired
}

// Subscriber is the persisted access state of one channel member, keyed by
// Identity. Records are never deleted.
type Subscriber struct {
	Identity      string           `json:"identity"`
	ExpiresAt     time.Time        `json:"expires_at"`
	LastPaymentAt time.Time        `json:"last_payment_at"`
	Status        SubscriberStatus `json:"status"`
	ExpiredAt     *time.Time       `json:"expired_at,omitempty"`
}

// IsActive reports whether the record currently grants access
func (s Subscriber) IsActive() bool {
	return s.Status == SubscriberStatusActive
}

// Lapsed reports whether an active record is due for revocation at now.
// Expiry is inclusive: a record expiring exactly at now is lapsed.
func (s Subscriber) Lapsed(now time.Time) bool {
	return s.IsActive() && !s.ExpiresAt.After(now)
}

// Renewed returns the record as written by a confirmed payment at now
func Renewed(identity string, now time.Time, period time.Duration) Subscriber {
	return Subscriber{
		Identity:      identity,
		ExpiresAt:     now.Add(period),
		LastPaymentAt: now,
		Status:        SubscriberStatusActive,
	}
}

// Expired returns a copy of s transitioned to Expired at now
func (s Subscriber) Expired(now time.Time) Subscriber {
	expiredAt := now
	s.Status = SubscriberStatusExpired
	s.ExpiredAt = &expiredAt
	return s
}

// ParseIdentity normalizes a raw subscriber identity. Identities are Telegram
// user ids: non-empty and all ASCII digits.
func ParseIdentity(raw string) (string, error) {
	identity := strings.TrimSpace(raw)
	if identity == "" {
		return "", ErrInvalidIdentity
	}
	for _, r := range identity {
		if r < '0' || r > '9' {
			return "", ErrInvalidIdentity
		}
	}
	return identity, nil
}
