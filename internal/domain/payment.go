package domain

import "time"

// DefaultIdentityMetadataKey is the checkout metadata key carrying the
// Telegram user id of the payer.
const DefaultIdentityMetadataKey = "telegram_user_id"

// PaymentVerification is what a payment provider reports for a reference
type PaymentVerification struct {
	Reference string
	Status    string
	Metadata  map[string]string
}

// Grant is a single-use, time-limited invitation to the channel
type Grant struct {
	Link        string    `json:"link"`
	ExpiresAt   time.Time `json:"expires_at"`
	MemberLimit int       `json:"member_limit"`
}

// StatusSet is the set of provider statuses treated as a confirmed payment
type StatusSet map[string]struct{}

// NewStatusSet builds a StatusSet from a list
func NewStatusSet(statuses ...string) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

// Contains reports whether status is accepted
func (s StatusSet) Contains(status string) bool {
	_, ok := s[status]
	return ok
}
