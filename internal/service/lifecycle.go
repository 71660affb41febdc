package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/internal/metrics"
	"github.com/Dhoini/channel-gatekeeper/internal/repository"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultCallTimeout bounds every call to an external collaborator
	DefaultCallTimeout = 15 * time.Second

	// MinGrantTTL is the shortest invite lifetime the issuer accepts
	MinGrantTTL = 60 * time.Second

	// Invitations admit exactly one member
	grantMemberLimit = 1

	defaultStoreRetries       = 3
	defaultStoreRetryInterval = 200 * time.Millisecond
)

// Best-effort operations recorded in results
const (
	OpNotify       = "notify"
	OpPublishEvent = "publish_event"
	OpLedgerCheck  = "ledger_check"
	OpLedgerRecord = "ledger_record"
	OpRevoke       = "revoke"
)

// ConfirmOutcome результат обработки подтверждения платежа
type ConfirmOutcome string

const (
	OutcomeGranted   ConfirmOutcome = "granted"
	OutcomeIgnored   ConfirmOutcome = "ignored"
	OutcomeDuplicate ConfirmOutcome = "duplicate"
)

// IgnoreReason explains an ignored confirmation
type IgnoreReason string

const (
	IgnoreMissingReference IgnoreReason = "missing_reference"
	IgnoreStatus           IgnoreReason = "status"
	IgnoreIdentity         IgnoreReason = "identity"
)

// Attempt is the outcome of a best-effort side effect. A failed attempt never
// fails the surrounding operation.
type Attempt struct {
	Op  string
	Err error
}

// OK reports whether the side effect succeeded
func (a Attempt) OK() bool { return a.Err == nil }

// ConfirmResult describes what ConfirmPayment did
type ConfirmResult struct {
	Outcome   ConfirmOutcome
	Reason    IgnoreReason
	Reference string
	Status    string
	Identity  string
	Record    domain.Subscriber
	Grant     domain.Grant
	Attempts  []Attempt
}

// Attempt returns the recorded best-effort attempt for op
func (r ConfirmResult) Attempt(op string) (Attempt, bool) {
	return findAttempt(r.Attempts, op)
}

// ExpireResult describes what Expire did for one identity
type ExpireResult struct {
	Identity string
	Expired  bool
	// Skipped is set when the record was absent, not active or no longer
	// lapsed once the identity lock was held.
	Skipped  bool
	Record   domain.Subscriber
	Attempts []Attempt
}

// Attempt returns the recorded best-effort attempt for op
func (r ExpireResult) Attempt(op string) (Attempt, bool) {
	return findAttempt(r.Attempts, op)
}

// RevocationFailed reports whether the member could not be removed
func (r ExpireResult) RevocationFailed() bool {
	a, ok := r.Attempt(OpRevoke)
	return ok && !a.OK()
}

func findAttempt(attempts []Attempt, op string) (Attempt, bool) {
	for _, a := range attempts {
		if a.Op == op {
			return a, true
		}
	}
	return Attempt{}, false
}

// LifecycleConfig holds the tunables of the lifecycle manager
type LifecycleConfig struct {
	// Period is the access duration bought by one payment
	Period time.Duration
	// GrantTTL is the invite lifetime, raised to MinGrantTTL if shorter
	GrantTTL time.Duration
	// AcceptedStatuses are the provider statuses meaning "paid"
	AcceptedStatuses domain.StatusSet
	// IdentityMetadataKey names the payment metadata field with the identity
	IdentityMetadataKey string
	CallTimeout         time.Duration
	// BaseURL is used to build the renewal link in expiry notices
	BaseURL            string
	StoreRetries       uint64
	StoreRetryInterval time.Duration
}

func (c LifecycleConfig) withDefaults() LifecycleConfig {
	if c.Period <= 0 {
		c.Period = 30 * 24 * time.Hour
	}
	if c.GrantTTL < MinGrantTTL {
		c.GrantTTL = MinGrantTTL
	}
	if len(c.AcceptedStatuses) == 0 {
		c.AcceptedStatuses = domain.NewStatusSet("Completed", "Credit", "Success")
	}
	if c.IdentityMetadataKey == "" {
		c.IdentityMetadataKey = domain.DefaultIdentityMetadataKey
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.StoreRetries == 0 {
		c.StoreRetries = defaultStoreRetries
	}
	if c.StoreRetryInterval <= 0 {
		c.StoreRetryInterval = defaultStoreRetryInterval
	}
	return c
}

// LifecycleManager turns confirmed payments into grants and lapsed records
// into revocations. Every read-then-write on a record runs under that
// identity's lock.
type LifecycleManager struct {
	cfg       LifecycleConfig
	store     repository.SubscriberStore
	verifier  PaymentVerifier
	issuer    AccessGrantIssuer
	notifier  Notifier
	publisher EventPublisher
	ledger    repository.PaymentLedger
	metrics   metrics.LifecycleMetrics
	clock     Clock
	locks     *KeyedMutex
	log       *logger.Logger
}

// Option настраивает LifecycleManager
type Option func(*LifecycleManager)

// WithLedger enables duplicate detection by payment reference
func WithLedger(ledger repository.PaymentLedger) Option {
	return func(m *LifecycleManager) { m.ledger = ledger }
}

// WithEventPublisher sets the lifecycle event sink
func WithEventPublisher(publisher EventPublisher) Option {
	return func(m *LifecycleManager) {
		if publisher != nil {
			m.publisher = publisher
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(lm metrics.LifecycleMetrics) Option {
	return func(m *LifecycleManager) {
		if lm != nil {
			m.metrics = lm
		}
	}
}

// WithClock overrides the wall clock
func WithClock(clock Clock) Option {
	return func(m *LifecycleManager) { m.clock = clock }
}

// NewLifecycleManager создает новый менеджер жизненного цикла подписчиков
func NewLifecycleManager(
	cfg LifecycleConfig,
	store repository.SubscriberStore,
	verifier PaymentVerifier,
	issuer AccessGrantIssuer,
	notifier Notifier,
	log *logger.Logger,
	opts ...Option,
) *LifecycleManager {
	m := &LifecycleManager{
		cfg:       cfg.withDefaults(),
		store:     store,
		verifier:  verifier,
		issuer:    issuer,
		notifier:  notifier,
		publisher: noopPublisher{},
		metrics:   metrics.Noop(),
		clock:     RealClock(),
		locks:     NewKeyedMutex(),
		log:       log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration
func (m *LifecycleManager) Config() LifecycleConfig {
	return m.cfg
}

// ConfirmPayment verifies reference with the provider and, when paid, issues
// a fresh single-use invite and resets the subscriber to Active until
// now+Period. Ignored and duplicate confirmations return a nil error;
// verification, grant and store failures are returned so the provider
// re-delivers.
func (m *LifecycleManager) ConfirmPayment(ctx context.Context, reference string) (ConfirmResult, error) {
	reference = strings.TrimSpace(reference)
	result := ConfirmResult{Reference: reference}

	if reference == "" {
		m.log.Warn("Payment confirmation without reference, ignoring")
		return m.ignore(result, IgnoreMissingReference), nil
	}

	verification, err := m.verify(ctx, reference)
	if err != nil {
		m.log.Errorw("Payment verification failed", "reference", reference, "error", err)
		m.metrics.IncConfirmationError("verification")
		return result, domain.NewLifecycleError("confirm_payment", "", domain.ErrVerification, err)
	}
	result.Status = verification.Status

	if !m.cfg.AcceptedStatuses.Contains(verification.Status) {
		m.log.Infow("Payment not completed, ignoring", "reference", reference, "status", verification.Status)
		return m.ignore(result, IgnoreStatus), nil
	}

	identity, err := domain.ParseIdentity(verification.Metadata[m.cfg.IdentityMetadataKey])
	if err != nil {
		m.log.Warnw("Payment without usable identity, ignoring",
			"reference", reference, "metadata_key", m.cfg.IdentityMetadataKey)
		return m.ignore(result, IgnoreIdentity), nil
	}
	result.Identity = identity

	unlock := m.locks.Lock(identity)
	defer unlock()

	if m.ledger != nil {
		seen, err := m.ledgerSeen(ctx, reference)
		if err != nil {
			// Ledger outage falls back to treating the payment as new.
			m.log.Warnw("Payment ledger unavailable", "reference", reference, "error", err)
			m.metrics.IncBestEffortFailure(OpLedgerCheck)
			result.Attempts = append(result.Attempts, Attempt{Op: OpLedgerCheck, Err: err})
		} else if seen {
			m.log.Infow("Payment reference already applied", "reference", reference, "identity", identity)
			result.Outcome = OutcomeDuplicate
			m.metrics.IncConfirmation(string(OutcomeDuplicate))
			return result, nil
		}
	}

	previous, err := m.store.Get(ctx, identity)
	switch {
	case err == nil:
		m.log.Debugw("Renewing subscriber", "identity", identity, "previous_status", previous.Status, "previous_expires_at", previous.ExpiresAt)
	case errors.Is(err, repository.ErrNotFound):
		m.log.Debugw("New subscriber", "identity", identity)
	default:
		// No invite is issued against a store that cannot be read.
		m.log.Errorw("Failed to read subscriber before issuing invite", "identity", identity, "reference", reference, "error", err)
		m.metrics.IncConfirmationError("store")
		return result, domain.NewLifecycleError("confirm_payment", identity, domain.ErrStore, err)
	}

	grant, err := m.issue(ctx)
	if err != nil {
		m.log.Errorw("Failed to issue invite", "identity", identity, "reference", reference, "error", err)
		m.metrics.IncConfirmationError("grant")
		return result, domain.NewLifecycleError("confirm_payment", identity, domain.ErrGrantIssuance, err)
	}
	result.Grant = grant

	now := m.clock.Now()
	rec := domain.Renewed(identity, now, m.cfg.Period)
	if err := m.upsert(ctx, rec); err != nil {
		// The invite is not delivered and expires unused.
		m.log.Errorw("Failed to persist subscriber after issuing invite",
			"identity", identity, "reference", reference, "invite_expires_at", grant.ExpiresAt, "error", err)
		m.metrics.IncConfirmationError("store")
		return result, domain.NewLifecycleError("confirm_payment", identity, domain.ErrStore, err)
	}
	result.Outcome = OutcomeGranted
	result.Record = rec

	if m.ledger != nil {
		result.Attempts = append(result.Attempts, m.bestEffort(ctx, OpLedgerRecord, identity, domain.ErrStore, func(ctx context.Context) error {
			return m.ledger.Record(ctx, reference, identity)
		}))
	}
	text := grantMessage(grant.Link, m.cfg.GrantTTL, m.cfg.Period)
	result.Attempts = append(result.Attempts, m.bestEffort(ctx, OpNotify, identity, domain.ErrNotification, func(ctx context.Context) error {
		return m.notifier.Notify(ctx, identity, text)
	}))
	event := domain.NewLifecycleEvent(domain.LifecycleEventActivated, rec, reference, now)
	result.Attempts = append(result.Attempts, m.bestEffort(ctx, OpPublishEvent, identity, domain.ErrExternalServiceUnavailable, func(ctx context.Context) error {
		return m.publisher.Publish(ctx, event)
	}))

	m.metrics.IncConfirmation(string(OutcomeGranted))
	m.log.Infow("Subscriber activated", "identity", identity, "reference", reference, "expires_at", rec.ExpiresAt)
	return result, nil
}

// Expire moves identity from Active to Expired if its record is still lapsed
// at now. The member is removed from the channel and told how to renew; both
// are best-effort. Only a store failure is returned.
func (m *LifecycleManager) Expire(ctx context.Context, identity string, now time.Time) (ExpireResult, error) {
	result := ExpireResult{Identity: identity}

	unlock := m.locks.Lock(identity)
	defer unlock()

	rec, err := m.store.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			result.Skipped = true
			return result, nil
		}
		return result, domain.NewLifecycleError("expire", identity, domain.ErrStore, err)
	}
	if !rec.Lapsed(now) {
		m.log.Debugw("Subscriber no longer lapsed, skipping", "identity", identity, "status", rec.Status, "expires_at", rec.ExpiresAt)
		result.Skipped = true
		result.Record = rec
		return result, nil
	}

	result.Attempts = append(result.Attempts, m.bestEffort(ctx, OpRevoke, identity, domain.ErrRevocation, func(ctx context.Context) error {
		return m.issuer.Revoke(ctx, identity)
	}))

	expired := rec.Expired(now)
	if err := m.upsert(ctx, expired); err != nil {
		m.log.Errorw("Failed to persist expired subscriber", "identity", identity, "error", err)
		return result, domain.NewLifecycleError("expire", identity, domain.ErrStore, err)
	}
	result.Expired = true
	result.Record = expired

	text := expiryMessage(PayURL(m.cfg.BaseURL, identity))
	result.Attempts = append(result.Attempts, m.bestEffort(ctx, OpNotify, identity, domain.ErrNotification, func(ctx context.Context) error {
		return m.notifier.Notify(ctx, identity, text)
	}))
	event := domain.NewLifecycleEvent(domain.LifecycleEventExpired, expired, "", now)
	result.Attempts = append(result.Attempts, m.bestEffort(ctx, OpPublishEvent, identity, domain.ErrExternalServiceUnavailable, func(ctx context.Context) error {
		return m.publisher.Publish(ctx, event)
	}))

	m.metrics.IncExpired()
	m.log.Infow("Subscriber expired", "identity", identity, "expires_at", rec.ExpiresAt)
	return result, nil
}

func (m *LifecycleManager) ignore(result ConfirmResult, reason IgnoreReason) ConfirmResult {
	result.Outcome = OutcomeIgnored
	result.Reason = reason
	m.metrics.IncConfirmation(string(OutcomeIgnored))
	return result
}

func (m *LifecycleManager) verify(ctx context.Context, reference string) (domain.PaymentVerification, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return m.verifier.Verify(callCtx, reference)
}

func (m *LifecycleManager) issue(ctx context.Context) (domain.Grant, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return m.issuer.Issue(callCtx, m.cfg.GrantTTL, grantMemberLimit)
}

func (m *LifecycleManager) ledgerSeen(ctx context.Context, reference string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return m.ledger.Seen(callCtx, reference)
}

// upsert retries transient store failures with exponential backoff.
// Anything that is not a StoreError is permanent.
func (m *LifecycleManager) upsert(ctx context.Context, rec domain.Subscriber) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.StoreRetryInterval
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, m.cfg.StoreRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := m.store.Upsert(ctx, rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrStore) {
			return backoff.Permanent(err)
		}
		m.log.Warnw("Subscriber upsert failed", "identity", rec.Identity, "attempt", attempt, "error", err)
		return err
	}, retry)
}

func (m *LifecycleManager) bestEffort(ctx context.Context, op, identity string, kind error, fn func(context.Context) error) Attempt {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	if err := fn(callCtx); err != nil {
		m.log.Warnw("Best-effort step failed", "op", op, "identity", identity, "error", err)
		m.metrics.IncBestEffortFailure(op)
		return Attempt{Op: op, Err: domain.NewLifecycleError(op, identity, kind, err)}
	}
	return Attempt{Op: op}
}
