package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/internal/repository"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
)

const (
	testPeriod   = 30 * 24 * time.Hour
	testGrantTTL = 10 * time.Minute
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(unix int64) *fixedClock {
	return &fixedClock{now: time.Unix(unix, 0).UTC()}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(unix int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(unix, 0).UTC()
}

// memStore is an in-memory SubscriberStore with failure injection.
type memStore struct {
	mu      sync.Mutex
	records map[string]domain.Subscriber

	upserts int
	// failUpserts makes the next n upserts fail with a StoreError.
	failUpserts int
	// failIdentity makes every upsert of that identity fail.
	failIdentity string
	scanErr      error
	// getErr makes every Get fail.
	getErr error
	// scanHook runs after the snapshot is taken and before ScanAll returns.
	scanHook func()
}

func newMemStore(records ...domain.Subscriber) *memStore {
	s := &memStore{records: make(map[string]domain.Subscriber)}
	for _, rec := range records {
		s.records[rec.Identity] = rec
	}
	return s
}

func (s *memStore) Get(_ context.Context, identity string) (domain.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.Subscriber{}, s.getErr
	}
	rec, ok := s.records[identity]
	if !ok {
		return domain.Subscriber{}, repository.ErrNotFound
	}
	return rec, nil
}

func (s *memStore) Upsert(_ context.Context, rec domain.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failUpserts > 0 {
		s.failUpserts--
		return domain.NewStoreError("upsert", rec.Identity, errors.New("disk full"))
	}
	if s.failIdentity != "" && s.failIdentity == rec.Identity {
		return domain.NewStoreError("upsert", rec.Identity, errors.New("disk full"))
	}
	s.records[rec.Identity] = rec
	return nil
}

func (s *memStore) ScanAll(context.Context) ([]domain.Subscriber, error) {
	s.mu.Lock()
	if s.scanErr != nil {
		s.mu.Unlock()
		return nil, s.scanErr
	}
	out := make([]domain.Subscriber, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	hook := s.scanHook
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) record(identity string) (domain.Subscriber, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identity]
	return rec, ok
}

func (s *memStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

type fakeVerifier struct {
	verification domain.PaymentVerification
	err          error
	calls        int
}

func (v *fakeVerifier) Verify(_ context.Context, reference string) (domain.PaymentVerification, error) {
	v.calls++
	if v.err != nil {
		return domain.PaymentVerification{}, v.err
	}
	out := v.verification
	out.Reference = reference
	return out, nil
}

func paidBy(identity string) *fakeVerifier {
	return &fakeVerifier{verification: domain.PaymentVerification{
		Status:   "Completed",
		Metadata: map[string]string{domain.DefaultIdentityMetadataKey: identity},
	}}
}

type fakeIssuer struct {
	mu        sync.Mutex
	issued    int
	ttls      []time.Duration
	limits    []int
	revoked   []string
	issueErr  error
	revokeErr error
	// revokeHook runs after every Revoke.
	revokeHook func()
}

func (f *fakeIssuer) Issue(_ context.Context, ttl time.Duration, memberLimit int) (domain.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return domain.Grant{}, f.issueErr
	}
	f.issued++
	f.ttls = append(f.ttls, ttl)
	f.limits = append(f.limits, memberLimit)
	return domain.Grant{
		Link:        "https://t.me/+invite",
		ExpiresAt:   time.Unix(1000, 0).Add(ttl),
		MemberLimit: memberLimit,
	}, nil
}

func (f *fakeIssuer) Revoke(_ context.Context, identity string) error {
	f.mu.Lock()
	f.revoked = append(f.revoked, identity)
	err, hook := f.revokeErr, f.revokeHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeIssuer) issuedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issued
}

func (f *fakeIssuer) revokedIdentities() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

type sentMessage struct {
	identity string
	text     string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, identity, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{identity: identity, text: text})
	return n.err
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, event domain.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type fakeLedger struct {
	mu      sync.Mutex
	seen    map[string]string
	seenErr error
}

func (l *fakeLedger) Seen(_ context.Context, reference string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seenErr != nil {
		return false, l.seenErr
	}
	_, ok := l.seen[reference]
	return ok, nil
}

func (l *fakeLedger) Record(_ context.Context, reference, identity string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string]string)
	}
	l.seen[reference] = identity
	return nil
}

type harness struct {
	store     *memStore
	verifier  *fakeVerifier
	issuer    *fakeIssuer
	notifier  *fakeNotifier
	publisher *fakePublisher
	clock     *fixedClock
	manager   *LifecycleManager
}

func newHarness(store *memStore, verifier *fakeVerifier, opts ...Option) *harness {
	h := &harness{
		store:     store,
		verifier:  verifier,
		issuer:    &fakeIssuer{},
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		clock:     newFixedClock(1000),
	}
	cfg := LifecycleConfig{
		Period:             testPeriod,
		GrantTTL:           testGrantTTL,
		BaseURL:            "https://example.org",
		StoreRetries:       2,
		StoreRetryInterval: time.Millisecond,
	}
	opts = append([]Option{WithClock(h.clock), WithEventPublisher(h.publisher)}, opts...)
	h.manager = NewLifecycleManager(cfg, store, verifier, h.issuer, h.notifier, logger.Nop(), opts...)
	return h
}
