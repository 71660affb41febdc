package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/internal/repository"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
)

func TestSweepExpiresLapsedSubscriber(t *testing.T) {
	h := newHarness(newMemStore(), paidBy("42"))
	ctx := context.Background()

	if _, err := h.manager.ConfirmPayment(ctx, "MOJO-1"); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	sweeper := NewSweeper(h.manager, logger.Nop())
	report, err := sweeper.Run(ctx, time.Unix(1000+2592000+1, 0).UTC())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Scanned != 1 || report.Candidates != 1 || report.Expired != 1 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}

	rec, _ := h.store.record("42")
	if rec.Status != domain.SubscriberStatusExpired || rec.ExpiredAt.Unix() != 1000+2592000+1 {
		t.Errorf("record = %+v", rec)
	}
	if got := h.issuer.revokedIdentities(); len(got) != 1 || got[0] != "42" {
		t.Errorf("revoked = %v", got)
	}

	// Immediate re-run finds nothing to do.
	report, err = sweeper.Run(ctx, time.Unix(1000+2592000+2, 0).UTC())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report.Expired != 0 || report.Candidates != 0 {
		t.Errorf("second report = %+v, want no expirations", report)
	}
	if len(h.issuer.revokedIdentities()) != 1 {
		t.Errorf("revoked again on idempotent sweep")
	}
}

func TestSweepBoundaryIsInclusive(t *testing.T) {
	rec := domain.Renewed("42", time.Unix(1000, 0).UTC(), testPeriod)
	h := newHarness(newMemStore(rec), paidBy("42"))
	sweeper := NewSweeper(h.manager, logger.Nop())

	report, err := sweeper.Run(context.Background(), time.Unix(1000+2592000-1, 0).UTC())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Expired != 0 {
		t.Errorf("expired before ExpiresAt: %+v", report)
	}

	report, err = sweeper.Run(context.Background(), time.Unix(1000+2592000, 0).UTC())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Expired != 1 {
		t.Errorf("not expired at ExpiresAt: %+v", report)
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	start := time.Unix(1000, 0).UTC()
	store := newMemStore(
		domain.Renewed("1", start, time.Hour),
		domain.Renewed("2", start, time.Hour),
		domain.Renewed("3", start, time.Hour),
		domain.Renewed("4", start, testPeriod),
		domain.Renewed("5", start, time.Hour).Expired(start.Add(time.Hour)),
	)
	store.failIdentity = "2"
	h := newHarness(store, paidBy("42"))
	h.issuer.revokeErr = errors.New("user not found")

	report, err := NewSweeper(h.manager, logger.Nop()).Run(context.Background(), start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := SweepReport{Scanned: 5, Candidates: 3, Expired: 2, Failed: 1, RevocationFailures: 2}
	if report.Scanned != want.Scanned || report.Candidates != want.Candidates || report.Expired != want.Expired ||
		report.Failed != want.Failed || report.RevocationFailures != want.RevocationFailures {
		t.Errorf("report = %+v, want %+v", report, want)
	}

	for identity, status := range map[string]domain.SubscriberStatus{
		"1": domain.SubscriberStatusExpired,
		"2": domain.SubscriberStatusActive,
		"3": domain.SubscriberStatusExpired,
		"4": domain.SubscriberStatusActive,
	} {
		rec, _ := store.record(identity)
		if rec.Status != status {
			t.Errorf("record %s status = %q, want %q", identity, rec.Status, status)
		}
	}
}

func TestSweepSkipsRecordRenewedAfterScan(t *testing.T) {
	start := time.Unix(1000, 0).UTC()
	store := newMemStore(domain.Renewed("42", start, time.Hour))
	h := newHarness(store, paidBy("42"))
	now := start.Add(2 * time.Hour)

	store.scanHook = func() {
		h.clock.Set(now.Unix())
		if _, err := h.manager.ConfirmPayment(context.Background(), "MOJO-RENEW"); err != nil {
			t.Errorf("ConfirmPayment: %v", err)
		}
	}

	report, err := NewSweeper(h.manager, logger.Nop()).Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Candidates != 1 || report.Skipped != 1 || report.Expired != 0 {
		t.Errorf("report = %+v, want candidate skipped", report)
	}
	rec, _ := store.record("42")
	if rec.Status != domain.SubscriberStatusActive || rec.ExpiresAt.Unix() != now.Unix()+2592000 {
		t.Errorf("renewed record = %+v", rec)
	}
	if len(h.issuer.revokedIdentities()) != 0 {
		t.Errorf("renewed subscriber was revoked")
	}
}

func TestSweepScanFailure(t *testing.T) {
	store := newMemStore()
	store.scanErr = domain.NewStoreError("scan", "", errors.New("permission denied"))
	h := newHarness(store, paidBy("42"))
	sweeper := NewSweeper(h.manager, logger.Nop())

	if _, err := sweeper.Run(context.Background(), time.Unix(5000, 0)); !errors.Is(err, domain.ErrStore) {
		t.Fatalf("error = %v, want ErrStore", err)
	}
	if sweeper.Running() {
		t.Errorf("sweep slot not released after failure")
	}
}

func TestSweepCoalescesConcurrentRuns(t *testing.T) {
	store := newMemStore(domain.Renewed("42", time.Unix(1000, 0).UTC(), time.Hour))
	entered := make(chan struct{})
	release := make(chan struct{})
	store.scanHook = func() {
		close(entered)
		<-release
	}
	h := newHarness(store, paidBy("42"))
	sweeper := NewSweeper(h.manager, logger.Nop())
	now := time.Unix(1000+7200, 0).UTC()

	var (
		wg     sync.WaitGroup
		first  SweepReport
		runErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, runErr = sweeper.Run(context.Background(), now)
	}()

	<-entered
	if _, err := sweeper.Run(context.Background(), now); !errors.Is(err, domain.ErrSweepInProgress) {
		t.Errorf("overlapping Run error = %v, want ErrSweepInProgress", err)
	}
	store.mu.Lock()
	store.scanHook = nil
	store.mu.Unlock()
	close(release)
	wg.Wait()

	if runErr != nil {
		t.Fatalf("first Run: %v", runErr)
	}
	if first.Expired != 1 {
		t.Errorf("first report = %+v", first)
	}
	if got := h.issuer.revokedIdentities(); len(got) != 1 {
		t.Errorf("revoked = %v, want exactly one revocation", got)
	}
}

func TestSweepManyIdentities(t *testing.T) {
	start := time.Unix(1000, 0).UTC()
	store := newMemStore()
	for i := 0; i < 100; i++ {
		period := time.Hour
		if i%2 == 0 {
			period = testPeriod
		}
		rec := domain.Renewed(fmt.Sprint(1000+i), start, period)
		store.records[rec.Identity] = rec
	}
	h := newHarness(store, paidBy("42"))

	report, err := NewSweeper(h.manager, logger.Nop()).Run(context.Background(), start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Expired != 50 || report.Scanned != 100 {
		t.Errorf("report = %+v", report)
	}
}

func TestSweeperStartStopsOnCancel(t *testing.T) {
	store := newMemStore(domain.Renewed("42", time.Unix(1000, 0).UTC(), time.Hour))
	h := newHarness(store, paidBy("42"))
	h.clock.Set(1000 + 7200)
	sweeper := NewSweeper(h.manager, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if rec, _ := store.record("42"); rec.Status == domain.SubscriberStatusExpired {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("periodic sweep did not expire the record")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Start did not return after cancel")
	}
}

func TestSweeperStartDisabled(t *testing.T) {
	h := newHarness(newMemStore(), paidBy("42"))
	// Returns immediately.
	NewSweeper(h.manager, logger.Nop()).Start(context.Background(), 0)
}

func TestSweepRunsToCompletionWhenCancelled(t *testing.T) {
	store, err := repository.OpenFileStore(filepath.Join(t.TempDir(), "subscribers.json"), logger.Nop())
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	start := time.Unix(1000, 0).UTC()
	for _, identity := range []string{"1", "2"} {
		if err := store.Upsert(context.Background(), domain.Renewed(identity, start, time.Hour)); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	issuer := &fakeIssuer{}
	notifier := &fakeNotifier{}
	manager := NewLifecycleManager(LifecycleConfig{Period: testPeriod, GrantTTL: testGrantTTL},
		store, paidBy("1"), issuer, notifier, logger.Nop())

	// Shutdown arrives while the first member is being removed.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	issuer.revokeHook = cancel

	report, err := NewSweeper(manager, logger.Nop()).Run(ctx, start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Expired != 2 || report.Failed != 0 {
		t.Errorf("report = %+v, want 2 expired and no failures", report)
	}
	if got := issuer.revokedIdentities(); len(got) != 2 {
		t.Errorf("revoked = %v, want both members", got)
	}
	for _, identity := range []string{"1", "2"} {
		rec, err := store.Get(context.Background(), identity)
		if err != nil {
			t.Fatalf("Get %s: %v", identity, err)
		}
		if rec.Status != domain.SubscriberStatusExpired {
			t.Errorf("record %s status = %q, want expired", identity, rec.Status)
		}
	}
	if got := len(notifier.messages()); got != 2 {
		t.Errorf("expiry notices = %d, want 2", got)
	}
}
