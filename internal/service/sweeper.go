package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/google/uuid"
)

// SweepReport summarizes one expiry sweep
type SweepReport struct {
	RunID              uuid.UUID     `json:"run_id"`
	StartedAt          time.Time     `json:"started_at"`
	Scanned            int           `json:"scanned"`
	Candidates         int           `json:"candidates"`
	Expired            int           `json:"expired"`
	Skipped            int           `json:"skipped"`
	Failed             int           `json:"failed"`
	RevocationFailures int           `json:"revocation_failures"`
	Duration           time.Duration `json:"duration"`
}

// Sweeper revokes access for every lapsed subscriber. Only one sweep runs at
// a time; a trigger arriving during a sweep is rejected, not queued.
type Sweeper struct {
	manager *LifecycleManager
	running atomic.Bool
	log     *logger.Logger
}

// NewSweeper создает новый Sweeper
func NewSweeper(manager *LifecycleManager, log *logger.Logger) *Sweeper {
	return &Sweeper{
		manager: manager,
		log:     log,
	}
}

// Running reports whether a sweep is in progress
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Run scans the store and expires every active record with ExpiresAt <= now.
// Per-record failures are counted and do not stop the sweep. It returns
// domain.ErrSweepInProgress when another sweep holds the slot.
//
// A started sweep is not cancellable: cancelling ctx does not interrupt it,
// so a revoked member always ends with an Expired record. External calls
// stay bounded by the call timeout.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (SweepReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.manager.metrics.ObserveSweep("skipped", 0)
		return SweepReport{}, domain.ErrSweepInProgress
	}
	defer s.running.Store(false)
	ctx = context.WithoutCancel(ctx)

	started := time.Now()
	report := SweepReport{RunID: uuid.New(), StartedAt: now}
	log := s.log.With("run_id", report.RunID.String())

	records, err := s.manager.store.ScanAll(ctx)
	if err != nil {
		log.Errorw("Expiry sweep could not scan subscribers", "error", err)
		s.manager.metrics.ObserveSweep("failed", time.Since(started))
		return report, domain.NewLifecycleError("sweep", "", domain.ErrStore, err)
	}
	report.Scanned = len(records)

	active := 0
	for _, rec := range records {
		if !rec.IsActive() {
			continue
		}
		if !rec.Lapsed(now) {
			active++
			continue
		}
		report.Candidates++

		res, err := s.manager.Expire(ctx, rec.Identity, now)
		switch {
		case err != nil:
			report.Failed++
			active++
			log.Errorw("Failed to expire subscriber", "identity", rec.Identity, "error", err)
		case res.Skipped:
			report.Skipped++
			if res.Record.IsActive() {
				active++
			}
		default:
			report.Expired++
			if res.RevocationFailed() {
				report.RevocationFailures++
			}
		}
	}

	report.Duration = time.Since(started)
	s.manager.metrics.SetActiveSubscribers(active)
	s.manager.metrics.ObserveSweep("completed", report.Duration)
	log.Infow("Expiry sweep completed",
		"scanned", report.Scanned,
		"expired", report.Expired,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"revocation_failures", report.RevocationFailures,
		"duration", report.Duration,
	)
	return report, nil
}

// Start runs a sweep every interval until ctx is done. A sweep in progress
// when ctx is done runs to completion before Start returns. A non-positive
// interval disables the loop.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.log.Info("Periodic expiry sweep disabled")
		return
	}
	s.log.Info("Periodic expiry sweep every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Periodic expiry sweep stopped")
			return
		case <-ticker.C:
			if _, err := s.Run(context.WithoutCancel(ctx), s.manager.clock.Now()); err != nil {
				if errors.Is(err, domain.ErrSweepInProgress) {
					s.log.Debug("Previous sweep still running, skipping tick")
					continue
				}
				s.log.Errorw("Scheduled expiry sweep failed", "error", err)
			}
		}
	}
}
