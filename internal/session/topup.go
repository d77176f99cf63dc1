package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ActiveAllocationLister enumerates allocations in {APPROVED, ACTIVE}, the
// population the periodic top-up sweep checks.
type ActiveAllocationLister interface {
	ListApprovedOrActive(ctx context.Context) ([]uuid.UUID, error)
}

// TopUp runs the periodic rolling-window sweep on its own ticker,
// independent of the event-driven path, using the same
// stop-channel/WaitGroup shutdown idiom as the worker harness.
type TopUp struct {
	worker   *Worker
	lister   ActiveAllocationLister
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// NewTopUp constructs a TopUp sweep.
func NewTopUp(worker *Worker, lister ActiveAllocationLister, interval time.Duration, log zerolog.Logger) *TopUp {
	return &TopUp{
		worker:   worker,
		lister:   lister,
		interval: interval,
		stop:     make(chan struct{}),
		log:      log.With().Str("component", "session_topup").Logger(),
	}
}

// Start runs one sweep immediately, then one every interval, until Stop
// is called.
func (t *TopUp) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.sweep(ctx)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sweep(ctx)
			}
		}
	}()
}

// Stop signals the sweep goroutine to exit and waits for it.
func (t *TopUp) Stop() {
	close(t.stop)
	t.wg.Wait()
}

// sweep tops up each allocation in {APPROVED, ACTIVE} to RollingWindowSize
// if its future-session count is below TopUpThreshold. Failures per
// allocation are isolated; the sweep continues to the next one.
func (t *TopUp) sweep(ctx context.Context) {
	ids, err := t.lister.ListApprovedOrActive(ctx)
	if err != nil {
		t.log.Error().Err(err).Msg("failed to list active allocations for top-up")
		return
	}

	var toppedUp int
	for _, id := range ids {
		if err := t.topUpOne(ctx, id); err != nil {
			t.log.Error().Err(err).Str("allocationId", id.String()).Msg("top-up failed for allocation, continuing sweep")
			continue
		}
		toppedUp++
	}
	t.log.Debug().Int("candidates", len(ids)).Int("processed", toppedUp).Msg("top-up sweep complete")
}

func (t *TopUp) topUpOne(ctx context.Context, allocationID uuid.UUID) error {
	a, err := t.worker.alloc.Get(ctx, allocationID)
	if err != nil {
		return err
	}
	if a.TrainerID == nil {
		return nil
	}

	existing, err := t.worker.repo.CountFuture(ctx, allocationID)
	if err != nil {
		return err
	}
	if existing >= TopUpThreshold {
		return nil
	}

	created, err := t.worker.materialize(ctx, a)
	if err != nil {
		return err
	}
	if len(created) == 0 {
		return nil
	}

	correlationID := allocationID.String()
	if err := t.worker.emitGenerated(ctx, correlationID, a, created); err != nil {
		t.log.Warn().Err(err).Str("allocationId", correlationID).Msg("failed to emit SESSIONS_GENERATED after top-up, best-effort")
	}
	return nil
}
