// Package worker implements the shared consumer harness: one
// poll-dispatch-retry-commit loop per topic/consumer-group, wired once
// per event-driven worker.
//
// Uses the same stop-channel+WaitGroup shutdown idiom as the periodic
// top-up sweep, without its ticker: a poll-and-commit consume loop rather
// than a time-based job enqueuer.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/domain"
	"github.com/tutormesh/coordinator/internal/eventlog"
	"github.com/tutormesh/coordinator/internal/retry"
)

// Poller is the subset of *eventlog.Transport the harness consumes.
type Poller interface {
	Poll(ctx context.Context) ([]eventlog.Record, error)
	CommitOffsets(ctx context.Context) error
}

// Handler processes one decoded envelope; returned errors are classified
// and retried by the harness's Executor.
type Handler func(ctx context.Context, env eventlog.Envelope) error

// Harness runs one Handler against one Poller under one retry.Policy,
// committing offsets only after every record in a poll batch has either
// succeeded or been dead-lettered.
type Harness struct {
	name     string
	poller   Poller
	handler  Handler
	executor *retry.Executor
	policy   retry.Policy
	swallow  bool
	stop     chan struct{}
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// New constructs a Harness. swallow matches retry.Executor.Run's
// best-effort flag: true only for the cache worker, since a stale cache
// entry is self-healing and not worth blocking the batch over.
func New(name string, poller Poller, handler Handler, executor *retry.Executor, policy retry.Policy, swallow bool, log zerolog.Logger) *Harness {
	return &Harness{
		name:     name,
		poller:   poller,
		handler:  handler,
		executor: executor,
		policy:   policy,
		swallow:  swallow,
		stop:     make(chan struct{}),
		log:      log.With().Str("worker", name).Logger(),
	}
}

// Start runs the poll loop in a background goroutine until Stop is called
// or ctx is cancelled.
func (h *Harness) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.log.Info().Msg("worker started")
		for {
			select {
			case <-h.stop:
				return
			case <-ctx.Done():
				return
			default:
			}

			records, err := h.poller.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				h.log.Error().Err(err).Msg("poll failed")
				continue
			}
			if len(records) == 0 {
				continue
			}

			batchResolved := true
			for _, rec := range records {
				if err := h.process(ctx, rec); err != nil {
					batchResolved = false
					break
				}
			}

			if !batchResolved {
				h.log.Warn().Msg("batch left an unresolved record, skipping commit so it redelivers")
				continue
			}

			if err := h.poller.CommitOffsets(ctx); err != nil {
				h.log.Error().Err(err).Msg("commit offsets failed")
			}
		}
	}()
}

// process runs one record to a terminal outcome and reports whether the
// batch may still commit. It returns nil once the record has either
// succeeded, been swallowed (best-effort workers), or been
// dead-lettered: all three are safe to commit past. A non-nil return
// (context cancellation during backoff) means the record never reached
// a terminal state, and the caller must not commit this batch so the
// transport redelivers it.
func (h *Harness) process(ctx context.Context, rec eventlog.Record) error {
	env, err := eventlog.Unmarshal(rec.Value)
	if err != nil {
		h.log.Error().Err(err).Str("topic", rec.Topic).Int64("offset", rec.Offset).Msg("malformed envelope, skipping")
		return nil
	}

	attempted := retry.Attempted{
		Topic:         rec.Topic,
		Partition:     rec.Partition,
		Offset:        rec.Offset,
		CorrelationID: env.Metadata.CorrelationID,
		EventType:     env.Type,
		EventID:       env.Metadata.EventID.String(),
		RawEvent:      rec.Value,
	}

	err = h.executor.Run(ctx, h.policy, attempted, func(ctx context.Context) error {
		return h.handler(ctx, env)
	}, h.swallow)
	if err == nil {
		return nil
	}

	var dlqErr *domain.DeadLetterError
	if errors.As(err, &dlqErr) {
		h.log.Error().Err(err).Str("correlationId", env.Metadata.CorrelationID).Msg("handler exhausted retries, dead-lettered")
		return nil
	}

	h.log.Error().Err(err).Str("correlationId", env.Metadata.CorrelationID).Msg("handler did not reach a terminal outcome")
	return err
}

// Stop signals the poll loop to exit and waits up to 30s for it to drain
// its current batch before returning.
func (h *Harness) Stop() {
	close(h.stop)
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("worker stopped")
	case <-time.After(30 * time.Second):
		h.log.Warn().Msg("worker stop timed out, abandoning drain")
	}
}
