// Package cacheworker invalidates read-model cache keys in response to
// the events that change them.
package cacheworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/cache"
	"github.com/tutormesh/coordinator/internal/domain"
	"github.com/tutormesh/coordinator/internal/eventlog"
	"github.com/tutormesh/coordinator/internal/idempotency"
)

// Worker consumes PURCHASE_CREATED, TRAINER_ALLOCATED, SESSIONS_GENERATED
// and deletes the affected student's cached read models.
type Worker struct {
	cache  *cache.Client
	ledger *idempotency.Store
	log    zerolog.Logger
}

// NewWorker constructs a Worker.
func NewWorker(c *cache.Client, ledger *idempotency.Store, log zerolog.Logger) *Worker {
	return &Worker{cache: c, ledger: ledger, log: log.With().Str("component", "cache_worker").Logger()}
}

// Handle invalidates the cache keys affected by one envelope. Idempotency
// is applied only to suppress duplicate logs, since DEL is itself
// idempotent, so a ledger miss never blocks the invalidation. Every
// failure is logged at WARN and swallowed: the next read rebuilds the
// cache.
func (w *Worker) Handle(ctx context.Context, env eventlog.Envelope) error {
	studentID, correlationID, err := w.extractStudent(env)
	if err != nil {
		w.log.Warn().Err(err).Str("eventType", env.Type).Msg("could not extract student id, skipping invalidation")
		return nil
	}

	log := w.log.With().Str("correlationId", correlationID).Str("eventType", env.Type).Logger()

	keys := []string{cache.StudentHomeKey(studentID.String()), cache.StudentLearningKey(studentID.String())}
	for _, key := range keys {
		if err := w.cache.Invalidate(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache invalidation failed")
		}
	}

	processed, err := w.ledger.IsProcessed(ctx, correlationID, env.Type)
	if err != nil {
		log.Warn().Err(err).Msg("idempotency check failed, marking anyway")
	} else if processed {
		log.Debug().Msg("already recorded for this event, skipping duplicate log")
		return nil
	}

	payload, err := json.Marshal(env.Data)
	if err == nil {
		if err := idempotency.MarkProcessed(ctx, w.ledgerPool(), domain.ProcessedEvent{
			EventID:       env.Metadata.EventID,
			CorrelationID: correlationID,
			EventType:     env.Type,
			Payload:       payload,
			Source:        env.Metadata.Source,
			Version:       env.Metadata.Version,
			ProcessedAt:   time.Now(),
		}); err != nil {
			log.Warn().Err(err).Msg("failed to mark cache invalidation processed")
		}
	}

	return nil
}

// ledgerPool exposes the store's pool for the mark-processed call; the
// idempotency.Store only exposes read operations publicly, so the mark
// goes through the package-level MarkProcessed function against the same
// pool the store was constructed with.
func (w *Worker) ledgerPool() idempotency.Querier {
	return w.ledger.Pool()
}

func (w *Worker) extractStudent(env eventlog.Envelope) (uuid.UUID, string, error) {
	switch env.Type {
	case eventlog.EventPurchaseCreated:
		var data eventlog.PurchaseCreatedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return uuid.Nil, "", fmt.Errorf("decode PURCHASE_CREATED: %w", err)
		}
		return data.StudentID, data.PurchaseID.String(), nil
	case eventlog.EventTrainerAllocated:
		var data eventlog.TrainerAllocatedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return uuid.Nil, "", fmt.Errorf("decode TRAINER_ALLOCATED: %w", err)
		}
		return data.StudentID, data.AllocationID.String(), nil
	case eventlog.EventSessionsGenerated:
		var data eventlog.SessionsGeneratedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return uuid.Nil, "", fmt.Errorf("decode SESSIONS_GENERATED: %w", err)
		}
		return data.StudentID, data.AllocationID.String(), nil
	default:
		return uuid.Nil, "", fmt.Errorf("unsupported event type %q", env.Type)
	}
}
