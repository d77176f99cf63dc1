package idempotency

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/domain"
	"github.com/tutormesh/coordinator/internal/eventlog"
)

// Emitter owns the ledger insert and the publish to the event log,
// guaranteeing that calling Emit twice for the same (correlationId,
// eventType) publishes at most once.
type Emitter struct {
	store     *Store
	publisher eventlog.Publisher
	source    string
	log       zerolog.Logger
}

// NewEmitter constructs an Emitter. source is stamped into every envelope
// this process emits (e.g. "purchase-worker").
func NewEmitter(store *Store, publisher eventlog.Publisher, source string, log zerolog.Logger) *Emitter {
	return &Emitter{
		store:     store,
		publisher: publisher,
		source:    source,
		log:       log.With().Str("component", "idempotent_emitter").Logger(),
	}
}

// Options tunes a single Emit call.
type Options struct {
	// Force re-publishes even if the ledger already has a row. No caller
	// in this repository sets it.
	Force bool
}

// Emit checks the ledger for (correlationID, eventType), publishing the
// envelope and inserting the ledger row only if no prior emit won the
// race. topic/key are the event log coordinates; eventType is the
// envelope's discriminant ("type" field).
func (e *Emitter) Emit(ctx context.Context, topic, key, eventType, correlationID string, envelope eventlog.Envelope, opts Options) (uuid.UUID, error) {
	log := e.log.With().Str("correlationId", correlationID).Str("eventType", eventType).Logger()

	if !opts.Force {
		existing, ok, err := e.store.Lookup(ctx, correlationID, eventType)
		if err != nil {
			return uuid.Nil, err
		}
		if ok {
			log.Debug().Str("eventId", existing.String()).Msg("event already emitted, skipping publish")
			return existing, nil
		}
	}

	eventID := envelope.Metadata.EventID
	payload, err := envelope.Marshal()
	if err != nil {
		return uuid.Nil, fmt.Errorf("idempotency: marshal envelope for %s/%s: %w", correlationID, eventType, err)
	}

	record := domain.ProcessedEvent{
		EventID:       eventID,
		CorrelationID: correlationID,
		EventType:     eventType,
		Payload:       payload,
		Source:        e.source,
		Version:       eventlog.EnvelopeVersion,
		ProcessedAt:   now(),
	}

	finalID, err := insertIfAbsent(ctx, e.store.pool, record)
	if err != nil {
		return uuid.Nil, err
	}
	if finalID != eventID {
		// Lost the race to a concurrent emitter; its publish already happened.
		log.Debug().Str("eventId", finalID.String()).Msg("lost emit race, not publishing")
		return finalID, nil
	}

	if err := e.publisher.Publish(ctx, topic, key, payload); err != nil {
		log.Error().Err(err).Msg("ledger row written but publish failed; later emits for this key will not publish")
		return finalID, fmt.Errorf("idempotency: publish %s to %s: %w", eventType, topic, err)
	}

	return finalID, nil
}
