package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/domain"
	"github.com/tutormesh/coordinator/internal/eventlog"
	"github.com/tutormesh/coordinator/internal/idempotency"
)

// AllocationLoader loads an allocation's current row, the source of the
// startDate/timeSlot/classType/deliveryMode/totalSessions the schedule
// generator needs.
type AllocationLoader interface {
	Get(ctx context.Context, allocationID uuid.UUID) (domain.Allocation, error)
}

// Worker implements the session worker's event-driven path.
type Worker struct {
	repo    *Repository
	alloc   AllocationLoader
	ledger  *idempotency.Store
	emitter *idempotency.Emitter
	log     zerolog.Logger
}

// NewWorker constructs a Worker.
func NewWorker(repo *Repository, alloc AllocationLoader, ledger *idempotency.Store, emitter *idempotency.Emitter, log zerolog.Logger) *Worker {
	return &Worker{
		repo:    repo,
		alloc:   alloc,
		ledger:  ledger,
		emitter: emitter,
		log:     log.With().Str("component", "session_worker").Logger(),
	}
}

// Handle processes one TRAINER_ALLOCATED envelope.
func (w *Worker) Handle(ctx context.Context, env eventlog.Envelope) error {
	var data eventlog.TrainerAllocatedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("%w: decode TRAINER_ALLOCATED: %v", domain.ErrPoisonInput, err)
	}

	correlationID := data.AllocationID.String()
	log := w.log.With().Str("correlationId", correlationID).Logger()

	// Step 1: idempotency check.
	processed, err := w.ledger.IsProcessed(ctx, correlationID, eventlog.EventTrainerAllocated)
	if err != nil {
		return err
	}
	if processed {
		log.Debug().Msg("trainer allocation already processed, skipping")
		return nil
	}

	// WAITLISTED allocations carry trainerId=null; nothing to schedule yet.
	// Nothing is recorded in the ledger, so a later TRAINER_ALLOCATED for
	// the same allocation (once assigned) still passes the idempotency
	// check and materialises the window.
	if data.TrainerID == nil {
		return nil
	}

	// Step 2: load the allocation for its schedule metadata.
	a, err := w.alloc.Get(ctx, data.AllocationID)
	if err != nil {
		return err
	}

	created, err := w.materialize(ctx, a)
	if err != nil {
		return err
	}

	if err := w.markOnly(ctx, env, correlationID); err != nil {
		return err
	}

	if len(created) > 0 {
		if err := w.emitGenerated(ctx, correlationID, a, created); err != nil {
			log.Warn().Err(err).Msg("failed to emit SESSIONS_GENERATED, best-effort")
		}
	}
	return nil
}

// materialize counts existing future sessions, computes how many more
// are needed to reach RollingWindowSize, generates the tail of the
// schedule, and inserts it idempotently in one transaction. Shared by
// the event-driven path and the periodic top-up sweep.
func (w *Worker) materialize(ctx context.Context, a domain.Allocation) ([]uuid.UUID, error) {
	existing, err := w.repo.CountFuture(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	needed := RollingWindowSize - existing
	if needed <= 0 {
		return nil, nil
	}

	startNumber := existing + 1
	slots, err := Generate(a.Metadata.DeliveryMode, a.Metadata.ClassType, a.Metadata.TotalSessions, a.Metadata.StartDate, a.Metadata.PreferredTimeSlot, startNumber)
	if err != nil {
		return nil, err
	}
	if len(slots) > needed {
		slots = slots[:needed]
	}

	tx, err := w.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var created []uuid.UUID
	for _, s := range slots {
		id, inserted, err := w.repo.Insert(ctx, tx, a.ID, a.StudentID, *a.TrainerID, s)
		if err != nil {
			return nil, err
		}
		if inserted {
			created = append(created, id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("session: commit materialize transaction: %w", err)
	}
	return created, nil
}

func (w *Worker) markOnly(ctx context.Context, env eventlog.Envelope, correlationID string) error {
	payload, err := json.Marshal(env.Data)
	if err != nil {
		return fmt.Errorf("session: marshal processed-event payload: %w", err)
	}
	return idempotency.MarkProcessed(ctx, w.repo.pool, domain.ProcessedEvent{
		EventID:       env.Metadata.EventID,
		CorrelationID: correlationID,
		EventType:     eventlog.EventTrainerAllocated,
		Payload:       payload,
		Source:        env.Metadata.Source,
		Version:       env.Metadata.Version,
		ProcessedAt:   now(),
	})
}

func (w *Worker) emitGenerated(ctx context.Context, correlationID string, a domain.Allocation, created []uuid.UUID) error {
	payload := eventlog.SessionsGeneratedData{
		AllocationID: a.ID,
		TrainerID:    *a.TrainerID,
		StudentID:    a.StudentID,
		CourseID:     a.CourseID,
		SessionCount: len(created),
		SessionIDs:   created,
		StartDate:    a.Metadata.StartDate.Format("2006-01-02"),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("session: marshal SESSIONS_GENERATED data: %w", err)
	}

	outEnv := eventlog.Envelope{
		Metadata:  eventlog.NewMetadata(uuid.New(), correlationID, "session-worker", now()),
		Type:      eventlog.EventSessionsGenerated,
		Timestamp: now().UnixMilli(),
		UserID:    a.StudentID.String(),
		Role:      eventlog.RoleStudent,
		Data:      body,
	}

	_, err = w.emitter.Emit(ctx, eventlog.TopicSessionsGenerated, a.ID.String(), eventlog.EventSessionsGenerated, correlationID, outEnv, idempotency.Options{})
	return err
}
