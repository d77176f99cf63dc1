package purchase

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

// StudentCourseValidator checks the referenced student and course exist,
// an external collaborator since the student/course catalogs are out of
// this pipeline's scope.
type StudentCourseValidator interface {
	Exists(ctx context.Context, studentID, courseID uuid.UUID) (bool, error)
}

// Worker implements the purchase worker's confirmation algorithm.
type Worker struct {
	repo      *Repository
	levels    LevelProvider
	validator StudentCourseValidator
	ledger    *idempotency.Store
	emitter   *idempotency.Emitter
	log       zerolog.Logger
}

// NewWorker constructs a Worker.
func NewWorker(repo *Repository, levels LevelProvider, validator StudentCourseValidator, ledger *idempotency.Store, emitter *idempotency.Emitter, log zerolog.Logger) *Worker {
	return &Worker{
		repo:      repo,
		levels:    levels,
		validator: validator,
		ledger:    ledger,
		emitter:   emitter,
		log:       log.With().Str("component", "purchase_worker").Logger(),
	}
}

// Handle processes one PURCHASE_CONFIRMED envelope.
func (w *Worker) Handle(ctx context.Context, env eventlog.Envelope) error {
	var data eventlog.PurchaseConfirmedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("%w: decode PURCHASE_CONFIRMED: %v", domain.ErrPoisonInput, err)
	}

	correlationID := data.PaymentID
	log := w.log.With().Str("correlationId", correlationID).Logger()

	// Step 1: idempotency check.
	processed, err := w.ledger.IsProcessed(ctx, correlationID, eventlog.EventPurchaseConfirmed)
	if err != nil {
		return err
	}
	if processed {
		log.Debug().Msg("purchase confirmation already processed, skipping")
		return nil
	}

	// Step 2: validate.
	tier, err := extractTier(data.Metadata)
	if err != nil {
		return err
	}
	exists, err := w.validator.Exists(ctx, data.StudentID, data.CourseID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: student or course does not exist", domain.ErrPoisonInput)
	}

	levels, err := w.levels.LevelsForCourse(ctx, data.CourseID)
	if err != nil {
		return err
	}

	purchaseID := uuid.New()
	p := domain.Purchase{
		ID:        purchaseID,
		StudentID: data.StudentID,
		CourseID:  data.CourseID,
		Tier:      tier,
		IsActive:  true,
		CreatedAt: now(),
		Metadata:  data.Metadata,
	}

	tx, err := w.repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Step 3: deactivate prior active rows.
	if err := w.repo.DeactivateActive(ctx, tx, data.StudentID, data.CourseID); err != nil {
		return err
	}

	// Step 4: insert new purchase row.
	if err := w.repo.Insert(ctx, tx, p); err != nil {
		return err
	}

	// Step 5: unlock rows for every level/session at or below tier rank.
	if err := w.repo.UpsertUnlocks(ctx, tx, data.StudentID, data.CourseID, levels, tier.CourseLevelRank()); err != nil {
		return err
	}

	// Step 6: markProcessed, in the same transaction.
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("purchase: marshal processed-event payload: %w", err)
	}
	if err := idempotency.MarkProcessed(ctx, tx, domain.ProcessedEvent{
		EventID:       env.Metadata.EventID,
		CorrelationID: correlationID,
		EventType:     eventlog.EventPurchaseConfirmed,
		Payload:       payload,
		Source:        env.Metadata.Source,
		Version:       env.Metadata.Version,
		ProcessedAt:   now(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("purchase: commit transaction: %w", err)
	}

	// Step 7: emit PURCHASE_CREATED outside the transaction; a failure
	// here is recovered by retry, since the emitter is itself idempotent.
	createdData := eventlog.PurchaseCreatedData{
		PurchaseID:   purchaseID,
		StudentID:    data.StudentID,
		CourseID:     data.CourseID,
		PurchaseTier: int(tier),
		Metadata:     data.Metadata,
	}
	createdPayload, err := json.Marshal(createdData)
	if err != nil {
		return fmt.Errorf("purchase: marshal PURCHASE_CREATED data: %w", err)
	}

	outEnv := eventlog.Envelope{
		Metadata:  eventlog.NewMetadata(uuid.New(), correlationID, "purchase-worker", now()),
		Type:      eventlog.EventPurchaseCreated,
		Timestamp: now().UnixMilli(),
		UserID:    data.StudentID.String(),
		Role:      eventlog.RoleStudent,
		Data:      createdPayload,
	}

	if _, err := w.emitter.Emit(ctx, eventlog.TopicPurchaseCreated, purchaseID.String(), eventlog.EventPurchaseCreated, correlationID, outEnv, idempotency.Options{}); err != nil {
		return err
	}

	return nil
}

// extractTier reads metadata.purchaseTier and validates it is one of the
// three supported tiers.
func extractTier(metadata map[string]any) (domain.PurchaseTier, error) {
	raw, ok := metadata["purchaseTier"]
	if !ok {
		return 0, fmt.Errorf("%w: metadata.purchaseTier missing", domain.ErrPoisonInput)
	}
	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case int:
		value = float64(v)
	default:
		return 0, fmt.Errorf("%w: metadata.purchaseTier has unexpected type %T", domain.ErrPoisonInput, raw)
	}

	tier := domain.PurchaseTier(int(value))
	if !tier.Valid() {
		return 0, fmt.Errorf("%w: purchase tier %d not in {10,20,30}", domain.ErrPoisonInput, int(tier))
	}
	return tier, nil
}
