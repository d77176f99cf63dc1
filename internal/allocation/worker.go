package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/assignment"
	"github.com/tutormesh/coordinator/internal/domain"
	"github.com/tutormesh/coordinator/internal/eventlog"
	"github.com/tutormesh/coordinator/internal/idempotency"
	"github.com/tutormesh/coordinator/internal/zone"
)

// StudentLocator resolves the student's home city and GPS point, the
// input the zone lookup needs.
type StudentLocator interface {
	ResolveLocation(ctx context.Context, studentID uuid.UUID) (cityID string, point zone.Coordinate, err error)
}

// Worker implements the allocation worker: resolve the student's zone,
// run the auto-assignment engine, and record the outcome.
type Worker struct {
	repo        *Repository
	locator     StudentLocator
	zones       *zone.Resolver
	engine      *assignment.Engine
	ledger      *idempotency.Store
	emitter     *idempotency.Emitter
	defaultSlot string
	log         zerolog.Logger
}

// NewWorker constructs a Worker.
func NewWorker(
	repo *Repository,
	locator StudentLocator,
	zones *zone.Resolver,
	engine *assignment.Engine,
	ledger *idempotency.Store,
	emitter *idempotency.Emitter,
	defaultSlot string,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		repo:        repo,
		locator:     locator,
		zones:       zones,
		engine:      engine,
		ledger:      ledger,
		emitter:     emitter,
		defaultSlot: defaultSlot,
		log:         log.With().Str("component", "allocation_worker").Logger(),
	}
}

// Handle processes one PURCHASE_CREATED envelope.
func (w *Worker) Handle(ctx context.Context, env eventlog.Envelope) error {
	var data eventlog.PurchaseCreatedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("%w: decode PURCHASE_CREATED: %v", domain.ErrPoisonInput, err)
	}

	correlationID := data.PurchaseID.String()
	log := w.log.With().Str("correlationId", correlationID).Logger()

	// Step 1: idempotency check.
	processed, err := w.ledger.IsProcessed(ctx, correlationID, eventlog.EventPurchaseCreated)
	if err != nil {
		return err
	}
	if processed {
		log.Debug().Msg("purchase creation already processed, skipping")
		return nil
	}

	// Step 2: resolve the student's base location and covering zone.
	cityID, point, err := w.locator.ResolveLocation(ctx, data.StudentID)
	if err != nil {
		if errors.Is(err, domain.ErrServiceNotAvailable) {
			return w.waitlist(ctx, env, data, correlationID, "student location not resolvable")
		}
		return err
	}

	matches, err := w.zones.Resolve(ctx, cityID, point)
	if err != nil {
		if errors.Is(err, domain.ErrServiceNotAvailable) {
			return w.waitlist(ctx, env, data, correlationID, "no service zone covers student location")
		}
		return err
	}
	cluster := matches[0].Cluster

	tier := domain.PurchaseTier(data.PurchaseTier)
	meta := metadataFromPurchase(data, w.defaultSlot, tier)

	req := assignment.Request{
		StudentID: data.StudentID,
		Filters: assignment.Filters{
			ZoneID:   &cluster.ID,
			CourseID: data.CourseID,
			IsActive: true,
		},
		PreferredTimeSlot: meta.PreferredTimeSlot,
		StudentLocation:   point,
		ZoneRadiusKM:      cluster.RadiusKM,
		StartDate:         meta.StartDate,
		DeliveryMode:      meta.DeliveryMode,
		ClassType:         meta.ClassType,
		TotalSessions:     meta.TotalSessions,
		PurchaseID:        meta.PurchaseID,
	}
	start := meta.StartDate

	result, err := w.engine.Run(ctx, req)
	if err != nil {
		return err
	}

	if !result.Assigned {
		log.Info().Str("message", result.Message).Msg("no trainer available, waitlisting")
		return w.waitlist(ctx, env, data, correlationID, result.Message)
	}

	if err := w.markProcessedStandalone(ctx, env, correlationID, data); err != nil {
		return err
	}

	return w.emitAllocated(ctx, env, correlationID, data, result.AllocationID, &result.TrainerID, start)
}

// waitlist inserts a WAITLISTED allocation row and emits TRAINER_ALLOCATED
// with trainerId=null, so downstream consumers see the allocation exists
// but has no trainer yet.
func (w *Worker) waitlist(ctx context.Context, env eventlog.Envelope, data eventlog.PurchaseCreatedData, correlationID, message string) error {
	tier := domain.PurchaseTier(data.PurchaseTier)
	meta := metadataFromPurchase(data, w.defaultSlot, tier)

	allocationID := uuid.New()
	a := domain.Allocation{
		ID:        allocationID,
		StudentID: data.StudentID,
		TrainerID: nil,
		CourseID:  data.CourseID,
		Status:    domain.AllocationWaitlisted,
		CreatedAt: now(),
		Metadata:  meta,
	}

	tx, err := w.repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := w.repo.Insert(ctx, tx, a); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("allocation: marshal processed-event payload: %w", err)
	}
	if err := idempotency.MarkProcessed(ctx, tx, domain.ProcessedEvent{
		EventID:       env.Metadata.EventID,
		CorrelationID: correlationID,
		EventType:     eventlog.EventPurchaseCreated,
		Payload:       payload,
		Source:        env.Metadata.Source,
		Version:       env.Metadata.Version,
		ProcessedAt:   now(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("allocation: commit waitlist transaction: %w", err)
	}

	w.log.Info().Str("correlationId", correlationID).Str("reason", message).Msg("allocation waitlisted")
	return w.emitAllocated(ctx, env, correlationID, data, allocationID, nil, meta.StartDate)
}

// markProcessedStandalone records the ledger row for the ASSIGNED path,
// where the allocation row itself was already committed by the engine's
// committer under its own transaction.
func (w *Worker) markProcessedStandalone(ctx context.Context, env eventlog.Envelope, correlationID string, data eventlog.PurchaseCreatedData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("allocation: marshal processed-event payload: %w", err)
	}
	return idempotency.MarkProcessed(ctx, w.repo.pool, domain.ProcessedEvent{
		EventID:       env.Metadata.EventID,
		CorrelationID: correlationID,
		EventType:     eventlog.EventPurchaseCreated,
		Payload:       payload,
		Source:        env.Metadata.Source,
		Version:       env.Metadata.Version,
		ProcessedAt:   now(),
	})
}

func (w *Worker) emitAllocated(ctx context.Context, env eventlog.Envelope, correlationID string, data eventlog.PurchaseCreatedData, allocationID uuid.UUID, trainerID *uuid.UUID, start time.Time) error {
	endDate := start.AddDate(0, 0, data.PurchaseTier)
	payload := eventlog.TrainerAllocatedData{
		AllocationID: allocationID,
		TrainerID:    trainerID,
		StudentID:    data.StudentID,
		CourseID:     data.CourseID,
		SessionCount: data.PurchaseTier,
		StartDate:    start.Format("2006-01-02"),
		EndDate:      endDate.Format("2006-01-02"),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("allocation: marshal TRAINER_ALLOCATED data: %w", err)
	}

	outEnv := eventlog.Envelope{
		Metadata:  eventlog.NewMetadata(uuid.New(), correlationID, "allocation-worker", now()),
		Type:      eventlog.EventTrainerAllocated,
		Timestamp: now().UnixMilli(),
		UserID:    data.StudentID.String(),
		Role:      eventlog.RoleStudent,
		Data:      body,
	}

	_, err = w.emitter.Emit(ctx, eventlog.TopicTrainerAllocated, allocationID.String(), eventlog.EventTrainerAllocated, correlationID, outEnv, idempotency.Options{})
	return err
}

// preferredSlot reads metadata.preferredTimeSlot, falling back to def.
func preferredSlot(metadata map[string]any, def string) string {
	if v, ok := metadata["preferredTimeSlot"].(string); ok && v != "" {
		return v
	}
	return def
}

// startDate reads metadata.startDate (date-only or RFC3339), defaulting
// to the current day.
func startDate(metadata map[string]any) time.Time {
	if v, ok := metadata["startDate"].(string); ok && v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return now().Truncate(24 * time.Hour)
}

func metadataFromPurchase(data eventlog.PurchaseCreatedData, defaultSlot string, tier domain.PurchaseTier) domain.AllocationMetadata {
	classType := domain.ClassOneOnOne
	if ct, ok := data.Metadata["classType"].(string); ok && ct != "" {
		classType = domain.ClassType(ct)
	}
	delivery := domain.DeliveryWeekdayDaily
	if dm, ok := data.Metadata["deliveryMode"].(string); ok && dm != "" {
		delivery = domain.DeliveryMode(dm)
	}
	return domain.AllocationMetadata{
		PreferredTimeSlot: preferredSlot(data.Metadata, defaultSlot),
		DeliveryMode:      delivery,
		ClassType:         classType,
		StartDate:         startDate(data.Metadata),
		TotalSessions:     int(tier),
		PurchaseID:        data.PurchaseID,
	}
}
