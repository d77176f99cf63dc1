package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/domain"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists tutoring sessions.
type Repository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, log zerolog.Logger) *Repository {
	return &Repository{pool: pool, log: log.With().Str("component", "session_repository").Logger()}
}

// BeginTx starts a transaction for the event-driven and top-up insert
// batches.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

var futureStatuses = []string{string(domain.SessionScheduled), string(domain.SessionPending)}

// CountFuture counts an allocation's sessions with status SCHEDULED or
// PENDING and a scheduled date on or after today.
func (r *Repository) CountFuture(ctx context.Context, allocationID uuid.UUID) (int, error) {
	const query = `
		SELECT count(*) FROM tutoring_sessions
		WHERE allocation_id = $1 AND status = ANY($2) AND scheduled_date >= $3`

	var count int
	err := r.pool.QueryRow(ctx, query, allocationID, futureStatuses, today()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("session: count future sessions for allocation %s: %w", allocationID, err)
	}
	return count, nil
}

// metadataPayload is the slot's HYBRID booking flags, persisted alongside
// the row.
type metadataPayload struct {
	IsBookable  bool `json:"isBookable,omitempty"`
	IsFixedTime bool `json:"isFixedTime,omitempty"`
}

// Insert writes one session row, relying on the (allocationId,
// scheduledDate, scheduledTime) unique index for idempotency: a retried
// insert updates updated_at rather than erroring.
func (r *Repository) Insert(ctx context.Context, q Querier, allocationID, studentID, trainerID uuid.UUID, s Slot) (uuid.UUID, bool, error) {
	meta, err := json.Marshal(metadataPayload{IsBookable: s.IsBookable, IsFixedTime: s.IsFixedTime})
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("session: marshal metadata: %w", err)
	}

	id := uuid.New()
	const query = `
		INSERT INTO tutoring_sessions
			(id, allocation_id, student_id, trainer_id, scheduled_date, scheduled_time, status, session_type, session_number, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (allocation_id, scheduled_date, scheduled_time)
		DO UPDATE SET updated_at = excluded.updated_at
		RETURNING id, (xmax = 0) AS inserted`

	var returnedID uuid.UUID
	var inserted bool
	err = q.QueryRow(ctx, query,
		id, allocationID, studentID, trainerID, s.Date, s.Time,
		string(domain.SessionScheduled), string(s.Type), s.SessionNumber, meta, now(),
	).Scan(&returnedID, &inserted)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("session: insert row for allocation %s: %w", allocationID, err)
	}
	return returnedID, inserted, nil
}

// HasConflict implements assignment.ScheduleStore: whether trainerID
// already has a non-cancelled booking at date/slot, checked by the
// engine's hard-filter step before a candidate is ranked.
func (r *Repository) HasConflict(ctx context.Context, trainerID uuid.UUID, date time.Time, slot string) (bool, error) {
	const query = `
		SELECT count(*) FROM tutoring_sessions
		WHERE trainer_id = $1 AND scheduled_date = $2 AND scheduled_time = $3
		  AND status = ANY($4)`

	var count int
	err := r.pool.QueryRow(ctx, query, trainerID, date.Truncate(24*time.Hour), slot, futureStatuses).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("session: check schedule conflict for trainer %s: %w", trainerID, err)
	}
	return count > 0, nil
}

func today() time.Time {
	return now().Truncate(24 * time.Hour)
}

// now is overridable in tests.
var now = time.Now
