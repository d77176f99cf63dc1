// Package allocation implements the allocation worker: it resolves the
// student's zone, runs the auto-assignment engine, and records the
// resulting allocation as APPROVED or WAITLISTED.
package allocation

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

// Repository persists trainer allocations.
type Repository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, log zerolog.Logger) *Repository {
	return &Repository{pool: pool, log: log.With().Str("component", "allocation_repository").Logger()}
}

// BeginTx starts a transaction for the commit step.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

// Insert writes one allocation row.
func (r *Repository) Insert(ctx context.Context, q Querier, a domain.Allocation) error {
	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("allocation: marshal metadata: %w", err)
	}

	_, err = q.Exec(ctx,
		`INSERT INTO trainer_allocations (id, student_id, trainer_id, course_id, status, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.StudentID, a.TrainerID, a.CourseID, string(a.Status), metaJSON, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("allocation: insert row: %w", err)
	}
	return nil
}

// Get loads one allocation row by id, the input the session worker needs
// to extract startDate, timeSlot, class type, delivery mode, and total
// sessions from metadata.
func (r *Repository) Get(ctx context.Context, allocationID uuid.UUID) (domain.Allocation, error) {
	const query = `
		SELECT id, student_id, trainer_id, course_id, status, metadata, created_at
		FROM trainer_allocations WHERE id = $1`

	var a domain.Allocation
	var status string
	var metaJSON []byte
	err := r.pool.QueryRow(ctx, query, allocationID).Scan(
		&a.ID, &a.StudentID, &a.TrainerID, &a.CourseID, &status, &metaJSON, &a.CreatedAt,
	)
	if err != nil {
		return domain.Allocation{}, fmt.Errorf("allocation: load %s: %w", allocationID, err)
	}
	a.Status = domain.AllocationStatus(status)
	if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
		return domain.Allocation{}, fmt.Errorf("allocation: unmarshal metadata for %s: %w", allocationID, err)
	}
	return a, nil
}

// ListApprovedOrActive returns the ids of every allocation in {APPROVED,
// ACTIVE}, the population the periodic session top-up sweep checks.
func (r *Repository) ListApprovedOrActive(ctx context.Context) ([]uuid.UUID, error) {
	const query = `SELECT id FROM trainer_allocations WHERE status = ANY($1)`

	rows, err := r.pool.Query(ctx, query, []string{string(domain.AllocationApproved), string(domain.AllocationActive)})
	if err != nil {
		return nil, fmt.Errorf("allocation: list approved/active allocations: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("allocation: scan allocation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("allocation: iterate allocation rows: %w", err)
	}
	return ids, nil
}

var nonTerminalStatuses = []string{
	string(domain.AllocationPending),
	string(domain.AllocationApproved),
	string(domain.AllocationActive),
	string(domain.AllocationWaitlisted),
}

// NonTerminalAllocationCount counts a trainer's current non-terminal
// allocations, the input to the load-cap filter.
func (r *Repository) NonTerminalAllocationCount(ctx context.Context, trainerID uuid.UUID) (int, error) {
	return r.nonTerminalCount(ctx, r.pool, trainerID)
}

// LockTrainer takes a transaction-scoped advisory lock keyed on the
// trainer id, serializing concurrent commit attempts against the same
// trainer. An aggregate COUNT cannot itself carry FOR UPDATE, so the
// advisory lock is this repository's re-verification primitive rather
// than a row lock.
func (r *Repository) LockTrainer(ctx context.Context, tx pgx.Tx, trainerID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, trainerID.String()); err != nil {
		return fmt.Errorf("allocation: acquire advisory lock for trainer %s: %w", trainerID, err)
	}
	return nil
}

// NonTerminalAllocationCountForUpdate counts a trainer's non-terminal
// allocations inside tx, to be called only after LockTrainer so the
// count reflects a consistent, serialized view.
func (r *Repository) NonTerminalAllocationCountForUpdate(ctx context.Context, tx pgx.Tx, trainerID uuid.UUID) (int, error) {
	return r.nonTerminalCount(ctx, tx, trainerID)
}

func (r *Repository) nonTerminalCount(ctx context.Context, q Querier, trainerID uuid.UUID) (int, error) {
	const query = `SELECT count(*) FROM trainer_allocations WHERE trainer_id = $1 AND status = ANY($2)`

	var count int
	if err := q.QueryRow(ctx, query, trainerID, nonTerminalStatuses).Scan(&count); err != nil {
		return 0, fmt.Errorf("allocation: count non-terminal allocations for trainer %s: %w", trainerID, err)
	}
	return count, nil
}

// now is overridable in tests.
var now = time.Now
