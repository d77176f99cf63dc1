// Package purchase implements the purchase worker: it consumes
// PURCHASE_CONFIRMED, writes the purchase and its unlock rows inside one
// transaction, and emits PURCHASE_CREATED.
package purchase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/domain"
)

// Repository persists purchases and their course-level unlock rows.
type Repository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, log zerolog.Logger) *Repository {
	return &Repository{pool: pool, log: log.With().Str("component", "purchase_repository").Logger()}
}

// BeginTx starts a transaction the worker drives the full algorithm in.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

// DeactivateActive clears isActive on every current active purchase for
// (studentID, courseID), so the newly confirmed purchase becomes the
// sole active one.
func (r *Repository) DeactivateActive(ctx context.Context, tx pgx.Tx, studentID, courseID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE course_purchases SET is_active = false WHERE student_id = $1 AND course_id = $2 AND is_active`,
		studentID, courseID,
	)
	if err != nil {
		return fmt.Errorf("purchase: deactivate prior active rows: %w", err)
	}
	return nil
}

// Insert writes the new active purchase row.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, p domain.Purchase) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO course_purchases (id, student_id, course_id, purchase_tier, is_active, created_at, expiry_date, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.StudentID, p.CourseID, int(p.Tier), p.IsActive, p.CreatedAt, p.ExpiryDate, p.Metadata,
	)
	if err != nil {
		return fmt.Errorf("purchase: insert purchase row: %w", err)
	}
	return nil
}

// CourseLevel is one level of a course's curriculum, used only to
// compute which sessions a tier unlocks.
type CourseLevel struct {
	LevelID       uuid.UUID
	Rank          int // foundation=1, development=2, mastery=3
	SessionNumber int // 1-based session number within the course
}

// LevelProvider resolves a course's levels, an external collaborator
// since the course catalog itself is out of this pipeline's scope.
type LevelProvider interface {
	LevelsForCourse(ctx context.Context, courseID uuid.UUID) ([]CourseLevel, error)
}

// UpsertUnlocks writes one progress row per session whose level rank is
// at or below the tier's unlocked rank, idempotently.
func (r *Repository) UpsertUnlocks(ctx context.Context, tx pgx.Tx, studentID, courseID uuid.UUID, levels []CourseLevel, tierRank int) error {
	for _, level := range levels {
		if level.Rank > tierRank {
			continue
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO course_progress (student_id, course_id, level_id, session_number, is_unlocked)
			 VALUES ($1, $2, $3, $4, true)
			 ON CONFLICT (student_id, course_id, level_id, session_number)
			 DO UPDATE SET is_unlocked = true`,
			studentID, courseID, level.LevelID, level.SessionNumber,
		)
		if err != nil {
			return fmt.Errorf("purchase: upsert unlock row for level %s session %d: %w", level.LevelID, level.SessionNumber, err)
		}
	}
	return nil
}

// now is overridable in tests.
var now = time.Now
