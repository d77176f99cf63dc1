package allocation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tutormesh/coordinator/internal/assignment"
	"github.com/tutormesh/coordinator/internal/domain"
)

// RatingProvider resolves the rating and opt-out flag the commit-time
// re-verification needs to recompute the same load cap the engine used,
// so both passes apply an identical threshold. Satisfied by
// DirectoryRatingProvider, which adapts *assignment.HTTPDirectory's
// CandidateRating method.
type RatingProvider interface {
	RatingAndOptIn(ctx context.Context, trainerID uuid.UUID) (rating float64, acceptMore bool, err error)
}

// DirectoryRatingProvider adapts a trainer directory's CandidateRating
// method to the RatingProvider interface.
type DirectoryRatingProvider struct {
	Directory interface {
		CandidateRating(ctx context.Context, trainerID uuid.UUID) (float64, bool, error)
	}
}

// RatingAndOptIn implements RatingProvider.
func (p DirectoryRatingProvider) RatingAndOptIn(ctx context.Context, trainerID uuid.UUID) (float64, bool, error) {
	return p.Directory.CandidateRating(ctx, trainerID)
}

// Committer implements assignment.Committer: re-verify the candidate's
// load under an advisory lock, then write the allocation row if headroom
// remains. It is a long-lived collaborator wired once into the Engine
// at startup; every per-attempt detail arrives via Request.
type Committer struct {
	repo    *Repository
	ratings RatingProvider
}

// NewCommitter constructs a Committer.
func NewCommitter(repo *Repository, ratings RatingProvider) *Committer {
	return &Committer{repo: repo, ratings: ratings}
}

// TryCommit re-verifies trainerID's load cap under an advisory lock and,
// if there is still headroom, inserts the allocation row.
func (c *Committer) TryCommit(ctx context.Context, trainerID uuid.UUID, req assignment.Request) (uuid.UUID, error) {
	tx, err := c.repo.BeginTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := c.repo.LockTrainer(ctx, tx, trainerID); err != nil {
		return uuid.Nil, err
	}

	count, err := c.repo.NonTerminalAllocationCountForUpdate(ctx, tx, trainerID)
	if err != nil {
		return uuid.Nil, err
	}

	rating, acceptMore, err := c.ratings.RatingAndOptIn(ctx, trainerID)
	if err != nil {
		return uuid.Nil, err
	}
	cap := assignment.LoadCap(rating)
	if !acceptMore {
		cap = count
	}
	if count >= cap {
		return uuid.Nil, &domain.CommitConflictError{TrainerID: trainerID.String(), Err: fmt.Errorf("load cap reached (%d/%d)", count, cap)}
	}

	a := domain.Allocation{
		ID:        uuid.New(),
		StudentID: req.StudentID,
		TrainerID: &trainerID,
		CourseID:  req.Filters.CourseID,
		Status:    domain.AllocationApproved,
		CreatedAt: now(),
		Metadata: domain.AllocationMetadata{
			PreferredTimeSlot: req.PreferredTimeSlot,
			DeliveryMode:      req.DeliveryMode,
			ClassType:         req.ClassType,
			StartDate:         req.StartDate,
			TotalSessions:     req.TotalSessions,
			PurchaseID:        req.PurchaseID,
		},
	}

	if err := c.repo.Insert(ctx, tx, a); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("allocation: commit transaction: %w", err)
	}
	return a.ID, nil
}
