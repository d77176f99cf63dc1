// Package assignment implements the auto-assignment engine: the
// eligibility filtering, distance/load capping, ranking, and
// transactional commit the allocation worker drives.
package assignment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tutormesh/coordinator/internal/zone"
)

// Candidate is one trainer as returned by the trainer directory.
type Candidate struct {
	TrainerID             uuid.UUID
	Active                bool
	CertifiedCourseIDs    map[uuid.UUID]bool
	Location              zone.Coordinate
	HasLocation           bool
	Rating                float64
	AcceptMoreAllocations bool
}

// Filters narrows the directory query to the candidates worth fetching.
type Filters struct {
	FranchiseID *string
	ZoneID      *uuid.UUID
	CourseID    uuid.UUID
	IsActive    bool
}

// Directory is the external collaborator: a trainer directory service
// queried over HTTP in production, faked in tests.
type Directory interface {
	FetchCandidates(ctx context.Context, filters Filters) ([]Candidate, error)
}

// ScheduleStore answers whether a trainer already has a booking at a
// given slot, used by the hard-filter step to reject conflicts.
type ScheduleStore interface {
	HasConflict(ctx context.Context, trainerID uuid.UUID, date time.Time, slot string) (bool, error)
}

// LoadStore counts a trainer's current non-terminal allocations, the
// input to the load-cap filter.
type LoadStore interface {
	NonTerminalAllocationCount(ctx context.Context, trainerID uuid.UUID) (int, error)
}
