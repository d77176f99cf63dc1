package assignment

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/domain"
	"github.com/tutormesh/coordinator/internal/zone"
)

// Result is the engine's output: either an assigned trainer or a
// waitlisted outcome.
type Result struct {
	Assigned     bool
	TrainerID    uuid.UUID
	AllocationID uuid.UUID
	Message      string
}

// Request bundles every input the engine needs for one allocation
// attempt. The engine and its Committer are long-lived collaborators
// wired once at startup, so every piece of per-attempt state, including
// what the committer needs to write the allocation row, travels through
// Request rather than being baked into either collaborator.
type Request struct {
	StudentID         uuid.UUID
	Filters           Filters
	PreferredTimeSlot string
	StudentLocation   zone.Coordinate
	ZoneRadiusKM      float64
	StartDate         time.Time
	DeliveryMode      domain.DeliveryMode
	ClassType         domain.ClassType
	TotalSessions     int
	PurchaseID        uuid.UUID
}

// fetchRetries is how many times in total (first call included) the
// engine calls the directory before giving up and waitlisting.
const fetchRetries = 3

// Engine runs the auto-assignment algorithm.
type Engine struct {
	directory ScheduleStoreDirectory
	schedule  ScheduleStore
	load      LoadStore
	commit    Committer
	log       zerolog.Logger
}

// ScheduleStoreDirectory is the Directory collaborator, named distinctly
// here only to keep the constructor's parameter list self-documenting.
type ScheduleStoreDirectory = Directory

// Committer performs the transactional commit attempt against one
// candidate: re-verify the candidate's load count under a row lock or
// advisory lock, and if it still has headroom, write the allocation
// row. A conflict (headroom gone, race lost) returns
// domain.CommitConflictError so the engine falls through to the next
// candidate.
type Committer interface {
	TryCommit(ctx context.Context, trainerID uuid.UUID, req Request) (uuid.UUID, error)
}

// NewEngine constructs an Engine.
func NewEngine(directory Directory, schedule ScheduleStore, load LoadStore, commit Committer, log zerolog.Logger) *Engine {
	return &Engine{
		directory: directory,
		schedule:  schedule,
		load:      load,
		commit:    commit,
		log:       log.With().Str("component", "assignment_engine").Logger(),
	}
}

// LoadCap maps a trainer's average rating to their allocation-count cap.
// Exported so the commit-time re-verification (internal/allocation) can
// apply the identical threshold under lock.
func LoadCap(rating float64) int {
	switch {
	case rating >= 4.6:
		return 8
	case rating >= 4.1:
		return 7
	case rating >= 3.6:
		return 6
	case rating >= 3.1:
		return 5
	case rating >= 2.1:
		return 4
	default:
		return 3
	}
}

type ranked struct {
	candidate Candidate
	distance  float64
	load      int
}

// Run executes steps 1-6 of the auto-assignment algorithm.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	candidates, err := e.fetchWithRetry(ctx, req.Filters)
	if err != nil {
		e.log.Warn().Err(err).Msg("trainer directory unavailable after retries, waitlisting")
		return Result{Assigned: false, Message: "trainer directory unavailable"}, nil
	}

	eligible := e.hardFilter(ctx, candidates, req)
	withDistance := e.distanceFilter(eligible, req)
	rankedCandidates, err := e.loadFilterAndRank(ctx, withDistance)
	if err != nil {
		return Result{}, err
	}

	if len(rankedCandidates) == 0 {
		return Result{Assigned: false, Message: "no eligible trainer"}, nil
	}

	for _, c := range rankedCandidates {
		allocationID, err := e.commit.TryCommit(ctx, c.candidate.TrainerID, req)
		if err == nil {
			return Result{Assigned: true, TrainerID: c.candidate.TrainerID, AllocationID: allocationID, Message: "assigned"}, nil
		}

		var conflict *domain.CommitConflictError
		if errors.As(err, &conflict) {
			e.log.Debug().Str("trainerId", c.candidate.TrainerID.String()).Msg("commit conflict, trying next candidate")
			continue
		}
		return Result{}, err
	}

	return Result{Assigned: false, Message: "all candidates lost the commit race"}, nil
}

func (e *Engine) fetchWithRetry(ctx context.Context, filters Filters) ([]Candidate, error) {
	var lastErr error
	delay := time.Second
	for attempt := 1; attempt <= fetchRetries; attempt++ {
		candidates, err := e.directory.FetchCandidates(ctx, filters)
		if err == nil {
			return candidates, nil
		}
		lastErr = err
		if attempt < fetchRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return nil, lastErr
}

func (e *Engine) hardFilter(ctx context.Context, candidates []Candidate, req Request) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if !c.Active {
			continue
		}
		if !c.CertifiedCourseIDs[req.Filters.CourseID] {
			continue
		}
		conflict, err := e.schedule.HasConflict(ctx, c.TrainerID, req.StartDate, req.PreferredTimeSlot)
		if err != nil {
			e.log.Warn().Err(err).Str("trainerId", c.TrainerID.String()).Msg("schedule conflict check failed, skipping candidate")
			continue
		}
		if conflict {
			continue
		}
		out = append(out, c)
	}
	return out
}

// withinZone pairs a candidate with its already-computed distance from
// the student, so the ranking stage doesn't need to recompute it.
type withinZone struct {
	candidate Candidate
	distance  float64
}

func (e *Engine) distanceFilter(candidates []Candidate, req Request) []withinZone {
	var out []withinZone
	for _, c := range candidates {
		if !c.HasLocation {
			continue
		}
		d := zone.HaversineKM(req.StudentLocation, c.Location)
		if d > req.ZoneRadiusKM {
			continue
		}
		out = append(out, withinZone{candidate: c, distance: d})
	}
	return out
}

func (e *Engine) loadFilterAndRank(ctx context.Context, candidates []withinZone) ([]ranked, error) {
	var out []ranked
	for _, wz := range candidates {
		c := wz.candidate
		count, err := e.load.NonTerminalAllocationCount(ctx, c.TrainerID)
		if err != nil {
			return nil, err
		}

		cap := LoadCap(c.Rating)
		if !c.AcceptMoreAllocations {
			cap = count
		}
		if count >= cap {
			continue
		}

		out = append(out, ranked{candidate: c, distance: wz.distance, load: count})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].distance != out[j].distance {
			return out[i].distance < out[j].distance
		}
		if out[i].load != out[j].load {
			return out[i].load < out[j].load
		}
		if out[i].candidate.Rating != out[j].candidate.Rating {
			return out[i].candidate.Rating > out[j].candidate.Rating
		}
		return out[i].candidate.TrainerID.String() < out[j].candidate.TrainerID.String()
	})

	return out, nil
}
