package assignment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutormesh/coordinator/internal/domain"
	"github.com/tutormesh/coordinator/internal/zone"
)

type fakeDirectory struct {
	candidates []Candidate
	errs       []error // consumed in order, then nil
}

func (f *fakeDirectory) FetchCandidates(ctx context.Context, filters Filters) ([]Candidate, error) {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.candidates, nil
}

type fakeScheduleStore struct {
	conflicted map[uuid.UUID]bool
}

func (f *fakeScheduleStore) HasConflict(ctx context.Context, trainerID uuid.UUID, date time.Time, slot string) (bool, error) {
	return f.conflicted[trainerID], nil
}

type fakeLoadStore struct {
	counts map[uuid.UUID]int
}

func (f *fakeLoadStore) NonTerminalAllocationCount(ctx context.Context, trainerID uuid.UUID) (int, error) {
	return f.counts[trainerID], nil
}

type fakeCommitter struct {
	conflictFor map[uuid.UUID]bool
	committed   []uuid.UUID
}

func (f *fakeCommitter) TryCommit(ctx context.Context, trainerID uuid.UUID, req Request) (uuid.UUID, error) {
	if f.conflictFor[trainerID] {
		return uuid.Nil, &domain.CommitConflictError{TrainerID: trainerID.String()}
	}
	f.committed = append(f.committed, trainerID)
	return uuid.New(), nil
}

func newTestRequest(courseID uuid.UUID) Request {
	return Request{
		StudentID:         uuid.New(),
		Filters:           Filters{CourseID: courseID, IsActive: true},
		PreferredTimeSlot: "16:00",
		StudentLocation:   zone.Coordinate{Lat: 0, Lng: 0},
		ZoneRadiusKM:      25,
		StartDate:         time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		DeliveryMode:      domain.DeliveryWeekdayDaily,
		ClassType:         domain.ClassOneOnOne,
		TotalSessions:     10,
		PurchaseID:        uuid.New(),
	}
}

func TestEngineRanksNearerCandidateFirst(t *testing.T) {
	courseID := uuid.New()
	near := uuid.New()
	far := uuid.New()

	candidates := []Candidate{
		{TrainerID: far, Active: true, CertifiedCourseIDs: map[uuid.UUID]bool{courseID: true}, HasLocation: true, Location: zone.Coordinate{Lat: 0.2, Lng: 0}, Rating: 4.8, AcceptMoreAllocations: true},
		{TrainerID: near, Active: true, CertifiedCourseIDs: map[uuid.UUID]bool{courseID: true}, HasLocation: true, Location: zone.Coordinate{Lat: 0.05, Lng: 0}, Rating: 4.8, AcceptMoreAllocations: true},
	}

	engine := NewEngine(
		&fakeDirectory{candidates: candidates},
		&fakeScheduleStore{conflicted: map[uuid.UUID]bool{}},
		&fakeLoadStore{counts: map[uuid.UUID]int{}},
		&fakeCommitter{conflictFor: map[uuid.UUID]bool{}},
		zerolog.Nop(),
	)

	result, err := engine.Run(context.Background(), newTestRequest(courseID))
	require.NoError(t, err)
	assert.True(t, result.Assigned)
	assert.Equal(t, near, result.TrainerID)
}

func TestEngineExcludesInactiveAndUncertified(t *testing.T) {
	courseID := uuid.New()
	otherCourse := uuid.New()
	inactive := uuid.New()
	uncertified := uuid.New()
	eligible := uuid.New()

	candidates := []Candidate{
		{TrainerID: inactive, Active: false, CertifiedCourseIDs: map[uuid.UUID]bool{courseID: true}, HasLocation: true, Rating: 4.8, AcceptMoreAllocations: true},
		{TrainerID: uncertified, Active: true, CertifiedCourseIDs: map[uuid.UUID]bool{otherCourse: true}, HasLocation: true, Rating: 4.8, AcceptMoreAllocations: true},
		{TrainerID: eligible, Active: true, CertifiedCourseIDs: map[uuid.UUID]bool{courseID: true}, HasLocation: true, Rating: 4.8, AcceptMoreAllocations: true},
	}

	engine := NewEngine(
		&fakeDirectory{candidates: candidates},
		&fakeScheduleStore{conflicted: map[uuid.UUID]bool{}},
		&fakeLoadStore{counts: map[uuid.UUID]int{}},
		&fakeCommitter{conflictFor: map[uuid.UUID]bool{}},
		zerolog.Nop(),
	)

	result, err := engine.Run(context.Background(), newTestRequest(courseID))
	require.NoError(t, err)
	assert.True(t, result.Assigned)
	assert.Equal(t, eligible, result.TrainerID)
}

func TestEngineExcludesOutOfZoneCandidates(t *testing.T) {
	courseID := uuid.New()
	tooFar := uuid.New()

	candidates := []Candidate{
		{TrainerID: tooFar, Active: true, CertifiedCourseIDs: map[uuid.UUID]bool{courseID: true}, HasLocation: true, Location: zone.Coordinate{Lat: 10, Lng: 10}, Rating: 4.8, AcceptMoreAllocations: true},
	}

	engine := NewEngine(
		&fakeDirectory{candidates: candidates},
		&fakeScheduleStore{conflicted: map[uuid.UUID]bool{}},
		&fakeLoadStore{counts: map[uuid.UUID]int{}},
		&fakeCommitter{conflictFor: map[uuid.UUID]bool{}},
		zerolog.Nop(),
	)

	result, err := engine.Run(context.Background(), newTestRequest(courseID))
	require.NoError(t, err)
	assert.False(t, result.Assigned)
}

func TestEngineAppliesRatingTieredLoadCap(t *testing.T) {
	courseID := uuid.New()
	lowRated := uuid.New() // rating 2.0 -> cap 3

	candidates := []Candidate{
		{TrainerID: lowRated, Active: true, CertifiedCourseIDs: map[uuid.UUID]bool{courseID: true}, HasLocation: true, Rating: 2.0, AcceptMoreAllocations: true},
	}

	engine := NewEngine(
		&fakeDirectory{candidates: candidates},
		&fakeScheduleStore{conflicted: map[uuid.UUID]bool{}},
		&fakeLoadStore{counts: map[uuid.UUID]int{lowRated: 3}},
		&fakeCommitter{conflictFor: map[uuid.UUID]bool{}},
		zerolog.Nop(),
	)

	result, err := engine.Run(context.Background(), newTestRequest(courseID))
	require.NoError(t, err)
	assert.False(t, result.Assigned, "load count 3 meets cap 3 for rating 2.0, must be excluded")
}

func TestEngineFallsBackToNextCandidateOnCommitConflict(t *testing.T) {
	courseID := uuid.New()
	first := uuid.New()
	second := uuid.New()

	candidates := []Candidate{
		{TrainerID: first, Active: true, CertifiedCourseIDs: map[uuid.UUID]bool{courseID: true}, HasLocation: true, Location: zone.Coordinate{Lat: 0.01, Lng: 0}, Rating: 4.8, AcceptMoreAllocations: true},
		{TrainerID: second, Active: true, CertifiedCourseIDs: map[uuid.UUID]bool{courseID: true}, HasLocation: true, Location: zone.Coordinate{Lat: 0.1, Lng: 0}, Rating: 4.8, AcceptMoreAllocations: true},
	}

	committer := &fakeCommitter{conflictFor: map[uuid.UUID]bool{first: true}}
	engine := NewEngine(
		&fakeDirectory{candidates: candidates},
		&fakeScheduleStore{conflicted: map[uuid.UUID]bool{}},
		&fakeLoadStore{counts: map[uuid.UUID]int{}},
		committer,
		zerolog.Nop(),
	)

	result, err := engine.Run(context.Background(), newTestRequest(courseID))
	require.NoError(t, err)
	assert.True(t, result.Assigned)
	assert.Equal(t, second, result.TrainerID)
}

func TestEngineWaitlistsWhenDirectoryUnavailable(t *testing.T) {
	courseID := uuid.New()
	boom := assert.AnError

	engine := NewEngine(
		&fakeDirectory{errs: []error{boom, boom, boom}},
		&fakeScheduleStore{conflicted: map[uuid.UUID]bool{}},
		&fakeLoadStore{counts: map[uuid.UUID]int{}},
		&fakeCommitter{conflictFor: map[uuid.UUID]bool{}},
		zerolog.Nop(),
	)

	result, err := engine.Run(context.Background(), newTestRequest(courseID))
	require.NoError(t, err)
	assert.False(t, result.Assigned)
}
