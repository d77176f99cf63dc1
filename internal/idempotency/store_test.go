package idempotency

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutormesh/coordinator/internal/domain"
)

// fakeQuerier is an in-memory Querier enforcing the same
// (correlation_id, event_type) uniqueness the real migration's unique
// index does, so insertIfAbsent's race-loser path can be exercised
// without a database.
type fakeQuerier struct {
	mu   sync.Mutex
	rows map[string]uuid.UUID
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{rows: map[string]uuid.UUID{}}
}

func rowKey(correlationID, eventType string) string {
	return correlationID + "|" + eventType
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	eventID := args[0].(uuid.UUID)
	eventType := args[1].(string)
	correlationID := args[2].(string)
	k := rowKey(correlationID, eventType)

	if _, exists := f.rows[k]; exists {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
	}
	f.rows[k] = eventID
	return pgconn.CommandTag{}, nil
}

func (f *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()

	correlationID := args[0].(string)
	eventType := args[1].(string)
	id, ok := f.rows[rowKey(correlationID, eventType)]
	return fakeRow{id: id, found: ok}
}

type fakeRow struct {
	id    uuid.UUID
	found bool
}

func (r fakeRow) Scan(dest ...any) error {
	if !r.found {
		return pgx.ErrNoRows
	}
	ptr, ok := dest[0].(*uuid.UUID)
	if !ok {
		return fmt.Errorf("unexpected scan destination")
	}
	*ptr = r.id
	return nil
}

func newRecord(correlationID, eventType string) domain.ProcessedEvent {
	return domain.ProcessedEvent{
		EventID:       uuid.New(),
		CorrelationID: correlationID,
		EventType:     eventType,
		Payload:       []byte(`{}`),
		Source:        "test",
		Version:       "v1",
		ProcessedAt:   time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
	}
}

func TestLookupReturnsNotFoundForMissingRow(t *testing.T) {
	q := newFakeQuerier()
	_, ok, err := lookup(context.Background(), q, "corr-1", "PurchaseConfirmed")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertIfAbsentFirstCallWins(t *testing.T) {
	q := newFakeQuerier()
	record := newRecord("corr-1", "PurchaseConfirmed")

	id, err := insertIfAbsent(context.Background(), q, record)
	require.NoError(t, err)
	assert.Equal(t, record.EventID, id)

	found, ok, err := lookup(context.Background(), q, "corr-1", "PurchaseConfirmed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record.EventID, found)
}

// A second insertIfAbsent for the same (correlationID, eventType) must
// lose the race and hand back the first call's eventID, never its own.
func TestInsertIfAbsentSecondCallLosesRaceAndReturnsWinnersID(t *testing.T) {
	q := newFakeQuerier()
	first := newRecord("corr-1", "PurchaseConfirmed")
	second := newRecord("corr-1", "PurchaseConfirmed")
	require.NotEqual(t, first.EventID, second.EventID)

	firstID, err := insertIfAbsent(context.Background(), q, first)
	require.NoError(t, err)

	secondID, err := insertIfAbsent(context.Background(), q, second)
	require.NoError(t, err)

	assert.Equal(t, firstID, secondID)
	assert.Equal(t, first.EventID, secondID)
}

func TestInsertIfAbsentDistinguishesEventTypeWithSameCorrelationID(t *testing.T) {
	q := newFakeQuerier()
	confirmed := newRecord("corr-1", "PurchaseConfirmed")
	allocated := newRecord("corr-1", "TrainerAllocated")

	id1, err := insertIfAbsent(context.Background(), q, confirmed)
	require.NoError(t, err)
	id2, err := insertIfAbsent(context.Background(), q, allocated)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}
