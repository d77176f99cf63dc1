package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutormesh/coordinator/internal/domain"
	"github.com/tutormesh/coordinator/internal/eventlog"
	"github.com/tutormesh/coordinator/internal/idempotency"
	"github.com/tutormesh/coordinator/internal/retry"
)

// fakeEmitter adapts an eventlog.Publisher to retry.Emitter for tests
// that need a DLQPublisher without a real idempotency.Store, forwarding
// straight to Publish rather than performing any ledger dedup.
type fakeEmitter struct {
	pub eventlog.Publisher
}

func (f *fakeEmitter) Emit(ctx context.Context, topic, key, eventType, correlationID string, envelope eventlog.Envelope, _ idempotency.Options) (uuid.UUID, error) {
	payload, err := envelope.Marshal()
	if err != nil {
		return uuid.Nil, err
	}
	if err := f.pub.Publish(ctx, topic, key, payload); err != nil {
		return uuid.Nil, err
	}
	return envelope.Metadata.EventID, nil
}

func envelopeRecord(t *testing.T, topic string, offset int64, correlationID, eventType string) eventlog.Record {
	t.Helper()
	env := eventlog.Envelope{
		Metadata: eventlog.NewMetadata(uuid.New(), correlationID, "test", time.Now()),
		Type:     eventType,
		UserID:   "student-1",
		Role:     eventlog.RoleStudent,
		Data:     json.RawMessage(`{}`),
	}
	raw, err := env.Marshal()
	require.NoError(t, err)
	return eventlog.Record{Topic: topic, Partition: 0, Offset: offset, Key: []byte(correlationID), Value: raw}
}

type countingHandler struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (h *countingHandler) handle(ctx context.Context, env eventlog.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, env.Metadata.CorrelationID)
	return h.fail[env.Metadata.CorrelationID]
}

func (h *countingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHarnessProcessesBatchAndCommitsOnce(t *testing.T) {
	log := eventlog.NewFakeLog()
	log.Enqueue(envelopeRecord(t, "purchase-confirmed", 0, "corr-1", "PURCHASE_CONFIRMED"))
	log.Enqueue(envelopeRecord(t, "purchase-confirmed", 1, "corr-2", "PURCHASE_CONFIRMED"))

	handler := &countingHandler{fail: map[string]error{}}
	executor := retry.NewExecutor(retry.NewDLQPublisher(&fakeEmitter{pub: log}), zerolog.Nop())
	h := New("test-worker", log, handler.handle, executor, retry.Policy{MaxAttempts: 1, Initial: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}, false, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)

	waitFor(t, time.Second, func() bool { return handler.callCount() == 2 })
	h.Stop()
	cancel()

	assert.GreaterOrEqual(t, log.Commits(), 1)
	assert.Equal(t, 0, log.Count(eventlog.TopicDeadLetterQueue))
}

func TestHarnessDeadLettersExhaustedHandlerWithoutBlockingOtherRecords(t *testing.T) {
	log := eventlog.NewFakeLog()
	log.Enqueue(envelopeRecord(t, "purchase-confirmed", 0, "corr-bad", "PURCHASE_CONFIRMED"))
	log.Enqueue(envelopeRecord(t, "purchase-confirmed", 1, "corr-good", "PURCHASE_CONFIRMED"))

	handler := &countingHandler{fail: map[string]error{"corr-bad": errors.New("boom")}}
	executor := retry.NewExecutor(retry.NewDLQPublisher(&fakeEmitter{pub: log}), zerolog.Nop())
	h := New("test-worker", log, handler.handle, executor, retry.Policy{MaxAttempts: 1, Initial: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}, false, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)

	waitFor(t, time.Second, func() bool { return log.Count(eventlog.TopicDeadLetterQueue) == 1 })
	waitFor(t, time.Second, func() bool { return handler.callCount() == 2 })
	h.Stop()
	cancel()
}

func TestHarnessSwallowsExhaustionForBestEffortWorkers(t *testing.T) {
	log := eventlog.NewFakeLog()
	log.Enqueue(envelopeRecord(t, "sessions-generated", 0, "corr-1", "SESSIONS_GENERATED"))

	handler := &countingHandler{fail: map[string]error{"corr-1": domain.ErrPoisonInput}}
	executor := retry.NewExecutor(retry.NewDLQPublisher(&fakeEmitter{pub: log}), zerolog.Nop())
	h := New("cache-worker", log, handler.handle, executor, retry.CachePolicy, true, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)

	waitFor(t, time.Second, func() bool { return handler.callCount() == 1 })
	time.Sleep(20 * time.Millisecond)
	h.Stop()
	cancel()

	assert.Equal(t, 0, log.Count(eventlog.TopicDeadLetterQueue), "swallowed policy must never publish to the dead-letter topic")
}

func TestHarnessSkipsCommitWhenRecordNeverReachesTerminalOutcome(t *testing.T) {
	log := eventlog.NewFakeLog()
	log.Enqueue(envelopeRecord(t, "purchase-confirmed", 0, "corr-stuck", "PURCHASE_CONFIRMED"))

	handler := &countingHandler{fail: map[string]error{"corr-stuck": errors.New("still failing")}}
	executor := retry.NewExecutor(retry.NewDLQPublisher(&fakeEmitter{pub: log}), zerolog.Nop())
	policy := retry.Policy{MaxAttempts: 5, Initial: 200 * time.Millisecond, Multiplier: 1, MaxDelay: 200 * time.Millisecond}
	h := New("test-worker", log, handler.handle, executor, policy, false, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)

	waitFor(t, time.Second, func() bool { return handler.callCount() >= 1 })
	cancel()
	h.Stop()

	assert.Equal(t, 0, log.Commits(), "a record stuck mid-retry when the context is cancelled must not have its offset committed")
	assert.Equal(t, 0, log.Count(eventlog.TopicDeadLetterQueue), "an unresolved record must not be dead-lettered either")
}
