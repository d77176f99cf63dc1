package retry

import (
	"context"
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
)

type fakePublisher struct {
	mu    sync.Mutex
	calls int
	topic string
	key   string
}

func (f *fakePublisher) Emit(ctx context.Context, topic, key, eventType, correlationID string, envelope eventlog.Envelope, opts idempotency.Options) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.topic = topic
	f.key = key
	return envelope.Metadata.EventID, nil
}

var errBoom = errors.New("boom")

func newTestExecutor(pub *fakePublisher) *Executor {
	return NewExecutor(NewDLQPublisher(pub), zerolog.Nop())
}

func TestRunSucceedsWithoutRetryingOnFirstAttempt(t *testing.T) {
	pub := &fakePublisher{}
	e := newTestExecutor(pub)

	calls := 0
	err := e.Run(context.Background(), PurchasePolicy, Attempted{CorrelationID: "corr-1"}, func(ctx context.Context) error {
		calls++
		return nil
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, pub.calls)
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	pub := &fakePublisher{}
	e := newTestExecutor(pub)
	policy := Policy{MaxAttempts: 3, Initial: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}

	calls := 0
	err := e.Run(context.Background(), policy, Attempted{CorrelationID: "corr-1"}, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errBoom
		}
		return nil
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, pub.calls)
}

func TestRunDeadLettersOnExhaustion(t *testing.T) {
	pub := &fakePublisher{}
	e := newTestExecutor(pub)
	policy := Policy{MaxAttempts: 3, Initial: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}

	calls := 0
	err := e.Run(context.Background(), policy, Attempted{CorrelationID: "corr-1", EventType: "PurchaseConfirmed"}, func(ctx context.Context) error {
		calls++
		return errBoom
	}, false)

	require.Error(t, err)
	var dlqErr *domain.DeadLetterError
	require.ErrorAs(t, err, &dlqErr)
	assert.Equal(t, policy.MaxAttempts, dlqErr.Attempts)
	assert.Equal(t, policy.MaxAttempts, calls)
	assert.Equal(t, 1, pub.calls)
}

func TestRunSwallowsExhaustionWhenConfigured(t *testing.T) {
	pub := &fakePublisher{}
	e := newTestExecutor(pub)
	policy := Policy{MaxAttempts: 2, Initial: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}

	err := e.Run(context.Background(), policy, Attempted{CorrelationID: "corr-1"}, func(ctx context.Context) error {
		return errBoom
	}, true)

	assert.NoError(t, err)
	assert.Equal(t, 0, pub.calls, "swallowed handlers must not publish to the dead-letter topic")
}

func TestRunShortCircuitsOnPoisonInputWithoutExhaustingAttempts(t *testing.T) {
	pub := &fakePublisher{}
	e := newTestExecutor(pub)
	policy := Policy{MaxAttempts: 5, Initial: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}

	calls := 0
	err := e.Run(context.Background(), policy, Attempted{CorrelationID: "corr-1"}, func(ctx context.Context) error {
		calls++
		return domain.ErrPoisonInput
	}, false)

	require.Error(t, err)
	assert.Equal(t, 1, calls, "poison input must not be retried")
	assert.Equal(t, 1, pub.calls)
}

func TestPolicyDelayGrowsExponentiallyAndCapsAtMaxDelay(t *testing.T) {
	p := Policy{MaxAttempts: 5, Initial: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second}

	assert.Equal(t, time.Second, p.delay(1))
	assert.Equal(t, 2*time.Second, p.delay(2))
	assert.Equal(t, 4*time.Second, p.delay(3))
	assert.Equal(t, 8*time.Second, p.delay(4))
	assert.Equal(t, 10*time.Second, p.delay(5), "must cap at MaxDelay rather than continue compounding")
}
