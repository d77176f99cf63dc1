package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tutormesh/coordinator/internal/eventlog"
	"github.com/tutormesh/coordinator/internal/idempotency"
)

// Emitter is the idempotent-emit operation DLQPublisher needs, satisfied
// directly by *idempotency.Emitter.
type Emitter interface {
	Emit(ctx context.Context, topic, key, eventType, correlationID string, envelope eventlog.Envelope, opts idempotency.Options) (uuid.UUID, error)
}

// DLQPublisher writes exhausted-retry events to the dead-letter-queue
// topic, carrying everything an operator needs to replay or diagnose the
// failure without decoding the original payload by hand. The write goes
// through the idempotent emitter so a record whose offset was not
// committed and gets redelivered cannot produce a second dead-letter
// message for the same original event.
type DLQPublisher struct {
	emitter Emitter
}

// NewDLQPublisher constructs a DLQPublisher.
func NewDLQPublisher(emitter Emitter) *DLQPublisher {
	return &DLQPublisher{emitter: emitter}
}

// Publish writes one dead-letter message for rec, keyed by the original
// event's correlation id. The idempotency key combines
// EventDeadLettered with rec.EventType, so one correlation id that
// exhausts retries for two different original event types still gets
// two distinct dead-letter entries.
func (d *DLQPublisher) Publish(ctx context.Context, rec Attempted, attempts int, cause error) error {
	eventID, _ := uuid.Parse(rec.EventID)

	msg := eventlog.DeadLetterData{
		OriginalTopic:     rec.Topic,
		OriginalPartition: rec.Partition,
		OriginalOffset:    rec.Offset,
		OriginalEvent:     json.RawMessage(rec.RawEvent),
		FailureReason:     cause.Error(),
		FailureTimestamp:  time.Now().UnixMilli(),
		Attempts:          attempts,
		CorrelationID:     rec.CorrelationID,
		EventID:           eventID,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("retry: marshal dead-letter message: %w", err)
	}

	now := time.Now()
	env := eventlog.Envelope{
		Metadata:  eventlog.NewMetadata(uuid.New(), rec.CorrelationID, "retry-executor", now),
		Type:      eventlog.EventDeadLettered,
		Timestamp: now.UnixMilli(),
		Data:      body,
	}

	dlqEventType := eventlog.EventDeadLettered + ":" + rec.EventType
	if _, err := d.emitter.Emit(ctx, eventlog.TopicDeadLetterQueue, rec.CorrelationID, dlqEventType, rec.CorrelationID, env, idempotency.Options{}); err != nil {
		return fmt.Errorf("retry: publish dead-letter message: %w", err)
	}
	return nil
}
