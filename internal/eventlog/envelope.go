// Package eventlog is a thin layer over a Kafka-API-compatible broker
// that every worker publishes to and consumes from. Each record is keyed
// by the id of the entity it concerns (purchase id, allocation id, or the
// original correlation id for dead letters), so records sharing a key
// land in order on one partition of their topic.
package eventlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topic names for the event log.
const (
	TopicPurchaseConfirmed = "purchase-confirmed"
	TopicPurchaseCreated   = "purchase-created"
	TopicTrainerAllocated  = "trainer-allocated"
	TopicSessionsGenerated = "sessions-generated"
	TopicDeadLetterQueue   = "dead-letter-queue"
)

// Event type discriminants carried in the envelope's "type" field.
const (
	EventPurchaseConfirmed = "PURCHASE_CONFIRMED"
	EventPurchaseCreated   = "PURCHASE_CREATED"
	EventTrainerAllocated  = "TRAINER_ALLOCATED"
	EventSessionsGenerated = "SESSIONS_GENERATED"
	EventDeadLettered      = "DEAD_LETTERED"
)

// EnvelopeVersion is the schema version stamped on every envelope this
// process produces.
const EnvelopeVersion = "1.0.0"

// Metadata is the `_metadata` block present on every envelope.
type Metadata struct {
	EventID       uuid.UUID `json:"eventId"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     int64     `json:"timestamp"`
	Source        string    `json:"source"`
	Version       string    `json:"version"`
}

// Role is who the event concerns, for audit/authorization context.
type Role string

const (
	RoleStudent Role = "student"
	RoleTrainer Role = "trainer"
	RoleAdmin   Role = "admin"
)

// Envelope is the typed core every event carries; event-specific fields
// live in Data as a raw json.RawMessage, decoded by each worker into its
// own schema type (the "tagged union keyed on type" design note).
type Envelope struct {
	Metadata  Metadata        `json:"_metadata"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	UserID    string          `json:"userId"`
	Role      Role            `json:"role"`
	Data      json.RawMessage `json:"-"`
}

// Marshal encodes the envelope with its data fields merged into the
// top-level object.
func (e Envelope) Marshal() ([]byte, error) {
	base := map[string]any{
		"_metadata": e.Metadata,
		"type":      e.Type,
		"timestamp": e.Timestamp,
		"userId":    e.UserID,
		"role":      e.Role,
	}
	if len(e.Data) > 0 {
		var extra map[string]any
		if err := json.Unmarshal(e.Data, &extra); err != nil {
			return nil, err
		}
		for k, v := range extra {
			base[k] = v
		}
	}
	return json.Marshal(base)
}

// Unmarshal decodes a wire envelope, keeping the whole raw message in
// Data so the caller can decode its event-specific fields into its own
// schema type.
func Unmarshal(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	env.Data = raw
	return env, nil
}

// NewMetadata builds envelope metadata for a freshly emitted event.
func NewMetadata(eventID uuid.UUID, correlationID, source string, now time.Time) Metadata {
	return Metadata{
		EventID:       eventID,
		CorrelationID: correlationID,
		Timestamp:     now.UnixMilli(),
		Source:        source,
		Version:       EnvelopeVersion,
	}
}

// PurchaseConfirmedData is the schema for PURCHASE_CONFIRMED.
type PurchaseConfirmedData struct {
	PaymentID   string         `json:"paymentId"`
	StudentID   uuid.UUID      `json:"studentId"`
	CourseID    uuid.UUID      `json:"courseId"`
	AmountCents int64          `json:"amountCents"`
	Metadata    map[string]any `json:"metadata"`
}

// PurchaseCreatedData is the schema for PURCHASE_CREATED.
type PurchaseCreatedData struct {
	PurchaseID   uuid.UUID      `json:"purchaseId"`
	StudentID    uuid.UUID      `json:"studentId"`
	CourseID     uuid.UUID      `json:"courseId"`
	PurchaseTier int            `json:"purchaseTier"`
	Metadata     map[string]any `json:"metadata"`
}

// TrainerAllocatedData is the schema for TRAINER_ALLOCATED.
type TrainerAllocatedData struct {
	AllocationID uuid.UUID  `json:"allocationId"`
	TrainerID    *uuid.UUID `json:"trainerId"`
	StudentID    uuid.UUID  `json:"studentId"`
	CourseID     uuid.UUID  `json:"courseId"`
	SessionCount int        `json:"sessionCount"`
	StartDate    string     `json:"startDate"`
	EndDate      string     `json:"endDate"`
}

// SessionsGeneratedData is the schema for SESSIONS_GENERATED.
type SessionsGeneratedData struct {
	AllocationID uuid.UUID   `json:"allocationId"`
	TrainerID    uuid.UUID   `json:"trainerId"`
	StudentID    uuid.UUID   `json:"studentId"`
	CourseID     uuid.UUID   `json:"courseId"`
	SessionCount int         `json:"sessionCount"`
	SessionIDs   []uuid.UUID `json:"sessionIds"`
	StartDate    string      `json:"startDate"`
}

// DeadLetterData is the payload published to the dead-letter-queue topic
// after the retry executor exhausts its attempts.
type DeadLetterData struct {
	OriginalTopic     string          `json:"originalTopic"`
	OriginalPartition int32           `json:"originalPartition"`
	OriginalOffset    int64           `json:"originalOffset"`
	OriginalEvent     json.RawMessage `json:"originalEvent"`
	FailureReason     string          `json:"failureReason"`
	FailureTimestamp  int64           `json:"failureTimestamp"`
	Attempts          int             `json:"attempts"`
	CorrelationID     string          `json:"correlationId"`
	EventID           uuid.UUID       `json:"eventId"`
}
