// Package domain provides the core entities of the post-purchase
// coordination pipeline: purchases, trainer allocations, tutoring sessions,
// the idempotency ledger row, and stored refresh tokens.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PurchaseTier is the number of sessions a student bought.
type PurchaseTier int

const (
	TierFoundation   PurchaseTier = 10
	TierDevelopment  PurchaseTier = 20
	TierMastery      PurchaseTier = 30
)

// Valid reports whether t is one of the three supported tiers.
func (t PurchaseTier) Valid() bool {
	switch t {
	case TierFoundation, TierDevelopment, TierMastery:
		return true
	default:
		return false
	}
}

// CourseLevelRank returns the highest course-level rank unlocked by the
// tier (foundation=1, development=2, mastery=3).
func (t PurchaseTier) CourseLevelRank() int {
	switch {
	case t >= TierMastery:
		return 3
	case t >= TierDevelopment:
		return 2
	default:
		return 1
	}
}

// Purchase owns one student-course entitlement: at most one active
// purchase per (student, course), unlocking course levels by tier.
type Purchase struct {
	ID          uuid.UUID
	StudentID   uuid.UUID
	CourseID    uuid.UUID
	Tier        PurchaseTier
	IsActive    bool
	CreatedAt   time.Time
	ExpiryDate  *time.Time
	Metadata    map[string]any
}

// AllocationStatus is the lifecycle state of a trainer allocation.
type AllocationStatus string

const (
	AllocationPending    AllocationStatus = "PENDING"
	AllocationApproved   AllocationStatus = "APPROVED"
	AllocationActive     AllocationStatus = "ACTIVE"
	AllocationWaitlisted AllocationStatus = "WAITLISTED"
)

// NonTerminal reports whether the status counts against a trainer's load
// cap and against the student's single-non-terminal-allocation rule.
func (s AllocationStatus) NonTerminal() bool {
	switch s {
	case AllocationPending, AllocationApproved, AllocationActive, AllocationWaitlisted:
		return true
	default:
		return false
	}
}

// Allocation binds a trainer to a student for a course. A student has at
// most one non-terminal allocation per course at any time.
type Allocation struct {
	ID        uuid.UUID
	StudentID uuid.UUID
	TrainerID *uuid.UUID // nil when WAITLISTED
	CourseID  uuid.UUID
	Status    AllocationStatus
	CreatedAt time.Time
	Metadata  AllocationMetadata
}

// AllocationMetadata is the typed core of the allocation's free-form
// metadata column: preferred time slot, delivery mode, class type, and
// the purchase that drove this allocation.
type AllocationMetadata struct {
	PreferredTimeSlot string       `json:"preferredTimeSlot"`
	DeliveryMode      DeliveryMode `json:"deliveryMode"`
	ClassType         ClassType    `json:"classType"`
	StartDate         time.Time    `json:"startDate"`
	TotalSessions     int          `json:"totalSessions"`
	PurchaseID        uuid.UUID    `json:"purchaseId"`
}

// DeliveryMode controls which calendar dates a session schedule may use.
type DeliveryMode string

const (
	DeliveryWeekdayDaily DeliveryMode = "WEEKDAY_DAILY"
	DeliverySundayOnly   DeliveryMode = "SUNDAY_ONLY"
)

// ClassType affects session-type assignment for HYBRID allocations.
type ClassType string

const (
	ClassOneOnOne ClassType = "ONE_ON_ONE"
	ClassGroup    ClassType = "GROUP"
	ClassHybrid   ClassType = "HYBRID"
)

// SessionStatus is the lifecycle state of one tutoring session.
type SessionStatus string

const (
	SessionScheduled   SessionStatus = "SCHEDULED"
	SessionPending     SessionStatus = "PENDING"
	SessionCompleted   SessionStatus = "COMPLETED"
	SessionCancelled   SessionStatus = "CANCELLED"
	SessionRescheduled SessionStatus = "RESCHEDULED"
)

// Future reports whether a session with this status still counts toward
// the rolling scheduling window.
func (s SessionStatus) Future() bool {
	return s == SessionScheduled || s == SessionPending
}

// SessionType is the delivery channel for one session (online vs. in
// person), alternating for HYBRID class types.
type SessionType string

const (
	SessionOnline  SessionType = "ONLINE"
	SessionOffline SessionType = "OFFLINE"
)

// Session is one concrete class occurrence.
type Session struct {
	ID            uuid.UUID
	AllocationID  uuid.UUID
	StudentID     uuid.UUID
	TrainerID     uuid.UUID
	ScheduledDate time.Time // calendar date, time-of-day truncated
	ScheduledTime string    // "HH:MM"
	Status        SessionStatus
	SessionType   SessionType
	SessionNumber int
}

// ProcessedEvent is one row of the idempotency ledger.
type ProcessedEvent struct {
	EventID       uuid.UUID
	CorrelationID string
	EventType     string
	Payload       []byte
	Source        string
	Version       string
	ProcessedAt   time.Time
}

// RefreshToken is a stored, hashed refresh token.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Expired reports whether the token is past its expiry.
func (r RefreshToken) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Revoked reports whether the token has been revoked.
func (r RefreshToken) Revoked() bool {
	return r.RevokedAt != nil
}
