// Package model defines domain entities used by services, stores and the sync engine.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Unit is the measurement unit of a glucose value.
type Unit string

const (
	UnitMgDL  Unit = "mg/dL"
	UnitMmolL Unit = "mmol/L"
)

// MealContext tags when a reading was taken relative to meals.
type MealContext string

const (
	MealNone    MealContext = ""
	MealBefore  MealContext = "before_meal"
	MealAfter   MealContext = "after_meal"
	MealBedtime MealContext = "bedtime"
	MealFasting MealContext = "fasting"
	MealOther   MealContext = "other"
)

// MaxNotesLen bounds the free-text notes field.
const MaxNotesLen = 500

// GlucoseReading is a single measurement stored locally first.
// BackendID is non-empty iff Synced is true; a row is never unsynced while
// carrying a stale backend id.
type GlucoseReading struct {
	ID          uuid.UUID   // client-generated PK, immutable
	BackendID   string      // server-assigned id, set on confirmed sync
	Value       float64     // measurement in Unit
	Unit        Unit        // mg/dL or mmol/L
	Timestamp   time.Time   // when the reading was taken (user-editable)
	MealContext MealContext // optional meal tag
	Notes       string      // optional, bounded by MaxNotesLen
	Synced      bool        // true only after backend ack of this exact version
	Deleted     bool        // tombstone until the backend confirms the delete
	UpdatedAt   time.Time
}

// MmolL converts the reading value to mmol/L regardless of stored unit.
func (r *GlucoseReading) MmolL() float64 {
	if r.Unit == UnitMmolL {
		return r.Value
	}
	return r.Value / 18.0182
}

// QueueState is the appointment queue position, owned by the backend.
// Local copies are projections: only values read back from the backend may
// be written into an Appointment.
type QueueState string

const (
	QueueNone     QueueState = "NONE"
	QueuePending  QueueState = "PENDING"
	QueueAccepted QueueState = "ACCEPTED"
	QueueCreated  QueueState = "CREATED"
	QueueDenied   QueueState = "DENIED"
	QueueBlocked  QueueState = "BLOCKED"
)

// Terminal reports whether the state is not further auto-transitioned.
func (s QueueState) Terminal() bool {
	return s == QueueCreated || s == QueueBlocked
}

// CanTransition reports whether the backend state machine permits moving
// from s to next. Used to reject locally observed impossible transitions,
// never to apply them.
func (s QueueState) CanTransition(next QueueState) bool {
	if next == QueueBlocked {
		return true // queue closed from any state
	}
	switch s {
	case QueueNone:
		return next == QueuePending
	case QueuePending:
		return next == QueueAccepted || next == QueueDenied
	case QueueAccepted:
		return next == QueueCreated
	case QueueDenied:
		return next == QueuePending // re-request
	default:
		return false
	}
}

// Appointment mirrors a backend-owned clinical queue entry.
type Appointment struct {
	ID         uuid.UUID // client-generated PK
	BackendID  string    // server-assigned id
	UserID     string
	QueueState QueueState
	Synced     bool
	UpdatedAt  time.Time
}

// EntityType discriminates sync queue payloads.
type EntityType string

const (
	EntityReading     EntityType = "reading"
	EntityAppointment EntityType = "appointment"
	EntityProfile     EntityType = "profile"
)

// Operation is the pending mutation kind.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// SyncEntry is one pending local mutation awaiting confirmed remote
// application. It is created in the same transaction as the entity write and
// removed only in the same transaction that records the confirmed result.
type SyncEntry struct {
	EntryID       uuid.UUID
	EntityType    EntityType
	EntityLocalID uuid.UUID
	Op            Operation
	Payload       []byte // snapshot of the entity at enqueue time (JSON)
	AttemptCount  int
	Terminal      bool // non-retryable failure recorded; kept for surfacing
	CreatedAt     time.Time
	LastAttemptAt time.Time
	NextAttemptAt time.Time
	LastError     string
}

// TokenRecord is the authentication state kept in the vault.
// RotationCount never exceeds the configured ceiling; hitting it forces
// re-authentication instead of further silent refresh.
type TokenRecord struct {
	AccessToken   string
	RefreshToken  string // empty when the platform cannot persist tokens
	ExpiresAt     time.Time
	RotationCount int
	UserID        string
}

// UserProfile is the backend profile document.
type UserProfile struct {
	DNI             string `json:"dni"`
	Name            string `json:"name"`
	Surname         string `json:"surname"`
	Email           string `json:"email"`
	Blocked         bool   `json:"blocked"`
	State           string `json:"state,omitempty"`
	HospitalAccount bool   `json:"hospital_account"`
	TimesMeasured   int    `json:"times_measured"`
	Streak          int    `json:"streak"`
	MaxStreak       int    `json:"max_streak"`
}

// AuthResult composes the unified login/refresh outcome.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	User         UserProfile
}
