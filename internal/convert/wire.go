// Package convert maps between domain entities and backend wire documents.
package convert

import (
	"time"

	"github.com/glucolog/glucolog/internal/model"
)

// ReadingWire is the backend document for a glucose reading.
type ReadingWire struct {
	ID          string  `json:"id,omitempty"` // backend-assigned
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	Timestamp   string  `json:"timestamp"` // ISO 8601
	MealContext string  `json:"meal_context,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

// AppointmentWire is the backend document for a queue entry.
type AppointmentWire struct {
	ID         string `json:"id,omitempty"`
	UserID     string `json:"user_id"`
	QueueState string `json:"queue_state"`
}

// ToWireReading renders a local reading for the backend. Local-only fields
// (sync flags, tombstone) never cross the wire.
func ToWireReading(r *model.GlucoseReading) ReadingWire {
	return ReadingWire{
		ID:          r.BackendID,
		Value:       r.Value,
		Unit:        string(r.Unit),
		Timestamp:   r.Timestamp.UTC().Format(time.RFC3339Nano),
		MealContext: string(r.MealContext),
		Notes:       r.Notes,
	}
}

// FromWireReading builds the confirmed local view of a server reading. The
// caller supplies the local id; the wire document carries the backend id.
func FromWireReading(w ReadingWire, local *model.GlucoseReading) error {
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		// Some backends truncate to seconds.
		if ts, err = time.Parse(time.RFC3339, w.Timestamp); err != nil {
			return err
		}
	}
	local.BackendID = w.ID
	local.Value = w.Value
	local.Unit = model.Unit(w.Unit)
	local.Timestamp = ts
	local.MealContext = model.MealContext(w.MealContext)
	local.Notes = w.Notes
	return nil
}

// ToWireAppointment renders a local appointment request.
func ToWireAppointment(a *model.Appointment) AppointmentWire {
	return AppointmentWire{
		ID:         a.BackendID,
		UserID:     a.UserID,
		QueueState: string(a.QueueState),
	}
}
