package api

import (
	"context"

	"github.com/glucolog/glucolog/internal/convert"
	"github.com/glucolog/glucolog/internal/model"
)

// CreateReading posts a new reading and returns the confirmed server
// document (with the backend-assigned id).
func (c *Client) CreateReading(ctx context.Context, accessToken string, r *model.GlucoseReading) (convert.ReadingWire, error) {
	var out convert.ReadingWire
	in := convert.ToWireReading(r)
	if err := c.doJSON(ctx, "POST", "/readings", accessToken, in, &out); err != nil {
		return convert.ReadingWire{}, err
	}
	return out, nil
}

// UpdateReading replaces a synced reading identified by its backend id.
func (c *Client) UpdateReading(ctx context.Context, accessToken string, r *model.GlucoseReading) (convert.ReadingWire, error) {
	var out convert.ReadingWire
	in := convert.ToWireReading(r)
	if err := c.doJSON(ctx, "PUT", "/readings/"+r.BackendID, accessToken, in, &out); err != nil {
		return convert.ReadingWire{}, err
	}
	return out, nil
}

// DeleteReading removes a reading remotely by backend id.
func (c *Client) DeleteReading(ctx context.Context, accessToken, backendID string) error {
	return c.doJSON(ctx, "DELETE", "/readings/"+backendID, accessToken, nil, nil)
}

// RequestAppointment submits a queue transition request. The response
// carries the backend id and the state the backend actually assigned;
// callers apply that state, never the one they hoped for.
func (c *Client) RequestAppointment(ctx context.Context, accessToken string, a *model.Appointment) (convert.AppointmentWire, error) {
	var out convert.AppointmentWire
	in := convert.ToWireAppointment(a)
	if err := c.doJSON(ctx, "POST", "/appointments/queue", accessToken, in, &out); err != nil {
		return convert.AppointmentWire{}, err
	}
	return out, nil
}

// GetAppointment reads the authoritative queue state for a backend id.
func (c *Client) GetAppointment(ctx context.Context, accessToken, backendID string) (convert.AppointmentWire, error) {
	var out convert.AppointmentWire
	if err := c.doJSON(ctx, "GET", "/appointments/queue/"+backendID, accessToken, nil, &out); err != nil {
		return convert.AppointmentWire{}, err
	}
	return out, nil
}
