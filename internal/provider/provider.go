// Package provider defines the remote calendar surface the sync engine
// talks to. Implementations translate one provider's wire format into
// the shared raw event shape; everything downstream of ingest is
// provider-agnostic.
package provider

import (
	"context"
	"time"
)

// Marker keys stamped on events the bridge created, so they stay
// recognizable in the provider's own UI and across resyncs.
const (
	ManagedMarkerKey   = "calbridge-managed"
	ManagedMarkerValue = "true"
	IdentityMarkerKey  = "calbridge-identity"
	SchemaMarkerKey    = "calbridge-schema"
)

// EventTime is a calendar boundary: either a civil date for all-day
// events or an RFC3339 timestamp with an optional IANA zone.
type EventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// IsAllDay reports whether the boundary is a bare civil date.
func (t *EventTime) IsAllDay() bool { return t != nil && t.Date != "" }

// RawEvent is one calendar row as the provider returned it. Recurrence
// lines, symbolic text and the description are carried verbatim.
type RawEvent struct {
	ID               string            `json:"id"`
	UID              string            `json:"uid,omitempty"`
	Status           string            `json:"status,omitempty"`
	Summary          string            `json:"summary,omitempty"`
	Description      string            `json:"description,omitempty"`
	Location         string            `json:"location,omitempty"`
	Start            *EventTime        `json:"start,omitempty"`
	End              *EventTime        `json:"end,omitempty"`
	Recurrence       []string          `json:"recurrence,omitempty"`
	RecurringEventID string            `json:"recurringEventId,omitempty"`
	OriginalStart    *EventTime        `json:"originalStartTime,omitempty"`
	Updated          string            `json:"updated,omitempty"`
	ETag             string            `json:"etag,omitempty"`
	Private          map[string]string `json:"private,omitempty"`
}

// IsCancelled reports whether the row is a cancellation stub.
func (e *RawEvent) IsCancelled() bool { return e.Status == "cancelled" }

// IsOverride reports whether the row is a recurrence exception.
func (e *RawEvent) IsOverride() bool { return e.RecurringEventID != "" }

// Managed reports whether the bridge stamped this event as its own.
func (e *RawEvent) Managed() bool {
	return e.Private[ManagedMarkerKey] == ManagedMarkerValue
}

// UpdatedTime parses the provider's update stamp; zero when absent or
// unparsable.
func (e *RawEvent) UpdatedTime() time.Time {
	if e.Updated == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, e.Updated)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ListOptions narrows an event listing.
type ListOptions struct {
	TimeMin     time.Time
	TimeMax     time.Time
	UpdatedMin  time.Time
	ShowDeleted bool
}

// CalendarInfo describes one calendar visible to the account.
type CalendarInfo struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Primary bool   `json:"primary,omitempty"`
}

// Client is the provider surface the pipeline consumes. List results
// are complete (all pages) and ordered as the provider returned them;
// updates are conditional on the event's ETag when one is set.
type Client interface {
	Name() string
	ListEvents(ctx context.Context, calendarID string, opts ListOptions) ([]RawEvent, error)
	InsertEvent(ctx context.Context, calendarID string, ev *RawEvent) (*RawEvent, error)
	UpdateEvent(ctx context.Context, calendarID string, ev *RawEvent) (*RawEvent, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	Calendars(ctx context.Context) ([]CalendarInfo, error)
}
