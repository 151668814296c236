package domain

import "time"

// EventSource represents where a timeline entry came from.
type EventSource string

// Event sources.
const (
	SourceSystem EventSource = "system"
	SourceUser   EventSource = "user"
	SourcePin    EventSource = "pin"
)

// IsValid checks if the event source is valid.
func (s EventSource) IsValid() bool {
	return s == SourceSystem || s == SourceUser || s == SourcePin
}

// Event is one append-only timeline entry for an incident.
//
// Source, IncidentID and CreatedAt are immutable after creation; only
// Text, Title and Timestamp may be edited. Deletion is a hard remove.
type Event struct {
	ID         string      `json:"id"`
	IncidentID int64       `json:"incident_id"`
	Slug       string      `json:"incident_slug"`
	Source     EventSource `json:"source"`
	Title      string      `json:"title,omitempty"`
	Text       string      `json:"text"`
	Image      []byte      `json:"-"`
	MimeType   string      `json:"mimetype,omitempty"`
	MessageRef string      `json:"message_ref,omitempty"`
	Actor      string      `json:"actor,omitempty"`
	// Timestamp is the logical event time, distinct from CreatedAt. Pinned
	// content keeps the time the original message was posted, not the time
	// it was pinned.
	Timestamp *time.Time `json:"timestamp,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// HasAttachment reports whether the entry carries binary content.
func (e *Event) HasAttachment() bool {
	return len(e.Image) > 0
}
