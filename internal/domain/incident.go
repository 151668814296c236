package domain

import (
	"fmt"
	"time"
)

// Incident is the central aggregate: one tracked operational event.
type Incident struct {
	ID          int64      `json:"id"`
	Slug        string     `json:"slug"`
	ChannelRef  string     `json:"channel_ref"`
	Link        string     `json:"link"`
	Description string     `json:"description"`
	Components  string     `json:"components"`
	Impact      string     `json:"impact"`
	Severity    string     `json:"severity"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Slugify builds the human identifier for an incident id, e.g. "inc-42".
func Slugify(prefix string, id int64) string {
	return fmt.Sprintf("%s-%d", prefix, id)
}

// IsResolved reports whether the incident sits in the given final status.
func (i *Incident) IsResolved(finalStatus string) bool {
	return i.Status == finalStatus
}

// Participant is a role claim on an incident. A (incident, role, user)
// triple may be claimed at most once; removal is the only way to unclaim.
type Participant struct {
	ID         int64     `json:"id"`
	IncidentID int64     `json:"incident_id"`
	Role       string    `json:"role"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	IsLead     bool      `json:"is_lead"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

// IntegrationKind identifies the class of external artifact a record links to.
type IntegrationKind string

// Integration record kinds.
const (
	IntegrationTicket     IntegrationKind = "ticket"
	IntegrationPager      IntegrationKind = "pager"
	IntegrationPostmortem IntegrationKind = "postmortem"
	IntegrationStatuspage IntegrationKind = "statuspage"
)

// IsValid checks if the integration kind is valid.
func (k IntegrationKind) IsValid() bool {
	switch k {
	case IntegrationTicket, IntegrationPager, IntegrationPostmortem, IntegrationStatuspage:
		return true
	}
	return false
}

// IntegrationRecord links an incident to one artifact created in an
// external system (ticket key, pager incident URL, postmortem URL,
// status page incident id).
type IntegrationRecord struct {
	ID          string          `json:"id"`
	IncidentID  int64           `json:"incident_id"`
	Kind        IntegrationKind `json:"kind"`
	ExternalRef string          `json:"external_ref"`
	Status      string          `json:"status"`
	Updates     []string        `json:"updates,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
