package domain

import (
	"errors"
	"fmt"
)

// StatusDefinition describes one configured lifecycle status. Exactly one
// status in a set is flagged initial and exactly one is flagged final.
type StatusDefinition struct {
	Name    string `json:"name" koanf:"name"`
	Initial bool   `json:"initial" koanf:"initial"`
	Final   bool   `json:"final" koanf:"final"`
}

// RoleDefinition describes one configured participant role.
type RoleDefinition struct {
	Name        string `json:"name" koanf:"name"`
	Description string `json:"description" koanf:"description"`
	IsLead      bool   `json:"is_lead" koanf:"is_lead"`
}

// Lifecycle holds the configured status, severity and role sets. The sets
// are data, not compiled-in enums: deployments choose their own values.
type Lifecycle struct {
	Statuses   []StatusDefinition `koanf:"statuses"`
	Severities []string           `koanf:"severities"`
	Roles      []RoleDefinition   `koanf:"roles"`
}

// Validate checks the structural invariants of the configured sets.
func (l Lifecycle) Validate() error {
	if len(l.Statuses) == 0 {
		return errors.New("lifecycle: at least one status is required")
	}
	if len(l.Severities) == 0 {
		return errors.New("lifecycle: at least one severity is required")
	}

	var initial, final int
	for _, s := range l.Statuses {
		if s.Initial {
			initial++
		}
		if s.Final {
			final++
		}
	}
	if initial != 1 {
		return fmt.Errorf("lifecycle: exactly one initial status required, got %d", initial)
	}
	if final != 1 {
		return fmt.Errorf("lifecycle: exactly one final status required, got %d", final)
	}
	return nil
}

// InitialStatus returns the status flagged initial.
func (l Lifecycle) InitialStatus() string {
	for _, s := range l.Statuses {
		if s.Initial {
			return s.Name
		}
	}
	return ""
}

// FinalStatus returns the status flagged final.
func (l Lifecycle) FinalStatus() string {
	for _, s := range l.Statuses {
		if s.Final {
			return s.Name
		}
	}
	return ""
}

// ValidStatus reports whether the value is a member of the configured set.
func (l Lifecycle) ValidStatus(status string) bool {
	for _, s := range l.Statuses {
		if s.Name == status {
			return true
		}
	}
	return false
}

// ValidSeverity reports whether the value is a member of the configured set.
func (l Lifecycle) ValidSeverity(severity string) bool {
	for _, s := range l.Severities {
		if s == severity {
			return true
		}
	}
	return false
}

// Role looks up a configured role definition by name.
func (l Lifecycle) Role(name string) (RoleDefinition, bool) {
	for _, r := range l.Roles {
		if r.Name == name {
			return r, true
		}
	}
	return RoleDefinition{}, false
}
