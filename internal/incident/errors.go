package incident

import "errors"

// Sentinel errors returned by the service.
var (
	ErrIncidentNotFound   = errors.New("incident not found")
	ErrInvalidStatus      = errors.New("status is not in the configured status set")
	ErrInvalidSeverity    = errors.New("severity is not in the configured severity set")
	ErrInvalidRole        = errors.New("role is not in the configured role set")
	ErrRoleAlreadyClaimed = errors.New("role already claimed by this user")
	ErrPostmortemExists   = errors.New("postmortem already exists")
	ErrReminderNotFound   = errors.New("reminder is not scheduled")
)
