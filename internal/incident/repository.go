// Package incident implements the incident aggregate and its state machine.
package incident

import (
	"context"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Repository defines the interface for incident storage. Field updates
// are single-column and last-write-wins; cross-row invariants are
// enforced by storage constraints.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*domain.Incident, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Incident, error)
	GetByChannel(ctx context.Context, channelRef string) (*domain.Incident, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.Incident, error)
	ListOpen(ctx context.Context, finalStatus string) ([]*domain.Incident, error)
	UpdateStatus(ctx context.Context, id int64, status string, resolvedAt *time.Time) error
	UpdateSeverity(ctx context.Context, id int64, severity string) error
	UpdateDescription(ctx context.Context, id int64, description string) error
	UpdateChannel(ctx context.Context, id int64, channelRef, link string) error
	DeleteIncident(ctx context.Context, id int64) error

	CreateParticipant(ctx context.Context, p *domain.Participant) error
	DeleteParticipant(ctx context.Context, incidentID int64, role, userID string) (bool, error)
	ListParticipants(ctx context.Context, incidentID int64) ([]*domain.Participant, error)

	CreateIntegrationRecord(ctx context.Context, rec *domain.IntegrationRecord) error
	UpdateIntegrationRecord(ctx context.Context, rec *domain.IntegrationRecord) error
	ListIntegrationRecords(ctx context.Context, incidentID int64) ([]*domain.IntegrationRecord, error)
	ListIntegrationRecordsByKind(ctx context.Context, incidentID int64, kind domain.IntegrationKind) ([]*domain.IntegrationRecord, error)

	// Transaction support for two-phase creation: the row is inserted to
	// obtain the generated id, then the slug derived from it is written
	// before commit.
	BeginTx(ctx context.Context) (pgx.Tx, error)
	CreateIncidentTx(ctx context.Context, tx pgx.Tx, inc *domain.Incident) error
	SetSlugTx(ctx context.Context, tx pgx.Tx, id int64, slug string) error
}
