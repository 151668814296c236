// Package postgres provides PostgreSQL implementation of the incident repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/incident"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const incidentColumns = `
	id, slug, channel_ref, link, description, components, impact,
	severity, status, created_at, updated_at, resolved_at
`

// Repository implements incident.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// BeginTx starts a transaction.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// CreateIncidentTx inserts the incident row and fills in its generated
// id and timestamps. The slug is written separately once derived.
func (r *Repository) CreateIncidentTx(ctx context.Context, tx pgx.Tx, inc *domain.Incident) error {
	query := `
		INSERT INTO incident (description, components, impact, severity, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := tx.QueryRow(ctx, query,
		inc.Description,
		inc.Components,
		inc.Impact,
		inc.Severity,
		inc.Status,
	).Scan(&inc.ID, &inc.CreatedAt, &inc.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// SetSlugTx writes the derived slug within the creating transaction.
func (r *Repository) SetSlugTx(ctx context.Context, tx pgx.Tx, id int64, slug string) error {
	if _, err := tx.Exec(ctx, `UPDATE incident SET slug = $2 WHERE id = $1`, id, slug); err != nil {
		return fmt.Errorf("set incident slug: %w", err)
	}
	return nil
}

// GetByID retrieves an incident by its generated id. Valid as soon as the
// creating transaction commits, even while channel fields are still empty.
func (r *Repository) GetByID(ctx context.Context, id int64) (*domain.Incident, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

// GetBySlug retrieves an incident by slug.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*domain.Incident, error) {
	return r.get(ctx, `WHERE slug = $1`, slug)
}

// GetByChannel retrieves an incident by its chat channel reference.
func (r *Repository) GetByChannel(ctx context.Context, channelRef string) (*domain.Incident, error) {
	return r.get(ctx, `WHERE channel_ref = $1`, channelRef)
}

func (r *Repository) get(ctx context.Context, where string, arg any) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incident ` + where

	var inc domain.Incident
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&inc.ID,
		&inc.Slug,
		&inc.ChannelRef,
		&inc.Link,
		&inc.Description,
		&inc.Components,
		&inc.Impact,
		&inc.Severity,
		&inc.Status,
		&inc.CreatedAt,
		&inc.UpdatedAt,
		&inc.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incident.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return &inc, nil
}

// ListRecent retrieves the most recently created incidents.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incident ORDER BY id DESC LIMIT $1`
	return r.list(ctx, query, limit)
}

// ListOpen retrieves incidents that have not reached the final status.
func (r *Repository) ListOpen(ctx context.Context, finalStatus string) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incident WHERE status <> $1 ORDER BY id DESC`
	return r.list(ctx, query, finalStatus)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*domain.Incident, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*domain.Incident, 0)
	for rows.Next() {
		var inc domain.Incident
		err := rows.Scan(
			&inc.ID,
			&inc.Slug,
			&inc.ChannelRef,
			&inc.Link,
			&inc.Description,
			&inc.Components,
			&inc.Impact,
			&inc.Severity,
			&inc.Status,
			&inc.CreatedAt,
			&inc.UpdatedAt,
			&inc.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, &inc)
	}

	return incidents, rows.Err()
}

// UpdateStatus writes the status and resolution timestamp.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status string, resolvedAt *time.Time) error {
	query := `UPDATE incident SET status = $2, resolved_at = $3, updated_at = NOW() WHERE id = $1`
	return r.update(ctx, query, id, status, resolvedAt)
}

// UpdateSeverity writes the severity.
func (r *Repository) UpdateSeverity(ctx context.Context, id int64, severity string) error {
	return r.update(ctx, `UPDATE incident SET severity = $2, updated_at = NOW() WHERE id = $1`, id, severity)
}

// UpdateDescription writes the description.
func (r *Repository) UpdateDescription(ctx context.Context, id int64, description string) error {
	return r.update(ctx, `UPDATE incident SET description = $2, updated_at = NOW() WHERE id = $1`, id, description)
}

// UpdateChannel writes the chat channel binding.
func (r *Repository) UpdateChannel(ctx context.Context, id int64, channelRef, link string) error {
	return r.update(ctx, `UPDATE incident SET channel_ref = $2, link = $3, updated_at = NOW() WHERE id = $1`, id, channelRef, link)
}

func (r *Repository) update(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incident.ErrIncidentNotFound
	}
	return nil
}

// DeleteIncident removes an incident; participants, timeline entries and
// integration records go with it via cascade.
func (r *Repository) DeleteIncident(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM incident WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incident.ErrIncidentNotFound
	}
	return nil
}

// CreateParticipant claims a role. The unique constraint on the
// (incident_id, role, user_id) triple turns a repeated claim by the same
// user into a conflict; other users may still claim the same role.
func (r *Repository) CreateParticipant(ctx context.Context, p *domain.Participant) error {
	query := `
		INSERT INTO participant (incident_id, role, user_id, user_name, is_lead)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, claimed_at
	`
	err := r.db.QueryRow(ctx, query,
		p.IncidentID,
		p.Role,
		p.UserID,
		p.UserName,
		p.IsLead,
	).Scan(&p.ID, &p.ClaimedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return incident.ErrRoleAlreadyClaimed
		}
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

// DeleteParticipant releases one user's claim on a role. Returns false
// when that user did not hold it.
func (r *Repository) DeleteParticipant(ctx context.Context, incidentID int64, role, userID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM participant WHERE incident_id = $1 AND role = $2 AND user_id = $3`, incidentID, role, userID)
	if err != nil {
		return false, fmt.Errorf("delete participant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListParticipants retrieves an incident's claimed roles, leads first.
func (r *Repository) ListParticipants(ctx context.Context, incidentID int64) ([]*domain.Participant, error) {
	query := `
		SELECT id, incident_id, role, user_id, user_name, is_lead, claimed_at
		FROM participant
		WHERE incident_id = $1
		ORDER BY is_lead DESC, role ASC, claimed_at ASC
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	participants := make([]*domain.Participant, 0)
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.IncidentID, &p.Role, &p.UserID, &p.UserName, &p.IsLead, &p.ClaimedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, &p)
	}

	return participants, rows.Err()
}

// CreateIntegrationRecord inserts a record of external tracking. The
// partial unique index allows at most one postmortem record per incident.
func (r *Repository) CreateIntegrationRecord(ctx context.Context, rec *domain.IntegrationRecord) error {
	updates, err := json.Marshal(rec.Updates)
	if err != nil {
		return fmt.Errorf("marshal record updates: %w", err)
	}

	query := `
		INSERT INTO integration_record (id, incident_id, kind, external_ref, status, updates)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		rec.ID,
		rec.IncidentID,
		rec.Kind,
		rec.ExternalRef,
		rec.Status,
		updates,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return incident.ErrPostmortemExists
		}
		return fmt.Errorf("create integration record: %w", err)
	}
	return nil
}

// UpdateIntegrationRecord writes the mutable fields of a record.
func (r *Repository) UpdateIntegrationRecord(ctx context.Context, rec *domain.IntegrationRecord) error {
	updates, err := json.Marshal(rec.Updates)
	if err != nil {
		return fmt.Errorf("marshal record updates: %w", err)
	}

	query := `
		UPDATE integration_record
		SET external_ref = $2, status = $3, updates = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	if err := r.db.QueryRow(ctx, query, rec.ID, rec.ExternalRef, rec.Status, updates).Scan(&rec.UpdatedAt); err != nil {
		return fmt.Errorf("update integration record: %w", err)
	}
	return nil
}

// ListIntegrationRecords retrieves all records of an incident.
func (r *Repository) ListIntegrationRecords(ctx context.Context, incidentID int64) ([]*domain.IntegrationRecord, error) {
	query := `
		SELECT id, incident_id, kind, external_ref, status, updates, created_at, updated_at
		FROM integration_record
		WHERE incident_id = $1
		ORDER BY created_at ASC
	`
	return r.listRecords(ctx, query, incidentID)
}

// ListIntegrationRecordsByKind retrieves records of one kind.
func (r *Repository) ListIntegrationRecordsByKind(ctx context.Context, incidentID int64, kind domain.IntegrationKind) ([]*domain.IntegrationRecord, error) {
	query := `
		SELECT id, incident_id, kind, external_ref, status, updates, created_at, updated_at
		FROM integration_record
		WHERE incident_id = $1 AND kind = $2
		ORDER BY created_at ASC
	`
	return r.listRecords(ctx, query, incidentID, kind)
}

func (r *Repository) listRecords(ctx context.Context, query string, args ...any) ([]*domain.IntegrationRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list integration records: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.IntegrationRecord, 0)
	for rows.Next() {
		var rec domain.IntegrationRecord
		var updates []byte
		err := rows.Scan(
			&rec.ID,
			&rec.IncidentID,
			&rec.Kind,
			&rec.ExternalRef,
			&rec.Status,
			&updates,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan integration record: %w", err)
		}
		if err := json.Unmarshal(updates, &rec.Updates); err != nil {
			return nil, fmt.Errorf("unmarshal record updates: %w", err)
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}
