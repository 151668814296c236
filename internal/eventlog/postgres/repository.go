// Package postgres provides PostgreSQL implementation of the timeline repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/eventlog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements eventlog.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateEntry inserts a new timeline entry.
func (r *Repository) CreateEntry(ctx context.Context, event *domain.Event) error {
	query := `
		INSERT INTO incident_event (
			id, incident_id, incident_slug, source, title, text,
			image, mime_type, message_ref, actor, ts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		event.ID,
		event.IncidentID,
		event.Slug,
		event.Source,
		event.Title,
		event.Text,
		event.Image,
		event.MimeType,
		event.MessageRef,
		event.Actor,
		event.Timestamp,
	).Scan(&event.CreatedAt, &event.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create timeline entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a timeline entry by id.
func (r *Repository) GetEntry(ctx context.Context, id string) (*domain.Event, error) {
	query := `
		SELECT id, incident_id, incident_slug, source, title, text,
		       image, mime_type, message_ref, actor, ts, created_at, updated_at
		FROM incident_event
		WHERE id = $1
	`
	var event domain.Event
	err := r.db.QueryRow(ctx, query, id).Scan(
		&event.ID,
		&event.IncidentID,
		&event.Slug,
		&event.Source,
		&event.Title,
		&event.Text,
		&event.Image,
		&event.MimeType,
		&event.MessageRef,
		&event.Actor,
		&event.Timestamp,
		&event.CreatedAt,
		&event.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eventlog.ErrEntryNotFound
		}
		return nil, fmt.Errorf("get timeline entry: %w", err)
	}

	return &event, nil
}

// ListEntries retrieves all entries of an incident ordered by append time.
func (r *Repository) ListEntries(ctx context.Context, incidentID int64) ([]*domain.Event, error) {
	query := `
		SELECT id, incident_id, incident_slug, source, title, text,
		       image, mime_type, message_ref, actor, ts, created_at, updated_at
		FROM incident_event
		WHERE incident_id = $1
		ORDER BY id ASC
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list timeline entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.Event, 0)
	for rows.Next() {
		var event domain.Event
		err := rows.Scan(
			&event.ID,
			&event.IncidentID,
			&event.Slug,
			&event.Source,
			&event.Title,
			&event.Text,
			&event.Image,
			&event.MimeType,
			&event.MessageRef,
			&event.Actor,
			&event.Timestamp,
			&event.CreatedAt,
			&event.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		entries = append(entries, &event)
	}

	return entries, rows.Err()
}

// UpdateEntry updates the mutable fields of a timeline entry.
func (r *Repository) UpdateEntry(ctx context.Context, event *domain.Event) error {
	query := `
		UPDATE incident_event
		SET title = $2, text = $3, ts = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		event.ID,
		event.Title,
		event.Text,
		event.Timestamp,
	).Scan(&event.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eventlog.ErrEntryNotFound
		}
		return fmt.Errorf("update timeline entry: %w", err)
	}
	return nil
}

// DeleteEntry removes a timeline entry.
func (r *Repository) DeleteEntry(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM incident_event WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete timeline entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return eventlog.ErrEntryNotFound
	}
	return nil
}
