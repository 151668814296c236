// Package eventlog maintains the append-only timeline of incident events.
package eventlog

import (
	"context"

	"github.com/bissquit/incident-warden/internal/domain"
)

// Repository defines the interface for timeline storage.
type Repository interface {
	CreateEntry(ctx context.Context, event *domain.Event) error
	GetEntry(ctx context.Context, id string) (*domain.Event, error)
	ListEntries(ctx context.Context, incidentID int64) ([]*domain.Event, error)
	UpdateEntry(ctx context.Context, event *domain.Event) error
	DeleteEntry(ctx context.Context, id string) error
}
