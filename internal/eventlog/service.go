package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/google/uuid"
)

// Sentinel errors returned by the service.
var (
	ErrEntryNotFound  = errors.New("timeline entry not found")
	ErrInvalidSource  = errors.New("invalid event source")
	ErrEmptyEntry     = errors.New("timeline entry must have text, title or attachment")
	ErrImmutableField = errors.New("only title, text and timestamp can be updated")
)

// Service implements timeline business logic.
type Service struct {
	repo Repository
}

// NewService creates a new timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// AppendInput holds data for appending a timeline entry.
type AppendInput struct {
	IncidentID int64
	Slug       string
	Source     domain.EventSource
	Title      string
	Text       string
	Image      []byte
	MimeType   string
	MessageRef string
	Actor      string
	// Timestamp is the logical time of the entry; nil means "now".
	Timestamp *time.Time
}

// Append records a new entry on the incident timeline. Entry ids are
// time-sortable, so ascending id order is chronological append order.
func (s *Service) Append(ctx context.Context, input AppendInput) (*domain.Event, error) {
	if !input.Source.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSource, input.Source)
	}
	if input.Text == "" && input.Title == "" && len(input.Image) == 0 {
		return nil, ErrEmptyEntry
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate entry id: %w", err)
	}

	event := &domain.Event{
		ID:         id.String(),
		IncidentID: input.IncidentID,
		Slug:       input.Slug,
		Source:     input.Source,
		Title:      input.Title,
		Text:       input.Text,
		Image:      input.Image,
		MimeType:   input.MimeType,
		MessageRef: input.MessageRef,
		Actor:      input.Actor,
		Timestamp:  input.Timestamp,
	}

	if err := s.repo.CreateEntry(ctx, event); err != nil {
		return nil, fmt.Errorf("append timeline entry: %w", err)
	}

	return event, nil
}

// Read returns the full timeline of an incident in chronological order.
func (s *Service) Read(ctx context.Context, incidentID int64) ([]*domain.Event, error) {
	entries, err := s.repo.ListEntries(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	return entries, nil
}

// ReadOne returns a single timeline entry by id.
func (s *Service) ReadOne(ctx context.Context, id string) (*domain.Event, error) {
	return s.repo.GetEntry(ctx, id)
}

// UpdateInput holds the mutable fields of a timeline entry. Nil fields
// are left unchanged.
type UpdateInput struct {
	Title     *string
	Text      *string
	Timestamp *time.Time
}

// Update amends the mutable fields of an entry. Source, actor, attachment
// and incident binding are fixed at append time.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*domain.Event, error) {
	event, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		event.Title = *input.Title
	}
	if input.Text != nil {
		event.Text = *input.Text
	}
	if input.Timestamp != nil {
		event.Timestamp = input.Timestamp
	}

	if err := s.repo.UpdateEntry(ctx, event); err != nil {
		return nil, fmt.Errorf("update timeline entry: %w", err)
	}

	return event, nil
}

// Delete removes an entry from the timeline.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteEntry(ctx, id)
}
