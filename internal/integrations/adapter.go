// Package integrations fans incident lifecycle changes out to external systems.
package integrations

import (
	"context"

	"github.com/bissquit/incident-warden/internal/domain"
)

// Adapter is the base interface every integration implements. Capability
// interfaces below declare what an adapter can actually do; the registry
// hands out only enabled adapters that carry the requested capability.
type Adapter interface {
	// Name identifies the adapter in logs, metrics and integration records.
	Name() string
	// Kind reports which integration record kind the adapter produces.
	Kind() domain.IntegrationKind
	// Enabled reports whether the adapter is configured for use.
	Enabled() bool
}

// TicketAdapter tracks the incident in an external ticketing system.
type TicketAdapter interface {
	Adapter
	CreateTicket(ctx context.Context, inc *domain.Incident) (ref string, err error)
	UpdateTicket(ctx context.Context, ref string, inc *domain.Incident, note string) error
	CloseTicket(ctx context.Context, ref string, inc *domain.Incident) error
}

// PagingAdapter pages on-call responders.
type PagingAdapter interface {
	Adapter
	TriggerPage(ctx context.Context, inc *domain.Incident) (ref string, err error)
	ResolvePage(ctx context.Context, ref string, inc *domain.Incident) error
}

// DocAdapter creates documents in an external knowledge base.
type DocAdapter interface {
	Adapter
	CreateDocument(ctx context.Context, title, body string) (ref string, err error)
}

// StatusPageAdapter mirrors the incident on a public status page.
type StatusPageAdapter interface {
	Adapter
	PublishIncident(ctx context.Context, inc *domain.Incident) (ref string, err error)
	UpdateIncident(ctx context.Context, ref string, inc *domain.Incident) error
	ResolveIncident(ctx context.Context, ref string, inc *domain.Incident) error
}
