package integrations

import (
	"context"
	"testing"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicketer struct {
	name    string
	enabled bool
}

func (f *fakeTicketer) Name() string                 { return f.name }
func (f *fakeTicketer) Kind() domain.IntegrationKind { return domain.IntegrationTicket }
func (f *fakeTicketer) Enabled() bool                { return f.enabled }

func (f *fakeTicketer) CreateTicket(context.Context, *domain.Incident) (string, error) {
	return "TICKET-1", nil
}
func (f *fakeTicketer) UpdateTicket(context.Context, string, *domain.Incident, string) error {
	return nil
}
func (f *fakeTicketer) CloseTicket(context.Context, string, *domain.Incident) error {
	return nil
}

type fakePager struct {
	enabled bool
}

func (f *fakePager) Name() string                 { return "pager" }
func (f *fakePager) Kind() domain.IntegrationKind { return domain.IntegrationPager }
func (f *fakePager) Enabled() bool                { return f.enabled }

func (f *fakePager) TriggerPage(context.Context, *domain.Incident) (string, error) {
	return "PAGE-1", nil
}
func (f *fakePager) ResolvePage(context.Context, string, *domain.Incident) error {
	return nil
}

func TestRegistryCapabilities(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTicketer{name: "jira", enabled: true}))
	require.NoError(t, r.Register(&fakeTicketer{name: "linear", enabled: false}))
	require.NoError(t, r.Register(&fakePager{enabled: true}))

	assert.Len(t, r.All(), 3)

	tickets := r.Tickets()
	require.Len(t, tickets, 1, "disabled adapters must be filtered out")
	assert.Equal(t, "jira", tickets[0].Name())

	require.Len(t, r.Pagers(), 1)
	assert.Empty(t, r.Docs())
	assert.Empty(t, r.StatusPages())

	a, ok := r.Adapter("linear")
	require.True(t, ok)
	assert.False(t, a.Enabled())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakePager{}))
	assert.Error(t, r.Register(&fakePager{}))
}
