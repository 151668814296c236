package incident

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/eventlog"
	"github.com/bissquit/incident-warden/internal/integrations"
	"github.com/bissquit/incident-warden/internal/notify"
	"github.com/bissquit/incident-warden/internal/postmortem"
	"github.com/bissquit/incident-warden/internal/scheduler"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

// fakeRepo is an in-memory Repository. Dispatcher tasks touch it from
// their own goroutines, so all access is under the mutex.
type fakeRepo struct {
	mu           sync.Mutex
	nextID       int64
	incidents    map[int64]*domain.Incident
	participants []*domain.Participant
	records      []*domain.IntegrationRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{incidents: make(map[int64]*domain.Incident)}
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inc, ok := r.incidents[id]; ok {
		cp := *inc
		return &cp, nil
	}
	return nil, ErrIncidentNotFound
}

func (r *fakeRepo) GetBySlug(_ context.Context, slug string) (*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inc := range r.incidents {
		if inc.Slug == slug {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, ErrIncidentNotFound
}

func (r *fakeRepo) GetByChannel(_ context.Context, channelRef string) (*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inc := range r.incidents {
		if inc.ChannelRef == channelRef {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, ErrIncidentNotFound
}

func (r *fakeRepo) ListRecent(_ context.Context, limit int) ([]*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Incident
	for id := r.nextID; id > 0 && len(out) < limit; id-- {
		if inc, ok := r.incidents[id]; ok {
			cp := *inc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListOpen(_ context.Context, finalStatus string) ([]*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Incident
	for _, inc := range r.incidents {
		if inc.Status != finalStatus {
			cp := *inc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id int64, status string, resolvedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	inc.Status = status
	inc.ResolvedAt = resolvedAt
	return nil
}

func (r *fakeRepo) UpdateSeverity(_ context.Context, id int64, severity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	inc.Severity = severity
	return nil
}

func (r *fakeRepo) UpdateDescription(_ context.Context, id int64, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	inc.Description = description
	return nil
}

func (r *fakeRepo) UpdateChannel(_ context.Context, id int64, channelRef, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	inc.ChannelRef = channelRef
	inc.Link = link
	return nil
}

func (r *fakeRepo) DeleteIncident(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.incidents[id]; !ok {
		return ErrIncidentNotFound
	}
	delete(r.incidents, id)
	return nil
}

func (r *fakeRepo) CreateParticipant(_ context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.participants {
		if existing.IncidentID == p.IncidentID && existing.Role == p.Role && existing.UserID == p.UserID {
			return ErrRoleAlreadyClaimed
		}
	}
	cp := *p
	r.participants = append(r.participants, &cp)
	return nil
}

func (r *fakeRepo) DeleteParticipant(_ context.Context, incidentID int64, role, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.participants {
		if p.IncidentID == incidentID && p.Role == role && p.UserID == userID {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) ListParticipants(_ context.Context, incidentID int64) ([]*domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Participant
	for _, p := range r.participants {
		if p.IncidentID == incidentID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateIntegrationRecord(_ context.Context, rec *domain.IntegrationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Kind == domain.IntegrationPostmortem {
		for _, existing := range r.records {
			if existing.IncidentID == rec.IncidentID && existing.Kind == domain.IntegrationPostmortem {
				return ErrPostmortemExists
			}
		}
	}
	cp := *rec
	r.records = append(r.records, &cp)
	return nil
}

func (r *fakeRepo) UpdateIntegrationRecord(_ context.Context, rec *domain.IntegrationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.records {
		if existing.ID == rec.ID {
			cp := *rec
			r.records[i] = &cp
			return nil
		}
	}
	return ErrIncidentNotFound
}

func (r *fakeRepo) ListIntegrationRecords(_ context.Context, incidentID int64) ([]*domain.IntegrationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.IntegrationRecord
	for _, rec := range r.records {
		if rec.IncidentID == incidentID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListIntegrationRecordsByKind(_ context.Context, incidentID int64, kind domain.IntegrationKind) ([]*domain.IntegrationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.IntegrationRecord
	for _, rec := range r.records {
		if rec.IncidentID == incidentID && rec.Kind == kind {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) BeginTx(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

func (r *fakeRepo) CreateIncidentTx(_ context.Context, _ pgx.Tx, inc *domain.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	inc.ID = r.nextID
	inc.CreatedAt = time.Now().UTC()
	cp := *inc
	r.incidents[inc.ID] = &cp
	return nil
}

func (r *fakeRepo) SetSlugTx(_ context.Context, _ pgx.Tx, id int64, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	inc.Slug = slug
	return nil
}

// fakeEventRepo backs the timeline service in these tests.
type fakeEventRepo struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (r *fakeEventRepo) CreateEntry(_ context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *event
	r.events = append(r.events, &cp)
	return nil
}

func (r *fakeEventRepo) GetEntry(_ context.Context, id string) (*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, eventlog.ErrEntryNotFound
}

func (r *fakeEventRepo) ListEntries(_ context.Context, incidentID int64) ([]*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Event
	for _, e := range r.events {
		if e.IncidentID == incidentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) UpdateEntry(_ context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e.ID == event.ID {
			cp := *event
			r.events[i] = &cp
			return nil
		}
	}
	return eventlog.ErrEntryNotFound
}

func (r *fakeEventRepo) DeleteEntry(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e.ID == id {
			r.events = append(r.events[:i], r.events[i+1:]...)
			return nil
		}
	}
	return eventlog.ErrEntryNotFound
}

func (r *fakeEventRepo) texts(incidentID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.IncidentID == incidentID {
			out = append(out, e.Text)
		}
	}
	return out
}

// fakeGateway records what would have gone to chat.
type fakeGateway struct {
	mu         sync.Mutex
	posts      []notify.Message
	ephemerals []string
	channels   []string
}

func (g *fakeGateway) Post(_ context.Context, msg notify.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.posts = append(g.posts, msg)
	return "ref-1", nil
}

func (g *fakeGateway) PostEphemeral(_ context.Context, _, _, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ephemerals = append(g.ephemerals, text)
	return nil
}

func (g *fakeGateway) CreateChannel(_ context.Context, name string) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels = append(g.channels, name)
	return "C" + name, "https://chat.example/" + name, nil
}

func (g *fakeGateway) postTexts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, m := range g.posts {
		out = append(out, m.Text)
	}
	return out
}

// fakeSched tracks armed jobs by id, mirroring the scheduler's
// replace/cancel semantics.
type fakeSched struct {
	mu   sync.Mutex
	jobs map[string]time.Duration
}

func newFakeSched() *fakeSched {
	return &fakeSched{jobs: make(map[string]time.Duration)}
}

func (s *fakeSched) Schedule(slug string, kind scheduler.Kind, every time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[scheduler.JobID(slug, kind)] = every
	return nil
}

func (s *fakeSched) Reschedule(slug string, kind scheduler.Kind, every time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := scheduler.JobID(slug, kind)
	if _, ok := s.jobs[id]; !ok {
		return scheduler.ErrJobNotFound
	}
	s.jobs[id] = every
	return nil
}

func (s *fakeSched) Cancel(slug string, kind scheduler.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := scheduler.JobID(slug, kind)
	if _, ok := s.jobs[id]; !ok {
		return scheduler.ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *fakeSched) CancelAll(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, scheduler.JobID(slug, scheduler.KindCommsReminder))
	delete(s.jobs, scheduler.JobID(slug, scheduler.KindRoleWatcher))
}

func (s *fakeSched) armed(slug string, kind scheduler.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[scheduler.JobID(slug, kind)]
	return ok
}

func (s *fakeSched) interval(slug string, kind scheduler.Kind) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[scheduler.JobID(slug, kind)]
}

// fakeDoc is a minimal knowledge-base adapter counting document creations.
type fakeDoc struct {
	mu      sync.Mutex
	created []string
}

func (d *fakeDoc) Name() string                 { return "fakedoc" }
func (d *fakeDoc) Kind() domain.IntegrationKind { return domain.IntegrationPostmortem }
func (d *fakeDoc) Enabled() bool                { return true }

func (d *fakeDoc) CreateDocument(_ context.Context, title, _ string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = append(d.created, title)
	return "https://docs.example/" + title, nil
}

func (d *fakeDoc) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.created)
}

// fakeTicket is a minimal ticketing adapter recording lifecycle calls.
type fakeTicket struct {
	mu      sync.Mutex
	updates []string
	closed  []string
}

func (f *fakeTicket) Name() string                 { return "faketicket" }
func (f *fakeTicket) Kind() domain.IntegrationKind { return domain.IntegrationTicket }
func (f *fakeTicket) Enabled() bool                { return true }

func (f *fakeTicket) CreateTicket(_ context.Context, inc *domain.Incident) (string, error) {
	return "TICKET-" + inc.Slug, nil
}

func (f *fakeTicket) UpdateTicket(_ context.Context, ref string, _ *domain.Incident, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, ref+": "+note)
	return nil
}

func (f *fakeTicket) CloseTicket(_ context.Context, ref string, _ *domain.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, ref)
	return nil
}

func (f *fakeTicket) closedRefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

type testEnv struct {
	svc        *Service
	repo       *fakeRepo
	events     *fakeEventRepo
	gateway    *fakeGateway
	sched      *fakeSched
	registry   *integrations.Registry
	dispatcher *integrations.Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := newFakeRepo()
	events := &fakeEventRepo{}
	gateway := &fakeGateway{}
	sched := newFakeSched()
	registry := integrations.NewRegistry()
	dispatcher := integrations.NewDispatcher(slog.New(slog.DiscardHandler), 2, time.Second)
	t.Cleanup(dispatcher.Close)

	renderer, err := postmortem.NewRenderer()
	require.NoError(t, err)

	lifecycle := domain.Lifecycle{
		Statuses: []domain.StatusDefinition{
			{Name: "investigating", Initial: true},
			{Name: "identified"},
			{Name: "monitoring"},
			{Name: "resolved", Final: true},
		},
		Severities: []string{"sev1", "sev2", "sev3", "sev4"},
		Roles: []domain.RoleDefinition{
			{Name: "commander", IsLead: true},
			{Name: "scribe"},
		},
	}

	svc := NewService(repo, lifecycle, eventlog.NewService(events), gateway, registry, dispatcher, sched, renderer, Options{
		SlugPrefix:            "inc",
		DigestChannel:         "incidents",
		CommsReminderInterval: 30 * time.Minute,
		RoleWatcherInterval:   10 * time.Minute,
		RecentLimit:           25,
		AutoTicket:            true,
		AutoPostmortem:        true,
	})

	return &testEnv{
		svc:        svc,
		repo:       repo,
		events:     events,
		gateway:    gateway,
		sched:      sched,
		registry:   registry,
		dispatcher: dispatcher,
	}
}

func declare(t *testing.T, env *testEnv) *domain.Incident {
	t.Helper()
	inc, err := env.svc.Create(context.Background(), CreateInput{
		Description: "checkout is down",
		Severity:    "sev2",
		Actor:       "U1",
	})
	require.NoError(t, err)
	return inc
}

func TestCreateDerivesSlugAndArmsReminders(t *testing.T) {
	env := newTestEnv(t)

	inc := declare(t, env)

	assert.Equal(t, "inc-1", inc.Slug)
	assert.Equal(t, "investigating", inc.Status)
	assert.Equal(t, "Cinc-1", inc.ChannelRef)

	assert.True(t, env.sched.armed("inc-1", scheduler.KindCommsReminder))
	assert.True(t, env.sched.armed("inc-1", scheduler.KindRoleWatcher))
	assert.Equal(t, 30*time.Minute, env.sched.interval("inc-1", scheduler.KindCommsReminder))

	assert.Contains(t, env.events.texts(inc.ID), "Incident declared with severity sev2")
	require.NotEmpty(t, env.gateway.posts)
	assert.Equal(t, "incidents", env.gateway.posts[0].Target)
}

func TestCreateRejectsUnknownSeverity(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Create(context.Background(), CreateInput{Description: "x", Severity: "sev9"})
	assert.ErrorIs(t, err, ErrInvalidSeverity)
}

func TestSetStatusEqualValueIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	inc := declare(t, env)
	eventsBefore := len(env.events.texts(inc.ID))

	got, err := env.svc.SetStatus(context.Background(), inc.Slug, "investigating", "U1")
	require.NoError(t, err)

	assert.Equal(t, "investigating", got.Status)
	assert.Len(t, env.events.texts(inc.ID), eventsBefore)
	require.Len(t, env.gateway.ephemerals, 1)
	assert.Contains(t, env.gateway.ephemerals[0], "already investigating")
}

func TestSetStatusRejectsUnknownValue(t *testing.T) {
	env := newTestEnv(t)
	inc := declare(t, env)

	_, err := env.svc.SetStatus(context.Background(), inc.Slug, "mitigated", "U1")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestResolveRunsTerminalActionsOnce(t *testing.T) {
	env := newTestEnv(t)
	doc := &fakeDoc{}
	require.NoError(t, env.registry.Register(doc))

	inc := declare(t, env)

	got, err := env.svc.SetStatus(context.Background(), inc.Slug, "resolved", "U1")
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)

	env.dispatcher.Close()

	assert.False(t, env.sched.armed(inc.Slug, scheduler.KindCommsReminder))
	assert.False(t, env.sched.armed(inc.Slug, scheduler.KindRoleWatcher))
	assert.Equal(t, 1, doc.count())

	records, err := env.repo.ListIntegrationRecordsByKind(context.Background(), inc.ID, domain.IntegrationPostmortem)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "created", records[0].Status)
	assert.Contains(t, records[0].ExternalRef, "https://docs.example/")

	// Reopen and resolve again: the existing record blocks a second
	// document.
	_, err = env.svc.SetStatus(context.Background(), inc.Slug, "monitoring", "U1")
	require.NoError(t, err)
	_, err = env.svc.SetStatus(context.Background(), inc.Slug, "resolved", "U1")
	require.NoError(t, err)

	assert.Equal(t, 1, doc.count())
}

func TestResolveClosesLinkedTickets(t *testing.T) {
	env := newTestEnv(t)
	ticket := &fakeTicket{}
	require.NoError(t, env.registry.Register(ticket))

	inc := declare(t, env)
	env.dispatcher.Close()

	records, err := env.repo.ListIntegrationRecordsByKind(context.Background(), inc.ID, domain.IntegrationTicket)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "TICKET-"+inc.Slug, records[0].ExternalRef)

	_, err = env.svc.SetStatus(context.Background(), inc.Slug, "resolved", "U1")
	require.NoError(t, err)
	env.dispatcher.Close()

	assert.Equal(t, []string{"TICKET-" + inc.Slug}, ticket.closedRefs())
}

func TestReopenReArmsCommsReminder(t *testing.T) {
	env := newTestEnv(t)
	inc := declare(t, env)

	_, err := env.svc.SetStatus(context.Background(), inc.Slug, "resolved", "U1")
	require.NoError(t, err)
	assert.False(t, env.sched.armed(inc.Slug, scheduler.KindCommsReminder))

	got, err := env.svc.SetStatus(context.Background(), inc.Slug, "investigating", "U1")
	require.NoError(t, err)

	assert.Nil(t, got.ResolvedAt)
	assert.True(t, env.sched.armed(inc.Slug, scheduler.KindCommsReminder))
	assert.False(t, env.sched.armed(inc.Slug, scheduler.KindRoleWatcher))
	assert.Contains(t, env.gateway.postTexts(), "Incident inc-1 has been reopened.")
}

func TestSetSeverityEqualValueIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	inc := declare(t, env)

	_, err := env.svc.SetSeverity(context.Background(), inc.Slug, "sev2", "U1")
	require.NoError(t, err)

	require.Len(t, env.gateway.ephemerals, 1)
	assert.Contains(t, env.gateway.ephemerals[0], "already sev2")
}

func TestAssociateRole(t *testing.T) {
	env := newTestEnv(t)
	inc := declare(t, env)

	p, err := env.svc.AssociateRole(context.Background(), inc.Slug, "commander", "U2", "Dana")
	require.NoError(t, err)
	assert.True(t, p.IsLead)

	// A claimed role cancels the watcher.
	assert.False(t, env.sched.armed(inc.Slug, scheduler.KindRoleWatcher))

	// Another user may hold the same role; only the identical
	// (role, user) pair is a conflict.
	_, err = env.svc.AssociateRole(context.Background(), inc.Slug, "commander", "U3", "Sam")
	require.NoError(t, err)
	_, err = env.svc.AssociateRole(context.Background(), inc.Slug, "commander", "U2", "Dana")
	assert.ErrorIs(t, err, ErrRoleAlreadyClaimed)

	participants, err := env.svc.Participants(context.Background(), inc.Slug)
	require.NoError(t, err)
	assert.Len(t, participants, 2)

	_, err = env.svc.AssociateRole(context.Background(), inc.Slug, "bystander", "U3", "Sam")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestRemoveRoleReArmsWatcherWhenNoneLeft(t *testing.T) {
	env := newTestEnv(t)
	inc := declare(t, env)

	_, err := env.svc.AssociateRole(context.Background(), inc.Slug, "commander", "U2", "Dana")
	require.NoError(t, err)
	_, err = env.svc.AssociateRole(context.Background(), inc.Slug, "commander", "U3", "Sam")
	require.NoError(t, err)
	require.False(t, env.sched.armed(inc.Slug, scheduler.KindRoleWatcher))

	// Release removes only the named user's claim.
	require.NoError(t, env.svc.RemoveRole(context.Background(), inc.Slug, "commander", "U2"))
	participants, err := env.svc.Participants(context.Background(), inc.Slug)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, "U3", participants[0].UserID)
	assert.False(t, env.sched.armed(inc.Slug, scheduler.KindRoleWatcher))

	require.NoError(t, env.svc.RemoveRole(context.Background(), inc.Slug, "commander", "U3"))
	assert.True(t, env.sched.armed(inc.Slug, scheduler.KindRoleWatcher))

	// Releasing a claim the user does not hold is a no-op.
	require.NoError(t, env.svc.RemoveRole(context.Background(), inc.Slug, "scribe", "U2"))
}

func TestSnoozeAndSilenceReminder(t *testing.T) {
	env := newTestEnv(t)
	inc := declare(t, env)

	require.NoError(t, env.svc.SnoozeReminder(context.Background(), inc.Slug, time.Hour))
	assert.Equal(t, time.Hour, env.sched.interval(inc.Slug, scheduler.KindCommsReminder))

	require.NoError(t, env.svc.SilenceReminder(context.Background(), inc.Slug))
	assert.False(t, env.sched.armed(inc.Slug, scheduler.KindCommsReminder))

	// Silenced stays silenced.
	assert.ErrorIs(t, env.svc.SnoozeReminder(context.Background(), inc.Slug, time.Hour), ErrReminderNotFound)
	require.NoError(t, env.svc.SilenceReminder(context.Background(), inc.Slug))
}

func TestDeleteCancelsJobs(t *testing.T) {
	env := newTestEnv(t)
	inc := declare(t, env)

	require.NoError(t, env.svc.Delete(context.Background(), inc.Slug))

	assert.False(t, env.sched.armed(inc.Slug, scheduler.KindCommsReminder))
	_, err := env.svc.Get(context.Background(), inc.Slug)
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestCommsReminderNagsWhileOpen(t *testing.T) {
	env := newTestEnv(t)
	inc := declare(t, env)
	postsBefore := len(env.gateway.postTexts())

	env.svc.CommsReminder(context.Background(), inc.Slug)

	texts := env.gateway.postTexts()
	require.Greater(t, len(texts), postsBefore)
	assert.Contains(t, texts[len(texts)-1], "Please post the current status")
}

func TestCommsReminderCancelsWhenResolved(t *testing.T) {
	env := newTestEnv(t)
	inc := declare(t, env)

	_, err := env.svc.SetStatus(context.Background(), inc.Slug, "resolved", "U1")
	require.NoError(t, err)

	require.NoError(t, env.sched.Schedule(inc.Slug, scheduler.KindCommsReminder, time.Minute))
	env.svc.CommsReminder(context.Background(), inc.Slug)
	assert.False(t, env.sched.armed(inc.Slug, scheduler.KindCommsReminder))
}

func TestRoleWatcherReportsOpenRoles(t *testing.T) {
	env := newTestEnv(t)
	inc := declare(t, env)

	env.svc.RoleWatcher(context.Background(), inc.Slug)

	texts := env.gateway.postTexts()
	require.NotEmpty(t, texts)
	assert.Contains(t, texts[len(texts)-1], "Open roles: commander, scribe")
}

func TestRoleWatcherSelfCancelsOnceClaimed(t *testing.T) {
	env := newTestEnv(t)
	inc := declare(t, env)

	_, err := env.svc.AssociateRole(context.Background(), inc.Slug, "scribe", "U2", "Dana")
	require.NoError(t, err)

	require.NoError(t, env.sched.Schedule(inc.Slug, scheduler.KindRoleWatcher, time.Minute))
	env.svc.RoleWatcher(context.Background(), inc.Slug)
	assert.False(t, env.sched.armed(inc.Slug, scheduler.KindRoleWatcher))
}

func TestResumeReminders(t *testing.T) {
	env := newTestEnv(t)
	first := declare(t, env)
	second := declare(t, env)

	_, err := env.svc.AssociateRole(context.Background(), second.Slug, "commander", "U2", "Dana")
	require.NoError(t, err)

	// Fresh scheduler, as after a restart.
	env.sched.mu.Lock()
	env.sched.jobs = make(map[string]time.Duration)
	env.sched.mu.Unlock()

	require.NoError(t, env.svc.ResumeReminders(context.Background()))

	assert.True(t, env.sched.armed(first.Slug, scheduler.KindCommsReminder))
	assert.True(t, env.sched.armed(first.Slug, scheduler.KindRoleWatcher))
	assert.True(t, env.sched.armed(second.Slug, scheduler.KindCommsReminder))
	assert.False(t, env.sched.armed(second.Slug, scheduler.KindRoleWatcher))
}

func TestListRecentCapsLimit(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		declare(t, env)
	}

	incidents, err := env.svc.ListRecent(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, incidents, 2)

	incidents, err = env.svc.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, incidents, 3)
}
