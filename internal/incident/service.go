package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/eventlog"
	"github.com/bissquit/incident-warden/internal/integrations"
	"github.com/bissquit/incident-warden/internal/notify"
	"github.com/bissquit/incident-warden/internal/pkg/ctxlog"
	"github.com/bissquit/incident-warden/internal/postmortem"
	"github.com/bissquit/incident-warden/internal/scheduler"
	"github.com/google/uuid"
)

// ReminderScheduler arms and disarms per-incident recurring jobs.
type ReminderScheduler interface {
	Schedule(slug string, kind scheduler.Kind, every time.Duration) error
	Reschedule(slug string, kind scheduler.Kind, every time.Duration) error
	Cancel(slug string, kind scheduler.Kind) error
	CancelAll(slug string)
}

// Integration record statuses.
const (
	recordPending = "pending"
	recordCreated = "created"
	recordFailed  = "failed"
)

// Options holds orchestrator behavior knobs.
type Options struct {
	SlugPrefix            string
	DigestChannel         string
	CommsReminderInterval time.Duration
	RoleWatcherInterval   time.Duration
	RecentLimit           int
	AutoTicket            bool
	AutoPage              bool
	AutoPostmortem        bool
}

// Service is the incident state machine. Every mutation follows the same
// side-effect order: persist, then timeline, then chat, then integration
// fan-out. Only persistence failures surface to the caller.
type Service struct {
	repo       Repository
	lifecycle  domain.Lifecycle
	timeline   *eventlog.Service
	gateway    notify.Gateway
	registry   *integrations.Registry
	dispatcher *integrations.Dispatcher
	sched      ReminderScheduler
	renderer   *postmortem.Renderer
	opts       Options
}

// NewService creates a new incident service.
func NewService(
	repo Repository,
	lifecycle domain.Lifecycle,
	timeline *eventlog.Service,
	gateway notify.Gateway,
	registry *integrations.Registry,
	dispatcher *integrations.Dispatcher,
	sched ReminderScheduler,
	renderer *postmortem.Renderer,
	opts Options,
) *Service {
	return &Service{
		repo:       repo,
		lifecycle:  lifecycle,
		timeline:   timeline,
		gateway:    gateway,
		registry:   registry,
		dispatcher: dispatcher,
		sched:      sched,
		renderer:   renderer,
		opts:       opts,
	}
}

// CreateInput holds data for declaring an incident.
type CreateInput struct {
	Description string
	Severity    string
	Components  string
	Impact      string
	Actor       string
}

// Create declares a new incident: the record is committed with the
// initial status and a slug derived from its generated id, then the chat
// channel, reminders and integrations are brought up around it.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Incident, error) {
	if !s.lifecycle.ValidSeverity(input.Severity) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSeverity, input.Severity)
	}

	inc := &domain.Incident{
		Description: input.Description,
		Components:  input.Components,
		Impact:      input.Impact,
		Severity:    input.Severity,
		Status:      s.lifecycle.InitialStatus(),
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.repo.CreateIncidentTx(ctx, tx, inc); err != nil {
		return nil, err
	}
	inc.Slug = domain.Slugify(s.opts.SlugPrefix, inc.ID)
	if err := s.repo.SetSlugTx(ctx, tx, inc.ID, inc.Slug); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit incident: %w", err)
	}

	logger := ctxlog.FromContext(ctx)

	ref, link, err := s.gateway.CreateChannel(ctx, inc.Slug)
	if err != nil {
		logger.Warn("create incident channel failed", "slug", inc.Slug, "error", err)
	} else if ref != "" {
		if err := s.repo.UpdateChannel(ctx, inc.ID, ref, link); err != nil {
			logger.Error("attach incident channel failed", "slug", inc.Slug, "error", err)
		} else {
			inc.ChannelRef = ref
			inc.Link = link
		}
	}

	s.appendEvent(ctx, inc, domain.SourceSystem, input.Actor,
		fmt.Sprintf("Incident declared with severity %s", inc.Severity))
	s.scheduleReminders(ctx, inc.Slug, true)
	s.post(ctx, s.opts.DigestChannel, notify.Message{
		Title: fmt.Sprintf("New incident: %s", inc.Slug),
		Text:  digestLine(inc),
		Color: severityColor(inc.Severity),
	})

	var tasks []integrations.Task
	if s.opts.AutoTicket {
		for _, t := range s.registry.Tickets() {
			tasks = append(tasks, s.ticketCreateTask(t, inc))
		}
	}
	if s.opts.AutoPage {
		for _, p := range s.registry.Pagers() {
			tasks = append(tasks, s.pageTriggerTask(p, inc))
		}
	}
	for _, sp := range s.registry.StatusPages() {
		tasks = append(tasks, s.statuspagePublishTask(sp, inc))
	}
	s.dispatcher.Fanout(ctx, tasks...)

	return inc, nil
}

// AttachChannel binds an externally created chat channel to the incident.
func (s *Service) AttachChannel(ctx context.Context, slug, channelRef, link string) (*domain.Incident, error) {
	inc, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateChannel(ctx, inc.ID, channelRef, link); err != nil {
		return nil, err
	}
	inc.ChannelRef = channelRef
	inc.Link = link

	s.appendEvent(ctx, inc, domain.SourceSystem, "", "Incident channel attached")
	return inc, nil
}

// SetStatus moves the incident to another status of the configured set.
// Setting the current status again is a no-op acknowledged only by an
// ephemeral notice. The first arrival at the final status triggers the
// terminal actions exactly once.
func (s *Service) SetStatus(ctx context.Context, slug, status, actor string) (*domain.Incident, error) {
	inc, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !s.lifecycle.ValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if inc.Status == status {
		s.ephemeral(ctx, inc, actor, fmt.Sprintf("Status is already %s.", status))
		return inc, nil
	}

	old := inc.Status
	final := s.lifecycle.FinalStatus()
	wasFinal := old == final
	entersFinal := status == final

	var resolvedAt *time.Time
	if entersFinal {
		now := time.Now().UTC()
		resolvedAt = &now
	}
	if err := s.repo.UpdateStatus(ctx, inc.ID, status, resolvedAt); err != nil {
		return nil, err
	}
	inc.Status = status
	inc.ResolvedAt = resolvedAt

	s.appendEvent(ctx, inc, domain.SourceSystem, actor,
		fmt.Sprintf("Status changed from %s to %s", old, status))
	s.postToIncident(ctx, inc, notify.Message{
		Text:  fmt.Sprintf("Status is now *%s*.", status),
		Color: statusColor(status, final),
	})

	note := fmt.Sprintf("Incident %s status changed from %s to %s.", inc.Slug, old, status)
	label := fmt.Sprintf("%s/status/%s", inc.Slug, status)
	var tasks []integrations.Task
	tasks = append(tasks, s.ticketUpdateTasks(inc, label, note)...)
	if !entersFinal {
		tasks = append(tasks, s.statuspageUpdateTasks(inc, label)...)
	}
	s.dispatcher.Fanout(ctx, tasks...)

	if entersFinal {
		s.finalize(ctx, inc)
	} else if wasFinal {
		// Reopened: bring the reminders back.
		s.scheduleReminders(ctx, inc.Slug, false)
		s.post(ctx, s.opts.DigestChannel, notify.Message{
			Text:  fmt.Sprintf("Incident %s has been reopened.", inc.Slug),
			Color: severityColor(inc.Severity),
		})
	}

	return inc, nil
}

// SetSeverity moves the incident to another severity of the configured
// set. Terminal actions never depend on severity.
func (s *Service) SetSeverity(ctx context.Context, slug, severity, actor string) (*domain.Incident, error) {
	inc, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !s.lifecycle.ValidSeverity(severity) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSeverity, severity)
	}

	if inc.Severity == severity {
		s.ephemeral(ctx, inc, actor, fmt.Sprintf("Severity is already %s.", severity))
		return inc, nil
	}

	old := inc.Severity
	if err := s.repo.UpdateSeverity(ctx, inc.ID, severity); err != nil {
		return nil, err
	}
	inc.Severity = severity

	s.appendEvent(ctx, inc, domain.SourceSystem, actor,
		fmt.Sprintf("Severity changed from %s to %s", old, severity))
	s.postToIncident(ctx, inc, notify.Message{
		Text:  fmt.Sprintf("Severity is now *%s*.", severity),
		Color: severityColor(severity),
	})

	note := fmt.Sprintf("Incident %s severity changed from %s to %s.", inc.Slug, old, severity)
	label := fmt.Sprintf("%s/severity/%s", inc.Slug, severity)
	tasks := s.ticketUpdateTasks(inc, label, note)
	tasks = append(tasks, s.statuspageUpdateTasks(inc, label)...)
	s.dispatcher.Fanout(ctx, tasks...)

	return inc, nil
}

// SetDescription rewords what the incident is about.
func (s *Service) SetDescription(ctx context.Context, slug, description, actor string) (*domain.Incident, error) {
	inc, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateDescription(ctx, inc.ID, description); err != nil {
		return nil, err
	}
	inc.Description = description

	s.appendEvent(ctx, inc, domain.SourceUser, actor, fmt.Sprintf("Description set to: %s", description))
	return inc, nil
}

// AssociateRole claims a role for a user. A role may be held by several
// users at once; only a repeated claim of the same (role, user) pair is
// rejected.
func (s *Service) AssociateRole(ctx context.Context, slug, role, userID, userName string) (*domain.Participant, error) {
	inc, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	roleDef, ok := s.lifecycle.Role(role)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	p := &domain.Participant{
		IncidentID: inc.ID,
		Role:       role,
		UserID:     userID,
		UserName:   userName,
		IsLead:     roleDef.IsLead,
	}
	if err := s.repo.CreateParticipant(ctx, p); err != nil {
		return nil, err
	}

	who := userName
	if who == "" {
		who = userID
	}
	s.appendEvent(ctx, inc, domain.SourceSystem, userID, fmt.Sprintf("%s claimed role %s", who, role))
	s.postToIncident(ctx, inc, notify.Message{
		Text: fmt.Sprintf("%s is now %s.", who, role),
	})

	// Someone is on it, the watcher can go quiet.
	if err := s.sched.Cancel(inc.Slug, scheduler.KindRoleWatcher); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
		ctxlog.FromContext(ctx).Warn("cancel role watcher failed", "slug", inc.Slug, "error", err)
	}

	return p, nil
}

// RemoveRole releases one user's claim on a role. Releasing a claim the
// user does not hold is a no-op.
func (s *Service) RemoveRole(ctx context.Context, slug, role, userID string) error {
	inc, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if _, ok := s.lifecycle.Role(role); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	removed, err := s.repo.DeleteParticipant(ctx, inc.ID, role, userID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	s.appendEvent(ctx, inc, domain.SourceSystem, userID, fmt.Sprintf("Role %s released", role))

	remaining, err := s.repo.ListParticipants(ctx, inc.ID)
	if err != nil {
		ctxlog.FromContext(ctx).Error("list participants failed", "slug", inc.Slug, "error", err)
		return nil
	}
	if len(remaining) == 0 && !inc.IsResolved(s.lifecycle.FinalStatus()) && s.opts.RoleWatcherInterval > 0 {
		if err := s.sched.Schedule(inc.Slug, scheduler.KindRoleWatcher, s.opts.RoleWatcherInterval); err != nil {
			ctxlog.FromContext(ctx).Warn("re-arm role watcher failed", "slug", inc.Slug, "error", err)
		}
	}
	return nil
}

// SnoozeReminder pushes the communications reminder out to a new
// interval. A silenced reminder stays silenced.
func (s *Service) SnoozeReminder(ctx context.Context, slug string, d time.Duration) error {
	inc, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}

	if err := s.sched.Reschedule(inc.Slug, scheduler.KindCommsReminder, d); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			return ErrReminderNotFound
		}
		return fmt.Errorf("snooze reminder: %w", err)
	}

	s.appendEvent(ctx, inc, domain.SourceSystem, "", fmt.Sprintf("Communications reminder snoozed for %s", d))
	return nil
}

// SilenceReminder cancels the communications reminder for good. Silencing
// twice is a no-op.
func (s *Service) SilenceReminder(ctx context.Context, slug string) error {
	inc, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}

	if err := s.sched.Cancel(inc.Slug, scheduler.KindCommsReminder); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			return nil
		}
		return fmt.Errorf("silence reminder: %w", err)
	}

	s.appendEvent(ctx, inc, domain.SourceSystem, "", "Communications reminder silenced")
	return nil
}

// Delete removes the incident and everything hanging off it.
func (s *Service) Delete(ctx context.Context, slug string) error {
	inc, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	s.sched.CancelAll(inc.Slug)
	return s.repo.DeleteIncident(ctx, inc.ID)
}

// Get retrieves an incident by slug.
func (s *Service) Get(ctx context.Context, slug string) (*domain.Incident, error) {
	return s.repo.GetBySlug(ctx, slug)
}

// GetByChannel retrieves an incident by its chat channel reference.
func (s *Service) GetByChannel(ctx context.Context, channelRef string) (*domain.Incident, error) {
	return s.repo.GetByChannel(ctx, channelRef)
}

// ListRecent retrieves the most recently declared incidents.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]*domain.Incident, error) {
	if limit <= 0 || limit > s.opts.RecentLimit {
		limit = s.opts.RecentLimit
	}
	return s.repo.ListRecent(ctx, limit)
}

// ListOpen retrieves incidents that have not reached the final status.
func (s *Service) ListOpen(ctx context.Context) ([]*domain.Incident, error) {
	return s.repo.ListOpen(ctx, s.lifecycle.FinalStatus())
}

// Participants retrieves the claimed roles of an incident.
func (s *Service) Participants(ctx context.Context, slug string) ([]*domain.Participant, error) {
	inc, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.repo.ListParticipants(ctx, inc.ID)
}

// IntegrationRecords retrieves the external tracking records of an incident.
func (s *Service) IntegrationRecords(ctx context.Context, slug string) ([]*domain.IntegrationRecord, error) {
	inc, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.repo.ListIntegrationRecords(ctx, inc.ID)
}

// ResumeReminders re-arms reminder jobs for every open incident. Called
// once at startup, since jobs live in memory only.
func (s *Service) ResumeReminders(ctx context.Context) error {
	open, err := s.repo.ListOpen(ctx, s.lifecycle.FinalStatus())
	if err != nil {
		return fmt.Errorf("list open incidents: %w", err)
	}

	for _, inc := range open {
		participants, err := s.repo.ListParticipants(ctx, inc.ID)
		if err != nil {
			return err
		}
		s.scheduleReminders(ctx, inc.Slug, len(participants) == 0)
	}

	ctxlog.FromContext(ctx).Info("reminders resumed", "open_incidents", len(open))
	return nil
}

// CommsReminder is the comms_reminder job handler: it nags the incident
// channel for a status update while the incident is open.
func (s *Service) CommsReminder(ctx context.Context, slug string) {
	logger := ctxlog.FromContext(ctx).With("slug", slug)

	inc, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		logger.Warn("comms reminder: incident gone, cancelling jobs", "error", err)
		s.sched.CancelAll(slug)
		return
	}
	if inc.IsResolved(s.lifecycle.FinalStatus()) {
		s.sched.CancelAll(slug)
		return
	}

	s.postToIncident(ctx, inc, notify.Message{
		Text: "It has been a while since the last update. Please post the current status, or snooze this reminder.",
	})
}

// RoleWatcher is the role_watcher job handler: it reports unclaimed roles
// and cancels itself once anyone has claimed one.
func (s *Service) RoleWatcher(ctx context.Context, slug string) {
	logger := ctxlog.FromContext(ctx).With("slug", slug)

	inc, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		logger.Warn("role watcher: incident gone, cancelling jobs", "error", err)
		s.sched.CancelAll(slug)
		return
	}

	participants, err := s.repo.ListParticipants(ctx, inc.ID)
	if err != nil {
		logger.Error("role watcher: list participants failed", "error", err)
		return
	}
	if len(participants) > 0 {
		if err := s.sched.Cancel(slug, scheduler.KindRoleWatcher); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
			logger.Warn("role watcher: self-cancel failed", "error", err)
		}
		return
	}

	var roles string
	for i, r := range s.lifecycle.Roles {
		if i > 0 {
			roles += ", "
		}
		roles += r.Name
	}
	s.postToIncident(ctx, inc, notify.Message{
		Text: fmt.Sprintf("No roles have been claimed yet. Open roles: %s.", roles),
	})
}

// finalize runs the terminal actions on first arrival at the final
// status: stop the jobs, announce resolution, generate the postmortem,
// close linked tickets and stand down pagers and status pages.
func (s *Service) finalize(ctx context.Context, inc *domain.Incident) {
	logger := ctxlog.FromContext(ctx)

	s.sched.CancelAll(inc.Slug)

	s.postToIncident(ctx, inc, notify.Message{
		Text:  "This incident has been resolved. Thank you all for your work.",
		Color: "good",
	})
	s.post(ctx, s.opts.DigestChannel, notify.Message{
		Text:  fmt.Sprintf("Incident %s has been resolved.", inc.Slug),
		Color: "good",
	})

	var tasks []integrations.Task

	if docs := s.registry.Docs(); s.opts.AutoPostmortem && len(docs) > 0 {
		rec := &domain.IntegrationRecord{
			ID:         uuid.New().String(),
			IncidentID: inc.ID,
			Kind:       domain.IntegrationPostmortem,
			Status:     recordPending,
		}
		// The unique index makes the postmortem a first-writer-wins
		// affair: on a repeated resolution the insert conflicts and the
		// document is not generated twice.
		if err := s.repo.CreateIntegrationRecord(ctx, rec); err != nil {
			if errors.Is(err, ErrPostmortemExists) {
				logger.Info("postmortem already exists, skipping", "slug", inc.Slug)
			} else {
				logger.Error("create postmortem record failed", "slug", inc.Slug, "error", err)
			}
		} else {
			tasks = append(tasks, s.postmortemTask(docs[0], inc, rec))
		}
	}

	records, err := s.repo.ListIntegrationRecords(ctx, inc.ID)
	if err != nil {
		logger.Error("list integration records failed", "slug", inc.Slug, "error", err)
		records = nil
	}
	for _, rec := range records {
		if rec.ExternalRef == "" {
			continue
		}
		switch rec.Kind {
		case domain.IntegrationTicket:
			for _, t := range s.registry.Tickets() {
				tasks = append(tasks, s.ticketCloseTask(t, inc, rec))
			}
		case domain.IntegrationPager:
			for _, p := range s.registry.Pagers() {
				tasks = append(tasks, s.pageResolveTask(p, inc, rec))
			}
		case domain.IntegrationStatuspage:
			for _, sp := range s.registry.StatusPages() {
				tasks = append(tasks, s.statuspageResolveTask(sp, inc, rec))
			}
		}
	}

	s.dispatcher.Fanout(ctx, tasks...)
}

func (s *Service) scheduleReminders(ctx context.Context, slug string, withWatcher bool) {
	logger := ctxlog.FromContext(ctx)

	if s.opts.CommsReminderInterval > 0 {
		if err := s.sched.Schedule(slug, scheduler.KindCommsReminder, s.opts.CommsReminderInterval); err != nil {
			logger.Warn("schedule comms reminder failed", "slug", slug, "error", err)
		}
	}
	if withWatcher && s.opts.RoleWatcherInterval > 0 {
		if err := s.sched.Schedule(slug, scheduler.KindRoleWatcher, s.opts.RoleWatcherInterval); err != nil {
			logger.Warn("schedule role watcher failed", "slug", slug, "error", err)
		}
	}
}

// appendEvent records a timeline entry; the aggregate mutation has
// already committed, so failures are logged, not surfaced.
func (s *Service) appendEvent(ctx context.Context, inc *domain.Incident, source domain.EventSource, actor, text string) {
	_, err := s.timeline.Append(ctx, eventlog.AppendInput{
		IncidentID: inc.ID,
		Slug:       inc.Slug,
		Source:     source,
		Text:       text,
		Actor:      actor,
	})
	if err != nil {
		ctxlog.FromContext(ctx).Error("append timeline entry failed", "slug", inc.Slug, "error", err)
	}
}

func (s *Service) postToIncident(ctx context.Context, inc *domain.Incident, msg notify.Message) {
	if inc.ChannelRef == "" {
		return
	}
	msg.Target = inc.ChannelRef
	s.post(ctx, msg.Target, msg)
}

func (s *Service) post(ctx context.Context, target string, msg notify.Message) {
	if target == "" {
		return
	}
	msg.Target = target
	if _, err := s.gateway.Post(ctx, msg); err != nil {
		ctxlog.FromContext(ctx).Warn("chat notification failed", "target", target, "error", err)
	}
}

func (s *Service) ephemeral(ctx context.Context, inc *domain.Incident, actor, text string) {
	if inc.ChannelRef == "" || actor == "" {
		return
	}
	if err := s.gateway.PostEphemeral(ctx, inc.ChannelRef, actor, text); err != nil {
		ctxlog.FromContext(ctx).Warn("ephemeral notice failed", "slug", inc.Slug, "error", err)
	}
}

func digestLine(inc *domain.Incident) string {
	line := fmt.Sprintf("Severity %s", inc.Severity)
	if inc.Description != "" {
		line += ": " + inc.Description
	}
	if inc.Link != "" {
		line += "\n" + inc.Link
	}
	return line
}

func severityColor(severity string) string {
	switch severity {
	case "sev1", "sev2":
		return "danger"
	case "sev3":
		return "warning"
	default:
		return "#439fe0"
	}
}

func statusColor(status, final string) string {
	if status == final {
		return "good"
	}
	return "warning"
}
