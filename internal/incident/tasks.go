package incident

import (
	"context"
	"fmt"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/integrations"
	"github.com/bissquit/incident-warden/internal/notify"
	"github.com/bissquit/incident-warden/internal/pkg/ctxlog"
	"github.com/bissquit/incident-warden/internal/postmortem"
	"github.com/google/uuid"
)

// Fan-out task builders. Each task records its outcome on an integration
// record, so the incident always shows what is tracked where.

func (s *Service) ticketCreateTask(t integrations.TicketAdapter, inc *domain.Incident) integrations.Task {
	return integrations.Task{
		Adapter: t.Name(),
		Label:   inc.Slug + "/create",
		Run: func(ctx context.Context) error {
			rec := s.newRecord(inc, t.Kind())
			if err := s.repo.CreateIntegrationRecord(ctx, rec); err != nil {
				return err
			}

			ref, err := t.CreateTicket(ctx, inc)
			if err != nil {
				s.failRecord(ctx, rec, err)
				return err
			}

			rec.ExternalRef = ref
			rec.Status = recordCreated
			if err := s.repo.UpdateIntegrationRecord(ctx, rec); err != nil {
				return err
			}
			s.postToIncident(ctx, inc, notify.Message{Text: fmt.Sprintf("Tracking ticket created: %s", ref)})
			return nil
		},
	}
}

func (s *Service) ticketUpdateTasks(inc *domain.Incident, label, note string) []integrations.Task {
	var tasks []integrations.Task
	for _, t := range s.registry.Tickets() {
		tasks = append(tasks, integrations.Task{
			Adapter: t.Name(),
			Label:   label,
			Run: func(ctx context.Context) error {
				records, err := s.repo.ListIntegrationRecordsByKind(ctx, inc.ID, domain.IntegrationTicket)
				if err != nil {
					return err
				}
				for _, rec := range records {
					if rec.ExternalRef == "" {
						continue
					}
					if err := t.UpdateTicket(ctx, rec.ExternalRef, inc, note); err != nil {
						return err
					}
					rec.Updates = append(rec.Updates, note)
					if err := s.repo.UpdateIntegrationRecord(ctx, rec); err != nil {
						return err
					}
				}
				return nil
			},
		})
	}
	return tasks
}

func (s *Service) ticketCloseTask(t integrations.TicketAdapter, inc *domain.Incident, rec *domain.IntegrationRecord) integrations.Task {
	return integrations.Task{
		Adapter: t.Name(),
		Label:   inc.Slug + "/ticket-close",
		Run: func(ctx context.Context) error {
			if err := t.CloseTicket(ctx, rec.ExternalRef, inc); err != nil {
				return err
			}
			rec.Status = "closed"
			return s.repo.UpdateIntegrationRecord(ctx, rec)
		},
	}
}

func (s *Service) pageTriggerTask(p integrations.PagingAdapter, inc *domain.Incident) integrations.Task {
	return integrations.Task{
		Adapter: p.Name(),
		Label:   inc.Slug + "/page",
		Run: func(ctx context.Context) error {
			rec := s.newRecord(inc, p.Kind())
			if err := s.repo.CreateIntegrationRecord(ctx, rec); err != nil {
				return err
			}

			ref, err := p.TriggerPage(ctx, inc)
			if err != nil {
				s.failRecord(ctx, rec, err)
				return err
			}

			rec.ExternalRef = ref
			rec.Status = recordCreated
			return s.repo.UpdateIntegrationRecord(ctx, rec)
		},
	}
}

func (s *Service) pageResolveTask(p integrations.PagingAdapter, inc *domain.Incident, rec *domain.IntegrationRecord) integrations.Task {
	return integrations.Task{
		Adapter: p.Name(),
		Label:   inc.Slug + "/page-resolve",
		Run: func(ctx context.Context) error {
			if err := p.ResolvePage(ctx, rec.ExternalRef, inc); err != nil {
				return err
			}
			rec.Status = "resolved"
			return s.repo.UpdateIntegrationRecord(ctx, rec)
		},
	}
}

func (s *Service) statuspagePublishTask(sp integrations.StatusPageAdapter, inc *domain.Incident) integrations.Task {
	return integrations.Task{
		Adapter: sp.Name(),
		Label:   inc.Slug + "/publish",
		Run: func(ctx context.Context) error {
			rec := s.newRecord(inc, sp.Kind())
			if err := s.repo.CreateIntegrationRecord(ctx, rec); err != nil {
				return err
			}

			ref, err := sp.PublishIncident(ctx, inc)
			if err != nil {
				s.failRecord(ctx, rec, err)
				return err
			}

			rec.ExternalRef = ref
			rec.Status = recordCreated
			return s.repo.UpdateIntegrationRecord(ctx, rec)
		},
	}
}

func (s *Service) statuspageUpdateTasks(inc *domain.Incident, label string) []integrations.Task {
	var tasks []integrations.Task
	for _, sp := range s.registry.StatusPages() {
		tasks = append(tasks, integrations.Task{
			Adapter: sp.Name(),
			Label:   label,
			Run: func(ctx context.Context) error {
				records, err := s.repo.ListIntegrationRecordsByKind(ctx, inc.ID, domain.IntegrationStatuspage)
				if err != nil {
					return err
				}
				for _, rec := range records {
					if rec.ExternalRef == "" {
						continue
					}
					if err := sp.UpdateIncident(ctx, rec.ExternalRef, inc); err != nil {
						return err
					}
				}
				return nil
			},
		})
	}
	return tasks
}

func (s *Service) statuspageResolveTask(sp integrations.StatusPageAdapter, inc *domain.Incident, rec *domain.IntegrationRecord) integrations.Task {
	return integrations.Task{
		Adapter: sp.Name(),
		Label:   inc.Slug + "/statuspage-resolve",
		Run: func(ctx context.Context) error {
			if err := sp.ResolveIncident(ctx, rec.ExternalRef, inc); err != nil {
				return err
			}
			rec.Status = "resolved"
			return s.repo.UpdateIntegrationRecord(ctx, rec)
		},
	}
}

func (s *Service) postmortemTask(doc integrations.DocAdapter, inc *domain.Incident, rec *domain.IntegrationRecord) integrations.Task {
	return integrations.Task{
		Adapter: doc.Name(),
		Label:   inc.Slug + "/postmortem",
		Run: func(ctx context.Context) error {
			timeline, err := s.timeline.Read(ctx, inc.ID)
			if err != nil {
				s.failRecord(ctx, rec, err)
				return err
			}
			participants, err := s.repo.ListParticipants(ctx, inc.ID)
			if err != nil {
				s.failRecord(ctx, rec, err)
				return err
			}

			body, err := s.renderer.Render(postmortem.Input{
				Incident:     inc,
				Timeline:     timeline,
				Participants: participants,
				GeneratedAt:  rec.CreatedAt,
			})
			if err != nil {
				s.failRecord(ctx, rec, err)
				return err
			}

			ref, err := doc.CreateDocument(ctx, s.renderer.Title(inc), body)
			if err != nil {
				s.failRecord(ctx, rec, err)
				return err
			}

			rec.ExternalRef = ref
			rec.Status = recordCreated
			if err := s.repo.UpdateIntegrationRecord(ctx, rec); err != nil {
				return err
			}
			s.postToIncident(ctx, inc, notify.Message{Text: fmt.Sprintf("Postmortem draft: %s", ref)})
			return nil
		},
	}
}

func (s *Service) newRecord(inc *domain.Incident, kind domain.IntegrationKind) *domain.IntegrationRecord {
	return &domain.IntegrationRecord{
		ID:         uuid.New().String(),
		IncidentID: inc.ID,
		Kind:       kind,
		Status:     recordPending,
	}
}

func (s *Service) failRecord(ctx context.Context, rec *domain.IntegrationRecord, cause error) {
	rec.Status = recordFailed
	rec.Updates = append(rec.Updates, cause.Error())
	if err := s.repo.UpdateIntegrationRecord(ctx, rec); err != nil {
		ctxlog.FromContext(ctx).Error("mark integration record failed", "record_id", rec.ID, "error", err)
	}
}
