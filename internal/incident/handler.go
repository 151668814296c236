package incident

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/eventlog"
	"github.com/bissquit/incident-warden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// errorMappings maps service errors to HTTP responses.
var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound},
	{Error: ErrInvalidStatus, Status: http.StatusBadRequest},
	{Error: ErrInvalidSeverity, Status: http.StatusBadRequest},
	{Error: ErrInvalidRole, Status: http.StatusBadRequest},
	{Error: ErrRoleAlreadyClaimed, Status: http.StatusConflict},
	{Error: ErrPostmortemExists, Status: http.StatusConflict},
	{Error: ErrReminderNotFound, Status: http.StatusNotFound},
	{Error: eventlog.ErrEntryNotFound, Status: http.StatusNotFound},
	{Error: eventlog.ErrInvalidSource, Status: http.StatusBadRequest},
	{Error: eventlog.ErrEmptyEntry, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for incidents and their timelines.
type Handler struct {
	service   *Service
	timeline  *eventlog.Service
	validator *validator.Validate
}

// NewHandler creates a new incident handler.
func NewHandler(service *Service, timeline *eventlog.Service) *Handler {
	return &Handler{
		service:   service,
		timeline:  timeline,
		validator: validator.New(),
	}
}

// RegisterRoutes registers all incident routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.ListRecent)
		r.Post("/", h.Create)
		r.Get("/open", h.ListOpen)
		r.Get("/by-channel/{ref}", h.GetByChannel)

		r.Route("/{slug}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Patch("/status", h.SetStatus)
			r.Patch("/severity", h.SetSeverity)
			r.Patch("/description", h.SetDescription)
			r.Put("/channel", h.AttachChannel)

			r.Get("/roles", h.ListRoles)
			r.Put("/roles/{role}", h.AssociateRole)
			r.Delete("/roles/{role}/{user}", h.RemoveRole)

			r.Post("/reminder/snooze", h.SnoozeReminder)
			r.Delete("/reminder", h.SilenceReminder)

			r.Get("/integrations", h.ListIntegrations)

			r.Get("/events", h.ListEvents)
			r.Post("/events", h.AppendEvent)
		})
	})

	r.Route("/events/{id}", func(r chi.Router) {
		r.Get("/", h.GetEvent)
		r.Patch("/", h.UpdateEvent)
		r.Delete("/", h.DeleteEvent)
	})
}

// CreateRequest represents the request body for declaring an incident.
type CreateRequest struct {
	Description string `json:"description" validate:"required,min=1,max=2000"`
	Severity    string `json:"severity" validate:"required"`
	Components  string `json:"components" validate:"max=1000"`
	Impact      string `json:"impact" validate:"max=2000"`
}

// Create handles POST /incidents.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.Create(r.Context(), CreateInput{
		Description: req.Description,
		Severity:    req.Severity,
		Components:  req.Components,
		Impact:      req.Impact,
		Actor:       httputil.GetActor(r.Context()),
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, inc)
}

// Get handles GET /incidents/{slug}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

// GetByChannel handles GET /incidents/by-channel/{ref}. Chat-side
// tooling resolves the incident from the channel it lives in.
func (h *Handler) GetByChannel(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.GetByChannel(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

// ListRecent handles GET /incidents.
func (h *Handler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	incidents, err := h.service.ListRecent(r.Context(), limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, incidents)
}

// ListOpen handles GET /incidents/open.
func (h *Handler) ListOpen(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.service.ListOpen(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, incidents)
}

// Delete handles DELETE /incidents/{slug}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "slug")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetStatusRequest represents the request body for a status change.
type SetStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// SetStatus handles PATCH /incidents/{slug}/status.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.SetStatus(r.Context(), chi.URLParam(r, "slug"), req.Status, httputil.GetActor(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

// SetSeverityRequest represents the request body for a severity change.
type SetSeverityRequest struct {
	Severity string `json:"severity" validate:"required"`
}

// SetSeverity handles PATCH /incidents/{slug}/severity.
func (h *Handler) SetSeverity(w http.ResponseWriter, r *http.Request) {
	var req SetSeverityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.SetSeverity(r.Context(), chi.URLParam(r, "slug"), req.Severity, httputil.GetActor(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

// SetDescriptionRequest represents the request body for a description change.
type SetDescriptionRequest struct {
	Description string `json:"description" validate:"required,min=1,max=2000"`
}

// SetDescription handles PATCH /incidents/{slug}/description.
func (h *Handler) SetDescription(w http.ResponseWriter, r *http.Request) {
	var req SetDescriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.SetDescription(r.Context(), chi.URLParam(r, "slug"), req.Description, httputil.GetActor(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

// AttachChannelRequest represents the request body for binding a chat channel.
type AttachChannelRequest struct {
	ChannelRef string `json:"channel_ref" validate:"required"`
	Link       string `json:"link" validate:"omitempty,url"`
}

// AttachChannel handles PUT /incidents/{slug}/channel.
func (h *Handler) AttachChannel(w http.ResponseWriter, r *http.Request) {
	var req AttachChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.AttachChannel(r.Context(), chi.URLParam(r, "slug"), req.ChannelRef, req.Link)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

// AssociateRoleRequest represents the request body for claiming a role.
type AssociateRoleRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	UserName string `json:"user_name"`
}

// AssociateRole handles PUT /incidents/{slug}/roles/{role}.
func (h *Handler) AssociateRole(w http.ResponseWriter, r *http.Request) {
	var req AssociateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	p, err := h.service.AssociateRole(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "role"), req.UserID, req.UserName)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, p)
}

// RemoveRole handles DELETE /incidents/{slug}/roles/{role}/{user}.
func (h *Handler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveRole(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "role"), chi.URLParam(r, "user")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRoles handles GET /incidents/{slug}/roles.
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	participants, err := h.service.Participants(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, participants)
}

// SnoozeReminderRequest represents the request body for snoozing the
// communications reminder.
type SnoozeReminderRequest struct {
	Duration string `json:"duration" validate:"required"`
}

// SnoozeReminder handles POST /incidents/{slug}/reminder/snooze.
func (h *Handler) SnoozeReminder(w http.ResponseWriter, r *http.Request) {
	var req SnoozeReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	d, err := time.ParseDuration(req.Duration)
	if err != nil || d <= 0 {
		httputil.Error(w, http.StatusBadRequest, "duration must be a positive Go duration, e.g. \"30m\"")
		return
	}

	if err := h.service.SnoozeReminder(r.Context(), chi.URLParam(r, "slug"), d); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SilenceReminder handles DELETE /incidents/{slug}/reminder.
func (h *Handler) SilenceReminder(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SilenceReminder(r.Context(), chi.URLParam(r, "slug")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListIntegrations handles GET /incidents/{slug}/integrations.
func (h *Handler) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.IntegrationRecords(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, records)
}

// AppendEventRequest represents the request body for a timeline entry.
type AppendEventRequest struct {
	Source     string     `json:"source" validate:"omitempty,oneof=system user pin"`
	Title      string     `json:"title" validate:"max=500"`
	Text       string     `json:"text" validate:"max=10000"`
	Image      []byte     `json:"image"`
	MimeType   string     `json:"mime_type" validate:"max=100"`
	MessageRef string     `json:"message_ref" validate:"max=500"`
	Timestamp  *time.Time `json:"timestamp"`
}

// AppendEvent handles POST /incidents/{slug}/events.
func (h *Handler) AppendEvent(w http.ResponseWriter, r *http.Request) {
	var req AppendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	source := domain.EventSource(req.Source)
	if source == "" {
		source = domain.SourceUser
	}

	event, err := h.timeline.Append(r.Context(), eventlog.AppendInput{
		IncidentID: inc.ID,
		Slug:       inc.Slug,
		Source:     source,
		Title:      req.Title,
		Text:       req.Text,
		Image:      req.Image,
		MimeType:   req.MimeType,
		MessageRef: req.MessageRef,
		Actor:      httputil.GetActor(r.Context()),
		Timestamp:  req.Timestamp,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, event)
}

// ListEvents handles GET /incidents/{slug}/events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	events, err := h.timeline.Read(r.Context(), inc.ID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.timeline.ReadOne(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, event)
}

// UpdateEventRequest represents the request body for amending a timeline entry.
type UpdateEventRequest struct {
	Title     *string    `json:"title" validate:"omitempty,max=500"`
	Text      *string    `json:"text" validate:"omitempty,max=10000"`
	Timestamp *time.Time `json:"timestamp"`
}

// UpdateEvent handles PATCH /events/{id}.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req UpdateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	event, err := h.timeline.Update(r.Context(), chi.URLParam(r, "id"), eventlog.UpdateInput{
		Title:     req.Title,
		Text:      req.Text,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, event)
}

// DeleteEvent handles DELETE /events/{id}.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.timeline.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
