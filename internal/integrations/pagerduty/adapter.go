// Package pagerduty pages on-call responders through the PagerDuty Events API.
package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
)

const (
	defaultEventsURL = "https://events.pagerduty.com/v2/enqueue"
	defaultTimeout   = 10 * time.Second
)

// Config holds pagerduty adapter configuration.
type Config struct {
	Enabled    bool
	RoutingKey string
	// EventsURL overrides the Events API endpoint, used in tests.
	EventsURL string
	Timeout   time.Duration
}

// Adapter implements integrations.PagingAdapter for PagerDuty. The
// incident slug is used as the dedup key, so re-paging the same incident
// never opens a second alert.
type Adapter struct {
	config     Config
	httpClient *http.Client
}

// NewAdapter creates a new pagerduty adapter.
// Returns error if enabled but required config is missing.
func NewAdapter(config Config) (*Adapter, error) {
	if config.Enabled && config.RoutingKey == "" {
		return nil, errors.New("pagerduty adapter: routing_key is required when enabled")
	}
	if config.EventsURL == "" {
		config.EventsURL = defaultEventsURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Adapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Name identifies the adapter.
func (a *Adapter) Name() string { return "pagerduty" }

// Kind reports the integration record kind.
func (a *Adapter) Kind() domain.IntegrationKind { return domain.IntegrationPager }

// Enabled reports whether the adapter is configured for use.
func (a *Adapter) Enabled() bool { return a.config.Enabled }

// TriggerPage opens an alert for the incident and returns the dedup key.
func (a *Adapter) TriggerPage(ctx context.Context, inc *domain.Incident) (string, error) {
	summary := inc.Description
	if summary == "" {
		summary = inc.Slug
	}

	event := eventPayload{
		RoutingKey:  a.config.RoutingKey,
		EventAction: "trigger",
		DedupKey:    inc.Slug,
		Payload: &eventDetails{
			Summary:  fmt.Sprintf("[%s] %s", inc.Slug, summary),
			Source:   "incident-warden",
			Severity: pdSeverity(inc.Severity),
		},
	}
	if err := a.send(ctx, event); err != nil {
		return "", err
	}
	return inc.Slug, nil
}

// ResolvePage closes the alert identified by the dedup key.
func (a *Adapter) ResolvePage(ctx context.Context, ref string, _ *domain.Incident) error {
	return a.send(ctx, eventPayload{
		RoutingKey:  a.config.RoutingKey,
		EventAction: "resolve",
		DedupKey:    ref,
	})
}

type eventPayload struct {
	RoutingKey  string        `json:"routing_key"`
	EventAction string        `json:"event_action"`
	DedupKey    string        `json:"dedup_key"`
	Payload     *eventDetails `json:"payload,omitempty"`
}

type eventDetails struct {
	Summary  string `json:"summary"`
	Source   string `json:"source"`
	Severity string `json:"severity"`
}

func (a *Adapter) send(ctx context.Context, event eventPayload) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.EventsURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pagerduty request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pagerduty %s: status %d: %s", event.EventAction, resp.StatusCode, string(body))
	}
	return nil
}

// pdSeverity maps incident severities to the fixed PagerDuty scale. The
// two highest severities page as critical, everything else degrades.
func pdSeverity(severity string) string {
	switch severity {
	case "sev1", "sev2":
		return "critical"
	case "sev3":
		return "warning"
	default:
		return "info"
	}
}
