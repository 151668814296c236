// Package statuspage mirrors incidents on an Atlassian Statuspage.
package statuspage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://api.statuspage.io/v1"
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 1.0
)

// Config holds statuspage adapter configuration.
type Config struct {
	Enabled  bool
	APIToken string
	PageID   string
	// BaseURL overrides the API endpoint, used in tests.
	BaseURL string
	// RateLimit caps outgoing requests per second. Statuspage enforces
	// a hard per-minute quota.
	RateLimit float64
	Timeout   time.Duration
}

// Adapter implements integrations.StatusPageAdapter.
type Adapter struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewAdapter creates a new statuspage adapter.
// Returns error if enabled but required config is missing.
func NewAdapter(config Config) (*Adapter, error) {
	if config.Enabled {
		if config.APIToken == "" || config.PageID == "" {
			return nil, errors.New("statuspage adapter: api_token and page_id are required when enabled")
		}
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Adapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// Name identifies the adapter.
func (a *Adapter) Name() string { return "statuspage" }

// Kind reports the integration record kind.
func (a *Adapter) Kind() domain.IntegrationKind { return domain.IntegrationStatuspage }

// Enabled reports whether the adapter is configured for use.
func (a *Adapter) Enabled() bool { return a.config.Enabled }

// PublishIncident opens the incident on the status page and returns the
// remote incident id.
func (a *Adapter) PublishIncident(ctx context.Context, inc *domain.Incident) (string, error) {
	name := inc.Description
	if name == "" {
		name = inc.Slug
	}

	var created struct {
		ID string `json:"id"`
	}
	err := a.do(ctx, http.MethodPost, fmt.Sprintf("/pages/%s/incidents", a.config.PageID), map[string]any{
		"incident": map[string]any{
			"name":            name,
			"status":          pageStatus(inc.Status),
			"impact_override": pageImpact(inc.Severity),
			"body":            fmt.Sprintf("We are investigating an issue affecting %s.", componentsOr(inc)),
		},
	}, &created)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// UpdateIncident pushes the current status to the remote incident.
func (a *Adapter) UpdateIncident(ctx context.Context, ref string, inc *domain.Incident) error {
	return a.patch(ctx, ref, map[string]any{
		"status":          pageStatus(inc.Status),
		"impact_override": pageImpact(inc.Severity),
	})
}

// ResolveIncident marks the remote incident resolved.
func (a *Adapter) ResolveIncident(ctx context.Context, ref string, _ *domain.Incident) error {
	return a.patch(ctx, ref, map[string]any{
		"status": "resolved",
		"body":   "This incident has been resolved.",
	})
}

func (a *Adapter) patch(ctx context.Context, ref string, incident map[string]any) error {
	path := fmt.Sprintf("/pages/%s/incidents/%s", a.config.PageID, ref)
	return a.do(ctx, http.MethodPatch, path, map[string]any{"incident": incident}, nil)
}

func (a *Adapter) do(ctx context.Context, method, path string, payload, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("statuspage rate limit: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+a.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("statuspage request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("statuspage %s %s: status %d: %s", method, path, resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode statuspage response: %w", err)
		}
	}
	return nil
}

// pageStatus maps lifecycle statuses to the fixed Statuspage vocabulary.
// Unknown statuses stay at identified so the page never regresses.
func pageStatus(status string) string {
	switch status {
	case "investigating", "identified", "monitoring", "resolved":
		return status
	default:
		return "identified"
	}
}

func pageImpact(severity string) string {
	switch severity {
	case "sev1":
		return "critical"
	case "sev2":
		return "major"
	case "sev3":
		return "minor"
	default:
		return "none"
	}
}

func componentsOr(inc *domain.Incident) string {
	if inc.Components != "" {
		return inc.Components
	}
	return "our services"
}
