// Package jira tracks incidents as Jira issues.
package jira

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
)

const (
	defaultTimeout   = 10 * time.Second
	defaultIssueType = "Task"
)

// Config holds jira adapter configuration.
type Config struct {
	Enabled    bool
	BaseURL    string
	User       string
	APIToken   string
	ProjectKey string
	IssueType  string
	// StatusMapping maps incident statuses to Jira transition names.
	// Unmapped statuses are reported as comments only.
	StatusMapping map[string]string
	// SeverityMapping maps incident severities to Jira priority names.
	SeverityMapping map[string]string
	Timeout         time.Duration
}

// Adapter implements integrations.TicketAdapter for Jira.
type Adapter struct {
	config     Config
	httpClient *http.Client
}

// NewAdapter creates a new jira adapter.
// Returns error if enabled but required config is missing.
func NewAdapter(config Config) (*Adapter, error) {
	if config.Enabled {
		if config.BaseURL == "" || config.User == "" || config.APIToken == "" || config.ProjectKey == "" {
			return nil, errors.New("jira adapter: base_url, user, api_token and project_key are required when enabled")
		}
	}
	if config.IssueType == "" {
		config.IssueType = defaultIssueType
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Adapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Name identifies the adapter.
func (a *Adapter) Name() string { return "jira" }

// Kind reports the integration record kind.
func (a *Adapter) Kind() domain.IntegrationKind { return domain.IntegrationTicket }

// Enabled reports whether the adapter is configured for use.
func (a *Adapter) Enabled() bool { return a.config.Enabled }

// CreateTicket opens a Jira issue for the incident and returns its key.
func (a *Adapter) CreateTicket(ctx context.Context, inc *domain.Incident) (string, error) {
	fields := map[string]any{
		"project":     map[string]string{"key": a.config.ProjectKey},
		"issuetype":   map[string]string{"name": a.config.IssueType},
		"summary":     fmt.Sprintf("[%s] %s", strings.ToUpper(inc.Severity), inc.Slug),
		"description": inc.Description,
		"labels":      []string{inc.Slug},
	}
	if priority, ok := a.config.SeverityMapping[inc.Severity]; ok {
		fields["priority"] = map[string]string{"name": priority}
	}

	var created struct {
		Key string `json:"key"`
	}
	err := a.do(ctx, http.MethodPost, "/rest/api/2/issue", map[string]any{"fields": fields}, &created)
	if err != nil {
		return "", err
	}
	return created.Key, nil
}

// UpdateTicket comments the change on the issue and, when the status is
// mapped, moves the issue through the matching workflow transition.
func (a *Adapter) UpdateTicket(ctx context.Context, ref string, inc *domain.Incident, note string) error {
	path := fmt.Sprintf("/rest/api/2/issue/%s/comment", ref)
	if err := a.do(ctx, http.MethodPost, path, map[string]string{"body": note}, nil); err != nil {
		return err
	}

	if transition, ok := a.config.StatusMapping[inc.Status]; ok {
		return a.transition(ctx, ref, transition)
	}
	return nil
}

// CloseTicket moves the issue to its mapped final transition.
func (a *Adapter) CloseTicket(ctx context.Context, ref string, inc *domain.Incident) error {
	note := fmt.Sprintf("Incident %s resolved.", inc.Slug)
	path := fmt.Sprintf("/rest/api/2/issue/%s/comment", ref)
	if err := a.do(ctx, http.MethodPost, path, map[string]string{"body": note}, nil); err != nil {
		return err
	}

	transition, ok := a.config.StatusMapping[inc.Status]
	if !ok {
		transition = "Done"
	}
	return a.transition(ctx, ref, transition)
}

// transition resolves a transition name to its id and applies it.
func (a *Adapter) transition(ctx context.Context, ref, name string) error {
	path := fmt.Sprintf("/rest/api/2/issue/%s/transitions", ref)

	var available struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"transitions"`
	}
	if err := a.do(ctx, http.MethodGet, path, nil, &available); err != nil {
		return err
	}

	for _, t := range available.Transitions {
		if strings.EqualFold(t.Name, name) {
			return a.do(ctx, http.MethodPost, path, map[string]any{
				"transition": map[string]string{"id": t.ID},
			}, nil)
		}
	}
	return fmt.Errorf("jira: transition %q not available on %s", name, ref)
}

func (a *Adapter) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(a.config.User, a.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jira request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("jira %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode jira response: %w", err)
		}
	}
	return nil
}
