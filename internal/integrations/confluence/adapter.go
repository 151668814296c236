// Package confluence creates postmortem pages in Confluence.
package confluence

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

const defaultTimeout = 15 * time.Second

// Config holds confluence adapter configuration.
type Config struct {
	Enabled  bool
	BaseURL  string
	User     string
	APIToken string
	Space    string
	// ParentPage is the id of the page new documents are filed under.
	ParentPage string
	Timeout    time.Duration
}

// Adapter implements integrations.DocAdapter for Confluence.
type Adapter struct {
	config     Config
	httpClient *http.Client
}

// NewAdapter creates a new confluence adapter.
// Returns error if enabled but required config is missing.
func NewAdapter(config Config) (*Adapter, error) {
	if config.Enabled {
		if config.BaseURL == "" || config.User == "" || config.APIToken == "" || config.Space == "" {
			return nil, errors.New("confluence adapter: base_url, user, api_token and space are required when enabled")
		}
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
func (a *Adapter) Name() string { return "confluence" }

// Kind reports the integration record kind.
func (a *Adapter) Kind() domain.IntegrationKind { return domain.IntegrationPostmortem }

// Enabled reports whether the adapter is configured for use.
func (a *Adapter) Enabled() bool { return a.config.Enabled }

// CreateDocument creates a wiki-markup page and returns its web link.
func (a *Adapter) CreateDocument(ctx context.Context, title, body string) (string, error) {
	payload := map[string]any{
		"type":  "page",
		"title": title,
		"space": map[string]string{"key": a.config.Space},
		"body": map[string]any{
			"storage": map[string]string{
				"value":          body,
				"representation": "wiki",
			},
		},
	}
	if a.config.ParentPage != "" {
		payload["ancestors"] = []map[string]string{{"id": a.config.ParentPage}}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/rest/api/content", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(a.config.User, a.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("confluence request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("confluence create page: status %d: %s", resp.StatusCode, string(respBody))
	}

	var created struct {
		ID    string `json:"id"`
		Links struct {
			WebUI string `json:"webui"`
			Base  string `json:"base"`
		} `json:"_links"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode confluence response: %w", err)
	}

	if created.Links.Base != "" && created.Links.WebUI != "" {
		return created.Links.Base + created.Links.WebUI, nil
	}
	return created.ID, nil
}
