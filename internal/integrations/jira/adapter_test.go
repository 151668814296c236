package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := NewAdapter(Config{
		Enabled:         true,
		BaseURL:         srv.URL,
		User:            "bot@example.com",
		APIToken:        "token",
		ProjectKey:      "INC",
		SeverityMapping: map[string]string{"sev1": "Highest"},
		StatusMapping:   map[string]string{"resolved": "Done"},
	})
	require.NoError(t, err)
	return a
}

func TestCreateTicket(t *testing.T) {
	var got map[string]any
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue", r.URL.Path)
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot@example.com", user)

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"key":"INC-101"}`))
	}))

	ref, err := a.CreateTicket(context.Background(), &domain.Incident{
		Slug:        "inc-42",
		Severity:    "sev1",
		Description: "checkout down",
	})
	require.NoError(t, err)
	assert.Equal(t, "INC-101", ref)

	fields := got["fields"].(map[string]any)
	assert.Equal(t, "[SEV1] inc-42", fields["summary"])
	assert.Equal(t, map[string]any{"name": "Highest"}, fields["priority"])
}

func TestCloseTicketTransitions(t *testing.T) {
	var transitioned map[string]any
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/rest/api/2/issue/INC-101/comment":
			w.WriteHeader(http.StatusCreated)
		case r.URL.Path == "/rest/api/2/issue/INC-101/transitions" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"transitions":[{"id":"31","name":"Done"},{"id":"21","name":"In Progress"}]}`))
		case r.URL.Path == "/rest/api/2/issue/INC-101/transitions" && r.Method == http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&transitioned))
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	err := a.CloseTicket(context.Background(), "INC-101", &domain.Incident{Slug: "inc-42", Status: "resolved"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"transition": map[string]any{"id": "31"}}, transitioned)
}

func TestDisabledAdapterNeedsNoCredentials(t *testing.T) {
	a, err := NewAdapter(Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, a.Enabled())

	_, err = NewAdapter(Config{Enabled: true})
	assert.Error(t, err)
}
