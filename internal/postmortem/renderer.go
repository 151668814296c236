// Package postmortem renders postmortem documents from incident state.
package postmortem

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Input holds everything the postmortem template needs.
type Input struct {
	Incident     *domain.Incident
	Timeline     []*domain.Event
	Participants []*domain.Participant
	GeneratedAt  time.Time
}

// Renderer renders postmortem documents from the embedded template.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer creates a renderer and parses the embedded template.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":          titleCase,
		"upper":          strings.ToUpper,
		"formatTime":     formatTime,
		"formatDuration": formatDuration,
		"eventTime":      eventTime,
	}

	content, err := templatesFS.ReadFile("templates/postmortem.tmpl")
	if err != nil {
		return nil, fmt.Errorf("read postmortem template: %w", err)
	}

	tmpl, err := template.New("postmortem").Funcs(funcMap).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse postmortem template: %w", err)
	}

	return &Renderer{tmpl: tmpl}, nil
}

// Title builds the document title for an incident.
func (r *Renderer) Title(inc *domain.Incident) string {
	day := inc.CreatedAt.UTC().Format("2006-01-02")
	return fmt.Sprintf("%s - %s postmortem", day, inc.Slug)
}

// Render produces the postmortem document body.
func (r *Renderer) Render(input Input) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, input); err != nil {
		return "", fmt.Errorf("execute postmortem template: %w", err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

// formatTime accepts both time.Time and *time.Time; a nil pointer means
// the incident is still open.
func formatTime(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format("Jan 2, 2006 15:04 UTC")
	case *time.Time:
		if t == nil {
			return "ongoing"
		}
		return t.UTC().Format("Jan 2, 2006 15:04 UTC")
	default:
		return ""
	}
}

// eventTime prefers the logical timestamp over the append time.
func eventTime(e *domain.Event) string {
	if e.Timestamp != nil {
		return e.Timestamp.UTC().Format("15:04:05 UTC")
	}
	return e.CreatedAt.UTC().Format("15:04:05 UTC")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 {
		if minutes > 0 {
			return fmt.Sprintf("%dh %dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", minutes)
}
