package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IW_DATABASE__URL", "postgres://localhost:5432/warden")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
	assert.Equal(t, "inc", cfg.Options.SlugPrefix)
	assert.Equal(t, 30*time.Minute, cfg.Options.CommsReminderInterval)
	assert.Equal(t, 10*time.Minute, cfg.Options.RoleWatcherInterval)
	assert.Equal(t, 4, cfg.Dispatcher.Workers)

	assert.Equal(t, "investigating", cfg.Lifecycle.InitialStatus())
	assert.Equal(t, "resolved", cfg.Lifecycle.FinalStatus())
	assert.True(t, cfg.Lifecycle.ValidSeverity("sev3"))
}

func TestLoadFile(t *testing.T) {
	t.Setenv("IW_DATABASE__URL", "postgres://localhost:5432/warden")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: "9999"
options:
  slug_prefix: outage
  comms_reminder_interval: 15m
lifecycle:
  statuses:
    - name: open
      initial: true
    - name: mitigated
    - name: closed
      final: true
  severities: [p1, p2]
  roles:
    - name: captain
      is_lead: true
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "outage", cfg.Options.SlugPrefix)
	assert.Equal(t, 15*time.Minute, cfg.Options.CommsReminderInterval)
	assert.Equal(t, "open", cfg.Lifecycle.InitialStatus())
	assert.Equal(t, "closed", cfg.Lifecycle.FinalStatus())
	assert.True(t, cfg.Lifecycle.ValidSeverity("p2"))
	assert.False(t, cfg.Lifecycle.ValidSeverity("sev1"))

	role, ok := cfg.Lifecycle.Role("captain")
	require.True(t, ok)
	assert.True(t, role.IsLead)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("IW_DATABASE__URL", "postgres://localhost:5432/warden")
	t.Setenv("IW_SERVER__PORT", "7070")
	t.Setenv("IW_SLACK__BOT_TOKEN", "xoxb-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "xoxb-test", cfg.Slack.BotToken)
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")
}
