package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLifecycle() Lifecycle {
	return Lifecycle{
		Statuses: []StatusDefinition{
			{Name: "investigating", Initial: true},
			{Name: "identified"},
			{Name: "monitoring"},
			{Name: "resolved", Final: true},
		},
		Severities: []string{"sev1", "sev2", "sev3", "sev4"},
		Roles: []RoleDefinition{
			{Name: "incident_commander", IsLead: true},
			{Name: "scribe"},
		},
	}
}

func TestLifecycle_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Lifecycle)
		wantErr string
	}{
		{
			name:   "valid set",
			mutate: func(*Lifecycle) {},
		},
		{
			name: "no statuses",
			mutate: func(l *Lifecycle) {
				l.Statuses = nil
			},
			wantErr: "at least one status",
		},
		{
			name: "no severities",
			mutate: func(l *Lifecycle) {
				l.Severities = nil
			},
			wantErr: "at least one severity",
		},
		{
			name: "two initial statuses",
			mutate: func(l *Lifecycle) {
				l.Statuses[1].Initial = true
			},
			wantErr: "exactly one initial status",
		},
		{
			name: "missing final status",
			mutate: func(l *Lifecycle) {
				l.Statuses[3].Final = false
			},
			wantErr: "exactly one final status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := testLifecycle()
			tt.mutate(&lc)

			err := lc.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLifecycle_InitialAndFinal(t *testing.T) {
	lc := testLifecycle()

	assert.Equal(t, "investigating", lc.InitialStatus())
	assert.Equal(t, "resolved", lc.FinalStatus())
}

func TestLifecycle_Membership(t *testing.T) {
	lc := testLifecycle()

	assert.True(t, lc.ValidStatus("monitoring"))
	assert.False(t, lc.ValidStatus("snoozing"))
	assert.True(t, lc.ValidSeverity("sev1"))
	assert.False(t, lc.ValidSeverity("sev9"))

	role, ok := lc.Role("incident_commander")
	require.True(t, ok)
	assert.True(t, role.IsLead)

	_, ok = lc.Role("bystander")
	assert.False(t, ok)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "inc-17", Slugify("inc", 17))
}

func TestEventSource_IsValid(t *testing.T) {
	assert.True(t, SourceSystem.IsValid())
	assert.True(t, SourceUser.IsValid())
	assert.True(t, SourcePin.IsValid())
	assert.False(t, EventSource("webhook").IsValid())
}

func TestIntegrationKind_IsValid(t *testing.T) {
	assert.True(t, IntegrationPostmortem.IsValid())
	assert.False(t, IntegrationKind("wiki").IsValid())
}
