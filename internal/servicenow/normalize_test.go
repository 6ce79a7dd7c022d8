package servicenow

import (
	"testing"
	"time"

	"github.com/deskops/snowsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTypedFields(t *testing.T) {
	rec := Record{
		"sys_id":            "abc123",
		"number":            "INC0010023",
		"state":             "6",
		"priority":          "2",
		"short_description": "VPN drops every hour",
		"assignment_group": map[string]interface{}{
			"display_value": "Network Ops",
			"value":         "grp-42",
		},
		"opened_at":      "2026-08-30 09:15:00",
		"sys_updated_on": "2026-08-31 18:00:00",
		"caller_id":      "u-7",
		"impact":         "2",
	}

	ticket := Normalize("incident", rec)

	assert.Equal(t, "incident", ticket.Table)
	assert.Equal(t, "abc123", ticket.SysID)
	assert.Equal(t, "INC0010023", ticket.Number)
	assert.Equal(t, models.StateResolved, ticket.State)
	assert.Equal(t, 2, ticket.Priority)
	assert.Equal(t, "Network Ops", ticket.AssignmentGroup, "reference pairs resolve to the display value")

	opened, _ := time.Parse(glideDateTime, "2026-08-30 09:15:00")
	assert.True(t, ticket.OpenedAt.Equal(opened.UTC()))
	updated, _ := time.Parse(glideDateTime, "2026-08-31 18:00:00")
	assert.True(t, ticket.UpdatedAt.Equal(updated.UTC()))

	// Non-typed fields land in Extra verbatim; typed fields do not.
	assert.Equal(t, "u-7", ticket.Extra["caller_id"])
	assert.Equal(t, "2", ticket.Extra["impact"])
	assert.NotContains(t, ticket.Extra, "sys_id")
	assert.NotContains(t, ticket.Extra, "state")
}

func TestNormalizeStateMapping(t *testing.T) {
	tests := []struct {
		raw  string
		want models.TicketState
	}{
		{"1", models.StateNew},
		{"2", models.StateInProgress},
		{"Work in Progress", models.StateInProgress},
		{"3", models.StateOnHold},
		{"6", models.StateResolved},
		{"7", models.StateClosed},
		{"Closed Complete", models.StateClosed},
		{"8", models.StateCancelled},
		{"Closed Incomplete", models.StateCancelled},
		{"47", models.StateNew},
		{"", models.StateNew},
	}

	for _, tt := range tests {
		ticket := Normalize("incident", Record{"sys_id": "x", "state": tt.raw})
		assert.Equal(t, tt.want, ticket.State, "state %q", tt.raw)
	}
}

func TestNormalizeMalformedValues(t *testing.T) {
	ticket := Normalize("incident", Record{
		"sys_id":         "abc",
		"priority":       "not-a-number",
		"sys_updated_on": "31/08/2026",
	})

	assert.Zero(t, ticket.Priority)
	assert.True(t, ticket.UpdatedAt.IsZero())
}

func TestNormalizeSLA(t *testing.T) {
	sla := NormalizeSLA(Record{
		"sys_id":             "sla-1",
		"sla":                map[string]interface{}{"display_value": "Resolution 8h", "value": "def-1"},
		"stage":              "in_progress",
		"has_breached":       "true",
		"business_time_left": "2 Hours",
		"planned_end_time":   "2026-09-01 17:00:00",
	})

	assert.Equal(t, "sla-1", sla.SysID)
	assert.Equal(t, "Resolution 8h", sla.Name)
	assert.Equal(t, "in_progress", sla.Stage)
	assert.True(t, sla.HasBreached)
	assert.Equal(t, "2 Hours", sla.BusinessLeft)
	require.NotNil(t, sla.BreachAt)
	assert.Equal(t, 17, sla.BreachAt.Hour())
}

func TestNormalizeNote(t *testing.T) {
	note := NormalizeNote(Record{
		"sys_id":         "n-1",
		"element":        "work_notes",
		"value":          "replaced the switch",
		"sys_created_by": "jdoe",
		"sys_created_on": "2026-08-31 10:00:00",
	})

	assert.Equal(t, "work_notes", note.Element)
	assert.Equal(t, "replaced the switch", note.Value)
	assert.Equal(t, "jdoe", note.CreatedBy)
	assert.False(t, note.CreatedAt.IsZero())
}

func TestQueryHelpers(t *testing.T) {
	ts := time.Date(2026, 8, 31, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, "sys_updated_on>=2026-08-31 12:30:00^ORDERBYsys_updated_on", UpdatedSince(ts))
	assert.Equal(t, "task=abc", ForTask("abc"))
	assert.Equal(t, "element_id=abc^elementINcomments,work_notes^ORDERBYDESCsys_created_on", JournalForTask("abc"))
}
