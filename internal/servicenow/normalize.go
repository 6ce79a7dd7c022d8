package servicenow

import (
	"strconv"
	"strings"
	"time"

	"github.com/deskops/snowsync/internal/models"
)

// glideDateTime is the wire format of ServiceNow date/time fields (UTC)
const glideDateTime = "2006-01-02 15:04:05"

// typedFields are lifted into the Ticket struct; everything else is
// preserved verbatim in Extra.
var typedFields = map[string]bool{
	"sys_id":            true,
	"number":            true,
	"state":             true,
	"priority":          true,
	"short_description": true,
	"assignment_group":  true,
	"opened_at":         true,
	"sys_created_on":    true,
	"sys_updated_on":    true,
}

// stateLabels maps the numeric incident/task state codes and their
// display labels onto the normalized lifecycle states.
var stateLabels = map[string]models.TicketState{
	"1":                 models.StateNew,
	"new":               models.StateNew,
	"2":                 models.StateInProgress,
	"in progress":       models.StateInProgress,
	"work in progress":  models.StateInProgress,
	"3":                 models.StateOnHold,
	"on hold":           models.StateOnHold,
	"pending":           models.StateOnHold,
	"6":                 models.StateResolved,
	"resolved":          models.StateResolved,
	"7":                 models.StateClosed,
	"closed":            models.StateClosed,
	"closed complete":   models.StateClosed,
	"8":                 models.StateCancelled,
	"canceled":          models.StateCancelled,
	"cancelled":         models.StateCancelled,
	"closed incomplete": models.StateCancelled,
}

// Normalize converts a raw upstream record into the engine's ticket shape
func Normalize(table string, rec Record) *models.Ticket {
	t := &models.Ticket{
		Table:            table,
		SysID:            stringField(rec, "sys_id"),
		Number:           stringField(rec, "number"),
		State:            normalizeState(stringField(rec, "state")),
		Priority:         intField(rec, "priority"),
		ShortDescription: stringField(rec, "short_description"),
		AssignmentGroup:  referenceField(rec, "assignment_group"),
		OpenedAt:         timeField(rec, "opened_at", "sys_created_on"),
		UpdatedAt:        timeField(rec, "sys_updated_on"),
	}

	for k, v := range rec {
		if typedFields[k] {
			continue
		}
		if t.Extra == nil {
			t.Extra = make(map[string]interface{})
		}
		t.Extra[k] = v
	}

	return t
}

// NormalizeSLA converts a raw task_sla record into an SLA sub-record
func NormalizeSLA(rec Record) models.SLARecord {
	sla := models.SLARecord{
		SysID:        stringField(rec, "sys_id"),
		Name:         referenceField(rec, "sla"),
		Stage:        stringField(rec, "stage"),
		HasBreached:  stringField(rec, "has_breached") == "true",
		BusinessLeft: stringField(rec, "business_time_left"),
	}
	if bt := timeField(rec, "planned_end_time"); !bt.IsZero() {
		sla.BreachAt = &bt
	}
	return sla
}

// NormalizeNote converts a raw sys_journal_field record into a note
func NormalizeNote(rec Record) models.TicketNote {
	return models.TicketNote{
		SysID:     stringField(rec, "sys_id"),
		Element:   stringField(rec, "element"),
		Value:     stringField(rec, "value"),
		CreatedBy: stringField(rec, "sys_created_by"),
		CreatedAt: timeField(rec, "sys_created_on"),
	}
}

func normalizeState(raw string) models.TicketState {
	if state, ok := stateLabels[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return state
	}
	return models.StateNew
}

// stringField reads a field that may be a plain string or a
// display_value/value reference pair
func stringField(rec Record, key string) string {
	switch v := rec[key].(type) {
	case string:
		return v
	case map[string]interface{}:
		if s, ok := v["value"].(string); ok {
			return s
		}
	}
	return ""
}

// referenceField prefers the display value of a reference pair
func referenceField(rec Record, key string) string {
	switch v := rec[key].(type) {
	case string:
		return v
	case map[string]interface{}:
		if s, ok := v["display_value"].(string); ok && s != "" {
			return s
		}
		if s, ok := v["value"].(string); ok {
			return s
		}
	}
	return ""
}

func intField(rec Record, key string) int {
	s := stringField(rec, key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// timeField parses the first present glide date/time field among keys
func timeField(rec Record, keys ...string) time.Time {
	for _, key := range keys {
		s := stringField(rec, key)
		if s == "" {
			continue
		}
		if ts, err := time.Parse(glideDateTime, s); err == nil {
			return ts.UTC()
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
