package servicenow

import (
	"fmt"
	"time"
)

// Encoded-query helpers. The engine never parses these strings; it only
// hands them to FetchByFilter.

// UpdatedSince builds a delta filter for records updated on or after ts
func UpdatedSince(ts time.Time) string {
	return fmt.Sprintf("sys_updated_on>=%s^ORDERBYsys_updated_on", ts.UTC().Format(glideDateTime))
}

// ForTask builds a filter for task_sla sub-records of one ticket
func ForTask(sysID string) string {
	return fmt.Sprintf("task=%s", sysID)
}

// JournalForTask builds a filter for journal entries of one ticket
func JournalForTask(sysID string) string {
	return fmt.Sprintf("element_id=%s^elementINcomments,work_notes^ORDERBYDESCsys_created_on", sysID)
}
