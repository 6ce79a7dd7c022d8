package services

import (
	"context"

	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/models"
	"github.com/deskops/snowsync/internal/servicenow"
	"go.uber.org/zap"
)

// fetchSLAs collects task_sla sub-records for one ticket. Collection is
// best-effort: failures are logged and yield nil, never an error.
func fetchSLAs(ctx context.Context, source servicenow.Source, sysID string, logger *logging.SafeLogger) []models.SLARecord {
	recs, err := source.FetchByFilter(ctx, "task_sla", servicenow.ForTask(sysID), subResourceLimit)
	if err != nil {
		logger.Warn("failed to collect SLA records", zap.String("sys_id", sysID), zap.Error(err))
		return nil
	}
	slas := make([]models.SLARecord, 0, len(recs))
	for _, rec := range recs {
		slas = append(slas, servicenow.NormalizeSLA(rec))
	}
	return slas
}

// fetchNotes collects journal entries for one ticket, best-effort
func fetchNotes(ctx context.Context, source servicenow.Source, sysID string, logger *logging.SafeLogger) []models.TicketNote {
	recs, err := source.FetchByFilter(ctx, "sys_journal_field", servicenow.JournalForTask(sysID), subResourceLimit)
	if err != nil {
		logger.Warn("failed to collect ticket notes", zap.String("sys_id", sysID), zap.Error(err))
		return nil
	}
	notes := make([]models.TicketNote, 0, len(recs))
	for _, rec := range recs {
		notes = append(notes, servicenow.NormalizeNote(rec))
	}
	return notes
}
