package models

import "errors"

// Error constants for engine operations
var (
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrUpstreamUnavailable = errors.New("upstream ticketing system unavailable")
	ErrJobNotFound         = errors.New("sync job not found")
	ErrJobNameExists       = errors.New("sync job name already exists")
	ErrInvalidCron         = errors.New("invalid cron expression")
	ErrMissingJobName      = errors.New("sync job name is required")
	ErrMissingJobTables    = errors.New("sync job needs at least one table")
)
