package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/models"
	"github.com/deskops/snowsync/internal/services"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// TicketHandler exposes the hybrid read service over HTTP
type TicketHandler struct {
	reader *services.HybridReader
	logger *logging.SafeLogger
}

// NewTicketHandler creates a ticket handler
func NewTicketHandler(reader *services.HybridReader, logger *logging.SafeLogger) *TicketHandler {
	return &TicketHandler{reader: reader, logger: logger}
}

// readOptionsFromQuery builds ReadOptions from ?source= and ?include=
func readOptionsFromQuery(c *gin.Context) services.ReadOptions {
	opts := services.ReadOptions{}
	switch c.Query("source") {
	case "upstream":
		opts.ForceUpstream = true
	case "cache":
		opts.ForceCache = true
	}
	for _, part := range strings.Split(c.Query("include"), ",") {
		switch strings.TrimSpace(part) {
		case "sla":
			opts.IncludeSLAs = true
		case "notes":
			opts.IncludeNotes = true
		}
	}
	return opts
}

// GetTicket handles GET /v1/tickets/:table/:id
func (h *TicketHandler) GetTicket(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "GetTicket")
	defer span.End()

	table := c.Param("table")
	sysID := c.Param("id")
	span.SetAttributes(
		attribute.String("ticket.table", table),
		attribute.String("ticket.sys_id", sysID),
	)

	result, err := h.reader.GetTicket(ctx, table, sysID, readOptionsFromQuery(c))
	if err != nil {
		if errors.Is(err, models.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket not found"})
			return
		}
		if errors.Is(err, models.ErrUpstreamUnavailable) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "upstream unavailable and no cached copy"})
			return
		}
		h.logger.Error("ticket read failed",
			zap.String("table", table),
			zap.String("sys_id", sysID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// batchRequest is the body of a batch ticket read
type batchRequest struct {
	Tickets      []services.TicketKey `json:"tickets" binding:"required"`
	Source       string               `json:"source,omitempty"`
	IncludeSLAs  bool                 `json:"include_slas,omitempty"`
	IncludeNotes bool                 `json:"include_notes,omitempty"`
}

// BatchGetTickets handles POST /v1/tickets/batch. Failed keys come back
// as null entries; the batch itself always succeeds.
func (h *TicketHandler) BatchGetTickets(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "BatchGetTickets")
	defer span.End()

	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	span.SetAttributes(attribute.Int("ticket.batch_size", len(req.Tickets)))

	opts := services.ReadOptions{
		ForceUpstream: req.Source == "upstream",
		ForceCache:    req.Source == "cache",
		IncludeSLAs:   req.IncludeSLAs,
		IncludeNotes:  req.IncludeNotes,
	}

	results := h.reader.GetTickets(ctx, req.Tickets, opts)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// DeleteTicket handles DELETE /v1/tickets/:table/:id, removing the
// cached copy only; the upstream record is untouched
func (h *TicketHandler) DeleteTicket(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "DeleteTicket")
	defer span.End()

	table := c.Param("table")
	sysID := c.Param("id")

	if err := h.reader.Invalidate(ctx, table, sysID); err != nil {
		h.logger.Error("ticket delete failed",
			zap.String("table", table),
			zap.String("sys_id", sysID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	c.Status(http.StatusNoContent)
}
