package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/deskops/snowsync/internal/redisclient"
	"github.com/deskops/snowsync/internal/services"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// HealthHandler reports the liveness of the engine's backing stores and
// the size of the ticket cache
type HealthHandler struct {
	db     *mongo.Database
	redis  *redisclient.Client
	store  services.TicketStore
	tables []string
}

// NewHealthHandler creates a health handler
func NewHealthHandler(db *mongo.Database, redis *redisclient.Client, store services.TicketStore, tables []string) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, store: store, tables: tables}
}

// Check handles GET /v1/health. Degraded backends are reported per
// component with a 503 overall status.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	components := gin.H{"mongodb": "ok", "redis": "ok"}

	mongoOK := true
	if err := h.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		components["mongodb"] = "unavailable"
		status = http.StatusServiceUnavailable
		mongoOK = false
	}
	if h.redis == nil {
		components["redis"] = "disabled"
	} else if err := h.redis.Ping(ctx).Err(); err != nil {
		components["redis"] = "unavailable"
		status = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":     statusLabel(status),
		"components": components,
	}

	if mongoOK {
		counts := make(gin.H, len(h.tables))
		for _, table := range h.tables {
			n, err := h.store.CountByTable(ctx, table)
			if err != nil {
				continue
			}
			counts[table] = n
		}
		body["cached_tickets"] = counts
	}

	c.JSON(status, body)
}

func statusLabel(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}
