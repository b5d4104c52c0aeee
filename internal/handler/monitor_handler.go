package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/middleware"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

type MonitorHandler struct {
	assessmentService *service.AssessmentService
	monitorService    *service.MonitorService
	log               zerolog.Logger
}

func NewMonitorHandler(
	assessmentService *service.AssessmentService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		assessmentService: assessmentService,
		monitorService:    monitorService,
		log:               log.With().Str("component", "monitor_handler").Logger(),
	}
}

// Snapshot godoc
// GET /api/v1/teacher/assessments/:id/monitor/snapshot
func (h *MonitorHandler) Snapshot(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	a, err := h.assessmentService.Get(c.Request.Context(), claims.UserID, id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	snap, err := h.monitorService.Snapshot(c.Request.Context(), a)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"snapshot": snap})
}

// MonitorSSE godoc
// GET /api/v1/teacher/assessments/:id/monitor
// Streams a snapshot, then every live update, with periodic refreshes.
func (h *MonitorHandler) MonitorSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	reqCtx := c.Request.Context()
	a, err := h.assessmentService.Get(reqCtx, claims.UserID, id)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, reqCtx, "snapshot", a)

	pubsub := h.monitorService.Subscribe(reqCtx, a.ID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	dirty := false
	log := h.log.With().Str("assessment_id", a.ID.String()).Int("teacher_id", claims.UserID).Logger()
	log.Info().Msg("Teacher attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Teacher disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON, no need to decode.
			c.Writer.Write([]byte("event: update\ndata: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			h.sendSnapshot(c, reqCtx, "refresh", a)
			dirty = false

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte(": ping\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, parent context.Context, event string, a *model.Assessment) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	snap, err := h.monitorService.Snapshot(ctx, a)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to build monitor snapshot")
		return
	}
	c.SSEvent(event, snap)
	c.Writer.Flush()
}
