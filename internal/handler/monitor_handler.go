package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/events"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams live exam activity to staff over SSE.
type MonitorHandler struct {
	events        *events.Publisher
	examService   *service.ExamService
	reportService *service.ReportService
	log           zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler. A nil publisher disables
// the live event feed; snapshots and refreshes still work.
func NewMonitorHandler(
	publisher *events.Publisher,
	examService *service.ExamService,
	reportService *service.ReportService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		events:        publisher,
		examService:   examService,
		reportService: reportService,
		log:           log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:id/monitor
// Sends a report snapshot, then forwards session events as they happen and
// a fresh report every refreshInterval.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	examID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	exam, err := h.examService.Get(c.Request.Context(), user, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendReport(c, reqCtx, user, exam, "snapshot")

	var ch <-chan *redis.Message
	if h.events != nil {
		pubsub := h.events.Subscribe(reqCtx, examID)
		defer pubsub.Close()
		ch = pubsub.Channel()
	}

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refreshes until something happens on the exam.
	dirty := false

	h.log.Info().Str("exam_id", examID.String()).Int("user_id", user.ID).Msg("Staff attached to live monitor")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Staff detached from live monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				ch = nil
				continue
			}
			// Forward the raw event JSON as published.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			dirty = true

		case <-refreshTicker.C:
			if h.events != nil && !dirty {
				continue
			}
			h.sendReport(c, reqCtx, user, exam, "refresh")
			dirty = false

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendReport writes the current exam report as one SSE message.
func (h *MonitorHandler) sendReport(c *gin.Context, parentCtx context.Context, user *model.User, exam *model.Exam, kind string) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	report, err := h.reportService.ExamReport(ctx, user, exam.ID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to build monitor report")
		return
	}

	c.SSEvent("message", map[string]interface{}{
		"type": kind,
		"data": map[string]interface{}{
			"exam": map[string]interface{}{
				"id":       exam.ID.String(),
				"title":    exam.Title,
				"status":   exam.Status,
				"duration": exam.DurationMinutes,
			},
			"report": report,
		},
	})
	c.Writer.Flush()
}
