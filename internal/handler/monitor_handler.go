package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// DefinitionSource returns the answer-free definition of an exam.
type DefinitionSource interface {
	GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
}

// RosterSource returns the proctor roster of an exam.
type RosterSource interface {
	GetRoster(ctx context.Context, examID uuid.UUID) (*model.Roster, error)
}

// MonitorHandler streams the session events of an exam to proctors. Events
// arrive through Redis Pub/Sub so every API instance feeds every proctor.
type MonitorHandler struct {
	rdb    *redis.Client
	exams  DefinitionSource
	roster RosterSource
	log    zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, exams DefinitionSource, roster RosterSource, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:    rdb,
		exams:  exams,
		roster: roster,
		log:    log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:exam_id/monitor
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()
	def, err := h.exams.GetDefinition(reqCtx, examID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}

	// Subscribe before the snapshot so no event falls between the two.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamMonitorChannel(examID.String()))
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Msg("Monitor subscription failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"exam": gin.H{
				"id":               examID.String(),
				"title":            def.Title,
				"duration_seconds": def.DurationSeconds,
				"total_questions":  def.TotalQuestions(),
			},
			"roster": h.fetchRoster(reqCtx, examID),
		},
	})
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()

	// Skip refreshes until some session event shows the exam is being taken.
	active := false

	// Pre-allocate a reusable ping payload (never changes)
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	h.log.Info().Str("exam_id", examID.String()).Msg("Proctor attached to live monitor SSE")
	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			active = true

		case <-refresh.C:
			if !active {
				continue
			}
			if roster := h.fetchRoster(reqCtx, examID); roster != nil {
				c.SSEvent("message", gin.H{"type": "refresh", "roster": roster})
				c.Writer.Flush()
			}

		case <-keepAlive.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// fetchRoster returns nil when the roster could not be read in time.
func (h *MonitorHandler) fetchRoster(parent context.Context, examID uuid.UUID) *model.Roster {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	roster, err := h.roster.GetRoster(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to fetch roster")
		return nil
	}
	return roster
}
