package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
)

// GradingHandler handles staff actions on individual sessions.
type GradingHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(sessionService *service.SessionService, log zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "grading_handler").Logger(),
	}
}

// GradeAnswer godoc
// PUT /api/v1/admin/answers/:id/grade
// Grades an essay answer and rescores its session.
func (h *GradingHandler) GradeAnswer(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	answerID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req model.GradeAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := h.sessionService.GradeAnswer(c.Request.Context(), user, answerID, req.Points, service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": sess})
}

// Recalculate godoc
// POST /api/v1/admin/sessions/:id/recalculate
func (h *GradingHandler) Recalculate(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	sessionID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	sess, err := h.sessionService.RecalculateAsStaff(c.Request.Context(), user, sessionID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": sess})
}

// Terminate godoc
// POST /api/v1/admin/sessions/:id/terminate
// Force-finishes an open session and scores it.
func (h *GradingHandler) Terminate(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	sessionID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req model.TerminateSessionRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	sess, err := h.sessionService.Terminate(c.Request.Context(), user, sessionID, req.Reason, service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": sess})
}
