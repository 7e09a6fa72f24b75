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

// StudentHandler handles student-facing endpoints (token check, exam taking).
type StudentHandler struct {
	sessionService *service.SessionService
	tokenManager   *service.TokenManager
	reportService  *service.ReportService
	log            zerolog.Logger
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(
	sessionService *service.SessionService,
	tokenManager *service.TokenManager,
	reportService *service.ReportService,
	log zerolog.Logger,
) *StudentHandler {
	return &StudentHandler{
		sessionService: sessionService,
		tokenManager:   tokenManager,
		reportService:  reportService,
		log:            log.With().Str("component", "student_handler").Logger(),
	}
}

// ValidateToken godoc
// POST /api/v1/student/tokens/validate
// Checks an access code without consuming it. An unusable code is a normal
// outcome reported as valid=false with a message.
func (h *StudentHandler) ValidateToken(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	var req model.ValidateTokenRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.tokenManager.ValidateAccessCode(c.Request.Context(), user, req.Token, req.ExamID, service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// StartExam godoc
// POST /api/v1/student/exams/:exam_id/start
// Resumes the open attempt or starts a new one, returning the question set.
func (h *StudentHandler) StartExam(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	examID, ok := uuidParam(c, "exam_id")
	if !ok {
		return
	}

	// The body is optional; only token-gated exams need one.
	var req model.StartExamRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	res, err := h.sessionService.Start(c.Request.Context(), user, examID, service.StartParams{
		AccessCode: req.AccessCode,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	}, service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, res)
}

// GetSession godoc
// GET /api/v1/student/sessions/:session_id
func (h *StudentHandler) GetSession(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	sessionID, ok := uuidParam(c, "session_id")
	if !ok {
		return
	}

	sess, err := h.sessionService.Get(c.Request.Context(), user, sessionID, service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": sess})
}

// GetQuestions godoc
// GET /api/v1/student/sessions/:session_id/questions
// Returns the question set in the order persisted for this session.
func (h *StudentHandler) GetQuestions(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	sessionID, ok := uuidParam(c, "session_id")
	if !ok {
		return
	}

	questions, err := h.sessionService.QuestionSet(c.Request.Context(), user, sessionID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// SaveAnswer godoc
// PUT /api/v1/student/sessions/:session_id/answers
// Upserts one answer and adds the time delta to the session.
func (h *StudentHandler) SaveAnswer(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	sessionID, ok := uuidParam(c, "session_id")
	if !ok {
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answer, err := h.sessionService.RecordAnswer(c.Request.Context(), user, sessionID, req.AnswerInput, req.TimeSpentDelta, service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"question_id": answer.QuestionID,
		"answered_at": answer.AnsweredAt,
	})
}

// SubmitExam godoc
// POST /api/v1/student/sessions/:session_id/submit
func (h *StudentHandler) SubmitExam(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	sessionID, ok := uuidParam(c, "session_id")
	if !ok {
		return
	}

	var req model.SubmitExamRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	sess, err := h.sessionService.Submit(c.Request.Context(), user, sessionID, req, service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, model.SubmitExamResponse{
		SessionID:     sess.ID,
		Status:        sess.Status,
		Score:         sess.Score,
		GradingStatus: sess.GradingStatus,
	})
}

// ListSessions godoc
// GET /api/v1/student/sessions
func (h *StudentHandler) ListSessions(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	sessions, err := h.sessionService.ListForUser(c.Request.Context(), user, service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if sessions == nil {
		sessions = []model.ExamSession{}
	}

	response.Success(c, http.StatusOK, gin.H{"sessions": sessions})
}

// GetSummary godoc
// GET /api/v1/student/summary
func (h *StudentHandler) GetSummary(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	summary, err := h.reportService.StudentSummary(c.Request.Context(), user, user.ID, service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}
