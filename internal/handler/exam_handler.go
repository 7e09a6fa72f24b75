package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExamHandler handles exam authoring and reporting endpoints.
type ExamHandler struct {
	examService    *service.ExamService
	sessionService *service.SessionService
	reportService  *service.ReportService
	log            zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(
	examService *service.ExamService,
	sessionService *service.SessionService,
	reportService *service.ReportService,
	log zerolog.Logger,
) *ExamHandler {
	return &ExamHandler{
		examService:    examService,
		sessionService: sessionService,
		reportService:  reportService,
		log:            log.With().Str("component", "exam_handler").Logger(),
	}
}

// CreateExam godoc
// POST /api/v1/admin/exams
// Creates a new draft exam owned by the caller.
func (h *ExamHandler) CreateExam(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Create(c.Request.Context(), user, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// GetExam godoc
// GET /api/v1/admin/exams/:id
func (h *ExamHandler) GetExam(c *gin.Context) {
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

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// AddQuestion godoc
// POST /api/v1/admin/exams/:id/questions
// Adds a question with its choices to a draft exam.
func (h *ExamHandler) AddQuestion(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	examID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req model.AddQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	q, err := h.examService.AddQuestion(c.Request.Context(), user, examID, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"question": q})
}

// PublishExam godoc
// POST /api/v1/admin/exams/:id/publish
// Publishes a draft exam and warms its question cache.
func (h *ExamHandler) PublishExam(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	examID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	exam, err := h.examService.Publish(c.Request.Context(), user, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// UpdateStatus godoc
// PATCH /api/v1/admin/exams/:id/status
func (h *ExamHandler) UpdateStatus(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	examID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req model.UpdateExamStatusRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.SetStatus(c.Request.Context(), user, examID, req.Status)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// RegradeExam godoc
// POST /api/v1/admin/exams/:id/regrade
// Queues every finalized session of the exam for recalculation.
func (h *ExamHandler) RegradeExam(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	examID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	queued, err := h.sessionService.EnqueueExamRegrade(c.Request.Context(), user, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"queued": queued})
}

// GetReport godoc
// GET /api/v1/admin/exams/:id/report
func (h *ExamHandler) GetReport(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	examID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	report, err := h.reportService.ExamReport(c.Request.Context(), user, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, report)
}

// ExportReport godoc
// GET /api/v1/admin/exams/:id/report.xlsx
// Streams the per-session results as an Excel workbook.
func (h *ExamHandler) ExportReport(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	examID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	// Buffer so a failure can still produce a JSON error.
	var buf bytes.Buffer
	if err := h.reportService.ExportExamReport(c.Request.Context(), user, examID, &buf); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="exam-%s-report.xlsx"`, examID))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// GetStudentSummary godoc
// GET /api/v1/admin/users/:user_id/summary
func (h *ExamHandler) GetStudentSummary(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil || userID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	summary, err := h.reportService.StudentSummary(c.Request.Context(), user, userID, service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}

// GetSystemStats godoc
// GET /api/v1/admin/stats
func (h *ExamHandler) GetSystemStats(c *gin.Context) {
	stats, err := h.reportService.SystemStats(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}
