package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
)

// TokenHandler handles exam access token administration.
type TokenHandler struct {
	tokenManager *service.TokenManager
	examService  *service.ExamService
	log          zerolog.Logger
}

// NewTokenHandler creates a new TokenHandler.
func NewTokenHandler(tokenManager *service.TokenManager, examService *service.ExamService, log zerolog.Logger) *TokenHandler {
	return &TokenHandler{
		tokenManager: tokenManager,
		examService:  examService,
		log:          log.With().Str("component", "token_handler").Logger(),
	}
}

// CreateToken godoc
// POST /api/v1/admin/tokens
// Issues a token for one exam, or a global token (admins only).
func (h *TokenHandler) CreateToken(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	var req model.CreateTokenRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if req.IsGlobal && user.Role == model.RoleTeacher {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}
	if req.ExamID != nil {
		if _, err := h.examService.Get(c.Request.Context(), user, *req.ExamID); err != nil {
			respondError(c, h.log, err)
			return
		}
	}

	token, err := h.tokenManager.Create(c.Request.Context(), service.CreateTokenParams{
		ExamID:   req.ExamID,
		IssuerID: user.ID,
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
		IsGlobal: req.IsGlobal,
		MaxUsage: req.MaxUsage,
	}, service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"token": token})
}

// ListTokens godoc
// GET /api/v1/admin/exams/:id/tokens
func (h *TokenHandler) ListTokens(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	examID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if _, err := h.examService.Get(c.Request.Context(), user, examID); err != nil {
		respondError(c, h.log, err)
		return
	}

	tokens, err := h.tokenManager.ListForExam(c.Request.Context(), examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if tokens == nil {
		tokens = []model.ExamToken{}
	}

	response.Success(c, http.StatusOK, gin.H{"tokens": tokens})
}

// RevokeToken godoc
// POST /api/v1/admin/tokens/:token/revoke
func (h *TokenHandler) RevokeToken(c *gin.Context) {
	token, err := h.tokenManager.Revoke(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"token": token})
}

// RenewToken godoc
// POST /api/v1/admin/tokens/:token/renew
// Extends an active token to expire duration_minutes from now.
func (h *TokenHandler) RenewToken(c *gin.Context) {
	var req model.RenewTokenRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, err := h.tokenManager.Renew(c.Request.Context(), c.Param("token"), time.Duration(req.DurationMinutes)*time.Minute, service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"token": token})
}

// RefreshToken godoc
// POST /api/v1/admin/tokens/:token/refresh
// Reactivates an expired token for its original lifetime.
func (h *TokenHandler) RefreshToken(c *gin.Context) {
	token, err := h.tokenManager.RefreshExpired(c.Request.Context(), c.Param("token"), service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"token": token})
}
