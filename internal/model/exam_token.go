package model

import (
	"time"

	"github.com/google/uuid"
)

// TokenStatus enumerates exam token states.
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusExpired TokenStatus = "expired"
	TokenStatusRevoked TokenStatus = "revoked"
)

// ExamToken is a short-lived access code for an exam, or for any exam when global.
type ExamToken struct {
	ID        uuid.UUID   `json:"id"`
	Token     string      `json:"token"`
	ExamID    *uuid.UUID  `json:"exam_id,omitempty"`
	IsGlobal  bool        `json:"is_global"`
	Status    TokenStatus `json:"status"`
	CreatedBy int         `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	UsedCount int         `json:"used_count"`
	MaxUsage  int         `json:"max_usage"`
}

// IsUsable reports whether the token would accept an entry at now.
// It never mutates the token.
func (t *ExamToken) IsUsable(now time.Time) bool {
	return t.Status == TokenStatusActive &&
		!now.After(t.ExpiresAt) &&
		t.UsedCount < t.MaxUsage
}

// EffectiveStatus folds time and usage limits into the stored status.
func (t *ExamToken) EffectiveStatus(now time.Time) TokenStatus {
	if t.Status == TokenStatusActive && (now.After(t.ExpiresAt) || t.UsedCount >= t.MaxUsage) {
		return TokenStatusExpired
	}
	return t.Status
}

// Grants reports whether the token admits entry to the exam.
func (t *ExamToken) Grants(examID uuid.UUID) bool {
	return t.IsGlobal || (t.ExamID != nil && *t.ExamID == examID)
}

// TimeRemaining returns the lifetime left at now, never negative.
func (t *ExamToken) TimeRemaining(now time.Time) time.Duration {
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// CreateTokenRequest is the payload for issuing an exam token.
type CreateTokenRequest struct {
	ExamID          *uuid.UUID `json:"exam_id" binding:"required_without=IsGlobal"`
	IsGlobal        bool       `json:"is_global"`
	DurationMinutes int        `json:"duration_minutes" binding:"omitempty,min=1,max=1440"`
	MaxUsage        int        `json:"max_usage" binding:"omitempty,min=1,max=100000"`
}

// RenewTokenRequest is the payload for extending an active token.
type RenewTokenRequest struct {
	DurationMinutes int `json:"duration_minutes" binding:"required,min=1,max=1440"`
}

// ValidateTokenRequest is the payload of the token validation endpoint.
// Length is checked by the service so the caller gets the exact message.
type ValidateTokenRequest struct {
	Token  string     `json:"token" binding:"required,max=64"`
	ExamID *uuid.UUID `json:"exam_id"`
}

// TokenValidation is the outcome of validating an access code.
type TokenValidation struct {
	Valid     bool       `json:"valid"`
	ExamID    *uuid.UUID `json:"exam_id,omitempty"`
	ExamTitle string     `json:"exam_title,omitempty"`
	Message   string     `json:"message"`
}
