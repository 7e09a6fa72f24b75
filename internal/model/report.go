package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionOutcome is one session joined with its exam and user, the row
// shape every report is computed from.
type SessionOutcome struct {
	SessionID     uuid.UUID     `json:"session_id"`
	ExamID        uuid.UUID     `json:"exam_id"`
	ExamTitle     string        `json:"exam_title"`
	UserID        int           `json:"user_id"`
	Username      string        `json:"username"`
	FullName      string        `json:"full_name"`
	AttemptNumber int           `json:"attempt_number"`
	Status        SessionStatus `json:"status"`
	GradingStatus GradingStatus `json:"grading_status"`
	Score         *float64      `json:"score"`
	PassingScore  int           `json:"passing_score"`
	TimeSpent     int           `json:"time_spent"`
	IsCompleted   bool          `json:"is_completed"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       *time.Time    `json:"end_time,omitempty"`
}

// Passed reports whether the session scored at or above the exam's pass mark.
func (o *SessionOutcome) Passed() bool {
	return o.IsCompleted && o.Score != nil && *o.Score >= float64(o.PassingScore)
}

// OutcomeFilter narrows the outcomes a report reads. Nil fields match all.
type OutcomeFilter struct {
	ExamID *uuid.UUID
	UserID *int
}

// ExamReport summarizes every attempt at one exam.
type ExamReport struct {
	ExamID           uuid.UUID `json:"exam_id"`
	ExamTitle        string    `json:"exam_title"`
	PassingScore     int       `json:"passing_score"`
	Participants     int       `json:"participants"`
	TotalSessions    int       `json:"total_sessions"`
	Completed        int       `json:"completed"`
	InProgress       int       `json:"in_progress"`
	PendingGrading   int       `json:"pending_grading"`
	AverageScore     float64   `json:"average_score"`
	HighestScore     float64   `json:"highest_score"`
	LowestScore      float64   `json:"lowest_score"`
	PassCount        int       `json:"pass_count"`
	PassRate         float64   `json:"pass_rate"`
	AverageTimeSpent float64   `json:"average_time_spent"`
}

// StudentSummary summarizes one user's finished attempts.
type StudentSummary struct {
	UserID         int     `json:"user_id"`
	CompletedExams int     `json:"completed_exams"`
	AverageScore   float64 `json:"average_score"`
	PassCount      int     `json:"pass_count"`
	SuccessRate    float64 `json:"success_rate"`
}

// SystemStats summarizes every session on the platform.
type SystemStats struct {
	TotalSessions     int     `json:"total_sessions"`
	CompletedSessions int     `json:"completed_sessions"`
	ActiveSessions    int     `json:"active_sessions"`
	AverageScore      float64 `json:"average_score"`
	PassRate          float64 `json:"pass_rate"`
}
