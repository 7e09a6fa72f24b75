package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "draft"
	ExamStatusPublished ExamStatus = "published"
	ExamStatusOngoing   ExamStatus = "ongoing"
	ExamStatusCompleted ExamStatus = "completed"
	ExamStatusCancelled ExamStatus = "cancelled"
)

// examTransitions lists the statuses reachable from each status.
var examTransitions = map[ExamStatus][]ExamStatus{
	ExamStatusDraft:     {ExamStatusPublished, ExamStatusCancelled},
	ExamStatusPublished: {ExamStatusOngoing, ExamStatusCompleted, ExamStatusCancelled, ExamStatusDraft},
	ExamStatusOngoing:   {ExamStatusCompleted, ExamStatusCancelled},
}

// CanTransitionTo reports whether an exam may move from s to next.
func (s ExamStatus) CanTransitionTo(next ExamStatus) bool {
	for _, allowed := range examTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ExamType classifies an exam.
type ExamType string

const (
	ExamTypeQuiz       ExamType = "quiz"
	ExamTypeMidterm    ExamType = "midterm"
	ExamTypeFinal      ExamType = "final"
	ExamTypePractice   ExamType = "practice"
	ExamTypeAssignment ExamType = "assignment"
)

// Exam represents an exam entity.
type Exam struct {
	ID                    uuid.UUID  `json:"id"`
	ExamUID               uuid.UUID  `json:"exam_uid"`
	Title                 string     `json:"title"`
	Description           string     `json:"description"`
	ExamType              ExamType   `json:"exam_type"`
	Status                ExamStatus `json:"status"`
	StartTime             time.Time  `json:"start_time"`
	EndTime               time.Time  `json:"end_time"`
	ResultPublishTime     *time.Time `json:"result_publish_time,omitempty"`
	DurationMinutes       int        `json:"duration_minutes"`
	PassingScore          int        `json:"passing_score"`
	MaxAttempts           int        `json:"max_attempts"`
	ShuffleQuestions      bool       `json:"shuffle_questions"`
	ShuffleChoices        bool       `json:"shuffle_choices"`
	AllowBackNavigation   bool       `json:"allow_back_navigation"`
	ShowResultImmediately bool       `json:"show_result_immediately"`
	AccessToken           *string    `json:"access_token,omitempty"`
	TokenExpiry           *time.Time `json:"token_expiry,omitempty"`
	CreatedBy             int        `json:"created_by"`
	AllowedDepartments    []int      `json:"allowed_departments"`
	AllowedUsers          []int      `json:"allowed_users"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Duration returns the per-attempt time allowance.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// IsRestricted reports whether the exam limits who may take it.
func (e *Exam) IsRestricted() bool {
	return len(e.AllowedDepartments) > 0 || len(e.AllowedUsers) > 0
}

// AllowsUser reports whether the user is in either restriction set.
// Unrestricted exams allow everyone.
func (e *Exam) AllowsUser(u *User) bool {
	if !e.IsRestricted() {
		return true
	}
	for _, id := range e.AllowedUsers {
		if id == u.ID {
			return true
		}
	}
	if u.DepartmentID != nil {
		for _, id := range e.AllowedDepartments {
			if id == *u.DepartmentID {
				return true
			}
		}
	}
	return false
}

// IsTokenGated reports whether a new attempt needs an access code.
func (e *Exam) IsTokenGated() bool {
	return e.AccessToken != nil && *e.AccessToken != ""
}

// AccessTokenUsable reports whether the exam's own access token accepts
// entries at now. A nil expiry never lapses.
func (e *Exam) AccessTokenUsable(now time.Time) bool {
	if !e.IsTokenGated() {
		return false
	}
	return e.TokenExpiry == nil || !now.After(*e.TokenExpiry)
}

// ResultsVisible reports whether a student may see scores at now.
func (e *Exam) ResultsVisible(now time.Time) bool {
	if e.ShowResultImmediately {
		return true
	}
	return e.ResultPublishTime != nil && !now.Before(*e.ResultPublishTime)
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title                 string     `json:"title" binding:"required,min=3,max=200"`
	Description           string     `json:"description" binding:"omitempty,max=5000"`
	ExamType              ExamType   `json:"exam_type" binding:"required,oneof=quiz midterm final practice assignment"`
	StartTime             time.Time  `json:"start_time" binding:"required"`
	EndTime               time.Time  `json:"end_time" binding:"required,gtfield=StartTime"`
	ResultPublishTime     *time.Time `json:"result_publish_time" binding:"omitempty"`
	DurationMinutes       int        `json:"duration_minutes" binding:"required,min=1,max=600"`
	PassingScore          int        `json:"passing_score" binding:"min=0,max=100"`
	MaxAttempts           int        `json:"max_attempts" binding:"required,min=1,max=50"`
	ShuffleQuestions      bool       `json:"shuffle_questions"`
	ShuffleChoices        bool       `json:"shuffle_choices"`
	AllowBackNavigation   bool       `json:"allow_back_navigation"`
	ShowResultImmediately bool       `json:"show_result_immediately"`
	AllowedDepartments    []int      `json:"allowed_departments" binding:"omitempty,dive,min=1"`
	AllowedUsers          []int      `json:"allowed_users" binding:"omitempty,dive,min=1"`
}

// UpdateExamStatusRequest is the payload for an explicit exam status change.
type UpdateExamStatusRequest struct {
	Status ExamStatus `json:"status" binding:"required,oneof=draft published ongoing completed cancelled"`
}
