package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusSubmitted  SessionStatus = "submitted"
	SessionStatusTimeout    SessionStatus = "timeout"
	SessionStatusTerminated SessionStatus = "terminated"
)

// IsTerminal reports whether the session has been finalized.
func (s SessionStatus) IsTerminal() bool {
	return s != SessionStatusInProgress
}

// GradingStatus tracks whether every answer of a session has been graded.
type GradingStatus string

const (
	GradingStatusPending GradingStatus = "pending"
	GradingStatusPartial GradingStatus = "partial"
	GradingStatusFinal   GradingStatus = "final"
)

// ExamSession represents one attempt by one user at one exam.
type ExamSession struct {
	ID                uuid.UUID     `json:"id"`
	ExamID            uuid.UUID     `json:"exam_id"`
	UserID            int           `json:"user_id"`
	AttemptNumber     int           `json:"attempt_number"`
	Status            SessionStatus `json:"status"`
	StartTime         time.Time     `json:"start_time"`
	EndTime           *time.Time    `json:"end_time,omitempty"`
	SubmittedAt       *time.Time    `json:"submitted_at,omitempty"`
	TimeSpent         int           `json:"time_spent"`
	Score             *float64      `json:"score"`
	TotalQuestions    int           `json:"total_questions"`
	AnsweredQuestions int           `json:"answered_questions"`
	CorrectAnswers    int           `json:"correct_answers"`
	WrongAnswers      int           `json:"wrong_answers"`
	IsCompleted       bool          `json:"is_completed"`
	GradingStatus     GradingStatus `json:"grading_status"`
	QuestionOrder     []uuid.UUID   `json:"question_order"`
	CurrentIndex      int           `json:"current_index"`
	IPAddress         string        `json:"ip_address,omitempty"`
	UserAgent         string        `json:"user_agent,omitempty"`
}

// Deadline returns the instant after which the session times out.
func (s *ExamSession) Deadline(exam *Exam) time.Time {
	return s.StartTime.Add(exam.Duration())
}

// IsTimedOut reports whether an open session has outlived its allowance.
func (s *ExamSession) IsTimedOut(exam *Exam, now time.Time) bool {
	return s.Status == SessionStatusInProgress && now.After(s.Deadline(exam))
}

// QuestionIndex returns the position of questionID in the shown order, or -1.
func (s *ExamSession) QuestionIndex(questionID uuid.UUID) int {
	for i, id := range s.QuestionOrder {
		if id == questionID {
			return i
		}
	}
	return -1
}

// UserAnswer is the stored answer to one question within one session.
type UserAnswer struct {
	ID                uuid.UUID       `json:"id"`
	SessionID         uuid.UUID       `json:"session_id"`
	QuestionID        uuid.UUID       `json:"question_id"`
	SelectedChoiceIDs []uuid.UUID     `json:"selected_choice_ids"`
	TextAnswer        *string         `json:"text_answer,omitempty"`
	StructuredAnswer  json.RawMessage `json:"structured_answer,omitempty"`
	IsCorrect         *bool           `json:"is_correct"`
	PointsEarned      *float64        `json:"points_earned"`
	EvaluatedBy       *int            `json:"evaluated_by,omitempty"`
	EvaluatedAt       *time.Time      `json:"evaluated_at,omitempty"`
	TimeSpent         int             `json:"time_spent"`
	AnsweredAt        time.Time       `json:"answered_at"`
}

// IsGraded reports whether the answer carries a grade.
func (a *UserAnswer) IsGraded() bool {
	return a.IsCorrect != nil && a.PointsEarned != nil
}

// HasContent reports whether the student actually answered.
func (a *UserAnswer) HasContent() bool {
	if len(a.SelectedChoiceIDs) > 0 {
		return true
	}
	if a.TextAnswer != nil && strings.TrimSpace(*a.TextAnswer) != "" {
		return true
	}
	trimmed := bytes.TrimSpace(a.StructuredAnswer)
	switch string(trimmed) {
	case "", "null", "{}", "[]":
		return false
	}
	return true
}

// AnswerInput is one answer as submitted by a student. Exactly one of the
// representations is meaningful for a given question type.
type AnswerInput struct {
	QuestionID uuid.UUID       `json:"question_id" binding:"required"`
	OptionID   *uuid.UUID      `json:"option_id"`
	OptionIDs  []uuid.UUID     `json:"option_ids"`
	Text       *string         `json:"text" binding:"omitempty,max=20000"`
	Structured json.RawMessage `json:"structured"`
}

// SelectedChoices merges option_id and option_ids into a deduplicated set.
func (in *AnswerInput) SelectedChoices() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(in.OptionIDs)+1)
	out := make([]uuid.UUID, 0, len(in.OptionIDs)+1)
	add := func(id uuid.UUID) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if in.OptionID != nil {
		add(*in.OptionID)
	}
	for _, id := range in.OptionIDs {
		add(id)
	}
	return out
}

// RecordAnswerRequest is the payload for saving a single answer.
type RecordAnswerRequest struct {
	AnswerInput
	TimeSpentDelta int `json:"time_spent_delta" binding:"min=0,max=86400"`
}

// SubmitExamRequest is the payload for finishing a session.
type SubmitExamRequest struct {
	Answers          []AnswerInput `json:"answers" binding:"omitempty,dive"`
	TimeSpentSeconds int           `json:"time_spent_seconds" binding:"min=0"`
}

// SubmitExamResponse is returned after a successful submit.
type SubmitExamResponse struct {
	SessionID     uuid.UUID     `json:"session_id"`
	Status        SessionStatus `json:"status"`
	Score         *float64      `json:"score"`
	GradingStatus GradingStatus `json:"grading_status"`
}

// StartExamRequest is the payload for starting or resuming an exam.
type StartExamRequest struct {
	AccessCode string `json:"access_code" binding:"omitempty,examtoken"`
}

// StartExamResponse carries the session plus the question set to render.
type StartExamResponse struct {
	Session   *ExamSession         `json:"session"`
	Resumed   bool                 `json:"resumed"`
	Deadline  time.Time            `json:"deadline"`
	Questions []QuestionForStudent `json:"questions"`
}

// GradeAnswerRequest is the payload for grading an essay answer.
type GradeAnswerRequest struct {
	Points float64 `json:"points" binding:"min=0"`
}

// TerminateSessionRequest is the payload for an admin force-finish.
type TerminateSessionRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}
