package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionEventType names a session lifecycle event.
type SessionEventType string

const (
	SessionEventStarted   SessionEventType = "session_started"
	SessionEventResumed   SessionEventType = "session_resumed"
	SessionEventAnswered  SessionEventType = "answer_recorded"
	SessionEventFinalized SessionEventType = "session_finalized"
)

// SessionEvent is broadcast on an exam's monitor channel.
type SessionEvent struct {
	Type       SessionEventType `json:"type"`
	ExamID     uuid.UUID        `json:"exam_id"`
	SessionID  uuid.UUID        `json:"session_id"`
	UserID     int              `json:"user_id"`
	Status     SessionStatus    `json:"status"`
	QuestionID *uuid.UUID       `json:"question_id,omitempty"`
	Score      *float64         `json:"score,omitempty"`
	At         time.Time        `json:"at"`
}
