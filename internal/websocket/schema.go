package websocket

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer Action = "answer"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest is sent by the client to autosave a single answer.
type AnswerRequest struct {
	Action         Action          `json:"action"`
	QuestionID     uuid.UUID       `json:"question_id"`
	OptionID       *uuid.UUID      `json:"option_id,omitempty"`
	OptionIDs      []uuid.UUID     `json:"option_ids,omitempty"`
	Text           *string         `json:"text,omitempty"`
	Structured     json.RawMessage `json:"structured,omitempty"`
	TimeSpentDelta int             `json:"time_spent_delta"`
}

// SubmitRequest is sent by the client to finish the attempt.
type SubmitRequest struct {
	Action           Action `json:"action"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
)

type SavedResponse struct {
	Event      Event     `json:"event"`
	QuestionID uuid.UUID `json:"question_id"`
}

type SubmittedResponse struct {
	Event         Event     `json:"event"`
	SessionID     uuid.UUID `json:"session_id"`
	Status        string    `json:"status"`
	GradingStatus string    `json:"grading_status"`
	Score         *float64  `json:"score"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
