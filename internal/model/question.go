package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question formats.
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "MC"
	QuestionTypeMultiChoice  QuestionType = "MCA"
	QuestionTypeTrueFalse    QuestionType = "TF"
	QuestionTypeFillBlank    QuestionType = "FB"
	QuestionTypeEssay        QuestionType = "ESS"
	QuestionTypeMatching     QuestionType = "MAT"
	QuestionTypeOrdering     QuestionType = "ORD"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeSingleChoice, QuestionTypeMultiChoice, QuestionTypeTrueFalse,
		QuestionTypeFillBlank, QuestionTypeEssay, QuestionTypeMatching, QuestionTypeOrdering:
		return true
	}
	return false
}

// UsesChoiceSelection reports whether answers to t are sets of choice ids.
func (t QuestionType) UsesChoiceSelection() bool {
	switch t {
	case QuestionTypeSingleChoice, QuestionTypeMultiChoice, QuestionTypeTrueFalse:
		return true
	}
	return false
}

// IsManuallyGraded reports whether answers to t wait for a human grader.
func (t QuestionType) IsManuallyGraded() bool {
	return t == QuestionTypeEssay
}

// Difficulty grades a question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is one of the known difficulties.
func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// MediaRefs holds optional media attached to a question.
type MediaRefs struct {
	ImageURL *string `json:"image_url,omitempty"`
	AudioURL *string `json:"audio_url,omitempty"`
	VideoURL *string `json:"video_url,omitempty"`
}

// Question represents a single exam question, with its choices.
type Question struct {
	ID             uuid.UUID    `json:"id"`
	ExamID         *uuid.UUID   `json:"exam_id,omitempty"`
	QuestionBankID *uuid.UUID   `json:"question_bank_id,omitempty"`
	QuestionType   QuestionType `json:"question_type"`
	QuestionText   string       `json:"question_text"`
	Explanation    string       `json:"explanation,omitempty"`
	Media          MediaRefs    `json:"media"`
	Points         int          `json:"points"`
	Difficulty     Difficulty   `json:"difficulty"`
	IsActive       bool         `json:"is_active"`
	CreatedBy      *int         `json:"created_by,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	Choices        []Choice     `json:"choices"`
}

// BelongsTo reports whether the question is attached to the exam.
func (q *Question) BelongsTo(examID uuid.UUID) bool {
	return q.ExamID != nil && *q.ExamID == examID
}

// CorrectChoices returns the choices flagged correct, in presentation order.
func (q *Question) CorrectChoices() []Choice {
	out := make([]Choice, 0, len(q.Choices))
	for _, c := range q.OrderedChoices() {
		if c.IsCorrect {
			out = append(out, c)
		}
	}
	return out
}

// OrderedChoices returns a copy of the choices sorted by their order field.
func (q *Question) OrderedChoices() []Choice {
	out := make([]Choice, len(q.Choices))
	copy(out, q.Choices)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// HasChoice reports whether id is one of the question's choices.
func (q *Question) HasChoice(id uuid.UUID) bool {
	for _, c := range q.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Choice represents one option of a question.
type Choice struct {
	ID         uuid.UUID `json:"id"`
	QuestionID uuid.UUID `json:"question_id"`
	Text       string    `json:"text"`
	IsCorrect  bool      `json:"is_correct"`
	Order      int       `json:"order"`
}

// QuestionForStudent is a question without the answer key, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID          `json:"id"`
	QuestionText string             `json:"question_text"`
	QuestionType QuestionType       `json:"question_type"`
	Points       int                `json:"points"`
	Media        MediaRefs          `json:"media_refs"`
	Options      []OptionForStudent `json:"options"`
	// MatchTargets lists the right-hand sides of a matching question.
	MatchTargets []string `json:"match_targets,omitempty"`
	OrderNum     int      `json:"order_num"`
}

// OptionForStudent is a choice without its correctness flag.
type OptionForStudent struct {
	ID   uuid.UUID `json:"id"`
	Text string    `json:"text"`
}

// AddQuestionRequest is the payload for adding a question to an exam.
type AddQuestionRequest struct {
	QuestionType QuestionType       `json:"question_type" binding:"required,oneof=MC MCA TF FB ESS MAT ORD"`
	QuestionText string             `json:"question_text" binding:"required,min=1,max=5000"`
	Explanation  string             `json:"explanation" binding:"omitempty,max=5000"`
	Media        MediaRefs          `json:"media"`
	Points       int                `json:"points" binding:"required,min=1,max=100"`
	Difficulty   Difficulty         `json:"difficulty" binding:"required,oneof=easy medium hard"`
	Choices      []AddChoiceRequest `json:"choices" binding:"omitempty,dive"`
}

// AddChoiceRequest is one choice inside AddQuestionRequest.
type AddChoiceRequest struct {
	Text      string `json:"text" binding:"required,max=2000"`
	IsCorrect bool   `json:"is_correct"`
	Order     int    `json:"order" binding:"min=0"`
}
