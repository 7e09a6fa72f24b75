package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
)

const answerColumns = `id, session_id, question_id, selected_choice_ids, text_answer,
	structured_answer, is_correct, points_earned, evaluated_by, evaluated_at,
	time_spent, answered_at`

func scanAnswer(row scanner) (*model.UserAnswer, error) {
	a := &model.UserAnswer{}
	err := row.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.SelectedChoiceIDs, &a.TextAnswer,
		&a.StructuredAnswer, &a.IsCorrect, &a.PointsEarned, &a.EvaluatedBy, &a.EvaluatedAt,
		&a.TimeSpent, &a.AnsweredAt)
	if err != nil {
		return nil, translate(err)
	}
	return a, nil
}

// AnswerRepository handles user answer data access.
type AnswerRepository struct {
	db DBTX
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(db DBTX) *AnswerRepository {
	return &AnswerRepository{db: db}
}

// Upsert writes the answer for (session, question), replacing an earlier one.
// Replacing an answer discards its previous grade.
func (r *AnswerRepository) Upsert(ctx context.Context, a *model.UserAnswer) error {
	if a.SelectedChoiceIDs == nil {
		a.SelectedChoiceIDs = []uuid.UUID{}
	}
	var structured any
	if len(a.StructuredAnswer) > 0 {
		structured = a.StructuredAnswer
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO user_answers (session_id, question_id, selected_choice_ids, text_answer,
		                           structured_answer, time_spent, answered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id, question_id) DO UPDATE
		 SET selected_choice_ids = EXCLUDED.selected_choice_ids,
		     text_answer         = EXCLUDED.text_answer,
		     structured_answer   = EXCLUDED.structured_answer,
		     time_spent          = user_answers.time_spent + EXCLUDED.time_spent,
		     answered_at         = EXCLUDED.answered_at,
		     is_correct          = NULL,
		     points_earned       = NULL,
		     evaluated_by        = NULL,
		     evaluated_at        = NULL
		 RETURNING id, time_spent`,
		a.SessionID, a.QuestionID, a.SelectedChoiceIDs, a.TextAnswer,
		structured, a.TimeSpent, a.AnsweredAt,
	).Scan(&a.ID, &a.TimeSpent)
	if err != nil {
		return translate(err)
	}
	a.IsCorrect, a.PointsEarned, a.EvaluatedBy, a.EvaluatedAt = nil, nil, nil, nil
	return nil
}

// GetByID retrieves one answer.
func (r *AnswerRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.UserAnswer, error) {
	return scanAnswer(r.db.QueryRow(ctx,
		`SELECT `+answerColumns+` FROM user_answers WHERE id = $1`, id))
}

// ListBySession retrieves every answer of a session.
func (r *AnswerRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.UserAnswer, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+answerColumns+`
		 FROM user_answers
		 WHERE session_id = $1
		 ORDER BY answered_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.UserAnswer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, *a)
	}
	return answers, rows.Err()
}

// SaveGrade stores the grade fields of an answer.
func (r *AnswerRepository) SaveGrade(ctx context.Context, a *model.UserAnswer) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE user_answers
		 SET is_correct = $1, points_earned = $2, evaluated_by = $3, evaluated_at = $4
		 WHERE id = $5`,
		a.IsCorrect, a.PointsEarned, a.EvaluatedBy, a.EvaluatedAt, a.ID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
