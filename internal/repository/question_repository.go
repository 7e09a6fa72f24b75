package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
)

const questionColumns = `id, exam_id, question_bank_id, question_type, text, explanation,
	image_url, audio_url, video_url, points, difficulty, is_active, created_by, created_at`

func scanQuestion(row scanner) (*model.Question, error) {
	q := &model.Question{}
	err := row.Scan(&q.ID, &q.ExamID, &q.QuestionBankID, &q.QuestionType, &q.QuestionText, &q.Explanation,
		&q.Media.ImageURL, &q.Media.AudioURL, &q.Media.VideoURL, &q.Points, &q.Difficulty,
		&q.IsActive, &q.CreatedBy, &q.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return q, nil
}

// QuestionRepository handles question and choice data access.
type QuestionRepository struct {
	db DBTX
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(db DBTX) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// ListByExam returns the exam's active questions, oldest first, with choices.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+questionColumns+`
		 FROM questions
		 WHERE exam_id = $1 AND is_active
		 ORDER BY created_at, id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachChoices(ctx, questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// GetByID retrieves one question with its choices.
func (r *QuestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q, err := scanQuestion(r.db.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	list := []model.Question{*q}
	if err := r.attachChoices(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// attachChoices loads the choices of every question in one round trip.
func (r *QuestionRepository) attachChoices(ctx context.Context, questions []model.Question) error {
	if len(questions) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(questions))
	index := make(map[uuid.UUID]int, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
		index[q.ID] = i
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, question_id, text, is_correct, sort_order
		 FROM choices
		 WHERE question_id = ANY($1)
		 ORDER BY question_id, sort_order, id`, ids)
	if err != nil {
		return fmt.Errorf("load choices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Choice
		if err := rows.Scan(&c.ID, &c.QuestionID, &c.Text, &c.IsCorrect, &c.Order); err != nil {
			return err
		}
		i := index[c.QuestionID]
		questions[i].Choices = append(questions[i].Choices, c)
	}
	return rows.Err()
}

// Create inserts a question and its choices. Call it inside a transaction.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO questions (exam_id, question_bank_id, question_type, text, explanation,
		                        image_url, audio_url, video_url, points, difficulty, is_active, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, created_at`,
		q.ExamID, q.QuestionBankID, q.QuestionType, q.QuestionText, q.Explanation,
		q.Media.ImageURL, q.Media.AudioURL, q.Media.VideoURL, q.Points, q.Difficulty,
		q.IsActive, q.CreatedBy,
	).Scan(&q.ID, &q.CreatedAt)
	if err != nil {
		return translate(err)
	}

	for i := range q.Choices {
		c := &q.Choices[i]
		c.QuestionID = q.ID
		if err := r.db.QueryRow(ctx,
			`INSERT INTO choices (question_id, text, is_correct, sort_order)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id`,
			c.QuestionID, c.Text, c.IsCorrect, c.Order,
		).Scan(&c.ID); err != nil {
			return fmt.Errorf("insert choice %d: %w", i, translate(err))
		}
	}
	return nil
}
