package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
)

const sessionColumns = `id, exam_id, user_id, attempt_number, status, grading_status,
	start_time, end_time, submitted_at, time_spent, score, total_questions,
	answered_questions, correct_answers, wrong_answers, is_completed,
	question_order, current_index, ip_address, user_agent`

func scanSession(row scanner) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := row.Scan(&s.ID, &s.ExamID, &s.UserID, &s.AttemptNumber, &s.Status, &s.GradingStatus,
		&s.StartTime, &s.EndTime, &s.SubmittedAt, &s.TimeSpent, &s.Score, &s.TotalQuestions,
		&s.AnsweredQuestions, &s.CorrectAnswers, &s.WrongAnswers, &s.IsCompleted,
		&s.QuestionOrder, &s.CurrentIndex, &s.IPAddress, &s.UserAgent)
	if err != nil {
		return nil, translate(err)
	}
	return s, nil
}

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	db DBTX
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(db DBTX) *ExamSessionRepository {
	return &ExamSessionRepository{db: db}
}

// GetByID retrieves a session by its UUID.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
}

// GetByIDForUpdate retrieves a session and locks its row.
func (r *ExamSessionRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1 FOR UPDATE`, id))
}

// FindOpen retrieves the in-progress session for an exam-user pair.
func (r *ExamSessionRepository) FindOpen(ctx context.Context, examID uuid.UUID, userID int) (*model.ExamSession, error) {
	return scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE exam_id = $1 AND user_id = $2 AND status = $3
		 FOR UPDATE`, examID, userID, model.SessionStatusInProgress))
}

// CountCompleted counts the finalized attempts of a user at an exam.
func (r *ExamSessionRepository) CountCompleted(ctx context.Context, examID uuid.UUID, userID int) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_sessions
		 WHERE exam_id = $1 AND user_id = $2 AND is_completed`, examID, userID,
	).Scan(&n)
	return n, err
}

// Create inserts a new in-progress session.
// The partial unique index on open sessions turns a racing start into ErrDuplicate.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, user_id, attempt_number, status, grading_status,
		                            start_time, total_questions, question_order, current_index,
		                            ip_address, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		s.ExamID, s.UserID, s.AttemptNumber, s.Status, s.GradingStatus,
		s.StartTime, s.TotalQuestions, s.QuestionOrder, s.CurrentIndex,
		s.IPAddress, s.UserAgent,
	).Scan(&s.ID)
	return translate(err)
}

// UpdateProgress stores the accumulated time and navigation pointer.
func (r *ExamSessionRepository) UpdateProgress(ctx context.Context, id uuid.UUID, timeSpent, currentIndex int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE exam_sessions SET time_spent = $1, current_index = $2
		 WHERE id = $3 AND status = $4`,
		timeSpent, currentIndex, id, model.SessionStatusInProgress)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// Finalize closes an in-progress session with its final state and score.
func (r *ExamSessionRepository) Finalize(ctx context.Context, s *model.ExamSession) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, grading_status = $2, end_time = $3, submitted_at = $4,
		     time_spent = $5, score = $6, total_questions = $7, answered_questions = $8,
		     correct_answers = $9, wrong_answers = $10, is_completed = $11
		 WHERE id = $12 AND status = $13`,
		s.Status, s.GradingStatus, s.EndTime, s.SubmittedAt,
		s.TimeSpent, s.Score, s.TotalQuestions, s.AnsweredQuestions,
		s.CorrectAnswers, s.WrongAnswers, s.IsCompleted,
		s.ID, model.SessionStatusInProgress)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// UpdateScore rewrites the scoring fields of a finalized session.
func (r *ExamSessionRepository) UpdateScore(ctx context.Context, s *model.ExamSession) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, grading_status = $2, score = $3, total_questions = $4,
		     answered_questions = $5, correct_answers = $6, wrong_answers = $7
		 WHERE id = $8 AND status <> $9`,
		s.Status, s.GradingStatus, s.Score, s.TotalQuestions,
		s.AnsweredQuestions, s.CorrectAnswers, s.WrongAnswers,
		s.ID, model.SessionStatusInProgress)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// ListByUser retrieves all sessions of a user, newest first.
func (r *ExamSessionRepository) ListByUser(ctx context.Context, userID int) ([]model.ExamSession, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE user_id = $1
		 ORDER BY start_time DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// ListFinalizedIDsByExam returns the ids of every finalized session of an exam.
func (r *ExamSessionRepository) ListFinalizedIDsByExam(ctx context.Context, examID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM exam_sessions
		 WHERE exam_id = $1 AND status <> $2
		 ORDER BY start_time`, examID, model.SessionStatusInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListOutcomes returns sessions joined with exam and user data for reporting.
func (r *ExamSessionRepository) ListOutcomes(ctx context.Context, filter model.OutcomeFilter) ([]model.SessionOutcome, error) {
	query := `
		SELECT es.id, es.exam_id, e.title, es.user_id, u.username, u.full_name,
		       es.attempt_number, es.status, es.grading_status, es.score, e.passing_score,
		       es.time_spent, es.is_completed, es.start_time, es.end_time
		FROM exam_sessions es
		JOIN exams e ON e.id = es.exam_id
		JOIN users u ON u.id = es.user_id
		WHERE TRUE`
	var args []any
	if filter.ExamID != nil {
		args = append(args, *filter.ExamID)
		query += fmt.Sprintf(" AND es.exam_id = $%d", len(args))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		query += fmt.Sprintf(" AND es.user_id = $%d", len(args))
	}
	query += ` ORDER BY u.full_name ASC, es.attempt_number ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []model.SessionOutcome
	for rows.Next() {
		var o model.SessionOutcome
		if err := rows.Scan(&o.SessionID, &o.ExamID, &o.ExamTitle, &o.UserID, &o.Username, &o.FullName,
			&o.AttemptNumber, &o.Status, &o.GradingStatus, &o.Score, &o.PassingScore,
			&o.TimeSpent, &o.IsCompleted, &o.StartTime, &o.EndTime); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
