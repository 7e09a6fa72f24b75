package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const examColumns = `e.id, e.exam_uid, e.title, e.description, e.exam_type, e.status,
	e.start_time, e.end_time, e.result_publish_time, e.duration_minutes,
	e.passing_score, e.max_attempts, e.shuffle_questions, e.shuffle_choices,
	e.allow_back_navigation, e.show_result_immediately, e.access_token,
	e.token_expiry, e.created_by, e.created_at, e.updated_at,
	ARRAY(SELECT department_id FROM exam_allowed_departments WHERE exam_id = e.id ORDER BY department_id),
	ARRAY(SELECT user_id FROM exam_allowed_users WHERE exam_id = e.id ORDER BY user_id)`

func scanExam(row scanner) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(&e.ID, &e.ExamUID, &e.Title, &e.Description, &e.ExamType, &e.Status,
		&e.StartTime, &e.EndTime, &e.ResultPublishTime, &e.DurationMinutes,
		&e.PassingScore, &e.MaxAttempts, &e.ShuffleQuestions, &e.ShuffleChoices,
		&e.AllowBackNavigation, &e.ShowResultImmediately, &e.AccessToken,
		&e.TokenExpiry, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt,
		&e.AllowedDepartments, &e.AllowedUsers)
	if err != nil {
		return nil, translate(err)
	}
	return e, nil
}

// ExamRepository handles exam data access.
type ExamRepository struct {
	db DBTX
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(db DBTX) *ExamRepository {
	return &ExamRepository{db: db}
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(r.db.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams e WHERE e.id = $1`, id))
}

// GetByAccessToken retrieves the exam owning an access token.
func (r *ExamRepository) GetByAccessToken(ctx context.Context, token string) (*model.Exam, error) {
	return scanExam(r.db.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams e WHERE e.access_token = $1`, token))
}

// AccessTokenExists reports whether any exam already uses the token.
func (r *ExamRepository) AccessTokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM exams WHERE access_token = $1)`, token,
	).Scan(&exists)
	return exists, err
}

// Create inserts a new exam and its restriction sets.
// Call it inside a transaction so the sets land atomically with the exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO exams (title, description, exam_type, status, start_time, end_time,
		                    result_publish_time, duration_minutes, passing_score, max_attempts,
		                    shuffle_questions, shuffle_choices, allow_back_navigation,
		                    show_result_immediately, access_token, token_expiry, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING id, exam_uid, created_at, updated_at`,
		e.Title, e.Description, e.ExamType, e.Status, e.StartTime, e.EndTime,
		e.ResultPublishTime, e.DurationMinutes, e.PassingScore, e.MaxAttempts,
		e.ShuffleQuestions, e.ShuffleChoices, e.AllowBackNavigation,
		e.ShowResultImmediately, e.AccessToken, e.TokenExpiry, e.CreatedBy,
	).Scan(&e.ID, &e.ExamUID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return translate(err)
	}

	if len(e.AllowedDepartments) > 0 {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO exam_allowed_departments (exam_id, department_id)
			 SELECT $1, unnest($2::int[])
			 ON CONFLICT DO NOTHING`, e.ID, e.AllowedDepartments); err != nil {
			return fmt.Errorf("insert allowed departments: %w", translate(err))
		}
	}
	if len(e.AllowedUsers) > 0 {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO exam_allowed_users (exam_id, user_id)
			 SELECT $1, unnest($2::int[])
			 ON CONFLICT DO NOTHING`, e.ID, e.AllowedUsers); err != nil {
			return fmt.Errorf("insert allowed users: %w", translate(err))
		}
	}
	return nil
}

// UpdateStatus updates an exam's status.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAccessToken stores the exam's access token and optional expiry.
func (r *ExamRepository) SetAccessToken(ctx context.Context, id uuid.UUID, token string, expiry *time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE exams SET access_token = $1, token_expiry = $2, updated_at = NOW() WHERE id = $3`,
		token, expiry, id)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPublished returns every published exam.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+examColumns+` FROM exams e WHERE e.status = $1
		 ORDER BY e.start_time`, model.ExamStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}
