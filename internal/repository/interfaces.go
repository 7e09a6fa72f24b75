package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// ExamStore reads and writes exams together with their restriction sets.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	GetByAccessToken(ctx context.Context, token string) (*model.Exam, error)
	AccessTokenExists(ctx context.Context, token string) (bool, error)
	Create(ctx context.Context, e *model.Exam) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error
	SetAccessToken(ctx context.Context, id uuid.UUID, token string, expiry *time.Time) error
	ListPublished(ctx context.Context) ([]model.Exam, error)
}

// QuestionStore reads questions with their choices.
type QuestionStore interface {
	// ListByExam returns the exam's active questions in creation order.
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error)
	Create(ctx context.Context, q *model.Question) error
}

// SessionStore reads and writes exam sessions.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	// GetByIDForUpdate locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	// FindOpen returns the in-progress session of (exam, user), or ErrNotFound.
	FindOpen(ctx context.Context, examID uuid.UUID, userID int) (*model.ExamSession, error)
	CountCompleted(ctx context.Context, examID uuid.UUID, userID int) (int, error)
	// Create inserts the session. A concurrent open session yields ErrDuplicate.
	Create(ctx context.Context, s *model.ExamSession) error
	UpdateProgress(ctx context.Context, id uuid.UUID, timeSpent, currentIndex int) error
	// Finalize closes an in-progress session. A session that is no longer
	// in progress yields ErrStaleState.
	Finalize(ctx context.Context, s *model.ExamSession) error
	// UpdateScore rewrites the scoring fields of a finalized session.
	UpdateScore(ctx context.Context, s *model.ExamSession) error
	ListByUser(ctx context.Context, userID int) ([]model.ExamSession, error)
	ListFinalizedIDsByExam(ctx context.Context, examID uuid.UUID) ([]uuid.UUID, error)
	ListOutcomes(ctx context.Context, filter model.OutcomeFilter) ([]model.SessionOutcome, error)
}

// AnswerStore reads and writes user answers.
type AnswerStore interface {
	// Upsert replaces the answer for (session, question) and clears its grade.
	Upsert(ctx context.Context, a *model.UserAnswer) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.UserAnswer, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.UserAnswer, error)
	SaveGrade(ctx context.Context, a *model.UserAnswer) error
}

// TokenStore reads and writes exam tokens.
type TokenStore interface {
	Create(ctx context.Context, t *model.ExamToken) error
	GetByToken(ctx context.Context, token string) (*model.ExamToken, error)
	GetByTokenForUpdate(ctx context.Context, token string) (*model.ExamToken, error)
	TokenExists(ctx context.Context, token string) (bool, error)
	// Consume increments used_count when the token is usable at now and
	// expires it when the increment reaches max_usage, in one step.
	// A token that is not usable yields ErrNotFound.
	Consume(ctx context.Context, token string, now time.Time) (*model.ExamToken, error)
	Save(ctx context.Context, t *model.ExamToken) error
	// ExpireDue marks active tokens past expiry or usage cap as expired.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamToken, error)
}

// UserStore reads and writes user accounts.
type UserStore interface {
	GetByID(ctx context.Context, id int) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	Create(ctx context.Context, u *model.User) error
}

// Store groups every repository behind one handle so services can run
// several of them inside one transaction.
type Store interface {
	Exams() ExamStore
	Questions() QuestionStore
	Sessions() SessionStore
	Answers() AnswerStore
	Tokens() TokenStore
	Users() UserStore

	// WithTx runs fn against a transactional Store. The transaction commits
	// when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
