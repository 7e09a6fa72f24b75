package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgStore is the PostgreSQL Store.
type PgStore struct {
	db        DBTX
	exams     *ExamRepository
	questions *QuestionRepository
	sessions  *ExamSessionRepository
	answers   *AnswerRepository
	tokens    *TokenRepository
	users     *UserRepository
}

// NewStore creates a Store backed by the pool.
func NewStore(pool *pgxpool.Pool) *PgStore {
	return newPgStore(pool)
}

func newPgStore(db DBTX) *PgStore {
	return &PgStore{
		db:        db,
		exams:     NewExamRepository(db),
		questions: NewQuestionRepository(db),
		sessions:  NewExamSessionRepository(db),
		answers:   NewAnswerRepository(db),
		tokens:    NewTokenRepository(db),
		users:     NewUserRepository(db),
	}
}

func (s *PgStore) Exams() ExamStore         { return s.exams }
func (s *PgStore) Questions() QuestionStore { return s.questions }
func (s *PgStore) Sessions() SessionStore   { return s.sessions }
func (s *PgStore) Answers() AnswerStore     { return s.answers }
func (s *PgStore) Tokens() TokenStore       { return s.tokens }
func (s *PgStore) Users() UserStore         { return s.users }

// WithTx runs fn inside a transaction. Nested calls become savepoints.
func (s *PgStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(newPgStore(tx))
	})
}
