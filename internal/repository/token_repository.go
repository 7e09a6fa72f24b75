package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
)

const tokenColumns = `id, token, exam_id, is_global, status, created_by, created_at,
	expires_at, used_count, max_usage`

func scanToken(row scanner) (*model.ExamToken, error) {
	t := &model.ExamToken{}
	err := row.Scan(&t.ID, &t.Token, &t.ExamID, &t.IsGlobal, &t.Status, &t.CreatedBy, &t.CreatedAt,
		&t.ExpiresAt, &t.UsedCount, &t.MaxUsage)
	if err != nil {
		return nil, translate(err)
	}
	return t, nil
}

// TokenRepository handles exam token data access.
type TokenRepository struct {
	db DBTX
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create inserts a new token. A token string already in use yields ErrDuplicate.
func (r *TokenRepository) Create(ctx context.Context, t *model.ExamToken) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO exam_tokens (token, exam_id, is_global, status, created_by, created_at,
		                          expires_at, used_count, max_usage)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		t.Token, t.ExamID, t.IsGlobal, t.Status, t.CreatedBy, t.CreatedAt,
		t.ExpiresAt, t.UsedCount, t.MaxUsage,
	).Scan(&t.ID)
	return translate(err)
}

// GetByToken retrieves a token by its code.
func (r *TokenRepository) GetByToken(ctx context.Context, token string) (*model.ExamToken, error) {
	return scanToken(r.db.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM exam_tokens WHERE token = $1`, token))
}

// GetByTokenForUpdate retrieves a token and locks its row.
func (r *TokenRepository) GetByTokenForUpdate(ctx context.Context, token string) (*model.ExamToken, error) {
	return scanToken(r.db.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM exam_tokens WHERE token = $1 FOR UPDATE`, token))
}

// TokenExists reports whether the code is taken by any token.
func (r *TokenRepository) TokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM exam_tokens WHERE token = $1)`, token,
	).Scan(&exists)
	return exists, err
}

// Consume redeems one use of a usable token. The row lock taken by UPDATE
// serializes concurrent redemptions, so used_count never passes max_usage.
func (r *TokenRepository) Consume(ctx context.Context, token string, now time.Time) (*model.ExamToken, error) {
	return scanToken(r.db.QueryRow(ctx,
		`UPDATE exam_tokens
		 SET used_count = used_count + 1,
		     status = CASE WHEN used_count + 1 >= max_usage THEN $3 ELSE status END
		 WHERE token = $1
		   AND status = $2
		   AND expires_at >= $4
		   AND used_count < max_usage
		 RETURNING `+tokenColumns,
		token, model.TokenStatusActive, model.TokenStatusExpired, now))
}

// Save writes the mutable fields of a token.
func (r *TokenRepository) Save(ctx context.Context, t *model.ExamToken) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE exam_tokens SET status = $1, expires_at = $2, used_count = $3
		 WHERE id = $4`,
		t.Status, t.ExpiresAt, t.UsedCount, t.ID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireDue marks lapsed or used-up active tokens as expired.
func (r *TokenRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE exam_tokens SET status = $1
		 WHERE status = $2 AND (expires_at < $3 OR used_count >= max_usage)`,
		model.TokenStatusExpired, model.TokenStatusActive, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListByExam returns the tokens issued for an exam, newest first.
func (r *TokenRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+tokenColumns+` FROM exam_tokens
		 WHERE exam_id = $1
		 ORDER BY created_at DESC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []model.ExamToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}
