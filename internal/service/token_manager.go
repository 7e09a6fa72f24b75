package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

const (
	// TokenLength is the length of every access code.
	TokenLength = 6
	// TokenAlphabet is the set access codes are drawn from.
	TokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	maxTokenAttempts = 100
	// Largest multiple of len(TokenAlphabet) that fits a byte; bytes at or
	// above it are rejected to keep the draw uniform.
	tokenByteCeiling = 252
)

// TokenDefaults are applied when a caller leaves duration or usage cap unset.
type TokenDefaults struct {
	Duration time.Duration
	MaxUsage int
}

// TokenManager issues, redeems and expires exam access codes.
type TokenManager struct {
	store    repository.Store
	defaults TokenDefaults
	random   io.Reader
	log      zerolog.Logger
}

// NewTokenManager creates a new TokenManager.
func NewTokenManager(store repository.Store, defaults TokenDefaults, log zerolog.Logger) *TokenManager {
	if defaults.Duration <= 0 {
		defaults.Duration = 15 * time.Minute
	}
	if defaults.MaxUsage <= 0 {
		defaults.MaxUsage = 100
	}
	return &TokenManager{
		store:    store,
		defaults: defaults,
		random:   rand.Reader,
		log:      log.With().Str("component", "token_manager").Logger(),
	}
}

// NormalizeToken trims and upper-cases raw user input.
func NormalizeToken(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// IsWellFormedToken reports whether code has the access code shape.
func IsWellFormedToken(code string) bool {
	if len(code) != TokenLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(TokenAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// randomToken draws one code from r.
func randomToken(r io.Reader) (string, error) {
	out := make([]byte, 0, TokenLength)
	buf := make([]byte, TokenLength*2)
	for len(out) < TokenLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if b >= tokenByteCeiling {
				continue
			}
			out = append(out, TokenAlphabet[int(b)%len(TokenAlphabet)])
			if len(out) == TokenLength {
				break
			}
		}
	}
	return string(out), nil
}

// Generate returns a code not used by any exam token or exam access token.
func (m *TokenManager) Generate(ctx context.Context) (string, error) {
	return m.generate(ctx, m.store)
}

func (m *TokenManager) generate(ctx context.Context, st repository.Store) (string, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		code, err := randomToken(m.random)
		if err != nil {
			return "", err
		}
		taken, err := m.codeTaken(ctx, st, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	m.log.Error().Int("attempts", maxTokenAttempts).Msg("Token generation exhausted")
	return "", ErrTokenSpaceExhausted
}

func (m *TokenManager) codeTaken(ctx context.Context, st repository.Store, code string) (bool, error) {
	taken, err := st.Tokens().TokenExists(ctx, code)
	if err != nil {
		return false, fmt.Errorf("check exam token: %w", err)
	}
	if taken {
		return true, nil
	}
	taken, err = st.Exams().AccessTokenExists(ctx, code)
	if err != nil {
		return false, fmt.Errorf("check exam access token: %w", err)
	}
	return taken, nil
}

// GenerateExamAccessToken generates a fresh code and stores it on the exam.
func (m *TokenManager) GenerateExamAccessToken(ctx context.Context, st repository.Store, examID uuid.UUID, expiry *time.Time) (string, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		code, err := m.generate(ctx, st)
		if err != nil {
			return "", err
		}
		err = st.Exams().SetAccessToken(ctx, examID, code, expiry)
		if err == nil {
			return code, nil
		}
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrExamNotFound
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return "", fmt.Errorf("set access token: %w", err)
		}
	}
	return "", ErrTokenSpaceExhausted
}

// CreateTokenParams describes a token to issue. Zero duration or usage cap
// take the configured defaults.
type CreateTokenParams struct {
	ExamID   *uuid.UUID
	IssuerID int
	Duration time.Duration
	IsGlobal bool
	MaxUsage int
}

// Create issues a new active token expiring Duration from now.
func (m *TokenManager) Create(ctx context.Context, p CreateTokenParams, now time.Time) (*model.ExamToken, error) {
	if p.Duration == 0 {
		p.Duration = m.defaults.Duration
	}
	if p.MaxUsage == 0 {
		p.MaxUsage = m.defaults.MaxUsage
	}
	if p.Duration < 0 {
		return nil, NewValidationError("duration_minutes", "must be positive")
	}
	if p.MaxUsage < 0 {
		return nil, NewValidationError("max_usage", "must be at least 1")
	}
	if p.ExamID == nil && !p.IsGlobal {
		return nil, NewValidationError("exam_id", "is required unless the token is global")
	}

	if p.ExamID != nil {
		if _, err := m.store.Exams().GetByID(ctx, *p.ExamID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrExamNotFound
			}
			return nil, fmt.Errorf("get exam: %w", err)
		}
	}

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		code, err := m.Generate(ctx)
		if err != nil {
			return nil, err
		}
		t := &model.ExamToken{
			Token:     code,
			ExamID:    p.ExamID,
			IsGlobal:  p.IsGlobal,
			Status:    model.TokenStatusActive,
			CreatedBy: p.IssuerID,
			CreatedAt: now,
			ExpiresAt: now.Add(p.Duration),
			MaxUsage:  p.MaxUsage,
		}
		err = m.store.Tokens().Create(ctx, t)
		if errors.Is(err, repository.ErrDuplicate) {
			// Another issuer took the code between the check and the insert.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create token: %w", err)
		}

		m.log.Info().
			Str("token", t.Token).
			Int("issuer_id", p.IssuerID).
			Bool("global", p.IsGlobal).
			Time("expires_at", t.ExpiresAt).
			Msg("Token created")
		return t, nil
	}
	return nil, ErrTokenSpaceExhausted
}

// IsValid reports whether code names a token that would admit an entry at now.
// It never mutates the token.
func (m *TokenManager) IsValid(ctx context.Context, code string, now time.Time) (bool, error) {
	t, err := m.store.Tokens().GetByToken(ctx, NormalizeToken(code))
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get token: %w", err)
	}
	return t.IsUsable(now), nil
}

// Consume redeems one use of the token.
func (m *TokenManager) Consume(ctx context.Context, code string, now time.Time) (*model.ExamToken, error) {
	return m.consume(ctx, m.store, NormalizeToken(code), now)
}

func (m *TokenManager) consume(ctx context.Context, st repository.Store, code string, now time.Time) (*model.ExamToken, error) {
	t, err := st.Tokens().Consume(ctx, code, now)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("consume token: %w", err)
	}

	// The conditional update matched nothing: tell a missing token apart
	// from one that is no longer usable.
	current, err := st.Tokens().GetByToken(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return nil, fmt.Errorf("%w: token is %s", ErrTokenState, current.EffectiveStatus(now))
}

// Revoke disables the token. Revoking a revoked token is a no-op.
func (m *TokenManager) Revoke(ctx context.Context, code string) (*model.ExamToken, error) {
	return m.mutate(ctx, code, func(t *model.ExamToken) error {
		t.Status = model.TokenStatusRevoked
		return nil
	})
}

// Renew extends an active token to expire duration from now.
func (m *TokenManager) Renew(ctx context.Context, code string, duration time.Duration, now time.Time) (*model.ExamToken, error) {
	if duration <= 0 {
		return nil, NewValidationError("duration_minutes", "must be positive")
	}
	return m.mutate(ctx, code, func(t *model.ExamToken) error {
		if st := t.EffectiveStatus(now); st != model.TokenStatusActive {
			return fmt.Errorf("%w: only active tokens can be renewed, token is %s", ErrTokenState, st)
		}
		t.ExpiresAt = now.Add(duration)
		return nil
	})
}

// RefreshExpired reactivates an expired token for its original lifetime
// and resets its usage count.
func (m *TokenManager) RefreshExpired(ctx context.Context, code string, now time.Time) (*model.ExamToken, error) {
	return m.mutate(ctx, code, func(t *model.ExamToken) error {
		if t.EffectiveStatus(now) != model.TokenStatusExpired {
			return fmt.Errorf("%w: only expired tokens can be refreshed, token is %s", ErrTokenState, t.EffectiveStatus(now))
		}
		lifetime := t.ExpiresAt.Sub(t.CreatedAt)
		if lifetime <= 0 {
			lifetime = m.defaults.Duration
		}
		t.ExpiresAt = now.Add(lifetime)
		t.UsedCount = 0
		t.Status = model.TokenStatusActive
		return nil
	})
}

// mutate applies fn to a locked token and saves it in one transaction.
func (m *TokenManager) mutate(ctx context.Context, code string, fn func(t *model.ExamToken) error) (*model.ExamToken, error) {
	code = NormalizeToken(code)
	var out *model.ExamToken
	err := m.store.WithTx(ctx, func(tx repository.Store) error {
		t, err := tx.Tokens().GetByTokenForUpdate(ctx, code)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("get token: %w", err)
		}
		if err := fn(t); err != nil {
			return err
		}
		if err := tx.Tokens().Save(ctx, t); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Info().
		Str("token", out.Token).
		Str("status", string(out.Status)).
		Time("expires_at", out.ExpiresAt).
		Msg("Token updated")
	return out, nil
}

// RotateExpired marks every lapsed or used-up active token as expired.
func (m *TokenManager) RotateExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := m.store.Tokens().ExpireDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire tokens: %w", err)
	}
	if n > 0 {
		m.log.Info().Int64("expired", n).Msg("Rotated expired tokens")
	}
	return n, nil
}

// ListForExam returns the tokens issued for an exam.
func (m *TokenManager) ListForExam(ctx context.Context, examID uuid.UUID) ([]model.ExamToken, error) {
	tokens, err := m.store.Tokens().ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// redeem checks code against the exam inside the start transaction. The
// exam's own access token is checked first and is not consumed. An exam
// token is consumed.
func (m *TokenManager) redeem(ctx context.Context, st repository.Store, exam *model.Exam, raw string, now time.Time) error {
	code := NormalizeToken(raw)
	if code == "" {
		return NewValidationError("access_code", "This exam requires an access token")
	}
	if !IsWellFormedToken(code) {
		return NewValidationError("access_code", "Token must be 6 characters long")
	}

	if exam.IsTokenGated() && *exam.AccessToken == code {
		if !exam.AccessTokenUsable(now) {
			return fmt.Errorf("%w: exam access token has expired", ErrTokenState)
		}
		return nil
	}

	t, err := st.Tokens().GetByToken(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	if !t.Grants(exam.ID) {
		return ErrTokenNotFound
	}
	_, err = m.consume(ctx, st, code, now)
	return err
}

// ValidateAccessCode is the read-only check behind the token validation
// endpoint. examID picks the exam when the code is a global token.
func (m *TokenManager) ValidateAccessCode(ctx context.Context, user *model.User, raw string, examID *uuid.UUID, now time.Time) (*model.TokenValidation, error) {
	code := NormalizeToken(raw)
	if len(code) != TokenLength {
		return invalid("Token must be 6 characters long"), nil
	}
	if !IsWellFormedToken(code) {
		return invalid("Token may only contain letters and digits"), nil
	}

	exam, err := m.resolveExam(ctx, code, examID, now)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return invalid(ve.Message), nil
		}
		return nil, err
	}

	completed, err := m.store.Sessions().CountCompleted(ctx, exam.ID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("count completed sessions: %w", err)
	}
	if d := CheckEligibility(user, exam, completed, now); !d.Admit {
		res := invalid(d.Message)
		res.ExamID = &exam.ID
		res.ExamTitle = exam.Title
		return res, nil
	}

	return &model.TokenValidation{
		Valid:     true,
		ExamID:    &exam.ID,
		ExamTitle: exam.Title,
		Message:   "Token validated successfully",
	}, nil
}

// resolveExam finds the exam a code grants access to. Unusable codes are
// reported as validation errors carrying the user-facing message.
func (m *TokenManager) resolveExam(ctx context.Context, code string, examID *uuid.UUID, now time.Time) (*model.Exam, error) {
	exam, err := m.store.Exams().GetByAccessToken(ctx, code)
	switch {
	case err == nil:
		if !exam.AccessTokenUsable(now) {
			return nil, NewValidationError("token", "Token has expired")
		}
		return exam, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("get exam by access token: %w", err)
	}

	t, err := m.store.Tokens().GetByToken(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewValidationError("token", "Invalid token or exam not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if !t.IsUsable(now) {
		if t.EffectiveStatus(now) == model.TokenStatusRevoked {
			return nil, NewValidationError("token", "Token has been revoked")
		}
		return nil, NewValidationError("token", "Token has expired")
	}

	target := t.ExamID
	if t.IsGlobal && examID != nil {
		target = examID
	}
	if target == nil {
		return nil, NewValidationError("exam_id", "Global token requires an exam to be selected")
	}

	exam, err = m.store.Exams().GetByID(ctx, *target)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewValidationError("token", "Invalid token or exam not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return exam, nil
}

func invalid(msg string) *model.TokenValidation {
	return &model.TokenValidation{Valid: false, Message: msg}
}
