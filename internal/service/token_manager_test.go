package service

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomToken(t *testing.T) {
	t.Run("skips bytes above the uniform ceiling", func(t *testing.T) {
		r := bytes.NewReader([]byte{255, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
		code, err := randomToken(r)
		require.NoError(t, err)
		assert.Equal(t, "ABCDEF", code)
	})

	t.Run("wraps around the alphabet", func(t *testing.T) {
		r := bytes.NewReader([]byte{36, 37, 61, 62, 35, 71, 0, 0, 0, 0, 0, 0})
		code, err := randomToken(r)
		require.NoError(t, err)
		assert.Equal(t, "ABZ099", code)
	})

	t.Run("short reader fails", func(t *testing.T) {
		_, err := randomToken(bytes.NewReader([]byte{1, 2}))
		assert.Error(t, err)
	})
}

func TestNormalizeAndShape(t *testing.T) {
	assert.Equal(t, "AB12CD", NormalizeToken("  ab12cd "))
	assert.True(t, IsWellFormedToken("AB12CD"))
	assert.False(t, IsWellFormedToken("AB12C"))
	assert.False(t, IsWellFormedToken("AB12C!"))
	assert.False(t, IsWellFormedToken("ab12cd"))
}

func TestGenerateExhaustsRetryBudget(t *testing.T) {
	tests := []struct {
		name string
		seed func(f *fixture, t *testing.T)
	}{
		{
			name: "collides with exam token",
			seed: func(f *fixture, t *testing.T) {
				require.NoError(t, f.store.Tokens().Create(f.ctx, &model.ExamToken{
					Token: "AAAAAA", IsGlobal: true, Status: model.TokenStatusActive,
					CreatedAt: testNow, ExpiresAt: testNow.Add(time.Hour), MaxUsage: 1,
				}))
			},
		},
		{
			name: "collides with exam access token",
			seed: func(f *fixture, t *testing.T) {
				f.seedExam(t, func(e *model.Exam) { e.AccessToken = strPtr("AAAAAA") })
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.seed(f, t)
			f.tokens.random = constReader(0)

			_, err := f.tokens.Generate(f.ctx)
			assert.ErrorIs(t, err, ErrTokenSpaceExhausted)
		})
	}
}

func TestCreateToken(t *testing.T) {
	f := newFixture(t)
	exam := f.seedExam(t, nil)

	t.Run("applies defaults", func(t *testing.T) {
		tok, err := f.tokens.Create(f.ctx, CreateTokenParams{ExamID: &exam.ID, IssuerID: f.teacher.ID}, testNow)
		require.NoError(t, err)
		assert.True(t, IsWellFormedToken(tok.Token))
		assert.Equal(t, model.TokenStatusActive, tok.Status)
		assert.Equal(t, testNow.Add(15*time.Minute), tok.ExpiresAt)
		assert.Equal(t, 100, tok.MaxUsage)
		assert.Zero(t, tok.UsedCount)
	})

	t.Run("requires an exam unless global", func(t *testing.T) {
		_, err := f.tokens.Create(f.ctx, CreateTokenParams{IssuerID: f.teacher.ID}, testNow)
		assert.True(t, IsValidation(err))
	})

	t.Run("unknown exam", func(t *testing.T) {
		id := uuid.New()
		_, err := f.tokens.Create(f.ctx, CreateTokenParams{ExamID: &id}, testNow)
		assert.ErrorIs(t, err, ErrExamNotFound)
	})

	t.Run("global token", func(t *testing.T) {
		tok, err := f.tokens.Create(f.ctx, CreateTokenParams{IsGlobal: true, Duration: time.Hour, MaxUsage: 3}, testNow)
		require.NoError(t, err)
		assert.True(t, tok.Grants(exam.ID))
		assert.True(t, tok.Grants(uuid.New()))
	})
}

func TestConsumeSingleUseToken(t *testing.T) {
	f := newFixture(t)
	exam := f.seedExam(t, nil)
	tok, err := f.tokens.Create(f.ctx, CreateTokenParams{ExamID: &exam.ID, MaxUsage: 1}, testNow)
	require.NoError(t, err)

	used, err := f.tokens.Consume(f.ctx, tok.Token, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, used.UsedCount)
	assert.Equal(t, model.TokenStatusExpired, used.Status)

	_, err = f.tokens.Consume(f.ctx, tok.Token, testNow)
	assert.ErrorIs(t, err, ErrTokenState)

	ok, err := f.tokens.IsValid(f.ctx, tok.Token, testNow)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeUnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.tokens.Consume(f.ctx, "ZZZZZZ", testNow)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestConsumeLapsedToken(t *testing.T) {
	f := newFixture(t)
	tok, err := f.tokens.Create(f.ctx, CreateTokenParams{IsGlobal: true, Duration: time.Minute}, testNow)
	require.NoError(t, err)

	ok, err := f.tokens.IsValid(f.ctx, tok.Token, testNow.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.tokens.Consume(f.ctx, tok.Token, testNow.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrTokenState)
}

func TestRenewRevoke(t *testing.T) {
	f := newFixture(t)
	tok, err := f.tokens.Create(f.ctx, CreateTokenParams{IsGlobal: true, Duration: 10 * time.Minute}, testNow)
	require.NoError(t, err)

	later := testNow.Add(5 * time.Minute)
	renewed, err := f.tokens.Renew(f.ctx, tok.Token, 30*time.Minute, later)
	require.NoError(t, err)
	assert.Equal(t, later.Add(30*time.Minute), renewed.ExpiresAt)

	_, err = f.tokens.Renew(f.ctx, tok.Token, 0, later)
	assert.True(t, IsValidation(err))

	revoked, err := f.tokens.Revoke(f.ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusRevoked, revoked.Status)

	_, err = f.tokens.Revoke(f.ctx, tok.Token)
	assert.NoError(t, err, "revoking twice is a no-op")

	_, err = f.tokens.Renew(f.ctx, tok.Token, time.Minute, later)
	assert.ErrorIs(t, err, ErrTokenState)

	_, err = f.tokens.Revoke(f.ctx, "NOPE00")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRenewLapsedTokenNeedsRefresh(t *testing.T) {
	f := newFixture(t)
	tok, err := f.tokens.Create(f.ctx, CreateTokenParams{IsGlobal: true, Duration: 10 * time.Minute}, testNow)
	require.NoError(t, err)

	later := testNow.Add(time.Hour)
	_, err = f.tokens.Renew(f.ctx, tok.Token, 30*time.Minute, later)
	assert.ErrorIs(t, err, ErrTokenState)

	ok, err := f.tokens.IsValid(f.ctx, tok.Token, later)
	require.NoError(t, err)
	assert.False(t, ok)

	refreshed, err := f.tokens.RefreshExpired(f.ctx, tok.Token, later)
	require.NoError(t, err)
	assert.True(t, refreshed.IsUsable(later))
}

func TestRefreshExpired(t *testing.T) {
	f := newFixture(t)
	tok, err := f.tokens.Create(f.ctx, CreateTokenParams{IsGlobal: true, Duration: 10 * time.Minute, MaxUsage: 2}, testNow)
	require.NoError(t, err)
	_, err = f.tokens.Consume(f.ctx, tok.Token, testNow)
	require.NoError(t, err)

	_, err = f.tokens.RefreshExpired(f.ctx, tok.Token, testNow)
	assert.ErrorIs(t, err, ErrTokenState, "an active token cannot be refreshed")

	later := testNow.Add(11 * time.Minute)
	refreshed, err := f.tokens.RefreshExpired(f.ctx, tok.Token, later)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusActive, refreshed.Status)
	assert.Equal(t, later.Add(10*time.Minute), refreshed.ExpiresAt)
	assert.Zero(t, refreshed.UsedCount)
	assert.True(t, refreshed.IsUsable(later))
}

func TestRotateExpired(t *testing.T) {
	f := newFixture(t)
	short, err := f.tokens.Create(f.ctx, CreateTokenParams{IsGlobal: true, Duration: time.Minute}, testNow)
	require.NoError(t, err)
	long, err := f.tokens.Create(f.ctx, CreateTokenParams{IsGlobal: true, Duration: time.Hour}, testNow)
	require.NoError(t, err)

	n, err := f.tokens.RotateExpired(f.ctx, testNow.Add(5*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := f.store.Tokens().GetByToken(f.ctx, short.Token)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusExpired, got.Status)

	got, err = f.store.Tokens().GetByToken(f.ctx, long.Token)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusActive, got.Status)

	n, err = f.tokens.RotateExpired(f.ctx, testNow.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestValidateAccessCode(t *testing.T) {
	f := newFixture(t)
	exam := f.seedExam(t, nil)
	gated := f.seedExam(t, func(e *model.Exam) { e.Title = "Gated"; e.AccessToken = strPtr("GATE01") })

	examTok, err := f.tokens.Create(f.ctx, CreateTokenParams{ExamID: &exam.ID}, testNow)
	require.NoError(t, err)
	globalTok, err := f.tokens.Create(f.ctx, CreateTokenParams{IsGlobal: true}, testNow)
	require.NoError(t, err)
	expiredTok, err := f.tokens.Create(f.ctx, CreateTokenParams{ExamID: &exam.ID, Duration: time.Minute}, testNow.Add(-time.Hour))
	require.NoError(t, err)
	revokedTok, err := f.tokens.Create(f.ctx, CreateTokenParams{ExamID: &exam.ID}, testNow)
	require.NoError(t, err)
	_, err = f.tokens.Revoke(f.ctx, revokedTok.Token)
	require.NoError(t, err)

	tests := []struct {
		name    string
		code    string
		examID  *uuid.UUID
		valid   bool
		message string
		wantID  *uuid.UUID
	}{
		{name: "too short", code: "ABC", message: "Token must be 6 characters long"},
		{name: "too long", code: "ABCDEFG", message: "Token must be 6 characters long"},
		{name: "unknown", code: "ZZZZZZ", message: "Invalid token or exam not found"},
		{name: "expired", code: expiredTok.Token, message: "Token has expired"},
		{name: "revoked", code: revokedTok.Token, message: "Token has been revoked"},
		{name: "global without exam", code: globalTok.Token, message: "Global token requires an exam to be selected"},
		{name: "global with exam", code: globalTok.Token, examID: &exam.ID, valid: true, message: "Token validated successfully", wantID: &exam.ID},
		{name: "exam token lowercase", code: " " + strings.ToLower(examTok.Token) + " ", valid: true, message: "Token validated successfully", wantID: &exam.ID},
		{name: "exam access token", code: "gate01", valid: true, message: "Token validated successfully", wantID: &gated.ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.tokens.ValidateAccessCode(f.ctx, f.student, tt.code, tt.examID, testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid)
			assert.Equal(t, tt.message, res.Message)
			if tt.wantID != nil {
				require.NotNil(t, res.ExamID)
				assert.Equal(t, *tt.wantID, *res.ExamID)
			}
		})
	}

	t.Run("validation never consumes", func(t *testing.T) {
		got, err := f.store.Tokens().GetByToken(f.ctx, examTok.Token)
		require.NoError(t, err)
		assert.Zero(t, got.UsedCount)
	})

	t.Run("eligibility denial is reported", func(t *testing.T) {
		closed := f.seedExam(t, func(e *model.Exam) { e.Status = model.ExamStatusDraft })
		tok, err := f.tokens.Create(f.ctx, CreateTokenParams{ExamID: &closed.ID}, testNow)
		require.NoError(t, err)

		res, err := f.tokens.ValidateAccessCode(f.ctx, f.student, tok.Token, nil, testNow)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, "This exam is not available.", res.Message)
	})
}
