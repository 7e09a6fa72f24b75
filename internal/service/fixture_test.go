package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository/memstore"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx         context.Context
	store       *memstore.Store
	tokens      *TokenManager
	eligibility *EligibilityService
	sessions    *SessionService
	exams       *ExamService
	reports     *ReportService
	teacher     *model.User
	student     *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	log := zerolog.Nop()

	tokens := NewTokenManager(store, TokenDefaults{Duration: 15 * time.Minute, MaxUsage: 100}, log)
	elig := NewEligibilityService(store, log)
	sessions := NewSessionService(store, tokens, elig, nil, nil, nil, log)
	// Keep question and option order stable so tests can reason about indexes.
	sessions.shuffle = func(int, func(i, j int)) {}

	f := &fixture{
		ctx:         ctx,
		store:       store,
		tokens:      tokens,
		eligibility: elig,
		sessions:    sessions,
		exams:       NewExamService(store, tokens, nil, false, log),
		reports:     NewReportService(store, log),
		teacher:     &model.User{Username: "teacher", FullName: "Teacher", Role: model.RoleTeacher, IsActive: true},
		student:     &model.User{Username: "student", FullName: "Student", Role: model.RoleStudent, IsActive: true},
	}
	require.NoError(t, store.Users().Create(ctx, f.teacher))
	require.NoError(t, store.Users().Create(ctx, f.student))
	return f
}

func (f *fixture) newStudent(t *testing.T, username string) *model.User {
	t.Helper()
	u := &model.User{Username: username, FullName: username, Role: model.RoleStudent, IsActive: true}
	require.NoError(t, f.store.Users().Create(f.ctx, u))
	return u
}

// seedExam stores a published exam open around testNow. mutate may adjust
// it before it is stored.
func (f *fixture) seedExam(t *testing.T, mutate func(e *model.Exam)) *model.Exam {
	t.Helper()
	e := &model.Exam{
		Title:                 "Physics Quiz",
		ExamType:              model.ExamTypeQuiz,
		Status:                model.ExamStatusPublished,
		StartTime:             testNow.Add(-time.Hour),
		EndTime:               testNow.Add(3 * time.Hour),
		DurationMinutes:       60,
		PassingScore:          60,
		MaxAttempts:           1,
		AllowBackNavigation:   true,
		ShowResultImmediately: true,
		CreatedBy:             f.teacher.ID,
	}
	if mutate != nil {
		mutate(e)
	}
	require.NoError(t, f.store.Exams().Create(f.ctx, e))
	return e
}

func (f *fixture) seedQuestion(t *testing.T, exam *model.Exam, q model.Question) *model.Question {
	t.Helper()
	q.ExamID = &exam.ID
	q.IsActive = true
	if q.Difficulty == "" {
		q.Difficulty = model.DifficultyMedium
	}
	if q.Points == 0 {
		q.Points = 5
	}
	require.NoError(t, f.store.Questions().Create(f.ctx, &q))
	return &q
}

func singleChoice(points int) model.Question {
	return model.Question{
		QuestionType: model.QuestionTypeSingleChoice,
		QuestionText: "Pick the right one",
		Points:       points,
		Choices: []model.Choice{
			{Text: "right", IsCorrect: true, Order: 1},
			{Text: "wrong", Order: 2},
		},
	}
}

func essay(points int) model.Question {
	return model.Question{
		QuestionType: model.QuestionTypeEssay,
		QuestionText: "Explain",
		Points:       points,
	}
}

func correctChoice(q *model.Question) *model.Choice {
	for i := range q.Choices {
		if q.Choices[i].IsCorrect {
			return &q.Choices[i]
		}
	}
	return nil
}

func wrongChoice(q *model.Question) *model.Choice {
	for i := range q.Choices {
		if !q.Choices[i].IsCorrect {
			return &q.Choices[i]
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }

type constReader byte

func (r constReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}
