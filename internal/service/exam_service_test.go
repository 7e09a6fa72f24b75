package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu          sync.Mutex
	data        map[uuid.UUID][]model.Question
	invalidated []uuid.UUID
}

func newMapCache() *mapCache {
	return &mapCache{data: map[uuid.UUID][]model.Question{}}
}

func (c *mapCache) Get(_ context.Context, examID uuid.UUID) ([]model.Question, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.data[examID]
	return q, ok
}

func (c *mapCache) Set(_ context.Context, examID uuid.UUID, questions []model.Question) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[examID] = questions
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, examID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, examID)
	c.invalidated = append(c.invalidated, examID)
	return nil
}

func createExamRequest() model.CreateExamRequest {
	return model.CreateExamRequest{
		Title:           "  Chemistry Midterm ",
		ExamType:        model.ExamTypeMidterm,
		StartTime:       testNow,
		EndTime:         testNow.Add(2 * time.Hour),
		DurationMinutes: 90,
		PassingScore:    70,
		MaxAttempts:     1,
	}
}

func TestCanManageExam(t *testing.T) {
	exam := &model.Exam{CreatedBy: 10}
	assert.True(t, CanManageExam(&model.User{ID: 10, Role: model.RoleTeacher}, exam))
	assert.False(t, CanManageExam(&model.User{ID: 11, Role: model.RoleTeacher}, exam))
	assert.True(t, CanManageExam(&model.User{ID: 11, Role: model.RoleAdmin}, exam))
	assert.True(t, CanManageExam(&model.User{ID: 11, Role: model.RoleSuperAdmin}, exam))
	assert.False(t, CanManageExam(&model.User{ID: 10, Role: model.RoleStudent}, exam))
}

func TestCreateExam(t *testing.T) {
	f := newFixture(t)

	exam, err := f.exams.Create(f.ctx, f.teacher, createExamRequest())
	require.NoError(t, err)
	assert.Equal(t, "Chemistry Midterm", exam.Title)
	assert.Equal(t, model.ExamStatusDraft, exam.Status)
	assert.Equal(t, f.teacher.ID, exam.CreatedBy)
	assert.NotEqual(t, uuid.Nil, exam.ExamUID)

	req := createExamRequest()
	req.EndTime = req.StartTime
	_, err = f.exams.Create(f.ctx, f.teacher, req)
	assert.True(t, IsValidation(err))
}

func TestAddQuestion(t *testing.T) {
	f := newFixture(t)
	exam, err := f.exams.Create(f.ctx, f.teacher, createExamRequest())
	require.NoError(t, err)

	valid := model.AddQuestionRequest{
		QuestionType: model.QuestionTypeSingleChoice,
		QuestionText: "2 + 2?",
		Points:       5,
		Difficulty:   model.DifficultyEasy,
		Choices: []model.AddChoiceRequest{
			{Text: "4", IsCorrect: true, Order: 1},
			{Text: "5", Order: 2},
		},
	}

	q, err := f.exams.AddQuestion(f.ctx, f.teacher, exam.ID, valid)
	require.NoError(t, err)
	assert.True(t, q.BelongsTo(exam.ID))
	assert.Equal(t, f.teacher.ID, *q.CreatedBy)
	require.Len(t, q.Choices, 2)
	assert.NotEqual(t, uuid.Nil, q.Choices[0].ID)

	tests := []struct {
		name   string
		mutate func(r *model.AddQuestionRequest)
	}{
		{name: "two correct single choice", mutate: func(r *model.AddQuestionRequest) { r.Choices[1].IsCorrect = true }},
		{name: "one choice", mutate: func(r *model.AddQuestionRequest) { r.Choices = r.Choices[:1] }},
		{name: "zero points", mutate: func(r *model.AddQuestionRequest) { r.Points = 0 }},
		{name: "unknown type", mutate: func(r *model.AddQuestionRequest) { r.QuestionType = "XX" }},
		{name: "unknown difficulty", mutate: func(r *model.AddQuestionRequest) { r.Difficulty = "brutal" }},
		{
			name: "matching pair without separator",
			mutate: func(r *model.AddQuestionRequest) {
				r.QuestionType = model.QuestionTypeMatching
				r.Choices = []model.AddChoiceRequest{{Text: "a=b", IsCorrect: true}, {Text: "cd", IsCorrect: true}}
			},
		},
		{
			name: "fill blank without accepted answer",
			mutate: func(r *model.AddQuestionRequest) {
				r.QuestionType = model.QuestionTypeFillBlank
				r.Choices = nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			req.Choices = append([]model.AddChoiceRequest(nil), valid.Choices...)
			tt.mutate(&req)
			_, err := f.exams.AddQuestion(f.ctx, f.teacher, exam.ID, req)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}

	t.Run("essay needs no choices", func(t *testing.T) {
		_, err := f.exams.AddQuestion(f.ctx, f.teacher, exam.ID, model.AddQuestionRequest{
			QuestionType: model.QuestionTypeEssay,
			QuestionText: "Discuss",
			Points:       10,
			Difficulty:   model.DifficultyHard,
		})
		require.NoError(t, err)
	})

	t.Run("other teacher", func(t *testing.T) {
		other := &model.User{Username: "other", Role: model.RoleTeacher}
		require.NoError(t, f.store.Users().Create(f.ctx, other))
		_, err := f.exams.AddQuestion(f.ctx, other, exam.ID, valid)
		assert.ErrorIs(t, err, ErrExamNotFound)
	})
}

func TestPublish(t *testing.T) {
	f := newFixture(t)
	cache := newMapCache()
	exams := NewExamService(f.store, f.tokens, cache, true, zerolog.Nop())

	exam, err := exams.Create(f.ctx, f.teacher, createExamRequest())
	require.NoError(t, err)

	_, err = exams.Publish(f.ctx, f.teacher, exam.ID)
	assert.ErrorIs(t, err, ErrNoQuestions)

	_, err = exams.AddQuestion(f.ctx, f.teacher, exam.ID, model.AddQuestionRequest{
		QuestionType: model.QuestionTypeTrueFalse,
		QuestionText: "Water boils at 100C at sea level",
		Points:       2,
		Difficulty:   model.DifficultyEasy,
		Choices: []model.AddChoiceRequest{
			{Text: "True", IsCorrect: true, Order: 1},
			{Text: "False", Order: 2},
		},
	})
	require.NoError(t, err)

	published, err := exams.Publish(f.ctx, f.teacher, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExamStatusPublished, published.Status)
	require.True(t, published.IsTokenGated())
	assert.True(t, IsWellFormedToken(*published.AccessToken))

	stored, err := f.store.Exams().GetByID(f.ctx, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, *published.AccessToken, *stored.AccessToken)
	assert.Equal(t, model.ExamStatusPublished, stored.Status)

	cached, ok := cache.Get(f.ctx, exam.ID)
	require.True(t, ok)
	assert.Len(t, cached, 1)

	_, err = exams.Publish(f.ctx, f.teacher, exam.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = exams.AddQuestion(f.ctx, f.teacher, exam.ID, model.AddQuestionRequest{
		QuestionType: model.QuestionTypeEssay, QuestionText: "late", Points: 1, Difficulty: model.DifficultyEasy,
	})
	assert.ErrorIs(t, err, ErrExamNotEditable)
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	cache := newMapCache()
	exams := NewExamService(f.store, f.tokens, cache, false, zerolog.Nop())
	exam := f.seedExam(t, nil)

	got, err := exams.SetStatus(f.ctx, f.teacher, exam.ID, model.ExamStatusOngoing)
	require.NoError(t, err)
	assert.Equal(t, model.ExamStatusOngoing, got.Status)

	_, err = exams.SetStatus(f.ctx, f.teacher, exam.ID, model.ExamStatusDraft)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err = exams.SetStatus(f.ctx, f.teacher, exam.ID, model.ExamStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.ExamStatusCompleted, got.Status)
	assert.Contains(t, cache.invalidated, exam.ID)

	_, err = exams.SetStatus(f.ctx, f.student, exam.ID, model.ExamStatusCancelled)
	assert.ErrorIs(t, err, ErrExamNotFound)
}

func TestPrewarmAllCaches(t *testing.T) {
	f := newFixture(t)
	cache := newMapCache()
	exams := NewExamService(f.store, f.tokens, cache, false, zerolog.Nop())

	withQuestions := f.seedExam(t, nil)
	f.seedQuestion(t, withQuestions, singleChoice(5))
	empty := f.seedExam(t, func(e *model.Exam) { e.Title = "Empty" })
	draft := f.seedExam(t, func(e *model.Exam) { e.Status = model.ExamStatusDraft })
	f.seedQuestion(t, draft, singleChoice(5))

	require.NoError(t, exams.PrewarmAllCaches(f.ctx))

	_, ok := cache.Get(f.ctx, withQuestions.ID)
	assert.True(t, ok)
	_, ok = cache.Get(f.ctx, empty.ID)
	assert.False(t, ok)
	_, ok = cache.Get(f.ctx, draft.ID)
	assert.False(t, ok)
}
