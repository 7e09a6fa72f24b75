package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// ExamService handles exam authoring and lifecycle.
type ExamService struct {
	store                 repository.Store
	tokens                *TokenManager
	cache                 QuestionCache
	requireTokenOnPublish bool
	log                   zerolog.Logger
}

// NewExamService creates a new ExamService. cache may be nil.
func NewExamService(
	store repository.Store,
	tokens *TokenManager,
	cache QuestionCache,
	requireTokenOnPublish bool,
	log zerolog.Logger,
) *ExamService {
	if cache == nil {
		cache = nopCache{}
	}
	return &ExamService{
		store:                 store,
		tokens:                tokens,
		cache:                 cache,
		requireTokenOnPublish: requireTokenOnPublish,
		log:                   log.With().Str("component", "exam").Logger(),
	}
}

// CanManageExam reports whether user may administer the exam. Admins manage
// every exam, teachers only their own.
func CanManageExam(user *model.User, exam *model.Exam) bool {
	switch user.Role {
	case model.RoleAdmin, model.RoleSuperAdmin:
		return true
	case model.RoleTeacher:
		return exam.CreatedBy == user.ID
	}
	return false
}

// Get retrieves an exam the user may manage.
func (s *ExamService) Get(ctx context.Context, actor *model.User, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.store.Exams().GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if !CanManageExam(actor, exam) {
		return nil, ErrExamNotFound
	}
	return exam, nil
}

// Create stores a new draft exam owned by author.
func (s *ExamService) Create(ctx context.Context, author *model.User, req model.CreateExamRequest) (*model.Exam, error) {
	if !req.EndTime.After(req.StartTime) {
		return nil, NewValidationError("end_time", "must be after start_time")
	}

	exam := &model.Exam{
		Title:                 strings.TrimSpace(req.Title),
		Description:           req.Description,
		ExamType:              req.ExamType,
		Status:                model.ExamStatusDraft,
		StartTime:             req.StartTime,
		EndTime:               req.EndTime,
		ResultPublishTime:     req.ResultPublishTime,
		DurationMinutes:       req.DurationMinutes,
		PassingScore:          req.PassingScore,
		MaxAttempts:           req.MaxAttempts,
		ShuffleQuestions:      req.ShuffleQuestions,
		ShuffleChoices:        req.ShuffleChoices,
		AllowBackNavigation:   req.AllowBackNavigation,
		ShowResultImmediately: req.ShowResultImmediately,
		CreatedBy:             author.ID,
		AllowedDepartments:    req.AllowedDepartments,
		AllowedUsers:          req.AllowedUsers,
	}
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		return tx.Exams().Create(ctx, exam)
	})
	if err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Int("author_id", author.ID).
		Msg("Exam created")
	return exam, nil
}

// AddQuestion attaches a question to a draft exam.
func (s *ExamService) AddQuestion(ctx context.Context, author *model.User, examID uuid.UUID, req model.AddQuestionRequest) (*model.Question, error) {
	exam, err := s.Get(ctx, author, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusDraft {
		return nil, ErrExamNotEditable
	}

	q := &model.Question{
		ExamID:       &exam.ID,
		QuestionType: req.QuestionType,
		QuestionText: req.QuestionText,
		Explanation:  req.Explanation,
		Media:        req.Media,
		Points:       req.Points,
		Difficulty:   req.Difficulty,
		IsActive:     true,
		CreatedBy:    &author.ID,
	}
	for _, c := range req.Choices {
		q.Choices = append(q.Choices, model.Choice{Text: c.Text, IsCorrect: c.IsCorrect, Order: c.Order})
	}
	if err := ValidateQuestion(q); err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		return tx.Questions().Create(ctx, q)
	})
	if err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}

// ValidateQuestion checks the data model rules every stored question obeys,
// whether it was authored here or imported.
func ValidateQuestion(q *model.Question) error {
	if !q.QuestionType.Valid() {
		return NewValidationError("question_type", "unknown question type")
	}
	if q.Points < 1 {
		return NewValidationError("points", "must be at least 1")
	}
	if !q.Difficulty.Valid() {
		return NewValidationError("difficulty", "must be easy, medium or hard")
	}
	if q.ExamID == nil && q.QuestionBankID == nil {
		return NewValidationError("exam_id", "question must belong to an exam or a question bank")
	}

	correct := len(q.CorrectChoices())
	switch q.QuestionType {
	case model.QuestionTypeSingleChoice, model.QuestionTypeTrueFalse:
		if len(q.Choices) < 2 {
			return NewValidationError("choices", "needs at least two choices")
		}
		if correct != 1 {
			return NewValidationError("choices", "needs exactly one correct choice")
		}
	case model.QuestionTypeMultiChoice:
		if len(q.Choices) < 2 {
			return NewValidationError("choices", "needs at least two choices")
		}
		if correct < 1 {
			return NewValidationError("choices", "needs at least one correct choice")
		}
	case model.QuestionTypeFillBlank:
		if correct < 1 {
			return NewValidationError("choices", "needs at least one accepted answer")
		}
	case model.QuestionTypeMatching:
		if correct < 2 {
			return NewValidationError("choices", "needs at least two pairs")
		}
		for _, c := range q.CorrectChoices() {
			if !strings.Contains(c.Text, MatchingPairSeparator) {
				return NewValidationError("choices", "matching pairs are written as left=right")
			}
		}
	case model.QuestionTypeOrdering:
		if len(q.Choices) < 2 {
			return NewValidationError("choices", "needs at least two items")
		}
	}
	return nil
}

// Publish moves a draft exam to published, generating its access token when
// required, and warms the question cache.
func (s *ExamService) Publish(ctx context.Context, actor *model.User, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.Get(ctx, actor, examID)
	if err != nil {
		return nil, err
	}
	if !exam.Status.CanTransitionTo(model.ExamStatusPublished) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, exam.Status, model.ExamStatusPublished)
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		questions, err := tx.Questions().ListByExam(ctx, exam.ID)
		if err != nil {
			return fmt.Errorf("list questions: %w", err)
		}
		if len(questions) == 0 {
			return ErrNoQuestions
		}
		if s.requireTokenOnPublish && !exam.IsTokenGated() {
			code, err := s.tokens.GenerateExamAccessToken(ctx, tx, exam.ID, &exam.EndTime)
			if err != nil {
				return err
			}
			exam.AccessToken = &code
			exam.TokenExpiry = &exam.EndTime
		}
		if err := tx.Exams().UpdateStatus(ctx, exam.ID, model.ExamStatusPublished); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		exam.Status = model.ExamStatusPublished
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to warm exam cache")
	}
	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Int("actor_id", actor.ID).
		Bool("token_gated", exam.IsTokenGated()).
		Msg("Exam published")
	return exam, nil
}

// SetStatus applies an explicit status transition.
func (s *ExamService) SetStatus(ctx context.Context, actor *model.User, examID uuid.UUID, status model.ExamStatus) (*model.Exam, error) {
	if status == model.ExamStatusPublished {
		return s.Publish(ctx, actor, examID)
	}
	exam, err := s.Get(ctx, actor, examID)
	if err != nil {
		return nil, err
	}
	if !exam.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, exam.Status, status)
	}
	if err := s.store.Exams().UpdateStatus(ctx, exam.ID, status); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	exam.Status = status

	if status == model.ExamStatusCompleted || status == model.ExamStatusCancelled || status == model.ExamStatusDraft {
		if err := s.cache.Invalidate(ctx, exam.ID); err != nil {
			s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to invalidate exam cache")
		}
	}
	return exam, nil
}

// WarmExamCache loads the exam's questions into the cache.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	questions, err := s.store.Questions().ListByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}
	if err := s.cache.Set(ctx, exam.ID, questions); err != nil {
		return fmt.Errorf("cache questions: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches warms the cache of every published exam. Used at startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.store.Exams().ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}
	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// Now is the clock handlers pass into services.
func Now() time.Time {
	return time.Now().UTC()
}
