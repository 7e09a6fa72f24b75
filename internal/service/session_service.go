package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// QuestionCache holds an exam's question payload between requests.
type QuestionCache interface {
	Get(ctx context.Context, examID uuid.UUID) ([]model.Question, bool)
	Set(ctx context.Context, examID uuid.UUID, questions []model.Question) error
	Invalidate(ctx context.Context, examID uuid.UUID) error
}

// EventPublisher broadcasts session lifecycle events to monitors.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, evt model.SessionEvent) error
}

// RegradeQueue schedules finalized sessions for background recalculation.
type RegradeQueue interface {
	EnqueueRegrade(ctx context.Context, sessionIDs ...uuid.UUID) error
}

type nopCache struct{}

func (nopCache) Get(context.Context, uuid.UUID) ([]model.Question, bool) { return nil, false }
func (nopCache) Set(context.Context, uuid.UUID, []model.Question) error { return nil }
func (nopCache) Invalidate(context.Context, uuid.UUID) error            { return nil }

type nopPublisher struct{}

func (nopPublisher) PublishSessionEvent(context.Context, model.SessionEvent) error { return nil }

// SessionService drives an exam attempt from start to finalize.
type SessionService struct {
	store       repository.Store
	tokens      *TokenManager
	eligibility *EligibilityService
	cache       QuestionCache
	events      EventPublisher
	regrade     RegradeQueue
	shuffle     func(n int, swap func(i, j int))
	log         zerolog.Logger
}

// NewSessionService creates a new SessionService. cache and events may be nil.
func NewSessionService(
	store repository.Store,
	tokens *TokenManager,
	eligibility *EligibilityService,
	cache QuestionCache,
	events EventPublisher,
	regrade RegradeQueue,
	log zerolog.Logger,
) *SessionService {
	if cache == nil {
		cache = nopCache{}
	}
	if events == nil {
		events = nopPublisher{}
	}
	return &SessionService{
		store:       store,
		tokens:      tokens,
		eligibility: eligibility,
		cache:       cache,
		events:      events,
		regrade:     regrade,
		shuffle:     rand.Shuffle,
		log:         log.With().Str("component", "session").Logger(),
	}
}

// StartParams carries request metadata for Start.
type StartParams struct {
	AccessCode string
	IPAddress  string
	UserAgent  string
}

// Start resumes the user's open attempt at the exam or creates a new one.
// A new attempt requires an eligibility admit and, for token-gated exams,
// a valid access code.
func (s *SessionService) Start(ctx context.Context, user *model.User, examID uuid.UUID, p StartParams, now time.Time) (*model.StartExamResponse, error) {
	if err := s.expireOpenSession(ctx, examID, user.ID, now); err != nil {
		return nil, err
	}

	var (
		sess    *model.ExamSession
		exam    *model.Exam
		resumed bool
	)
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		d, e, completed, err := s.eligibility.evaluate(ctx, tx, user, examID, now)
		if err != nil {
			return err
		}
		if !d.Admit {
			return &EligibilityError{Decision: d}
		}
		exam = e

		open, err := tx.Sessions().FindOpen(ctx, examID, user.ID)
		switch {
		case err == nil:
			sess, resumed = open, true
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("find open session: %w", err)
		}

		if exam.IsTokenGated() || p.AccessCode != "" {
			if err := s.tokens.redeem(ctx, tx, exam, p.AccessCode, now); err != nil {
				return err
			}
		}

		questions, err := s.questions(ctx, tx, exam.ID)
		if err != nil {
			return err
		}
		order := make([]uuid.UUID, len(questions))
		for i, q := range questions {
			order[i] = q.ID
		}
		if exam.ShuffleQuestions {
			s.shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		sess = &model.ExamSession{
			ExamID:         exam.ID,
			UserID:         user.ID,
			AttemptNumber:  completed + 1,
			Status:         model.SessionStatusInProgress,
			GradingStatus:  model.GradingStatusPending,
			StartTime:      now,
			TotalQuestions: len(order),
			QuestionOrder:  order,
			IPAddress:      p.IPAddress,
			UserAgent:      p.UserAgent,
		}
		if err := tx.Sessions().Create(ctx, sess); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrDuplicateSession
			}
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})

	if errors.Is(err, ErrDuplicateSession) {
		// A concurrent start won the race; resume its session.
		open, ferr := s.store.Sessions().FindOpen(ctx, examID, user.ID)
		if ferr != nil {
			return nil, err
		}
		e, ferr := s.exam(ctx, s.store, examID)
		if ferr != nil {
			return nil, ferr
		}
		sess, exam, resumed, err = open, e, true, nil
	}
	if err != nil {
		return nil, err
	}

	evt := model.SessionEventStarted
	if resumed {
		evt = model.SessionEventResumed
	}
	s.publish(ctx, sess, evt, nil)
	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("exam_id", exam.ID.String()).
		Int("user_id", user.ID).
		Int("attempt", sess.AttemptNumber).
		Bool("resumed", resumed).
		Msg("Session started")

	questions, err := s.questions(ctx, s.store, exam.ID)
	if err != nil {
		return nil, err
	}
	return &model.StartExamResponse{
		Session:   sess,
		Resumed:   resumed,
		Deadline:  sess.Deadline(exam),
		Questions: s.render(exam, sess.QuestionOrder, questions),
	}, nil
}

// expireOpenSession finalizes the user's open attempt when it has run out of
// time. It commits on its own so a later denial cannot undo the timeout.
func (s *SessionService) expireOpenSession(ctx context.Context, examID uuid.UUID, userID int, now time.Time) error {
	var expired *model.ExamSession
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		open, err := tx.Sessions().FindOpen(ctx, examID, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find open session: %w", err)
		}
		exam, err := s.exam(ctx, tx, examID)
		if err != nil {
			return err
		}
		if !open.IsTimedOut(exam, now) {
			return nil
		}
		if err := s.finalize(ctx, tx, open, exam, model.SessionStatusTimeout, now); err != nil {
			return err
		}
		expired = open
		return nil
	})
	if err != nil {
		return err
	}
	if expired != nil {
		s.publish(ctx, expired, model.SessionEventFinalized, nil)
	}
	return nil
}

// QuestionSet returns the session's questions in the order they were shown.
func (s *SessionService) QuestionSet(ctx context.Context, user *model.User, sessionID uuid.UUID) ([]model.QuestionForStudent, error) {
	sess, err := s.ownedSession(ctx, s.store, user, sessionID, false)
	if err != nil {
		return nil, err
	}
	exam, err := s.exam(ctx, s.store, sess.ExamID)
	if err != nil {
		return nil, err
	}
	questions, err := s.questions(ctx, s.store, exam.ID)
	if err != nil {
		return nil, err
	}
	return s.render(exam, sess.QuestionOrder, questions), nil
}

// Get returns a session visible to user. Students only see their own
// sessions, and only see the score once results are visible.
func (s *SessionService) Get(ctx context.Context, user *model.User, sessionID uuid.UUID, now time.Time) (*model.ExamSession, error) {
	sess, err := s.store.Sessions().GetByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	exam, err := s.exam(ctx, s.store, sess.ExamID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != user.ID && !CanManageExam(user, exam) {
		return nil, ErrSessionNotFound
	}
	if sess.UserID == user.ID && !user.Role.IsStaff() {
		hideUnpublishedScore(sess, exam, now)
	}
	return sess, nil
}

// ListForUser returns the user's sessions, newest first. Scores of exams
// whose results are not yet published are hidden.
func (s *SessionService) ListForUser(ctx context.Context, user *model.User, now time.Time) ([]model.ExamSession, error) {
	sessions, err := s.store.Sessions().ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	exams := make(map[uuid.UUID]*model.Exam)
	for i := range sessions {
		exam, ok := exams[sessions[i].ExamID]
		if !ok {
			exam, err = s.exam(ctx, s.store, sessions[i].ExamID)
			if err != nil {
				return nil, err
			}
			exams[exam.ID] = exam
		}
		hideUnpublishedScore(&sessions[i], exam, now)
	}
	return sessions, nil
}

// RecordAnswer saves one answer of an open session and accumulates time.
// Answers are graded at finalize, not here.
func (s *SessionService) RecordAnswer(ctx context.Context, user *model.User, sessionID uuid.UUID, in model.AnswerInput, timeSpentDelta int, now time.Time) (*model.UserAnswer, error) {
	if timeSpentDelta < 0 {
		return nil, NewValidationError("time_spent_delta", "must not be negative")
	}

	var (
		saved    *model.UserAnswer
		sess     *model.ExamSession
		timedOut bool
	)
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var exam *model.Exam
		var err error
		sess, exam, err = s.lockOpenSession(ctx, tx, user, sessionID)
		if err != nil {
			return err
		}
		if sess.IsTimedOut(exam, now) {
			timedOut = true
			return s.finalize(ctx, tx, sess, exam, model.SessionStatusTimeout, now)
		}

		q, err := tx.Questions().GetByID(ctx, in.QuestionID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrQuestionNotInExam
		}
		if err != nil {
			return fmt.Errorf("get question: %w", err)
		}
		idx := sess.QuestionIndex(q.ID)
		if !q.BelongsTo(sess.ExamID) || idx < 0 {
			return ErrQuestionNotInExam
		}
		if !exam.AllowBackNavigation && idx < sess.CurrentIndex {
			return ErrBackNavigation
		}

		a, err := buildAnswer(q, sess.ID, in, now)
		if err != nil {
			return err
		}
		a.TimeSpent = timeSpentDelta
		if err := tx.Answers().Upsert(ctx, a); err != nil {
			return fmt.Errorf("save answer: %w", err)
		}

		sess.TimeSpent += timeSpentDelta
		if idx > sess.CurrentIndex {
			sess.CurrentIndex = idx
		}
		if err := tx.Sessions().UpdateProgress(ctx, sess.ID, sess.TimeSpent, sess.CurrentIndex); err != nil {
			if errors.Is(err, repository.ErrStaleState) {
				return ErrAlreadyFinalized
			}
			return fmt.Errorf("update progress: %w", err)
		}
		saved = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	if timedOut {
		s.publish(ctx, sess, model.SessionEventFinalized, nil)
		return nil, ErrSessionTimedOut
	}

	s.publish(ctx, sess, model.SessionEventAnswered, &saved.QuestionID)
	return saved, nil
}

// Submit persists the final answers and finalizes the session in one
// transaction. A second submit is rejected and changes nothing.
func (s *SessionService) Submit(ctx context.Context, user *model.User, sessionID uuid.UUID, req model.SubmitExamRequest, now time.Time) (*model.ExamSession, error) {
	if req.TimeSpentSeconds < 0 {
		return nil, NewValidationError("time_spent_seconds", "must not be negative")
	}

	var (
		sess     *model.ExamSession
		exam     *model.Exam
		timedOut bool
	)
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		sess, exam, err = s.lockOpenSession(ctx, tx, user, sessionID)
		if err != nil {
			return err
		}
		if sess.IsTimedOut(exam, now) {
			timedOut = true
			return s.finalize(ctx, tx, sess, exam, model.SessionStatusTimeout, now)
		}

		questions, err := s.sessionQuestions(ctx, tx, sess)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*model.Question, len(questions))
		for i := range questions {
			byID[questions[i].ID] = &questions[i]
		}

		for _, in := range req.Answers {
			q, ok := byID[in.QuestionID]
			if !ok {
				return ErrQuestionNotInExam
			}
			a, err := buildAnswer(q, sess.ID, in, now)
			if err != nil {
				return err
			}
			if err := tx.Answers().Upsert(ctx, a); err != nil {
				return fmt.Errorf("save answer: %w", err)
			}
		}

		if req.TimeSpentSeconds > sess.TimeSpent {
			sess.TimeSpent = req.TimeSpentSeconds
		}
		return s.finalize(ctx, tx, sess, exam, model.SessionStatusCompleted, now)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, sess, model.SessionEventFinalized, nil)
	if timedOut {
		return nil, ErrSessionTimedOut
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Int("user_id", user.ID).
		Str("status", string(sess.Status)).
		Float64("score", derefScore(sess.Score)).
		Msg("Session submitted")

	if !user.Role.IsStaff() {
		hideUnpublishedScore(sess, exam, now)
	}
	return sess, nil
}

// Terminate force-finishes an open session on behalf of staff.
func (s *SessionService) Terminate(ctx context.Context, actor *model.User, sessionID uuid.UUID, reason string, now time.Time) (*model.ExamSession, error) {
	var sess *model.ExamSession
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		sess, err = tx.Sessions().GetByIDForUpdate(ctx, sessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		exam, err := s.exam(ctx, tx, sess.ExamID)
		if err != nil {
			return err
		}
		if !CanManageExam(actor, exam) {
			return ErrSessionNotFound
		}
		if sess.Status.IsTerminal() {
			return ErrAlreadyFinalized
		}
		return s.finalize(ctx, tx, sess, exam, model.SessionStatusTerminated, now)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, sess, model.SessionEventFinalized, nil)
	s.log.Warn().
		Str("session_id", sess.ID.String()).
		Int("actor_id", actor.ID).
		Str("reason", reason).
		Msg("Session terminated")
	return sess, nil
}

// Recalculate rescores a finalized session. Running it again without new
// grades yields the same result.
func (s *SessionService) Recalculate(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error) {
	var sess *model.ExamSession
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		sess, err = tx.Sessions().GetByIDForUpdate(ctx, sessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		if !sess.Status.IsTerminal() {
			return ErrSessionNotFinalized
		}
		return s.rescore(ctx, tx, sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// RecalculateAsStaff is Recalculate with an exam ownership check.
func (s *SessionService) RecalculateAsStaff(ctx context.Context, actor *model.User, sessionID uuid.UUID) (*model.ExamSession, error) {
	if err := s.checkManages(ctx, actor, sessionID); err != nil {
		return nil, err
	}
	return s.Recalculate(ctx, sessionID)
}

// EnqueueExamRegrade schedules every finalized session of an exam for
// recalculation and returns how many were queued.
func (s *SessionService) EnqueueExamRegrade(ctx context.Context, actor *model.User, examID uuid.UUID) (int, error) {
	exam, err := s.exam(ctx, s.store, examID)
	if err != nil {
		return 0, err
	}
	if !CanManageExam(actor, exam) {
		return 0, ErrExamNotFound
	}
	ids, err := s.store.Sessions().ListFinalizedIDsByExam(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("list finalized sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if s.regrade == nil {
		for _, id := range ids {
			if _, err := s.Recalculate(ctx, id); err != nil {
				return 0, err
			}
		}
		return len(ids), nil
	}
	if err := s.regrade.EnqueueRegrade(ctx, ids...); err != nil {
		return 0, fmt.Errorf("enqueue regrade: %w", err)
	}
	return len(ids), nil
}

// GradeAnswer records a human grade for an answer without an automated key
// and rescores its session in the same transaction.
func (s *SessionService) GradeAnswer(ctx context.Context, grader *model.User, answerID uuid.UUID, points float64, now time.Time) (*model.ExamSession, error) {
	var sess *model.ExamSession
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		a, err := tx.Answers().GetByID(ctx, answerID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAnswerNotFound
		}
		if err != nil {
			return fmt.Errorf("get answer: %w", err)
		}
		sess, err = tx.Sessions().GetByIDForUpdate(ctx, a.SessionID)
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		exam, err := s.exam(ctx, tx, sess.ExamID)
		if err != nil {
			return err
		}
		if !CanManageExam(grader, exam) {
			return ErrAnswerNotFound
		}
		if !sess.Status.IsTerminal() {
			return ErrSessionNotFinalized
		}

		q, err := tx.Questions().GetByID(ctx, a.QuestionID)
		if err != nil {
			return fmt.Errorf("get question: %w", err)
		}
		// Objective and empty answers are scored automatically.
		if _, gradable := GradeObjective(q, a); gradable || !a.HasContent() {
			return ErrGradingNotAllowed
		}
		if points < 0 || points > float64(q.Points) {
			return NewValidationError("points", fmt.Sprintf("must be between 0 and %d", q.Points))
		}

		correct := points >= float64(q.Points)
		a.IsCorrect = &correct
		a.PointsEarned = &points
		a.EvaluatedBy = &grader.ID
		a.EvaluatedAt = &now
		if err := tx.Answers().SaveGrade(ctx, a); err != nil {
			return fmt.Errorf("save grade: %w", err)
		}
		return s.rescore(ctx, tx, sess)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("answer_id", answerID.String()).
		Int("grader_id", grader.ID).
		Float64("points", points).
		Str("grading_status", string(sess.GradingStatus)).
		Msg("Answer graded")
	return sess, nil
}

// ─── finalize and scoring ───────────────────────────────────────────

// finalize scores the session and closes it with status. A submit that
// leaves answers waiting for a grader ends as submitted instead of completed.
func (s *SessionService) finalize(ctx context.Context, tx repository.Store, sess *model.ExamSession, exam *model.Exam, status model.SessionStatus, now time.Time) error {
	res, err := s.score(ctx, tx, sess)
	if err != nil {
		return err
	}
	if status == model.SessionStatusCompleted && res.GradingStatus == model.GradingStatusPartial {
		status = model.SessionStatusSubmitted
	}

	applyScore(sess, res)
	sess.Status = status
	sess.EndTime = &now
	sess.IsCompleted = true
	if status == model.SessionStatusCompleted || status == model.SessionStatusSubmitted {
		sess.SubmittedAt = &now
	}
	if maxSpent := int(now.Sub(sess.StartTime).Seconds()); sess.TimeSpent > maxSpent && maxSpent >= 0 {
		sess.TimeSpent = maxSpent
	}

	if err := tx.Sessions().Finalize(ctx, sess); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return ErrAlreadyFinalized
		}
		return fmt.Errorf("finalize session: %w", err)
	}
	return nil
}

// rescore recomputes a finalized session and promotes it to completed once
// nothing is left to grade.
func (s *SessionService) rescore(ctx context.Context, tx repository.Store, sess *model.ExamSession) error {
	res, err := s.score(ctx, tx, sess)
	if err != nil {
		return err
	}
	applyScore(sess, res)
	if sess.Status == model.SessionStatusSubmitted && res.GradingStatus == model.GradingStatusFinal {
		sess.Status = model.SessionStatusCompleted
	}
	if err := tx.Sessions().UpdateScore(ctx, sess); err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	return nil
}

// score grades the session's answers and stores changed grades.
func (s *SessionService) score(ctx context.Context, tx repository.Store, sess *model.ExamSession) (ScoreResult, error) {
	questions, err := s.sessionQuestions(ctx, tx, sess)
	if err != nil {
		return ScoreResult{}, err
	}
	answers, err := tx.Answers().ListBySession(ctx, sess.ID)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("list answers: %w", err)
	}
	stored := make(map[uuid.UUID]model.UserAnswer, len(answers))
	for _, a := range answers {
		stored[a.ID] = a
	}

	res := Score(questions, answers)
	for i := range res.Answers {
		a := &res.Answers[i]
		if sameGrade(stored[a.ID], *a) {
			continue
		}
		if err := tx.Answers().SaveGrade(ctx, a); err != nil {
			return ScoreResult{}, fmt.Errorf("save grade: %w", err)
		}
	}
	return res, nil
}

func applyScore(sess *model.ExamSession, res ScoreResult) {
	score := res.Score
	sess.Score = &score
	sess.TotalQuestions = res.TotalQuestions
	sess.AnsweredQuestions = res.Answered
	sess.CorrectAnswers = res.Correct
	sess.WrongAnswers = res.Wrong
	sess.GradingStatus = res.GradingStatus
}

func sameGrade(a, b model.UserAnswer) bool {
	return equalBoolPtr(a.IsCorrect, b.IsCorrect) && equalFloatPtr(a.PointsEarned, b.PointsEarned)
}

func equalBoolPtr(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ─── helpers ────────────────────────────────────────────────────────

func (s *SessionService) exam(ctx context.Context, st repository.Store, examID uuid.UUID) (*model.Exam, error) {
	exam, err := st.Exams().GetByID(ctx, examID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return exam, nil
}

// questions returns the exam's active questions, from the cache when warm.
func (s *SessionService) questions(ctx context.Context, st repository.Store, examID uuid.UUID) ([]model.Question, error) {
	if cached, ok := s.cache.Get(ctx, examID); ok {
		return cached, nil
	}
	questions, err := st.Questions().ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if err := s.cache.Set(ctx, examID, questions); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to cache questions")
	}
	return questions, nil
}

// sessionQuestions reads the questions shown in the session from the store,
// never from the cache, so scoring always sees the current answer key.
func (s *SessionService) sessionQuestions(ctx context.Context, tx repository.Store, sess *model.ExamSession) ([]model.Question, error) {
	all, err := tx.Questions().ListByExam(ctx, sess.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	shown := make(map[uuid.UUID]struct{}, len(sess.QuestionOrder))
	for _, id := range sess.QuestionOrder {
		shown[id] = struct{}{}
	}
	out := all[:0]
	for _, q := range all {
		if _, ok := shown[q.ID]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *SessionService) ownedSession(ctx context.Context, st repository.Store, user *model.User, sessionID uuid.UUID, lock bool) (*model.ExamSession, error) {
	get := st.Sessions().GetByID
	if lock {
		get = st.Sessions().GetByIDForUpdate
	}
	sess, err := get(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.UserID != user.ID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// lockOpenSession locks the user's session and rejects finalized ones.
func (s *SessionService) lockOpenSession(ctx context.Context, tx repository.Store, user *model.User, sessionID uuid.UUID) (*model.ExamSession, *model.Exam, error) {
	sess, err := s.ownedSession(ctx, tx, user, sessionID, true)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, nil, ErrAlreadyFinalized
	}
	exam, err := s.exam(ctx, tx, sess.ExamID)
	if err != nil {
		return nil, nil, err
	}
	return sess, exam, nil
}

func (s *SessionService) checkManages(ctx context.Context, actor *model.User, sessionID uuid.UUID) error {
	sess, err := s.store.Sessions().GetByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	exam, err := s.exam(ctx, s.store, sess.ExamID)
	if err != nil {
		return err
	}
	if !CanManageExam(actor, exam) {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SessionService) publish(ctx context.Context, sess *model.ExamSession, typ model.SessionEventType, questionID *uuid.UUID) {
	evt := model.SessionEvent{
		Type:       typ,
		ExamID:     sess.ExamID,
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		Status:     sess.Status,
		QuestionID: questionID,
		Score:      sess.Score,
		At:         time.Now(),
	}
	if err := s.events.PublishSessionEvent(ctx, evt); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to publish session event")
	}
}

// render materializes the question set in order without answer keys.
func (s *SessionService) render(exam *model.Exam, order []uuid.UUID, questions []model.Question) []model.QuestionForStudent {
	byID := make(map[uuid.UUID]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	out := make([]model.QuestionForStudent, 0, len(order))
	for _, id := range order {
		q, ok := byID[id]
		if !ok {
			continue
		}
		item := model.QuestionForStudent{
			ID:           q.ID,
			QuestionText: q.QuestionText,
			QuestionType: q.QuestionType,
			Points:       q.Points,
			Media:        q.Media,
			Options:      []model.OptionForStudent{},
			OrderNum:     len(out) + 1,
		}

		switch q.QuestionType {
		case model.QuestionTypeSingleChoice, model.QuestionTypeMultiChoice, model.QuestionTypeTrueFalse:
			for _, c := range q.OrderedChoices() {
				item.Options = append(item.Options, model.OptionForStudent{ID: c.ID, Text: c.Text})
			}
			if exam.ShuffleChoices {
				s.shuffleOptions(item.Options)
			}
		case model.QuestionTypeOrdering:
			for _, c := range q.OrderedChoices() {
				item.Options = append(item.Options, model.OptionForStudent{ID: c.ID, Text: c.Text})
			}
			// The stored order is the key, so it is never shown as is.
			s.shuffleOptions(item.Options)
		case model.QuestionTypeMatching:
			for _, c := range q.OrderedChoices() {
				left, right, ok := strings.Cut(c.Text, MatchingPairSeparator)
				if !ok {
					continue
				}
				item.Options = append(item.Options, model.OptionForStudent{ID: c.ID, Text: strings.TrimSpace(left)})
				item.MatchTargets = append(item.MatchTargets, strings.TrimSpace(right))
			}
			s.shuffle(len(item.MatchTargets), func(i, j int) {
				item.MatchTargets[i], item.MatchTargets[j] = item.MatchTargets[j], item.MatchTargets[i]
			})
			if exam.ShuffleChoices {
				s.shuffleOptions(item.Options)
			}
		}
		out = append(out, item)
	}
	return out
}

func (s *SessionService) shuffleOptions(opts []model.OptionForStudent) {
	s.shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
}

// buildAnswer validates in against the question type and keeps only the
// representation that type uses.
func buildAnswer(q *model.Question, sessionID uuid.UUID, in model.AnswerInput, now time.Time) (*model.UserAnswer, error) {
	a := &model.UserAnswer{
		SessionID:         sessionID,
		QuestionID:        q.ID,
		SelectedChoiceIDs: []uuid.UUID{},
		AnsweredAt:        now,
	}

	switch q.QuestionType {
	case model.QuestionTypeSingleChoice, model.QuestionTypeTrueFalse, model.QuestionTypeMultiChoice:
		selected := in.SelectedChoices()
		if q.QuestionType != model.QuestionTypeMultiChoice && len(selected) > 1 {
			return nil, NewValidationError("option_ids", "this question accepts a single option")
		}
		for _, id := range selected {
			if !q.HasChoice(id) {
				return nil, NewValidationError("option_id", "option does not belong to this question")
			}
		}
		a.SelectedChoiceIDs = selected
	case model.QuestionTypeFillBlank, model.QuestionTypeEssay:
		a.TextAnswer = in.Text
	case model.QuestionTypeMatching, model.QuestionTypeOrdering:
		if len(in.Structured) > 0 {
			if !json.Valid(in.Structured) {
				return nil, NewValidationError("structured", "must be valid JSON")
			}
			a.StructuredAnswer = in.Structured
		}
	default:
		return nil, NewValidationError("question_type", "unsupported question type")
	}
	return a, nil
}

func hideUnpublishedScore(sess *model.ExamSession, exam *model.Exam, now time.Time) {
	if !exam.ResultsVisible(now) {
		sess.Score = nil
	}
}

func derefScore(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
