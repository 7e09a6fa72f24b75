// Package memstore is an in-memory repository.Store. Services and handlers
// use it in tests, and the server runs on it when DATABASE_URL=memory.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

type state struct {
	exams     map[uuid.UUID]model.Exam
	questions map[uuid.UUID]model.Question
	qseq      map[uuid.UUID]int
	sessions  map[uuid.UUID]model.ExamSession
	answers   map[uuid.UUID]model.UserAnswer
	tokens    map[string]model.ExamToken
	users     map[int]model.User
	nextUser  int
	nextQSeq  int
}

func newState() *state {
	return &state{
		exams:     map[uuid.UUID]model.Exam{},
		questions: map[uuid.UUID]model.Question{},
		qseq:      map[uuid.UUID]int{},
		sessions:  map[uuid.UUID]model.ExamSession{},
		answers:   map[uuid.UUID]model.UserAnswer{},
		tokens:    map[string]model.ExamToken{},
		users:     map[int]model.User{},
		nextUser:  1,
	}
}

// clone copies the maps. Stored values are never mutated in place, so a
// shallow copy of each entry is a full snapshot.
func (s *state) clone() *state {
	c := &state{
		exams:     make(map[uuid.UUID]model.Exam, len(s.exams)),
		questions: make(map[uuid.UUID]model.Question, len(s.questions)),
		qseq:      make(map[uuid.UUID]int, len(s.qseq)),
		sessions:  make(map[uuid.UUID]model.ExamSession, len(s.sessions)),
		answers:   make(map[uuid.UUID]model.UserAnswer, len(s.answers)),
		tokens:    make(map[string]model.ExamToken, len(s.tokens)),
		users:     make(map[int]model.User, len(s.users)),
		nextUser:  s.nextUser,
		nextQSeq:  s.nextQSeq,
	}
	for k, v := range s.exams {
		c.exams[k] = v
	}
	for k, v := range s.questions {
		c.questions[k] = v
	}
	for k, v := range s.qseq {
		c.qseq[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.answers {
		c.answers[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

type shared struct {
	mu   sync.Mutex
	txMu sync.Mutex
	data *state
}

// Store is an in-memory repository.Store. Transactions are serialized and
// roll back by restoring a snapshot.
type Store struct {
	sh   *shared
	inTx bool
}

var _ repository.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{sh: &shared{data: newState()}}
}

func (s *Store) Exams() repository.ExamStore         { return examRepo{s.sh} }
func (s *Store) Questions() repository.QuestionStore { return questionRepo{s.sh} }
func (s *Store) Sessions() repository.SessionStore   { return sessionRepo{s.sh} }
func (s *Store) Answers() repository.AnswerStore     { return answerRepo{s.sh} }
func (s *Store) Tokens() repository.TokenStore       { return tokenRepo{s.sh} }
func (s *Store) Users() repository.UserStore         { return userRepo{s.sh} }

// WithTx runs fn with exclusive access. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.sh.txMu.Lock()
	defer s.sh.txMu.Unlock()

	s.sh.mu.Lock()
	snapshot := s.sh.data.clone()
	s.sh.mu.Unlock()

	if err := fn(&Store{sh: s.sh, inTx: true}); err != nil {
		s.sh.mu.Lock()
		s.sh.data = snapshot
		s.sh.mu.Unlock()
		return err
	}
	return nil
}

// ─── Exams ──────────────────────────────────────────────────────────

type examRepo struct{ sh *shared }

func cloneExam(e model.Exam) *model.Exam {
	e.AllowedDepartments = append([]int(nil), e.AllowedDepartments...)
	e.AllowedUsers = append([]int(nil), e.AllowedUsers...)
	return &e
}

func (r examRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	e, ok := r.sh.data.exams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneExam(e), nil
}

func (r examRepo) GetByAccessToken(_ context.Context, token string) (*model.Exam, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	for _, e := range r.sh.data.exams {
		if e.AccessToken != nil && *e.AccessToken == token {
			return cloneExam(e), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r examRepo) AccessTokenExists(ctx context.Context, token string) (bool, error) {
	_, err := r.GetByAccessToken(ctx, token)
	if err == repository.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r examRepo) Create(_ context.Context, e *model.Exam) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	if e.AccessToken != nil {
		for _, other := range r.sh.data.exams {
			if other.AccessToken != nil && *other.AccessToken == *e.AccessToken {
				return repository.ErrDuplicate
			}
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ExamUID == uuid.Nil {
		e.ExamUID = uuid.New()
	}
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	r.sh.data.exams[e.ID] = *cloneExam(*e)
	return nil
}

func (r examRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.ExamStatus) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	e, ok := r.sh.data.exams[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Status = status
	e.UpdatedAt = time.Now()
	r.sh.data.exams[id] = e
	return nil
}

func (r examRepo) SetAccessToken(_ context.Context, id uuid.UUID, token string, expiry *time.Time) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	e, ok := r.sh.data.exams[id]
	if !ok {
		return repository.ErrNotFound
	}
	for otherID, other := range r.sh.data.exams {
		if otherID != id && other.AccessToken != nil && *other.AccessToken == token {
			return repository.ErrDuplicate
		}
	}
	e.AccessToken = &token
	e.TokenExpiry = expiry
	e.UpdatedAt = time.Now()
	r.sh.data.exams[id] = e
	return nil
}

func (r examRepo) ListPublished(_ context.Context) ([]model.Exam, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	var out []model.Exam
	for _, e := range r.sh.data.exams {
		if e.Status == model.ExamStatusPublished {
			out = append(out, *cloneExam(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// ─── Questions ──────────────────────────────────────────────────────

type questionRepo struct{ sh *shared }

func cloneQuestion(q model.Question) model.Question {
	q.Choices = append([]model.Choice(nil), q.Choices...)
	return q
}

func (r questionRepo) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	var out []model.Question
	for _, q := range r.sh.data.questions {
		if q.BelongsTo(examID) && q.IsActive {
			out = append(out, cloneQuestion(q))
		}
	}
	seq := r.sh.data.qseq
	sort.Slice(out, func(i, j int) bool { return seq[out[i].ID] < seq[out[j].ID] })
	return out, nil
}

func (r questionRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Question, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	q, ok := r.sh.data.questions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := cloneQuestion(q)
	return &c, nil
}

func (r questionRepo) Create(_ context.Context, q *model.Question) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	q.CreatedAt = time.Now()
	for i := range q.Choices {
		if q.Choices[i].ID == uuid.Nil {
			q.Choices[i].ID = uuid.New()
		}
		q.Choices[i].QuestionID = q.ID
	}
	r.sh.data.nextQSeq++
	r.sh.data.qseq[q.ID] = r.sh.data.nextQSeq
	r.sh.data.questions[q.ID] = cloneQuestion(*q)
	return nil
}

// ─── Sessions ───────────────────────────────────────────────────────

type sessionRepo struct{ sh *shared }

func cloneSession(s model.ExamSession) *model.ExamSession {
	s.QuestionOrder = append([]uuid.UUID(nil), s.QuestionOrder...)
	return &s
}

func (r sessionRepo) GetByID(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	s, ok := r.sh.data.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneSession(s), nil
}

func (r sessionRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return r.GetByID(ctx, id)
}

func (r sessionRepo) FindOpen(_ context.Context, examID uuid.UUID, userID int) (*model.ExamSession, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	for _, s := range r.sh.data.sessions {
		if s.ExamID == examID && s.UserID == userID && s.Status == model.SessionStatusInProgress {
			return cloneSession(s), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r sessionRepo) CountCompleted(_ context.Context, examID uuid.UUID, userID int) (int, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	n := 0
	for _, s := range r.sh.data.sessions {
		if s.ExamID == examID && s.UserID == userID && s.IsCompleted {
			n++
		}
	}
	return n, nil
}

func (r sessionRepo) Create(_ context.Context, s *model.ExamSession) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	for _, other := range r.sh.data.sessions {
		if other.ExamID != s.ExamID || other.UserID != s.UserID {
			continue
		}
		if other.AttemptNumber == s.AttemptNumber || other.Status == model.SessionStatusInProgress {
			return repository.ErrDuplicate
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.sh.data.sessions[s.ID] = *cloneSession(*s)
	return nil
}

func (r sessionRepo) UpdateProgress(_ context.Context, id uuid.UUID, timeSpent, currentIndex int) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	s, ok := r.sh.data.sessions[id]
	if !ok || s.Status != model.SessionStatusInProgress {
		return repository.ErrStaleState
	}
	s.TimeSpent = timeSpent
	s.CurrentIndex = currentIndex
	r.sh.data.sessions[id] = s
	return nil
}

func (r sessionRepo) Finalize(_ context.Context, s *model.ExamSession) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	stored, ok := r.sh.data.sessions[s.ID]
	if !ok || stored.Status != model.SessionStatusInProgress {
		return repository.ErrStaleState
	}
	stored.Status = s.Status
	stored.GradingStatus = s.GradingStatus
	stored.EndTime = s.EndTime
	stored.SubmittedAt = s.SubmittedAt
	stored.TimeSpent = s.TimeSpent
	stored.Score = s.Score
	stored.TotalQuestions = s.TotalQuestions
	stored.AnsweredQuestions = s.AnsweredQuestions
	stored.CorrectAnswers = s.CorrectAnswers
	stored.WrongAnswers = s.WrongAnswers
	stored.IsCompleted = s.IsCompleted
	r.sh.data.sessions[s.ID] = stored
	return nil
}

func (r sessionRepo) UpdateScore(_ context.Context, s *model.ExamSession) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	stored, ok := r.sh.data.sessions[s.ID]
	if !ok || stored.Status == model.SessionStatusInProgress {
		return repository.ErrStaleState
	}
	stored.Status = s.Status
	stored.GradingStatus = s.GradingStatus
	stored.Score = s.Score
	stored.TotalQuestions = s.TotalQuestions
	stored.AnsweredQuestions = s.AnsweredQuestions
	stored.CorrectAnswers = s.CorrectAnswers
	stored.WrongAnswers = s.WrongAnswers
	r.sh.data.sessions[s.ID] = stored
	return nil
}

func (r sessionRepo) ListByUser(_ context.Context, userID int) ([]model.ExamSession, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	var out []model.ExamSession
	for _, s := range r.sh.data.sessions {
		if s.UserID == userID {
			out = append(out, *cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (r sessionRepo) ListFinalizedIDsByExam(_ context.Context, examID uuid.UUID) ([]uuid.UUID, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	var sessions []model.ExamSession
	for _, s := range r.sh.data.sessions {
		if s.ExamID == examID && s.Status.IsTerminal() {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartTime.Before(sessions[j].StartTime) })
	ids := make([]uuid.UUID, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids, nil
}

func (r sessionRepo) ListOutcomes(_ context.Context, filter model.OutcomeFilter) ([]model.SessionOutcome, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	var out []model.SessionOutcome
	for _, s := range r.sh.data.sessions {
		if filter.ExamID != nil && s.ExamID != *filter.ExamID {
			continue
		}
		if filter.UserID != nil && s.UserID != *filter.UserID {
			continue
		}
		exam := r.sh.data.exams[s.ExamID]
		user := r.sh.data.users[s.UserID]
		out = append(out, model.SessionOutcome{
			SessionID:     s.ID,
			ExamID:        s.ExamID,
			ExamTitle:     exam.Title,
			UserID:        s.UserID,
			Username:      user.Username,
			FullName:      user.FullName,
			AttemptNumber: s.AttemptNumber,
			Status:        s.Status,
			GradingStatus: s.GradingStatus,
			Score:         s.Score,
			PassingScore:  exam.PassingScore,
			TimeSpent:     s.TimeSpent,
			IsCompleted:   s.IsCompleted,
			StartTime:     s.StartTime,
			EndTime:       s.EndTime,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].AttemptNumber < out[j].AttemptNumber
	})
	return out, nil
}

// ─── Answers ────────────────────────────────────────────────────────

type answerRepo struct{ sh *shared }

func cloneAnswer(a model.UserAnswer) *model.UserAnswer {
	a.SelectedChoiceIDs = append([]uuid.UUID(nil), a.SelectedChoiceIDs...)
	a.StructuredAnswer = append([]byte(nil), a.StructuredAnswer...)
	return &a
}

func (r answerRepo) Upsert(_ context.Context, a *model.UserAnswer) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	for id, existing := range r.sh.data.answers {
		if existing.SessionID == a.SessionID && existing.QuestionID == a.QuestionID {
			a.ID = id
			a.TimeSpent += existing.TimeSpent
			break
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.IsCorrect, a.PointsEarned, a.EvaluatedBy, a.EvaluatedAt = nil, nil, nil, nil
	r.sh.data.answers[a.ID] = *cloneAnswer(*a)
	return nil
}

func (r answerRepo) GetByID(_ context.Context, id uuid.UUID) (*model.UserAnswer, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	a, ok := r.sh.data.answers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneAnswer(a), nil
}

func (r answerRepo) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.UserAnswer, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	var out []model.UserAnswer
	for _, a := range r.sh.data.answers {
		if a.SessionID == sessionID {
			out = append(out, *cloneAnswer(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AnsweredAt.Equal(out[j].AnsweredAt) {
			return out[i].AnsweredAt.Before(out[j].AnsweredAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r answerRepo) SaveGrade(_ context.Context, a *model.UserAnswer) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	stored, ok := r.sh.data.answers[a.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.IsCorrect = a.IsCorrect
	stored.PointsEarned = a.PointsEarned
	stored.EvaluatedBy = a.EvaluatedBy
	stored.EvaluatedAt = a.EvaluatedAt
	r.sh.data.answers[a.ID] = stored
	return nil
}

// ─── Tokens ─────────────────────────────────────────────────────────

type tokenRepo struct{ sh *shared }

func (r tokenRepo) Create(_ context.Context, t *model.ExamToken) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	if _, taken := r.sh.data.tokens[t.Token]; taken {
		return repository.ErrDuplicate
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	r.sh.data.tokens[t.Token] = *t
	return nil
}

func (r tokenRepo) GetByToken(_ context.Context, token string) (*model.ExamToken, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	t, ok := r.sh.data.tokens[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r tokenRepo) GetByTokenForUpdate(ctx context.Context, token string) (*model.ExamToken, error) {
	return r.GetByToken(ctx, token)
}

func (r tokenRepo) TokenExists(_ context.Context, token string) (bool, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	_, ok := r.sh.data.tokens[token]
	return ok, nil
}

func (r tokenRepo) Consume(_ context.Context, token string, now time.Time) (*model.ExamToken, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	t, ok := r.sh.data.tokens[token]
	if !ok || !t.IsUsable(now) {
		return nil, repository.ErrNotFound
	}
	t.UsedCount++
	if t.UsedCount >= t.MaxUsage {
		t.Status = model.TokenStatusExpired
	}
	r.sh.data.tokens[token] = t
	return &t, nil
}

func (r tokenRepo) Save(_ context.Context, t *model.ExamToken) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	stored, ok := r.sh.data.tokens[t.Token]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Status = t.Status
	stored.ExpiresAt = t.ExpiresAt
	stored.UsedCount = t.UsedCount
	r.sh.data.tokens[t.Token] = stored
	return nil
}

func (r tokenRepo) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	var n int64
	for code, t := range r.sh.data.tokens {
		if t.Status == model.TokenStatusActive && (t.ExpiresAt.Before(now) || t.UsedCount >= t.MaxUsage) {
			t.Status = model.TokenStatusExpired
			r.sh.data.tokens[code] = t
			n++
		}
	}
	return n, nil
}

func (r tokenRepo) ListByExam(_ context.Context, examID uuid.UUID) ([]model.ExamToken, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	var out []model.ExamToken
	for _, t := range r.sh.data.tokens {
		if t.ExamID != nil && *t.ExamID == examID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ─── Users ──────────────────────────────────────────────────────────

type userRepo struct{ sh *shared }

func (r userRepo) GetByID(_ context.Context, id int) (*model.User, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	u, ok := r.sh.data.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r userRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	for _, u := range r.sh.data.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r userRepo) Create(_ context.Context, u *model.User) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	for _, other := range r.sh.data.users {
		if other.Username == u.Username {
			return repository.ErrDuplicate
		}
	}
	if u.ID == 0 {
		u.ID = r.sh.data.nextUser
	}
	if u.ID >= r.sh.data.nextUser {
		r.sh.data.nextUser = u.ID + 1
	}
	u.CreatedAt = time.Now()
	r.sh.data.users[u.ID] = *u
	return nil
}
