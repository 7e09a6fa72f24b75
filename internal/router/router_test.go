package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/handler"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository/memstore"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	validator.Setup()
	os.Exit(m.Run())
}

type testServer struct {
	engine *gin.Engine
	auth   *service.AuthService
}

func newTestServer(t *testing.T, rate int) *testServer {
	t.Helper()

	cfg := &config.Config{
		GinMode:                     gin.TestMode,
		JWTSecret:                   "test-secret",
		JWTExpiry:                   time.Hour,
		BcryptCost:                  4,
		RequireAccessTokenOnPublish: true,
	}
	log := zerolog.Nop()
	store := memstore.New()

	authService := service.NewAuthService(cfg, store, log)
	tokens := service.NewTokenManager(store, service.TokenDefaults{}, log)
	eligibility := service.NewEligibilityService(store, log)
	sessions := service.NewSessionService(store, tokens, eligibility, nil, nil, nil, log)
	exams := service.NewExamService(store, tokens, nil, cfg.RequireAccessTokenOnPublish, log)
	reports := service.NewReportService(store, log)

	handlers := &Handlers{
		Auth:    handler.NewAuthHandler(authService, log),
		Student: handler.NewStudentHandler(sessions, tokens, reports, log),
		Exam:    handler.NewExamHandler(exams, sessions, reports, log),
		Token:   handler.NewTokenHandler(tokens, exams, log),
		Grading: handler.NewGradingHandler(sessions, log),
		Monitor: handler.NewMonitorHandler(nil, exams, reports, log),
		WS:      handler.NewWSHandler(sessions, log, nil),
	}
	limiters := Limiters{
		Login:    middleware.NewRateLimiter(rate, time.Minute),
		Validate: middleware.NewRateLimiter(rate, time.Minute),
	}

	return &testServer{
		engine: SetupRouter(authService, handlers, limiters, cfg, log),
		auth:   authService,
	}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") != "" && bytes.HasPrefix(rec.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func (s *testServer) login(t *testing.T, username, password string, role model.Role) string {
	t.Helper()

	_, err := s.auth.CreateUser(t.Context(), service.CreateUserParams{
		Username: username,
		FullName: username,
		Password: password,
		Role:     role,
	})
	require.NoError(t, err)

	code, env := s.do(t, http.MethodPost, "/api/v1/auth/login", "", model.LoginRequest{
		Username: username,
		Password: password,
	})
	require.Equal(t, http.StatusOK, code)

	var res model.LoginResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.NotEmpty(t, res.Token)
	return res.Token
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestExamFlow(t *testing.T) {
	s := newTestServer(t, 100)
	teacherToken := s.login(t, "teacher01", "password123", model.RoleTeacher)
	studentToken := s.login(t, "student01", "password123", model.RoleStudent)

	var (
		exam      *model.Exam
		question  *model.Question
		sessionID string
	)

	t.Run("CreateExam", func(t *testing.T) {
		now := time.Now().UTC()
		code, env := s.do(t, http.MethodPost, "/api/v1/admin/exams", teacherToken, model.CreateExamRequest{
			Title:                 "Physics Midterm",
			ExamType:              model.ExamTypeMidterm,
			StartTime:             now.Add(-time.Hour),
			EndTime:               now.Add(2 * time.Hour),
			DurationMinutes:       60,
			PassingScore:          60,
			MaxAttempts:           1,
			AllowBackNavigation:   true,
			ShowResultImmediately: true,
		})
		require.Equal(t, http.StatusCreated, code)
		exam = decode[struct{ Exam *model.Exam }](t, env.Data).Exam
		assert.Equal(t, model.ExamStatusDraft, exam.Status)
	})

	t.Run("PublishWithoutQuestions", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/api/v1/admin/exams/"+exam.ID.String()+"/publish", teacherToken, nil)
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, "NO_QUESTIONS", env.Error.Code)
	})

	t.Run("AddQuestion", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/api/v1/admin/exams/"+exam.ID.String()+"/questions", teacherToken, model.AddQuestionRequest{
			QuestionType: model.QuestionTypeSingleChoice,
			QuestionText: "Unit of force?",
			Points:       2,
			Difficulty:   model.DifficultyEasy,
			Choices: []model.AddChoiceRequest{
				{Text: "Newton", IsCorrect: true, Order: 0},
				{Text: "Joule", Order: 1},
			},
		})
		require.Equal(t, http.StatusCreated, code)
		question = decode[struct{ Question *model.Question }](t, env.Data).Question
		require.Len(t, question.Choices, 2)
	})

	t.Run("Publish", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/api/v1/admin/exams/"+exam.ID.String()+"/publish", teacherToken, nil)
		require.Equal(t, http.StatusOK, code)
		exam = decode[struct{ Exam *model.Exam }](t, env.Data).Exam
		assert.Equal(t, model.ExamStatusPublished, exam.Status)
		require.True(t, exam.IsTokenGated())
	})

	t.Run("ValidateRejectsShortToken", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/api/v1/student/tokens/validate", studentToken, model.ValidateTokenRequest{Token: "abc"})
		require.Equal(t, http.StatusOK, code)
		res := decode[model.TokenValidation](t, env.Data)
		assert.False(t, res.Valid)
		assert.Equal(t, "Token must be 6 characters long", res.Message)
	})

	t.Run("ValidateAccessToken", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/api/v1/student/tokens/validate", studentToken, model.ValidateTokenRequest{Token: *exam.AccessToken})
		require.Equal(t, http.StatusOK, code)
		res := decode[model.TokenValidation](t, env.Data)
		assert.True(t, res.Valid, res.Message)
		assert.Equal(t, exam.ID, *res.ExamID)
	})

	t.Run("StartRequiresAccessCode", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/api/v1/student/exams/"+exam.ID.String()+"/start", studentToken, nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	})

	t.Run("Start", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/api/v1/student/exams/"+exam.ID.String()+"/start", studentToken, model.StartExamRequest{AccessCode: *exam.AccessToken})
		require.Equal(t, http.StatusCreated, code)
		res := decode[model.StartExamResponse](t, env.Data)
		assert.False(t, res.Resumed)
		require.Len(t, res.Questions, 1)
		sessionID = res.Session.ID.String()
	})

	t.Run("SaveAnswer", func(t *testing.T) {
		correct := question.Choices[0].ID
		code, _ := s.do(t, http.MethodPut, "/api/v1/student/sessions/"+sessionID+"/answers", studentToken, model.RecordAnswerRequest{
			AnswerInput:    model.AnswerInput{QuestionID: question.ID, OptionID: &correct},
			TimeSpentDelta: 30,
		})
		assert.Equal(t, http.StatusOK, code)
	})

	t.Run("Submit", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/api/v1/student/sessions/"+sessionID+"/submit", studentToken, nil)
		require.Equal(t, http.StatusOK, code)
		res := decode[model.SubmitExamResponse](t, env.Data)
		assert.Equal(t, model.SessionStatusCompleted, res.Status)
		require.NotNil(t, res.Score)
		assert.Equal(t, 100.0, *res.Score)
	})

	t.Run("SubmitTwice", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/api/v1/student/sessions/"+sessionID+"/submit", studentToken, nil)
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, "ALREADY_SUBMITTED", env.Error.Code)
	})

	t.Run("MaxAttemptsReached", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/api/v1/student/exams/"+exam.ID.String()+"/start", studentToken, model.StartExamRequest{AccessCode: *exam.AccessToken})
		assert.Equal(t, http.StatusForbidden, code)
		assert.Equal(t, "NOT_ELIGIBLE", env.Error.Code)
		assert.Equal(t, "Maximum attempts reached (1) for this exam.", env.Error.Message)
	})

	t.Run("Report", func(t *testing.T) {
		code, env := s.do(t, http.MethodGet, "/api/v1/admin/exams/"+exam.ID.String()+"/report", teacherToken, nil)
		require.Equal(t, http.StatusOK, code)
		report := decode[model.ExamReport](t, env.Data)
		assert.Equal(t, 1, report.Participants)
		assert.Equal(t, 1, report.PassCount)
		assert.Equal(t, 100.0, report.PassRate)
	})
}

func TestRoleGuards(t *testing.T) {
	s := newTestServer(t, 100)
	teacherToken := s.login(t, "teacher02", "password123", model.RoleTeacher)
	studentToken := s.login(t, "student02", "password123", model.RoleStudent)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/student/sessions", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/v1/student/sessions", "not-a-jwt", http.StatusUnauthorized},
		{"teacher on student route", http.MethodGet, "/api/v1/student/sessions", teacherToken, http.StatusForbidden},
		{"student on staff route", http.MethodPost, "/api/v1/admin/exams", studentToken, http.StatusForbidden},
		{"teacher on admin-only route", http.MethodGet, "/api/v1/admin/stats", teacherToken, http.StatusForbidden},
		{"student lists own sessions", http.MethodGet, "/api/v1/student/sessions", studentToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := s.do(t, tc.method, tc.path, tc.token, nil)
			assert.Equal(t, tc.want, code)
		})
	}
}

func TestLoginRateLimited(t *testing.T) {
	s := newTestServer(t, 2)

	body := model.LoginRequest{Username: "nobody", Password: "password123"}
	for i := 0; i < 2; i++ {
		code, env := s.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
	}
	code, env := s.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)
}
