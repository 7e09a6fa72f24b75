package service

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func scorePtr(v float64) *float64 { return &v }

func TestAggregateExam(t *testing.T) {
	exam := &model.Exam{ID: uuid.New(), Title: "Biology", PassingScore: 60}
	outcomes := []model.SessionOutcome{
		{UserID: 1, Status: model.SessionStatusCompleted, IsCompleted: true, Score: scorePtr(80), PassingScore: 60, TimeSpent: 600, GradingStatus: model.GradingStatusFinal},
		{UserID: 1, Status: model.SessionStatusTimeout, IsCompleted: true, Score: scorePtr(40), PassingScore: 60, TimeSpent: 1200, GradingStatus: model.GradingStatusFinal},
		{UserID: 2, Status: model.SessionStatusSubmitted, IsCompleted: true, Score: scorePtr(60), PassingScore: 60, TimeSpent: 300, GradingStatus: model.GradingStatusPartial},
		{UserID: 3, Status: model.SessionStatusInProgress},
	}

	r := AggregateExam(exam, outcomes)
	assert.Equal(t, "Biology", r.ExamTitle)
	assert.Equal(t, 3, r.Participants)
	assert.Equal(t, 4, r.TotalSessions)
	assert.Equal(t, 3, r.Completed)
	assert.Equal(t, 1, r.InProgress)
	assert.Equal(t, 1, r.PendingGrading)
	assert.Equal(t, 60.0, r.AverageScore, "the partially graded score is provisional")
	assert.Equal(t, 80.0, r.HighestScore)
	assert.Equal(t, 40.0, r.LowestScore)
	assert.Equal(t, 1, r.PassCount)
	assert.Equal(t, 50.0, r.PassRate)
	assert.Equal(t, 700.0, r.AverageTimeSpent)
}

func TestAggregateExamEmpty(t *testing.T) {
	r := AggregateExam(&model.Exam{Title: "Nobody"}, nil)
	assert.Zero(t, r.Participants)
	assert.Zero(t, r.AverageScore)
	assert.Zero(t, r.PassRate)
}

func TestSummarizeStudentAndSystem(t *testing.T) {
	outcomes := []model.SessionOutcome{
		{UserID: 1, Status: model.SessionStatusCompleted, IsCompleted: true, Score: scorePtr(90), PassingScore: 75},
		{UserID: 1, Status: model.SessionStatusCompleted, IsCompleted: true, Score: scorePtr(70), PassingScore: 75},
		{UserID: 1, Status: model.SessionStatusInProgress},
		{UserID: 2, Status: model.SessionStatusCompleted, IsCompleted: true, Score: scorePtr(50), PassingScore: 40},
	}

	sum := SummarizeStudent(1, outcomes)
	assert.Equal(t, 2, sum.CompletedExams)
	assert.Equal(t, 80.0, sum.AverageScore)
	assert.Equal(t, 1, sum.PassCount)
	assert.Equal(t, 50.0, sum.SuccessRate)

	stats := AggregateSystem(outcomes)
	assert.Equal(t, 4, stats.TotalSessions)
	assert.Equal(t, 3, stats.CompletedSessions)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 70.0, stats.AverageScore)
	assert.Equal(t, 66.67, stats.PassRate, "each session uses its own exam's passing score")
}

func TestPartialScoresLeftOutOfStatistics(t *testing.T) {
	outcomes := []model.SessionOutcome{
		{UserID: 1, Status: model.SessionStatusCompleted, IsCompleted: true, Score: scorePtr(50), PassingScore: 60, GradingStatus: model.GradingStatusFinal},
		{UserID: 1, Status: model.SessionStatusSubmitted, IsCompleted: true, Score: scorePtr(100), PassingScore: 60, GradingStatus: model.GradingStatusPartial},
	}

	sum := SummarizeStudent(1, outcomes)
	assert.Equal(t, 2, sum.CompletedExams)
	assert.Equal(t, 50.0, sum.AverageScore)
	assert.Zero(t, sum.PassCount)

	stats := AggregateSystem(outcomes)
	assert.Equal(t, 2, stats.CompletedSessions)
	assert.Equal(t, 50.0, stats.AverageScore)
	assert.Zero(t, stats.PassRate)
}

func TestStudentSummaryWaitsForResultsPublish(t *testing.T) {
	f := newFixture(t)
	publish := testNow.Add(24 * time.Hour)
	exam := f.seedExam(t, func(e *model.Exam) {
		e.ShowResultImmediately = false
		e.ResultPublishTime = &publish
	})
	q := f.seedQuestion(t, exam, singleChoice(5))

	start, err := f.sessions.Start(f.ctx, f.student, exam.ID, StartParams{}, testNow)
	require.NoError(t, err)
	sess, err := f.sessions.Submit(f.ctx, f.student, start.Session.ID, model.SubmitExamRequest{
		Answers: []model.AnswerInput{answerFor(q, correctChoice(q))},
	}, testNow)
	require.NoError(t, err)
	require.Nil(t, sess.Score)

	sum, err := f.reports.StudentSummary(f.ctx, f.student, f.student.ID, testNow)
	require.NoError(t, err)
	assert.Zero(t, sum.CompletedExams)
	assert.Zero(t, sum.AverageScore)
	assert.Zero(t, sum.PassCount)

	staff, err := f.reports.StudentSummary(f.ctx, f.teacher, f.student.ID, testNow)
	require.NoError(t, err)
	assert.Equal(t, 100.0, staff.AverageScore, "staff see unpublished results")

	sum, err = f.reports.StudentSummary(f.ctx, f.student, f.student.ID, publish)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CompletedExams)
	assert.Equal(t, 100.0, sum.AverageScore)
	assert.Equal(t, 1, sum.PassCount)
}

func TestReportServiceAccess(t *testing.T) {
	f := newFixture(t)
	exam := f.seedExam(t, nil)
	q := f.seedQuestion(t, exam, singleChoice(5))

	start, err := f.sessions.Start(f.ctx, f.student, exam.ID, StartParams{}, testNow)
	require.NoError(t, err)
	_, err = f.sessions.Submit(f.ctx, f.student, start.Session.ID, model.SubmitExamRequest{
		Answers: []model.AnswerInput{answerFor(q, correctChoice(q))},
	}, testNow)
	require.NoError(t, err)

	t.Run("exam report for owner", func(t *testing.T) {
		r, err := f.reports.ExamReport(f.ctx, f.teacher, exam.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, r.Completed)
		assert.Equal(t, 100.0, r.AverageScore)
		assert.Equal(t, 100.0, r.PassRate)
	})

	t.Run("exam report hidden from students", func(t *testing.T) {
		_, err := f.reports.ExamReport(f.ctx, f.student, exam.ID)
		assert.ErrorIs(t, err, ErrExamNotFound)
	})

	t.Run("student summary", func(t *testing.T) {
		sum, err := f.reports.StudentSummary(f.ctx, f.student, f.student.ID, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.CompletedExams)

		other := f.newStudent(t, "nosy")
		_, err = f.reports.StudentSummary(f.ctx, other, f.student.ID, testNow)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("system stats", func(t *testing.T) {
		stats, err := f.reports.SystemStats(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalSessions)
	})

	t.Run("xlsx export", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, f.reports.ExportExamReport(f.ctx, f.teacher, exam.ID, &buf))

		wb, err := excelize.OpenReader(&buf)
		require.NoError(t, err)
		defer wb.Close()

		assert.Equal(t, []string{"Summary", "Sessions"}, wb.GetSheetList())
		title, err := wb.GetCellValue("Summary", "B1")
		require.NoError(t, err)
		assert.Equal(t, exam.Title, title)

		rows, err := wb.GetRows("Sessions")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "Username", rows[0][1])
		assert.Equal(t, f.student.Username, rows[1][1])
	})
}
