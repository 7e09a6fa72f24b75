package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/xuri/excelize/v2"
)

// ReportService computes read-only summaries over session outcomes.
type ReportService struct {
	store repository.Store
	log   zerolog.Logger
}

// NewReportService creates a new ReportService.
func NewReportService(store repository.Store, log zerolog.Logger) *ReportService {
	return &ReportService{
		store: store,
		log:   log.With().Str("component", "report").Logger(),
	}
}

// ExamReport summarizes every attempt at an exam the actor manages.
func (s *ReportService) ExamReport(ctx context.Context, actor *model.User, examID uuid.UUID) (*model.ExamReport, error) {
	exam, outcomes, err := s.examOutcomes(ctx, actor, examID)
	if err != nil {
		return nil, err
	}
	r := AggregateExam(exam, outcomes)
	return &r, nil
}

// StudentSummary summarizes a user's finished attempts. Students may only
// read their own summary, and only over exams whose results are out.
func (s *ReportService) StudentSummary(ctx context.Context, actor *model.User, userID int, now time.Time) (*model.StudentSummary, error) {
	if actor.ID != userID && !actor.Role.IsStaff() {
		return nil, ErrUserNotFound
	}
	outcomes, err := s.store.Sessions().ListOutcomes(ctx, model.OutcomeFilter{UserID: &userID})
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	if !actor.Role.IsStaff() {
		outcomes, err = s.visibleOutcomes(ctx, outcomes, now)
		if err != nil {
			return nil, err
		}
	}
	sum := SummarizeStudent(userID, outcomes)
	return &sum, nil
}

// visibleOutcomes drops outcomes of exams whose results are not yet published.
func (s *ReportService) visibleOutcomes(ctx context.Context, outcomes []model.SessionOutcome, now time.Time) ([]model.SessionOutcome, error) {
	visible := make(map[uuid.UUID]bool)
	kept := outcomes[:0]
	for _, o := range outcomes {
		ok, seen := visible[o.ExamID]
		if !seen {
			exam, err := s.store.Exams().GetByID(ctx, o.ExamID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				ok = false
			case err != nil:
				return nil, fmt.Errorf("get exam: %w", err)
			default:
				ok = exam.ResultsVisible(now)
			}
			visible[o.ExamID] = ok
		}
		if ok {
			kept = append(kept, o)
		}
	}
	return kept, nil
}

// SystemStats summarizes every session on the platform.
func (s *ReportService) SystemStats(ctx context.Context) (*model.SystemStats, error) {
	outcomes, err := s.store.Sessions().ListOutcomes(ctx, model.OutcomeFilter{})
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	stats := AggregateSystem(outcomes)
	return &stats, nil
}

var sessionSheetHeaders = []string{
	"Session ID", "Username", "Full Name", "Attempt", "Status", "Grading",
	"Score", "Passed", "Time Spent (s)", "Started", "Finished",
}

// ExportExamReport writes an XLSX workbook with a summary sheet and one row
// per session of the exam.
func (s *ReportService) ExportExamReport(ctx context.Context, actor *model.User, examID uuid.UUID, w io.Writer) error {
	exam, outcomes, err := s.examOutcomes(ctx, actor, examID)
	if err != nil {
		return err
	}
	report := AggregateExam(exam, outcomes)

	f := excelize.NewFile()
	defer f.Close()

	const summary = "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	rows := [][]any{
		{"Exam", report.ExamTitle},
		{"Passing Score", report.PassingScore},
		{"Participants", report.Participants},
		{"Sessions", report.TotalSessions},
		{"Completed", report.Completed},
		{"In Progress", report.InProgress},
		{"Pending Grading", report.PendingGrading},
		{"Average Score", report.AverageScore},
		{"Highest Score", report.HighestScore},
		{"Lowest Score", report.LowestScore},
		{"Pass Count", report.PassCount},
		{"Pass Rate (%)", report.PassRate},
		{"Average Time Spent (s)", report.AverageTimeSpent},
	}
	for i, row := range rows {
		if err := setRow(f, summary, i+1, row); err != nil {
			return err
		}
	}

	const sessions = "Sessions"
	if _, err := f.NewSheet(sessions); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	header := make([]any, len(sessionSheetHeaders))
	for i, h := range sessionSheetHeaders {
		header[i] = h
	}
	if err := setRow(f, sessions, 1, header); err != nil {
		return err
	}
	for i, o := range outcomes {
		var score any = ""
		if o.Score != nil {
			score = *o.Score
		}
		var finished any = ""
		if o.EndTime != nil {
			finished = o.EndTime.UTC().Format("2006-01-02 15:04:05")
		}
		row := []any{
			o.SessionID.String(), o.Username, o.FullName, o.AttemptNumber,
			string(o.Status), string(o.GradingStatus), score, o.Passed(),
			o.TimeSpent, o.StartTime.UTC().Format("2006-01-02 15:04:05"), finished,
		}
		if err := setRow(f, sessions, i+2, row); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("actor_id", actor.ID).
		Int("rows", len(outcomes)).
		Msg("Exam report exported")
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func (s *ReportService) examOutcomes(ctx context.Context, actor *model.User, examID uuid.UUID) (*model.Exam, []model.SessionOutcome, error) {
	exam, err := s.store.Exams().GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrExamNotFound
		}
		return nil, nil, fmt.Errorf("get exam: %w", err)
	}
	if !CanManageExam(actor, exam) {
		return nil, nil, ErrExamNotFound
	}
	outcomes, err := s.store.Sessions().ListOutcomes(ctx, model.OutcomeFilter{ExamID: &examID})
	if err != nil {
		return nil, nil, fmt.Errorf("list outcomes: %w", err)
	}
	return exam, outcomes, nil
}

// AggregateExam computes an exam report. Score statistics cover finished
// sessions with a final score; partially graded ones only count as pending.
func AggregateExam(exam *model.Exam, outcomes []model.SessionOutcome) model.ExamReport {
	r := model.ExamReport{
		ExamID:        exam.ID,
		ExamTitle:     exam.Title,
		PassingScore:  exam.PassingScore,
		TotalSessions: len(outcomes),
	}

	users := make(map[int]struct{})
	var (
		scoreSum float64
		scored   int
		timeSum  int
	)
	for i := range outcomes {
		o := &outcomes[i]
		users[o.UserID] = struct{}{}
		if o.Status == model.SessionStatusInProgress {
			r.InProgress++
			continue
		}
		if !o.IsCompleted {
			continue
		}
		r.Completed++
		timeSum += o.TimeSpent
		if o.GradingStatus == model.GradingStatusPartial {
			r.PendingGrading++
			continue
		}
		if o.Score == nil {
			continue
		}
		v := *o.Score
		if scored == 0 || v > r.HighestScore {
			r.HighestScore = v
		}
		if scored == 0 || v < r.LowestScore {
			r.LowestScore = v
		}
		scoreSum += v
		scored++
		if o.Passed() {
			r.PassCount++
		}
	}

	r.Participants = len(users)
	if scored > 0 {
		r.AverageScore = roundScore(scoreSum / float64(scored))
		r.PassRate = roundScore(float64(r.PassCount) / float64(scored) * 100)
	}
	if r.Completed > 0 {
		r.AverageTimeSpent = roundScore(float64(timeSum) / float64(r.Completed))
	}
	return r
}

// SummarizeStudent computes a user's summary over finished attempts.
// Provisional scores of partially graded attempts are left out.
func SummarizeStudent(userID int, outcomes []model.SessionOutcome) model.StudentSummary {
	sum := model.StudentSummary{UserID: userID}
	var scoreSum float64
	scored := 0
	for i := range outcomes {
		o := &outcomes[i]
		if o.UserID != userID || !o.IsCompleted {
			continue
		}
		sum.CompletedExams++
		if o.Score == nil || o.GradingStatus == model.GradingStatusPartial {
			continue
		}
		scoreSum += *o.Score
		scored++
		if o.Passed() {
			sum.PassCount++
		}
	}
	if scored > 0 {
		sum.AverageScore = roundScore(scoreSum / float64(scored))
		sum.SuccessRate = roundScore(float64(sum.PassCount) / float64(scored) * 100)
	}
	return sum
}

// AggregateSystem computes platform-wide statistics. Each session is judged
// against its own exam's passing score.
func AggregateSystem(outcomes []model.SessionOutcome) model.SystemStats {
	stats := model.SystemStats{TotalSessions: len(outcomes)}
	var scoreSum float64
	scored, passed := 0, 0
	for i := range outcomes {
		o := &outcomes[i]
		switch {
		case o.Status == model.SessionStatusInProgress:
			stats.ActiveSessions++
			continue
		case !o.IsCompleted:
			continue
		}
		stats.CompletedSessions++
		if o.Score == nil || o.GradingStatus == model.GradingStatusPartial {
			continue
		}
		scoreSum += *o.Score
		scored++
		if o.Passed() {
			passed++
		}
	}
	if scored > 0 {
		stats.AverageScore = roundScore(scoreSum / float64(scored))
		stats.PassRate = roundScore(float64(passed) / float64(scored) * 100)
	}
	return stats
}

