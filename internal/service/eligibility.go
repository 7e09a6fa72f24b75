package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// DenyReason names why a user may not start an exam.
type DenyReason string

const (
	DenyNotAvailable DenyReason = "not_available"
	DenyNotStarted   DenyReason = "not_started"
	DenyEnded        DenyReason = "ended"
	DenyAccessDenied DenyReason = "access_denied"
	DenyMaxAttempts  DenyReason = "max_attempts_reached"
)

// Decision is the outcome of an eligibility check.
type Decision struct {
	Admit   bool       `json:"admit"`
	Reason  DenyReason `json:"reason,omitempty"`
	Message string     `json:"message"`
}

func admit() Decision {
	return Decision{Admit: true, Message: "You may start this exam."}
}

func deny(reason DenyReason, format string, args ...any) Decision {
	return Decision{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// CheckEligibility decides whether user may start exam at now. Reasons are
// checked in a fixed order and the first match wins.
func CheckEligibility(user *model.User, exam *model.Exam, completedAttempts int, now time.Time) Decision {
	switch {
	case exam.Status != model.ExamStatusPublished:
		return deny(DenyNotAvailable, "This exam is not available.")
	case now.Before(exam.StartTime):
		return deny(DenyNotStarted, "This exam has not started yet. It starts at %s.",
			exam.StartTime.Format(time.RFC3339))
	case now.After(exam.EndTime):
		return deny(DenyEnded, "This exam has ended.")
	case !exam.AllowsUser(user):
		return deny(DenyAccessDenied, "You do not have access to this exam.")
	case completedAttempts >= exam.MaxAttempts:
		return deny(DenyMaxAttempts, "Maximum attempts reached (%d) for this exam.", exam.MaxAttempts)
	}
	return admit()
}

// EligibilityService loads what CheckEligibility needs from the store.
type EligibilityService struct {
	store repository.Store
	log   zerolog.Logger
}

// NewEligibilityService creates a new EligibilityService.
func NewEligibilityService(store repository.Store, log zerolog.Logger) *EligibilityService {
	return &EligibilityService{
		store: store,
		log:   log.With().Str("component", "eligibility").Logger(),
	}
}

// Check loads the exam and the user's completed attempts and decides.
func (s *EligibilityService) Check(ctx context.Context, user *model.User, examID uuid.UUID, now time.Time) (Decision, *model.Exam, error) {
	d, exam, _, err := s.evaluate(ctx, s.store, user, examID, now)
	return d, exam, err
}

// evaluate is Check against st, also returning the completed attempt count.
func (s *EligibilityService) evaluate(ctx context.Context, st repository.Store, user *model.User, examID uuid.UUID, now time.Time) (Decision, *model.Exam, int, error) {
	exam, err := st.Exams().GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Decision{}, nil, 0, ErrExamNotFound
		}
		return Decision{}, nil, 0, fmt.Errorf("get exam: %w", err)
	}

	completed, err := st.Sessions().CountCompleted(ctx, exam.ID, user.ID)
	if err != nil {
		return Decision{}, nil, 0, fmt.Errorf("count completed sessions: %w", err)
	}

	d := CheckEligibility(user, exam, completed, now)
	s.audit(user, exam, d)
	return d, exam, completed, nil
}

func (s *EligibilityService) audit(user *model.User, exam *model.Exam, d Decision) {
	if d.Admit {
		return
	}
	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Int("user_id", user.ID).
		Str("reason", string(d.Reason)).
		Msg("Eligibility denied")
}
