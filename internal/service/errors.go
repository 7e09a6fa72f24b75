package service

import (
	"errors"
	"fmt"
)

var (
	// Not found. Ownership failures use these too so callers never learn
	// that another user's record exists.
	ErrNotFound          = errors.New("resource not found")
	ErrExamNotFound      = errors.New("exam not found")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrQuestionNotInExam = errors.New("question does not belong to this exam")
	ErrSessionNotFound   = errors.New("session not found")
	ErrAnswerNotFound    = errors.New("answer not found")
	ErrTokenNotFound     = errors.New("token not found")
	ErrUserNotFound      = errors.New("user not found")

	// Conflicts
	ErrAlreadyFinalized    = errors.New("session already submitted")
	ErrDuplicateSession    = errors.New("an open session already exists for this exam")
	ErrTokenState          = errors.New("token is not in a valid state for this operation")
	ErrSessionTimedOut     = errors.New("session time has expired")
	ErrSessionNotFinalized = errors.New("session is still in progress")
	ErrInvalidTransition   = errors.New("invalid exam status transition")
	ErrBackNavigation      = errors.New("back navigation is not allowed for this exam")
	ErrGradingNotAllowed   = errors.New("grading not allowed for this question type")
	ErrUsernameTaken       = errors.New("username already exists")
	ErrExamNotEditable     = errors.New("exam can only be edited while in draft")
	ErrNoQuestions         = errors.New("exam has no questions")

	// Auth
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")

	// Fatal
	ErrTokenSpaceExhausted = errors.New("token generation exhausted its retry budget")
)

// ValidationError reports malformed user input. No state changes when it is returned.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// EligibilityError is returned when a user may not start an exam.
// It is an expected outcome, not a failure.
type EligibilityError struct {
	Decision Decision
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("not eligible (%s): %s", e.Decision.Reason, e.Decision.Message)
}

// IsNotFound checks if error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExamNotFound) ||
		errors.Is(err, ErrQuestionNotFound) ||
		errors.Is(err, ErrQuestionNotInExam) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrAnswerNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// IsConflict checks if error represents a state conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyFinalized) ||
		errors.Is(err, ErrDuplicateSession) ||
		errors.Is(err, ErrTokenState) ||
		errors.Is(err, ErrSessionTimedOut) ||
		errors.Is(err, ErrSessionNotFinalized) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrBackNavigation) ||
		errors.Is(err, ErrGradingNotAllowed) ||
		errors.Is(err, ErrUsernameTaken) ||
		errors.Is(err, ErrExamNotEditable) ||
		errors.Is(err, ErrNoQuestions)
}

// IsValidation checks if error represents a validation failure
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsEligibility checks if error represents an eligibility denial
func IsEligibility(err error) bool {
	var ee *EligibilityError
	return errors.As(err, &ee)
}
