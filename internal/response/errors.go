package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrAccountInactive    ErrCode = "ACCOUNT_INACTIVE"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden ErrCode = "FORBIDDEN"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrNotEligible        ErrCode = "NOT_ELIGIBLE"
	ErrInvalidAccessCode  ErrCode = "INVALID_ACCESS_CODE"
	ErrAccessCodeState    ErrCode = "ACCESS_CODE_UNUSABLE"
	ErrAlreadySubmitted   ErrCode = "ALREADY_SUBMITTED"
	ErrSessionTimedOut    ErrCode = "SESSION_TIMED_OUT"
	ErrBackNavigation     ErrCode = "BACK_NAVIGATION_DISABLED"
	ErrInvalidTransition  ErrCode = "INVALID_STATUS_TRANSITION"
	ErrNoQuestions        ErrCode = "NO_QUESTIONS"
	ErrExamNotDraft       ErrCode = "EXAM_NOT_DRAFT"
	ErrSessionNotFinished ErrCode = "SESSION_NOT_FINISHED"
	ErrGradingNotAllowed  ErrCode = "GRADING_NOT_ALLOWED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Invalid username or password."
	case ErrAccountInactive:
		return "This account has been deactivated."
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "The request conflicts with the current state of the resource."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrNotEligible:
		return "You may not start this exam."
	case ErrInvalidAccessCode:
		return "Invalid token or exam not found."
	case ErrAccessCodeState:
		return "This access token can no longer be used."
	case ErrAlreadySubmitted:
		return "This exam session has already been submitted."
	case ErrSessionTimedOut:
		return "The time for this exam session has run out."
	case ErrBackNavigation:
		return "Going back to earlier questions is not allowed in this exam."
	case ErrInvalidTransition:
		return "The exam cannot move to the requested status."
	case ErrNoQuestions:
		return "This exam has no questions."
	case ErrExamNotDraft:
		return "This exam can only be edited while in draft."
	case ErrSessionNotFinished:
		return "This exam session is still in progress."
	case ErrGradingNotAllowed:
		return "This answer is graded automatically."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
