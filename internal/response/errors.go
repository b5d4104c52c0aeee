package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrTeacherAccessOnly ErrCode = "TEACHER_ACCESS_ONLY"
	ErrNotOwner          ErrCode = "NOT_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidAnswer  ErrCode = "INVALID_ANSWER"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Assessment ────────────────────────────────────────────────────
	ErrAssessmentNotPublished ErrCode = "ASSESSMENT_NOT_PUBLISHED"
	ErrAssessmentNotDraft     ErrCode = "ASSESSMENT_NOT_DRAFT"
	ErrOutsideWindow          ErrCode = "OUTSIDE_AVAILABILITY_WINDOW"

	// ─── Session ───────────────────────────────────────────────────────
	ErrNotEnrolled      ErrCode = "NOT_ENROLLED"
	ErrNotStarted       ErrCode = "SESSION_NOT_STARTED"
	ErrAnswersFrozen    ErrCode = "ANSWERS_FROZEN"
	ErrNotSubmitted     ErrCode = "SESSION_NOT_SUBMITTED"
	ErrUnknownQuestion  ErrCode = "UNKNOWN_QUESTION"
	ErrInvalidPosition  ErrCode = "INVALID_POSITION"
	ErrTimeLimitReached ErrCode = "TIME_LIMIT_REACHED"
	ErrEventsClosed     ErrCode = "EVENTS_CLOSED"
	ErrNotReviewable    ErrCode = "NOT_REVIEWABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrRetryable          ErrCode = "TEMPORARILY_UNAVAILABLE"
	ErrSandboxUnavailable ErrCode = "SANDBOX_UNAVAILABLE"
	ErrInternal           ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You are not allowed to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrTeacherAccessOnly:
		return "This resource is restricted to teachers."
	case ErrNotOwner:
		return "This resource belongs to someone else."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrInvalidAnswer:
		return "The answer does not fit the question."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."

	// ─── Assessment ────────────────────────────────────────────────────
	case ErrAssessmentNotPublished:
		return "This assessment is not published."
	case ErrAssessmentNotDraft:
		return "This assessment is published and can no longer be edited."
	case ErrOutsideWindow:
		return "This assessment is not available at this time."

	// ─── Session ───────────────────────────────────────────────────────
	case ErrNotEnrolled:
		return "You are not enrolled in this assessment."
	case ErrNotStarted:
		return "The assessment has not been started."
	case ErrAnswersFrozen:
		return "The assessment is submitted. Answers are read-only."
	case ErrNotSubmitted:
		return "The session has not been submitted yet."
	case ErrUnknownQuestion:
		return "The question does not belong to this assessment."
	case ErrInvalidPosition:
		return "The position is outside the paper."
	case ErrTimeLimitReached:
		return "The time limit for this section or question has been used up."
	case ErrEventsClosed:
		return "This session no longer accepts monitoring events."
	case ErrNotReviewable:
		return "Only free-text answers can be reviewed."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrRetryable:
		return "The change could not be saved. Please retry."
	case ErrSandboxUnavailable:
		return "Code execution is temporarily unavailable."
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
