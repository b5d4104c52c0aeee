package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrAssessmentNotPublished = errors.New("assessment is not published")
	ErrOutsideWindow          = errors.New("assessment is outside its availability window")
	ErrNotStarted             = errors.New("session has not started")
	ErrAnswersFrozen          = errors.New("session is submitted, answers are read-only")
	ErrNotSubmitted           = errors.New("session has not been submitted")
	ErrUnknownQuestion        = errors.New("question does not belong to this assessment")
	ErrInvalidAnswer          = errors.New("answer does not fit the question")
	ErrInvalidPosition        = errors.New("position is outside the paper")
	ErrTimeLimitReached       = errors.New("time limit for this section or question is used up")
	ErrEventsClosed           = errors.New("session does not accept monitoring events")
	ErrNotReviewable          = errors.New("only free-text answers can be reviewed")
	ErrMachineClosed          = errors.New("session machine is shut down")
)

// PersistenceError wraps a failed store call. The caller may retry; the
// machine never advances past a write that did not succeed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a PersistenceError.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func persistErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
