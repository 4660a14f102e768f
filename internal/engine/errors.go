package engine

import (
	"errors"
	"fmt"
)

// CommitError describes a commit the engine failed to process. The engine
// logs it and moves on to the next commit.
type CommitError struct {
	// Code identifies the error category.
	Code CommitErrorCode

	// Seq and Repo identify the commit.
	Seq  int64
	Repo string

	// Err is the underlying failure. For panics it wraps the recovered value.
	Err error
}

// CommitErrorCode categorizes commit failures.
type CommitErrorCode string

const (
	// ErrCodeHandlerFailed indicates the handler returned an error, usually
	// a failed ledger write.
	ErrCodeHandlerFailed CommitErrorCode = "HANDLER_FAILED"

	// ErrCodePanic indicates processing panicked and was recovered.
	ErrCodePanic CommitErrorCode = "PANIC"
)

// Error implements the error interface.
func (e *CommitError) Error() string {
	return fmt.Sprintf("%s: seq=%d repo=%s: %v", e.Code, e.Seq, e.Repo, e.Err)
}

// Unwrap returns the underlying error.
func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsPanicError reports whether err is a recovered panic.
// Uses errors.As to handle wrapped errors.
func IsPanicError(err error) bool {
	var ce *CommitError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodePanic
	}
	return false
}
