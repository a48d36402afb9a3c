package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	CodeConfig      = "CONFIG_ERROR"
	CodeValidation  = "VALIDATION"
	CodeSubmission  = "SUBMISSION"
	CodePoll        = "POLL"
	CodeCircuitOpen = "CIRCUIT_OPEN"
	CodeRemoteJob   = "REMOTE_JOB"
)

// Common application errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")

	ErrSubmission           = errors.New("submission failed")
	ErrSubmissionInProgress = errors.New("a submission is already in progress")
	ErrPoll                 = errors.New("status poll failed")
	ErrCircuitOpen          = errors.New("too many connection errors")
	ErrRemoteJob            = errors.New("remote job failed")
	ErrNotConnected         = errors.New("server not connected")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Message returns the human-facing part of err: the AppError message when there is one.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// CodeOf returns the AppError code carried by err, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
