package logging

import "fmt"

// OperationError annotates an error with the stage that produced it and the
// run or request it belongs to.
type OperationError struct {
	Operation string
	RequestID string
	Subject   string
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	msg := e.Operation
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (run_id=%s)", e.RequestID)
	}
	if e.Subject != "" {
		msg += fmt.Sprintf(" [%s]", e.Subject)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps an error with structured context about where it occurred.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// NewSubjectError is NewOperationError for failures tied to one input, such
// as a single query image.
func NewSubjectError(operation, requestID, subject string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Subject: subject, Err: err}
}
