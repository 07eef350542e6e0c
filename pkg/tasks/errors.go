package tasks

import (
	"errors"
	"fmt"
)

// Error kinds. Executors return a *TaskError whose Kind is one of these so
// callers can branch with errors.Is.
var (
	ErrMalformedTask      = errors.New("malformed task")
	ErrFileNotFound       = errors.New("file not found")
	ErrMissingArtifact    = errors.New("missing artifact")
	ErrKeyPreparation     = errors.New("key preparation failed")
	ErrRemoteTransfer     = errors.New("remote transfer failed")
	ErrRemoteExecution    = errors.New("remote execution failed")
	ErrDatabaseConnection = errors.New("database connection failed")
	ErrSQLExecution       = errors.New("sql execution failed")
	ErrHTTPTransport      = errors.New("http transport failed")
)

// TaskError is a classified failure of a single task. Msg is the
// human-readable text that ends up in the phase report.
type TaskError struct {
	Kind error
	Msg  string
	Err  error
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *TaskError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Errorf builds a TaskError of the given kind with a formatted message.
func Errorf(kind error, format string, args ...any) error {
	return &TaskError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a TaskError of the given kind that keeps cause in the chain.
func Wrap(kind error, cause error, format string, args ...any) error {
	return &TaskError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func malformedf(index int, format string, args ...any) error {
	return &TaskError{
		Kind: ErrMalformedTask,
		Msg:  fmt.Sprintf("task #%d: %s", index, fmt.Sprintf(format, args...)),
	}
}
