package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide whether to retry.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindUnknownKind ErrorKind = "unknown_kind"
	KindNotFound    ErrorKind = "not_found"
	KindInput       ErrorKind = "input"
	KindDependency  ErrorKind = "dependency"
	KindIO          ErrorKind = "io"
	KindCancelled   ErrorKind = "cancelled"
	KindInternal    ErrorKind = "internal"
)

// Sentinels for errors.Is; matching compares kinds only.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrUnknownKind = &Error{Kind: KindUnknownKind}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrInput       = &Error{Kind: KindInput}
	ErrDependency  = &Error{Kind: KindDependency}
	ErrIO          = &Error{Kind: KindIO}
	ErrCancelled   = &Error{Kind: KindCancelled}
	ErrInternal    = &Error{Kind: KindInternal}
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// Error is a classified, stage-aware failure.
type Error struct {
	Kind       ErrorKind   `json:"kind"`
	Stage      string      `json:"stage,omitempty"`
	Message    string      `json:"message"`
	CommandLog *CommandLog `json:"commandLog,omitempty"`
	Err        error       `json:"-"`
}

// Error formats failures for logs and UI.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.CommandLog != nil && e.CommandLog.Command != "" {
		msg = fmt.Sprintf("%s (cmd=%s exit=%d)", msg, e.CommandLog.Command, e.CommandLog.ExitCode)
	}
	return msg
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validationf builds a request validation error.
func Validationf(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

// NotFoundf builds a lookup miss error.
func NotFoundf(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

// InputError wraps a bad or missing source.
func InputError(err error, format string, args ...any) *Error {
	return newError(KindInput, err, format, args...)
}

// DependencyError wraps a missing external capability or credential.
func DependencyError(err error, format string, args ...any) *Error {
	return newError(KindDependency, err, format, args...)
}

// IOError wraps a filesystem or network failure.
func IOError(err error, format string, args ...any) *Error {
	return newError(KindIO, err, format, args...)
}

// InternalError wraps an unexpected failure.
func InternalError(err error, format string, args ...any) *Error {
	return newError(KindInternal, err, format, args...)
}

// Cancelled builds the error a stage returns after observing cancellation.
func Cancelled(err error) *Error {
	return &Error{Kind: KindCancelled, Message: "job cancelled", Err: err}
}

// KindOf classifies any error into the taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) && de.Kind != "" {
		return de.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindIO
	default:
		return KindInternal
	}
}

// Retryable reports whether a user-initiated retry can succeed without changes.
func Retryable(err error) bool {
	return KindOf(err) == KindIO
}

// WithStage tags err with the stage it happened in, classifying it if needed.
func WithStage(err error, stage string) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		if de.Stage != "" {
			return de
		}
		tagged := *de
		tagged.Stage = stage
		return &tagged
	}
	return &Error{Kind: KindOf(err), Stage: stage, Message: err.Error(), Err: err}
}
