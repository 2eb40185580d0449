// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package process

import (
	"errors"
	"fmt"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// ErrorCode represents a category of process error.
type ErrorCode string

const (
	// ErrorCodeSpawnFailed indicates the OS could not create the process.
	ErrorCodeSpawnFailed ErrorCode = "SPAWN_FAILED"
	// ErrorCodeStreamCaptureFailed indicates a standard stream could not be piped.
	ErrorCodeStreamCaptureFailed ErrorCode = "STREAM_CAPTURE_FAILED"
	// ErrorCodeNotFound indicates no registry entry exists for the ID.
	ErrorCodeNotFound ErrorCode = "PROCESS_NOT_FOUND"
	// ErrorCodeStdinUnavailable indicates the input stream is borrowed or gone.
	ErrorCodeStdinUnavailable ErrorCode = "STDIN_UNAVAILABLE"
	// ErrorCodeLockCorrupted indicates a prior critical section panicked.
	ErrorCodeLockCorrupted ErrorCode = "LOCK_CORRUPTED"
	// ErrorCodeNotFoundOrHandled indicates stop found no handle to act on.
	ErrorCodeNotFoundOrHandled ErrorCode = "NOT_FOUND_OR_HANDLED"
	// ErrorCodeWriteFailed indicates writing to the input stream failed.
	ErrorCodeWriteFailed ErrorCode = "WRITE_FAILED"
	// ErrorCodeKillFailed indicates the terminate signal could not be delivered.
	ErrorCodeKillFailed ErrorCode = "KILL_FAILED"
	// ErrorCodeTimeout indicates a bounded wait ran out.
	ErrorCodeTimeout ErrorCode = "TIMEOUT"
	// ErrorCodeClosed indicates the manager has been shut down.
	ErrorCodeClosed ErrorCode = "CLOSED"
	// ErrorCodeInvalidArgument indicates a malformed request.
	ErrorCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrorCodeAlreadyExists indicates an ID collision on insert.
	ErrorCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
)

// Error is the error type returned by every caller-facing operation.
type Error struct {
	// Code is the error category.
	Code ErrorCode
	// ProcessID is the process the error refers to, if any.
	ProcessID string
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *Error) IsUserVisible() bool {
	return e.Code != ErrorCodeLockCorrupted
}

// UserMessage implements pkg/errors.UserVisibleError.
func (e *Error) UserMessage() string {
	return e.Error()
}

// Suggestion implements pkg/errors.UserVisibleError.
func (e *Error) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// ErrorType implements pkg/errors.ErrorClassifier.
func (e *Error) ErrorType() string {
	return strings.ToLower(string(e.Code))
}

// IsRetryable implements pkg/errors.ErrorClassifier.
// Only a busy input stream is expected to clear up on its own.
func (e *Error) IsRetryable() bool {
	return e.Code == ErrorCodeStdinUnavailable
}

func newError(code ErrorCode, id, message string) *Error {
	return &Error{Code: code, ProcessID: id, Message: message}
}

// WithDetail adds detail to the error.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	if e.Detail == "" && cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

// Sentinels for errors.Is. They match any *Error with the same code.
var (
	ErrSpawnFailed         = &Error{Code: ErrorCodeSpawnFailed}
	ErrStreamCaptureFailed = &Error{Code: ErrorCodeStreamCaptureFailed}
	ErrProcessNotFound     = &Error{Code: ErrorCodeNotFound}
	ErrStdinUnavailable    = &Error{Code: ErrorCodeStdinUnavailable}
	ErrLockCorrupted       = &Error{Code: ErrorCodeLockCorrupted}
	ErrNotFoundOrHandled   = &Error{Code: ErrorCodeNotFoundOrHandled}
	ErrWriteFailed         = &Error{Code: ErrorCodeWriteFailed}
	ErrKillFailed          = &Error{Code: ErrorCodeKillFailed}
	ErrTimeout             = &Error{Code: ErrorCodeTimeout}
	ErrClosed              = &Error{Code: ErrorCodeClosed}
	ErrInvalidArgument     = &Error{Code: ErrorCodeInvalidArgument}
)

// Code extracts the ErrorCode from an error chain, or "" if none.
func Code(err error) ErrorCode {
	var se *SpawnError
	if errors.As(err, &se) {
		return ErrorCodeSpawnFailed
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func errProcessNotFound(id string) *Error {
	return newError(ErrorCodeNotFound, id, fmt.Sprintf("process %s not found", id)).
		WithSuggestions("List live processes to check the ID")
}

func errStdinUnavailable(id, reason string) *Error {
	return newError(ErrorCodeStdinUnavailable, id, fmt.Sprintf("stdin for process %s is not available", id)).
		WithDetail(reason).
		WithSuggestions("Retry once the in-flight write has completed")
}

func errNotFoundOrHandled(id string) *Error {
	return newError(ErrorCodeNotFoundOrHandled, id,
		fmt.Sprintf("process %s not found or already being stopped", id))
}

func errWriteFailed(id string, cause error) *Error {
	return newError(ErrorCodeWriteFailed, id, fmt.Sprintf("failed to write to stdin of process %s", id)).
		WithCause(cause)
}

func errKillFailed(id string, cause error) *Error {
	return newError(ErrorCodeKillFailed, id, fmt.Sprintf("failed to kill process %s", id)).
		WithCause(cause)
}

func errLockCorrupted(cause error) *Error {
	return newError(ErrorCodeLockCorrupted, "", "process registry lock is corrupted").
		WithCause(cause).
		WithSuggestions("Restart the bridge; live processes will be killed on exit")
}

func errClosed() *Error {
	return newError(ErrorCodeClosed, "", "process manager is closed")
}

func errInvalidArgument(message string) *Error {
	return newError(ErrorCodeInvalidArgument, "", message)
}

func errStreamCaptureFailed(stream string, cause error) *Error {
	e := newError(ErrorCodeStreamCaptureFailed, "", fmt.Sprintf("failed to capture %s", stream))
	if cause != nil {
		e.WithCause(cause)
	}
	return e
}

// SpawnError describes a failed attempt to create a process, including the
// shell fallback when one was tried.
type SpawnError struct {
	// Command is the command as requested.
	Command string
	// Args are the arguments as requested.
	Args []string
	// Fallback is the shell command line attempted after the first failure,
	// empty if no fallback was tried.
	Fallback string
	// Cause is the error from the last attempt.
	Cause error
	// Initial is the error from the first attempt when a fallback was tried.
	Initial error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	line := shellescape.QuoteCommand(append([]string{e.Command}, e.Args...))
	if e.Fallback == "" {
		return fmt.Sprintf("failed to start process %s: %v", line, e.Cause)
	}
	return fmt.Sprintf("failed to start process %s: %v; fallback %s also failed: %v",
		line, e.Initial, e.Fallback, e.Cause)
}

// Unwrap returns the underlying errors.
func (e *SpawnError) Unwrap() []error {
	if e.Initial != nil {
		return []error{e.Cause, e.Initial}
	}
	return []error{e.Cause}
}

// Is lets errors.Is(err, ErrSpawnFailed) match a SpawnError.
func (e *SpawnError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == ErrorCodeSpawnFailed
}

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *SpawnError) IsUserVisible() bool { return true }

// UserMessage implements pkg/errors.UserVisibleError.
func (e *SpawnError) UserMessage() string { return e.Error() }

// Suggestion implements pkg/errors.UserVisibleError.
func (e *SpawnError) Suggestion() string {
	if isNotFound(e.Cause) {
		return fmt.Sprintf("Verify %q is installed and in your PATH, or use an absolute path", e.Command)
	}
	return "Verify the command and arguments are correct"
}
