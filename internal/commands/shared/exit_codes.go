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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	pkgerrors "github.com/tombee/procbridge/pkg/errors"
)

// Exit codes for procbridge commands
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitConfigError   = 2
	ExitSpawnFailed   = 3
	ExitProcessFailed = 4 // attached process exited unsuccessfully
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates an error for configuration problems
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitConfigError,
		Message: msg,
		Cause:   cause,
	}
}

// NewSpawnError creates an error for a process that could not be started
func NewSpawnError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitSpawnFailed,
		Message: msg,
		Cause:   cause,
	}
}

// NewProcessFailedError creates an error for an attached process that exited unsuccessfully
func NewProcessFailedError(msg string) *ExitError {
	return &ExitError{
		Code:    ExitProcessFailed,
		Message: msg,
	}
}

// HandleExitError prints err and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(WriteExitError(os.Stderr, err))
}

// WriteExitError prints err and any suggestion to w and returns the exit
// code it maps to.
func WriteExitError(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}

	code := ExitFailure
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}

	if msg := err.Error(); msg != "" {
		fmt.Fprintln(w, "Error:", msg)
	}
	printUserVisibleSuggestion(w, err)

	return code
}

// printUserVisibleSuggestion prints the suggestion of the first
// UserVisibleError in the chain, if any.
func printUserVisibleSuggestion(w io.Writer, err error) {
	var userErr pkgerrors.UserVisibleError
	if !errors.As(err, &userErr) || !userErr.IsUserVisible() {
		return
	}
	if suggestion := userErr.Suggestion(); suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
}
