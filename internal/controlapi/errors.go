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

package controlapi

import (
	"errors"

	"github.com/tombee/procbridge/internal/process"
	pkgerrors "github.com/tombee/procbridge/pkg/errors"
)

// ErrorBody renders err for the wire. Process errors keep their code;
// malformed requests become INVALID_ARGUMENT and anything else INTERNAL.
func ErrorBody(err error) *ErrorResponse {
	if err == nil {
		return nil
	}

	message, suggestion := pkgerrors.Describe(err)
	body := &ErrorResponse{
		Code:       "INTERNAL",
		Message:    message,
		Suggestion: suggestion,
		Retryable:  pkgerrors.Retryable(err),
	}

	var pe *process.Error
	if errors.As(err, &pe) {
		body.ProcessID = pe.ProcessID
	}

	switch {
	case process.Code(err) != "":
		body.Code = string(process.Code(err))
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrUnknownOp):
		body.Code = string(process.ErrorCodeInvalidArgument)
	}

	return body
}
