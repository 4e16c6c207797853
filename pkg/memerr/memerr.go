// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memerr defines the error taxonomy shared by every layer of the
// memory service.
//
// Errors carry a stable machine-readable Code plus an optional context map
// (field, resource, identifier, suggestion, valid actions). The boundary
// serializes them directly; internal layers match on Code instead of string
// comparison.
package memerr

import (
	"errors"
	"fmt"
)

// Code identifies an error class. Codes are contractual: they appear verbatim
// in RPC responses.
type Code string

const (
	CodeValidation        Code = "VALIDATION"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeFileLocked        Code = "FILE_LOCKED"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeMissingAction     Code = "MISSING_ACTION"
	CodeInvalidAction     Code = "INVALID_ACTION"
	CodeInvalidActionType Code = "INVALID_ACTION_TYPE"
	CodeSizeLimitExceeded Code = "SIZE_LIMIT_EXCEEDED"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeCircuitBreakerOpen Code = "CIRCUIT_BREAKER_OPEN"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeTimeout           Code = "TIMEOUT"
	CodeRetryExhausted    Code = "RETRY_EXHAUSTED"
	CodeNetworkError      Code = "NETWORK_ERROR"
	CodeEmbeddingFailed   Code = "EMBEDDING_FAILED"
	CodeEmbeddingUnavailable Code = "EMBEDDING_UNAVAILABLE"
	CodeVectorStoreError  Code = "VECTOR_STORE_ERROR"
	CodeDatabaseError     Code = "DATABASE_ERROR"
	CodeMigrationError    Code = "MIGRATION_ERROR"
	CodeExtractionFailed  Code = "EXTRACTION_FAILED"
	CodeExtractionUnavailable Code = "EXTRACTION_UNAVAILABLE"
	CodeNotImplemented    Code = "NOT_IMPLEMENTED"
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeUnknown           Code = "UNKNOWN_ERROR"
)

// Error is the canonical error value for the service.
type Error struct {
	Code    Code
	Msg     string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match on code for sentinel-style comparisons.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// CodeOf extracts the taxonomy code from any error chain.
// Unrecognized errors map to UNKNOWN_ERROR.
func CodeOf(err error) Code {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Retryable reports whether an error class is safe to retry.
// Validation and policy errors are never retried.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeNetworkError, CodeTimeout, CodeServiceUnavailable:
		return true
	default:
		return false
	}
}

// Builder constructs Errors fluently. The zero builder is not usable;
// start from New.
type Builder struct {
	err *Error
}

// New starts building an error with the given code.
func New(code Code) *Builder {
	return &Builder{err: &Error{Code: code, Context: map[string]any{}}}
}

// Message sets the human-readable message.
func (b *Builder) Message(format string, args ...any) *Builder {
	b.err.Msg = fmt.Sprintf(format, args...)
	return b
}

// Cause attaches the underlying error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Err = err
	return b
}

// Field names the offending input field.
func (b *Builder) Field(name string) *Builder { return b.With("field", name) }

// Resource names the resource type involved.
func (b *Builder) Resource(name string) *Builder { return b.With("resource", name) }

// Identifier names the specific resource instance.
func (b *Builder) Identifier(id string) *Builder { return b.With("identifier", id) }

// Suggestion attaches a remediation hint for the caller.
func (b *Builder) Suggestion(s string) *Builder { return b.With("suggestion", s) }

// ValidActions attaches the accepted action set for action-based tools.
func (b *Builder) ValidActions(actions []string) *Builder { return b.With("validActions", actions) }

// With attaches an arbitrary context key.
func (b *Builder) With(key string, value any) *Builder {
	b.err.Context[key] = value
	return b
}

// Build finalizes the error. Empty context maps are dropped.
func (b *Builder) Build() *Error {
	if len(b.err.Context) == 0 {
		b.err.Context = nil
	}
	return b.err
}

// Convenience constructors for the most common classes.

func Validation(format string, args ...any) *Error {
	return New(CodeValidation).Message(format, args...).Build()
}

func NotFound(resource, id string) *Error {
	return New(CodeNotFound).Message("%s not found: %s", resource, id).
		Resource(resource).Identifier(id).Build()
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict).Message(format, args...).Build()
}

func PermissionDenied(format string, args ...any) *Error {
	return New(CodePermissionDenied).Message(format, args...).Build()
}

func Internal(err error) *Error {
	return New(CodeInternal).Message("internal error").Cause(err).Build()
}

func Database(op string, err error) *Error {
	return New(CodeDatabaseError).Message("database %s failed", op).Cause(err).Build()
}

func NotImplemented(what string) *Error {
	return New(CodeNotImplemented).Message("%s is not implemented", what).Build()
}
