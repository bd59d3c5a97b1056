// Package errors provides coded errors shared by the API and the render workers.
// A Code decides both the HTTP status a handler answers with and how a worker
// reacts to a failed job.
package errors

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"runtime"
	"strings"
)

type Code string

const (
	CodeInternal    Code = "INTERNAL_ERROR"
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeBadRequest  Code = "BAD_REQUEST"
	CodeNotFound    Code = "NOT_FOUND"
	CodeConflict    Code = "CONFLICT"
	CodeUnavailable Code = "UNAVAILABLE"
	// CodeEngine marks a failure reported by the render engine itself.
	CodeEngine Code = "ENGINE_ERROR"
)

var statusByCode = map[Code]int{
	CodeValidation:  http.StatusBadRequest,
	CodeBadRequest:  http.StatusBadRequest,
	CodeNotFound:    http.StatusNotFound,
	CodeConflict:    http.StatusConflict,
	CodeEngine:      http.StatusBadGateway,
	CodeUnavailable: http.StatusServiceUnavailable,
}

// Error carries a Code plus the operation that failed ("store.record_upload"),
// structured fields for logs and error bodies, and the stack where it was made.
type Error struct {
	Code    Code
	Message string
	Op      string
	Err     error
	Fields  map[string]any
	Stack   []Frame
}

type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Error renders as "op: [CODE] message: cause", omitting empty parts.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op + ": ")
	}
	if e.Code != "" {
		fmt.Fprintf(&b, "[%s] ", e.Code)
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// HTTPStatus is 500 for codes without an explicit mapping.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (e *Error) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Stack: captureStack(2)}
}

// Wrap adds op and message to err. A coded err keeps its code and a copy of
// its fields; anything else becomes CodeInternal.
func Wrap(err error, op string, message string) *Error {
	if err == nil {
		return nil
	}
	w := &Error{Code: CodeInternal, Message: message, Op: op, Err: err, Stack: captureStack(2)}
	var inner *Error
	if errors.As(err, &inner) {
		w.Code = inner.Code
		if len(inner.Fields) > 0 {
			w.Fields = maps.Clone(inner.Fields)
		}
	}
	return w
}

func WrapWithCode(err error, code Code, op string, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Op: op, Err: err, Stack: captureStack(2)}
}

func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// NotFound names the missing resource in both the message and the fields.
func NotFound(resource string, id string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id)).
		WithField("resource", resource).
		WithField("id", id)
}

func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// ValidationField is a validation error blaming one request field.
func ValidationField(field string, message string) *Error {
	return New(CodeValidation, message).WithField("field", field)
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

func Unavailable(service string) *Error {
	return New(CodeUnavailable, "service unavailable: "+service).WithField("service", service)
}

func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// GetCode is CodeInternal for errors without a code.
func GetCode(err error) Code {
	if e, ok := asError(err); ok {
		return e.Code
	}
	return CodeInternal
}

func GetHTTPStatus(err error) int {
	if e, ok := asError(err); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func GetFields(err error) map[string]any {
	if e, ok := asError(err); ok && e.Fields != nil {
		return e.Fields
	}
	return nil
}

func IsCode(err error, code Code) bool {
	return err != nil && GetCode(err) == code
}

func IsNotFound(err error) bool   { return IsCode(err, CodeNotFound) }
func IsValidation(err error) bool { return IsCode(err, CodeValidation) }

const (
	maxStackDepth  = 32
	maxStackFrames = 10
)

func captureStack(skip int) []Frame {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	it := runtime.CallersFrames(pcs[:n])

	frames := make([]Frame, 0, maxStackFrames)
	for len(frames) < maxStackFrames {
		f, more := it.Next()
		if !strings.Contains(f.File, "runtime/") {
			frames = append(frames, Frame{File: f.File, Line: f.Line, Function: f.Function})
		}
		if !more {
			break
		}
	}
	return frames
}

func As(err error, target any) bool { return errors.As(err, target) }
func Is(err, target error) bool     { return errors.Is(err, target) }
