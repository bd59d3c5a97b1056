package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CodeValidation, "invalid node path")

	if err.Code != CodeValidation {
		t.Errorf("expected code=%s, got %s", CodeValidation, err.Code)
	}
	if err.Message != "invalid node path" {
		t.Errorf("expected message='invalid node path', got %s", err.Message)
	}
	if len(err.Stack) == 0 {
		t.Error("expected stack trace to be captured")
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "simple error",
			err:      New(CodeValidation, "invalid"),
			contains: []string{"VALIDATION_ERROR", "invalid"},
		},
		{
			name: "error with op",
			err: &Error{
				Code:    CodeInternal,
				Message: "redis failed",
				Op:      "store.record_upload",
			},
			contains: []string{"store.record_upload", "INTERNAL_ERROR", "redis failed"},
		},
		{
			name: "error with underlying",
			err: &Error{
				Code:    CodeEngine,
				Message: "render failed",
				Err:     fmt.Errorf("exit status 3"),
			},
			contains: []string{"render failed", "exit status 3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			str := tt.err.Error()
			for _, c := range tt.contains {
				if !strings.Contains(str, c) {
					t.Errorf("expected error string to contain %q, got: %s", c, str)
				}
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "op", "msg") != nil {
		t.Error("expected Wrap(nil) to return nil")
	}

	original := fmt.Errorf("connection refused")
	wrapped := Wrap(original, "relay.publish", "publish failed")

	if wrapped.Code != CodeInternal {
		t.Errorf("expected code=%s, got %s", CodeInternal, wrapped.Code)
	}
	if !errors.Is(wrapped, original) {
		t.Error("expected wrapped error to unwrap to original")
	}

	nf := NotFound("file", "abc")
	rewrapped := Wrap(nf, "store.get_file", "lookup failed")
	if rewrapped.Code != CodeNotFound {
		t.Errorf("expected code to be preserved, got %s", rewrapped.Code)
	}
	if rewrapped.Fields["id"] != "abc" {
		t.Errorf("expected fields to be preserved, got %v", rewrapped.Fields)
	}
}

func TestWrapWithCode(t *testing.T) {
	err := WrapWithCode(fmt.Errorf("exit status 1"), CodeEngine, "renderer.exec", "engine failed")
	if err.Code != CodeEngine {
		t.Errorf("expected code=%s, got %s", CodeEngine, err.Code)
	}
	if WrapWithCode(nil, CodeEngine, "op", "msg") != nil {
		t.Error("expected nil for nil error")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeValidation, 400},
		{CodeBadRequest, 400},
		{CodeNotFound, 404},
		{CodeConflict, 409},
		{CodeEngine, 502},
		{CodeUnavailable, 503},
		{CodeInternal, 500},
		{Code("SOMETHING_ELSE"), 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := (&Error{Code: tt.code}).HTTPStatus(); got != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, got)
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	if err := ValidationField("path", "node path is required"); err.Fields["field"] != "path" {
		t.Errorf("expected field=path, got %v", err.Fields)
	}
	if err := NotFound("download link", "x"); err.Fields["resource"] != "download link" {
		t.Errorf("expected resource field, got %v", err.Fields)
	}
	if err := Unavailable("renderer"); !strings.Contains(err.Message, "renderer") {
		t.Errorf("expected message to name the service, got %s", err.Message)
	}
	if err := Conflict("token collision"); err.HTTPStatus() != 409 {
		t.Errorf("expected 409, got %d", err.HTTPStatus())
	}
}

func TestHelpers(t *testing.T) {
	plain := fmt.Errorf("plain")

	if GetCode(plain) != CodeInternal {
		t.Error("expected plain errors to map to CodeInternal")
	}
	if GetHTTPStatus(plain) != 500 {
		t.Error("expected plain errors to map to 500")
	}
	if GetFields(plain) != nil {
		t.Error("expected no fields for plain error")
	}
	if IsNotFound(nil) {
		t.Error("expected nil not to be a not found error")
	}

	wrapped := fmt.Errorf("outer: %w", Validation("bad"))
	if !IsValidation(wrapped) {
		t.Error("expected IsValidation to see through fmt wrapping")
	}
	if !IsNotFound(NotFound("share token", "t")) {
		t.Error("expected IsNotFound to be true")
	}
}

func TestErrorIs(t *testing.T) {
	a := New(CodeNotFound, "a")
	b := New(CodeNotFound, "b")
	c := New(CodeValidation, "c")

	if !Is(a, b) {
		t.Error("expected errors with same code to match")
	}
	if Is(a, c) {
		t.Error("expected errors with different codes not to match")
	}

	var target *Error
	if !As(fmt.Errorf("x: %w", a), &target) || target.Message != "a" {
		t.Error("expected As to extract *Error")
	}
}

func TestStackTrace(t *testing.T) {
	err := New(CodeInternal, "boom")
	if !strings.Contains(err.StackTrace(), "errors_test.go") {
		t.Errorf("expected stack trace to include the test file, got: %s", err.StackTrace())
	}
	if (&Error{}).StackTrace() != "" {
		t.Error("expected empty stack trace")
	}
}

func TestWrapCopiesFields(t *testing.T) {
	inner := ValidationField("frames", "end is before start")
	outer := Wrap(inner, "dispatch.submit", "invalid render request")
	outer.WithField("render_id", "r1")

	if _, leaked := inner.Fields["render_id"]; leaked {
		t.Errorf("expected wrapping to leave the inner fields alone, got %v", inner.Fields)
	}
	if outer.Fields["field"] != "frames" {
		t.Errorf("expected field=frames on the wrapper, got %v", outer.Fields)
	}
	if outer.HTTPStatus() != 400 {
		t.Errorf("expected 400, got %d", outer.HTTPStatus())
	}
}
