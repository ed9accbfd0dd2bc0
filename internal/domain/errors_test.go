package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestError_IsMatchesByType(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewValidationError("bad input %d", 1))

	if !IsValidation(err) {
		t.Error("expected validation error to match through wrapping")
	}
	if IsNotFound(err) {
		t.Error("validation error should not match not found")
	}
	if TypeOf(err) != ErrorTypeValidation {
		t.Errorf("expected validation type, got %s", TypeOf(err))
	}
	if TypeOf(errors.New("plain")) != ErrorTypeInternal {
		t.Error("plain errors classify as internal")
	}
}

func TestError_UnwrapAndRetryAfter(t *testing.T) {
	cause := errors.New("boom")
	err := NewTransientError("upstream", cause)
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}

	rl := NewRateLimitedError("github", 3*time.Second)
	if RetryAfter(fmt.Errorf("x: %w", rl)) != 3*time.Second {
		t.Error("retry-after lost through wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", NewTransientError("503", nil), true},
		{"rate limited", NewRateLimitedError("web", 0), true},
		{"terminal", NewTerminalError("401", nil), false},
		{"validation", NewValidationError("bad"), false},
		{"not found", NewNotFoundError("flow", "x"), false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"unclassified", errors.New("mystery"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseErrorType(t *testing.T) {
	for _, typ := range []ErrorType{
		ErrorTypeValidation, ErrorTypeNotFound, ErrorTypeOrchestration, ErrorTypeResourceExhausted,
		ErrorTypeRateLimited, ErrorTypeTransientBackend, ErrorTypeTerminalBackend, ErrorTypeInternal,
	} {
		if got := ParseErrorType(typ.String()); got != typ {
			t.Errorf("ParseErrorType(%q) = %v", typ.String(), got)
		}
	}
	if got := ParseErrorType("bogus"); got != ErrorTypeInternal {
		t.Errorf("unknown type parsed as %v", got)
	}
}
