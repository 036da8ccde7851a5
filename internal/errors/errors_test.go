package errors

import (
	"errors"
	"testing"
)

func TestCodedError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *CodedError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(CodeSessionNotFound, "session not found"),
			expected: "session.not_found: session not found",
		},
		{
			name:     "error with cause",
			err:      Wrap(CodeSessionSpawnFailed, "failed to start shell", errors.New("exit status 1")),
			expected: "session.spawn_failed: failed to start shell (exit status 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCodedError_Unwrap(t *testing.T) {
	cause := errors.New("original error")
	err := Wrap(CodeInternal, "wrapped", cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the original cause")
	}

	err2 := New(CodeSessionNotFound, "not found")
	if err2.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
		{
			name:     "CodedError",
			err:      New(CodeSessionNotFound, "not found"),
			expected: CodeSessionNotFound,
		},
		{
			name:     "wrapped CodedError",
			err:      Wrap(CodeStorageQueryFailed, "failed", errors.New("cause")),
			expected: CodeStorageQueryFailed,
		},
		{
			name:     "plain error",
			err:      errors.New("some error"),
			expected: CodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestToCodeAndMessage(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "CodedError",
			err:         SessionNotFound("abc"),
			wantCode:    CodeSessionNotFound,
			wantMessage: "session abc not found",
		},
		{
			name:        "plain error",
			err:         errors.New("boom"),
			wantCode:    CodeUnknown,
			wantMessage: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := ToCodeAndMessage(tt.err)
			if code != tt.wantCode || msg != tt.wantMessage {
				t.Errorf("ToCodeAndMessage() = (%q, %q), want (%q, %q)", code, msg, tt.wantCode, tt.wantMessage)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	err := SessionLimitReached(20)
	if !IsCode(err, CodeSessionLimitReached) {
		t.Error("IsCode should match the error's own code")
	}
	if IsCode(err, CodeSessionNotFound) {
		t.Error("IsCode should not match a different code")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *CodedError
		code string
	}{
		{"SessionBusy", SessionBusy("s1"), CodeSessionBusy},
		{"BadWorkdir", BadWorkdir("/nope"), CodeSessionBadWorkdir},
		{"SpawnFailed", SpawnFailed("sh", errors.New("enoent")), CodeSessionSpawnFailed},
		{"InvalidControl", InvalidControl("unknown type"), CodeServerInvalidControl},
		{"RateLimited", RateLimited(), CodeInputRateLimited},
		{"AuthRequired", AuthRequired(), CodeAuthRequired},
		{"AuthInvalid", AuthInvalid(), CodeAuthInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("message should not be empty")
			}
		})
	}
}
