package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeNegotiation, "remote description rejected")
	expected := "NEGOTIATION_ERROR: remote description rejected"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	cause := errors.New("sdp parse failed")
	err := Wrap(cause, ErrCodeNegotiation, "apply offer")

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is should find the cause through Unwrap")
	}
	if !strings.Contains(err.Error(), "sdp parse failed") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewChannelError("connect failed", nil)
	err.WithContext("room", "demo").WithContext("attempt", 2)

	if err.Context["room"] != "demo" {
		t.Errorf("Context[room] = %v, want 'demo'", err.Context["room"])
	}
	if err.Context["attempt"] != 2 {
		t.Errorf("Context[attempt] = %v, want 2", err.Context["attempt"])
	}
}

func TestHasCode(t *testing.T) {
	err := NewMediaUnavailableError("capture denied", nil)
	if !HasCode(err, ErrCodeMediaUnavailable) {
		t.Error("HasCode() should match the error's own code")
	}
	if HasCode(err, ErrCodeChannel) {
		t.Error("HasCode() should not match a different code")
	}
	if HasCode(errors.New("plain"), ErrCodeChannel) {
		t.Error("HasCode() should be false for non-app errors")
	}
}

func TestGet_Wrapped(t *testing.T) {
	app := NewChannelError("dial failed", errors.New("refused"))
	wrapped := fmt.Errorf("join room: %w", app)

	got := Get(wrapped)
	if got == nil {
		t.Fatal("Get() should extract AppError from wrapped chain")
	}
	if got.Code != ErrCodeChannel {
		t.Errorf("Code = %v, want %v", got.Code, ErrCodeChannel)
	}

	if Get(errors.New("plain")) != nil {
		t.Error("Get() should return nil for plain errors")
	}
}
