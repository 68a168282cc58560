package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{Unknown, "Unknown"},
		{DeviceUnavailable, "DeviceUnavailable"},
		{FormatRejected, "FormatRejected"},
		{IOFailure, "IOFailure"},
		{AuthFailure, "AuthFailure"},
		{UploadFailure, "UploadFailure"},
		{MissingObjectID, "MissingObjectId"},
		{TelemetryFailure, "TelemetryFailure"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestErrorsIs(t *testing.T) {
	err := New(UploadFailure, "upload.post", io.ErrUnexpectedEOF)
	wrapped := fmt.Errorf("cycle failed: %w", err)

	if !errors.Is(wrapped, ErrUploadFailure) {
		t.Error("Expected wrapped error to match ErrUploadFailure")
	}
	if errors.Is(wrapped, ErrMissingObjectID) {
		t.Error("Did not expect wrapped error to match ErrMissingObjectID")
	}
	if !errors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Error("Expected cause to remain reachable through the chain")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(Errorf(AuthFailure, "auth.token", "denied")); got != AuthFailure {
		t.Errorf("Expected AuthFailure, got %v", got)
	}
	if got := KindOf(errors.New("plain")); got != Unknown {
		t.Errorf("Expected Unknown for plain error, got %v", got)
	}
	if got := KindOf(nil); got != Unknown {
		t.Errorf("Expected Unknown for nil, got %v", got)
	}
}

func TestError_Message(t *testing.T) {
	err := New(IOFailure, "sink.create", errors.New("disk full"))
	expected := "sink.create: IOFailure: disk full"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}

	if ErrMissingObjectID.Error() != "MissingObjectId" {
		t.Errorf("Unexpected sentinel message: %q", ErrMissingObjectID.Error())
	}
}
