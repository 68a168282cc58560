// Package fault defines the error kinds a recording cycle can fail with.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure
type Kind int

const (
	// Unknown is used for errors that carry no kind
	Unknown Kind = iota
	// DeviceUnavailable means no audio input device or GPIO line could be acquired
	DeviceUnavailable
	// FormatRejected means the device cannot honor the requested capture format
	FormatRejected
	// IOFailure means a local file could not be created, written or flushed
	IOFailure
	// AuthFailure means the credential exchange failed
	AuthFailure
	// UploadFailure means the storage endpoint rejected the request or replied with garbage
	UploadFailure
	// MissingObjectID means the storage endpoint accepted the upload but returned no object id
	MissingObjectID
	// TelemetryFailure means the broker session could not be opened or the publish was not sent
	TelemetryFailure
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case DeviceUnavailable:
		return "DeviceUnavailable"
	case FormatRejected:
		return "FormatRejected"
	case IOFailure:
		return "IOFailure"
	case AuthFailure:
		return "AuthFailure"
	case UploadFailure:
		return "UploadFailure"
	case MissingObjectID:
		return "MissingObjectId"
	case TelemetryFailure:
		return "TelemetryFailure"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrDeviceUnavailable = &Error{Kind: DeviceUnavailable}
	ErrFormatRejected    = &Error{Kind: FormatRejected}
	ErrIOFailure         = &Error{Kind: IOFailure}
	ErrAuthFailure       = &Error{Kind: AuthFailure}
	ErrUploadFailure     = &Error{Kind: UploadFailure}
	ErrMissingObjectID   = &Error{Kind: MissingObjectID}
	ErrTelemetryFailure  = &Error{Kind: TelemetryFailure}
)

// Error is a classified failure raised by one pipeline operation
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "sink.create"
	Err  error
}

// New wraps err with a kind and the failing operation
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is New with a formatted cause
func Errorf(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}
