// Package errkind defines the sum-type-shaped error kinds shared across the
// tracker's components, and the HTTP status each one maps to.
package errkind

import "fmt"

// Kind tags a TrackerError with the reason it occurred, so callers at the
// HTTP boundary can map it to a status code without string-matching.
type Kind string

const (
	InvalidHex              Kind = "InvalidHex"
	InvalidLength           Kind = "InvalidLength"
	InvalidPoint            Kind = "InvalidPoint"
	InvalidSignature        Kind = "InvalidSignature"
	NonMonotone             Kind = "NonMonotone"
	AmountOverflow          Kind = "AmountOverflow"
	FutureTimestamp         Kind = "FutureTimestamp"
	NoteNotFound            Kind = "NoteNotFound"
	ReserveNotFound         Kind = "ReserveNotFound"
	InsufficientDebt        Kind = "InsufficientDebt"
	InvalidReserveSignature Kind = "InvalidReserveSignature"
	InvalidTrackerSignature Kind = "InvalidTrackerSignature"
	EmergencyTooEarly       Kind = "EmergencyTooEarly"
	StorageError            Kind = "StorageError"
	NodeUnavailable         Kind = "NodeUnavailable"
	ServiceBusy             Kind = "ServiceBusy"
	Shutdown                Kind = "Shutdown"
)

// TrackerError is the single error type returned by every public operation
// that can fail for a protocol reason. It carries a Kind so the HTTP layer
// can classify it without inspecting the message text.
type TrackerError struct {
	Kind Kind
	Msg  string
}

func (e *TrackerError) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// New constructs a TrackerError of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *TrackerError {
	return &TrackerError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a *TrackerError of the given kind.
func Is(err error, kind Kind) bool {
	te, ok := err.(*TrackerError)
	return ok && te.Kind == kind
}

// KindOf extracts the Kind from err, or "" if err is not a *TrackerError.
func KindOf(err error) Kind {
	if te, ok := err.(*TrackerError); ok {
		return te.Kind
	}
	return ""
}

// clientCaused reports whether the kind represents a client input error
// (surfaces as 400) as opposed to an internal/infra failure.
var clientCaused = map[Kind]bool{
	InvalidHex:              true,
	InvalidLength:           true,
	InvalidPoint:            true,
	InvalidSignature:        true,
	NonMonotone:             true,
	AmountOverflow:          true,
	FutureTimestamp:         true,
	NoteNotFound:            true,
	ReserveNotFound:         true,
	InsufficientDebt:        true,
	InvalidReserveSignature: true,
	InvalidTrackerSignature: true,
	EmergencyTooEarly:       true,
}

// HTTPStatus maps a Kind to the status code the service layer should
// respond with.
func HTTPStatus(kind Kind) int {
	switch {
	case kind == NodeUnavailable:
		return 503
	case kind == ServiceBusy:
		return 503
	case kind == Shutdown:
		return 503
	case kind == StorageError:
		return 500
	case clientCaused[kind]:
		return 400
	default:
		return 500
	}
}
