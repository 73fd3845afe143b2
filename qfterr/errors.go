// Package qfterr defines the error taxonomy shared by the sender and
// receiver engines, so callers can distinguish fatal transport failures
// from the transfer's own expected, self-healing conditions (a failed
// decode attempt, a dropped malformed datagram) with errors.As.
package qfterr

import "fmt"

// Class identifies which of the taxonomy's five buckets an error belongs
// to, per the error handling design.
type Class int

const (
	// TransportFailure: connection lost, handshake rejected, stream
	// closed unexpectedly. Fatal to the affected transfer.
	TransportFailure Class = iota
	// ProtocolViolation: unknown flag, short read on a fixed-width
	// field, malformed datagram. The offending stream/datagram is
	// dropped; the transfer may continue on other channels.
	ProtocolViolation
	// DecodeFailed: RaptorQ decode returned no result despite reaching
	// quorum. Never user-visible as a failure.
	DecodeFailed
	// IOFailure: filesystem write for temp or output file failed.
	// Fatal to the transfer.
	IOFailure
	// ConfigurationFailure: cert load or bind failure. Fatal at
	// startup.
	ConfigurationFailure
)

func (c Class) String() string {
	switch c {
	case TransportFailure:
		return "transport_failure"
	case ProtocolViolation:
		return "protocol_violation"
	case DecodeFailed:
		return "decode_failed"
	case IOFailure:
		return "io_failure"
	case ConfigurationFailure:
		return "configuration_failure"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. Wrap one with fmt.Errorf("...: %w", err)
// to preserve the class through further wrapping.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given class.
func New(class Class, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Err: err}
}

// Newf builds a new classed error from a format string.
func Newf(class Class, format string, args ...interface{}) error {
	return &Error{Class: class, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err (or anything it wraps) belongs to class.
func Is(err error, class Class) bool {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Class == class
}
