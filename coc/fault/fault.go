// Package fault defines the error taxonomy shared by every layer of the
// channel stack. Package-level errors wrap one of the sentinels below so that
// callers can classify any failure with errors.Is.
package fault

import "errors"

var (
	// ErrResourceExhausted reports a full pool or channel table. It is
	// recoverable by deferral unless it reflects a pool sizing defect.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrProtocolViolation reports an implementation defect such as a credit
	// overrun, a double release or a segment for an unknown channel.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrDataIntegrity reports a reassembled SDU that does not match the
	// expected payload.
	ErrDataIntegrity = errors.New("data integrity failure")
	// ErrLinkFailure reports an unexpected disconnect.
	ErrLinkFailure = errors.New("link failure")
)

// Kind classifies an error into the taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindResourceExhausted
	KindProtocolViolation
	KindDataIntegrity
	KindLinkFailure
)

func (k Kind) String() string {
	switch k {
	case KindResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case KindProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case KindDataIntegrity:
		return "DATA_INTEGRITY"
	case KindLinkFailure:
		return "LINK_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// KindOf returns the taxonomy class of err, or KindUnknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrProtocolViolation):
		return KindProtocolViolation
	case errors.Is(err, ErrDataIntegrity):
		return KindDataIntegrity
	case errors.Is(err, ErrLinkFailure):
		return KindLinkFailure
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	default:
		return KindUnknown
	}
}
