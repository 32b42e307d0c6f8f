package protocol

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/TheusHen/cocstress/coc/fault"
)

var ErrMalformedPDU = fmt.Errorf("protocol: malformed signaling PDU: %w", fault.ErrProtocolViolation)

// Result is the outcome carried by a connection response.
type Result uint16

const (
	ResultSuccess              Result = 0x0000
	ResultPSMNotSupported      Result = 0x0002
	ResultNoResources          Result = 0x0004
	ResultInsufficientSecurity Result = 0x0005
	ResultRefused              Result = 0x0006
)

var (
	ErrPSMNotSupported      = errors.New("protocol: PSM not supported")
	ErrNoResources          = errors.New("protocol: no resources available")
	ErrInsufficientSecurity = errors.New("protocol: insufficient security")
	ErrRefused              = errors.New("protocol: connection refused")
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultPSMNotSupported:
		return "PSM not supported"
	case ResultNoResources:
		return "no resources"
	case ResultInsufficientSecurity:
		return "insufficient security"
	case ResultRefused:
		return "refused"
	default:
		return fmt.Sprintf("result 0x%04x", uint16(r))
	}
}

// Err maps a failed result to its sentinel; success maps to nil.
func (r Result) Err() error {
	switch r {
	case ResultSuccess:
		return nil
	case ResultPSMNotSupported:
		return ErrPSMNotSupported
	case ResultNoResources:
		return ErrNoResources
	case ResultInsufficientSecurity:
		return ErrInsufficientSecurity
	default:
		return fmt.Errorf("%w: %s", ErrRefused, r)
	}
}

// ConnReq asks the peer to open a channel on PSM. SCID is the requester's
// CID; MTU, MPS and Credits describe what the requester can receive.
type ConnReq struct {
	Ident   uint8  `cbor:"1,keyasint"`
	PSM     uint16 `cbor:"2,keyasint"`
	SCID    uint16 `cbor:"3,keyasint"`
	MTU     uint16 `cbor:"4,keyasint"`
	MPS     uint16 `cbor:"5,keyasint"`
	Credits uint16 `cbor:"6,keyasint"`
}

// ConnRsp answers a ConnReq. DCID is the responder's CID, zero unless the
// result is success.
type ConnRsp struct {
	Ident   uint8  `cbor:"1,keyasint"`
	DCID    uint16 `cbor:"2,keyasint"`
	MTU     uint16 `cbor:"3,keyasint"`
	MPS     uint16 `cbor:"4,keyasint"`
	Credits uint16 `cbor:"5,keyasint"`
	Result  Result `cbor:"6,keyasint"`
}

// Credits returns receive credits. CID is the sender's own CID for the
// channel.
type Credits struct {
	CID     uint16 `cbor:"1,keyasint"`
	Credits uint16 `cbor:"2,keyasint"`
}

// DisconnReq closes a channel. DCID is the receiver's CID, SCID the
// sender's.
type DisconnReq struct {
	Ident uint8  `cbor:"1,keyasint"`
	DCID  uint16 `cbor:"2,keyasint"`
	SCID  uint16 `cbor:"3,keyasint"`
}

// DisconnRsp echoes the CIDs of the DisconnReq it answers.
type DisconnRsp struct {
	Ident uint8  `cbor:"1,keyasint"`
	DCID  uint16 `cbor:"2,keyasint"`
	SCID  uint16 `cbor:"3,keyasint"`
}

// PDU is any signaling payload.
type PDU interface {
	ConnReq | ConnRsp | Credits | DisconnReq | DisconnRsp
}

var pduDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		MaxArrayElements:  16,
		MaxMapPairs:       16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// EncodePDU encodes a signaling PDU.
func EncodePDU[T PDU](v T) ([]byte, error) {
	return cbor.Marshal(v)
}

// DecodePDU decodes a signaling PDU, rejecting unknown fields.
func DecodePDU[T PDU](b []byte) (T, error) {
	var v T
	if err := pduDecMode.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformedPDU, err)
	}
	return v, nil
}

// SignalingFrame wraps a PDU in a frame on the signaling CID.
func SignalingFrame[T PDU](t FrameType, v T) (Frame, error) {
	b, err := EncodePDU(v)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: t, CID: CIDSignaling, Payload: b}, nil
}
