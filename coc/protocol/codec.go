package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/TheusHen/cocstress/coc/fault"
)

const (
	// HeaderLen is the size of the frame header.
	HeaderLen = 8
	// MaxFramePayload limits a single frame payload.
	MaxFramePayload = 1 << 16
)

var (
	ErrFrameTooLarge = fmt.Errorf("protocol: frame payload too large: %w", fault.ErrProtocolViolation)
	ErrInvalidType   = fmt.Errorf("protocol: invalid frame type: %w", fault.ErrProtocolViolation)
	ErrShortFrame    = fmt.Errorf("protocol: short frame: %w", fault.ErrProtocolViolation)
	ErrLengthField   = fmt.Errorf("protocol: length field does not match frame: %w", fault.ErrProtocolViolation)
)

// Frame is the link wire container.
// Format:
//
//	1 byte: type
//	1 byte: flags
//	2 bytes: CID (big endian)
//	4 bytes: payload length (big endian)
//	N bytes: payload
//
// K-frames carry the destination channel's CID; signaling frames use
// CIDSignaling.
type Frame struct {
	Type    FrameType
	Flags   Flags
	CID     uint16
	Payload []byte
}

// Options controls frame encoding.
type Options struct {
	// Compress LZ4-compresses payloads when that makes them smaller.
	Compress bool
}

// Marshal encodes f into one contiguous buffer.
func Marshal(f Frame, opts Options) ([]byte, error) {
	if !f.Type.valid() {
		return nil, ErrInvalidType
	}
	payload := f.Payload
	flags := f.Flags &^ FlagCompressed
	if opts.Compress && len(payload) > 0 {
		if c, ok := shrink(payload); ok {
			payload = c
			flags |= FlagCompressed
		}
	}
	if len(payload) > MaxFramePayload {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, HeaderLen+len(payload))
	putHeader(out, f.Type, flags, f.CID, len(payload))
	copy(out[HeaderLen:], payload)
	return out, nil
}

// Unmarshal decodes a buffer produced by Marshal. The returned payload may
// alias b.
func Unmarshal(b []byte) (Frame, error) {
	if len(b) < HeaderLen {
		return Frame{}, ErrShortFrame
	}
	f, n, err := parseHeader(b[:HeaderLen])
	if err != nil {
		return Frame{}, err
	}
	if n != len(b)-HeaderLen {
		return Frame{}, ErrLengthField
	}
	f.Payload = b[HeaderLen:]
	return finish(f)
}

func WriteFrame(w io.Writer, f Frame, opts Options) error {
	b, err := Marshal(f, opts)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame reads one frame from a stream. Callers wanting buffering wrap r
// themselves; ReadFrame never reads past the frame.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	f, n, err := parseHeader(hdr[:])
	if err != nil {
		return Frame{}, err
	}
	f.Payload = make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
	}
	return finish(f)
}

func putHeader(dst []byte, t FrameType, flags Flags, cid uint16, n int) {
	dst[0] = byte(t)
	dst[1] = byte(flags)
	binary.BigEndian.PutUint16(dst[2:4], cid)
	binary.BigEndian.PutUint32(dst[4:8], uint32(n))
}

func parseHeader(hdr []byte) (Frame, int, error) {
	f := Frame{
		Type:  FrameType(hdr[0]),
		Flags: Flags(hdr[1]),
		CID:   binary.BigEndian.Uint16(hdr[2:4]),
	}
	if !f.Type.valid() {
		return Frame{}, 0, fmt.Errorf("%w: %d", ErrInvalidType, hdr[0])
	}
	n := binary.BigEndian.Uint32(hdr[4:8])
	if n > MaxFramePayload {
		return Frame{}, 0, fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}
	return f, int(n), nil
}

func finish(f Frame) (Frame, error) {
	if f.Flags&FlagCompressed == 0 {
		return f, nil
	}
	p, err := expand(f.Payload, MaxFramePayload)
	if err != nil {
		return Frame{}, err
	}
	f.Payload = p
	f.Flags &^= FlagCompressed
	return f, nil
}
