package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/TheusHen/cocstress/coc/bufpool"
	"github.com/TheusHen/cocstress/coc/fault"
)

var (
	ErrSegmentTooLarge = fmt.Errorf("segment: segment exceeds MPS: %w", fault.ErrProtocolViolation)
	ErrShortSegment    = fmt.Errorf("segment: first segment shorter than SDU header: %w", fault.ErrProtocolViolation)
	ErrSDUTooLarge     = fmt.Errorf("segment: SDU length exceeds MTU: %w", fault.ErrProtocolViolation)
	ErrSDUOverrun      = fmt.Errorf("segment: segments exceed announced SDU length: %w", fault.ErrProtocolViolation)
)

// Reassembler rebuilds SDUs from in-order segments of one channel. At most one
// SDU is under reassembly at a time.
type Reassembler struct {
	mtu  int
	mps  int
	pool *bufpool.Pool

	buf      *bufpool.Buffer
	expected int
}

// NewReassembler accepts SDUs up to mtu bytes carried in segments of at most
// mps bytes, buffering them in pool.
func NewReassembler(mtu, mps int, pool *bufpool.Pool) *Reassembler {
	return &Reassembler{mtu: mtu, mps: mps, pool: pool}
}

// Push appends one segment. It returns the completed SDU buffer, which the
// caller must release, once the announced length has been reached.
func (r *Reassembler) Push(seg []byte) (*bufpool.Buffer, error) {
	if len(seg) > r.mps {
		r.Reset()
		return nil, fmt.Errorf("%d > %d: %w", len(seg), r.mps, ErrSegmentTooLarge)
	}
	if r.buf == nil {
		if len(seg) < SDUHeaderLen {
			return nil, ErrShortSegment
		}
		expected := int(binary.LittleEndian.Uint16(seg))
		if expected > r.mtu {
			return nil, fmt.Errorf("%d > %d: %w", expected, r.mtu, ErrSDUTooLarge)
		}
		buf, err := r.pool.Acquire()
		if err != nil {
			return nil, err
		}
		r.buf, r.expected = buf, expected
		seg = seg[SDUHeaderLen:]
	}

	if r.buf.Len()+len(seg) > r.expected {
		r.Reset()
		return nil, ErrSDUOverrun
	}
	if err := r.buf.Append(seg); err != nil {
		r.Reset()
		return nil, err
	}
	if r.buf.Len() < r.expected {
		return nil, nil
	}
	done := r.buf
	r.buf, r.expected = nil, 0
	return done, nil
}

// Pending returns the number of bytes of the SDU under reassembly.
func (r *Reassembler) Pending() int {
	if r.buf == nil {
		return 0
	}
	return r.buf.Len()
}

// Active reports whether an SDU is under reassembly.
func (r *Reassembler) Active() bool { return r.buf != nil }

// Reset releases a partially reassembled SDU.
func (r *Reassembler) Reset() error {
	if r.buf == nil {
		return nil
	}
	err := r.buf.Release()
	r.buf, r.expected = nil, 0
	return err
}
