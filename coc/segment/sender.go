package segment

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/TheusHen/cocstress/coc/bufpool"
	"github.com/TheusHen/cocstress/coc/credit"
	"github.com/TheusHen/cocstress/coc/fault"
)

// SDUHeaderLen is the size of the SDU length prefix carried by the first
// segment.
const SDUHeaderLen = 2

var (
	ErrBusy           = errors.New("segment: an SDU is already being sent")
	ErrUnknownSegment = fmt.Errorf("segment: sent notification for unknown segment: %w", fault.ErrProtocolViolation)
	ErrInvalidMPS     = errors.New("segment: MPS must hold at least the SDU header")
)

// Reason tells why a Pump stopped before the SDU was fully segmented.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNoCredit
	ReasonNoBuffer
)

func (r Reason) String() string {
	switch r {
	case ReasonNoCredit:
		return "no-credit"
	case ReasonNoBuffer:
		return "no-buffer"
	default:
		return "none"
	}
}

// Result summarizes one Pump call.
type Result struct {
	Emitted  int
	Deferred bool
	Reason   Reason
}

// Emitter hands a filled segment to the link. Ownership of seg stays with the
// Sender until Sent is called for it.
type Emitter func(seg *bufpool.Buffer) error

// Count returns the number of segments an SDU of sduLen bytes needs.
func Count(sduLen, mps int) int {
	if mps <= 0 {
		return 0
	}
	total := sduLen + SDUHeaderLen
	return (total + mps - 1) / mps
}

// PutHeader writes the SDU length prefix into dst.
func PutHeader(dst []byte, sduLen int) {
	binary.LittleEndian.PutUint16(dst, uint16(sduLen))
}

// Sender segments one SDU at a time for a single channel.
type Sender struct {
	mps     int
	credits *credit.Accountant
	pool    *bufpool.Pool

	sdu      *bufpool.Buffer
	off      int
	inFlight []*bufpool.Buffer
}

// NewSender returns a sender emitting segments of at most mps bytes.
func NewSender(mps int, credits *credit.Accountant, pool *bufpool.Pool) (*Sender, error) {
	if mps <= SDUHeaderLen {
		return nil, ErrInvalidMPS
	}
	if mps > pool.BufferSize() {
		mps = pool.BufferSize()
	}
	return &Sender{mps: mps, credits: credits, pool: pool}, nil
}

// MPS returns the maximum segment payload this sender emits.
func (s *Sender) MPS() int { return s.mps }

// Load queues an SDU buffer, already prefixed with its header, for
// segmentation. The sender owns sdu until the final segment is acknowledged.
func (s *Sender) Load(sdu *bufpool.Buffer) error {
	if s.sdu != nil {
		return ErrBusy
	}
	s.sdu = sdu
	s.off = 0
	return nil
}

// Busy reports whether an SDU is loaded.
func (s *Sender) Busy() bool { return s.sdu != nil }

// InFlight returns the number of segments emitted but not yet acknowledged.
func (s *Sender) InFlight() int { return len(s.inFlight) }

// Pump emits as many segments as credits and segment buffers allow. It never
// blocks: when either runs out it returns a deferred Result and the caller
// pumps again once a credit arrives or a segment buffer is freed.
func (s *Sender) Pump(emit Emitter) (Result, error) {
	var res Result
	if s.sdu == nil {
		return res, nil
	}
	data, err := s.sdu.Bytes()
	if err != nil {
		return res, err
	}

	for s.off < len(data) {
		if !s.credits.TryReserve() {
			res.Deferred, res.Reason = true, ReasonNoCredit
			return res, nil
		}
		seg, err := s.pool.Acquire()
		if err != nil {
			if rerr := s.credits.Refund(); rerr != nil {
				return res, rerr
			}
			if errors.Is(err, bufpool.ErrExhausted) {
				res.Deferred, res.Reason = true, ReasonNoBuffer
				return res, nil
			}
			return res, err
		}

		n := len(data) - s.off
		if n > s.mps {
			n = s.mps
		}
		if err := seg.Append(data[s.off : s.off+n]); err != nil {
			_ = seg.Release()
			_ = s.credits.Refund()
			return res, err
		}
		s.off += n
		s.inFlight = append(s.inFlight, seg)
		if err := emit(seg); err != nil {
			return res, err
		}
		res.Emitted++
	}
	return res, nil
}

// Sent releases an acknowledged segment. It reports done when the segment was
// the last one of the loaded SDU; the SDU buffer is released at that point.
func (s *Sender) Sent(seg *bufpool.Buffer) (done bool, err error) {
	idx := -1
	for i, b := range s.inFlight {
		if b == seg {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, ErrUnknownSegment
	}
	copy(s.inFlight[idx:], s.inFlight[idx+1:])
	s.inFlight[len(s.inFlight)-1] = nil
	s.inFlight = s.inFlight[:len(s.inFlight)-1]

	if err := seg.Release(); err != nil {
		return false, err
	}
	if s.sdu == nil || s.off < s.sdu.Len() || len(s.inFlight) > 0 {
		return false, nil
	}
	err = s.sdu.Release()
	s.sdu = nil
	s.off = 0
	return true, err
}

// Reset drops the loaded SDU and every in-flight segment, returning all of
// them to their pools.
func (s *Sender) Reset() error {
	var errs []error
	for _, seg := range s.inFlight {
		if err := seg.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	s.inFlight = s.inFlight[:0]
	if s.sdu != nil {
		if err := s.sdu.Release(); err != nil {
			errs = append(errs, err)
		}
		s.sdu = nil
	}
	s.off = 0
	return errors.Join(errs...)
}
