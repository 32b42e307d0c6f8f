package segment

import (
	"bytes"
	"errors"
	"testing"

	"github.com/TheusHen/cocstress/coc/bufpool"
	"github.com/TheusHen/cocstress/coc/credit"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func loadSDU(t *testing.T, pool *bufpool.Pool, data []byte) *bufpool.Buffer {
	t.Helper()
	b, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire SDU: %v", err)
	}
	var hdr [SDUHeaderLen]byte
	PutHeader(hdr[:], len(data))
	if err := b.Append(hdr[:]); err != nil {
		t.Fatalf("Append header: %v", err)
	}
	if err := b.Append(data); err != nil {
		t.Fatalf("Append data: %v", err)
	}
	return b
}

// transfer runs one SDU through a Sender and a Reassembler, acknowledging
// segments and restoring credits as a link and receiver would.
func transfer(t *testing.T, data []byte, mps, credits, segBuffers int) ([]byte, int) {
	t.Helper()
	txPool := bufpool.New("tx", bufpool.RoleTxSDU, 1, len(data)+SDUHeaderLen)
	segPool := bufpool.New("seg", bufpool.RoleSegment, segBuffers, mps+8)
	rxPool := bufpool.New("rx", bufpool.RoleRxSDU, 1, len(data)+SDUHeaderLen)

	tx := credit.New(credit.Params{TxCredits: credits})
	rx := credit.New(credit.Params{RxCredits: credits})
	s, err := NewSender(mps, tx, segPool)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	r := NewReassembler(len(data), mps, rxPool)

	if err := s.Load(loadSDU(t, txPool, data)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	var wire []*bufpool.Buffer
	emit := func(seg *bufpool.Buffer) error {
		wire = append(wire, seg)
		return nil
	}

	var out []byte
	segments := 0
	for rounds := 0; rounds < 10000; rounds++ {
		if _, err := s.Pump(emit); err != nil {
			t.Fatalf("Pump: %v", err)
		}
		if len(wire) == 0 {
			break
		}
		seg := wire[0]
		wire = wire[1:]
		segments++

		payload, err := seg.Bytes()
		if err != nil {
			t.Fatalf("Bytes: %v", err)
		}
		if len(payload) > mps {
			t.Fatalf("segment of %d bytes exceeds MPS %d", len(payload), mps)
		}
		if err := rx.Consume(); err != nil {
			t.Fatalf("Consume: %v", err)
		}
		sdu, err := r.Push(append([]byte(nil), payload...))
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		if segPool.Peak() > segBuffers {
			t.Fatalf("segment peak %d exceeds capacity %d", segPool.Peak(), segBuffers)
		}
		if _, err := s.Sent(seg); err != nil {
			t.Fatalf("Sent: %v", err)
		}
		if err := rx.Return(1); err != nil {
			t.Fatalf("Return: %v", err)
		}
		if err := tx.Grant(1); err != nil {
			t.Fatalf("Grant: %v", err)
		}
		if sdu != nil {
			got, _ := sdu.Bytes()
			out = append(out, got...)
			_ = sdu.Release()
		}
	}

	if s.Busy() {
		t.Fatalf("sender still busy after transfer")
	}
	for _, p := range []*bufpool.Pool{txPool, segPool, rxPool} {
		if p.InUse() != 0 {
			t.Fatalf("pool %s leaked %d buffers", p.Name(), p.InUse())
		}
	}
	return out, segments
}

func TestRoundTripIdentity(t *testing.T) {
	cases := []struct {
		sduLen, mps, credits, segs int
	}{
		{1230, 65, 10, 10},
		{1230, 247, 10, 10},
		{1230, 65, 1, 1},
		{1, 23, 1, 1},
		{0, 23, 1, 1},
		{63, 65, 2, 1},
		{64, 65, 2, 3},
		{4000, 100, 3, 2},
	}
	for _, c := range cases {
		data := pattern(c.sduLen)
		got, n := transfer(t, data, c.mps, c.credits, c.segs)
		if !bytes.Equal(got, data) {
			t.Fatalf("sdu %d mps %d: round trip mismatch", c.sduLen, c.mps)
		}
		if want := Count(c.sduLen, c.mps); n != want {
			t.Errorf("sdu %d mps %d: segments = %d, want %d", c.sduLen, c.mps, n, want)
		}
	}
}

func TestPumpDefersWithoutCredit(t *testing.T) {
	txPool := bufpool.New("tx", bufpool.RoleTxSDU, 1, 64)
	segPool := bufpool.New("seg", bufpool.RoleSegment, 8, 16)
	tx := credit.New(credit.Params{TxCredits: 2})
	s, _ := NewSender(10, tx, segPool)
	_ = s.Load(loadSDU(t, txPool, pattern(40)))

	emitted := 0
	res, err := s.Pump(func(*bufpool.Buffer) error { emitted++; return nil })
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if !res.Deferred || res.Reason != ReasonNoCredit {
		t.Fatalf("result = %+v, want deferred no-credit", res)
	}
	if emitted != 2 || res.Emitted != 2 {
		t.Fatalf("emitted %d (result %d), want 2", emitted, res.Emitted)
	}
	if s.InFlight() != 2 {
		t.Fatalf("in flight = %d, want 2", s.InFlight())
	}
}

func TestPumpDefersWithoutBuffer(t *testing.T) {
	txPool := bufpool.New("tx", bufpool.RoleTxSDU, 1, 64)
	segPool := bufpool.New("seg", bufpool.RoleSegment, 1, 16)
	tx := credit.New(credit.Params{TxCredits: 10})
	s, _ := NewSender(10, tx, segPool)
	_ = s.Load(loadSDU(t, txPool, pattern(40)))

	var emitted []*bufpool.Buffer
	emit := func(b *bufpool.Buffer) error { emitted = append(emitted, b); return nil }

	res, err := s.Pump(emit)
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if !res.Deferred || res.Reason != ReasonNoBuffer {
		t.Fatalf("result = %+v, want deferred no-buffer", res)
	}
	if tx.Available() != 9 {
		t.Fatalf("credit not refunded on buffer exhaustion: available %d", tx.Available())
	}

	if _, err := s.Sent(emitted[0]); err != nil {
		t.Fatalf("Sent: %v", err)
	}
	res, err = s.Pump(emit)
	if err != nil || res.Emitted != 1 {
		t.Fatalf("second Pump = %+v, %v", res, err)
	}
}

func TestSenderBusyAndUnknownSegment(t *testing.T) {
	txPool := bufpool.New("tx", bufpool.RoleTxSDU, 2, 64)
	segPool := bufpool.New("seg", bufpool.RoleSegment, 2, 16)
	s, _ := NewSender(10, credit.New(credit.Params{TxCredits: 1}), segPool)
	_ = s.Load(loadSDU(t, txPool, pattern(4)))
	if err := s.Load(loadSDU(t, txPool, pattern(4))); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	stray, _ := segPool.Acquire()
	if _, err := s.Sent(stray); !errors.Is(err, ErrUnknownSegment) {
		t.Fatalf("expected ErrUnknownSegment, got %v", err)
	}
}

func TestSenderResetReleasesEverything(t *testing.T) {
	txPool := bufpool.New("tx", bufpool.RoleTxSDU, 1, 128)
	segPool := bufpool.New("seg", bufpool.RoleSegment, 4, 16)
	s, _ := NewSender(10, credit.New(credit.Params{TxCredits: 3}), segPool)
	_ = s.Load(loadSDU(t, txPool, pattern(100)))
	if _, err := s.Pump(func(*bufpool.Buffer) error { return nil }); err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if segPool.InUse() != 3 || txPool.InUse() != 1 {
		t.Fatalf("seg in use %d tx in use %d", segPool.InUse(), txPool.InUse())
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if segPool.InUse() != 0 || txPool.InUse() != 0 || s.Busy() {
		t.Fatalf("reset left buffers held: seg %d tx %d", segPool.InUse(), txPool.InUse())
	}
}

func TestReassemblerViolations(t *testing.T) {
	pool := bufpool.New("rx", bufpool.RoleRxSDU, 1, 32)

	r := NewReassembler(30, 8, pool)
	if _, err := r.Push(make([]byte, 9)); !errors.Is(err, ErrSegmentTooLarge) {
		t.Fatalf("expected ErrSegmentTooLarge, got %v", err)
	}
	if _, err := r.Push([]byte{1}); !errors.Is(err, ErrShortSegment) {
		t.Fatalf("expected ErrShortSegment, got %v", err)
	}
	if _, err := r.Push([]byte{31, 0}); !errors.Is(err, ErrSDUTooLarge) {
		t.Fatalf("expected ErrSDUTooLarge, got %v", err)
	}

	if _, err := r.Push([]byte{4, 0, 1, 2, 3}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !r.Active() || r.Pending() != 3 {
		t.Fatalf("pending = %d, want 3", r.Pending())
	}
	if _, err := r.Push([]byte{4, 5}); !errors.Is(err, ErrSDUOverrun) {
		t.Fatalf("expected ErrSDUOverrun, got %v", err)
	}
	if pool.InUse() != 0 {
		t.Fatalf("overrun must release the partial SDU")
	}
}

func TestReassemblerExhaustedPool(t *testing.T) {
	pool := bufpool.New("rx", bufpool.RoleRxSDU, 1, 32)
	held, _ := pool.Acquire()
	defer held.Release()

	r := NewReassembler(30, 8, pool)
	if _, err := r.Push([]byte{2, 0, 1}); !errors.Is(err, bufpool.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if r.Active() {
		t.Fatalf("reassembler must stay idle when no buffer is available")
	}
}
