package credit

import (
	"errors"
	"math/rand"
	"testing"
)

func TestReserveUntilExhausted(t *testing.T) {
	a := New(Params{TxCredits: 3, RxCredits: 3})
	for i := 0; i < 3; i++ {
		if !a.TryReserve() {
			t.Fatalf("TryReserve %d failed", i)
		}
	}
	if a.TryReserve() {
		t.Fatalf("expected reservation to fail with zero credits")
	}
	if a.Available() != 0 {
		t.Fatalf("available = %d, want 0", a.Available())
	}
	if a.InFlight() != 3 {
		t.Fatalf("in flight = %d, want 3", a.InFlight())
	}

	if err := a.Grant(2); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if a.InFlight() != 1 {
		t.Fatalf("in flight = %d, want 1", a.InFlight())
	}
	if !a.TryReserve() || !a.TryReserve() || a.TryReserve() {
		t.Fatalf("expected exactly two reservations after grant of 2")
	}
}

func TestRefund(t *testing.T) {
	a := New(Params{TxCredits: 1})
	if !a.TryReserve() {
		t.Fatalf("TryReserve failed")
	}
	if err := a.Refund(); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if a.Available() != 1 {
		t.Fatalf("available = %d, want 1", a.Available())
	}
	if err := a.Refund(); !errors.Is(err, ErrNoReservation) {
		t.Fatalf("expected ErrNoReservation, got %v", err)
	}
}

func TestGrantOverflow(t *testing.T) {
	a := New(Params{TxCredits: MaxCredits - 1})
	if err := a.Grant(1); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := a.Grant(1); !errors.Is(err, ErrCreditOverflow) {
		t.Fatalf("expected ErrCreditOverflow, got %v", err)
	}
	if err := a.Grant(-1); err == nil {
		t.Fatalf("expected error for negative grant")
	}
}

func TestReceiveOverrun(t *testing.T) {
	a := New(Params{RxCredits: 2})
	if err := a.Consume(); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := a.Consume(); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := a.Consume(); !errors.Is(err, ErrCreditOverrun) {
		t.Fatalf("expected ErrCreditOverrun, got %v", err)
	}
	if err := a.Return(3); !errors.Is(err, ErrOverGrant) {
		t.Fatalf("expected ErrOverGrant, got %v", err)
	}
	if err := a.Return(2); err != nil {
		t.Fatalf("Return: %v", err)
	}
	if a.Outstanding() != 2 {
		t.Fatalf("outstanding = %d, want 2", a.Outstanding())
	}
}

func TestResetZeroesBalances(t *testing.T) {
	a := New(Params{TxCredits: 10, RxCredits: 10})
	a.TryReserve()
	_ = a.Consume()
	a.Reset()
	if !a.Zero() {
		t.Fatalf("expected zero balances after reset: %+v", a.Totals())
	}
	if a.TryReserve() {
		t.Fatalf("reset accountant must not grant reservations")
	}
	if err := a.Consume(); !errors.Is(err, ErrCreditOverrun) {
		t.Fatalf("expected overrun after reset, got %v", err)
	}
}

// A sender paired with a receiver that restores credits as it frees
// capacity never has more segments in flight than the receiver committed.
func TestRandomSequencesNeverOverdraw(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		committed := 1 + rng.Intn(16)
		tx := New(Params{TxCredits: committed})
		rx := New(Params{RxCredits: committed})

		var queued int // segments sent but not yet freed by the receiver
		for step := 0; step < 500; step++ {
			switch rng.Intn(3) {
			case 0, 1:
				if tx.TryReserve() {
					if err := rx.Consume(); err != nil {
						t.Fatalf("round %d step %d: receiver overrun: %v", round, step, err)
					}
					queued++
				}
			case 2:
				if queued == 0 {
					continue
				}
				n := 1 + rng.Intn(queued)
				queued -= n
				if err := rx.Return(n); err != nil {
					t.Fatalf("round %d step %d: Return: %v", round, step, err)
				}
				if err := tx.Grant(n); err != nil {
					t.Fatalf("round %d step %d: Grant: %v", round, step, err)
				}
			}

			if tx.InFlight() > committed {
				t.Fatalf("round %d step %d: in flight %d exceeds committed %d", round, step, tx.InFlight(), committed)
			}
			if tx.InFlight() != queued {
				t.Fatalf("round %d step %d: in flight %d, receiver holds %d", round, step, tx.InFlight(), queued)
			}
			tot := tx.Totals()
			if tot.TxConsumed > tot.TxGranted {
				t.Fatalf("round %d step %d: consumed %d > granted %d", round, step, tot.TxConsumed, tot.TxGranted)
			}
			if rx.Outstanding() < 0 || rx.Outstanding() > committed {
				t.Fatalf("round %d step %d: outstanding %d out of range", round, step, rx.Outstanding())
			}
		}
	}
}
