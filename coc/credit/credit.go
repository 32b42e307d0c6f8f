// Package credit implements credit-based flow-control accounting for one
// channel. A credit authorizes the transmission of one segment; the receiver
// restores credits only after it has freed the capacity the segment used.
package credit

import (
	"fmt"
	"sync"

	"github.com/TheusHen/cocstress/coc/fault"
)

// MaxCredits is the largest credit balance a channel may hold.
const MaxCredits = 0xFFFF

var (
	ErrCreditOverflow = fmt.Errorf("credit: balance exceeds %d: %w", MaxCredits, fault.ErrProtocolViolation)
	ErrCreditOverrun  = fmt.Errorf("credit: segment received without credit: %w", fault.ErrProtocolViolation)
	ErrOverGrant      = fmt.Errorf("credit: grant exceeds committed receive capacity: %w", fault.ErrProtocolViolation)
	ErrNoReservation  = fmt.Errorf("credit: refund without reservation: %w", fault.ErrProtocolViolation)
)

// Params are the credit counts agreed when a channel connects.
type Params struct {
	// TxCredits is the initial number of segments the peer lets us send.
	TxCredits int
	// RxCredits is the number of segments we commit to receive, i.e. the
	// credits initially granted to the peer.
	RxCredits int
}

// Accountant tracks both directions of a channel's credits.
type Accountant struct {
	mu sync.Mutex

	txInitial  uint64
	txGranted  uint64
	txConsumed uint64

	rxCommitted   int
	rxOutstanding int
	rxConsumed    uint64
}

// New returns an accountant initialized with p.
func New(p Params) *Accountant {
	a := &Accountant{}
	a.Init(p)
	return a
}

// Init resets the accountant to the credits agreed at connect time.
func (a *Accountant) Init(p Params) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.txInitial = uint64(clamp(p.TxCredits))
	a.txGranted = a.txInitial
	a.txConsumed = 0
	a.rxCommitted = clamp(p.RxCredits)
	a.rxOutstanding = a.rxCommitted
	a.rxConsumed = 0
}

// TryReserve consumes one transmit credit if any is available.
func (a *Accountant) TryReserve() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.txConsumed >= a.txGranted {
		return false
	}
	a.txConsumed++
	return true
}

// Refund returns a credit reserved by TryReserve that was not used to send.
func (a *Accountant) Refund() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.txConsumed == 0 {
		return ErrNoReservation
	}
	a.txConsumed--
	return nil
}

// Grant adds n transmit credits received from the peer.
func (a *Accountant) Grant(n int) error {
	if n < 0 {
		return fmt.Errorf("credit: negative grant %d: %w", n, fault.ErrProtocolViolation)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.txGranted-a.txConsumed+uint64(n) > MaxCredits {
		return ErrCreditOverflow
	}
	a.txGranted += uint64(n)
	return nil
}

// Available returns the transmit credits that may still be reserved.
func (a *Accountant) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.txGranted - a.txConsumed)
}

// InFlight returns the number of segments sent whose credit has not been
// restored by the peer yet.
func (a *Accountant) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	restored := a.txGranted - a.txInitial
	if a.txConsumed <= restored {
		return 0
	}
	return int(a.txConsumed - restored)
}

// Consume accounts for one segment received from the peer.
func (a *Accountant) Consume() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rxOutstanding <= 0 {
		return ErrCreditOverrun
	}
	a.rxOutstanding--
	a.rxConsumed++
	return nil
}

// Return restores n receive credits to the peer after the matching capacity
// has been freed. The caller transmits the grant.
func (a *Accountant) Return(n int) error {
	if n < 0 {
		return fmt.Errorf("credit: negative return %d: %w", n, fault.ErrProtocolViolation)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rxOutstanding+n > a.rxCommitted {
		return ErrOverGrant
	}
	a.rxOutstanding += n
	return nil
}

// Outstanding returns the receive credits the peer may still use.
func (a *Accountant) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rxOutstanding
}

// Totals are cumulative counters since Init.
type Totals struct {
	TxGranted     uint64
	TxConsumed    uint64
	RxCommitted   int
	RxOutstanding int
	RxConsumed    uint64
}

// Totals returns the cumulative counters.
func (a *Accountant) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Totals{
		TxGranted:     a.txGranted,
		TxConsumed:    a.txConsumed,
		RxCommitted:   a.rxCommitted,
		RxOutstanding: a.rxOutstanding,
		RxConsumed:    a.rxConsumed,
	}
}

// Reset zeroes every balance. A channel leaving the connected state holds no
// credits.
func (a *Accountant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.txInitial, a.txGranted, a.txConsumed = 0, 0, 0
	a.rxCommitted, a.rxOutstanding, a.rxConsumed = 0, 0, 0
}

// Zero reports whether the accountant holds no credits in either direction.
func (a *Accountant) Zero() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.txGranted == 0 && a.txConsumed == 0 && a.rxOutstanding == 0 && a.rxCommitted == 0
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxCredits {
		return MaxCredits
	}
	return n
}
