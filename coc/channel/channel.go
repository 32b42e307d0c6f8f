package channel

import (
	"errors"
	"fmt"

	"github.com/TheusHen/cocstress/coc/bufpool"
	"github.com/TheusHen/cocstress/coc/credit"
	"github.com/TheusHen/cocstress/coc/fault"
	"github.com/TheusHen/cocstress/coc/link"
	"github.com/TheusHen/cocstress/coc/segment"
)

var (
	ErrInvalidTransition = fmt.Errorf("channel: invalid state transition: %w", fault.ErrProtocolViolation)
	ErrStaleHandle       = errors.New("channel: stale handle")
	ErrNoChannelSlot     = fmt.Errorf("channel: no free channel slot: %w", fault.ErrResourceExhausted)
	ErrInvalidBinding    = errors.New("channel: invalid binding")
)

// Binding carries everything negotiated when a channel connects.
type Binding struct {
	RemoteCID uint16

	// TxMTU and TxMPS bound what this side may send; RxMTU and RxMPS bound
	// what it accepts.
	TxMTU int
	TxMPS int
	RxMTU int
	RxMPS int

	// TxCredits were granted by the peer; RxCredits were granted to it.
	TxCredits int
	RxCredits int

	Segments *bufpool.Pool
	RxSDUs   *bufpool.Pool
}

func (b Binding) validate() error {
	switch {
	case b.Segments == nil || b.RxSDUs == nil:
		return fmt.Errorf("%w: missing pool", ErrInvalidBinding)
	case b.TxMTU <= 0 || b.RxMTU <= 0:
		return fmt.Errorf("%w: MTU must be positive", ErrInvalidBinding)
	case b.TxMPS <= segment.SDUHeaderLen || b.RxMPS <= segment.SDUHeaderLen:
		return fmt.Errorf("%w: MPS %d/%d too small", ErrInvalidBinding, b.TxMPS, b.RxMPS)
	case b.RemoteCID == 0:
		return fmt.Errorf("%w: zero remote CID", ErrInvalidBinding)
	}
	return nil
}

// Channel is one slot of a Table.
type Channel struct {
	handle Handle
	state  State

	link     link.ID
	psm      uint16
	localCID uint16
	binding  Binding

	credits *credit.Accountant
	sender  *segment.Sender
	reasm   *segment.Reassembler

	deferrals int
}

func (c *Channel) Handle() Handle              { return c.handle }
func (c *Channel) State() State                { return c.state }
func (c *Channel) Link() link.ID               { return c.link }
func (c *Channel) PSM() uint16                 { return c.psm }
func (c *Channel) LocalCID() uint16            { return c.localCID }
func (c *Channel) RemoteCID() uint16           { return c.binding.RemoteCID }
func (c *Channel) TxMTU() int                  { return c.binding.TxMTU }
func (c *Channel) TxMPS() int                  { return c.binding.TxMPS }
func (c *Channel) RxMTU() int                  { return c.binding.RxMTU }
func (c *Channel) RxMPS() int                  { return c.binding.RxMPS }
func (c *Channel) Connected() bool             { return c.state == StateConnected }
func (c *Channel) Credits() *credit.Accountant { return c.credits }

// Sender is nil unless the channel is connected.
func (c *Channel) Sender() *segment.Sender { return c.sender }

// Reassembler is nil unless the channel is connected.
func (c *Channel) Reassembler() *segment.Reassembler { return c.reasm }

// Deferred counts one more consecutive deferral and returns the total.
func (c *Channel) Deferred() int {
	c.deferrals++
	return c.deferrals
}

// Progressed clears the consecutive deferral count.
func (c *Channel) Progressed() { c.deferrals = 0 }

// Deferrals returns the current consecutive deferral count.
func (c *Channel) Deferrals() int { return c.deferrals }

// Transition moves the channel along one edge of the state machine. Leaving
// connected releases every buffer the channel holds and zeroes its credits.
func (c *Channel) Transition(to State) error {
	if !legal(c.state, to) {
		return fmt.Errorf("%s -> %s: %w", c.state, to, ErrInvalidTransition)
	}
	var err error
	if c.state == StateConnected {
		err = c.unbind()
	}
	c.state = to
	if to == StateIdle {
		c.link, c.psm = 0, 0
		c.binding = Binding{}
	}
	return err
}

// Accept connects a connecting channel with the negotiated binding.
func (c *Channel) Accept(b Binding) error {
	if c.state != StateConnecting {
		return fmt.Errorf("accept in %s: %w", c.state, ErrInvalidTransition)
	}
	if err := b.validate(); err != nil {
		return err
	}
	sender, err := segment.NewSender(b.TxMPS, c.credits, b.Segments)
	if err != nil {
		return err
	}
	c.credits.Init(credit.Params{TxCredits: b.TxCredits, RxCredits: b.RxCredits})
	c.binding = b
	c.sender = sender
	c.reasm = segment.NewReassembler(b.RxMTU, b.RxMPS, b.RxSDUs)
	c.deferrals = 0
	return c.Transition(StateConnected)
}

// Reject returns a connecting channel to idle.
func (c *Channel) Reject() error {
	if c.state != StateConnecting {
		return fmt.Errorf("reject in %s: %w", c.state, ErrInvalidTransition)
	}
	return c.Transition(StateIdle)
}

// Close starts a local disconnect of a connected channel.
func (c *Channel) Close() error {
	return c.Transition(StateDisconnecting)
}

// Closed completes a disconnect.
func (c *Channel) Closed() error {
	return c.Transition(StateIdle)
}

// LinkLost returns the channel to idle from any active state.
func (c *Channel) LinkLost() error {
	if c.state == StateIdle {
		return nil
	}
	return c.Transition(StateIdle)
}

func (c *Channel) unbind() error {
	var errs []error
	if c.sender != nil {
		errs = append(errs, c.sender.Reset())
	}
	if c.reasm != nil {
		errs = append(errs, c.reasm.Reset())
	}
	c.credits.Reset()
	c.sender, c.reasm = nil, nil
	c.deferrals = 0
	return errors.Join(errs...)
}

// Holding reports whether the channel holds any buffer or credit.
func (c *Channel) Holding() bool {
	if !c.credits.Zero() {
		return true
	}
	if c.sender != nil && (c.sender.Busy() || c.sender.InFlight() > 0) {
		return true
	}
	return c.reasm != nil && c.reasm.Active()
}

// Info is a read-only snapshot of a channel.
type Info struct {
	Handle    Handle
	State     State
	Link      link.ID
	PSM       uint16
	LocalCID  uint16
	RemoteCID uint16
	TxMTU     int
	TxMPS     int
	RxMTU     int
	RxMPS     int
	Credits   credit.Totals
	TxCredits int
	RxCredits int
	InFlight  int
	Sending   bool
	Pending   int
	Deferrals int
}

func (c *Channel) Info() Info {
	info := Info{
		Handle:    c.handle,
		State:     c.state,
		Link:      c.link,
		PSM:       c.psm,
		LocalCID:  c.localCID,
		RemoteCID: c.binding.RemoteCID,
		TxMTU:     c.binding.TxMTU,
		TxMPS:     c.binding.TxMPS,
		RxMTU:     c.binding.RxMTU,
		RxMPS:     c.binding.RxMPS,
		Credits:   c.credits.Totals(),
		TxCredits: c.credits.Available(),
		RxCredits: c.credits.Outstanding(),
		Deferrals: c.deferrals,
	}
	if c.sender != nil {
		info.InFlight = c.sender.InFlight()
		info.Sending = c.sender.Busy()
	}
	if c.reasm != nil {
		info.Pending = c.reasm.Pending()
	}
	return info
}
