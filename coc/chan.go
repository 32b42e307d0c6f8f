package coc

import (
	"github.com/TheusHen/cocstress/coc/channel"
	"github.com/TheusHen/cocstress/coc/link"
)

// ChannelHandler receives the events of one channel. Callbacks run on the
// host loop and must not call blocking Host methods; use the Chan instead.
type ChannelHandler interface {
	Connected(c Chan)
	// Disconnected reports the channel back to idle. cause is nil for an
	// orderly close by either side.
	Disconnected(c Chan, cause error)
	// Received delivers one complete SDU. sdu is only valid during the call.
	// A non-nil error stops the host.
	Received(c Chan, sdu []byte) error
	// Sent reports the last segment of the current SDU acknowledged by the
	// link; the channel can take the next SDU.
	Sent(c Chan)
}

// ChannelFuncs adapts functions to ChannelHandler. Nil fields are ignored.
type ChannelFuncs struct {
	OnConnected    func(c Chan)
	OnDisconnected func(c Chan, cause error)
	OnReceived     func(c Chan, sdu []byte) error
	OnSent         func(c Chan)
}

func (f ChannelFuncs) Connected(c Chan) {
	if f.OnConnected != nil {
		f.OnConnected(c)
	}
}

func (f ChannelFuncs) Disconnected(c Chan, cause error) {
	if f.OnDisconnected != nil {
		f.OnDisconnected(c, cause)
	}
}

func (f ChannelFuncs) Received(c Chan, sdu []byte) error {
	if f.OnReceived != nil {
		return f.OnReceived(c, sdu)
	}
	return nil
}

func (f ChannelFuncs) Sent(c Chan) {
	if f.OnSent != nil {
		f.OnSent(c)
	}
}

// Server accepts inbound channels on a PSM.
type Server struct {
	// PSM 0 asks the host for a dynamic PSM.
	PSM uint16
	// Security is the minimum link security required. Zero means L1.
	Security link.SecurityLevel
	// Accept returns the handler of a new channel or an error to refuse it.
	Accept func(l link.Link) (ChannelHandler, error)
}

// LinkObserver is told about links coming up and going down. Callbacks run
// on the host loop.
type LinkObserver interface {
	LinkUp(l link.Link)
	LinkDown(l link.Link, reason link.Reason)
}

// LinkFuncs adapts functions to LinkObserver. Nil fields are ignored.
type LinkFuncs struct {
	OnUp   func(l link.Link)
	OnDown func(l link.Link, reason link.Reason)
}

func (f LinkFuncs) LinkUp(l link.Link) {
	if f.OnUp != nil {
		f.OnUp(l)
	}
}

func (f LinkFuncs) LinkDown(l link.Link, reason link.Reason) {
	if f.OnDown != nil {
		f.OnDown(l, reason)
	}
}

// Chan is the loop-scoped view of a channel handed to callbacks. It is only
// usable on the host loop.
type Chan struct {
	h      *Host
	handle channel.Handle
}

func (c Chan) Handle() channel.Handle { return c.handle }

// Info snapshots the channel. The zero Info is returned once the handle is
// stale.
func (c Chan) Info() channel.Info {
	ch, err := c.h.table.Lookup(c.handle)
	if err != nil {
		return channel.Info{Handle: c.handle}
	}
	return ch.Info()
}

// Link returns the link the channel runs on, nil once it is gone.
func (c Chan) Link() link.Link {
	ch, err := c.h.table.Lookup(c.handle)
	if err != nil {
		return nil
	}
	if ls := c.h.links[ch.Link()]; ls != nil {
		return ls.l
	}
	return nil
}

// Send queues one SDU. The channel takes one SDU at a time; Sent reports
// when it can take the next.
func (c Chan) Send(sdu []byte) error {
	ch, err := c.h.table.Lookup(c.handle)
	if err != nil {
		return err
	}
	return c.h.send(ch, sdu)
}

// Close starts an orderly disconnect.
func (c Chan) Close() error {
	ch, err := c.h.table.Lookup(c.handle)
	if err != nil {
		return err
	}
	return c.h.closeChannel(ch)
}
