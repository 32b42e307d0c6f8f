package coc

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/TheusHen/cocstress/coc/bufpool"
	"github.com/TheusHen/cocstress/coc/channel"
	"github.com/TheusHen/cocstress/coc/link"
	"github.com/TheusHen/cocstress/coc/protocol"
	"github.com/TheusHen/cocstress/coc/segment"
)

func (h *Host) send(c *channel.Channel, sdu []byte) error {
	if !c.Connected() {
		return fmt.Errorf("%s in %s: %w", c.Handle(), c.State(), ErrChannelNotConnected)
	}
	if len(sdu) > c.TxMTU() {
		return fmt.Errorf("%d > %d: %w", len(sdu), c.TxMTU(), ErrSDUTooLarge)
	}
	s := c.Sender()
	if s.Busy() {
		return segment.ErrBusy
	}
	buf, err := h.txSDUs.Acquire()
	if err != nil {
		return err
	}
	var hdr [segment.SDUHeaderLen]byte
	segment.PutHeader(hdr[:], len(sdu))
	if err := buf.Append(hdr[:]); err == nil {
		err = buf.Append(sdu)
	}
	if err != nil {
		_ = buf.Release()
		return err
	}
	if err := s.Load(buf); err != nil {
		_ = buf.Release()
		return err
	}
	h.pump(c)
	return nil
}

// pump emits what the channel's credits and the segment pool allow.
func (h *Host) pump(c *channel.Channel) {
	if !c.Connected() || !c.Sender().Busy() {
		return
	}
	l, err := h.linkOf(c)
	if err != nil {
		return
	}
	handle := c.Handle()
	res, err := c.Sender().Pump(func(seg *bufpool.Buffer) error {
		payload, err := seg.Bytes()
		if err != nil {
			return err
		}
		frame, err := protocol.Marshal(protocol.Frame{
			Type:    protocol.FrameKFrame,
			CID:     c.RemoteCID(),
			Payload: payload,
		}, protocol.Options{})
		if err != nil {
			return err
		}
		return l.Send(frame, segToken{handle: handle, seg: seg})
	})
	if err != nil {
		if errors.Is(err, link.ErrNotConnected) {
			return
		}
		h.fail(fmt.Errorf("channel %s: %w", handle, err))
		return
	}
	if res.Emitted > 0 {
		c.Progressed()
	}
	if !res.Deferred {
		return
	}
	if res.Emitted == 0 {
		if n := c.Deferred(); n > h.cfg.MaxDeferrals {
			h.fail(fmt.Errorf("channel %s after %d deferrals (%s): %w", handle, n, res.Reason, ErrDeferralLimit))
			return
		}
	}
	h.log.Debug("channel deferred",
		zap.Stringer("channel", handle),
		zap.Stringer("reason", res.Reason),
		zap.Int("emitted", res.Emitted),
		zap.Int("deferrals", c.Deferrals()))
	if res.Reason == segment.ReasonNoBuffer {
		h.wait(handle)
	}
}

// wait queues a channel for the next free segment buffer.
func (h *Host) wait(handle channel.Handle) {
	for _, w := range h.waiters {
		if w == handle {
			return
		}
	}
	h.waiters = append(h.waiters, handle)
}

// serveWaiters hands free segment buffers to waiting channels, oldest first.
func (h *Host) serveWaiters() {
	for len(h.waiters) > 0 && h.segments.Available() > 0 && h.err == nil {
		w := h.waiters[0]
		h.waiters = h.waiters[1:]
		c, err := h.table.Lookup(w)
		if err != nil {
			continue
		}
		h.pump(c)
	}
}

func (h *Host) onSent(l link.Link, token link.Token) {
	tok, ok := token.(segToken)
	if !ok {
		return
	}
	c, err := h.table.Lookup(tok.handle)
	if err != nil || !c.Connected() {
		// The channel left connected and already released the segment.
		return
	}
	done, err := c.Sender().Sent(tok.seg)
	if err != nil {
		h.fail(fmt.Errorf("channel %s: %w", tok.handle, err))
		return
	}
	h.serveWaiters()
	if done && h.err == nil {
		if handler := h.slots[tok.handle.Index].handler; handler != nil {
			handler.Sent(Chan{h: h, handle: tok.handle})
		}
	}
}

func (h *Host) onKFrame(l link.Link, f protocol.Frame) {
	c := h.table.ByLocalCID(l.ID(), f.CID)
	if c == nil {
		h.fail(fmt.Errorf("link %d CID 0x%04x: %w", l.ID(), f.CID, ErrUnknownCID))
		return
	}
	if !c.Connected() {
		// Frames the peer sent before it saw our disconnect request.
		return
	}
	handle := c.Handle()
	if err := c.Credits().Consume(); err != nil {
		h.fail(fmt.Errorf("channel %s: %w", handle, err))
		return
	}
	sdu, err := c.Reassembler().Push(f.Payload)
	if err != nil {
		if errors.Is(err, bufpool.ErrExhausted) {
			h.log.Error("no RX SDU buffer, disconnecting channel", zap.Stringer("channel", handle))
			_ = h.closeChannel(c)
			h.fail(fmt.Errorf("channel %s: %w", handle, ErrRxSDUExhausted))
			return
		}
		h.fail(fmt.Errorf("channel %s: %w", handle, err))
		return
	}

	if sdu != nil {
		data, err := sdu.Bytes()
		if err == nil {
			if handler := h.slots[handle.Index].handler; handler != nil {
				err = handler.Received(Chan{h: h, handle: handle}, data)
			}
		}
		if rerr := sdu.Release(); err == nil {
			err = rerr
		}
		if err != nil {
			h.fail(fmt.Errorf("channel %s: %w", handle, err))
			return
		}
	}

	// The handler may have closed the channel; credits go back only while
	// it is still connected.
	if !c.Connected() || c.Handle() != handle {
		return
	}
	if err := c.Credits().Return(1); err != nil {
		h.fail(fmt.Errorf("channel %s: %w", handle, err))
		return
	}
	if err := h.signal(l, protocol.FrameCredits, protocol.Credits{CID: c.LocalCID(), Credits: 1}); err != nil {
		h.fail(err)
	}
}
