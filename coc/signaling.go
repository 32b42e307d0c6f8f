package coc

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/TheusHen/cocstress/coc/channel"
	"github.com/TheusHen/cocstress/coc/link"
	"github.com/TheusHen/cocstress/coc/protocol"
)

func (h *Host) openChannel(id link.ID, psm uint16, handler ChannelHandler) (channel.Handle, error) {
	ls, ok := h.links[id]
	if !ok {
		return channel.Handle{}, fmt.Errorf("%w: %d", ErrUnknownLink, id)
	}
	c, err := h.table.Open(id, psm)
	if err != nil {
		return channel.Handle{}, err
	}
	handle := c.Handle()
	ident := h.ident()
	req := protocol.ConnReq{
		Ident:   ident,
		PSM:     psm,
		SCID:    c.LocalCID(),
		MTU:     uint16(h.cfg.SDUMax),
		MPS:     uint16(h.cfg.MPS),
		Credits: uint16(h.cfg.InitialCredits),
	}
	if err := h.signal(ls.l, protocol.FrameConnReq, req); err != nil {
		_ = c.Reject()
		return channel.Handle{}, err
	}
	h.slots[handle.Index] = slotState{handler: handler, ident: ident, timer: h.armTimeout(handle)}
	h.log.Debug("channel connecting",
		zap.Stringer("channel", handle),
		zap.Uint32("link", uint32(id)),
		zap.Uint16("psm", psm),
		zap.Uint16("cid", c.LocalCID()))
	return handle, nil
}

func (h *Host) closeChannel(c *channel.Channel) error {
	if !c.Connected() {
		return fmt.Errorf("%s in %s: %w", c.Handle(), c.State(), ErrChannelNotConnected)
	}
	l, err := h.linkOf(c)
	if err != nil {
		return err
	}
	req := protocol.DisconnReq{Ident: h.ident(), DCID: c.RemoteCID(), SCID: c.LocalCID()}
	if err := c.Close(); err != nil {
		return err
	}
	h.log.Debug("channel disconnecting", zap.Stringer("channel", c.Handle()))
	if err := h.signal(l, protocol.FrameDisconnReq, req); err != nil {
		return err
	}
	h.serveWaiters()
	return nil
}

func signalFrame[T protocol.PDU](t protocol.FrameType, pdu T) ([]byte, error) {
	f, err := protocol.SignalingFrame(t, pdu)
	if err != nil {
		return nil, err
	}
	return protocol.Marshal(f, protocol.Options{})
}

// signal sends one signaling PDU. A link that is already down is not an
// error here; its disconnect event cleans up.
func (h *Host) signal(l link.Link, t protocol.FrameType, pdu any) error {
	var (
		b   []byte
		err error
	)
	switch p := pdu.(type) {
	case protocol.ConnReq:
		b, err = signalFrame(t, p)
	case protocol.ConnRsp:
		b, err = signalFrame(t, p)
	case protocol.Credits:
		b, err = signalFrame(t, p)
	case protocol.DisconnReq:
		b, err = signalFrame(t, p)
	case protocol.DisconnRsp:
		b, err = signalFrame(t, p)
	default:
		return fmt.Errorf("coc: unsupported PDU %T", pdu)
	}
	if err != nil {
		return err
	}
	if err := l.Send(b, nil); err != nil && !errors.Is(err, link.ErrNotConnected) {
		return err
	}
	return nil
}

func (h *Host) onFrame(l link.Link, raw []byte) {
	if _, ok := h.links[l.ID()]; !ok {
		h.log.Debug("frame on unknown link dropped", zap.Uint32("link", uint32(l.ID())))
		return
	}
	f, err := protocol.Unmarshal(raw)
	if err != nil {
		h.fail(fmt.Errorf("link %d: %w", l.ID(), err))
		return
	}
	if f.Type == protocol.FrameKFrame {
		h.onKFrame(l, f)
		return
	}
	if !f.Type.Signaling() || f.CID != protocol.CIDSignaling {
		h.fail(fmt.Errorf("link %d: %s on CID 0x%04x: %w", l.ID(), f.Type, f.CID, ErrUnexpectedFrame))
		return
	}

	switch f.Type {
	case protocol.FrameConnReq:
		if req, err := protocol.DecodePDU[protocol.ConnReq](f.Payload); err != nil {
			h.fail(err)
		} else {
			h.onConnReq(l, req)
		}
	case protocol.FrameConnRsp:
		if rsp, err := protocol.DecodePDU[protocol.ConnRsp](f.Payload); err != nil {
			h.fail(err)
		} else {
			h.onConnRsp(l, rsp)
		}
	case protocol.FrameCredits:
		if cr, err := protocol.DecodePDU[protocol.Credits](f.Payload); err != nil {
			h.fail(err)
		} else {
			h.onCredits(l, cr)
		}
	case protocol.FrameDisconnReq:
		if req, err := protocol.DecodePDU[protocol.DisconnReq](f.Payload); err != nil {
			h.fail(err)
		} else {
			h.onDisconnReq(l, req)
		}
	case protocol.FrameDisconnRsp:
		if rsp, err := protocol.DecodePDU[protocol.DisconnRsp](f.Payload); err != nil {
			h.fail(err)
		} else {
			h.onDisconnRsp(l, rsp)
		}
	}
}

func (h *Host) onConnReq(l link.Link, req protocol.ConnReq) {
	rsp := protocol.ConnRsp{Ident: req.Ident}
	reply := func(result protocol.Result) {
		rsp.Result = result
		if result != protocol.ResultSuccess {
			h.log.Debug("channel request rejected",
				zap.Uint32("link", uint32(l.ID())),
				zap.Uint16("psm", req.PSM),
				zap.Stringer("result", result))
		}
		if err := h.signal(l, protocol.FrameConnRsp, rsp); err != nil {
			h.fail(err)
		}
	}

	srv := h.servers[req.PSM]
	switch {
	case srv == nil:
		reply(protocol.ResultPSMNotSupported)
		return
	case l.Security() < srv.Security:
		reply(protocol.ResultInsufficientSecurity)
		return
	case int(req.MTU) < MinMTU || int(req.MPS) < MinMTU || req.SCID < channel.FirstDynamicCID:
		reply(protocol.ResultRefused)
		return
	}

	handler, err := srv.Accept(l)
	if err != nil || handler == nil {
		reply(protocol.ResultRefused)
		return
	}
	c, err := h.table.Accept(l.ID(), req.PSM, h.binding(req.SCID, req.MTU, req.MPS, req.Credits))
	if err != nil {
		if errors.Is(err, channel.ErrNoChannelSlot) {
			reply(protocol.ResultNoResources)
			return
		}
		h.fail(err)
		return
	}
	handle := c.Handle()
	h.slots[handle.Index] = slotState{handler: handler}
	rsp.DCID = c.LocalCID()
	rsp.MTU = uint16(h.cfg.SDUMax)
	rsp.MPS = uint16(h.cfg.MPS)
	rsp.Credits = uint16(h.cfg.InitialCredits)
	reply(protocol.ResultSuccess)

	h.log.Debug("channel accepted",
		zap.Stringer("channel", handle),
		zap.Uint32("link", uint32(l.ID())),
		zap.Uint16("psm", req.PSM),
		zap.Int("tx_mps", c.TxMPS()))
	handler.Connected(Chan{h: h, handle: handle})
}

func (h *Host) binding(remoteCID, mtu, mps, credits uint16) channel.Binding {
	txMPS := int(mps)
	if txMPS > h.cfg.MPS {
		txMPS = h.cfg.MPS
	}
	return channel.Binding{
		RemoteCID: remoteCID,
		TxMTU:     int(mtu),
		TxMPS:     txMPS,
		RxMTU:     h.cfg.SDUMax,
		RxMPS:     h.cfg.MPS,
		TxCredits: int(credits),
		RxCredits: h.cfg.InitialCredits,
		Segments:  h.segments,
		RxSDUs:    h.rxSDUs,
	}
}

func (h *Host) pendingByIdent(l link.ID, ident uint8) *channel.Channel {
	for _, c := range h.table.OnLink(l) {
		if c.State() == channel.StateConnecting && h.slots[c.Handle().Index].ident == ident {
			return c
		}
	}
	return nil
}

func (h *Host) onConnRsp(l link.Link, rsp protocol.ConnRsp) {
	c := h.pendingByIdent(l.ID(), rsp.Ident)
	if c == nil {
		// Answer to a request that already timed out; release the peer's
		// channel if it accepted.
		if rsp.Result == protocol.ResultSuccess && rsp.DCID != 0 {
			_ = h.signal(l, protocol.FrameDisconnReq, protocol.DisconnReq{Ident: h.ident(), DCID: rsp.DCID})
		}
		return
	}
	handle := c.Handle()
	s := &h.slots[handle.Index]
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if err := rsp.Result.Err(); err != nil {
		if rerr := c.Reject(); rerr != nil {
			h.fail(rerr)
		}
		h.finish(handle, err)
		return
	}
	if int(rsp.MTU) < MinMTU || int(rsp.MPS) < MinMTU {
		_ = c.Reject()
		h.fail(fmt.Errorf("channel %s: peer MTU %d MPS %d: %w", handle, rsp.MTU, rsp.MPS, ErrUnexpectedFrame))
		return
	}
	if err := c.Accept(h.binding(rsp.DCID, rsp.MTU, rsp.MPS, rsp.Credits)); err != nil {
		_ = c.Reject()
		h.fail(fmt.Errorf("channel %s: %w: %w", handle, ErrUnexpectedFrame, err))
		return
	}
	h.log.Debug("channel connected",
		zap.Stringer("channel", handle),
		zap.Uint16("remote_cid", rsp.DCID),
		zap.Int("tx_mtu", c.TxMTU()),
		zap.Int("tx_mps", c.TxMPS()),
		zap.Int("tx_credits", int(rsp.Credits)))
	s.handler.Connected(Chan{h: h, handle: handle})
}

func (h *Host) onCredits(l link.Link, cr protocol.Credits) {
	c := h.table.ByRemoteCID(l.ID(), cr.CID)
	if c == nil || !c.Connected() {
		return
	}
	if err := c.Credits().Grant(int(cr.Credits)); err != nil {
		h.fail(fmt.Errorf("channel %s: %w", c.Handle(), err))
		return
	}
	h.pump(c)
}

func (h *Host) onDisconnReq(l link.Link, req protocol.DisconnReq) {
	rsp := protocol.DisconnRsp{Ident: req.Ident, DCID: req.DCID, SCID: req.SCID}
	c := h.table.ByLocalCID(l.ID(), req.DCID)
	if err := h.signal(l, protocol.FrameDisconnRsp, rsp); err != nil {
		h.fail(err)
	}
	if c == nil || c.State() == channel.StateConnecting {
		return
	}
	handle := c.Handle()
	var err error
	if c.Connected() {
		err = c.Transition(channel.StateIdle)
	} else {
		err = c.Closed()
	}
	if err != nil {
		h.fail(err)
	}
	h.log.Debug("channel closed by peer", zap.Stringer("channel", handle))
	h.finish(handle, nil)
}

func (h *Host) onDisconnRsp(l link.Link, rsp protocol.DisconnRsp) {
	c := h.table.ByLocalCID(l.ID(), rsp.SCID)
	if c == nil || c.State() != channel.StateDisconnecting {
		return
	}
	handle := c.Handle()
	if err := c.Closed(); err != nil {
		h.fail(err)
	}
	h.log.Debug("channel closed", zap.Stringer("channel", handle))
	h.finish(handle, nil)
}
