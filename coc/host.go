package coc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/TheusHen/cocstress/coc/bufpool"
	"github.com/TheusHen/cocstress/coc/channel"
	"github.com/TheusHen/cocstress/coc/identity"
	"github.com/TheusHen/cocstress/coc/internal/evq"
	"github.com/TheusHen/cocstress/coc/link"
	"github.com/TheusHen/cocstress/coc/protocol"
	"github.com/TheusHen/cocstress/coc/segment"
)

// Dialer builds the provider a host runs on, wiring its callbacks to h.
type Dialer func(h link.Handler) (link.Provider, error)

type linkState struct {
	l link.Link
}

// slotState is the per-slot state the host keeps beside the channel table.
type slotState struct {
	handler ChannelHandler
	ident   uint8
	timer   *time.Timer
}

// Host runs channels over one provider.
type Host struct {
	cfg      Config
	log      *zap.Logger
	provider link.Provider
	events   *evq.Queue[event]

	txSDUs   *bufpool.Pool
	segments *bufpool.Pool
	rxSDUs   *bufpool.Pool

	obsMu     sync.Mutex
	observers []LinkObserver

	running atomic.Bool
	done    chan struct{}

	// loop state
	table     *channel.Table
	slots     []slotState
	links     map[link.ID]*linkState
	servers   map[uint16]*Server
	nextPSM   uint16
	nextIdent uint8
	waiters   []channel.Handle
	err       error
}

// NewHost sizes the pools and channel table from cfg and builds the
// provider through dial.
func NewHost(cfg Config, dial Dialer) (*Host, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	h := &Host{
		cfg:     cfg,
		log:     cfg.Logger.Named("host"),
		events:  evq.New[event](),
		done:    make(chan struct{}),
		table:   channel.NewTable(cfg.MaxChannels),
		slots:   make([]slotState, cfg.MaxChannels),
		links:   map[link.ID]*linkState{},
		servers: map[uint16]*Server{},
		nextPSM: protocol.FirstDynamicPSM,
	}
	if cfg.Name != "" {
		h.log = h.log.With(zap.String("device", cfg.Name))
	}
	sduSize := cfg.SDUMax + segment.SDUHeaderLen
	h.txSDUs = bufpool.New("tx-sdu", bufpool.RoleTxSDU, cfg.SDUBuffers, sduSize)
	h.segments = bufpool.New("segment", bufpool.RoleSegment, cfg.SegmentBuffers, cfg.MPS+cfg.HeaderReserve)
	h.rxSDUs = bufpool.New("rx-sdu", bufpool.RoleRxSDU, cfg.SDUBuffers, sduSize)

	p, err := dial(linkEvents{q: h.events})
	if err != nil {
		return nil, err
	}
	h.provider = p
	return h, nil
}

// Config returns the normalized configuration.
func (h *Host) Config() Config { return h.cfg }

// Observe registers o for link up and down events.
func (h *Host) Observe(o LinkObserver) {
	h.obsMu.Lock()
	h.observers = append(h.observers, o)
	h.obsMu.Unlock()
}

// Run processes events until ctx is done or a fatal error occurs. It returns
// nil on cancellation and the fatal error otherwise. The provider is closed
// when Run returns.
func (h *Host) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer h.shutdown()

	for h.err == nil {
		ev, err := h.events.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		h.dispatch(ev)
	}
	h.log.Error("host stopped", zap.Error(h.err))
	return h.err
}

func (h *Host) shutdown() {
	for i := range h.slots {
		if h.slots[i].timer != nil {
			h.slots[i].timer.Stop()
		}
	}
	if err := h.provider.Close(); err != nil {
		h.log.Debug("provider close", zap.Error(err))
	}
	h.events.Close()
	close(h.done)
	for {
		ev, ok, err := h.events.TryPop()
		if err != nil || !ok {
			return
		}
		if call, isCall := ev.(evCall); isCall {
			call.done <- ErrHostStopped
		}
	}
}

func (h *Host) dispatch(ev event) {
	switch e := ev.(type) {
	case evCall:
		e.done <- e.fn()
	case evConnected:
		h.onConnected(e.l, e.err)
	case evDisconnected:
		h.onDisconnected(e.l, e.reason)
	case evFrame:
		h.onFrame(e.l, e.frame)
	case evSent:
		h.onSent(e.l, e.token)
	case evTimeout:
		h.onTimeout(e.handle)
	}
}

// fail records the first fatal error; Run returns it.
func (h *Host) fail(err error) {
	if h.err == nil {
		h.err = err
	}
}

// do runs fn on the loop and waits for its result.
func (h *Host) do(ctx context.Context, fn func() error) error {
	call := evCall{fn: fn, done: make(chan error, 1)}
	if err := h.events.Push(call); err != nil {
		return ErrHostStopped
	}
	select {
	case err := <-call.done:
		return err
	case <-h.done:
		select {
		case err := <-call.done:
			return err
		default:
			return ErrHostStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect establishes a link to peer. The link is usable by the time
// Connect returns.
func (h *Host) Connect(ctx context.Context, peer identity.Address) (link.Link, error) {
	l, err := h.provider.Connect(ctx, peer)
	if err != nil {
		return nil, err
	}
	// The provider queued OnConnected before returning; a loop round trip
	// guarantees it has been processed.
	err = h.do(ctx, func() error {
		if _, ok := h.links[l.ID()]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownLink, l.ID())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Advertise makes the device connectable.
func (h *Host) Advertise(ctx context.Context) error {
	return h.provider.Advertise(ctx)
}

// Disconnect takes a link down.
func (h *Host) Disconnect(ctx context.Context, id link.ID, reason link.Reason) error {
	return h.do(ctx, func() error {
		ls, ok := h.links[id]
		if !ok {
			return link.ErrNotConnected
		}
		return ls.l.Disconnect(reason)
	})
}

// Links returns the links currently up.
func (h *Host) Links(ctx context.Context) ([]link.Link, error) {
	var out []link.Link
	err := h.do(ctx, func() error {
		for _, ls := range h.links {
			out = append(out, ls.l)
		}
		return nil
	})
	return out, err
}

// Listen registers srv and returns its PSM.
func (h *Host) Listen(ctx context.Context, srv Server) (uint16, error) {
	var psm uint16
	err := h.do(ctx, func() error {
		p, err := h.register(srv)
		psm = p
		return err
	})
	return psm, err
}

func (h *Host) register(srv Server) (uint16, error) {
	if srv.Security == 0 {
		srv.Security = link.SecurityL1
	}
	if srv.Accept == nil {
		return 0, errors.New("coc: server without Accept")
	}
	if srv.PSM == 0 {
		for h.servers[h.nextPSM] != nil {
			if h.nextPSM == 0x00FF {
				return 0, ErrNoDynamicPSM
			}
			h.nextPSM++
		}
		srv.PSM = h.nextPSM
		h.nextPSM++
	}
	if _, ok := h.servers[srv.PSM]; ok {
		return 0, fmt.Errorf("%w: 0x%04x", ErrPSMInUse, srv.PSM)
	}
	s := srv
	h.servers[srv.PSM] = &s
	h.log.Debug("server registered", zap.Uint16("psm", srv.PSM), zap.Stringer("security", srv.Security))
	return srv.PSM, nil
}

// OpenChannel requests a channel to psm on link id. The handle is returned
// while the channel is connecting; handler.Connected or Disconnected
// reports the outcome.
func (h *Host) OpenChannel(ctx context.Context, id link.ID, psm uint16, handler ChannelHandler) (channel.Handle, error) {
	var handle channel.Handle
	err := h.do(ctx, func() error {
		hd, err := h.openChannel(id, psm, handler)
		handle = hd
		return err
	})
	return handle, err
}

// Send queues one SDU on a connected channel.
func (h *Host) Send(ctx context.Context, handle channel.Handle, sdu []byte) error {
	data := append([]byte(nil), sdu...)
	return h.do(ctx, func() error {
		c, err := h.table.Lookup(handle)
		if err != nil {
			return err
		}
		return h.send(c, data)
	})
}

// CloseChannel starts an orderly disconnect of a connected channel.
func (h *Host) CloseChannel(ctx context.Context, handle channel.Handle) error {
	return h.do(ctx, func() error {
		c, err := h.table.Lookup(handle)
		if err != nil {
			return err
		}
		return h.closeChannel(c)
	})
}

// Stats returns the pool statistics. It is safe to call from any goroutine.
func (h *Host) Stats() []bufpool.Stats {
	return []bufpool.Stats{h.txSDUs.Stats(), h.segments.Stats(), h.rxSDUs.Stats()}
}

// SegmentPeak returns the high-water mark of the segment pool.
func (h *Host) SegmentPeak() int { return h.segments.Peak() }

// Snapshot is a consistent view of the host taken on the loop.
type Snapshot struct {
	Links    int
	Pools    []bufpool.Stats
	Channels []channel.Info
	Waiters  int
}

func (h *Host) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := h.do(ctx, func() error {
		s.Links = len(h.links)
		s.Pools = h.Stats()
		for _, c := range h.table.Active() {
			s.Channels = append(s.Channels, c.Info())
		}
		s.Waiters = len(h.waiters)
		return nil
	})
	return s, err
}

func (h *Host) observersSnapshot() []LinkObserver {
	h.obsMu.Lock()
	defer h.obsMu.Unlock()
	return append([]LinkObserver(nil), h.observers...)
}

func (h *Host) onConnected(l link.Link, err error) {
	if err != nil {
		h.log.Warn("connection failed", zap.Error(err))
		return
	}
	if len(h.links) >= h.cfg.MaxLinks {
		h.log.Warn("refusing link over limit", zap.Uint32("link", uint32(l.ID())), zap.Int("max", h.cfg.MaxLinks))
		_ = l.Disconnect(link.ReasonRemoteUserTerminated)
		return
	}
	h.links[l.ID()] = &linkState{l: l}
	h.log.Debug("link up",
		zap.Uint32("link", uint32(l.ID())),
		zap.Stringer("peer", l.Peer()),
		zap.Stringer("role", l.Role()),
		zap.Stringer("security", l.Security()))
	for _, o := range h.observersSnapshot() {
		o.LinkUp(l)
	}
}

func (h *Host) onDisconnected(l link.Link, reason link.Reason) {
	if _, ok := h.links[l.ID()]; !ok {
		return
	}
	delete(h.links, l.ID())
	h.log.Debug("link down", zap.Uint32("link", uint32(l.ID())), zap.Stringer("reason", reason))

	cause := fmt.Errorf("link %d down (%s): %w", l.ID(), reason, link.ErrNotConnected)
	for _, c := range h.table.OnLink(l.ID()) {
		handle := c.Handle()
		if err := c.LinkLost(); err != nil {
			h.fail(err)
		}
		h.finish(handle, cause)
	}
	for _, o := range h.observersSnapshot() {
		o.LinkDown(l, reason)
	}
}

func (h *Host) onTimeout(handle channel.Handle) {
	c, err := h.table.Lookup(handle)
	if err != nil || c.State() != channel.StateConnecting {
		return
	}
	h.log.Debug("channel connect timed out", zap.Stringer("channel", handle))
	if err := c.Reject(); err != nil {
		h.fail(err)
	}
	h.finish(handle, ErrConnectTimeout)
}

// finish clears the slot state of a channel that went idle and notifies its
// handler.
func (h *Host) finish(handle channel.Handle, cause error) {
	s := &h.slots[handle.Index]
	if s.timer != nil {
		s.timer.Stop()
	}
	handler := s.handler
	*s = slotState{}
	if handler != nil {
		handler.Disconnected(Chan{h: h, handle: handle}, cause)
	}
	h.serveWaiters()
}

func (h *Host) linkOf(c *channel.Channel) (link.Link, error) {
	ls, ok := h.links[c.Link()]
	if !ok {
		return nil, link.ErrNotConnected
	}
	return ls.l, nil
}

func (h *Host) ident() uint8 {
	h.nextIdent++
	if h.nextIdent == 0 {
		h.nextIdent = 1
	}
	return h.nextIdent
}
