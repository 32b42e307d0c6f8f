package stress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TheusHen/cocstress/coc"
	"github.com/TheusHen/cocstress/coc/channel"
	"github.com/TheusHen/cocstress/coc/fault"
	"github.com/TheusHen/cocstress/coc/identity"
	"github.com/TheusHen/cocstress/coc/link"
)

// peerRun is the central's view of one peer. Fields are guarded by the
// progress lock.
type peerRun struct {
	addr      identity.Address
	linkID    link.ID
	handle    channel.Handle
	linked    bool
	up        bool
	connected bool
	closed    bool
	remaining int
	err       error
}

// settled reports that the peer needs nothing more from the driver.
func (p *peerRun) settled() bool {
	return p.err != nil || p.closed || p.remaining == 0
}

// Central connects to every peer and streams the scenario over one channel
// per link.
type Central struct {
	host  *coc.Host
	peers []identity.Address
	sc    Scenario
	log   *zap.Logger

	prog  *progress
	runs  []*peerRun
	byID  map[link.ID]*peerRun
	sdu   []byte
	start time.Time
}

// NewCentral prepares a central run over host. host must not be running yet;
// Run owns its event loop.
func NewCentral(host *coc.Host, peers []identity.Address, sc Scenario, log *zap.Logger) *Central {
	if log == nil {
		log = zap.NewNop()
	}
	sc = sc.normalized()
	sc.Peers = len(peers)
	c := &Central{
		host:  host,
		peers: peers,
		sc:    sc,
		log:   log.Named("central"),
		prog:  newProgress(),
		byID:  map[link.ID]*peerRun{},
		sdu:   Pattern(sc.MessageLen),
	}
	for _, p := range peers {
		c.runs = append(c.runs, &peerRun{addr: p})
	}
	host.Observe(coc.LinkFuncs{OnDown: c.linkDown})
	return c
}

// Run drives the host and the scenario until every link is down. The
// returned error wraps fault.ErrLinkFailure when a channel lost its link
// with SDUs outstanding.
func (c *Central) Run(ctx context.Context) (Report, error) {
	if c.sc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.sc.Timeout)
		defer cancel()
	}
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	c.start = time.Now()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.host.Run(gctx) })
	g.Go(func() error {
		defer stop()
		return c.drive(gctx)
	})
	err := g.Wait()
	if err == nil {
		// A deadline stops the driver and the host alike; report it.
		err = ctx.Err()
	}
	return c.report(), err
}

func (c *Central) drive(ctx context.Context) error {
	for _, p := range c.runs {
		l, err := c.connect(ctx, p.addr)
		if err != nil {
			return fmt.Errorf("connect %s: %w", p.addr, err)
		}
		c.prog.update(func() {
			p.linkID = l.ID()
			p.linked = true
			p.up = true
			c.byID[l.ID()] = p
		})
		c.log.Info("connected", zap.Stringer("peer", p.addr), zap.Uint32("link", uint32(l.ID())))
	}

	for _, p := range c.runs {
		handle, err := c.host.OpenChannel(ctx, p.linkID, c.sc.PSM, c.handler(p))
		if err != nil {
			return fmt.Errorf("open channel to %s: %w", p.addr, err)
		}
		c.prog.update(func() { p.handle = handle })
	}
	err := c.prog.wait(ctx, c.sc.PollInterval, func() bool {
		for _, p := range c.runs {
			if !p.connected && p.err == nil {
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	if failed := c.firstError(); failed != nil {
		if err := c.disconnectAll(ctx); err != nil {
			return errors.Join(failed, err)
		}
		return failed
	}

	for _, p := range c.runs {
		if c.sc.Messages == 0 {
			break
		}
		var handle channel.Handle
		c.prog.update(func() {
			p.remaining = c.sc.Messages
			handle = p.handle
		})
		if err := c.host.Send(ctx, handle, c.sdu); err != nil {
			c.prog.update(func() { p.err = err })
		}
	}
	err = c.prog.wait(ctx, c.sc.PollInterval, func() bool {
		for _, p := range c.runs {
			if !p.settled() {
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	failed := c.firstError()
	if failed == nil {
		c.log.Info("all data sent", zap.Duration("elapsed", time.Since(c.start)))
	}

	if err := c.disconnectAll(ctx); err != nil {
		return err
	}
	c.log.Info(fmt.Sprintf("Max segment pool usage: %d bufs", c.host.SegmentPeak()))
	return failed
}

// disconnectAll takes down every link and waits until each one reported
// down.
func (c *Central) disconnectAll(ctx context.Context) error {
	for _, p := range c.runs {
		err := c.host.Disconnect(ctx, p.linkID, link.ReasonRemoteUserTerminated)
		if err != nil && !errors.Is(err, link.ErrNotConnected) {
			return fmt.Errorf("disconnect %s: %w", p.addr, err)
		}
	}
	return c.prog.wait(ctx, c.sc.PollInterval, func() bool {
		for _, p := range c.runs {
			if p.up {
				return false
			}
		}
		return true
	})
}

// connect retries while the peer is not advertising yet, the way a scan
// keeps running until the peer shows up.
func (c *Central) connect(ctx context.Context, peer identity.Address) (link.Link, error) {
	ticker := time.NewTicker(c.sc.PollInterval)
	defer ticker.Stop()
	for {
		l, err := c.host.Connect(ctx, peer)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, link.ErrNotConnectable) && !errors.Is(err, link.ErrUnknownPeer) {
			return nil, err
		}
		c.log.Debug("peer not connectable yet", zap.Stringer("peer", peer), zap.Error(err))
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Central) handler(p *peerRun) coc.ChannelHandler {
	return coc.ChannelFuncs{
		OnConnected: func(coc.Chan) {
			c.prog.update(func() { p.connected = true })
		},
		OnDisconnected: func(_ coc.Chan, cause error) {
			c.prog.update(func() {
				p.closed = true
				switch {
				case !p.connected:
					if cause == nil {
						cause = fault.ErrLinkFailure
					}
					p.err = fmt.Errorf("channel to %s refused: %w", p.addr, cause)
				case p.remaining > 0 && p.err == nil:
					p.err = fmt.Errorf("channel to %s lost with %d SDUs left: %w", p.addr, p.remaining, lossCause(cause))
				}
			})
			c.log.Debug("channel closed", zap.Stringer("peer", p.addr), zap.Error(cause))
		},
		OnSent: func(ch coc.Chan) {
			var next bool
			c.prog.update(func() {
				p.remaining--
				next = p.remaining > 0
			})
			if !next {
				return
			}
			if err := ch.Send(c.sdu); err != nil {
				c.prog.update(func() { p.err = fmt.Errorf("send to %s: %w", p.addr, err) })
			}
		},
		OnReceived: func(coc.Chan, []byte) error {
			return fmt.Errorf("central received data from %s: %w", p.addr, fault.ErrProtocolViolation)
		},
	}
}

// lossCause makes sure the reported error carries fault.ErrLinkFailure. A
// link loss already does; an orderly close by the peer does not.
func lossCause(cause error) error {
	if cause == nil {
		return fault.ErrLinkFailure
	}
	if errors.Is(cause, fault.ErrLinkFailure) {
		return cause
	}
	return fmt.Errorf("%w: %w", fault.ErrLinkFailure, cause)
}

func (c *Central) linkDown(l link.Link, reason link.Reason) {
	c.prog.update(func() {
		p := c.byID[l.ID()]
		if p == nil {
			return
		}
		p.up = false
		c.log.Info("disconnected", zap.Stringer("peer", p.addr), zap.Stringer("reason", reason))
	})
}

func (c *Central) firstError() error {
	var errs []error
	c.prog.read(func() {
		for _, p := range c.runs {
			if p.err != nil {
				errs = append(errs, p.err)
			}
		}
	})
	return errors.Join(errs...)
}

func (c *Central) report() Report {
	r := Report{
		Role:         link.RoleCentral,
		PeakSegments: c.host.SegmentPeak(),
		Elapsed:      time.Since(c.start),
	}
	c.prog.read(func() {
		for _, p := range c.runs {
			if p.linked {
				r.Links++
				if !p.up {
					r.Disconnected++
				}
			}
			r.Remaining = append(r.Remaining, p.remaining)
		}
	})
	return r
}
