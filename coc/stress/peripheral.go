package stress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TheusHen/cocstress/coc"
	"github.com/TheusHen/cocstress/coc/fault"
	"github.com/TheusHen/cocstress/coc/link"
)

// ErrChannelBusy refuses a second inbound channel.
var ErrChannelBusy = errors.New("stress: channel already accepted")

// Peripheral advertises, accepts one channel and validates everything it
// receives on it.
type Peripheral struct {
	host *coc.Host
	sc   Scenario
	log  *zap.Logger
	want []byte

	prog *progress
	// guarded by prog
	links    int
	up       int
	accepted bool
	received int
	start    time.Time
}

// NewPeripheral prepares a peripheral run over host. host must not be
// running yet; Run owns its event loop.
func NewPeripheral(host *coc.Host, sc Scenario, log *zap.Logger) *Peripheral {
	if log == nil {
		log = zap.NewNop()
	}
	sc = sc.normalized()
	p := &Peripheral{
		host: host,
		sc:   sc,
		log:  log.Named("peripheral"),
		want: Pattern(sc.MessageLen),
		prog: newProgress(),
	}
	host.Observe(coc.LinkFuncs{OnUp: p.linkUp, OnDown: p.linkDown})
	return p
}

// Run serves the scenario until the link carrying it is down. It fails with
// fault.ErrDataIntegrity on a corrupted SDU and fault.ErrLinkFailure when the
// link went down before every SDU arrived.
func (p *Peripheral) Run(ctx context.Context) (Report, error) {
	if p.sc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.sc.Timeout)
		defer cancel()
	}
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	p.start = time.Now()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return p.host.Run(gctx) })
	g.Go(func() error {
		defer stop()
		return p.drive(gctx)
	})
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return p.report(), err
}

func (p *Peripheral) drive(ctx context.Context) error {
	psm, err := p.host.Listen(ctx, coc.Server{
		PSM:      p.sc.PSM,
		Security: p.sc.Security,
		Accept:   p.accept,
	})
	if err != nil {
		return err
	}
	if err := p.host.Advertise(ctx); err != nil {
		return err
	}
	p.log.Info("advertising", zap.Uint16("psm", psm), zap.Stringer("security", p.sc.Security))

	err = p.prog.wait(ctx, p.sc.PollInterval, func() bool { return p.links > 0 })
	if err != nil {
		return err
	}
	err = p.prog.wait(ctx, p.sc.PollInterval, func() bool {
		return p.received >= p.sc.Messages || p.up == 0
	})
	if err != nil {
		return err
	}

	links, err := p.host.Links(ctx)
	if err != nil {
		return err
	}
	for _, l := range links {
		err := p.host.Disconnect(ctx, l.ID(), link.ReasonRemoteUserTerminated)
		if err != nil && !errors.Is(err, link.ErrNotConnected) {
			return fmt.Errorf("disconnect link %d: %w", l.ID(), err)
		}
	}
	err = p.prog.wait(ctx, p.sc.PollInterval, func() bool { return p.up == 0 })
	if err != nil {
		return err
	}

	var received int
	p.prog.read(func() { received = p.received })
	p.log.Info(fmt.Sprintf("Total received: %d", received))
	if received != p.sc.Messages {
		return fmt.Errorf("received %d of %d SDUs: %w", received, p.sc.Messages, fault.ErrLinkFailure)
	}
	return nil
}

func (p *Peripheral) accept(l link.Link) (coc.ChannelHandler, error) {
	var busy bool
	p.prog.update(func() {
		busy = p.accepted
		p.accepted = true
	})
	if busy {
		return nil, ErrChannelBusy
	}
	p.log.Debug("channel accepted", zap.Stringer("peer", l.Peer()))
	return coc.ChannelFuncs{OnReceived: p.receive}, nil
}

// receive counts an SDU only once it matched the pattern.
func (p *Peripheral) receive(_ coc.Chan, sdu []byte) error {
	var n int
	p.prog.read(func() { n = p.received + 1 })
	if len(sdu) != len(p.want) {
		return fmt.Errorf("SDU %d: length %d, want %d: %w", n, len(sdu), len(p.want), fault.ErrDataIntegrity)
	}
	if !bytes.Equal(sdu, p.want) {
		return fmt.Errorf("SDU %d: payload mismatch: %w", n, fault.ErrDataIntegrity)
	}
	if n > p.sc.Messages {
		return fmt.Errorf("SDU %d beyond the %d expected: %w", n, p.sc.Messages, fault.ErrDataIntegrity)
	}
	p.prog.update(func() { p.received = n })
	return nil
}

func (p *Peripheral) linkUp(l link.Link) {
	p.prog.update(func() {
		p.links++
		p.up++
	})
	p.log.Info("connected", zap.Stringer("peer", l.Peer()), zap.Stringer("security", l.Security()))
}

func (p *Peripheral) linkDown(l link.Link, reason link.Reason) {
	p.prog.update(func() {
		p.up--
	})
	p.log.Info("disconnected", zap.Stringer("peer", l.Peer()), zap.Stringer("reason", reason))
}

func (p *Peripheral) report() Report {
	r := Report{
		Role:         link.RolePeripheral,
		PeakSegments: p.host.SegmentPeak(),
		Elapsed:      time.Since(p.start),
	}
	p.prog.read(func() {
		r.Links = p.links
		r.Disconnected = p.links - p.up
		r.Received = p.received
	})
	return r
}
