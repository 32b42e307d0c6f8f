package mem

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/TheusHen/cocstress/coc/crypto"
	"github.com/TheusHen/cocstress/coc/identity"
	"github.com/TheusHen/cocstress/coc/link"
)

// Device is one radio attached to a Radio. It implements link.Provider.
type Device struct {
	radio    *Radio
	addr     identity.Address
	handler  link.Handler
	security link.SecurityLevel

	// guarded by radio.mu
	advertising bool
	closed      bool
	links       map[link.ID]*conn
}

func (d *Device) Address() identity.Address { return d.addr }

// Advertise makes the device connectable for one inbound connection.
func (d *Device) Advertise(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.radio.mu.Lock()
	defer d.radio.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.advertising = true
	d.radio.log.Debug("advertising", zap.Stringer("addr", d.addr))
	return nil
}

// Connect opens a link to an advertising device.
func (d *Device) Connect(ctx context.Context, peer identity.Address) (link.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := d.radio
	r.mu.Lock()
	if d.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	p, ok := r.devices[peer]
	if !ok || p.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", link.ErrUnknownPeer, peer)
	}
	if !p.advertising {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", link.ErrNotConnectable, peer)
	}
	p.advertising = false

	sec := d.security
	if p.security < sec {
		sec = p.security
	}
	c, err := newConn(r, link.ID(r.nextID.Add(1)), d, p, sec)
	if err != nil {
		p.advertising = true
		r.mu.Unlock()
		return nil, err
	}
	r.conns[c.id] = c
	d.links[c.id] = c
	p.links[c.id] = c
	r.mu.Unlock()

	r.log.Debug("link up",
		zap.Uint32("link", uint32(c.id)),
		zap.Stringer("central", d.addr),
		zap.Stringer("peripheral", peer),
		zap.Stringer("security", sec))

	// Both ends learn about the link before either queue starts delivering.
	central, peripheral := c.ends[0], c.ends[1]
	p.handler.OnConnected(peripheral, nil)
	d.handler.OnConnected(central, nil)
	c.start()
	return central, nil
}

// Close disconnects every link of the device and detaches it.
func (d *Device) Close() error {
	r := d.radio
	r.mu.Lock()
	if d.closed {
		r.mu.Unlock()
		return nil
	}
	d.closed = true
	d.advertising = false
	conns := make([]*conn, 0, len(d.links))
	for _, c := range d.links {
		conns = append(conns, c)
	}
	delete(r.devices, d.addr)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.close(link.ReasonLocalHostTerminated, link.ReasonRemoteUserTerminated, c.endOf(d))
	}
	return nil
}

func pairEnds(central, peripheral *endpoint) error {
	cp, err := crypto.NewPairing(true, central.dev.addr, peripheral.dev.addr)
	if err != nil {
		return err
	}
	pp, err := crypto.NewPairing(false, peripheral.dev.addr, central.dev.addr)
	if err != nil {
		return err
	}
	if central.cipher, err = cp.Complete(pp.PublicKey()); err != nil {
		return err
	}
	peripheral.cipher, err = pp.Complete(cp.PublicKey())
	return err
}

var (
	_ link.Provider = (*Device)(nil)
	_ link.Link     = (*endpoint)(nil)
)
