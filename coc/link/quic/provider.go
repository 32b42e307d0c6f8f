package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	q "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/TheusHen/cocstress/coc/discovery"
	"github.com/TheusHen/cocstress/coc/identity"
	"github.com/TheusHen/cocstress/coc/link"
	"github.com/TheusHen/cocstress/coc/protocol"
)

var (
	ErrClosed        = errors.New("quic: provider closed")
	ErrNotListening  = errors.New("quic: provider is not listening")
	ErrExpectedHello = errors.New("quic: handshake expected hello")
	ErrPeerMismatch  = errors.New("quic: peer address does not match")
	ErrRoleMismatch  = errors.New("quic: both ends claim the same role")
)

// Options tunes the provider.
type Options struct {
	// Compress LZ4-compresses frame payloads when that makes them smaller.
	Compress bool
	// HandshakeTimeout bounds the hello exchange. Default 5s.
	HandshakeTimeout time.Duration
	// Linger bounds how long a graceful disconnect waits for the peer to
	// finish its stream. Default 2s.
	Linger time.Duration
	// IdleTimeout is the QUIC idle timeout; an expiry is reported as
	// ReasonConnectionTimeout. Default 10s.
	IdleTimeout time.Duration
	// Name is announced with the endpoint.
	Name   string
	Logger *zap.Logger
}

func (o *Options) normalize() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.Linger <= 0 {
		o.Linger = 2 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Provider implements link.Provider over QUIC.
type Provider struct {
	handler  link.Handler
	kp       identity.KeyPair
	resolver discovery.Resolver
	opts     Options
	log      *zap.Logger
	tlsConf  *tls.Config
	nextID   atomic.Uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	ln          *q.Listener
	advertising bool
	closed      bool
	links       map[link.ID]*qlink
}

var _ link.Provider = (*Provider)(nil)

// New builds a provider reporting to handler. resolver maps addresses to
// endpoints for Connect and receives the announcement of Listen.
func New(handler link.Handler, kp identity.KeyPair, resolver discovery.Resolver, opts Options) (*Provider, error) {
	opts.normalize()
	tlsConf, err := newTLSConfig(kp)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		handler:  handler,
		kp:       kp,
		resolver: resolver,
		opts:     opts,
		log:      opts.Logger.Named("quic").With(zap.Stringer("device", kp.Address())),
		tlsConf:  tlsConf,
		ctx:      ctx,
		cancel:   cancel,
		links:    map[link.ID]*qlink{},
	}, nil
}

func (p *Provider) quicConfig() *q.Config {
	return &q.Config{
		MaxIdleTimeout:  p.opts.IdleTimeout,
		KeepAlivePeriod: p.opts.IdleTimeout / 3,
	}
}

// Listen binds addr and announces the endpoint to the resolver. Advertise
// starts accepting.
func (p *Provider) Listen(addr string) error {
	ln, err := q.ListenAddr(addr, p.tlsConf, p.quicConfig())
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = ln.Close()
		return ErrClosed
	}
	p.ln = ln
	p.mu.Unlock()

	info := discovery.AddrInfo{Address: p.kp.Address(), Name: p.opts.Name}
	if ua, ok := ln.Addr().(*net.UDPAddr); ok {
		ap := ua.AddrPort()
		info.Addr, info.Port = ap.Addr().Unmap(), ap.Port()
		if info.Addr.IsUnspecified() {
			info.Addr = netip.AddrFrom4([4]byte{127, 0, 0, 1})
		}
	}
	if p.resolver != nil {
		if err := p.resolver.Announce(info); err != nil {
			return err
		}
	}
	p.log.Debug("listening", zap.String("endpoint", info.Endpoint()))
	return nil
}

// Addr returns the listening address, nil before Listen.
func (p *Provider) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return nil
	}
	return p.ln.Addr()
}

// Advertise accepts inbound connections until one link is up.
func (p *Provider) Advertise(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return ErrClosed
	case p.ln == nil:
		return ErrNotListening
	case p.advertising:
		return nil
	}
	p.advertising = true
	p.wg.Add(1)
	go p.acceptLoop()
	return nil
}

func (p *Provider) acceptLoop() {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.advertising = false
		p.mu.Unlock()
	}()
	for {
		conn, err := p.ln.Accept(p.ctx)
		if err != nil {
			if p.ctx.Err() == nil {
				p.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		l, err := p.serverHandshake(conn)
		if err != nil {
			p.log.Warn("inbound handshake failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			_ = conn.CloseWithError(q.ApplicationErrorCode(link.ReasonAuthenticationFailure), err.Error())
			continue
		}
		_ = p.up(l)
		return
	}
}

func (p *Provider) serverHandshake(conn *q.Conn) (*qlink, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.opts.HandshakeTimeout)
	defer cancel()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { stream.CancelRead(0) })
	defer stop()

	remote, err := p.readHello(stream)
	if err != nil {
		return nil, err
	}
	if remote.Peripheral {
		return nil, ErrRoleMismatch
	}
	if err := p.writeHello(stream, true); err != nil {
		return nil, err
	}
	return p.newLink(conn, stream, remote.Address, link.RolePeripheral), nil
}

// Connect dials the peer the resolver knows as peer. The link is reported
// through OnConnected before Connect returns.
func (p *Provider) Connect(ctx context.Context, peer identity.Address) (link.Link, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if p.resolver == nil {
		return nil, fmt.Errorf("%w: %s", link.ErrUnknownPeer, peer)
	}
	info, err := p.resolver.Lookup(peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", link.ErrUnknownPeer, peer, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.HandshakeTimeout)
	defer cancel()
	conn, err := q.DialAddr(ctx, info.Endpoint(), p.tlsConf, p.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", link.ErrNotConnectable, peer, err)
	}
	l, err := p.clientHandshake(ctx, conn, peer)
	if err != nil {
		_ = conn.CloseWithError(q.ApplicationErrorCode(link.ReasonAuthenticationFailure), err.Error())
		return nil, err
	}
	if err := p.up(l); err != nil {
		return nil, err
	}
	return l, nil
}

func (p *Provider) clientHandshake(ctx context.Context, conn *q.Conn, peer identity.Address) (*qlink, error) {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { stream.CancelRead(0) })
	defer stop()

	if err := p.writeHello(stream, false); err != nil {
		return nil, err
	}
	remote, err := p.readHello(stream)
	if err != nil {
		return nil, err
	}
	if remote.Address != peer {
		return nil, fmt.Errorf("%w: dialed %s, got %s", ErrPeerMismatch, peer, remote.Address)
	}
	if !remote.Peripheral {
		return nil, ErrRoleMismatch
	}
	return p.newLink(conn, stream, remote.Address, link.RoleCentral), nil
}

func (p *Provider) writeHello(stream *q.Stream, peripheral bool) error {
	h, err := protocol.NewHello(p.kp, peripheral)
	if err != nil {
		return err
	}
	if err := h.Sign(p.kp); err != nil {
		return err
	}
	payload, err := protocol.EncodeHello(h)
	if err != nil {
		return err
	}
	return protocol.WriteFrame(stream, protocol.Frame{Type: protocol.FrameHello, Payload: payload}, protocol.Options{})
}

func (p *Provider) readHello(stream *q.Stream) (protocol.Hello, error) {
	f, err := protocol.ReadFrame(stream)
	if err != nil {
		return protocol.Hello{}, err
	}
	if f.Type != protocol.FrameHello {
		return protocol.Hello{}, ErrExpectedHello
	}
	h, err := protocol.DecodeHello(f.Payload)
	if err != nil {
		return protocol.Hello{}, err
	}
	if err := h.Verify(); err != nil {
		return protocol.Hello{}, err
	}
	return h, nil
}

func (p *Provider) newLink(conn *q.Conn, stream *q.Stream, peer identity.Address, role link.Role) *qlink {
	return newQlink(p, link.ID(p.nextID.Add(1)), conn, stream, peer, role)
}

// up registers l, reports it and starts its goroutines.
func (p *Provider) up(l *qlink) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = l.conn.CloseWithError(q.ApplicationErrorCode(link.ReasonLocalHostTerminated), "")
		return ErrClosed
	}
	p.links[l.id] = l
	p.mu.Unlock()

	p.log.Debug("link up",
		zap.Uint32("link", uint32(l.id)),
		zap.Stringer("peer", l.peer),
		zap.Stringer("role", l.role),
		zap.Stringer("remote", l.conn.RemoteAddr()))
	p.handler.OnConnected(l, nil)
	l.start()
	return nil
}

func (p *Provider) forget(l *qlink) {
	p.mu.Lock()
	delete(p.links, l.id)
	p.mu.Unlock()
}

// Close drops every link and stops listening.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	links := make([]*qlink, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	ln := p.ln
	p.mu.Unlock()

	p.cancel()
	for _, l := range links {
		l.finish(link.ReasonLocalHostTerminated, link.ReasonRemoteUserTerminated)
	}
	var err error
	if ln != nil {
		err = ln.Close()
	}
	p.wg.Wait()
	return err
}
