package mem

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TheusHen/cocstress/coc/crypto"
	"github.com/TheusHen/cocstress/coc/identity"
	"github.com/TheusHen/cocstress/coc/internal/evq"
	"github.com/TheusHen/cocstress/coc/link"
)

type outFrame struct {
	data  []byte
	token link.Token
}

// conn is one link between a central (ends[0]) and a peripheral (ends[1]).
type conn struct {
	radio    *Radio
	id       link.ID
	security link.SecurityLevel
	ends     [2]*endpoint

	// mu serializes delivery with disconnect.
	mu sync.Mutex
	up bool
}

func newConn(r *Radio, id link.ID, central, peripheral *Device, sec link.SecurityLevel) (*conn, error) {
	c := &conn{radio: r, id: id, security: sec, up: true}
	c.ends[0] = &endpoint{conn: c, dev: central, role: link.RoleCentral, txq: evq.New[outFrame]()}
	c.ends[1] = &endpoint{conn: c, dev: peripheral, role: link.RolePeripheral, txq: evq.New[outFrame]()}
	c.ends[0].peer, c.ends[1].peer = c.ends[1], c.ends[0]
	if sec >= link.SecurityL2 {
		if err := pairEnds(c.ends[0], c.ends[1]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *conn) start() {
	for _, e := range c.ends {
		go e.transmit()
	}
}

func (c *conn) endOf(d *Device) *endpoint {
	if c.ends[0].dev == d {
		return c.ends[0]
	}
	return c.ends[1]
}

// close takes the link down. by is the end that asked for it and is told
// localReason; the other end is told remoteReason. A nil by tells both ends
// localReason.
func (c *conn) close(localReason, remoteReason link.Reason, by *endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.up {
		return link.ErrNotConnected
	}
	c.up = false
	for _, e := range c.ends {
		e.txq.Close()
	}
	c.radio.forget(c)
	c.radio.log.Debug("link down", zap.Uint32("link", uint32(c.id)), zap.Stringer("reason", remoteReason))

	for _, e := range c.ends {
		reason := remoteReason
		if by == nil || e == by {
			reason = localReason
		}
		e.dev.handler.OnDisconnected(e, reason)
	}
	return nil
}

// endpoint is one end of a conn and implements link.Link.
type endpoint struct {
	conn   *conn
	dev    *Device
	role   link.Role
	peer   *endpoint
	cipher *crypto.LinkCipher

	sendMu sync.Mutex
	txq    *evq.Queue[outFrame]
}

func (e *endpoint) ID() link.ID                  { return e.conn.id }
func (e *endpoint) Peer() identity.Address       { return e.peer.dev.addr }
func (e *endpoint) Role() link.Role              { return e.role }
func (e *endpoint) Security() link.SecurityLevel { return e.conn.security }

func (e *endpoint) Send(frame []byte, token link.Token) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	var data []byte
	if e.cipher != nil {
		sealed, err := e.cipher.Seal(frame)
		if err != nil {
			return err
		}
		data = sealed
	} else {
		data = append([]byte(nil), frame...)
	}
	if err := e.txq.Push(outFrame{data: data, token: token}); err != nil {
		return link.ErrNotConnected
	}
	return nil
}

func (e *endpoint) Disconnect(reason link.Reason) error {
	return e.conn.close(link.ReasonLocalHostTerminated, reason, e)
}

func (e *endpoint) transmit() {
	ctx := context.Background()
	airtime := e.conn.radio.airtime
	for {
		f, err := e.txq.Pop(ctx)
		if err != nil {
			return
		}
		if airtime > 0 {
			time.Sleep(airtime)
		}
		e.deliver(f)
	}
}

// deliver hands f to the peer and reports it sent, both under the link lock.
// Handlers run with the lock held and must not call Disconnect from inside a
// callback.
func (e *endpoint) deliver(f outFrame) bool {
	c := e.conn
	c.mu.Lock()
	if !c.up {
		c.mu.Unlock()
		return false
	}
	payload := f.data
	if e.peer.cipher != nil {
		opened, err := e.peer.cipher.Open(f.data)
		if err != nil {
			c.mu.Unlock()
			c.radio.log.Warn("dropping link on frame authentication failure",
				zap.Uint32("link", uint32(c.id)), zap.Error(err))
			_ = c.close(link.ReasonMICFailure, link.ReasonMICFailure, nil)
			return false
		}
		payload = opened
	}
	e.peer.dev.handler.OnFrame(e.peer, payload)
	e.dev.handler.OnFrameSent(e, f.token)
	c.mu.Unlock()
	return true
}
