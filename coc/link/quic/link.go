package quic

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/TheusHen/cocstress/coc/identity"
	"github.com/TheusHen/cocstress/coc/internal/evq"
	"github.com/TheusHen/cocstress/coc/link"
	"github.com/TheusHen/cocstress/coc/protocol"
)

type outFrame struct {
	frame protocol.Frame
	token link.Token
}

// qlink is one QUIC connection and its frame stream.
type qlink struct {
	p      *Provider
	id     link.ID
	conn   *q.Conn
	stream *q.Stream
	peer   identity.Address
	role   link.Role
	txq    *evq.Queue[outFrame]

	writerDone chan struct{}

	mu       sync.Mutex
	down     bool
	closing  bool
	draining bool
	reason   link.Reason
	linger   *time.Timer
}

var _ link.Link = (*qlink)(nil)

func newQlink(p *Provider, id link.ID, conn *q.Conn, stream *q.Stream, peer identity.Address, role link.Role) *qlink {
	return &qlink{
		p:          p,
		id:         id,
		conn:       conn,
		stream:     stream,
		peer:       peer,
		role:       role,
		txq:        evq.New[outFrame](),
		writerDone: make(chan struct{}),
	}
}

func (l *qlink) ID() link.ID                  { return l.id }
func (l *qlink) Peer() identity.Address       { return l.peer }
func (l *qlink) Role() link.Role              { return l.role }
func (l *qlink) Security() link.SecurityLevel { return link.SecurityL2 }

func (l *qlink) Send(frame []byte, token link.Token) error {
	f, err := protocol.Unmarshal(frame)
	if err != nil {
		return err
	}
	f.Payload = append([]byte(nil), f.Payload...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down || l.closing || l.draining {
		return link.ErrNotConnected
	}
	if err := l.txq.Push(outFrame{frame: f, token: token}); err != nil {
		return link.ErrNotConnected
	}
	return nil
}

// Disconnect finishes the local stream after the queued frames and closes
// the connection once the peer has finished too, or after the linger time.
func (l *qlink) Disconnect(reason link.Reason) error {
	l.mu.Lock()
	if l.down || l.closing {
		l.mu.Unlock()
		return link.ErrNotConnected
	}
	l.closing = true
	l.reason = reason
	draining := l.draining
	l.linger = time.AfterFunc(l.p.opts.Linger, func() {
		l.finish(link.ReasonLocalHostTerminated, reason)
	})
	l.mu.Unlock()

	l.txq.Close()
	if draining {
		// The peer finished first; nothing more will arrive.
		go func() {
			<-l.writerDone
			l.finish(link.ReasonLocalHostTerminated, reason)
		}()
	}
	return nil
}

func (l *qlink) start() {
	go l.write()
	go l.read()
}

func (l *qlink) write() {
	defer close(l.writerDone)
	opts := protocol.Options{Compress: l.p.opts.Compress}
	for {
		of, err := l.txq.Pop(context.Background())
		if err != nil {
			_ = l.stream.Close()
			return
		}
		if err := protocol.WriteFrame(l.stream, of.frame, opts); err != nil {
			l.finish(reasonOf(err), link.ReasonConnectionTimeout)
			return
		}
		l.mu.Lock()
		if !l.down {
			l.p.handler.OnFrameSent(l, of.token)
		}
		l.mu.Unlock()
	}
}

func (l *qlink) read() {
	for {
		f, err := protocol.ReadFrame(l.stream)
		if err != nil {
			l.readDone(err)
			return
		}
		b, err := protocol.Marshal(f, protocol.Options{})
		if err != nil {
			l.p.log.Warn("bad inbound frame", zap.Uint32("link", uint32(l.id)), zap.Error(err))
			l.finish(link.ReasonMICFailure, link.ReasonMICFailure)
			return
		}
		l.mu.Lock()
		if l.down {
			l.mu.Unlock()
			return
		}
		l.p.handler.OnFrame(l, b)
		l.mu.Unlock()
	}
}

func (l *qlink) readDone(err error) {
	if !errors.Is(err, io.EOF) {
		l.finish(reasonOf(err), link.ReasonConnectionTimeout)
		return
	}

	l.mu.Lock()
	closing, reason := l.closing, l.reason
	if !closing {
		l.draining = true
	}
	l.mu.Unlock()

	if closing {
		l.finish(link.ReasonLocalHostTerminated, reason)
		return
	}
	// The peer is disconnecting: finish our side and wait for it to close
	// the connection with its reason.
	l.txq.Close()
	t := time.NewTimer(l.p.opts.Linger)
	defer t.Stop()
	select {
	case <-l.conn.Context().Done():
		l.finish(reasonOf(context.Cause(l.conn.Context())), link.ReasonRemoteUserTerminated)
	case <-t.C:
		l.finish(link.ReasonRemoteUserTerminated, link.ReasonLocalHostTerminated)
	}
}

// finish takes the link down once: local is reported to the handler, code
// is sent to the peer if the connection is still open.
func (l *qlink) finish(local, code link.Reason) {
	l.mu.Lock()
	if l.down {
		l.mu.Unlock()
		return
	}
	l.down = true
	if l.linger != nil {
		l.linger.Stop()
	}
	l.mu.Unlock()

	l.txq.Close()
	_ = l.conn.CloseWithError(q.ApplicationErrorCode(code), "")
	l.p.forget(l)
	l.p.log.Debug("link down", zap.Uint32("link", uint32(l.id)), zap.Stringer("reason", local))
	l.p.handler.OnDisconnected(l, local)
}

// reasonOf maps a connection error to the disconnect reason it carries.
func reasonOf(err error) link.Reason {
	var appErr *q.ApplicationError
	if errors.As(err, &appErr) {
		return link.Reason(appErr.ErrorCode)
	}
	return link.ReasonConnectionTimeout
}
