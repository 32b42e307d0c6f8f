package coc

import (
	"time"

	"github.com/TheusHen/cocstress/coc/bufpool"
	"github.com/TheusHen/cocstress/coc/channel"
	"github.com/TheusHen/cocstress/coc/internal/evq"
	"github.com/TheusHen/cocstress/coc/link"
)

type event interface{}

type evConnected struct {
	l   link.Link
	err error
}

type evDisconnected struct {
	l      link.Link
	reason link.Reason
}

type evFrame struct {
	l     link.Link
	frame []byte
}

type evSent struct {
	l     link.Link
	token link.Token
}

type evCall struct {
	fn   func() error
	done chan error
}

type evTimeout struct {
	handle channel.Handle
}

// segToken identifies a segment handed to a link.
type segToken struct {
	handle channel.Handle
	seg    *bufpool.Buffer
}

// linkEvents turns provider callbacks into loop events.
type linkEvents struct {
	q *evq.Queue[event]
}

func (e linkEvents) OnConnected(l link.Link, err error) {
	_ = e.q.Push(evConnected{l: l, err: err})
}

func (e linkEvents) OnDisconnected(l link.Link, reason link.Reason) {
	_ = e.q.Push(evDisconnected{l: l, reason: reason})
}

func (e linkEvents) OnFrame(l link.Link, frame []byte) {
	_ = e.q.Push(evFrame{l: l, frame: frame})
}

func (e linkEvents) OnFrameSent(l link.Link, token link.Token) {
	_ = e.q.Push(evSent{l: l, token: token})
}

func (h *Host) armTimeout(handle channel.Handle) *time.Timer {
	return time.AfterFunc(h.cfg.ConnectTimeout, func() {
		_ = h.events.Push(evTimeout{handle: handle})
	})
}
