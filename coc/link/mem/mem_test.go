package mem

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TheusHen/cocstress/coc/identity"
	"github.com/TheusHen/cocstress/coc/link"
)

type event struct {
	kind   string
	link   link.Link
	frame  []byte
	token  link.Token
	reason link.Reason
}

// recorder is a link.Handler that records every callback in order.
type recorder struct {
	mu     sync.Mutex
	events []event
	notify chan struct{}
}

func newRecorder() *recorder { return &recorder{notify: make(chan struct{}, 1)} }

func (r *recorder) add(e event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) OnConnected(l link.Link, err error) { r.add(event{kind: "connected", link: l}) }
func (r *recorder) OnDisconnected(l link.Link, reason link.Reason) {
	r.add(event{kind: "disconnected", link: l, reason: reason})
}
func (r *recorder) OnFrame(l link.Link, frame []byte) {
	r.add(event{kind: "frame", link: l, frame: frame})
}
func (r *recorder) OnFrameSent(l link.Link, token link.Token) {
	r.add(event{kind: "sent", link: l, token: token})
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func (r *recorder) count(kind string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) waitFor(t *testing.T, kind string, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for r.count(kind) < n {
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d %q events, have %d", n, kind, r.count(kind))
		}
	}
}

func addr(seed string) identity.Address { return identity.KeyPairFromSeed(seed).Address() }

func connectPair(t *testing.T, radio *Radio, copts, popts DeviceOptions) (*recorder, *recorder, link.Link) {
	t.Helper()
	ch, ph := newRecorder(), newRecorder()
	central, err := radio.Attach(addr("central"), ch, copts)
	if err != nil {
		t.Fatalf("Attach central: %v", err)
	}
	peripheral, err := radio.Attach(addr("peripheral"), ph, popts)
	if err != nil {
		t.Fatalf("Attach peripheral: %v", err)
	}
	ctx := context.Background()
	if _, err := central.Connect(ctx, peripheral.Address()); !errors.Is(err, link.ErrNotConnectable) {
		t.Fatalf("connect before advertising: %v", err)
	}
	if err := peripheral.Advertise(ctx); err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	l, err := central.Connect(ctx, peripheral.Address())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return ch, ph, l
}

func TestFramesInOrderThenSent(t *testing.T) {
	radio := NewRadio(RadioOptions{})
	ch, ph, l := connectPair(t, radio, DeviceOptions{}, DeviceOptions{})
	if l.Role() != link.RoleCentral || l.Security() != link.SecurityL1 || l.Peer() != addr("peripheral") {
		t.Fatalf("unexpected link: role %s security %s peer %s", l.Role(), l.Security(), l.Peer())
	}

	const n = 50
	for i := 0; i < n; i++ {
		frame := []byte{byte(i), 0xAA}
		if err := l.Send(frame, i); err != nil {
			t.Fatalf("Send: %v", err)
		}
		frame[0] = 0xFF
	}
	ph.waitFor(t, "frame", n)
	ch.waitFor(t, "sent", n)

	i := 0
	for _, e := range ph.snapshot() {
		if e.kind != "frame" {
			continue
		}
		if !bytes.Equal(e.frame, []byte{byte(i), 0xAA}) {
			t.Fatalf("frame %d = %v", i, e.frame)
		}
		i++
	}
	i = 0
	for _, e := range ch.snapshot() {
		if e.kind != "sent" {
			continue
		}
		if e.token != i {
			t.Fatalf("sent token %v, want %d", e.token, i)
		}
		i++
	}
}

func TestOneTimeAdvertising(t *testing.T) {
	radio := NewRadio(RadioOptions{})
	_, _, _ = connectPair(t, radio, DeviceOptions{}, DeviceOptions{})
	other, _ := radio.Attach(addr("other"), newRecorder(), DeviceOptions{})
	if _, err := other.Connect(context.Background(), addr("peripheral")); !errors.Is(err, link.ErrNotConnectable) {
		t.Fatalf("second connect must fail until the peripheral advertises again: %v", err)
	}
	if _, err := other.Connect(context.Background(), addr("nobody")); !errors.Is(err, link.ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
	if _, err := radio.Attach(addr("other"), newRecorder(), DeviceOptions{}); !errors.Is(err, ErrAddressInUse) {
		t.Fatalf("expected ErrAddressInUse, got %v", err)
	}
}

func TestDisconnectReasons(t *testing.T) {
	radio := NewRadio(RadioOptions{})
	ch, ph, l := connectPair(t, radio, DeviceOptions{}, DeviceOptions{})
	if err := l.Disconnect(link.ReasonRemoteUserTerminated); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	ch.waitFor(t, "disconnected", 1)
	ph.waitFor(t, "disconnected", 1)
	for _, e := range ch.snapshot() {
		if e.kind == "disconnected" && e.reason != link.ReasonLocalHostTerminated {
			t.Fatalf("local reason = %s", e.reason)
		}
	}
	for _, e := range ph.snapshot() {
		if e.kind == "disconnected" && e.reason != link.ReasonRemoteUserTerminated {
			t.Fatalf("remote reason = %s", e.reason)
		}
	}
	if err := l.Disconnect(link.ReasonRemoteUserTerminated); !errors.Is(err, link.ErrNotConnected) {
		t.Fatalf("second Disconnect: %v", err)
	}
	if err := l.Send([]byte{1}, nil); !errors.Is(err, link.ErrNotConnected) {
		t.Fatalf("Send after disconnect: %v", err)
	}
	if len(radio.Links()) != 0 {
		t.Fatalf("radio still tracks %d links", len(radio.Links()))
	}
}

func TestSeverStopsDelivery(t *testing.T) {
	radio := NewRadio(RadioOptions{Airtime: time.Millisecond})
	ch, ph, l := connectPair(t, radio, DeviceOptions{}, DeviceOptions{})
	for i := 0; i < 100; i++ {
		_ = l.Send([]byte{byte(i)}, i)
	}
	ph.waitFor(t, "frame", 1)
	if err := radio.Sever(l.ID(), link.ReasonConnectionTimeout); err != nil {
		t.Fatalf("Sever: %v", err)
	}
	ph.waitFor(t, "disconnected", 1)
	ch.waitFor(t, "disconnected", 1)
	time.Sleep(20 * time.Millisecond)

	for _, r := range []*recorder{ch, ph} {
		events := r.snapshot()
		seenDown := false
		for _, e := range events {
			if e.kind == "disconnected" {
				if e.reason != link.ReasonConnectionTimeout {
					t.Fatalf("reason = %s", e.reason)
				}
				seenDown = true
				continue
			}
			if seenDown {
				t.Fatalf("%s event after disconnect", e.kind)
			}
		}
	}
	if err := radio.Sever(l.ID(), link.ReasonConnectionTimeout); !errors.Is(err, ErrUnknownLink) {
		t.Fatalf("second Sever: %v", err)
	}
}

func TestEncryptedLink(t *testing.T) {
	radio := NewRadio(RadioOptions{})
	sec := DeviceOptions{Security: link.SecurityL2}
	_, ph, l := connectPair(t, radio, sec, sec)
	if l.Security() != link.SecurityL2 {
		t.Fatalf("security = %s, want L2", l.Security())
	}
	for i := 0; i < 10; i++ {
		if err := l.Send([]byte{byte(i), 1, 2, 3}, nil); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	ph.waitFor(t, "frame", 10)
	for i, e := range filter(ph.snapshot(), "frame") {
		if !bytes.Equal(e.frame, []byte{byte(i), 1, 2, 3}) {
			t.Fatalf("frame %d = %v", i, e.frame)
		}
	}

	radio2 := NewRadio(RadioOptions{})
	_, _, weak := connectPair(t, radio2, sec, DeviceOptions{})
	if weak.Security() != link.SecurityL1 {
		t.Fatalf("link with an L1 end must run at L1, got %s", weak.Security())
	}
}

func TestDeviceCloseDropsLinks(t *testing.T) {
	radio := NewRadio(RadioOptions{})
	ch, ph, _ := connectPair(t, radio, DeviceOptions{}, DeviceOptions{})
	dev := radio.devices[addr("central")]
	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ch.waitFor(t, "disconnected", 1)
	ph.waitFor(t, "disconnected", 1)
	if err := dev.Advertise(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Advertise after Close: %v", err)
	}
}

func filter(events []event, kind string) []event {
	var out []event
	for _, e := range events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}
