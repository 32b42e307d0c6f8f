// Package link defines the connection provider a host runs on top of.
//
// A provider owns link establishment, advertising, address resolution,
// security and the medium. The host consumes it only through Provider, Link
// and the Handler callbacks below.
package link

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheusHen/cocstress/coc/fault"
	"github.com/TheusHen/cocstress/coc/identity"
)

var (
	ErrNotConnected   = fmt.Errorf("link: not connected: %w", fault.ErrLinkFailure)
	ErrNotConnectable = errors.New("link: peer is not advertising")
	ErrUnknownPeer    = errors.New("link: unknown peer")
)

// ID identifies a link within one provider.
type ID uint32

// Role is the local side of a link.
type Role uint8

const (
	RoleCentral Role = iota
	RolePeripheral
)

func (r Role) String() string {
	if r == RolePeripheral {
		return "peripheral"
	}
	return "central"
}

// SecurityLevel is the protection a link offers.
type SecurityLevel uint8

const (
	// SecurityL1 is an unauthenticated, unencrypted link.
	SecurityL1 SecurityLevel = 1
	// SecurityL2 is an encrypted link.
	SecurityL2 SecurityLevel = 2
)

func (s SecurityLevel) String() string {
	return fmt.Sprintf("L%d", uint8(s))
}

// Reason is the HCI-style code carried by a disconnect.
type Reason uint8

const (
	ReasonAuthenticationFailure Reason = 0x05
	ReasonConnectionTimeout     Reason = 0x08
	ReasonRemoteUserTerminated  Reason = 0x13
	ReasonLocalHostTerminated   Reason = 0x16
	ReasonMICFailure            Reason = 0x3D
)

func (r Reason) String() string {
	switch r {
	case ReasonAuthenticationFailure:
		return "authentication failure"
	case ReasonConnectionTimeout:
		return "connection timeout"
	case ReasonRemoteUserTerminated:
		return "remote user terminated"
	case ReasonLocalHostTerminated:
		return "local host terminated"
	case ReasonMICFailure:
		return "MIC failure"
	default:
		return fmt.Sprintf("reason 0x%02x", uint8(r))
	}
}

// Token is handed back through Handler.OnFrameSent once the provider has
// finished with a frame.
type Token any

// Link is an established connection to one peer.
type Link interface {
	ID() ID
	Peer() identity.Address
	Role() Role
	Security() SecurityLevel
	// Send queues frame for transmission. The provider copies frame before
	// returning and reports token through OnFrameSent when it is on the air.
	Send(frame []byte, token Token) error
	Disconnect(reason Reason) error
}

// Handler receives provider events. Implementations must not block: the
// provider may call them from its delivery goroutines.
type Handler interface {
	// OnConnected reports a link coming up on either side. A non-nil err
	// reports an outbound attempt that failed after Connect returned; l is
	// nil then.
	OnConnected(l Link, err error)
	OnDisconnected(l Link, reason Reason)
	// OnFrame delivers one frame in link order. frame is owned by the callee.
	OnFrame(l Link, frame []byte)
	OnFrameSent(l Link, token Token)
}

// Provider establishes links.
type Provider interface {
	// Connect starts a connection to peer. The outcome is also reported
	// through OnConnected.
	Connect(ctx context.Context, peer identity.Address) (Link, error)
	// Advertise makes the device connectable.
	Advertise(ctx context.Context) error
	Close() error
}
