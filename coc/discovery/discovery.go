// Package discovery maps device addresses to the network endpoints a
// connection provider dials.
package discovery

import (
	"errors"
	"net/netip"
	"strings"

	"github.com/TheusHen/cocstress/coc/identity"
)

var ErrNotFound = errors.New("device not found")

// AddrInfo is what a peripheral announces so a central can reach it.
type AddrInfo struct {
	Address identity.Address
	Addr    netip.Addr
	Port    uint16
	Name    string
}

// Endpoint returns the host:port to dial.
func (i AddrInfo) Endpoint() string {
	return netip.AddrPortFrom(i.Addr, i.Port).String()
}

// Resolver stores announced peripherals for centrals to look up.
type Resolver interface {
	Announce(info AddrInfo) error
	Lookup(addr identity.Address) (AddrInfo, error)
	List() ([]AddrInfo, error)
}

// ParseEndpoint splits "ADDRESS@host:port" into an AddrInfo.
func ParseEndpoint(s string) (AddrInfo, error) {
	device, hostport, ok := strings.Cut(s, "@")
	if !ok {
		return AddrInfo{}, errors.New("endpoint must be ADDRESS@host:port")
	}
	addr, err := identity.ParseAddress(device)
	if err != nil {
		return AddrInfo{}, err
	}
	ap, err := netip.ParseAddrPort(hostport)
	if err != nil {
		return AddrInfo{}, err
	}
	return AddrInfo{Address: addr, Addr: ap.Addr(), Port: ap.Port()}, nil
}
