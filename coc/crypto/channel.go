package crypto

import (
	"errors"
	"sync"

	"github.com/TheusHen/cocstress/coc/identity"
)

var (
	ErrNotPaired = errors.New("crypto: link not paired")
)

// Pairing runs the key exchange of one link end.
type Pairing struct {
	central bool
	local   identity.Address
	remote  identity.Address
	key     *pairingKey
}

// NewPairing starts pairing for the local end of a link between local and
// remote.
func NewPairing(central bool, local, remote identity.Address) (*Pairing, error) {
	key, err := generatePairingKey()
	if err != nil {
		return nil, err
	}
	return &Pairing{central: central, local: local, remote: remote, key: key}, nil
}

// PublicKey is sent to the peer.
func (p *Pairing) PublicKey() [32]byte { return p.key.point }

// Complete derives the link cipher from the peer's public key.
func (p *Pairing) Complete(peerPub [32]byte) (*LinkCipher, error) {
	shared, err := p.key.agree(peerPub)
	if err != nil {
		return nil, err
	}
	central, peripheral := p.local, p.remote
	centralPub, peripheralPub := p.key.point, peerPub
	if !p.central {
		central, peripheral = peripheral, central
		centralPub, peripheralPub = peripheralPub, centralPub
	}
	c2p, p2c, err := DeriveLinkKeys(shared, central, peripheral, centralPub, peripheralPub)
	if err != nil {
		return nil, err
	}
	sendKey, recvKey := c2p, p2c
	if !p.central {
		sendKey, recvKey = p2c, c2p
	}
	send, err := NewAEAD(sendKey)
	if err != nil {
		return nil, err
	}
	recv, err := NewAEAD(recvKey)
	if err != nil {
		return nil, err
	}
	return &LinkCipher{send: send, recv: recv}, nil
}

// LinkCipher seals outbound frames and opens inbound frames of one link end.
// Seal and Open may be called from different goroutines.
type LinkCipher struct {
	sendMu sync.Mutex
	send   *AEAD
	recvMu sync.Mutex
	recv   *AEAD
}

func (c *LinkCipher) Seal(frame []byte) ([]byte, error) {
	if c == nil {
		return nil, ErrNotPaired
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.send.Seal(frame, nil)
}

func (c *LinkCipher) Open(sealed []byte) ([]byte, error) {
	if c == nil {
		return nil, ErrNotPaired
	}
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return c.recv.Open(sealed, nil)
}

// Overhead returns the bytes sealing adds to a frame.
func (c *LinkCipher) Overhead() int { return c.send.Overhead() }
