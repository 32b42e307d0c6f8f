package crypto

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
)

// ErrInvalidPublicKey is returned when a peer's pairing key is the zero
// point or yields an all-zero shared secret.
var ErrInvalidPublicKey = errors.New("crypto: invalid pairing public key")

// pairingKey is the ephemeral X25519 key of one pairing attempt. It is never
// reused across links.
type pairingKey struct {
	scalar [curve25519.ScalarSize]byte
	point  [curve25519.PointSize]byte
}

func newPairingKey(random io.Reader) (*pairingKey, error) {
	k := new(pairingKey)
	if _, err := io.ReadFull(random, k.scalar[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(k.scalar[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(k.point[:], pub)
	return k, nil
}

func generatePairingKey() (*pairingKey, error) { return newPairingKey(rand.Reader) }

// agree returns the raw shared secret with peer. Callers run it through
// DeriveLinkKeys before use.
func (k *pairingKey) agree(peer [curve25519.PointSize]byte) ([]byte, error) {
	if peer == [curve25519.PointSize]byte{} {
		return nil, ErrInvalidPublicKey
	}
	secret, err := curve25519.X25519(k.scalar[:], peer[:])
	if err != nil {
		// x/crypto rejects low-order points with an all-zero output.
		return nil, ErrInvalidPublicKey
	}
	return secret, nil
}
