package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/TheusHen/cocstress/coc/identity"
)

const (
	linkKeyLabel = "cocstress-link-keys"
	linkKeyLen   = 32
)

// linkKeyInfo binds derived keys to the link's roles, addresses and
// pairing keys. Swapping any of them yields unrelated keys.
func linkKeyInfo(central, peripheral identity.Address, centralPub, peripheralPub [32]byte) []byte {
	var info []byte
	info = append(info, linkKeyLabel...)
	for _, part := range [][]byte{central[:], peripheral[:], centralPub[:], peripheralPub[:]} {
		info = append(info, part...)
	}
	return info
}

// DeriveLinkKeys expands the pairing secret into the central-to-peripheral
// and peripheral-to-central keys of one link.
func DeriveLinkKeys(shared []byte, central, peripheral identity.Address, centralPub, peripheralPub [32]byte) (c2p, p2c []byte, err error) {
	r := hkdf.New(sha256.New, shared, nil, linkKeyInfo(central, peripheral, centralPub, peripheralPub))
	c2p = make([]byte, linkKeyLen)
	p2c = make([]byte, linkKeyLen)
	if _, err = io.ReadFull(r, c2p); err != nil {
		return nil, nil, err
	}
	if _, err = io.ReadFull(r, p2c); err != nil {
		return nil, nil, err
	}
	return c2p, p2c, nil
}
