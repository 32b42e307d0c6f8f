package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrInvalidAddress = errors.New("invalid device address")

// Address is a 48-bit static random device address, most significant byte
// first. It is derived as the first six bytes of SHA-256(PublicKey) with the
// two top bits set.
type Address [6]byte

func AddressFromPublicKey(publicKey []byte) Address {
	sum := sha256.Sum256(publicKey)
	var a Address
	copy(a[:], sum[:6])
	a[0] |= 0xC0
	return a
}

// ParseAddress parses the colon separated form printed by String.
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, ":")
	if len(parts) != len(Address{}) {
		return Address{}, ErrInvalidAddress
	}
	var a Address
	for i, p := range parts {
		if len(p) != 2 {
			return Address{}, ErrInvalidAddress
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return Address{}, ErrInvalidAddress
		}
		a[i] = b[0]
	}
	return a, nil
}

// IsStaticRandom reports whether the address carries the static random marker.
func (a Address) IsStaticRandom() bool { return a[0]&0xC0 == 0xC0 }

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string {
	var sb strings.Builder
	for i, b := range a {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(strings.ToUpper(hex.EncodeToString([]byte{b})))
	}
	return sb.String()
}

// Short returns the last two bytes, enough to tell devices of one run apart
// in logs.
func (a Address) Short() string {
	return strings.ToUpper(hex.EncodeToString(a[4:]))
}
