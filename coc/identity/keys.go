package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
)

// seedDomain separates device seeds from any other use of the same string.
const seedDomain = "cocstress device seed\x00"

// KeyPair is the Ed25519 signing key of one device. Its public half hashes
// to the device Address.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

func fromPrivate(priv ed25519.PrivateKey) KeyPair {
	return KeyPair{PublicKey: priv.Public().(ed25519.PublicKey), PrivateKey: priv}
}

// GenerateKeyPair returns a fresh random device key.
func GenerateKeyPair() (KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return fromPrivate(priv), nil
}

// KeyPairFromSeed maps a seed string to a fixed device key, so a CLI device
// keeps its address across runs.
func KeyPairFromSeed(seed string) KeyPair {
	h := sha256.New()
	h.Write([]byte(seedDomain))
	h.Write([]byte(seed))
	return fromPrivate(ed25519.NewKeyFromSeed(h.Sum(nil)))
}

func (kp KeyPair) Address() Address { return AddressFromPublicKey(kp.PublicKey) }

// Sign signs msg with the device key.
func (kp KeyPair) Sign(msg []byte) []byte { return ed25519.Sign(kp.PrivateKey, msg) }

// Verify reports whether sig is pub's signature over msg.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return len(pub) == ed25519.PublicKeySize && ed25519.Verify(pub, msg, sig)
}
