package protocol

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/TheusHen/cocstress/coc/identity"
)

var (
	ErrHelloAddressMismatch = errors.New("hello address does not match public key")
	ErrHelloBadSignature    = errors.New("hello invalid signature")
	ErrHelloMissingKey      = errors.New("hello missing public key")
	ErrHelloStale           = errors.New("hello timestamp outside allowed skew")
)

// MaxHelloSkew bounds the clock difference accepted by VerifyAt.
const MaxHelloSkew = 5 * time.Minute

const helloDomain = "cocstress hello v1\x00"

// Hello is the first frame on a QUIC link. Each side proves it holds the
// key behind its device address and states which role it plays.
type Hello struct {
	Address      identity.Address `cbor:"1,keyasint"`
	PublicKey    []byte           `cbor:"2,keyasint"`
	TimestampSec int64            `cbor:"3,keyasint"`
	Nonce        []byte           `cbor:"4,keyasint"`
	Peripheral   bool             `cbor:"5,keyasint,omitempty"`
	Signature    []byte           `cbor:"6,keyasint,omitempty"`
}

// Signatures cover the core deterministic encoding, so both ends compute
// the same bytes regardless of how the hello travelled.
var helloSignMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func NewHello(kp identity.KeyPair, peripheral bool) (Hello, error) {
	h := Hello{
		Address:      kp.Address(),
		PublicKey:    append([]byte(nil), kp.PublicKey...),
		TimestampSec: time.Now().Unix(),
		Nonce:        make([]byte, 32),
		Peripheral:   peripheral,
	}
	if _, err := rand.Read(h.Nonce); err != nil {
		return Hello{}, err
	}
	return h, nil
}

// SigningBytes is the domain-separated encoding of h without its signature.
func (h Hello) SigningBytes() ([]byte, error) {
	if len(h.PublicKey) != ed25519.PublicKeySize {
		return nil, ErrHelloMissingKey
	}
	h.Signature = nil
	body, err := helloSignMode.Marshal(h)
	if err != nil {
		return nil, err
	}
	return append([]byte(helloDomain), body...), nil
}

func (h *Hello) Sign(kp identity.KeyPair) error {
	msg, err := h.SigningBytes()
	if err == nil {
		h.Signature = kp.Sign(msg)
	}
	return err
}

func (h Hello) Verify() error { return h.VerifyAt(time.Time{}) }

// VerifyAt checks the hello and, unless now is zero, its timestamp.
func (h Hello) VerifyAt(now time.Time) error {
	msg, err := h.SigningBytes()
	switch {
	case err != nil:
		return err
	case identity.AddressFromPublicKey(h.PublicKey) != h.Address:
		return ErrHelloAddressMismatch
	case !identity.Verify(h.PublicKey, msg, h.Signature):
		return ErrHelloBadSignature
	case now.IsZero():
		return nil
	}
	if skew := now.Sub(time.Unix(h.TimestampSec, 0)).Abs(); skew > MaxHelloSkew {
		return ErrHelloStale
	}
	return nil
}

func EncodeHello(h Hello) ([]byte, error) { return cbor.Marshal(h) }

func DecodeHello(b []byte) (Hello, error) {
	var h Hello
	if err := cbor.Unmarshal(b, &h); err != nil {
		return Hello{}, err
	}
	if h.Address.IsZero() {
		return Hello{}, fmt.Errorf("hello missing address")
	}
	return h, nil
}
