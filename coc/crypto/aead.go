package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/TheusHen/cocstress/coc/fault"
)

var (
	ErrCiphertextTooShort = fmt.Errorf("crypto: ciphertext too short: %w", fault.ErrProtocolViolation)
	ErrDecryptionFailed   = fmt.Errorf("crypto: decryption failed: %w", fault.ErrProtocolViolation)
	ErrReplay             = fmt.Errorf("crypto: sequence number not increasing: %w", fault.ErrProtocolViolation)
	ErrSequenceExhausted  = errors.New("crypto: sequence space exhausted")
)

// seqLen is the explicit sequence number prefixed to every sealed frame.
const seqLen = 8

// AEAD seals one direction of a link with ChaCha20-Poly1305. The 96-bit
// nonce is four zero bytes followed by a 64-bit frame sequence number that
// also travels in clear ahead of the ciphertext. Not safe for concurrent
// use.
type AEAD struct {
	aead    cipher.AEAD
	sendSeq uint64
	recvSeq uint64
}

// NewAEAD creates a new AEAD cipher from a 32-byte key.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("crypto: invalid key size for ChaCha20-Poly1305")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: aead}, nil
}

func nonceFor(seq uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], seq)
	return nonce
}

// Seal encrypts and authenticates plaintext.
// Returns: sequence (8 bytes) || ciphertext || tag (16 bytes)
func (a *AEAD) Seal(plaintext, additionalData []byte) ([]byte, error) {
	if a.sendSeq == ^uint64(0) {
		return nil, ErrSequenceExhausted
	}
	a.sendSeq++
	out := make([]byte, seqLen, seqLen+len(plaintext)+a.aead.Overhead())
	binary.BigEndian.PutUint64(out, a.sendSeq)
	return a.aead.Seal(out, nonceFor(a.sendSeq), plaintext, additionalData), nil
}

// Open verifies and decrypts a sealed frame. Sequence numbers must strictly
// increase.
func (a *AEAD) Open(sealed, additionalData []byte) ([]byte, error) {
	if len(sealed) < seqLen+a.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	seq := binary.BigEndian.Uint64(sealed[:seqLen])
	if seq <= a.recvSeq {
		return nil, fmt.Errorf("%w: %d after %d", ErrReplay, seq, a.recvSeq)
	}
	plaintext, err := a.aead.Open(nil, nonceFor(seq), sealed[seqLen:], additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	a.recvSeq = seq
	return plaintext, nil
}

// Overhead returns the bytes Seal adds to a frame.
func (a *AEAD) Overhead() int { return seqLen + a.aead.Overhead() }
