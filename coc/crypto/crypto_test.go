package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/TheusHen/cocstress/coc/identity"
)

func TestPairingKeyAgreement(t *testing.T) {
	central, err := generatePairingKey()
	if err != nil {
		t.Fatalf("generatePairingKey: %v", err)
	}
	peripheral, err := generatePairingKey()
	if err != nil {
		t.Fatalf("generatePairingKey: %v", err)
	}

	fromCentral, err := central.agree(peripheral.point)
	if err != nil {
		t.Fatalf("central agree: %v", err)
	}
	fromPeripheral, err := peripheral.agree(central.point)
	if err != nil {
		t.Fatalf("peripheral agree: %v", err)
	}
	if !bytes.Equal(fromCentral, fromPeripheral) {
		t.Fatalf("both ends must agree on the secret")
	}
	if _, err := central.agree([32]byte{}); err != ErrInvalidPublicKey {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
}

func TestPairingKeyFromReader(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	a, err := newPairingKey(bytes.NewReader(seed))
	if err != nil {
		t.Fatalf("newPairingKey: %v", err)
	}
	b, _ := newPairingKey(bytes.NewReader(seed))
	if a.point != b.point {
		t.Fatalf("same scalar must give the same point")
	}
	if _, err := newPairingKey(bytes.NewReader(seed[:8])); err == nil {
		t.Fatalf("short randomness must fail")
	}
}

func TestAEADRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	sender, err := NewAEAD(key)
	if err != nil {
		t.Fatalf("NewAEAD: %v", err)
	}
	receiver, _ := NewAEAD(key)

	plaintext := []byte("k-frame payload")
	ad := []byte("additional data")

	sealed, err := sender.Seal(plaintext, ad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(sealed) != len(plaintext)+sender.Overhead() {
		t.Fatalf("unexpected sealed length %d", len(sealed))
	}
	opened, err := receiver.Open(sealed, ad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened != plaintext")
	}

	if _, err := receiver.Open(sealed, ad); !errors.Is(err, ErrReplay) {
		t.Fatalf("expected ErrReplay on duplicate, got %v", err)
	}

	next, _ := sender.Seal(plaintext, ad)
	next[len(next)-1] ^= 0xff
	if _, err := receiver.Open(next, ad); err != ErrDecryptionFailed {
		t.Fatalf("expected decryption failure on tampered frame, got %v", err)
	}
	if _, err := receiver.Open(next[:4], ad); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func pair(t *testing.T) (*LinkCipher, *LinkCipher) {
	t.Helper()
	central := identity.KeyPairFromSeed("central").Address()
	peripheral := identity.KeyPairFromSeed("peripheral").Address()
	cp, err := NewPairing(true, central, peripheral)
	if err != nil {
		t.Fatalf("NewPairing: %v", err)
	}
	pp, err := NewPairing(false, peripheral, central)
	if err != nil {
		t.Fatalf("NewPairing: %v", err)
	}
	cc, err := cp.Complete(pp.PublicKey())
	if err != nil {
		t.Fatalf("central Complete: %v", err)
	}
	pc, err := pp.Complete(cp.PublicKey())
	if err != nil {
		t.Fatalf("peripheral Complete: %v", err)
	}
	return cc, pc
}

func TestLinkCipherBothDirections(t *testing.T) {
	central, peripheral := pair(t)
	for i := 0; i < 3; i++ {
		msg := []byte{byte(i), 1, 2, 3}
		sealed, err := central.Seal(msg)
		if err != nil {
			t.Fatalf("central Seal: %v", err)
		}
		got, err := peripheral.Open(sealed)
		if err != nil || !bytes.Equal(got, msg) {
			t.Fatalf("peripheral Open = %v, %v", got, err)
		}

		sealed, _ = peripheral.Seal(msg)
		got, err = central.Open(sealed)
		if err != nil || !bytes.Equal(got, msg) {
			t.Fatalf("central Open = %v, %v", got, err)
		}
	}

	own, _ := central.Seal([]byte("reflected"))
	if _, err := central.Open(own); err == nil {
		t.Fatalf("a link end must not open its own frames")
	}
}

func TestUnpairedCipher(t *testing.T) {
	var c *LinkCipher
	if _, err := c.Seal([]byte("x")); err != ErrNotPaired {
		t.Fatalf("expected ErrNotPaired, got %v", err)
	}
}

func TestDeriveLinkKeysDiffer(t *testing.T) {
	alice, _ := generatePairingKey()
	bob, _ := generatePairingKey()
	shared, _ := alice.agree(bob.point)
	a := identity.KeyPairFromSeed("a").Address()
	b := identity.KeyPairFromSeed("b").Address()

	k1, k2, err := DeriveLinkKeys(shared, a, b, alice.point, bob.point)
	if err != nil {
		t.Fatalf("DeriveLinkKeys: %v", err)
	}
	if len(k1) != 32 || len(k2) != 32 || bytes.Equal(k1, k2) {
		t.Fatalf("direction keys must be distinct 32-byte keys")
	}
	k3, _, _ := DeriveLinkKeys(shared, b, a, alice.point, bob.point)
	if bytes.Equal(k1, k3) {
		t.Fatalf("keys must bind the device addresses")
	}
}
