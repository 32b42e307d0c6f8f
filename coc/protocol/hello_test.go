package protocol

import (
	"testing"
	"time"

	"github.com/TheusHen/cocstress/coc/identity"
)

func TestHelloSignAndVerify(t *testing.T) {
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	hello, err := NewHello(kp, true)
	if err != nil {
		t.Fatalf("NewHello: %v", err)
	}
	if err := hello.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(hello.Signature) == 0 {
		t.Fatalf("expected signature")
	}
	if err := hello.VerifyAt(time.Now()); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	encoded, err := EncodeHello(hello)
	if err != nil {
		t.Fatalf("EncodeHello: %v", err)
	}
	decoded, err := DecodeHello(encoded)
	if err != nil {
		t.Fatalf("DecodeHello: %v", err)
	}
	if err := decoded.Verify(); err != nil {
		t.Fatalf("Verify after decode: %v", err)
	}
	if decoded.Address != kp.Address() || !decoded.Peripheral {
		t.Fatalf("decoded hello = %+v", decoded)
	}
}

func TestHelloVerifyFailures(t *testing.T) {
	kp, _ := identity.GenerateKeyPair()
	hello, _ := NewHello(kp, false)
	_ = hello.Sign(kp)

	tampered := hello
	tampered.Signature = append([]byte(nil), hello.Signature...)
	tampered.Signature[0] ^= 0xff
	if err := tampered.Verify(); err != ErrHelloBadSignature {
		t.Fatalf("expected ErrHelloBadSignature, got %v", err)
	}

	kp2, _ := identity.GenerateKeyPair()
	wrong, _ := NewHello(kp, false)
	wrong.Address = kp2.Address()
	_ = wrong.Sign(kp)
	if err := wrong.Verify(); err != ErrHelloAddressMismatch {
		t.Fatalf("expected ErrHelloAddressMismatch, got %v", err)
	}

	if err := hello.VerifyAt(time.Now().Add(time.Hour)); err != ErrHelloStale {
		t.Fatalf("expected ErrHelloStale, got %v", err)
	}

	if _, err := DecodeHello([]byte{0xa0}); err == nil {
		t.Fatalf("expected error decoding hello without address")
	}
}
