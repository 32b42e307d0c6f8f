package protocol

import (
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestPDURoundTrip(t *testing.T) {
	req := ConnReq{Ident: 3, PSM: 0x80, SCID: 0x40, MTU: 1230, MPS: 65, Credits: 10}
	f, err := SignalingFrame(FrameConnReq, req)
	if err != nil {
		t.Fatalf("SignalingFrame: %v", err)
	}
	if f.CID != CIDSignaling || !f.Type.Signaling() {
		t.Fatalf("signaling frame = %+v", f)
	}
	got, err := DecodePDU[ConnReq](f.Payload)
	if err != nil {
		t.Fatalf("DecodePDU: %v", err)
	}
	if got != req {
		t.Fatalf("ConnReq = %+v, want %+v", got, req)
	}

	rsp := ConnRsp{Ident: 3, Result: ResultInsufficientSecurity}
	b, _ := EncodePDU(rsp)
	gotRsp, err := DecodePDU[ConnRsp](b)
	if err != nil || gotRsp != rsp {
		t.Fatalf("ConnRsp = %+v, %v", gotRsp, err)
	}
	if !errors.Is(gotRsp.Result.Err(), ErrInsufficientSecurity) {
		t.Fatalf("Result.Err = %v", gotRsp.Result.Err())
	}
}

func TestDecodePDURejectsGarbage(t *testing.T) {
	if _, err := DecodePDU[Credits]([]byte{0xff, 0x00}); !errors.Is(err, ErrMalformedPDU) {
		t.Fatalf("expected ErrMalformedPDU, got %v", err)
	}
	extra, _ := cbor.Marshal(map[int]int{1: 0x40, 2: 1, 9: 9})
	if _, err := DecodePDU[Credits](extra); !errors.Is(err, ErrMalformedPDU) {
		t.Fatalf("unknown field accepted: %v", err)
	}
}

func TestResultErrors(t *testing.T) {
	if ResultSuccess.Err() != nil {
		t.Fatalf("success must map to nil")
	}
	cases := map[Result]error{
		ResultPSMNotSupported: ErrPSMNotSupported,
		ResultNoResources:     ErrNoResources,
		ResultRefused:         ErrRefused,
		Result(0x00ff):        ErrRefused,
	}
	for r, want := range cases {
		if !errors.Is(r.Err(), want) {
			t.Errorf("%s.Err() = %v, want %v", r, r.Err(), want)
		}
	}
}
