package wire

import "testing"

func TestIntroRequestRoundTrip(t *testing.T) {
	p := IntroRequestPayload{
		Destination: SocketAddress{IPv4: 0x82A177C9, Port: 6421},
		SourceLAN:   SocketAddress{IPv4: 0xC0A80001, Port: 6422},
		SourceWAN:   SocketAddress{IPv4: 0x82A177CE, Port: 6423},
		Flags:       FlagAdvicePunctureFirst,
		Identifier:  0xBEEF,
	}

	encoded := EncodeIntroRequest(p)
	if len(encoded) != IntroRequestWireLen {
		t.Fatalf("encoded length = %d, want %d", len(encoded), IntroRequestWireLen)
	}

	decoded, err := DecodeIntroRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeIntroRequest: %v", err)
	}
	if decoded != p {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, p)
	}
}

func TestDecodeIntroRequestRejectsWrongLength(t *testing.T) {
	_, err := DecodeIntroRequest(make([]byte, IntroRequestWireLen-1))
	if err == nil {
		t.Fatal("expected an error decoding a truncated introduction-request")
	}
}

func TestIntroResponseRoundTrip(t *testing.T) {
	p := IntroResponsePayload{
		Identifier: 0x1234,
		Flags:      IntroResponseHasCandidate,
		Candidate:  SocketAddress{IPv4: 0x82A177D7, Port: 6425},
	}

	encoded := EncodeIntroResponse(p)
	if len(encoded) != IntroResponseWireLen {
		t.Fatalf("encoded length = %d, want %d", len(encoded), IntroResponseWireLen)
	}

	decoded, err := DecodeIntroResponse(encoded)
	if err != nil {
		t.Fatalf("DecodeIntroResponse: %v", err)
	}
	if decoded != p {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, p)
	}
	if !decoded.HasCandidate() {
		t.Error("HasCandidate() should be true when the flag bit is set")
	}
}

func TestIntroResponseWithoutCandidate(t *testing.T) {
	p := IntroResponsePayload{Identifier: 0x1}
	if p.HasCandidate() {
		t.Error("HasCandidate() should be false by default")
	}
}

func TestDecodeIntroResponseRejectsWrongLength(t *testing.T) {
	_, err := DecodeIntroResponse(make([]byte, IntroResponseWireLen-1))
	if err == nil {
		t.Fatal("expected an error decoding a truncated introduction-response")
	}
}

func TestPunctureRequestRoundTrip(t *testing.T) {
	p := PunctureRequestPayload{
		Identifier: 0xABCD,
		Target:     SocketAddress{IPv4: 0x82A177D7, Port: 6425},
	}

	encoded := EncodePunctureRequest(p)
	if len(encoded) != PunctureRequestWireLen {
		t.Fatalf("encoded length = %d, want %d", len(encoded), PunctureRequestWireLen)
	}

	decoded, err := DecodePunctureRequest(encoded)
	if err != nil {
		t.Fatalf("DecodePunctureRequest: %v", err)
	}
	if decoded != p {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, p)
	}
}

func TestDecodePunctureRequestRejectsWrongLength(t *testing.T) {
	_, err := DecodePunctureRequest(make([]byte, PunctureRequestWireLen-1))
	if err == nil {
		t.Fatal("expected an error decoding a truncated puncture-request")
	}
}

func TestPunctureRoundTrip(t *testing.T) {
	p := PuncturePayload{Identifier: 0x5678}

	encoded := EncodePuncture(p)
	if len(encoded) != PunctureWireLen {
		t.Fatalf("encoded length = %d, want %d", len(encoded), PunctureWireLen)
	}

	decoded, err := DecodePuncture(encoded)
	if err != nil {
		t.Fatalf("DecodePuncture: %v", err)
	}
	if decoded != p {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, p)
	}
}

func TestDecodePunctureRejectsWrongLength(t *testing.T) {
	_, err := DecodePuncture(make([]byte, PunctureWireLen+1))
	if err == nil {
		t.Fatal("expected an error decoding a malformed puncture datagram")
	}
}
