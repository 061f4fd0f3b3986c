package identity

import (
	"bytes"
	"testing"
)

func TestGenerateIdentity_PeerIDLength(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if len(id.PeerID) != 40 {
		t.Errorf("PeerID length = %d, want 40", len(id.PeerID))
	}
	if len(id.PublicKey) != PublicKeySize {
		t.Errorf("PublicKey length = %d, want %d", len(id.PublicKey), PublicKeySize)
	}
}

func TestIdentityFromSeed_Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x07}, SeedSize)
	a, err := IdentityFromSeed(seed)
	if err != nil {
		t.Fatalf("IdentityFromSeed: %v", err)
	}
	b, err := IdentityFromSeed(seed)
	if err != nil {
		t.Fatalf("IdentityFromSeed: %v", err)
	}
	if !bytes.Equal(a.PublicKey, b.PublicKey) {
		t.Error("same seed produced different public keys")
	}
	if a.PeerID != b.PeerID {
		t.Error("same seed produced different peer ids")
	}
}

func TestIdentityFromSeed_RejectsWrongLength(t *testing.T) {
	if _, err := IdentityFromSeed(make([]byte, 10)); err == nil {
		t.Fatal("expected error for short seed")
	}
}

func TestSignVerify(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	msg := []byte("hello circuit")
	sig := id.Sign(msg)
	if !Verify(id.PublicKey, msg, sig) {
		t.Error("signature failed to verify")
	}
	if Verify(id.PublicKey, []byte("tampered"), sig) {
		t.Error("signature verified against the wrong message")
	}
}

func TestPeerIDFromPublicKey_MatchesIdentity(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if got := PeerIDFromPublicKey(id.PublicKey); got != id.PeerID {
		t.Errorf("PeerIDFromPublicKey = %q, want %q", got, id.PeerID)
	}
}

func TestAgree_Symmetric(t *testing.T) {
	a, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeyPair: %v", err)
	}
	b, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeyPair: %v", err)
	}

	secretAB, err := Agree(a.Private, b.Public)
	if err != nil {
		t.Fatalf("Agree(a,b): %v", err)
	}
	secretBA, err := Agree(b.Private, a.Public)
	if err != nil {
		t.Fatalf("Agree(b,a): %v", err)
	}
	if secretAB != secretBA {
		t.Error("X25519 agreement is not symmetric")
	}
}

func TestDeriveHopKey_VariesByIndex(t *testing.T) {
	a, _ := GenerateEphemeralKeyPair()
	b, _ := GenerateEphemeralKeyPair()
	secret, err := Agree(a.Private, b.Public)
	if err != nil {
		t.Fatalf("Agree: %v", err)
	}

	k0, err := DeriveHopKey(secret, 0)
	if err != nil {
		t.Fatalf("DeriveHopKey(0): %v", err)
	}
	k1, err := DeriveHopKey(secret, 1)
	if err != nil {
		t.Fatalf("DeriveHopKey(1): %v", err)
	}
	if bytes.Equal(k0, k1) {
		t.Error("hop keys for different indices should differ")
	}
	if len(k0) != AEADKeySize {
		t.Errorf("derived key length = %d, want %d", len(k0), AEADKeySize)
	}
}
