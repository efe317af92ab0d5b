package crypto

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	p := Secp256k1Provider{}
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	digest := p.SHA256([]byte("block body"))

	sig, recID, err := p.Sign(priv, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("expected 64-byte compact signature, got %d", len(sig))
	}
	if !p.Verify(pub, sig, digest) {
		t.Fatal("Verify rejected a signature it produced")
	}

	recovered, err := p.Recover(sig, recID, digest)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if string(recovered) != string(pub) {
		t.Fatalf("recovered pubkey mismatch")
	}
}

func TestVerifyRejectsTamperedDigest(t *testing.T) {
	p := Secp256k1Provider{}
	priv, pub, _ := GenerateKeyPair()
	digest := p.SHA256([]byte("original"))
	sig, _, err := p.Sign(priv, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tampered := p.SHA256([]byte("tampered"))
	if p.Verify(pub, sig, tampered) {
		t.Fatal("Verify accepted a signature over the wrong digest")
	}
}

func TestBase58RoundTrip(t *testing.T) {
	_, pub, _ := GenerateKeyPair()
	enc := EncodeBase58(pub)
	dec, err := DecodeBase58(enc)
	if err != nil {
		t.Fatalf("DecodeBase58: %v", err)
	}
	if string(dec) != string(pub) {
		t.Fatal("base58 round trip mismatch")
	}
}
