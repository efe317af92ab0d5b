package node

import (
	"bytes"
	"path/filepath"
	"testing"

	"sidechain.dev/core/crypto"
)

func TestExportUnwrapRoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	kek := bytes.Repeat([]byte{0x42}, 32)
	path := filepath.Join(t.TempDir(), "witness.json")

	if err := ExportWrappedKey(path, pub, priv, kek); err != nil {
		t.Fatalf("ExportWrappedKey: %v", err)
	}
	ks, err := ReadKeystore(path)
	if err != nil {
		t.Fatalf("ReadKeystore: %v", err)
	}
	got, err := UnwrapKey(ks, kek)
	if err != nil {
		t.Fatalf("UnwrapKey: %v", err)
	}
	if !bytes.Equal(got, priv) {
		t.Fatal("expected unwrapped key to match the original private key")
	}
}

func TestRewrapKeyRotatesKEK(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	oldKEK := bytes.Repeat([]byte{0x11}, 32)
	newKEK := bytes.Repeat([]byte{0x22}, 32)
	path := filepath.Join(t.TempDir(), "witness.json")

	if err := ExportWrappedKey(path, pub, priv, oldKEK); err != nil {
		t.Fatalf("ExportWrappedKey: %v", err)
	}
	ks, err := ReadKeystore(path)
	if err != nil {
		t.Fatalf("ReadKeystore: %v", err)
	}
	if err := RewrapKey(ks, oldKEK, newKEK); err != nil {
		t.Fatalf("RewrapKey: %v", err)
	}
	got, err := UnwrapKey(ks, newKEK)
	if err != nil {
		t.Fatalf("UnwrapKey with new KEK: %v", err)
	}
	if !bytes.Equal(got, priv) {
		t.Fatal("expected key recovered under the new KEK to match the original")
	}
	if _, err := UnwrapKey(ks, oldKEK); err == nil {
		t.Fatal("expected unwrap under the old KEK to fail after rotation")
	}
}

func TestDeriveKEKIsDeterministicAndSaltSensitive(t *testing.T) {
	salt := bytes.Repeat([]byte{0x01}, 16)
	a := DeriveKEK("correct horse battery staple", salt)
	b := DeriveKEK("correct horse battery staple", salt)
	if !bytes.Equal(a, b) {
		t.Fatal("expected DeriveKEK to be deterministic for the same passphrase and salt")
	}
	if len(a) != 32 {
		t.Fatalf("expected a 32-byte KEK, got %d bytes", len(a))
	}
	otherSalt := bytes.Repeat([]byte{0x02}, 16)
	if c := DeriveKEK("correct horse battery staple", otherSalt); bytes.Equal(a, c) {
		t.Fatal("expected a different salt to derive a different KEK")
	}
}
