package node

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"

	"sidechain.dev/core/crypto"
)

// DeriveKEK derives a 32-byte AES-256 key-encryption-key from an operator
// passphrase and a caller-supplied salt, using Argon2id with time=1, 64 MiB of
// memory and 4 threads (the parameters suggested in the documentation of
// golang.org/x/crypto/argon2). This is the passphrase-based
// alternative to supplying a raw 32-byte KEK directly: the teacher's own
// crypto package reaches for golang.org/x/crypto for its hashing primitives
// (`sha3`, dropped here along with the PQ algorithms it served), and
// Argon2id is the same module's recommended choice for turning an
// operator-memorable secret into key material.
func DeriveKEK(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// KeyStoreV1 is the on-disk format for a witness's AES-KW-wrapped secp256k1
// private key, adapted from the teacher's ML-DSA keystore to the core's
// secp256k1 signing keys (§4.4).
type KeyStoreV1 struct {
	Version      string `json:"version"` // "SCKSv1"
	PubkeyHex    string `json:"pubkey_hex"`
	KeyIDHex     string `json:"key_id_hex"`
	WrapAlg      string `json:"wrap_alg"` // "AES-256-KW"
	WrappedSKHex string `json:"wrapped_sk_hex"`
}

const keystoreVersion = "SCKSv1"

// ExportWrappedKey wraps sk (a 32-byte secp256k1 private key) under kek (a
// 32-byte AES-256 key-encryption key) and writes it to path.
func ExportWrappedKey(path string, pub, sk, kek []byte) error {
	if len(kek) != 32 {
		return fmt.Errorf("keystore: kek must be 32 bytes")
	}
	if len(sk) == 0 || len(sk)%8 != 0 {
		return fmt.Errorf("keystore: sk must be a non-zero multiple of 8 bytes (AES-KW requirement)")
	}
	wrapped, err := crypto.AESKeyWrapRFC3394(kek, sk)
	if err != nil {
		return fmt.Errorf("keystore: wrap: %w", err)
	}
	provider := crypto.Secp256k1Provider{}
	keyID := provider.SHA256(pub)

	ks := KeyStoreV1{
		Version:      keystoreVersion,
		PubkeyHex:    hex.EncodeToString(pub),
		KeyIDHex:     hex.EncodeToString(keyID[:]),
		WrapAlg:      "AES-256-KW",
		WrappedSKHex: hex.EncodeToString(wrapped),
	}
	b, err := json.Marshal(ks)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o600)
}

// ReadKeystore loads and validates a keystore file's shape (not its
// contents: the caller still must unwrap with the correct KEK).
func ReadKeystore(path string) (*KeyStoreV1, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-provided path
	if err != nil {
		return nil, err
	}
	var ks KeyStoreV1
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, err
	}
	if ks.Version != keystoreVersion {
		return nil, fmt.Errorf("keystore: unsupported version %q", ks.Version)
	}
	if strings.ToUpper(ks.WrapAlg) != "AES-256-KW" {
		return nil, fmt.Errorf("keystore: unsupported wrap_alg %q", ks.WrapAlg)
	}
	return &ks, nil
}

// UnwrapKey recovers the raw private key bytes from a keystore entry given
// the KEK it was wrapped under.
func UnwrapKey(ks *KeyStoreV1, kek []byte) ([]byte, error) {
	if len(kek) != 32 {
		return nil, fmt.Errorf("keystore: kek must be 32 bytes")
	}
	wrapped, err := hex.DecodeString(ks.WrappedSKHex)
	if err != nil {
		return nil, fmt.Errorf("keystore: wrapped_sk_hex: %w", err)
	}
	return crypto.AESKeyUnwrapRFC3394(kek, wrapped)
}

// RewrapKey re-encrypts a keystore entry under a new KEK, for rotation.
func RewrapKey(ks *KeyStoreV1, oldKEK, newKEK []byte) error {
	plain, err := UnwrapKey(ks, oldKEK)
	if err != nil {
		return err
	}
	wrapped, err := crypto.AESKeyWrapRFC3394(newKEK, plain)
	if err != nil {
		return fmt.Errorf("keystore: rewrap: %w", err)
	}
	ks.WrappedSKHex = hex.EncodeToString(wrapped)
	return nil
}
