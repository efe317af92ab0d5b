// Package crypto provides the secp256k1/base58/SHA-256 primitives the chain
// package depends on: key generation, deterministic hashing, and
// witness/account signature sign+verify (including compact-signature
// recovery for multisig, §4.4).
package crypto

import (
	"crypto/sha256"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

var errInvalidSignatureLength = errors.New("crypto: signature must be 64 bytes (compact r||s)")

// Provider is the narrow crypto interface consumed by the chain and
// validator packages. Secp256k1Provider is the software implementation and
// HSMDylibProvider (build tag hsm_dylib) the HSM-backed one; the interface
// lets witness-key custody (HSM-backed signing) be swapped in without touching verification call sites, mirroring the
// teacher's CryptoProvider split between verify-only and sign-capable paths.
type Provider interface {
	SHA256(input []byte) [32]byte
	Verify(pubkey []byte, sig []byte, digest [32]byte) bool
	// Recover returns the compressed public key that produced sig over digest,
	// given the compact signature's recovery ID. Used for multisig (§4.4).
	Recover(sig []byte, recoveryID byte, digest [32]byte) ([]byte, error)
}

// Signer additionally can produce signatures; only the local witness's own
// process needs this half, kept separate so remote-verification code paths
// never carry a private key.
type Signer interface {
	Provider
	Sign(privkey []byte, digest [32]byte) (sig []byte, recoveryID byte, err error)
}

// Secp256k1Provider is the default software implementation.
type Secp256k1Provider struct{}

var _ Signer = Secp256k1Provider{}

func (Secp256k1Provider) SHA256(input []byte) [32]byte {
	return sha256.Sum256(input)
}

// Sign produces a 64-byte compact (r||s) secp256k1 ECDSA signature plus its
// recovery ID, over digest, using privkey (32 bytes, big-endian).
func (Secp256k1Provider) Sign(privkey []byte, digest [32]byte) ([]byte, byte, error) {
	priv := secp256k1.PrivKeyFromBytes(privkey)
	defer priv.Zero()
	sig, err := ecdsa.SignCompact(priv, digest[:], true)
	if err != nil {
		return nil, 0, err
	}
	// dcrd's SignCompact packs recovery/format id as the leading byte,
	// offset by 27 (+4 for compressed). Normalize to a plain 0..3 recovery
	// id and a 64-byte r||s signature with the id byte stripped.
	recID := sig[0] - 27
	if recID >= 4 {
		recID -= 4
	}
	return sig[1:], recID, nil
}

func (Secp256k1Provider) Verify(pubkey []byte, sig []byte, digest [32]byte) bool {
	if len(sig) != 64 {
		return false
	}
	pub, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return false
	}
	r := new(secp256k1.ModNScalar)
	s := new(secp256k1.ModNScalar)
	if overflow := r.SetByteSlice(sig[0:32]); overflow {
		return false
	}
	if overflow := s.SetByteSlice(sig[32:64]); overflow {
		return false
	}
	signature := ecdsa.NewSignature(r, s)
	return signature.Verify(digest[:], pub)
}

func (Secp256k1Provider) Recover(sig []byte, recoveryID byte, digest [32]byte) ([]byte, error) {
	if len(sig) != 64 {
		return nil, errInvalidSignatureLength
	}
	compact := make([]byte, 65)
	compact[0] = 27 + 4 + recoveryID
	copy(compact[1:], sig)
	pub, _, err := ecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return nil, err
	}
	return pub.SerializeCompressed(), nil
}

// GenerateKeyPair returns a new random secp256k1 private key (32 bytes) and
// its compressed public key (33 bytes).
func GenerateKeyPair() (priv []byte, pub []byte, err error) {
	p, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}
	defer p.Zero()
	return p.Serialize(), p.PubKey().SerializeCompressed(), nil
}
