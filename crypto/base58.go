package crypto

import "github.com/mr-tron/base58"

// EncodeBase58 encodes raw bytes (a compressed public key or a compact
// signature) using the Bitcoin base58 alphabet, per §6's encoding rule.
func EncodeBase58(b []byte) string {
	return base58.Encode(b)
}

// DecodeBase58 is the inverse of EncodeBase58.
func DecodeBase58(s string) ([]byte, error) {
	return base58.Decode(s)
}
