//go:build !hsm_dylib

package main

import (
	"go.uber.org/zap"

	"sidechain.dev/core/crypto"
)

// loadCryptoProvider returns the software secp256k1 signer. Built whenever
// the hsm_dylib tag is absent; see provider_hsm.go for the HSM-backed build.
func loadCryptoProvider(_ *zap.Logger) (crypto.Signer, func(), error) {
	return crypto.Secp256k1Provider{}, func() {}, nil
}
