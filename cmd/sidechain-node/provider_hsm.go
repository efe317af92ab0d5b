//go:build hsm_dylib

package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"sidechain.dev/core/crypto"
)

// loadCryptoProvider loads the HSM-backed signer (crypto.HSMDylibProvider,
// configured via SIDECHAIN_HSM_SHIM_PATH) and starts its health monitor
// (crypto.HSMMonitor) against it. The returned signer does not consult the
// monitor's state, so it keeps signing while the monitor reports READ_ONLY;
// once the monitor reaches FAILED (past SIDECHAIN_HSM_FAILOVER_TIMEOUT) its
// onFailed hook exits the process.
// Built only under -tags hsm_dylib; see provider_default.go for the default.
func loadCryptoProvider(log *zap.Logger) (crypto.Signer, func(), error) {
	provider, err := crypto.LoadHSMDylibProviderFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("load hsm shim: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	monitor := crypto.NewHSMMonitor(crypto.HSMConfigFromEnv(), hsmHealthCheck(provider), func() {
		log.Error("hsm monitor forced shutdown after failover timeout")
		os.Exit(1)
	}, log)
	go monitor.Run(ctx)

	return provider, cancel, nil
}

// hsmHealthCheck probes shim reachability with a cheap, side-effect-free
// verify call; the signature is deliberately invalid, only whether the shim
// answers (rather than panics/hangs) indicates it is alive.
func hsmHealthCheck(provider *crypto.HSMDylibProvider) crypto.HealthCheckFn {
	dummyPub := make([]byte, 33)
	dummyPub[0] = 0x02
	dummySig := make([]byte, 64)
	var dummyDigest [32]byte

	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("hsm shim unreachable: %v", r)
			}
		}()
		provider.Verify(dummyPub, dummySig, dummyDigest)
		return nil
	}
}
