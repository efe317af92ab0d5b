//go:build hsm_dylib

package crypto

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

typedef int32_t (*sidechain_sign_fn)(const uint8_t*, const uint8_t*, uint8_t*, uint8_t*);
typedef int32_t (*sidechain_verify_fn)(const uint8_t*, const uint8_t*, const uint8_t*);

typedef struct {
	void* handle;
	sidechain_sign_fn sign_secp256k1;
	sidechain_verify_fn verify_secp256k1;
} sidechain_hsm_provider_t;

static int sidechain_hsm_load(sidechain_hsm_provider_t* p, const char* path) {
	p->handle = dlopen(path, RTLD_LAZY);
	if (!p->handle) return -1;

	p->sign_secp256k1 = (sidechain_sign_fn)dlsym(p->handle, "sidechain_hsm_sign_secp256k1");
	p->verify_secp256k1 = (sidechain_verify_fn)dlsym(p->handle, "sidechain_hsm_verify_secp256k1");

	if (!p->sign_secp256k1 || !p->verify_secp256k1) {
		dlclose(p->handle);
		p->handle = NULL;
		return -2;
	}
	return 0;
}

static int32_t sidechain_hsm_sign_call(
	sidechain_hsm_provider_t* p,
	const uint8_t* key_id,
	const uint8_t* digest,
	uint8_t* sig_out,
	uint8_t* recid_out
) {
	if (!p || !p->sign_secp256k1) {
		return -1;
	}
	return p->sign_secp256k1(key_id, digest, sig_out, recid_out);
}

static int32_t sidechain_hsm_verify_call(
	sidechain_hsm_provider_t* p,
	const uint8_t* pubkey,
	const uint8_t* sig,
	const uint8_t* digest
) {
	if (!p || !p->verify_secp256k1) {
		return -1;
	}
	return p->verify_secp256k1(pubkey, sig, digest);
}

static void sidechain_hsm_close(sidechain_hsm_provider_t* p) {
	if (p->handle) {
		dlclose(p->handle);
		p->handle = NULL;
	}
}
*/
import "C"

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"unsafe"

	"crypto/sha256"
)

// HSMDylibProvider loads a local shim dylib exposing the stable sidechain
// HSM ABI for secp256k1 witness-key signing. The shim is expected to be
// provided by the deployment's hardware-security-module integration and is
// the production counterpart to Secp256k1Provider's software signing.
type HSMDylibProvider struct {
	p C.sidechain_hsm_provider_t
}

var _ Provider = (*HSMDylibProvider)(nil)

// LoadHSMDylibProviderFromEnv loads the shim from SIDECHAIN_HSM_SHIM_PATH,
// optionally verifying its SHA-256 against SIDECHAIN_HSM_SHIM_SHA256.
func LoadHSMDylibProviderFromEnv() (*HSMDylibProvider, error) {
	path, ok := os.LookupEnv("SIDECHAIN_HSM_SHIM_PATH")
	if !ok || path == "" {
		return nil, errors.New("SIDECHAIN_HSM_SHIM_PATH is not set")
	}
	strict := func() bool {
		v := os.Getenv("SIDECHAIN_HSM_STRICT")
		return v == "1" || strings.EqualFold(v, "true")
	}()

	if expected := os.Getenv("SIDECHAIN_HSM_SHIM_SHA256"); expected != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return nil, err
		}
		actual := hex.EncodeToString(h.Sum(nil))
		if actual != strings.ToLower(expected) {
			return nil, errors.New("hsm shim hash mismatch (SIDECHAIN_HSM_SHIM_SHA256)")
		}
	} else if strict {
		return nil, errors.New("SIDECHAIN_HSM_SHIM_SHA256 required when SIDECHAIN_HSM_STRICT=1")
	}
	return LoadHSMDylibProvider(path)
}

func LoadHSMDylibProvider(path string) (*HSMDylibProvider, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var p C.sidechain_hsm_provider_t
	rc := C.sidechain_hsm_load(&p, cpath)
	if rc != 0 {
		return nil, errors.New("failed to load hsm shim dylib")
	}

	prov := &HSMDylibProvider{p: p}
	runtime.SetFinalizer(prov, func(x *HSMDylibProvider) { C.sidechain_hsm_close(&x.p) })
	return prov, nil
}

func (w *HSMDylibProvider) SHA256(input []byte) [32]byte {
	return sha256.Sum256(input)
}

func (w *HSMDylibProvider) Verify(pubkey []byte, sig []byte, digest [32]byte) bool {
	if len(pubkey) != 33 || len(sig) != 64 {
		return false
	}
	rc := C.int32_t(C.sidechain_hsm_verify_call(
		&w.p,
		(*C.uint8_t)(unsafe.Pointer(&pubkey[0])),
		(*C.uint8_t)(unsafe.Pointer(&sig[0])),
		(*C.uint8_t)(unsafe.Pointer(&digest[0])),
	))
	switch rc {
	case 1:
		return true
	case 0:
		return false
	default:
		panic(fmt.Sprintf("hsm shim error: sidechain_hsm_verify_secp256k1 rc=%d", rc))
	}
}

func (w *HSMDylibProvider) Recover(sig []byte, recoveryID byte, digest [32]byte) ([]byte, error) {
	return nil, errors.New("hsm provider does not support key recovery")
}

var _ Signer = (*HSMDylibProvider)(nil)

// Sign implements Signer by treating privkey as an opaque 32-byte HSM key ID
// rather than a raw private key scalar: under HSM custody the signing
// material never enters process memory, so Identity.PrivateKey holds the
// key ID the shim was provisioned with, not a secp256k1 scalar.
func (w *HSMDylibProvider) Sign(privkey []byte, digest [32]byte) ([]byte, byte, error) {
	if len(privkey) != 32 {
		return nil, 0, errors.New("hsm signer: key id must be 32 bytes")
	}
	var keyID [32]byte
	copy(keyID[:], privkey)
	return w.SignWithKeyID(keyID, digest)
}

// SignWithKeyID asks the HSM to sign digest using the key identified by
// keyID (an opaque, deployment-defined 32-byte handle), returning a compact
// signature and its recovery id.
func (w *HSMDylibProvider) SignWithKeyID(keyID [32]byte, digest [32]byte) ([]byte, byte, error) {
	sig := make([]byte, 64)
	var recid byte
	rc := C.int32_t(C.sidechain_hsm_sign_call(
		&w.p,
		(*C.uint8_t)(unsafe.Pointer(&keyID[0])),
		(*C.uint8_t)(unsafe.Pointer(&digest[0])),
		(*C.uint8_t)(unsafe.Pointer(&sig[0])),
		(*C.uint8_t)(unsafe.Pointer(&recid)),
	))
	if rc != 1 {
		return nil, 0, fmt.Errorf("hsm shim error: sidechain_hsm_sign_secp256k1 rc=%d", rc)
	}
	return sig, recid, nil
}
