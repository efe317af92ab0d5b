package chain

import (
	"encoding/hex"
	"strconv"

	"sidechain.dev/core/crypto"
)

// allowedKey is one (pubkey, weight) pair a tx signer may use for kind.
type allowedKey struct {
	pub    []byte
	weight int
}

// allowedKeysForKind collects every key account.name is permitted to sign
// kind with: its primary witness key is never eligible for tx signatures
// (only block signatures use it, per §4.4), so the primary signing key here
// is the account's own first-class key recorded in Keys with no delegation.
func allowedKeysForKind(s *State, sender string, kind TransactionKind) []allowedKey {
	acct, ok := s.Accounts[sender]
	if !ok {
		return nil
	}
	var out []allowedKey
	for _, k := range acct.Keys {
		if k.DelegatedAccount != "" {
			continue // delegated-in keys are looked up from the delegating account, not here
		}
		if kindPermitted(k, kind) {
			out = append(out, allowedKey{pub: k.PublicKey, weight: k.Weight})
		}
	}
	// Keys delegated to `sender` by other accounts also count toward sender's
	// threshold, since authority was explicitly handed to this account.
	for _, other := range s.Accounts {
		if other.Name == sender {
			continue
		}
		for _, k := range other.Keys {
			if k.DelegatedAccount == sender && kindPermitted(k, kind) {
				out = append(out, allowedKey{pub: k.PublicKey, weight: k.Weight})
			}
		}
	}
	return out
}

func kindPermitted(k AccountKey, kind TransactionKind) bool {
	if len(k.PermittedKinds) == 0 {
		return true
	}
	_, ok := k.PermittedKinds[kind]
	return ok
}

// VerifyTxSignature applies §4.4's weight-threshold model: single-signature
// mode accepts the first allowed key whose own weight clears the threshold;
// multisig mode recovers each signer's pubkey and sums matching weights.
func VerifyTxSignature(provider crypto.Provider, s *State, tx *Transaction, digest [32]byte) error {
	threshold := s.Cfg.Threshold(tx.Kind)
	allowed := allowedKeysForKind(s, tx.Sender, tx.Kind)
	if len(allowed) == 0 {
		return newErrf(ErrInvalidSignature, "sender %q has no key permitted for kind %q", tx.Sender, tx.Kind)
	}
	if len(tx.Signatures) == 0 {
		return newErr(ErrInvalidSignature, "transaction carries no signatures")
	}

	if len(tx.Signatures) == 1 {
		return verifySingle(provider, allowed, tx.Signatures[0], digest, threshold)
	}
	return verifyMultisig(provider, s, allowed, tx.Signatures, digest, threshold)
}

// recoverCached wraps provider.Recover with s's LRU so a signature recovered
// once (e.g. during producer-side assembly) isn't recomputed during
// validator-side re-verification of the same block.
func recoverCached(provider crypto.Provider, s *State, sig []byte, recoveryID byte, digest [32]byte) ([]byte, error) {
	key := hex.EncodeToString(digest[:]) + ":" + hex.EncodeToString(sig) + ":" + strconv.Itoa(int(recoveryID))
	if s.sigCache != nil {
		if pub, ok := s.sigCache.Get(key); ok {
			return pub, nil
		}
	}
	pub, err := provider.Recover(sig, recoveryID, digest)
	if err != nil {
		return nil, err
	}
	if s.sigCache != nil {
		s.sigCache.Add(key, pub)
	}
	return pub, nil
}

func verifySingle(provider crypto.Provider, allowed []allowedKey, sig TxSignature, digest [32]byte, threshold int) error {
	for _, k := range allowed {
		if k.weight < threshold {
			continue
		}
		if provider.Verify(k.pub, sig.Sig, digest) {
			return nil
		}
	}
	return newErr(ErrInvalidSignature, "no single allowed key both verified and met the threshold")
}

func verifyMultisig(provider crypto.Provider, s *State, allowed []allowedKey, sigs []TxSignature, digest [32]byte, threshold int) error {
	seen := make(map[string]struct{}, len(sigs))
	sum := 0
	for _, sig := range sigs {
		pub, err := recoverCached(provider, s, sig.Sig, sig.RecoveryID, digest)
		if err != nil {
			return newErrf(ErrInvalidSignature, "recover: %v", err)
		}
		key := string(pub)
		if _, dup := seen[key]; dup {
			return newErr(ErrInvalidSignature, "duplicate signer in multisig set")
		}
		seen[key] = struct{}{}
		for _, a := range allowed {
			if string(a.pub) == key {
				sum += a.weight
				break
			}
		}
	}
	if sum < threshold {
		return newErrf(ErrInvalidSignature, "multisig weight %d below threshold %d", sum, threshold)
	}
	return nil
}

// VerifyBlockSignature checks the block's signature against the scheduled
// witness's block-signing key only; key delegation never applies here
// (§4.4: "only the witness block-signing key is accepted").
func VerifyBlockSignature(provider crypto.Provider, s *State, b *Block, digest [32]byte) error {
	acct, ok := s.Accounts[b.Witness]
	if !ok || len(acct.WitnessPublicKey) == 0 {
		return newErrf(ErrInvalidSignature, "witness %q has no registered signing key", b.Witness)
	}
	sig, err := crypto.DecodeBase58(b.Signature)
	if err != nil {
		return newErrf(ErrInvalidSignature, "decode signature: %v", err)
	}
	if !provider.Verify(acct.WitnessPublicKey, sig, digest) {
		return newErr(ErrInvalidSignature, "block signature does not verify against witness key")
	}
	return nil
}
