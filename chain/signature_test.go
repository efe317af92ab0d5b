package chain

import (
	"testing"

	"sidechain.dev/core/crypto"
)

func TestVerifyTxSignatureSingleKeyMeetsThreshold(t *testing.T) {
	p := crypto.Secp256k1Provider{}
	priv, pub, _ := crypto.GenerateKeyPair()

	s := NewState(&Config{Witnesses: 3, DefaultThresh: 1})
	acct := s.Account("alice")
	acct.Keys = []AccountKey{{PublicKey: pub, Weight: 1}}

	tx := &Transaction{Sender: "alice", Kind: KindTransfer}
	digest := p.SHA256([]byte("tx body"))
	sig, _, err := p.Sign(priv, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tx.Signatures = []TxSignature{{Sig: sig}}

	if err := VerifyTxSignature(p, s, tx, digest); err != nil {
		t.Fatalf("VerifyTxSignature: %v", err)
	}
}

func TestVerifyTxSignatureRejectsBelowWeight(t *testing.T) {
	p := crypto.Secp256k1Provider{}
	priv, pub, _ := crypto.GenerateKeyPair()

	s := NewState(&Config{Witnesses: 3, DefaultThresh: 2})
	acct := s.Account("alice")
	acct.Keys = []AccountKey{{PublicKey: pub, Weight: 1}}

	tx := &Transaction{Sender: "alice", Kind: KindTransfer}
	digest := p.SHA256([]byte("tx body"))
	sig, _, _ := p.Sign(priv, digest)
	tx.Signatures = []TxSignature{{Sig: sig}}

	if err := VerifyTxSignature(p, s, tx, digest); err == nil {
		t.Fatal("expected rejection: single key weight below threshold")
	}
}

func TestVerifyTxSignatureMultisigSumsWeights(t *testing.T) {
	p := crypto.Secp256k1Provider{}
	priv1, pub1, _ := crypto.GenerateKeyPair()
	priv2, pub2, _ := crypto.GenerateKeyPair()

	s := NewState(&Config{Witnesses: 3, DefaultThresh: 3})
	acct := s.Account("alice")
	acct.Keys = []AccountKey{
		{PublicKey: pub1, Weight: 2},
		{PublicKey: pub2, Weight: 2},
	}

	tx := &Transaction{Sender: "alice", Kind: KindTransfer}
	digest := p.SHA256([]byte("tx body"))
	sig1, rec1, _ := p.Sign(priv1, digest)
	sig2, rec2, _ := p.Sign(priv2, digest)
	tx.Signatures = []TxSignature{
		{Sig: sig1, RecoveryID: rec1},
		{Sig: sig2, RecoveryID: rec2},
	}

	if err := VerifyTxSignature(p, s, tx, digest); err != nil {
		t.Fatalf("VerifyTxSignature: %v", err)
	}
}

func TestVerifyTxSignatureMultisigRejectsDuplicateSigner(t *testing.T) {
	p := crypto.Secp256k1Provider{}
	priv1, pub1, _ := crypto.GenerateKeyPair()

	s := NewState(&Config{Witnesses: 3, DefaultThresh: 3})
	acct := s.Account("alice")
	acct.Keys = []AccountKey{{PublicKey: pub1, Weight: 4}}

	tx := &Transaction{Sender: "alice", Kind: KindTransfer}
	digest := p.SHA256([]byte("tx body"))
	sig1, rec1, _ := p.Sign(priv1, digest)
	tx.Signatures = []TxSignature{
		{Sig: sig1, RecoveryID: rec1},
		{Sig: sig1, RecoveryID: rec1},
	}

	if err := VerifyTxSignature(p, s, tx, digest); err == nil {
		t.Fatal("expected rejection: duplicate signer in multisig set")
	}
}

func TestVerifyTxSignaturePermittedKindsRestriction(t *testing.T) {
	p := crypto.Secp256k1Provider{}
	priv, pub, _ := crypto.GenerateKeyPair()

	s := NewState(&Config{Witnesses: 3, DefaultThresh: 1})
	acct := s.Account("alice")
	acct.Keys = []AccountKey{{
		PublicKey:      pub,
		Weight:         1,
		PermittedKinds: map[TransactionKind]struct{}{KindVoteWitness: {}},
	}}

	tx := &Transaction{Sender: "alice", Kind: KindTransfer}
	digest := p.SHA256([]byte("tx body"))
	sig, _, _ := p.Sign(priv, digest)
	tx.Signatures = []TxSignature{{Sig: sig}}

	if err := VerifyTxSignature(p, s, tx, digest); err == nil {
		t.Fatal("expected rejection: key not permitted for this tx kind")
	}
}
