package consensus

import (
	"encoding/hex"
	"testing"
	"time"

	"sidechain.dev/core/chain"
	"sidechain.dev/core/crypto"
	"sidechain.dev/core/validator"
)

type fakeScheduler struct{ primary string }

func (f fakeScheduler) ScheduledWitness(uint64) string { return f.primary }

func TestProposeLocalCommitsAtRoundZero(t *testing.T) {
	c := New(1, nil)
	block := &chain.Block{Index: 1, Witness: "w1"}
	commit, err := c.ProposeLocal(block)
	if err != nil {
		t.Fatalf("ProposeLocal: %v", err)
	}
	if commit.Block != block {
		t.Fatal("expected commit to wrap the proposed block")
	}
	if len(c.Candidates()) != 1 {
		t.Fatalf("expected exactly one tracked candidate, got %d", len(c.Candidates()))
	}
}

func TestProposeLocalRejectsSecondCandidateSameHeight(t *testing.T) {
	c := New(1, nil)
	if _, err := c.ProposeLocal(&chain.Block{Index: 1, Witness: "w1"}); err != nil {
		t.Fatalf("first propose: %v", err)
	}
	if _, err := c.ProposeLocal(&chain.Block{Index: 1, Witness: "w2"}); err == nil {
		t.Fatal("expected second local proposal at the same height to be rejected")
	}
}

func TestProposeLocalRejectsWrongHeight(t *testing.T) {
	c := New(5, nil)
	if _, err := c.ProposeLocal(&chain.Block{Index: 1}); err == nil {
		t.Fatal("expected height mismatch to be rejected")
	}
}

func TestResetClearsCandidatesAndAdvancesHeight(t *testing.T) {
	c := New(1, nil)
	if _, err := c.ProposeLocal(&chain.Block{Index: 1, Witness: "w1"}); err != nil {
		t.Fatalf("ProposeLocal: %v", err)
	}
	c.Reset(2)
	if c.Height() != 2 {
		t.Fatalf("expected height 2, got %d", c.Height())
	}
	if len(c.Candidates()) != 0 {
		t.Fatal("expected candidates cleared after reset")
	}
	if _, err := c.ProposeLocal(&chain.Block{Index: 2, Witness: "w1"}); err != nil {
		t.Fatalf("ProposeLocal after reset: %v", err)
	}
}

func TestProposeRemoteCommitsAcceptedCandidate(t *testing.T) {
	p := crypto.Secp256k1Provider{}
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	cfg := &chain.Config{Witnesses: 1, MaxTxPerBlock: 10}
	s := chain.NewState(cfg)
	acct := s.Account("w1")
	acct.WitnessPublicKey = pub

	head := &chain.Block{Index: 0, AnchorBlockNum: 4, PrevHash: "0", Timestamp: 1000, Witness: "w1"}
	head.Hash = chain.BlockHash(p, head, chain.HashModeStableJSON)
	s.RecentBlocks = append(s.RecentBlocks, head)

	candidate := &chain.Block{
		Index:          1,
		AnchorBlockNum: 5,
		PrevHash:       head.Hash,
		Timestamp:      head.Timestamp + int64(time.Second/time.Millisecond),
		Witness:        "w1",
	}
	candidate.Hash = chain.BlockHash(p, candidate, chain.HashModeStableJSON)
	hb, err := hex.DecodeString(candidate.Hash)
	if err != nil {
		t.Fatalf("hex decode: %v", err)
	}
	var digest [32]byte
	copy(digest[:], hb)
	sig, _, err := p.Sign(priv, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	candidate.Signature = crypto.EncodeBase58(sig)

	in := validator.Input{
		State:     s,
		Head:      head,
		Candidate: candidate,
		Scheduler: fakeScheduler{primary: "w1"},
		Now:       candidate.Timestamp,
		Provider:  p,
		Cfg: validator.Config{
			Witnesses:     1,
			MaxTxPerBlock: 10,
			BlockTime:     time.Second,
			MaxDrift:      50 * time.Millisecond,
			HashMode:      chain.HashModeStableJSON,
		},
		TrustedRebuild: true,
	}

	c := New(1, nil)
	commit, result, err := c.ProposeRemote(in)
	if err != nil {
		t.Fatalf("ProposeRemote: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("expected acceptance, got reason %s", result.Reason)
	}
	if commit == nil || commit.Block != candidate {
		t.Fatal("expected a commit wrapping the accepted candidate")
	}
}
