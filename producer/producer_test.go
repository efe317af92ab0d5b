package producer

import (
	"context"
	"testing"
	"time"

	"sidechain.dev/core/chain"
	"sidechain.dev/core/crypto"
	"sidechain.dev/core/mempool"
)

type fakeScheduler struct{ primary string }

func (f fakeScheduler) ScheduledWitness(uint64) string { return f.primary }

func TestEligiblePrimaryScheduled(t *testing.T) {
	s := chain.NewState(&chain.Config{Witnesses: 3})
	head := &chain.Block{Index: 5, Witness: "a"}
	priority, ok := Eligible(s, head, fakeScheduler{primary: "w1"}, "w1", 3)
	if !ok || priority != 1 {
		t.Fatalf("expected eligible at priority 1, got ok=%v priority=%d", ok, priority)
	}
}

func TestEligibleBackupFromRecentProduction(t *testing.T) {
	s := chain.NewState(&chain.Config{Witnesses: 3})
	head := &chain.Block{Index: 5, Witness: "a"}
	s.RecentBlocks = append(s.RecentBlocks, &chain.Block{Index: 4, Witness: "w2"})
	priority, ok := Eligible(s, head, fakeScheduler{primary: "w1"}, "w2", 3)
	if !ok || priority != 2 {
		t.Fatalf("expected backup eligibility at priority 2, got ok=%v priority=%d", ok, priority)
	}
}

func TestEligibleRejectsUnauthorized(t *testing.T) {
	s := chain.NewState(&chain.Config{Witnesses: 3})
	head := &chain.Block{Index: 5, Witness: "a"}
	_, ok := Eligible(s, head, fakeScheduler{primary: "w1"}, "mallory", 3)
	if ok {
		t.Fatal("expected mallory to be ineligible")
	}
}

func TestTargetTimestampUsesLargerBufferDuringSync(t *testing.T) {
	// Same block time in both modes, so the targets differ only by the buffer.
	p := New(Config{BlockTime: time.Second, SyncBlockTime: time.Second}, Identity{}, crypto.Secp256k1Provider{}, mempool.New(), nil)
	head := &chain.Block{Timestamp: 1000}
	normal := p.TargetTimestamp(1000, head, 1, false, 20)
	sync := p.TargetTimestamp(1000, head, 1, true, 20)
	if sync <= normal {
		t.Fatalf("expected sync-mode target (%d) to carry a larger buffer than normal (%d)", sync, normal)
	}
}

func TestTargetTimestampAddsEarlyBlockBuffer(t *testing.T) {
	p := New(Config{BlockTime: time.Second}, Identity{}, crypto.Secp256k1Provider{}, mempool.New(), nil)
	head := &chain.Block{Timestamp: 1000}
	early := p.TargetTimestamp(1000, head, 1, false, 3)
	late := p.TargetTimestamp(1000, head, 1, false, 500)
	if early <= late {
		t.Fatalf("expected early-block target (%d) to exceed steady-state target (%d)", early, late)
	}
}

func TestPerformanceGateSkipsWhenDeadlineTooClose(t *testing.T) {
	p := New(Config{BlockTime: time.Second}, Identity{}, crypto.Secp256k1Provider{}, mempool.New(), nil)
	if !p.PerformanceGate(990, 1000, false) {
		t.Fatal("expected skip when remaining time is below block_time/3")
	}
	if p.PerformanceGate(0, 1000, false) {
		t.Fatal("expected no skip with comfortable remaining time")
	}
}

func TestPrepareBuildsSignedDraftAndDrainsMempool(t *testing.T) {
	p0 := crypto.Secp256k1Provider{}
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	cfg := &chain.Config{Witnesses: 1, MaxTxPerBlock: 10}
	s := chain.NewState(cfg)
	acct := s.Account("w1")
	acct.WitnessPublicKey = pub

	head := &chain.Block{Index: 0, AnchorBlockNum: 4, Hash: "seed", Timestamp: 1000, Witness: "w1"}
	s.RecentBlocks = append(s.RecentBlocks, head)

	mp := mempool.New()
	prod := New(Config{Witnesses: 1, MaxTxPerBlock: 10, BlockTime: time.Second, HashMode: chain.HashModeStableJSON},
		Identity{Name: "w1", PrivateKey: priv}, p0, mp, nil)

	draft, drained, err := prod.Prepare(context.Background(), s, head, 1, 1, "", 2000, false)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if draft.Hash == "" || draft.Signature == "" {
		t.Fatal("expected draft to carry hash and signature")
	}
	if draft.PrevHash != head.Hash {
		t.Fatalf("expected PrevHash %q, got %q", head.Hash, draft.PrevHash)
	}
	if len(drained) != 0 {
		t.Fatalf("expected no admitted txs from an empty mempool, got %d", len(drained))
	}
}
