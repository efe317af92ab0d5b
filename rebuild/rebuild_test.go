package rebuild

import (
	"testing"

	"sidechain.dev/core/chain"
)

type fakeSource struct {
	blocks map[uint64]*chain.Block
}

func (f fakeSource) BlockAt(height uint64) (*chain.Block, bool, error) {
	b, ok := f.blocks[height]
	return b, ok, nil
}

type fakeCheckpointer struct{ flushes int }

func (f *fakeCheckpointer) WriteToDisk(force bool) error {
	f.flushes++
	return nil
}

func TestRunReplaysUntilSourceExhausted(t *testing.T) {
	cfg := &chain.Config{Witnesses: 1, MaxTxPerBlock: 10}
	s := chain.NewState(cfg)

	b0 := &chain.Block{Index: 0, PrevHash: "0", Witness: "w1"}
	b1 := &chain.Block{Index: 1, PrevHash: "x", Witness: "w1"}
	src := fakeSource{blocks: map[uint64]*chain.Block{0: b0, 1: b1}}

	ck := &fakeCheckpointer{}
	eng := New(Config{Trusted: true, RebuildWriteInterval: 1}, ck, nil)

	last, err := eng.Run(s, src, nil, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if last != 1 {
		t.Fatalf("expected resumable height 1, got %d", last)
	}
	if ck.flushes == 0 {
		t.Fatal("expected at least one checkpoint flush")
	}
}

func TestRunStopsAtMissingBlock(t *testing.T) {
	cfg := &chain.Config{Witnesses: 1, MaxTxPerBlock: 10}
	s := chain.NewState(cfg)
	b0 := &chain.Block{Index: 0, PrevHash: "0", Witness: "w1"}
	src := fakeSource{blocks: map[uint64]*chain.Block{0: b0}}

	eng := New(Config{Trusted: true}, nil, nil)
	last, err := eng.Run(s, src, nil, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if last != 0 {
		t.Fatalf("expected resumable height 0, got %d", last)
	}
}

func TestRunRejectsTotalsMismatchInTrustedMode(t *testing.T) {
	cfg := &chain.Config{Witnesses: 1, MaxTxPerBlock: 10, WitnessReward: 5}
	s := chain.NewState(cfg)
	bad := &chain.Block{Index: 0, PrevHash: "0", Witness: "w1", Distributed: 999}
	src := fakeSource{blocks: map[uint64]*chain.Block{0: bad}}

	eng := New(Config{Trusted: true}, nil, nil)
	last, err := eng.Run(s, src, nil, 0)
	if err == nil {
		t.Fatal("expected totals mismatch error")
	}
	if last != 0 {
		t.Fatalf("expected resumable height 0 (nothing applied), got %d", last)
	}
}
