package witness

import (
	"testing"

	"sidechain.dev/core/chain"
)

func acct(name string, weight int64) *chain.Account {
	return &chain.Account{Name: name, TotalVoteWeight: weight, WitnessPublicKey: []byte{0x02, 0x01}}
}

func TestComputeDeterministic(t *testing.T) {
	accounts := map[string]*chain.Account{
		"alice": acct("alice", 100),
		"bob":   acct("bob", 80),
		"carol": acct("carol", 60),
	}
	seed := &chain.Block{Hash: "00000000000000000000000000000000000000000000000000000000abcdef"}

	s1 := Compute(accounts, seed, 3, 4)
	s2 := Compute(accounts, seed, 3, 4)
	if len(s1.Shuffle) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(s1.Shuffle))
	}
	for i := range s1.Shuffle {
		if s1.Shuffle[i] != s2.Shuffle[i] {
			t.Fatalf("shuffle not deterministic: %v vs %v", s1.Shuffle, s2.Shuffle)
		}
	}
}

func TestComputeTopNByStake(t *testing.T) {
	accounts := map[string]*chain.Account{
		"alice": acct("alice", 100),
		"bob":   acct("bob", 80),
		"carol": acct("carol", 60),
		"dave":  acct("dave", 1),
	}
	seed := &chain.Block{Hash: "abc123"}
	sched := Compute(accounts, seed, 2, 4)
	if len(sched.Shuffle) != 2 {
		t.Fatalf("expected committee size 2, got %d", len(sched.Shuffle))
	}
	for _, name := range sched.Shuffle {
		if name == "dave" || name == "carol" {
			t.Fatalf("low-stake account %q should not have made the committee", name)
		}
	}
}

func TestComputeFillsShortCommittee(t *testing.T) {
	accounts := map[string]*chain.Account{
		"alice": acct("alice", 100),
	}
	seed := &chain.Block{Hash: "deadbeef"}
	sched := Compute(accounts, seed, 3, 4)
	if len(sched.Shuffle) != 3 {
		t.Fatalf("expected padding to committee size 3, got %d", len(sched.Shuffle))
	}
	for _, name := range sched.Shuffle {
		if name != "alice" {
			t.Fatalf("expected only alice repeated, got %q", name)
		}
	}
}

func TestSlotForWraps(t *testing.T) {
	sched := chain.WitnessSchedule{Shuffle: []string{"a", "b", "c"}}
	if got := SlotFor(sched, 4); got != "b" {
		t.Fatalf("expected wraparound slot 'b', got %q", got)
	}
}
