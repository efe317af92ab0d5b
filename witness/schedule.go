// Package witness computes the deterministic witness shuffle of §4.5: the
// committee for the next round of blocks, reselected at genesis and every
// `witnesses`-block boundary.
package witness

import (
	"encoding/hex"
	"math/big"
	"sort"

	"sidechain.dev/core/chain"
)

// Compute derives the schedule that takes effect immediately after seed.
// accounts is the full account set; only accounts with non-zero
// totalVoteWeight and a declared witness public key are eligible (§3, §4.5).
func Compute(accounts map[string]*chain.Account, seed *chain.Block, committeeSize, shufflePrecision int) chain.WitnessSchedule {
	eligible := make([]*chain.Account, 0, len(accounts))
	for _, a := range accounts {
		if a.TotalVoteWeight > 0 && len(a.WitnessPublicKey) > 0 {
			eligible = append(eligible, a)
		}
	}

	// Step 1: top-N by stake. Ties broken by name so the ordering feeding the
	// shuffle is itself deterministic before the name sort in step 2.
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].TotalVoteWeight != eligible[j].TotalVoteWeight {
			return eligible[i].TotalVoteWeight > eligible[j].TotalVoteWeight
		}
		return eligible[i].Name < eligible[j].Name
	})
	if len(eligible) > committeeSize {
		eligible = eligible[:committeeSize]
	}

	// Step 2: sort deterministically by name.
	names := make([]string, len(eligible))
	for i, a := range eligible {
		names[i] = a.Name
	}
	sort.Strings(names)

	// Step 3: derive rand from the seed hash's last shufflePrecision hex chars.
	rnd := seedRand(seed.Hash, shufflePrecision)

	// Step 4: Fisher-Yates-like draw, WITHOUT remixing rnd between draws.
	// This reproduces a known non-uniform quirk of the original shuffle and
	// is preserved deliberately: remixing rnd here would change which
	// witness occupies which slot for every already-produced chain, and the
	// skew it introduces is cosmetic, not a fairness defect worth a hard
	// fork to fix.
	remaining := append([]string(nil), names...)
	shuffle := make([]string, 0, len(remaining))
	for len(remaining) > 0 {
		idx := 0
		if len(remaining) > 1 {
			idx = int(new(big.Int).Mod(rnd, big.NewInt(int64(len(remaining)))).Int64())
		}
		shuffle = append(shuffle, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}

	// Step 5: fill by repeating from the head of the already-shuffled list.
	if baseLen := len(shuffle); baseLen > 0 {
		for len(shuffle) < committeeSize {
			shuffle = append(shuffle, shuffle[len(shuffle)%baseLen])
		}
	}

	return chain.WitnessSchedule{
		AnchorBlockRef: seed.Hash,
		Shuffle:        shuffle,
	}
}

// seedRand parses the last k hex characters of hash as a big-endian integer.
func seedRand(hash string, k int) *big.Int {
	if k <= 0 || k > len(hash) {
		k = len(hash)
	}
	tail := hash[len(hash)-k:]
	n := new(big.Int)
	if _, ok := n.SetString(tail, 16); !ok {
		// Fallback for a non-hex tail (shouldn't occur for SHA-256 hex
		// hashes): hash the raw bytes instead of panicking mid-schedule.
		raw, _ := hex.DecodeString(hash)
		n.SetBytes(raw)
	}
	return n
}

// SlotFor returns the witness scheduled for round-relative slot i
// (0-indexed), i.e. shuffle[i mod len(shuffle)].
func SlotFor(sched chain.WitnessSchedule, i int) string {
	if len(sched.Shuffle) == 0 {
		return ""
	}
	return sched.Shuffle[i%len(sched.Shuffle)]
}
