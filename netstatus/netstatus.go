// Package netstatus tracks peer-reported sync status and computes quorum
// over it, per §4.7.
package netstatus

import (
	"sync"
	"time"
)

// Status is one peer's self-reported sync state, per §4.7's broadcast
// record shape.
type Status struct {
	NodeID       string
	BehindBlocks uint64
	AnchorBlock  uint64
	IsSyncing    bool
	HeadBlockID  string
	Timestamp    int64 // ms since epoch, peer-local clock
}

type entry struct {
	status     Status
	receivedAt int64 // ms, local clock at receipt
	isWitness  bool
}

// Tracker holds the most recent status report from each known peer and
// prunes/ignores them by age.
type Tracker struct {
	mu           sync.Mutex
	heightExpiry time.Duration
	peers        map[string]*entry
}

func New(heightExpiry time.Duration) *Tracker {
	return &Tracker{heightExpiry: heightExpiry, peers: make(map[string]*entry)}
}

// Report records a peer's broadcast status. isWitness marks whether the
// peer is currently an active witness, used to weight quorum computation.
func (t *Tracker) Report(s Status, isWitness bool, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[s.NodeID] = &entry{status: s, receivedAt: now, isWitness: isWitness}
}

// Prune drops statuses older than 4*height_expiry, per §4.7.
func (t *Tracker) Prune(now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := now - 4*t.heightExpiry.Milliseconds()
	for id, e := range t.peers {
		if e.receivedAt < cutoff {
			delete(t.peers, id)
		}
	}
}

// relevant returns the non-stale peer entries as of now, preferring
// witness-only entries when enough witnesses are reporting (§4.7: "quorum
// of relevant peers (preferring active witnesses when enough are
// reporting)").
func (t *Tracker) relevant(now int64, minWitnessesForQuorum int) []*entry {
	cutoff := now - t.heightExpiry.Milliseconds()
	var all, witnesses []*entry
	for _, e := range t.peers {
		if e.receivedAt < cutoff {
			continue
		}
		all = append(all, e)
		if e.isWitness {
			witnesses = append(witnesses, e)
		}
	}
	if len(witnesses) >= minWitnessesForQuorum {
		return witnesses
	}
	return all
}

// QuorumSyncing reports whether a quorumPercent share of relevant peers
// (local node always counted as one additional, non-syncing vote, per
// §4.7: "Local node is always counted") indicate either is_syncing or
// behind_blocks above blockDelayThreshold.
func (t *Tracker) QuorumSyncing(now int64, minWitnessesForQuorum int, quorumPercent float64, blockDelayThreshold uint64) bool {
	t.mu.Lock()
	relevant := t.relevant(now, minWitnessesForQuorum)
	t.mu.Unlock()

	total := len(relevant) + 1 // local node counted
	syncingVotes := 0
	for _, e := range relevant {
		if e.status.IsSyncing || e.status.BehindBlocks > blockDelayThreshold {
			syncingVotes++
		}
	}
	if total == 0 {
		return false
	}
	return float64(syncingVotes)/float64(total) >= quorumPercent
}

// QuorumCaughtUp reports whether a quorumPercent share of relevant peers
// report out-of-sync-mode or below-threshold, used for the Syncing->Normal
// exit condition.
func (t *Tracker) QuorumCaughtUp(now int64, minWitnessesForQuorum int, quorumPercent float64, blockDelayThreshold uint64) bool {
	t.mu.Lock()
	relevant := t.relevant(now, minWitnessesForQuorum)
	t.mu.Unlock()

	if len(relevant) == 0 {
		return true
	}
	caughtUp := 0
	for _, e := range relevant {
		if !e.status.IsSyncing && e.status.BehindBlocks <= blockDelayThreshold {
			caughtUp++
		}
	}
	return float64(caughtUp)/float64(len(relevant)) >= quorumPercent
}

// ReportingCount returns the number of non-stale peer reports, for the
// "no peers are reporting" unilateral-entry check.
func (t *Tracker) ReportingCount(now int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.relevant(now, 0))
}
