// Package mempool holds pending transactions awaiting inclusion in a block:
// deduplicated by hash, ordered by timestamp with insertion-order tiebreak,
// pruned on inclusion and on expiry (§2, §5).
package mempool

import (
	"sync"

	"sidechain.dev/core/chain"
)

// Mempool is a single-writer queue with snapshot reads: producers take a
// Snapshot at prepare time, then Remove the admitted subset in one atomic
// step so a concurrent Add cannot be lost between the two (§5's "Mempool
// concurrency" rule).
type Mempool struct {
	mu       sync.Mutex
	byHash   map[string]*entry
	sequence uint64
}

type entry struct {
	tx  chain.Transaction
	seq uint64 // insertion order, breaks ts ties
}

// New returns an empty mempool.
func New() *Mempool {
	return &Mempool{byHash: make(map[string]*entry)}
}

// Add inserts tx if its hash is not already present. Returns false if the tx
// was a duplicate (silently ignored, per §2's "deduplicated" contract).
func (m *Mempool) Add(tx chain.Transaction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byHash[tx.Hash]; exists {
		return false
	}
	m.sequence++
	m.byHash[tx.Hash] = &entry{tx: tx, seq: m.sequence}
	return true
}

// Remove deletes the given tx hashes, used after a producer admits them into
// a block or after a block is committed that already contained them.
func (m *Mempool) Remove(hashes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hashes {
		delete(m.byHash, h)
	}
}

// PruneExpired removes every tx whose ts + txExpiration is before
// headTimestamp, per §3's tx invariant.
func (m *Mempool) PruneExpired(headTimestamp, txExpiration int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, e := range m.byHash {
		if e.tx.Timestamp+txExpiration < headTimestamp {
			delete(m.byHash, h)
		}
	}
}

// Len reports the current pending count.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHash)
}

// Snapshot returns every pending transaction ordered by ts ascending, ties
// broken by insertion order (§5's ordering guarantee).
func (m *Mempool) Snapshot() []chain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*entry, 0, len(m.byHash))
	for _, e := range m.byHash {
		entries = append(entries, e)
	}
	sortEntries(entries)
	out := make([]chain.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.tx
	}
	return out
}

func sortEntries(entries []*entry) {
	// Insertion sort is fine here: mempools stay small (bounded by
	// maxTxPerBlock-scale traffic between blocks), and a stable comparator
	// keeping both ts and seq in one pass avoids importing sort for a
	// two-key compare.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && less(entries[j], entries[j-1]); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func less(a, b *entry) bool {
	if a.tx.Timestamp != b.tx.Timestamp {
		return a.tx.Timestamp < b.tx.Timestamp
	}
	return a.seq < b.seq
}

// Admit selects transactions from a Snapshot for inclusion in the next
// block, applying §4.1 step 2's rules: cumulative count below maxTxPerBlock,
// at most one per distinct sender, no duplicate hashes (already guaranteed
// by Add, kept here as a defensive check against a stale snapshot). Returns
// the admitted subset in order; the caller is responsible for calling
// Remove with their hashes once the block is finalized.
func Admit(snapshot []chain.Transaction, maxTxPerBlock int) []chain.Transaction {
	seenSender := make(map[string]struct{}, maxTxPerBlock)
	seenHash := make(map[string]struct{}, maxTxPerBlock)
	admitted := make([]chain.Transaction, 0, maxTxPerBlock)
	for _, tx := range snapshot {
		if len(admitted) >= maxTxPerBlock {
			break
		}
		if _, dup := seenSender[tx.Sender]; dup {
			continue
		}
		if _, dup := seenHash[tx.Hash]; dup {
			continue
		}
		seenSender[tx.Sender] = struct{}{}
		seenHash[tx.Hash] = struct{}{}
		admitted = append(admitted, tx)
	}
	return admitted
}
