// Package producer assembles and signs the next candidate block when the
// local witness holds (or has fallen into) an eligible slot, per §4.1.
package producer

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"sidechain.dev/core/anchor"
	"sidechain.dev/core/chain"
	"sidechain.dev/core/crypto"
	"sidechain.dev/core/mempool"
	"sidechain.dev/core/validator"
)

// Config mirrors the subset of §6's configuration table the producer reads
// directly.
type Config struct {
	Witnesses     int
	MaxTxPerBlock int
	BlockTime     time.Duration
	SyncBlockTime time.Duration
	WitnessReward uint64
	HashMode      chain.HashMode
}

func (c Config) blockTime(syncMode bool) time.Duration {
	if syncMode && c.SyncBlockTime > 0 {
		return c.SyncBlockTime
	}
	return c.BlockTime
}

// Identity is the local witness's name and signing key.
type Identity struct {
	Name       string
	PrivateKey []byte
}

// Producer holds the dependencies needed to prepare, execute, and sign a
// candidate block for the local witness.
type Producer struct {
	cfg      Config
	identity Identity
	provider crypto.Signer
	mempool  *mempool.Mempool
	ingester *anchor.Ingester
}

func New(cfg Config, identity Identity, provider crypto.Signer, mp *mempool.Mempool, ingester *anchor.Ingester) *Producer {
	return &Producer{cfg: cfg, identity: identity, provider: provider, mempool: mp, ingester: ingester}
}

// Identity returns the witness identity this producer signs blocks with.
func (p *Producer) Identity() Identity { return p.identity }

// Eligible reports whether the local witness may produce the next block,
// and at what priority, per §4.1's eligibility rule (reuses the validator
// package's minerPriority-equivalent logic via validator.Validate's
// dependency surface would be circular, so eligibility here is computed the
// same way stage 4 computes it, against the producer's own identity).
func Eligible(s *chain.State, head *chain.Block, sched validator.Scheduler, name string, witnesses int) (priority int, ok bool) {
	nextIndex := uint64(0)
	if head != nil {
		nextIndex = head.Index + 1
	}
	if sched != nil && sched.ScheduledWitness(nextIndex) == name {
		return 1, true
	}
	maxBack := 2 * witnesses
	for i := 1; i <= maxBack; i++ {
		wantIndex := int64(nextIndex) - int64(i)
		if wantIndex < 0 {
			break
		}
		for _, b := range s.RecentBlocks {
			if b.Index == uint64(wantIndex) && b.Witness == name {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// TargetTimestamp computes §4.1 step 3's target: max(now+buffer,
// previous.timestamp + priority*block_time + buffer), with a larger buffer
// in sync mode and for early blocks (index <= 10).
func (p *Producer) TargetTimestamp(now int64, head *chain.Block, priority int, syncMode bool, nextIndex uint64) int64 {
	blockTime := p.cfg.blockTime(syncMode).Milliseconds()
	buffer := int64(200)
	if syncMode {
		buffer = 500
	}
	if nextIndex <= 10 {
		buffer += 300
	}
	prevTarget := int64(0)
	if head != nil {
		prevTarget = head.Timestamp + int64(priority)*blockTime + buffer
	}
	nowTarget := now + buffer
	if nowTarget > prevTarget {
		return nowTarget
	}
	return prevTarget
}

// PerformanceGate implements §4.1's skip rule: if the wall-clock remaining
// to the slot deadline is below block_time/3 (block_time/20 in sync mode),
// the slot should be skipped rather than risk a late block.
func (p *Producer) PerformanceGate(now, slotDeadline int64, syncMode bool) (skip bool) {
	remaining := slotDeadline - now
	blockTime := p.cfg.blockTime(syncMode).Milliseconds()
	threshold := blockTime / 3
	if syncMode {
		threshold = blockTime / 20
	}
	return remaining < threshold
}

// Prepare builds, executes, and signs a draft block for nextIndex. It removes
// the admitted txs from the mempool before executing the draft; on any later
// failure it returns their hashes with a non-nil error describing why the
// draft was dropped, and does not put them back in the mempool.
func (p *Producer) Prepare(ctx context.Context, s *chain.State, head *chain.Block, nextIndex uint64, priority int, missedBy string, now int64, syncMode bool) (*chain.Block, []string, error) {
	nextAnchor := uint64(0)
	if head != nil {
		nextAnchor = head.AnchorBlockNum + 1
	}

	var anchorTxs []chain.Transaction
	if p.ingester != nil {
		var err error
		anchorTxs, err = p.ingester.ProcessBlock(ctx, nextAnchor)
		if err != nil {
			return nil, nil, fmt.Errorf("producer: fetch anchor block %d: %w", nextAnchor, err)
		}
	}

	snapshot := p.mempool.Snapshot()
	admitted := mempool.Admit(snapshot, p.cfg.MaxTxPerBlock)
	admittedHashes := make([]string, len(admitted))
	for i, tx := range admitted {
		admittedHashes[i] = tx.Hash
	}
	p.mempool.Remove(admittedHashes...)

	txs := make([]chain.Transaction, 0, len(anchorTxs)+len(admitted))
	txs = append(txs, anchorTxs...)
	txs = append(txs, admitted...)

	draft := &chain.Block{
		Index:          nextIndex,
		AnchorBlockNum: nextAnchor,
		Timestamp:      p.TargetTimestamp(now, head, priority, syncMode, nextIndex),
		Txs:            txs,
		Witness:        p.identity.Name,
		MissedBy:       missedBy,
	}
	if head != nil {
		draft.PrevHash = head.Hash
	} else {
		draft.PrevHash = "0"
	}
	if p.cfg.WitnessReward > 0 {
		draft.Distributed = p.cfg.WitnessReward
	}

	sb := chain.NewSandbox(s)
	if err := chain.Execute(sb, draft, chain.ExecOptions{Revalidate: true}); err != nil {
		sb.Rollback()
		return nil, admittedHashes, fmt.Errorf("producer: execute draft: %w", err)
	}
	dist, burn := sb.Totals()
	draft.Distributed, draft.Burned = dist, burn
	sb.Rollback() // the producer never commits directly; Node.TryProduce re-executes and commits once consensus accepts the block

	draft.Hash = chain.BlockHash(p.provider, draft, p.cfg.HashMode)
	digestBytes, err := hex.DecodeString(draft.Hash)
	if err != nil || len(digestBytes) != 32 {
		return nil, admittedHashes, fmt.Errorf("producer: malformed computed hash")
	}
	var digest [32]byte
	copy(digest[:], digestBytes)
	sig, _, err := p.provider.Sign(p.identity.PrivateKey, digest)
	if err != nil {
		return nil, admittedHashes, fmt.Errorf("producer: sign: %w", err)
	}
	draft.Signature = crypto.EncodeBase58(sig)

	return draft, admittedHashes, nil
}
