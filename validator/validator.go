// Package validator runs incoming candidate blocks through §4.2's
// eight-stage short-circuit pipeline before they may commit.
package validator

import (
	"encoding/hex"
	"time"

	"sidechain.dev/core/anchor"
	"sidechain.dev/core/chain"
	"sidechain.dev/core/crypto"
)

// Config holds the timing/bound tunables §4.2 consults.
type Config struct {
	Witnesses     int
	MaxTxPerBlock int
	BlockTime     time.Duration
	SyncBlockTime time.Duration
	MaxDrift      time.Duration
	HashMode      chain.HashMode
}

func (c Config) blockTime(syncMode bool) time.Duration {
	if syncMode && c.SyncBlockTime > 0 {
		return c.SyncBlockTime
	}
	return c.BlockTime
}

// Scheduler answers which witness is the scheduled primary for a given block
// index, per the current schedule (§4.5's shuffle, re-sliced by index).
type Scheduler interface {
	ScheduledWitness(index uint64) string
}

// Input bundles everything one Validate call needs. Candidate is untouched;
// State is consulted (and, for stage 8, sandboxed) but never mutated unless
// the caller commits the returned Sandbox.
type Input struct {
	State     *chain.State
	Head      *chain.Block
	Candidate *chain.Block
	Scheduler Scheduler

	Now        int64 // ms wall clock
	SyncMode   bool
	Recovering bool
	Observer   bool

	TrustedRebuild bool                // skip stage 6 anchor consistency
	AnchorTxs      []chain.Transaction // fetched anchor-block txs for Candidate.AnchorBlockNum, nil if TrustedRebuild

	RecentlyExitedSyncMode   bool // within the first 10 blocks after exiting sync mode
	ConsecutiveTimingStrikes int  // timing rejections already recorded at this index

	Provider crypto.Provider
	Cfg      Config
}

// Result reports the pipeline's outcome. Reason is set whenever Accepted is
// false, or when a timing rejection was force-accepted (ForcedAccept).
type Result struct {
	Accepted     bool
	ForcedAccept bool
	Reason       chain.ErrorCode
	Distributed  uint64
	Burned       uint64
	Sandbox      *chain.Sandbox // non-nil and uncommitted iff Accepted
}

// Validate runs the eight stages in order, short-circuiting on the first
// failure (stage 5's three-strike rule aside, which force-accepts instead of
// rejecting on its third consecutive trigger at the same index).
func Validate(in Input) (Result, error) {
	if err := stageStructural(in.Candidate); err != nil {
		return reject(chain.CodeOf(err)), nil
	}
	if err := stageLinkage(in.Head, in.Candidate); err != nil {
		return reject(chain.CodeOf(err)), nil
	}
	if len(in.Candidate.Txs) > in.Cfg.MaxTxPerBlock {
		return reject(chain.ErrTooManyTx), nil
	}

	priority := minerPriority(in.State, in.Candidate, in.Scheduler, in.Cfg.Witnesses)
	if priority == 0 {
		return reject(chain.ErrUnauthorizedMiner), nil
	}

	forcedAccept := false
	if !(in.Recovering || in.SyncMode || in.Observer) {
		ok, forced, reason := timingCheck(in, priority)
		if !ok && !forced {
			return reject(reason), nil
		}
		forcedAccept = forced
	}

	if !in.TrustedRebuild {
		if err := anchor.ValidateBlockAgainstAnchor(in.AnchorTxs, in.Candidate.Txs, in.Candidate.AnchorBlockNum); err != nil {
			return reject(chain.ErrAnchorMismatch), nil
		}
	}

	recomputed := chain.BlockHash(in.Provider, in.Candidate, in.Cfg.HashMode)
	if recomputed != in.Candidate.Hash {
		return reject(chain.ErrInvalidHash), nil
	}
	digestBytes, err := hex.DecodeString(recomputed)
	if err != nil || len(digestBytes) != 32 {
		return reject(chain.ErrInvalidHash), nil
	}
	var digest [32]byte
	copy(digest[:], digestBytes)
	if err := chain.VerifyBlockSignature(in.Provider, in.State, in.Candidate, digest); err != nil {
		return reject(chain.ErrInvalidSignature), nil
	}

	sb := chain.NewSandbox(in.State)
	if err := chain.Execute(sb, in.Candidate, chain.ExecOptions{Revalidate: true}); err != nil {
		sb.Rollback()
		if fatal, isFatal := err.(*chain.FatalExecutionError); isFatal {
			return Result{}, fatal
		}
		return reject(chain.ErrInvalidTransaction), nil
	}
	dist, burn := sb.Totals()
	if dist != in.Candidate.Distributed || burn != in.Candidate.Burned {
		sb.Rollback()
		return reject(chain.ErrExecutionFailure), nil
	}

	return Result{Accepted: true, ForcedAccept: forcedAccept, Distributed: dist, Burned: burn, Sandbox: sb}, nil
}

func reject(reason chain.ErrorCode) Result {
	return Result{Accepted: false, Reason: reason}
}

func stageStructural(b *chain.Block) error {
	if b == nil || b.Witness == "" || b.Hash == "" {
		return &chain.ChainError{Code: chain.ErrInvalidStructure}
	}
	return nil
}

func stageLinkage(head, b *chain.Block) error {
	if head == nil {
		return nil // genesis: no linkage check
	}
	if b.Index != head.Index+1 {
		return &chain.ChainError{Code: chain.ErrInvalidIndex}
	}
	if b.PrevHash != head.Hash {
		return &chain.ChainError{Code: chain.ErrInvalidPrevHash}
	}
	if b.AnchorBlockNum != head.AnchorBlockNum+1 {
		return &chain.ChainError{Code: chain.ErrInvalidAnchorLink}
	}
	return nil
}
