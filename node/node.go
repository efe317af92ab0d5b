// Package node assembles the core's subsystems into a single context, per
// the Design Notes' "restructure as a single Node context that owns these
// subsystems" instruction (replacing the original's process-wide
// singletons for chain/cache/consensus/steem/config).
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"sidechain.dev/core/anchor"
	"sidechain.dev/core/chain"
	"sidechain.dev/core/consensus"
	"sidechain.dev/core/crypto"
	"sidechain.dev/core/mempool"
	"sidechain.dev/core/netstatus"
	"sidechain.dev/core/producer"
	"sidechain.dev/core/rebuild"
	"sidechain.dev/core/store"
	"sidechain.dev/core/syncctl"
	"sidechain.dev/core/validator"
	"sidechain.dev/core/witness"
)

// scheduleView adapts a chain.WitnessSchedule to validator.Scheduler /
// producer's Scheduler parameter.
type scheduleView struct{ sched chain.WitnessSchedule }

func (s scheduleView) ScheduledWitness(index uint64) string {
	if len(s.sched.Shuffle) == 0 {
		return ""
	}
	return witness.SlotFor(s.sched, int(index%uint64(len(s.sched.Shuffle))))
}

// Node owns every subsystem the core needs: the replicated state, mempool,
// anchor ingester, witness schedule, block producer, validation pipeline,
// consensus coordinator, sync status tracking, and durable store. It is
// constructed once per process and threaded explicitly to every entry
// point and background worker; nothing here is a package-level global.
type Node struct {
	Cfg      Config
	Log      *zap.Logger
	Provider crypto.Signer

	mu        sync.RWMutex
	State     *chain.State
	Schedule  chain.WitnessSchedule
	Mempool   *mempool.Mempool
	Anchor    *anchor.Ingester
	Store     *store.Store
	NetStatus *netstatus.Tracker
	Sync      *syncctl.Controller
	Consensus *consensus.Coordinator
	Producer  *producer.Producer
	Rebuild   *rebuild.Engine

	timingStrikeHeight uint64          // height the current strike run is at
	timingStrikes      int             // consecutive timing rejections at timingStrikeHeight
	lastValidationErr  chain.ErrorCode // reason of the most recent AcceptRemote rejection, "" once accepted
}

// Identity names the local witness and its signing key, kept out of Config
// since it is operator secret material, not a recognized knob.
type Identity = producer.Identity

// New constructs a Node wired per Config, with storage rooted at
// cfg.DataDir/kv.db and the given witness identity (empty Name means
// "not a witness", a valid non-producing observer node).
func New(cfg Config, identity Identity, provider crypto.Signer, log *zap.Logger, anchorEndpoints []anchor.Fetcher) (*Node, error) {
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("node: invalid config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	st := chain.NewState(cfg.ChainConfig())

	if len(anchorEndpoints) == 0 {
		// An observer node (or a test) with no configured upstream still
		// needs an ingester to exist; it simply reports every anchor
		// block as empty rather than ever producing/accepting a block
		// that claims anchor-sourced transactions.
		anchorEndpoints = []anchor.Fetcher{noopFetcher{}}
	}

	dbPath := cfg.DataDir
	if dbPath == "" {
		dbPath = "."
	}
	if err := os.MkdirAll(dbPath, 0o700); err != nil {
		return nil, fmt.Errorf("node: create data dir: %w", err)
	}
	db, err := store.Open(filepath.Join(dbPath, "kv.db"))
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	ing, err := anchor.New(anchor.Config{
		MaxPrefetch:             cfg.MaxBatchBlocks,
		SyncBatch:               cfg.MaxBatchBlocks,
		MaxRetryDelay:           cfg.MaxRetryDelay,
		CircuitBreakerThreshold: cfg.CircuitBreakerThreshold,
	}, anchorEndpoints, 0, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("node: new anchor ingester: %w", err)
	}

	mp := mempool.New()
	tracker := netstatus.New(cfg.HeightExpiry)
	syncCtl := syncctl.New(syncctl.Config{
		BlockTime:              cfg.BlockTime,
		SyncBlockTime:          cfg.SyncBlockTime,
		MaxDrift:               cfg.MaxDrift,
		HeightExpiry:           cfg.HeightExpiry,
		SteemBlockDelayThresh:  cfg.SteemBlockDelayThreshold,
		SyncEntryQuorumPercent: cfg.SyncEntryQuorumPercent,
		SyncExitQuorumPercent:  cfg.SyncExitQuorumPercent,
		MinWitnessesForQuorum:  cfg.MinWitnessesForQuorum,
		SyncGrace:              2 * time.Minute,
	}, tracker)

	coord := consensus.New(0, log)

	prod := producer.New(producer.Config{
		Witnesses:     cfg.Witnesses,
		MaxTxPerBlock: cfg.MaxTxPerBlock,
		BlockTime:     cfg.BlockTime,
		SyncBlockTime: cfg.SyncBlockTime,
		WitnessReward: cfg.WitnessReward,
		HashMode:      cfg.HashMode,
	}, identity, provider, mp, ing)

	rb := rebuild.New(rebuild.Config{
		MaxBatchBlocks:       cfg.MaxBatchBlocks,
		RebuildWriteInterval: cfg.RebuildWriteInterval,
		Trusted:              cfg.RebuildNoValidate,
		HashMode:             cfg.HashMode,
	}, db, log)

	return &Node{
		Cfg:       cfg,
		Log:       log,
		Provider:  provider,
		State:     st,
		Mempool:   mp,
		Anchor:    ing,
		Store:     db,
		NetStatus: tracker,
		Sync:      syncCtl,
		Consensus: coord,
		Producer:  prod,
		Rebuild:   rb,
	}, nil
}

// Close releases the node's durable resources.
func (n *Node) Close() error {
	return n.Store.Close()
}

// Head returns the current chain head, or nil before genesis.
func (n *Node) Head() *chain.Block {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.State.Head()
}

// RecomputeSchedule recomputes the witness shuffle for the round starting
// after seed, per §4.5.
func (n *Node) RecomputeSchedule(seed *chain.Block) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Schedule = witness.Compute(n.State.Accounts, seed, n.Cfg.Witnesses, n.Cfg.WitnessShufflePrecision)
}

// Bootstrap seeds a fresh chain with its genesis block and computes the
// first witness schedule from it. It is a no-op (returns false) if the
// node already has a head, so a restarted process never replaces its
// replicated history with a new genesis.
func (n *Node) Bootstrap(genesis *chain.Block) bool {
	n.mu.Lock()
	if n.State.Head() != nil {
		n.mu.Unlock()
		return false
	}
	n.State.RecentBlocks = append(n.State.RecentBlocks, genesis)
	n.mu.Unlock()

	n.RecomputeSchedule(genesis)
	return true
}

// scheduler returns the validator.Scheduler/producer.Scheduler view of the
// node's current witness schedule.
func (n *Node) scheduler() scheduleView {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return scheduleView{sched: n.Schedule}
}

// TryProduce attempts to build and commit the next block if the local
// witness is eligible for the current slot, per §4.1 and §4.8.
func (n *Node) TryProduce(ctx context.Context, now int64) (*chain.Block, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	head := n.State.Head()
	sched := scheduleView{sched: n.Schedule} // n.mu is already held; n.scheduler() would deadlock

	priority, ok := producer.Eligible(n.State, head, sched, n.Producer.Identity().Name, n.Cfg.Witnesses)
	if !ok {
		return nil, nil
	}

	nextIndex := uint64(0)
	if head != nil {
		nextIndex = head.Index + 1
	}
	syncMode := n.Sync.Mode() == syncctl.Syncing

	draft, _, err := n.Producer.Prepare(ctx, n.State, head, nextIndex, priority, "", now, syncMode)
	if err != nil {
		return nil, fmt.Errorf("node: prepare block: %w", err)
	}

	n.Consensus.Reset(nextIndex)
	commit, err := n.Consensus.ProposeLocal(draft)
	if err != nil {
		return nil, fmt.Errorf("node: propose local candidate: %w", err)
	}

	sb := chain.NewSandbox(n.State)
	if err := chain.Execute(sb, commit.Block, chain.ExecOptions{Revalidate: false}); err != nil {
		sb.Rollback()
		return nil, fmt.Errorf("node: commit local candidate: %w", err)
	}
	sb.Commit()
	n.State.RecentBlocks = append(n.State.RecentBlocks, commit.Block)
	return commit.Block, nil
}

// AcceptRemote validates and, on acceptance, commits a peer-proposed
// candidate block for the current height.
func (n *Node) AcceptRemote(ctx context.Context, candidate *chain.Block, anchorTxs []chain.Transaction) (validator.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	head := n.State.Head()
	now := nowMillis()
	in := validator.Input{
		State:                    n.State,
		Head:                     head,
		Candidate:                candidate,
		Scheduler:                scheduleView{sched: n.Schedule},
		Now:                      now,
		SyncMode:                 n.Sync.Mode() == syncctl.Syncing,
		Observer:                 n.Producer.Identity().Name == "",
		RecentlyExitedSyncMode:   n.Sync.InGraceWindow(now),
		ConsecutiveTimingStrikes: n.consecutiveTimingStrikes(candidate.Index),
		AnchorTxs:                anchorTxs,
		Provider:                 n.Provider,
		Cfg: validator.Config{
			Witnesses:     n.Cfg.Witnesses,
			MaxTxPerBlock: n.Cfg.MaxTxPerBlock,
			BlockTime:     n.Cfg.BlockTime,
			SyncBlockTime: n.Cfg.SyncBlockTime,
			MaxDrift:      n.Cfg.MaxDrift,
			HashMode:      n.Cfg.HashMode,
		},
	}

	n.Consensus.Reset(candidate.Index)
	commit, result, err := n.Consensus.ProposeRemote(in)
	n.recordValidationOutcome(candidate.Index, result, err)
	if err != nil || !result.Accepted {
		return result, err
	}
	if commit.Sandbox != nil {
		commit.Sandbox.Commit()
	}
	n.State.RecentBlocks = append(n.State.RecentBlocks, commit.Block)
	return result, nil
}

// consecutiveTimingStrikes returns how many consecutive timing rejections
// (§4.2 stage 5) have already been recorded for height, so far; it resets
// to 0 whenever AcceptRemote is asked about a different height than the
// last rejection, since the three-strike count is per-index (§9).
func (n *Node) consecutiveTimingStrikes(height uint64) int {
	if n.timingStrikeHeight != height {
		return 0
	}
	return n.timingStrikes
}

// recordValidationOutcome updates the per-height timing-strike counter and
// the last_validation_error diagnostic (§4.2/§7) after a Validate call.
func (n *Node) recordValidationOutcome(height uint64, result validator.Result, err error) {
	if err != nil {
		n.lastValidationErr = chain.ErrExecutionFailure
		return
	}
	if result.Accepted {
		n.lastValidationErr = ""
		n.timingStrikeHeight = 0
		n.timingStrikes = 0
		return
	}
	n.lastValidationErr = result.Reason
	if result.Reason == chain.ErrBlockTooEarly || result.Reason == chain.ErrBlockTooLate {
		if n.timingStrikeHeight != height {
			n.timingStrikeHeight = height
			n.timingStrikes = 0
		}
		n.timingStrikes++
	}
}

// LastValidationError returns the error_code of the most recent AcceptRemote
// rejection (§4.2/§7's last_validation_error diagnostic), or "" if the last
// candidate was accepted or none has been validated yet.
func (n *Node) LastValidationError() chain.ErrorCode {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastValidationErr
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// noopFetcher is the anchor.Fetcher used when no real upstream endpoint is
// configured: every block is reported empty, never non-existent, so the
// ingester's monotonic next_expected_anchor_block still advances.
type noopFetcher struct{}

func (noopFetcher) FetchBlock(_ context.Context, n uint64) (*anchor.AnchorBlock, error) {
	return &anchor.AnchorBlock{Number: n}, nil
}
