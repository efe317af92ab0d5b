package chain

import lru "github.com/hashicorp/golang-lru/v2"

// Config holds the tunables named in §5 that this package consults directly.
// The rest (block_time, consensus_rounds, sync thresholds, ...) belong to
// sibling packages and are threaded through their own config structs.
type Config struct {
	Witnesses     int
	MaxTxPerBlock int
	WitnessReward uint64
	BurnAccount   string
	EcoBlocks     uint64
	TxExpiration  int64 // ms
	DefaultThresh int
	Thresholds    map[TransactionKind]int
}

// Threshold returns the signature weight required for kind, per §4.4:
// thresholds[kind], else thresholds.default, else 1.
func (c *Config) Threshold(kind TransactionKind) int {
	if c.Thresholds != nil {
		if t, ok := c.Thresholds[kind]; ok {
			return t
		}
	}
	if c.DefaultThresh > 0 {
		return c.DefaultThresh
	}
	return 1
}

// RewardPool tracks the accrued distribution balance that the periodic
// decay-burn (§4.3 step 4) draws down.
type RewardPool struct {
	Dist float64
}

// State is the replicated state machine: persisted accounts plus the bounded
// in-memory collections from §3. All mutation during block execution goes
// through a Sandbox (sandbox.go); State itself is the committed view.
type State struct {
	Cfg *Config

	Accounts map[string]*Account
	Schedule WitnessSchedule

	RecentBlocks []*Block // oldest first; pushRecentBlock caps it at its initial capacity, direct appends do not
	RecentTxs    map[string]*Transaction

	RewardPool RewardPool

	sigCache *lru.Cache[string, []byte] // digest+sig -> recovered pubkey
}

// NewState builds an empty State ready to accept a genesis block.
func NewState(cfg *Config) *State {
	ringCap := 2 * cfg.Witnesses
	if ringCap < 32 {
		ringCap = 32
	}
	cache, _ := lru.New[string, []byte](4096)
	return &State{
		Cfg:          cfg,
		Accounts:     make(map[string]*Account),
		RecentTxs:    make(map[string]*Transaction),
		RecentBlocks: make([]*Block, 0, ringCap),
		sigCache:     cache,
	}
}

// Account returns the named account, creating a zero-balance stub if absent
// (§4.3 step 1's pre-pass rule, also usable ad hoc by kind executors).
func (s *State) Account(name string) *Account {
	if a, ok := s.Accounts[name]; ok {
		return a
	}
	a := &Account{
		Name:           name,
		Balances:       make(map[string]int64),
		VotedWitnesses: make(map[string]struct{}),
	}
	s.Accounts[name] = a
	return a
}

// pushRecentBlock appends b to the ring, evicting the oldest entry once full.
func (s *State) pushRecentBlock(b *Block) {
	ringCap := cap(s.RecentBlocks)
	if ringCap == 0 {
		ringCap = 2 * s.Cfg.Witnesses
	}
	s.RecentBlocks = append(s.RecentBlocks, b)
	if len(s.RecentBlocks) > ringCap {
		s.RecentBlocks = s.RecentBlocks[len(s.RecentBlocks)-ringCap:]
	}
}

// pruneExpiredTxs drops recent_txs entries that can no longer satisfy the
// ts + txExpirationTime >= latest.timestamp invariant against headTimestamp.
func (s *State) pruneExpiredTxs(headTimestamp int64) {
	for h, tx := range s.RecentTxs {
		if tx.Timestamp+s.Cfg.TxExpiration < headTimestamp {
			delete(s.RecentTxs, h)
		}
	}
}

// Head returns the most recently committed block, or nil before genesis.
func (s *State) Head() *Block {
	if len(s.RecentBlocks) == 0 {
		return nil
	}
	return s.RecentBlocks[len(s.RecentBlocks)-1]
}
