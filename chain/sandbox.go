package chain

// Sandbox is a per-block mutation scope over State. §4.3 execution writes
// exclusively through a Sandbox; on any failure Rollback restores State to
// exactly its pre-block contents and no partial mutation is observable.
// Unlike a full snapshot-and-restore of every account, the sandbox only
// copies the accounts it actually touches, since typical blocks mutate a
// small fraction of the account set.
type Sandbox struct {
	s        *State
	snapshot map[string]*Account // name -> pre-mutation copy, nil if account did not exist
	created  map[string]struct{} // names newly created by Account() within this sandbox

	rewardPool RewardPool // State.RewardPool as it was when the sandbox opened

	distributed uint64
	burned      uint64
}

// NewSandbox opens a sandbox over s. Only one sandbox may be open on a given
// State at a time, per §5's "single-owner per block" rule.
func NewSandbox(s *State) *Sandbox {
	return &Sandbox{
		s:          s,
		snapshot:   make(map[string]*Account),
		created:    make(map[string]struct{}),
		rewardPool: s.RewardPool,
	}
}

// Account returns the mutable account for name, snapshotting its prior
// contents the first time this sandbox touches it. Creates a zero-balance
// stub if the account does not yet exist, per §4.3 step 1.
func (sb *Sandbox) Account(name string) *Account {
	if _, touched := sb.snapshot[name]; !touched {
		if existing, ok := sb.s.Accounts[name]; ok {
			sb.snapshot[name] = cloneAccount(existing)
		} else {
			sb.snapshot[name] = nil
			sb.created[name] = struct{}{}
		}
	}
	return sb.s.Account(name)
}

// AddDistributed/AddBurned accumulate the running totals §4.3 requires the
// executor pipeline to report back for comparison against a candidate
// block's claimed distributed/burned fields (§4.2 stage 8).
func (sb *Sandbox) AddDistributed(amount uint64) { sb.distributed += amount }
func (sb *Sandbox) AddBurned(amount uint64)      { sb.burned += amount }

// Totals returns the accumulated distributed/burned amounts so far.
func (sb *Sandbox) Totals() (distributed, burned uint64) {
	return sb.distributed, sb.burned
}

// Rollback discards every mutation made through this sandbox, restoring
// touched accounts to their pre-sandbox contents, removing accounts the
// sandbox itself created, and restoring the reward pool.
func (sb *Sandbox) Rollback() {
	for name, snap := range sb.snapshot {
		if snap == nil {
			delete(sb.s.Accounts, name)
			continue
		}
		sb.s.Accounts[name] = snap
	}
	sb.s.RewardPool = sb.rewardPool
}

// Commit finalizes the sandbox: nothing further is copied back since
// mutations already landed directly on State.Accounts. Commit exists so call
// sites read symmetrically with Rollback and so a future write-through
// persistence layer has a single hook to flush from.
func (sb *Sandbox) Commit() {}

func cloneAccount(a *Account) *Account {
	out := &Account{
		Name:             a.Name,
		WitnessPublicKey: append([]byte(nil), a.WitnessPublicKey...),
		TotalVoteWeight:  a.TotalVoteWeight,
	}
	out.Balances = make(map[string]int64, len(a.Balances))
	for k, v := range a.Balances {
		out.Balances[k] = v
	}
	out.VotedWitnesses = make(map[string]struct{}, len(a.VotedWitnesses))
	for k := range a.VotedWitnesses {
		out.VotedWitnesses[k] = struct{}{}
	}
	out.Keys = append([]AccountKey(nil), a.Keys...)
	return out
}
