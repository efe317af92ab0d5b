package chain

import "math"

// HardforkHook lets the node register index-triggered one-off state changes
// (balance burns, counter resets) without the core knowing their content.
// Returns the amount burned by the hook, if any.
type HardforkHook func(sb *Sandbox, blockIndex uint64) uint64

// DAOBurnHook applies any DAO-trigger burns scheduled for blockTimestamp.
// Returns the amount burned.
type DAOBurnHook func(sb *Sandbox, blockTimestamp int64) uint64

// ExecOptions carries the pluggable hooks §4.3 steps 3 and 5 delegate to
// collaborators the core does not itself define.
type ExecOptions struct {
	Revalidate bool // §4.3 step 2a: re-run the kind validator before executing
	Hardfork   HardforkHook
	DAOBurn    DAOBurnHook
}

// Execute runs the deterministic transaction pipeline of §4.3 against a
// draft block, using sb as the mutation scope. It does not commit or
// rollback the sandbox; the caller decides based on the returned error.
//
// A tx that fails revalidation is skipped and produces no error. A non-nil
// error of kind ErrInvalidTransaction means a tx's kind has no registered
// handlers. A *FatalExecutionError means an executor returned a failure on a
// pre-validated input and the caller must abort the whole block per §4.3
// step 2b / §7.
func Execute(sb *Sandbox, block *Block, opts ExecOptions) error {
	// Step 1: pre-pass, create zero-balance stubs for every sender and for
	// the recipient of every transfer payload so downstream ops can
	// debit/credit uniformly.
	for i := range block.Txs {
		tx := &block.Txs[i]
		sb.Account(tx.Sender)
		if tx.Kind == KindTransfer {
			if p, err := decodeTransfer(tx); err == nil && p.To != "" {
				sb.Account(p.To)
			}
		}
	}

	// Step 2: per-tx revalidate + execute, in block order.
	for i := range block.Txs {
		tx := &block.Txs[i]
		handlers, ok := LookupKind(tx.Kind)
		if !ok {
			return newErrf(ErrInvalidTransaction, "no executor registered for kind %q", tx.Kind)
		}

		if opts.Revalidate && handlers.Validate != nil {
			if err := handlers.Validate(sb.s, tx, block.Timestamp); err != nil {
				continue // marked invalid; skip without aborting the block
			}
		}

		result := handlers.Execute(sb, tx, block.Timestamp)
		if !result.OK {
			return &FatalExecutionError{Height: block.Index, Cause: result.Err}
		}
		sb.AddDistributed(result.Distributed)
		sb.AddBurned(result.Burned)
	}

	// Step 3: hardfork hook.
	if opts.Hardfork != nil {
		sb.AddBurned(opts.Hardfork(sb, block.Index))
	}

	// Step 4: periodic decay-burn, every eco_blocks blocks.
	if sb.s.Cfg.EcoBlocks > 0 && block.Index%sb.s.Cfg.EcoBlocks == 0 {
		sb.AddBurned(applyDecayBurn(sb))
	}

	// Step 5: DAO-trigger burns.
	if opts.DAOBurn != nil {
		sb.AddBurned(opts.DAOBurn(sb, block.Timestamp))
	}

	// Step 6: witness reward.
	sb.AddDistributed(applyWitnessReward(sb, block))

	return nil
}

// applyDecayBurn burns up to floor(reward_pool.dist) from the designated
// burn account, capped at its balance, in the chain's base token.
func applyDecayBurn(sb *Sandbox) uint64 {
	if sb.s.Cfg.BurnAccount == "" {
		return 0
	}
	amount := uint64(math.Floor(sb.s.RewardPool.Dist))
	if amount == 0 {
		return 0
	}
	acct := sb.Account(sb.s.Cfg.BurnAccount)
	bal := acct.Balances[baseToken]
	if bal < 0 {
		return 0
	}
	if amount > uint64(bal) {
		amount = uint64(bal)
	}
	acct.Balances[baseToken] -= int64(amount)
	sb.s.RewardPool.Dist -= float64(amount)
	return amount
}

// applyWitnessReward credits leader_reward to the block's witness and
// contributes the same amount to the block's distributed total.
func applyWitnessReward(sb *Sandbox, block *Block) uint64 {
	reward := sb.s.Cfg.WitnessReward
	if reward == 0 || block.Witness == "" {
		return 0
	}
	acct := sb.Account(block.Witness)
	acct.Balances[baseToken] += int64(reward)
	acct.TotalVoteWeight += int64(reward)
	sb.s.RewardPool.Dist += float64(reward)
	return reward
}

// baseToken is the balance-map key for the chain's native unit, used by the
// reward and decay-burn mechanics that are not domain-specific.
const baseToken = "native"
