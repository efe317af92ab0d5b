package chain

// TransactionKind is the tagged discriminant every Transaction carries. The
// core ships a handful of built-in kinds needed to operate the state machine
// itself (transfers, voting, witness registration, key management);
// domain-specific kinds (token, NFT, AMM, orderbook, farm, staking) register
// their own validator/executor pairs through RegisterKind at program init
// and are otherwise opaque to this package.
type TransactionKind string

const (
	KindTransfer          TransactionKind = "transfer"
	KindVoteWitness       TransactionKind = "vote_witness"
	KindUnvoteWitness     TransactionKind = "unvote_witness"
	KindWitnessRegister   TransactionKind = "witness_register"
	KindWitnessUnregister TransactionKind = "witness_unregister"
	KindKeyUpdate         TransactionKind = "key_update"
)

// Validator checks a transaction's payload and business preconditions against
// the state snapshot as of block.timestamp, without mutating state. Called
// during revalidation (§4.2, §4.3 step 3a).
type Validator func(s *State, tx *Transaction, blockTimestamp int64) error

// Executor applies a pre-validated transaction to state, exclusively through
// sb. Every account an executor touches — sender or payload-declared
// recipient alike — must come from sb.Account, never State.Account directly,
// so Sandbox.Rollback can undo it (§4.3 step 1, §4.9). Executors must be
// total on pre-validated inputs: a non-nil Err here is fatal for the whole
// block (§4.3 step 3b, §9).
type Executor func(sb *Sandbox, tx *Transaction, blockTimestamp int64) ExecResult

// KindHandlers bundles the (validate, execute) pair for one TransactionKind.
type KindHandlers struct {
	Validate Validator
	Execute  Executor
}

var kindRegistry = map[TransactionKind]KindHandlers{}

// RegisterKind installs or overwrites the (validator, executor) pair for
// kind. Domain-specific executors call this from an init() in their own
// package; the core registers its built-in kinds the same way, in
// builtin.go.
func RegisterKind(kind TransactionKind, h KindHandlers) {
	kindRegistry[kind] = h
}

// LookupKind returns the registered handlers for kind, or ok=false if no
// executor has claimed it.
func LookupKind(kind TransactionKind) (KindHandlers, bool) {
	h, ok := kindRegistry[kind]
	return h, ok
}
