// Package chain implements the sidechain's replicated state machine: the
// block/transaction/account data model (§3), canonical hashing and signature
// verification (§6, §4.4), and the deterministic transaction execution
// pipeline (§4.3).
package chain

// Block is the sidechain's block, immutable once Hash is computed (§3).
type Block struct {
	Index          uint64
	AnchorBlockNum uint64
	PrevHash       string // 32 bytes, hex
	Timestamp      int64  // ms since epoch
	Txs            []Transaction
	Witness        string
	MissedBy       string // optional: primary slot holder if a backup produced this block
	Distributed    uint64
	Burned         uint64
	Hash           string // 32 bytes, hex
	Signature      string // base58 compact secp256k1 signature
}

// Transaction is a single state-transition request, either native or mirrored
// from the anchor chain via Ref (§3).
type Transaction struct {
	Hash       string
	Sender     string
	Kind       TransactionKind
	Payload    []byte // kind-specific encoded payload
	Timestamp  int64  // ms; mempool ordering + expiry
	Ref        string // "<anchor_block>:<op_index>" for anchor-originated txs, else ""
	Signatures []TxSignature
}

// TxSignature is one signature over a transaction: either a single signature
// (len(Transaction.Signatures) == 1, RecoveryID unused) or one entry of a multisig set
// (§4.4).
type TxSignature struct {
	Sig        []byte // 64-byte compact r||s
	RecoveryID byte
}

// Account holds balances and witness-eligibility state (§3).
type Account struct {
	Name             string
	Balances         map[string]int64
	WitnessPublicKey []byte // compressed secp256k1 pubkey, nil if not a witness candidate
	TotalVoteWeight  int64
	VotedWitnesses   map[string]struct{}
	Keys             []AccountKey
}

// AccountKey is a secondary signing key bound to a permitted set of tx kinds
// and a delegation ID, each carrying a verification weight (§4.4).
type AccountKey struct {
	PublicKey        []byte
	Weight           int
	PermittedKinds   map[TransactionKind]struct{} // empty/nil means "all kinds"
	DelegatedAccount string                        // "" if this key is owned by Account itself
	DelegationID     string
}

// WitnessSchedule is the output of §4.5: a deterministic shuffle of the
// witness set, valid for the `witnesses`-sized round starting right after
// AnchorBlockRef.
type WitnessSchedule struct {
	AnchorBlockRef string // hash of the block that seeded the shuffle
	Shuffle        []string
}

// ExecResult is returned by a transaction's executor (§9: "a small result
// struct").
type ExecResult struct {
	OK          bool
	Distributed uint64
	Burned      uint64
	Err         error
}
