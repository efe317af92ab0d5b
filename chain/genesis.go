package chain

// NewGenesisBlock builds block 0 per the testable-property example: prev_hash
// "0", hash == originHash, empty txs, the given master witness. It does not
// touch State; callers append it via the normal commit path so RecentBlocks
// and RecentTxs stay consistent with everything that follows.
func NewGenesisBlock(originHash string, startAnchor uint64, master string, timestamp int64) *Block {
	return &Block{
		Index:          0,
		AnchorBlockNum: startAnchor,
		PrevHash:       "0",
		Timestamp:      timestamp,
		Txs:            nil,
		Witness:        master,
		Hash:           originHash,
	}
}
