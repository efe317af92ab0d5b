package chain

import (
	"encoding/json"
	"testing"
)

func testConfig() *Config {
	return &Config{
		Witnesses:     3,
		MaxTxPerBlock: 50,
		WitnessReward: 10,
		BurnAccount:   "burn",
		EcoBlocks:     5,
		TxExpiration:  60_000,
	}
}

func transferTx(sender, to string, amount int64, ts int64) Transaction {
	payload, _ := json.Marshal(TransferPayload{To: to, Token: baseToken, Amount: amount})
	return Transaction{
		Hash:      sender + "-" + to,
		Sender:    sender,
		Kind:      KindTransfer,
		Payload:   payload,
		Timestamp: ts,
	}
}

func TestExecuteTransferMovesBalance(t *testing.T) {
	s := NewState(testConfig())
	s.Account("alice").Balances[baseToken] = 100

	block := &Block{Index: 1, Witness: "alice", Txs: []Transaction{transferTx("alice", "bob", 40, 1000)}}
	sb := NewSandbox(s)
	if err := Execute(sb, block, ExecOptions{Revalidate: true}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	sb.Commit()

	// alice pays 40 to bob and receives the 10-unit witness reward.
	if got := s.Accounts["alice"].Balances[baseToken]; got != 70 {
		t.Fatalf("alice balance = %d, want 70", got)
	}
	if got := s.Accounts["bob"].Balances[baseToken]; got != 40 {
		t.Fatalf("bob balance = %d, want 40", got)
	}
}

func TestExecuteInsufficientBalanceSkipsOnRevalidate(t *testing.T) {
	s := NewState(testConfig())
	s.Account("alice").Balances[baseToken] = 5

	block := &Block{Index: 1, Witness: "alice", Txs: []Transaction{transferTx("alice", "bob", 40, 1000)}}
	sb := NewSandbox(s)
	if err := Execute(sb, block, ExecOptions{Revalidate: true}); err != nil {
		t.Fatalf("Execute should not error when revalidation skips the bad tx: %v", err)
	}
	if got := s.Accounts["bob"].Balances[baseToken]; got != 0 {
		t.Fatalf("bob should not have received anything, got %d", got)
	}
}

func TestSandboxRollbackRestoresState(t *testing.T) {
	s := NewState(testConfig())
	s.Account("alice").Balances[baseToken] = 100

	block := &Block{Index: 1, Witness: "alice", Txs: []Transaction{transferTx("alice", "bob", 40, 1000)}}
	sb := NewSandbox(s)
	if err := Execute(sb, block, ExecOptions{Revalidate: true}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	sb.Rollback()

	if got := s.Accounts["alice"].Balances[baseToken]; got != 100 {
		t.Fatalf("rollback should restore alice's balance, got %d", got)
	}
	if _, ok := s.Accounts["bob"]; ok {
		t.Fatalf("rollback should remove the account the sandbox created")
	}
}

func TestExecuteWitnessRewardAccumulates(t *testing.T) {
	s := NewState(testConfig())
	block := &Block{Index: 2, Witness: "w1", Txs: nil}
	sb := NewSandbox(s)
	if err := Execute(sb, block, ExecOptions{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	dist, _ := sb.Totals()
	if dist != 10 {
		t.Fatalf("distributed = %d, want 10", dist)
	}
	if s.Accounts["w1"].Balances[baseToken] != 10 {
		t.Fatalf("witness reward not credited")
	}
}

func TestExecuteDecayBurnOnEcoBoundary(t *testing.T) {
	s := NewState(testConfig())
	s.Account("burn").Balances[baseToken] = 1000
	s.RewardPool.Dist = 50

	block := &Block{Index: 5, Witness: "", Txs: nil} // index % eco_blocks(5) == 0
	sb := NewSandbox(s)
	if err := Execute(sb, block, ExecOptions{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := s.Accounts["burn"].Balances[baseToken]; got != 950 {
		t.Fatalf("burn account balance = %d, want 950", got)
	}
}

func TestVoteAndUnvoteAdjustWeight(t *testing.T) {
	s := NewState(testConfig())
	s.Account("voter")
	s.Account("w1")

	sb := NewSandbox(s)

	votePayload, _ := json.Marshal(VotePayload{Witness: "w1", Weight: 25})
	voteTx := Transaction{Sender: "voter", Kind: KindVoteWitness, Payload: votePayload}
	if err := validateVote(s, &voteTx, 0); err != nil {
		t.Fatalf("validateVote: %v", err)
	}
	res := executeVote(sb, &voteTx, 0)
	if !res.OK {
		t.Fatalf("executeVote failed: %v", res.Err)
	}
	if s.Accounts["w1"].TotalVoteWeight != 25 {
		t.Fatalf("expected weight 25, got %d", s.Accounts["w1"].TotalVoteWeight)
	}

	unvoteTx := Transaction{Sender: "voter", Kind: KindUnvoteWitness, Payload: votePayload}
	if err := validateUnvote(s, &unvoteTx, 0); err != nil {
		t.Fatalf("validateUnvote: %v", err)
	}
	res = executeUnvote(sb, &unvoteTx, 0)
	if !res.OK {
		t.Fatalf("executeUnvote failed: %v", res.Err)
	}
	if s.Accounts["w1"].TotalVoteWeight != 0 {
		t.Fatalf("expected weight back to 0, got %d", s.Accounts["w1"].TotalVoteWeight)
	}
}
