package chain

import "encoding/json"

// The core ships a handful of kinds needed to operate the state machine
// itself; everything domain-specific (token, NFT, AMM, orderbook, farm,
// staking) is registered by its own package via RegisterKind and is opaque
// here. Payloads are JSON so collaborators can add fields without a
// generated schema.

func init() {
	RegisterKind(KindTransfer, KindHandlers{Validate: validateTransfer, Execute: executeTransfer})
	RegisterKind(KindVoteWitness, KindHandlers{Validate: validateVote, Execute: executeVote})
	RegisterKind(KindUnvoteWitness, KindHandlers{Validate: validateUnvote, Execute: executeUnvote})
	RegisterKind(KindWitnessRegister, KindHandlers{Validate: validateWitnessRegister, Execute: executeWitnessRegister})
	RegisterKind(KindWitnessUnregister, KindHandlers{Validate: validateWitnessUnregister, Execute: executeWitnessUnregister})
	RegisterKind(KindKeyUpdate, KindHandlers{Validate: validateKeyUpdate, Execute: executeKeyUpdate})
}

// TransferPayload moves amount of token from the tx sender to To.
type TransferPayload struct {
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount int64  `json:"amount"`
}

func decodeTransfer(tx *Transaction) (TransferPayload, error) {
	var p TransferPayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return p, newErrf(ErrInvalidTransaction, "decode transfer payload: %v", err)
	}
	return p, nil
}

func validateTransfer(s *State, tx *Transaction, _ int64) error {
	p, err := decodeTransfer(tx)
	if err != nil {
		return err
	}
	if p.Amount <= 0 {
		return newErr(ErrInvalidTransaction, "transfer amount must be positive")
	}
	if p.To == "" {
		return newErr(ErrInvalidTransaction, "transfer recipient is required")
	}
	sender, ok := s.Accounts[tx.Sender]
	if !ok || sender.Balances[p.Token] < p.Amount {
		return newErr(ErrInvalidTransaction, "insufficient balance")
	}
	return nil
}

func executeTransfer(sb *Sandbox, tx *Transaction, _ int64) ExecResult {
	p, err := decodeTransfer(tx)
	if err != nil {
		return ExecResult{OK: false, Err: err}
	}
	sender := sb.Account(tx.Sender)
	if sender.Balances[p.Token] < p.Amount {
		return ExecResult{OK: false, Err: newErr(ErrInvalidTransaction, "insufficient balance at execution time")}
	}
	recipient := sb.Account(p.To)
	sender.Balances[p.Token] -= p.Amount
	recipient.Balances[p.Token] += p.Amount
	return ExecResult{OK: true}
}

// VotePayload casts the sender's stake weight toward Witness.
type VotePayload struct {
	Witness string `json:"witness"`
	Weight  int64  `json:"weight"`
}

func decodeVote(tx *Transaction) (VotePayload, error) {
	var p VotePayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return p, newErrf(ErrInvalidTransaction, "decode vote payload: %v", err)
	}
	return p, nil
}

func validateVote(s *State, tx *Transaction, _ int64) error {
	p, err := decodeVote(tx)
	if err != nil {
		return err
	}
	if p.Witness == "" || p.Weight <= 0 {
		return newErr(ErrInvalidTransaction, "vote requires a witness name and a positive weight")
	}
	if _, ok := s.Accounts[p.Witness]; !ok {
		return newErr(ErrInvalidTransaction, "cannot vote for an unknown account")
	}
	return nil
}

func executeVote(sb *Sandbox, tx *Transaction, _ int64) ExecResult {
	p, err := decodeVote(tx)
	if err != nil {
		return ExecResult{OK: false, Err: err}
	}
	voter := sb.Account(tx.Sender)
	if _, already := voter.VotedWitnesses[p.Witness]; already {
		return ExecResult{OK: true} // idempotent re-vote, not an error
	}
	voter.VotedWitnesses[p.Witness] = struct{}{}
	witness := sb.Account(p.Witness)
	witness.TotalVoteWeight += p.Weight
	return ExecResult{OK: true}
}

func validateUnvote(s *State, tx *Transaction, _ int64) error {
	p, err := decodeVote(tx)
	if err != nil {
		return err
	}
	voter, ok := s.Accounts[tx.Sender]
	if !ok {
		return newErr(ErrInvalidTransaction, "unknown voter")
	}
	if _, voted := voter.VotedWitnesses[p.Witness]; !voted {
		return newErr(ErrInvalidTransaction, "no existing vote for this witness")
	}
	return nil
}

func executeUnvote(sb *Sandbox, tx *Transaction, _ int64) ExecResult {
	p, err := decodeVote(tx)
	if err != nil {
		return ExecResult{OK: false, Err: err}
	}
	voter := sb.Account(tx.Sender)
	if _, voted := voter.VotedWitnesses[p.Witness]; !voted {
		return ExecResult{OK: true}
	}
	delete(voter.VotedWitnesses, p.Witness)
	witness := sb.Account(p.Witness)
	witness.TotalVoteWeight -= p.Weight
	if witness.TotalVoteWeight < 0 {
		witness.TotalVoteWeight = 0
	}
	return ExecResult{OK: true}
}

// WitnessRegisterPayload declares the sender eligible for the schedule with
// the given block-signing key.
type WitnessRegisterPayload struct {
	PublicKey []byte `json:"public_key"`
}

func validateWitnessRegister(s *State, tx *Transaction, _ int64) error {
	var p WitnessRegisterPayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return newErrf(ErrInvalidTransaction, "decode witness_register payload: %v", err)
	}
	if len(p.PublicKey) != 33 {
		return newErr(ErrInvalidTransaction, "witness public key must be a 33-byte compressed point")
	}
	return nil
}

func executeWitnessRegister(sb *Sandbox, tx *Transaction, _ int64) ExecResult {
	var p WitnessRegisterPayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return ExecResult{OK: false, Err: err}
	}
	acct := sb.Account(tx.Sender)
	acct.WitnessPublicKey = p.PublicKey
	return ExecResult{OK: true}
}

func validateWitnessUnregister(s *State, tx *Transaction, _ int64) error {
	acct, ok := s.Accounts[tx.Sender]
	if !ok || len(acct.WitnessPublicKey) == 0 {
		return newErr(ErrInvalidTransaction, "account is not a registered witness")
	}
	return nil
}

func executeWitnessUnregister(sb *Sandbox, tx *Transaction, _ int64) ExecResult {
	acct := sb.Account(tx.Sender)
	acct.WitnessPublicKey = nil
	return ExecResult{OK: true}
}

// KeyUpdatePayload adds, removes, or delegates a secondary signing key,
// per §4.4.
type KeyUpdatePayload struct {
	Remove           bool     `json:"remove"`
	PublicKey        []byte   `json:"public_key"`
	Weight           int      `json:"weight"`
	PermittedKinds   []string `json:"permitted_kinds"`
	DelegatedAccount string   `json:"delegated_account"`
	DelegationID     string   `json:"delegation_id"`
}

func validateKeyUpdate(s *State, tx *Transaction, _ int64) error {
	var p KeyUpdatePayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return newErrf(ErrInvalidTransaction, "decode key_update payload: %v", err)
	}
	if !p.Remove && len(p.PublicKey) != 33 {
		return newErr(ErrInvalidTransaction, "key_update requires a 33-byte compressed public key")
	}
	if !p.Remove && p.Weight <= 0 {
		return newErr(ErrInvalidTransaction, "key_update requires a positive weight")
	}
	return nil
}

func executeKeyUpdate(sb *Sandbox, tx *Transaction, _ int64) ExecResult {
	var p KeyUpdatePayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return ExecResult{OK: false, Err: err}
	}
	acct := sb.Account(tx.Sender)
	if p.Remove {
		kept := acct.Keys[:0]
		for _, k := range acct.Keys {
			if string(k.PublicKey) != string(p.PublicKey) {
				kept = append(kept, k)
			}
		}
		acct.Keys = kept
		return ExecResult{OK: true}
	}

	var permitted map[TransactionKind]struct{}
	if len(p.PermittedKinds) > 0 {
		permitted = make(map[TransactionKind]struct{}, len(p.PermittedKinds))
		for _, k := range p.PermittedKinds {
			permitted[TransactionKind(k)] = struct{}{}
		}
	}
	acct.Keys = append(acct.Keys, AccountKey{
		PublicKey:        p.PublicKey,
		Weight:           p.Weight,
		PermittedKinds:   permitted,
		DelegatedAccount: p.DelegatedAccount,
		DelegationID:     p.DelegationID,
	})
	return ExecResult{OK: true}
}
