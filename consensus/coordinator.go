// Package consensus tracks candidate blocks at the current height and
// commits exactly one per height, per §4.8.
package consensus

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sidechain.dev/core/chain"
	"sidechain.dev/core/validator"
)

// Commit is what the coordinator hands the caller once a candidate is
// accepted: the block plus the sandbox validator built while executing it,
// ready for the caller to persist and Commit().
type Commit struct {
	Block   *chain.Block
	Sandbox *chain.Sandbox
}

// candidate is one block proposed for the current height, with the set of
// rounds it has survived.
type candidate struct {
	id           string
	block        *chain.Block
	roundsPassed map[int]struct{}
}

// Coordinator tracks candidates for a single height at a time. It does not
// itself decide round-advancement timing or peer quorum transport (left to
// the caller, per §4.8's "details of quorum voting across rounds are left
// to the implementation"); it enforces the single invariant the spec does
// require: exactly one candidate per height commits.
type Coordinator struct {
	mu         sync.Mutex
	log        *zap.Logger
	height     uint64
	candidates map[string]*candidate
	committed  bool
}

func New(height uint64, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{height: height, log: log, candidates: make(map[string]*candidate)}
}

// Height returns the height this coordinator is currently tracking.
func (c *Coordinator) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Reset clears all candidates and advances to a new height, e.g. after a
// commit or an anchor-driven height skip.
func (c *Coordinator) Reset(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = height
	c.candidates = make(map[string]*candidate)
	c.committed = false
}

// ProposeLocal pushes the local witness's own candidate, pre-approved at
// round 0 via endRound(0, block) short-circuiting validation entirely: the
// local producer already executed and signed it through the same
// validation path a remote candidate would take before it ever reaches
// here (producer.Prepare mirrors validator.Validate's execution step), so
// re-validating it is redundant work, not a safety requirement.
func (c *Coordinator) ProposeLocal(block *chain.Block) (*Commit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkHeight(block); err != nil {
		return nil, err
	}
	if c.committed {
		return nil, fmt.Errorf("consensus: height %d already committed", c.height)
	}

	id := uuid.NewString()
	cand := &candidate{id: id, block: block, roundsPassed: map[int]struct{}{0: {}}}
	c.candidates[id] = cand

	c.committed = true
	c.log.Info("local candidate committed at round 0",
		zap.Uint64("height", c.height), zap.String("witness", block.Witness), zap.String("candidate_id", id))
	return &Commit{Block: block}, nil
}

// ProposeRemote validates an incoming candidate via the standard §4.2
// pipeline. On acceptance it is committed immediately (first accepted
// candidate wins the height); later candidates for an already-committed
// height are rejected outright rather than re-validated.
func (c *Coordinator) ProposeRemote(in validator.Input) (*Commit, validator.Result, error) {
	c.mu.Lock()
	if err := c.checkHeight(in.Candidate); err != nil {
		c.mu.Unlock()
		return nil, validator.Result{}, err
	}
	if c.committed {
		c.mu.Unlock()
		return nil, validator.Result{Accepted: false, Reason: chain.ErrInvalidIndex}, nil
	}
	c.mu.Unlock()

	result, err := validator.Validate(in)
	if err != nil || !result.Accepted {
		return nil, result, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed {
		// Another candidate committed while this one was being validated.
		if result.Sandbox != nil {
			result.Sandbox.Rollback()
		}
		return nil, validator.Result{Accepted: false, Reason: chain.ErrInvalidIndex}, nil
	}

	id := uuid.NewString()
	c.candidates[id] = &candidate{id: id, block: in.Candidate, roundsPassed: map[int]struct{}{0: {}}}
	c.committed = true
	c.log.Info("remote candidate committed",
		zap.Uint64("height", c.height), zap.String("witness", in.Candidate.Witness), zap.String("candidate_id", id))
	return &Commit{Block: in.Candidate, Sandbox: result.Sandbox}, result, nil
}

// Approve records a peer's round approval for a candidate, for callers that
// implement multi-round quorum voting on top of this coordinator.
func (c *Coordinator) Approve(candidateID string, round int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cand, ok := c.candidates[candidateID]
	if !ok {
		return fmt.Errorf("consensus: unknown candidate %s", candidateID)
	}
	cand.roundsPassed[round] = struct{}{}
	return nil
}

// Candidates returns the IDs of all candidates currently tracked for the
// height, for diagnostics.
func (c *Coordinator) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.candidates))
	for id := range c.candidates {
		ids = append(ids, id)
	}
	return ids
}

func (c *Coordinator) checkHeight(block *chain.Block) error {
	if block == nil {
		return fmt.Errorf("consensus: nil candidate block")
	}
	if block.Index != c.height {
		return fmt.Errorf("consensus: candidate height %d does not match tracked height %d", block.Index, c.height)
	}
	return nil
}
