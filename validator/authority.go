package validator

import "sidechain.dev/core/chain"

// minerPriority implements §4.2 stage 4: 1 if the candidate's witness is
// scheduled for this slot; else the smallest i+1 such that the witness
// produced a block i slots back within the last 2*witnesses blocks; else 0
// (unauthorized). "Produced a block i slots back" is read against actual
// production history (State.RecentBlocks), matching the §8 example: the
// backup at priority 2 is "the witness that produced height h-1".
func minerPriority(s *chain.State, candidate *chain.Block, sched Scheduler, witnesses int) int {
	if sched != nil && sched.ScheduledWitness(candidate.Index) == candidate.Witness {
		return 1
	}

	maxBack := 2 * witnesses
	for i := 1; i <= maxBack; i++ {
		wantIndex := int64(candidate.Index) - int64(i)
		if wantIndex < 0 {
			break
		}
		for _, b := range s.RecentBlocks {
			if b.Index == uint64(wantIndex) && b.Witness == candidate.Witness {
				return i + 1
			}
		}
	}
	return 0
}

// timingCheck implements §4.2 stage 5. ok=true means the timestamp is within
// bounds; forced=true means the timestamp was out of bounds but this is the
// 3rd consecutive rejection at this index and progress-preservation accepts
// it anyway.
func timingCheck(in Input, priority int) (ok bool, forced bool, reason chain.ErrorCode) {
	blockTime := in.Cfg.blockTime(in.SyncMode)
	drift := in.Cfg.MaxDrift
	if in.RecentlyExitedSyncMode || withinTenOfHead(in) {
		drift *= 3
	}

	var earliestAllowed int64
	if in.Head != nil {
		earliestAllowed = in.Head.Timestamp + int64(priority)*blockTime.Milliseconds() - drift.Milliseconds()
	}
	latestAllowed := in.Now + drift.Milliseconds()

	switch {
	case in.Candidate.Timestamp < earliestAllowed:
		reason = chain.ErrBlockTooEarly
	case in.Candidate.Timestamp > latestAllowed:
		reason = chain.ErrBlockTooLate
	default:
		return true, false, ""
	}

	if in.ConsecutiveTimingStrikes >= 2 {
		// This would be the 3rd consecutive rejection at this index.
		return false, true, reason
	}
	return false, false, reason
}

func withinTenOfHead(in Input) bool {
	if in.Head == nil {
		return true
	}
	diff := int64(in.Candidate.Index) - int64(in.Head.Index)
	if diff < 0 {
		diff = -diff
	}
	return diff <= 10
}
