package consensus

import (
	"fmt"
	"time"

	"verimesh/internal/dataType"
)

// MaxTimestampDrift is the allowed clock skew on vote timestamps.
const MaxTimestampDrift = 10 * time.Minute

// VoteSet tracks authenticated votes for one proposal and view, one slot
// per (node, phase). A second vote from the same node for the same phase
// never counts, whatever it says.
type VoteSet struct {
	proposalID string
	view       int64
	votes      map[string]dataType.ByzantineMessage // key: nodeID + "/" + phase
	counts     map[dataType.ProposalPhase]int
}

func NewVoteSet(proposalID string, view int64) *VoteSet {
	return &VoteSet{
		proposalID: proposalID,
		view:       view,
		votes:      make(map[string]dataType.ByzantineMessage),
		counts:     make(map[dataType.ProposalPhase]int),
	}
}

// AddVote counts a vote. The caller has already verified the signature;
// this layer enforces view match, timestamp sanity, and one vote per
// (node, phase).
func (vs *VoteSet) AddVote(vote dataType.ByzantineMessage) error {
	if vote.ProposalID != vs.proposalID {
		return ErrInvalidVote
	}
	if vote.View != vs.view {
		return ErrWrongView
	}
	if vote.Phase != dataType.PhasePrepare && vote.Phase != dataType.PhaseCommit {
		return ErrInvalidVote
	}

	voteTime := time.Unix(vote.Timestamp, 0)
	now := time.Now()
	if voteTime.After(now.Add(MaxTimestampDrift)) {
		return fmt.Errorf("%w: timestamp too far in future", ErrInvalidVote)
	}
	if voteTime.Before(now.Add(-MaxTimestampDrift)) {
		return fmt.Errorf("%w: timestamp too far in past", ErrInvalidVote)
	}

	key := vote.NodeID + "/" + string(vote.Phase)
	if _, exists := vs.votes[key]; exists {
		return ErrDuplicateVote
	}
	vs.votes[key] = vote
	vs.counts[vote.Phase]++
	return nil
}

// Count returns the number of distinct voters for a phase.
func (vs *VoteSet) Count(phase dataType.ProposalPhase) int {
	return vs.counts[phase]
}

// HasQuorum reports whether a phase reached the given quorum.
func (vs *VoteSet) HasQuorum(phase dataType.ProposalPhase, quorum int) bool {
	return vs.counts[phase] >= quorum
}

// Voters returns the node ids counted for a phase.
func (vs *VoteSet) Voters(phase dataType.ProposalPhase) []string {
	var out []string
	for _, vote := range vs.votes {
		if vote.Phase == phase {
			out = append(out, vote.NodeID)
		}
	}
	return out
}
