package consensus

import (
	"strconv"
	"sync"
	"time"

	"verimesh/internal/dataType"
)

// maxSeenVotes bounds the equivocation-detection table.
const maxSeenVotes = 100000

// SuspectPool detects equivocation across proposals and keeps the
// append-only suspected-actor log. A node voting twice for the same
// (view, phase) with different proposal ids is flagged; at most one of
// its votes was counted. The pool is audit-only: nothing here feeds back
// into quorum arithmetic or peer eviction.
type SuspectPool struct {
	mu        sync.RWMutex
	seenVotes map[string]dataType.ByzantineMessage // nodeID/view/phase -> first vote
	actors    []dataType.SuspectedActor
}

func NewSuspectPool() *SuspectPool {
	return &SuspectPool{seenVotes: make(map[string]dataType.ByzantineMessage)}
}

// CheckVote registers a vote for cross-proposal equivocation detection.
// The first vote per (node, view, phase) is remembered; a later vote for
// a different proposal id returns a high-severity suspect entry.
func (p *SuspectPool) CheckVote(vote dataType.ByzantineMessage) *dataType.SuspectedActor {
	key := vote.NodeID + "/" + strconv.FormatInt(vote.View, 10) + "/" + string(vote.Phase)

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, seen := p.seenVotes[key]; seen {
		if existing.ProposalID != vote.ProposalID {
			actor := dataType.SuspectedActor{
				NodeID:       vote.NodeID,
				ActivityType: "equivocation",
				DetectedAt:   time.Now().Unix(),
				Severity:     dataType.SeverityHigh,
			}
			p.actors = append(p.actors, actor)
			return &actor
		}
		return nil
	}

	if len(p.seenVotes) >= maxSeenVotes {
		// Drop an arbitrary tenth of the table; entries are only a
		// detection aid, losing old ones costs recall, not safety.
		drop := maxSeenVotes / 10
		for k := range p.seenVotes {
			delete(p.seenVotes, k)
			drop--
			if drop <= 0 {
				break
			}
		}
	}
	p.seenVotes[key] = vote
	return nil
}

// Record appends a suspect entry detected elsewhere (bad signatures,
// duplicate submissions).
func (p *SuspectPool) Record(nodeID, activityType string, severity dataType.Severity) dataType.SuspectedActor {
	actor := dataType.SuspectedActor{
		NodeID:       nodeID,
		ActivityType: activityType,
		DetectedAt:   time.Now().Unix(),
		Severity:     severity,
	}
	p.mu.Lock()
	p.actors = append(p.actors, actor)
	p.mu.Unlock()
	return actor
}

func (p *SuspectPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.actors)
}

// Snapshot returns a copy of the suspect log, oldest first.
func (p *SuspectPool) Snapshot() []dataType.SuspectedActor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]dataType.SuspectedActor, len(p.actors))
	copy(out, p.actors)
	return out
}
