package consensus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"verimesh/internal/config"
	"verimesh/internal/dataType"
	"verimesh/internal/events"
	"verimesh/internal/gossip"
	"verimesh/internal/registry"
	"verimesh/internal/telemetry"
	"verimesh/internal/utils"
)

// wireEnvelope is the payload of a CONSENSUS_VOTE gossip message. Either
// field may be set: proposals announce themselves, votes drive phases.
type wireEnvelope struct {
	Proposal *dataType.ConsensusProposal `json:"proposal,omitempty"`
	Vote     *dataType.ByzantineMessage  `json:"vote,omitempty"`
}

type proposalState struct {
	proposal dataType.ConsensusProposal
	phase    dataType.ProposalPhase
	votes    *VoteSet
	timer    *time.Timer
	pinned   []string // peers pinned in the registry while this is open
}

// Coordinator runs the three-phase agreement protocol per proposal:
// idle -> prepare -> commit -> executed, or view_change on timeout.
// Safety over availability: nothing executes below 2f+1 authenticated,
// non-duplicate commit votes, even if that means never deciding.
type Coordinator struct {
	cfg      *config.MainConfig
	reg      *registry.Registry
	gsp      *gossip.Coordinator
	signer   utils.Signer
	bus      *events.Bus
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	validate *validator.Validate
	suspects *SuspectPool

	mu        sync.Mutex
	view      int64
	proposals map[string]*proposalState
	executed  map[string]string // proposalID -> data, the applied log

	// Gossip gives no causal ordering: a vote may land before its
	// proposal. Verified votes for unknown proposals wait here.
	orphanVotes map[string][]dataType.ByzantineMessage
}

// maxOrphanVotes bounds the out-of-order vote buffer.
const maxOrphanVotes = 4096

func NewCoordinator(cfg *config.MainConfig, reg *registry.Registry, gsp *gossip.Coordinator,
	signer utils.Signer, bus *events.Bus, metrics *telemetry.Metrics, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		cfg:       cfg,
		reg:       reg,
		gsp:       gsp,
		signer:    signer,
		bus:       bus,
		metrics:   metrics,
		logger:    logger,
		validate:  validator.New(),
		suspects:  NewSuspectPool(),
		proposals: make(map[string]*proposalState),
		executed:  make(map[string]string),

		orphanVotes: make(map[string][]dataType.ByzantineMessage),
	}
	if gsp != nil {
		gsp.Subscribe(dataType.GossipTypeConsensus, c.onGossip)
	}
	return c
}

// View returns the local view number.
func (c *Coordinator) View() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Primary returns the deterministic primary for a view: the node at
// index view mod n in the sorted non-failed peer list.
func (c *Coordinator) Primary(view int64) string {
	peers := c.reg.ActivePeers()
	if len(peers) == 0 {
		return ""
	}
	return peers[int(view)%len(peers)].ID
}

// Propose creates a proposal in the current view and floods it.
func (c *Coordinator) Propose(data string) (string, error) {
	c.mu.Lock()
	view := c.view
	c.mu.Unlock()

	proposal := dataType.ConsensusProposal{
		ID:        uuid.New().String(),
		View:      view,
		Proposer:  c.cfg.NodeName,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.validate.Struct(&proposal); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}

	if err := c.HandleProposal(proposal); err != nil {
		return "", err
	}

	content, err := json.Marshal(wireEnvelope{Proposal: &proposal})
	if err != nil {
		return "", err
	}
	c.gsp.Publish(dataType.GossipMessage{
		Type:    dataType.GossipTypeConsensus,
		Content: string(content),
	})
	return proposal.ID, nil
}

// HandleProposal opens local bookkeeping for a proposal and casts this
// node's prepare vote. Malformed proposals are rejected before any state
// is created.
func (c *Coordinator) HandleProposal(proposal dataType.ConsensusProposal) error {
	if err := c.validate.Struct(&proposal); err != nil {
		c.logger.Warn("rejected malformed proposal",
			zap.String("proposer", proposal.Proposer), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}

	c.mu.Lock()
	if proposal.View != c.view {
		c.mu.Unlock()
		return fmt.Errorf("%w: proposal view %d, local view %d", ErrWrongView, proposal.View, c.view)
	}
	if _, exists := c.proposals[proposal.ID]; exists {
		c.mu.Unlock()
		return nil
	}

	st := &proposalState{
		proposal: proposal,
		phase:    dataType.PhasePrepare,
		votes:    NewVoteSet(proposal.ID, proposal.View),
	}
	// Pin voters: a peer cannot be removed while its vote is awaited.
	for _, peer := range c.reg.ActivePeers() {
		c.reg.AddInFlight(peer.ID)
		st.pinned = append(st.pinned, peer.ID)
	}
	st.timer = time.AfterFunc(c.cfg.ValidationTimeout(), func() { c.onTimeout(proposal.ID) })
	c.proposals[proposal.ID] = st
	orphans := c.orphanVotes[proposal.ID]
	delete(c.orphanVotes, proposal.ID)
	c.mu.Unlock()

	c.logger.Info("proposal opened",
		zap.String("proposal", proposal.ID),
		zap.Int64("view", proposal.View),
		zap.String("proposer", proposal.Proposer))

	c.castVote(proposal, dataType.PhasePrepare)

	// Replay votes that arrived ahead of the proposal.
	for _, vote := range orphans {
		if err := c.countVote(vote); err != nil {
			c.logger.Debug("orphan vote not counted",
				zap.String("node", vote.NodeID), zap.Error(err))
		}
	}
	return nil
}

// castVote signs and floods this node's vote, and counts it locally.
func (c *Coordinator) castVote(proposal dataType.ConsensusProposal, phase dataType.ProposalPhase) {
	vote := dataType.ByzantineMessage{
		NodeID:     c.cfg.NodeName,
		View:       proposal.View,
		Phase:      phase,
		ProposalID: proposal.ID,
		Result:     true,
		Timestamp:  time.Now().Unix(),
	}
	utils.SignByzantineMessage(c.signer, &vote)

	if err := c.HandleVote(vote); err != nil && !errors.Is(err, ErrDuplicateVote) {
		c.logger.Error("local vote rejected", zap.Error(err))
		return
	}

	content, err := json.Marshal(wireEnvelope{Vote: &vote})
	if err != nil {
		c.logger.Error("marshal vote", zap.Error(err))
		return
	}
	c.gsp.Publish(dataType.GossipMessage{
		Type:    dataType.GossipTypeConsensus,
		Content: string(content),
	})
}

// HandleVote authenticates and counts one vote, advancing the proposal's
// phase when a quorum forms. Votes that fail verification are dropped
// silently (never counted, never retried) and logged as suspects.
func (c *Coordinator) HandleVote(vote dataType.ByzantineMessage) error {
	if !utils.VerifyByzantineMessage(c.signer, &vote) {
		actor := c.suspects.Record(vote.NodeID, "bad_signature", dataType.SeverityHigh)
		c.noteSuspect(actor)
		return ErrInvalidSignature
	}

	// Cross-proposal equivocation: same (node, view, phase), different
	// proposal id. The first vote stays counted; this one never is.
	if actor := c.suspects.CheckVote(vote); actor != nil {
		c.noteSuspect(*actor)
		return ErrConflictingVote
	}

	return c.countVote(vote)
}

// countVote applies an already-authenticated vote to its proposal's
// vote set, driving the phase machine forward on quorum.
func (c *Coordinator) countVote(vote dataType.ByzantineMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, exists := c.proposals[vote.ProposalID]
	if !exists {
		total := 0
		for _, votes := range c.orphanVotes {
			total += len(votes)
		}
		if total < maxOrphanVotes {
			c.orphanVotes[vote.ProposalID] = append(c.orphanVotes[vote.ProposalID], vote)
		}
		return ErrUnknownProposal
	}
	if st.phase == dataType.PhaseExecuted || st.phase == dataType.PhaseViewChange {
		return ErrProposalClosed
	}

	if err := st.votes.AddVote(vote); err != nil {
		if errors.Is(err, ErrDuplicateVote) && vote.NodeID != c.cfg.NodeName {
			actor := c.suspects.Record(vote.NodeID, "duplicate_vote", dataType.SeverityHigh)
			c.noteSuspect(actor)
		}
		return err
	}

	quorum := c.reg.QuorumSize()
	switch st.phase {
	case dataType.PhasePrepare:
		if st.votes.HasQuorum(dataType.PhasePrepare, quorum) {
			st.phase = dataType.PhaseCommit
			proposal := st.proposal
			c.logger.Info("prepare quorum reached",
				zap.String("proposal", proposal.ID), zap.Int("quorum", quorum))
			// Cast the commit vote outside the lock.
			go c.castVote(proposal, dataType.PhaseCommit)
		}
	case dataType.PhaseCommit:
		if st.votes.HasQuorum(dataType.PhaseCommit, quorum) {
			c.executeLocked(st)
		}
	}
	return nil
}

// executeLocked applies a proposal after commit quorum. Caller holds c.mu.
func (c *Coordinator) executeLocked(st *proposalState) {
	st.phase = dataType.PhaseExecuted
	c.executed[st.proposal.ID] = st.proposal.Data
	c.closeLocked(st)

	if c.metrics != nil {
		c.metrics.ProposalsTotal.WithLabelValues("executed").Inc()
	}
	c.logger.Info("proposal executed",
		zap.String("proposal", st.proposal.ID), zap.Int64("view", st.proposal.View))
	if c.bus != nil {
		c.bus.Publish(events.ConsensusReached, st.proposal.ID)
	}
}

// onTimeout fires when a proposal misses quorum in time: discard it,
// increment the view, and signal primary failure.
func (c *Coordinator) onTimeout(proposalID string) {
	c.mu.Lock()
	st, exists := c.proposals[proposalID]
	if !exists || st.phase == dataType.PhaseExecuted || st.phase == dataType.PhaseViewChange {
		c.mu.Unlock()
		return
	}
	st.phase = dataType.PhaseViewChange
	c.closeLocked(st)
	c.view++
	newView := c.view
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ProposalsTotal.WithLabelValues("view_change").Inc()
	}
	newPrimary := c.Primary(newView)
	c.logger.Warn("view change",
		zap.String("proposal", proposalID),
		zap.Int64("view", newView),
		zap.String("primary", newPrimary))
	if c.bus != nil {
		c.bus.Publish(events.ViewChanged, newView)
	}
}

// closeLocked releases pinned peers and stops the timer. Caller holds c.mu.
func (c *Coordinator) closeLocked(st *proposalState) {
	if st.timer != nil {
		st.timer.Stop()
	}
	for _, id := range st.pinned {
		c.reg.DoneInFlight(id)
	}
	st.pinned = nil
}

func (c *Coordinator) onGossip(msg dataType.GossipMessage) {
	var env wireEnvelope
	if err := json.Unmarshal([]byte(msg.Content), &env); err != nil {
		c.logger.Error("bad consensus payload", zap.Error(err))
		return
	}
	if env.Proposal != nil {
		if err := c.HandleProposal(*env.Proposal); err != nil {
			c.logger.Debug("proposal not opened", zap.Error(err))
		}
	}
	if env.Vote != nil {
		if err := c.HandleVote(*env.Vote); err != nil {
			c.logger.Debug("vote not counted",
				zap.String("node", env.Vote.NodeID), zap.Error(err))
		}
	}
}

func (c *Coordinator) noteSuspect(actor dataType.SuspectedActor) {
	if c.metrics != nil {
		c.metrics.SuspectedActors.Inc()
	}
	c.logger.Warn("suspected actor",
		zap.String("node", actor.NodeID),
		zap.String("activity", actor.ActivityType),
		zap.String("severity", string(actor.Severity)))
}

// Phase returns a proposal's current phase.
func (c *Coordinator) Phase(proposalID string) (dataType.ProposalPhase, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, exists := c.proposals[proposalID]; exists {
		return st.phase, true
	}
	return dataType.PhaseIdle, false
}

// Executed returns the applied data for an executed proposal.
func (c *Coordinator) Executed(proposalID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.executed[proposalID]
	return data, ok
}

// Suspects exposes the audit log of Byzantine-behavior observations.
func (c *Coordinator) Suspects() []dataType.SuspectedActor {
	return c.suspects.Snapshot()
}

// Counts summarizes proposals by phase for the status API.
func (c *Coordinator) Counts() map[dataType.ProposalPhase]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[dataType.ProposalPhase]int)
	for _, st := range c.proposals {
		out[st.phase]++
	}
	return out
}

// ConsistencyProbe is the consensus-state check used by verification
// tasks: consistent means no open proposal has outlived its timeout
// without reaching a terminal phase.
func (c *Coordinator) ConsistencyProbe() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().Unix()
	stale := 0
	open := 0
	for _, st := range c.proposals {
		if st.phase == dataType.PhasePrepare || st.phase == dataType.PhaseCommit {
			open++
			if now-st.proposal.Timestamp > 2*int64(c.cfg.ValidationTimeout().Seconds()) {
				stale++
			}
		}
	}
	detail := fmt.Sprintf("view=%d open=%d stale=%d executed=%d",
		c.view, open, stale, len(c.executed))
	return detail, stale == 0
}
