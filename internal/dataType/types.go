package dataType

const VerimeshVersion = "0.3.1"

// NodeStatus is the liveness state of a peer as seen by the local registry.
type NodeStatus string

const (
	NodeActive    NodeStatus = "active"
	NodeSuspected NodeStatus = "suspected"
	NodeFailed    NodeStatus = "failed"
)

// Node is the registry's view of one peer.
type Node struct {
	ID            string     `json:"id"`
	Endpoint      string     `json:"endpoint"`
	View          int64      `json:"view"`
	Status        NodeStatus `json:"status"`
	LastHeartbeat int64      `json:"last_heartbeat"` // Unix seconds
	RegisteredAt  int64      `json:"registered_at"`
}

type GossipMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id"`  // UUID for deduplication
	Seq        int64  `json:"seq"` // Per-origin sequence number
	Timestamp  int64  `json:"timestamp"`
	OriginNode string `json:"origin_node"`
	HopCount   int    `json:"hop_count"`
	Content    string `json:"content"` // JSON payload, type-dependent
}

const (
	GossipTypeVerifyTask   = "VERIFY_TASK"
	GossipTypeVerifyResult = "VERIFY_RESULT"
	GossipTypeConsensus    = "CONSENSUS_VOTE"
	GossipTypeHeartbeat    = "HEARTBEAT"
)

// TaskKind enumerates what a verification task checks.
type TaskKind string

const (
	TaskResourceMonitoring  TaskKind = "resource_monitoring"
	TaskAgentSpawning       TaskKind = "agent_spawning"
	TaskAgentTermination    TaskKind = "agent_termination"
	TaskNetworkConnectivity TaskKind = "network_connectivity"
	TaskConsensusState      TaskKind = "consensus_state"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskConverging TaskStatus = "converging"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// VerificationTask is flooded over gossip; every receiving node runs the
// matching local check and gossips a VerificationResult back.
type VerificationTask struct {
	ID           string            `json:"id" validate:"required,uuid4"`
	Kind         TaskKind          `json:"kind" validate:"required,oneof=resource_monitoring agent_spawning agent_termination network_connectivity consensus_state"`
	Target       string            `json:"target" validate:"required"`
	Requirements map[string]string `json:"requirements,omitempty"`
	Priority     int               `json:"priority"`
	Initiator    string            `json:"initiator" validate:"required"`
	CreatedAt    int64             `json:"created_at" validate:"required"`
	Status       TaskStatus        `json:"status"`
}

// VerificationResult is one node's local verdict for a task.
type VerificationResult struct {
	TaskID    string `json:"task_id"`
	NodeID    string `json:"node_id"`
	Passed    bool   `json:"passed"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ProposalPhase is the PBFT-style state of a proposal on one node.
type ProposalPhase string

const (
	PhaseIdle       ProposalPhase = "idle"
	PhasePrepare    ProposalPhase = "prepare"
	PhaseCommit     ProposalPhase = "commit"
	PhaseExecuted   ProposalPhase = "executed"
	PhaseViewChange ProposalPhase = "view_change"
)

type ConsensusProposal struct {
	ID        string `json:"id" validate:"required,uuid4"`
	View      int64  `json:"view" validate:"gte=0"`
	Proposer  string `json:"proposer" validate:"required"`
	Data      string `json:"data" validate:"required"`
	Timestamp int64  `json:"timestamp" validate:"required"`
}

// ByzantineMessage is a signed vote for one phase of a proposal.
// The signature covers the content plus issuer identity, and the
// (NodeID, View, Phase) triple doubles as the anti-equivocation key.
type ByzantineMessage struct {
	NodeID     string        `json:"node_id"`
	View       int64         `json:"view"`
	Phase      ProposalPhase `json:"phase"`
	ProposalID string        `json:"proposal_id"`
	Result     bool          `json:"result"`
	Timestamp  int64         `json:"timestamp"`
	Signature  string        `json:"signature"`
}

// CheckOutcome of a single lifecycle check.
type CheckOutcome string

const (
	CheckPass CheckOutcome = "pass"
	CheckFail CheckOutcome = "fail"
)

type CheckResult struct {
	Name    string       `json:"name"`
	Outcome CheckOutcome `json:"outcome"`
	Detail  string       `json:"detail,omitempty"`
}

func (r CheckResult) Passed() bool { return r.Outcome == CheckPass }

// ValidationRecord aggregates one lifecycle claim's check suite.
// Success requires zero failed checks; immutable once built.
type ValidationRecord struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"` // "spawn" or "terminate"
	SubjectID string        `json:"subject_id"`
	AgentType string        `json:"agent_type,omitempty"`
	Checks    []CheckResult `json:"checks"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Total     int           `json:"total"`
	Success   bool          `json:"success"`
	CreatedAt int64         `json:"created_at"`
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SuspectedActor records one observation of Byzantine behavior.
// Detection is audit-only; it never feeds back into quorum arithmetic.
type SuspectedActor struct {
	NodeID       string   `json:"node_id"`
	ActivityType string   `json:"activity_type"` // e.g. "equivocation", "duplicate_vote", "bad_signature"
	DetectedAt   int64    `json:"detected_at"`
	Severity     Severity `json:"severity"`
}
