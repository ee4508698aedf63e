package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verimesh/internal/check"
	"verimesh/internal/config"
	"verimesh/internal/dataType"
	"verimesh/internal/events"
)

// SpawnClaim asserts an agent was spawned correctly.
type SpawnClaim struct {
	AgentID      string            `json:"agent_id"`
	AgentType    string            `json:"agent_type"`
	Requirements map[string]string `json:"requirements,omitempty"`
}

// TerminationClaim asserts an agent was terminated correctly and carries
// the evidence the termination suite inspects.
type TerminationClaim struct {
	AgentID        string   `json:"agent_id"`
	StateBefore    string   `json:"state_before"`
	StateAfter     string   `json:"state_after"`
	CleanupPending int      `json:"cleanup_pending"`
	Dependents     []string `json:"dependents,omitempty"`
	ShutdownForced bool     `json:"shutdown_forced"`
	ProcessExited  bool     `json:"process_exited"`
}

// Validator decomposes a lifecycle claim into its check suite and
// aggregates the outcomes into a ValidationRecord. All checks always run;
// one failure fails the record but never suppresses the other diagnostics.
type Validator struct {
	cfg     *config.MainConfig
	history *dataType.ValidationHistory
	bus     *events.Bus
	logger  *zap.Logger

	// peerCount supplies the live active-peer count for the
	// network-connectivity check.
	peerCount func() int

	mu     sync.RWMutex
	agents map[string]string // agentID -> agentType

	spawnSuite []check.Checker
	termSuite  []check.Checker
}

func NewValidator(cfg *config.MainConfig, bus *events.Bus, peerCount func() int, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if peerCount == nil {
		peerCount = func() int { return 0 }
	}
	return &Validator{
		cfg:        cfg,
		history:    dataType.NewValidationHistory(cfg.MaxValidationHistory),
		bus:        bus,
		logger:     logger,
		peerCount:  peerCount,
		agents:     make(map[string]string),
		spawnSuite: check.SpawnSuite(),
		termSuite:  check.TerminationSuite(),
	}
}

// SetSuites replaces the check suites. Tests inject deterministic fakes.
func (v *Validator) SetSuites(spawn, term []check.Checker) {
	v.spawnSuite = spawn
	v.termSuite = term
}

// ValidateSpawn runs the spawn suite against the claim. On success the
// agent is registered locally and agentRegistered is emitted.
func (v *Validator) ValidateSpawn(ctx context.Context, claim SpawnClaim) dataType.ValidationRecord {
	req := check.Request{
		SubjectID:    claim.AgentID,
		AgentType:    claim.AgentType,
		Requirements: claim.Requirements,
		Capacity:     v.capacity(),
	}

	record := v.runSuite(ctx, "spawn", claim.AgentID, claim.AgentType, v.spawnSuite, req)
	if record.Success {
		v.mu.Lock()
		v.agents[claim.AgentID] = claim.AgentType
		v.mu.Unlock()
		if v.bus != nil {
			v.bus.Publish(events.AgentRegistered, claim.AgentID)
		}
	}
	return record
}

// ValidateTermination runs the termination suite against the claim. On
// success the agent leaves the local table.
func (v *Validator) ValidateTermination(ctx context.Context, claim TerminationClaim) dataType.ValidationRecord {
	capSnap := v.capacity()
	capSnap.StateBefore = claim.StateBefore
	capSnap.StateAfter = claim.StateAfter
	capSnap.CleanupPending = claim.CleanupPending
	capSnap.Dependents = claim.Dependents
	capSnap.ShutdownForced = claim.ShutdownForced
	capSnap.ProcessExited = claim.ProcessExited

	v.mu.RLock()
	agentType := v.agents[claim.AgentID]
	v.mu.RUnlock()

	req := check.Request{
		SubjectID: claim.AgentID,
		AgentType: agentType,
		Capacity:  capSnap,
	}

	record := v.runSuite(ctx, "terminate", claim.AgentID, agentType, v.termSuite, req)
	if record.Success {
		v.mu.Lock()
		delete(v.agents, claim.AgentID)
		v.mu.Unlock()
	}
	return record
}

// runSuite executes every check concurrently and collects all outcomes.
// No short-circuit: a caller always gets the full diagnostic picture.
func (v *Validator) runSuite(ctx context.Context, claimType, subjectID, agentType string,
	suite []check.Checker, req check.Request) dataType.ValidationRecord {

	results := make([]dataType.CheckResult, len(suite))
	var wg sync.WaitGroup
	for i, checker := range suite {
		wg.Add(1)
		go func(i int, checker check.Checker) {
			defer wg.Done()
			results[i] = checker.Run(ctx, req)
		}(i, checker)
	}
	wg.Wait()

	record := dataType.ValidationRecord{
		ID:        uuid.New().String(),
		Type:      claimType,
		SubjectID: subjectID,
		AgentType: agentType,
		Checks:    results,
		Total:     len(results),
		CreatedAt: time.Now().Unix(),
	}
	for _, res := range results {
		if res.Passed() {
			record.Passed++
		} else {
			record.Failed++
		}
	}
	// Strict AND: one failing check fails the record.
	record.Success = record.Failed == 0

	v.history.Append(record)
	v.logger.Info("validation record",
		zap.String("id", record.ID),
		zap.String("type", claimType),
		zap.String("subject", subjectID),
		zap.Int("passed", record.Passed),
		zap.Int("failed", record.Failed),
		zap.Bool("success", record.Success))
	return record
}

func (v *Validator) capacity() check.Capacity {
	v.mu.RLock()
	registered := len(v.agents)
	v.mu.RUnlock()

	return check.Capacity{
		AvailableMemoryMB:   v.cfg.AvailableMemoryMB,
		AvailableCPUCores:   v.cfg.AvailableCPUCores,
		MaxAgents:           v.cfg.MaxAgents,
		RegisteredAgents:    registered,
		SupportedAgentTypes: v.cfg.SupportedAgentTypes,
		ActivePeers:         v.peerCount(),
		MinActivePeers:      v.cfg.MinActivePeers,
	}
}

// AgentCount returns the number of locally registered agents.
func (v *Validator) AgentCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.agents)
}

// History exposes the bounded audit trail.
func (v *Validator) History() *dataType.ValidationHistory {
	return v.history
}
