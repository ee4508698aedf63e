package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"verimesh/internal/check"
	"verimesh/internal/config"
	"verimesh/internal/dataType"
	"verimesh/internal/events"
	"verimesh/internal/gossip"
	"verimesh/internal/lifecycle"
	"verimesh/internal/registry"
	"verimesh/internal/telemetry"
)

// StateProber reports whether the local consensus state looks consistent.
// The node wiring points this at the agreement coordinator.
type StateProber func() (detail string, ok bool)

// Outcome is the terminal summary of a task, published on the bus.
type Outcome struct {
	TaskID        string
	Status        dataType.TaskStatus
	Verdict       bool
	FailureReason string
}

type taskState struct {
	task    dataType.VerificationTask
	results map[string]bool // nodeID -> passed; first result per node wins
	details map[string]string
	timer   *time.Timer
	closed  bool
	verdict bool
	reason  string
}

// Engine creates verification tasks, floods them over gossip, runs the
// local check for tasks received from peers, and tallies results on the
// originating node until quorum or timeout.
type Engine struct {
	cfg      *config.MainConfig
	reg      *registry.Registry
	gsp      *gossip.Coordinator
	lifeval  *lifecycle.Validator
	bus      *events.Bus
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	validate *validator.Validate
	prober   StateProber

	mu    sync.Mutex
	tasks map[string]*taskState
}

func NewEngine(cfg *config.MainConfig, reg *registry.Registry, gsp *gossip.Coordinator,
	lifeval *lifecycle.Validator, bus *events.Bus, metrics *telemetry.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:      cfg,
		reg:      reg,
		gsp:      gsp,
		lifeval:  lifeval,
		bus:      bus,
		metrics:  metrics,
		logger:   logger,
		validate: validator.New(),
		tasks:    make(map[string]*taskState),
	}
	gsp.Subscribe(dataType.GossipTypeVerifyTask, e.onTaskMessage)
	gsp.Subscribe(dataType.GossipTypeVerifyResult, e.onResultMessage)
	return e
}

// SetStateProber wires the consensus-state check.
func (e *Engine) SetStateProber(p StateProber) { e.prober = p }

// StartVerification creates a task, floods it to peers, and runs the
// local check so this node's result counts toward its own quorum.
func (e *Engine) StartVerification(kind dataType.TaskKind, target string, requirements map[string]string) (string, error) {
	task := dataType.VerificationTask{
		ID:           uuid.New().String(),
		Kind:         kind,
		Target:       target,
		Requirements: requirements,
		Initiator:    e.cfg.NodeName,
		CreatedAt:    time.Now().Unix(),
		Status:       dataType.TaskPending,
	}
	if err := e.validate.Struct(&task); err != nil {
		return "", fmt.Errorf("invalid verification task: %w", err)
	}

	st := &taskState{
		task:    task,
		results: make(map[string]bool),
		details: make(map[string]string),
	}
	st.timer = time.AfterFunc(e.cfg.ValidationTimeout(), func() { e.onTimeout(task.ID) })

	e.mu.Lock()
	e.tasks[task.ID] = st
	e.mu.Unlock()

	content, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	e.gsp.Publish(dataType.GossipMessage{
		Type:    dataType.GossipTypeVerifyTask,
		Content: string(content),
	})

	e.logger.Info("verification started",
		zap.String("task", task.ID), zap.String("kind", string(kind)), zap.String("target", target))
	if e.bus != nil {
		e.bus.Publish(events.TaskStarted, task.ID)
	}

	// Local result participates like any peer's.
	passed, detail := e.runLocalCheck(task)
	e.recordResult(dataType.VerificationResult{
		TaskID:    task.ID,
		NodeID:    e.cfg.NodeName,
		Passed:    passed,
		Detail:    detail,
		Timestamp: time.Now().Unix(),
	})
	return task.ID, nil
}

func (e *Engine) onTaskMessage(msg dataType.GossipMessage) {
	var task dataType.VerificationTask
	if err := json.Unmarshal([]byte(msg.Content), &task); err != nil {
		e.logger.Error("bad verification task payload", zap.Error(err))
		return
	}
	if err := e.validate.Struct(&task); err != nil {
		e.logger.Warn("dropped malformed verification task",
			zap.String("origin", msg.OriginNode), zap.Error(err))
		return
	}
	if task.Initiator == e.cfg.NodeName {
		return
	}

	passed, detail := e.runLocalCheck(task)
	e.propagateResult(task.ID, passed, detail)
}

// propagateResult gossips this node's verdict back toward the initiator.
func (e *Engine) propagateResult(taskID string, passed bool, detail string) {
	result := dataType.VerificationResult{
		TaskID:    taskID,
		NodeID:    e.cfg.NodeName,
		Passed:    passed,
		Detail:    detail,
		Timestamp: time.Now().Unix(),
	}
	content, err := json.Marshal(result)
	if err != nil {
		e.logger.Error("marshal verification result", zap.Error(err))
		return
	}
	e.gsp.Publish(dataType.GossipMessage{
		Type:    dataType.GossipTypeVerifyResult,
		Content: string(content),
	})
}

func (e *Engine) onResultMessage(msg dataType.GossipMessage) {
	var result dataType.VerificationResult
	if err := json.Unmarshal([]byte(msg.Content), &result); err != nil {
		e.logger.Error("bad verification result payload", zap.Error(err))
		return
	}
	e.recordResult(result)
}

// recordResult tallies one node's verdict on the originating node.
// Results for unknown or closed tasks are ignored, not retracted.
func (e *Engine) recordResult(result dataType.VerificationResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, exists := e.tasks[result.TaskID]
	if !exists || st.closed {
		return
	}
	if _, voted := st.results[result.NodeID]; voted {
		return
	}
	st.results[result.NodeID] = result.Passed
	st.details[result.NodeID] = result.Detail
	st.task.Status = dataType.TaskConverging

	e.tallyLocked(st)
}

// tallyLocked closes the task once a quorum fraction of active peers
// agrees. Majority wins on disagreement; an exact tie fails closed.
func (e *Engine) tallyLocked(st *taskState) {
	required := e.requiredResults()
	passCount, failCount := 0, 0
	for _, passed := range st.results {
		if passed {
			passCount++
		} else {
			failCount++
		}
	}

	switch {
	case passCount >= required:
		e.closeLocked(st, dataType.TaskCompleted, true, "")
	case failCount >= required:
		e.closeLocked(st, dataType.TaskCompleted, false, "quorum agreed the claim does not hold")
	case passCount+failCount >= required:
		if passCount > failCount {
			e.closeLocked(st, dataType.TaskCompleted, true, "")
		} else if failCount > passCount {
			e.closeLocked(st, dataType.TaskCompleted, false, "majority of results negative")
		} else {
			// Exact tie: fail closed, independent of arrival order.
			e.closeLocked(st, dataType.TaskFailed, false, "result tie, failing closed")
		}
	}
}

// requiredResults is ceil(threshold * active peers), never below 1.
func (e *Engine) requiredResults() int {
	n := len(e.reg.ActivePeers())
	required := int(math.Ceil(e.cfg.ConsensusThreshold * float64(n)))
	if required < 1 {
		required = 1
	}
	return required
}

func (e *Engine) onTimeout(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, exists := e.tasks[taskID]
	if !exists || st.closed {
		return
	}
	e.closeLocked(st, dataType.TaskFailed, false, "validation timeout without quorum")
}

func (e *Engine) closeLocked(st *taskState, status dataType.TaskStatus, verdict bool, reason string) {
	st.closed = true
	st.task.Status = status
	st.verdict = verdict
	st.reason = reason
	if st.timer != nil {
		st.timer.Stop()
	}

	if e.metrics != nil {
		e.metrics.TasksTotal.WithLabelValues(string(status)).Inc()
	}
	e.logger.Info("verification finished",
		zap.String("task", st.task.ID),
		zap.String("status", string(status)),
		zap.Bool("verdict", verdict),
		zap.String("reason", reason))

	if e.bus != nil {
		outcome := Outcome{TaskID: st.task.ID, Status: status, Verdict: verdict, FailureReason: reason}
		e.bus.Publish(events.TaskCompleted, outcome)
		if status == dataType.TaskCompleted {
			e.bus.Publish(events.ConsensusReached, outcome)
		}
	}
}

// runLocalCheck dispatches a task to this node's checker for its kind.
func (e *Engine) runLocalCheck(task dataType.VerificationTask) (bool, string) {
	ctx := context.Background()
	switch task.Kind {
	case dataType.TaskAgentSpawning:
		record := e.lifeval.ValidateSpawn(ctx, lifecycle.SpawnClaim{
			AgentID:      task.Target,
			AgentType:    task.Requirements["agent_type"],
			Requirements: task.Requirements,
		})
		return record.Success, summarize(record)

	case dataType.TaskAgentTermination:
		record := e.lifeval.ValidateTermination(ctx, terminationClaim(task))
		return record.Success, summarize(record)

	case dataType.TaskResourceMonitoring:
		res := check.ResourceAvailability{}.Run(ctx, check.Request{
			SubjectID:    task.Target,
			Requirements: task.Requirements,
			Capacity: check.Capacity{
				AvailableMemoryMB: e.cfg.AvailableMemoryMB,
				AvailableCPUCores: e.cfg.AvailableCPUCores,
			},
		})
		return res.Passed(), res.Detail

	case dataType.TaskNetworkConnectivity:
		res := check.NetworkConnectivity{}.Run(ctx, check.Request{
			SubjectID: task.Target,
			Capacity: check.Capacity{
				ActivePeers:    len(e.reg.ActivePeers()),
				MinActivePeers: e.cfg.MinActivePeers,
			},
		})
		return res.Passed(), res.Detail

	case dataType.TaskConsensusState:
		if e.prober == nil {
			return false, "no consensus-state prober configured"
		}
		detail, ok := e.prober()
		return ok, detail
	}
	return false, "unknown task kind"
}

func terminationClaim(task dataType.VerificationTask) lifecycle.TerminationClaim {
	reqs := task.Requirements
	cleanupPending, _ := strconv.Atoi(reqs["cleanup_pending"])
	var dependents []string
	if reqs["dependents"] != "" {
		dependents = strings.Split(reqs["dependents"], ",")
	}
	return lifecycle.TerminationClaim{
		AgentID:        task.Target,
		StateBefore:    reqs["state_before"],
		StateAfter:     reqs["state_after"],
		CleanupPending: cleanupPending,
		Dependents:     dependents,
		ShutdownForced: reqs["shutdown_forced"] == "true",
		ProcessExited:  reqs["process_exited"] != "false",
	}
}

func summarize(record dataType.ValidationRecord) string {
	if record.Success {
		return fmt.Sprintf("%d/%d checks passed", record.Passed, record.Total)
	}
	var failedNames []string
	for _, res := range record.Checks {
		if !res.Passed() {
			failedNames = append(failedNames, res.Name)
		}
	}
	return fmt.Sprintf("%d/%d checks failed: %s", record.Failed, record.Total, strings.Join(failedNames, ", "))
}

// Task returns a copy of a task's current state.
func (e *Engine) Task(taskID string) (dataType.VerificationTask, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, exists := e.tasks[taskID]; exists {
		return st.task, true
	}
	return dataType.VerificationTask{}, false
}

// Verdict returns the outcome of a closed task.
func (e *Engine) Verdict(taskID string) (Outcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, exists := e.tasks[taskID]
	if !exists || !st.closed {
		return Outcome{}, false
	}
	return Outcome{TaskID: taskID, Status: st.task.Status, Verdict: st.verdict, FailureReason: st.reason}, true
}

// Counts summarizes tasks by status for the status API.
func (e *Engine) Counts() map[dataType.TaskStatus]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[dataType.TaskStatus]int)
	for _, st := range e.tasks {
		out[st.task.Status]++
	}
	return out
}
