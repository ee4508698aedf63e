package check

import (
	"context"

	"verimesh/internal/dataType"
)

// Request carries one lifecycle claim plus the capacity snapshot the
// checks evaluate it against. Checks are pure functions of this input:
// no randomness, no hidden state, so a suite is reproducible.
type Request struct {
	SubjectID    string
	AgentType    string
	Requirements map[string]string

	Capacity Capacity
}

// Capacity is the local node's view of its resources at check time.
// Tests inject fixed snapshots to make every outcome deterministic.
type Capacity struct {
	AvailableMemoryMB   int
	AvailableCPUCores   int
	MaxAgents           int
	RegisteredAgents    int
	SupportedAgentTypes []string

	ActivePeers    int
	MinActivePeers int

	// Termination-side state.
	StateBefore     string
	StateAfter      string
	CleanupPending  int
	Dependents      []string
	ShutdownForced  bool
	ProcessExited   bool
}

// Checker is one independently-runnable check. Run never returns an
// error: a failed check is a CheckResult with outcome fail, collected
// alongside the others rather than short-circuiting the suite.
type Checker interface {
	Name() string
	Run(ctx context.Context, req Request) dataType.CheckResult
}

func pass(name, detail string) dataType.CheckResult {
	return dataType.CheckResult{Name: name, Outcome: dataType.CheckPass, Detail: detail}
}

func fail(name, detail string) dataType.CheckResult {
	return dataType.CheckResult{Name: name, Outcome: dataType.CheckFail, Detail: detail}
}

// SpawnSuite is the check battery for an agent-spawn claim.
func SpawnSuite() []Checker {
	return []Checker{
		ResourceAvailability{},
		AgentTypeSupport{},
		SpawnConstraints{},
		NetworkConnectivity{},
		InitFeasibility{},
	}
}

// TerminationSuite is the check battery for an agent-termination claim.
func TerminationSuite() []Checker {
	return []Checker{
		GracefulShutdown{},
		ResourceCleanup{},
		StateConsistency{},
		DependencyHandling{},
		TerminationComplete{},
	}
}
