// Package orchestrator drives a mission through the workflow graph: it
// owns the decision of when a mission changes phase, enforces quality
// gates at transition boundaries and keeps every decision durable.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"missioncore/pkg/gate"
	"missioncore/pkg/logx"
	"missioncore/pkg/persistence"
	"missioncore/pkg/workflow"
)

var (
	// ErrNoTransition indicates the requested intent has no matching
	// transition from the mission's current phase. Caller error, not
	// retried.
	ErrNoTransition = errors.New("no matching transition")

	// ErrInvalidState indicates an operation is not permitted in the
	// mission's current state, e.g. advancing a failed or terminal
	// mission, or approving one that is not waiting.
	ErrInvalidState = errors.New("invalid mission state")
)

// Intents recorded by Approve and fed back into transition resolution.
const (
	IntentApproved = "approved"
	IntentRejected = "rejected"
)

// PhaseResult is what the external Phase Executor returns after performing
// the actual work of a phase.
type PhaseResult struct {
	Artifacts     []*persistence.ArtifactRecord
	Decisions     []*persistence.DecisionRecord
	Success       bool
	NextPhaseHint workflow.Phase
	CostDelta     float64
}

// PhaseExecutor is the external collaborator that performs the work of a
// phase. It is treated as an opaque, potentially slow, potentially failing
// black box; the orchestrator bounds it with a deadline.
type PhaseExecutor interface {
	Execute(ctx context.Context, mission *persistence.Mission, target workflow.Phase) (*PhaseResult, error)
}

// Recorder receives orchestrator observations for metrics export.
type Recorder interface {
	ObserveTransition(transitionName, status string, duration time.Duration)
	AddCost(costUSD float64)
}

// EventSink mirrors orchestrator events to an external audit stream.
type EventSink interface {
	WriteEvent(missionUUID, eventType string, payload map[string]any) error
}

// DefaultExecTimeout bounds a single Phase Executor call. There is no
// mid-flight cancellation once dispatched; the system relies on
// bounded-time collaborators.
const DefaultExecTimeout = 30 * time.Minute

// Orchestrator is the state machine driver for missions.
type Orchestrator struct {
	store       *persistence.Store
	def         *workflow.Definition
	gates       *gate.Engine
	executor    PhaseExecutor
	logger      *logx.Logger
	recorder    Recorder
	events      EventSink
	execTimeout time.Duration

	// Per-mission exclusive locks: each mission is advanced by at most
	// one in-flight call at a time; different missions proceed in
	// parallel.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExecTimeout bounds each Phase Executor call.
func WithExecTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.execTimeout = d }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithEventSink attaches an audit event sink.
func WithEventSink(s EventSink) Option {
	return func(o *Orchestrator) { o.events = s }
}

// New creates an Orchestrator over an immutable workflow definition. The
// definition is read-only configuration for the orchestrator's lifetime.
func New(store *persistence.Store, def *workflow.Definition, gates *gate.Engine, executor PhaseExecutor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		def:         def,
		gates:       gates,
		executor:    executor,
		logger:      logx.NewLogger("orchestrator"),
		execTimeout: DefaultExecTimeout,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// missionLock returns the exclusive lock for one mission UUID.
func (o *Orchestrator) missionLock(missionUUID string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()

	lock, ok := o.locks[missionUUID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[missionUUID] = lock
	}
	return lock
}

// CreateMission creates a mission at the given initial phase. The phase
// must be declared in the workflow definition.
func (o *Orchestrator) CreateMission(initialPhase workflow.Phase, maxCost, alertThreshold float64, metadata map[string]any) (string, error) {
	if !o.def.HasPhase(initialPhase) {
		return "", fmt.Errorf("%w: %s is not a phase in workflow %s", persistence.ErrValidation, initialPhase, o.def.Name)
	}
	return o.store.CreateMission(initialPhase.String(), maxCost, alertThreshold, metadata)
}

// GetMissionStatus returns the mission's current persisted state.
func (o *Orchestrator) GetMissionStatus(missionUUID string) (*persistence.Mission, error) {
	return o.store.GetMission(missionUUID)
}

// GetAuditTrail returns the merged, time-ordered audit view across tool
// calls, decisions and gate results.
func (o *Orchestrator) GetAuditTrail(missionUUID string) ([]*persistence.AuditEvent, error) {
	return o.store.ListAuditTrail(missionUUID)
}

// Advance attempts to move the mission along the transition matching the
// given intent. The failed attempt trail is always durable: on a gate
// failure the mission stays at its pre-transition phase so the caller can
// remediate and retry.
func (o *Orchestrator) Advance(ctx context.Context, missionUUID, intent string) (*persistence.Mission, error) {
	lock := o.missionLock(missionUUID)
	lock.Lock()
	defer lock.Unlock()

	return o.advanceLocked(ctx, missionUUID, intent)
}

// advanceLocked runs the advance sequence. The caller holds the mission
// lock.
func (o *Orchestrator) advanceLocked(ctx context.Context, missionUUID, intent string) (*persistence.Mission, error) {
	mission, err := o.store.GetMission(missionUUID)
	if err != nil {
		return nil, err
	}

	// Advancing a terminated mission is not permitted.
	if mission.Status == persistence.StatusFailed {
		return nil, fmt.Errorf("%w: mission %s has failed", ErrInvalidState, missionUUID)
	}
	if o.def.IsTerminal(workflow.Phase(mission.Phase)) {
		return nil, fmt.Errorf("%w: mission %s is in terminal phase %s", ErrInvalidState, missionUUID, mission.Phase)
	}

	// Budget check before any further work. A zero max_cost means the
	// mission is unbudgeted.
	if mission.MaxCost > 0 && mission.CurrentCost >= mission.MaxCost {
		return nil, fmt.Errorf("%w: mission %s spent %.4f of %.4f",
			persistence.ErrBudgetExceeded, missionUUID, mission.CurrentCost, mission.MaxCost)
	}

	transition := o.def.Resolve(workflow.Phase(mission.Phase), intent)
	if transition == nil {
		return nil, fmt.Errorf("%w: from phase %s with intent %q", ErrNoTransition, mission.Phase, intent)
	}

	start := time.Now()

	// Gate evaluation records every check before deciding. On failure the
	// mission phase is not changed; the recorded attempt is the audit
	// trail for the retry.
	if _, err := o.gates.Evaluate(ctx, mission, transition); err != nil {
		o.observeTransition(transition.Name, "blocked", time.Since(start))
		o.emitEvent(missionUUID, "transition_blocked", map[string]any{
			"transition": transition.Name,
			"from":       mission.Phase,
			"error":      err.Error(),
		})
		return nil, err
	}

	// A wait-state target is a durable pause: persist the phase and
	// return without invoking the Phase Executor. Approve is the only way
	// out.
	if o.def.IsWaitState(transition.To) {
		if err := o.store.UpdateMissionPhase(missionUUID, transition.To.String(), persistence.StatusInProgress); err != nil {
			return nil, err
		}
		o.observeTransition(transition.Name, "waiting", time.Since(start))
		o.emitEvent(missionUUID, "awaiting_approval", map[string]any{
			"transition": transition.Name,
			"phase":      transition.To.String(),
		})
		return o.store.GetMission(missionUUID)
	}

	result := o.executePhase(ctx, mission, transition)

	// Persist everything the executor produced before the phase-mutating
	// write: a crash leaves the phase at the last completed transition,
	// never a half-applied one.
	for _, artifact := range result.Artifacts {
		artifact.MissionUUID = missionUUID
		if err := o.store.AppendArtifact(artifact); err != nil {
			return nil, err
		}
	}
	for _, decision := range result.Decisions {
		decision.MissionUUID = missionUUID
		if err := o.store.AppendDecision(decision); err != nil {
			return nil, err
		}
	}

	if result.CostDelta > 0 {
		// Soft enforcement when recording completed work: the spend has
		// already happened, the budget check at the top of the next
		// Advance is what halts the mission.
		if _, err := o.store.IncrementCost(missionUUID, result.CostDelta, false); err != nil {
			return nil, err
		}
		if o.recorder != nil {
			o.recorder.AddCost(result.CostDelta)
		}
	}

	newStatus := persistence.StatusInProgress
	switch {
	case !result.Success:
		newStatus = persistence.StatusFailed
	case o.def.IsTerminal(transition.To):
		newStatus = persistence.StatusCompleted
	case result.NextPhaseHint != "" && o.def.IsTerminal(result.NextPhaseHint):
		newStatus = persistence.StatusCompleted
	}

	if err := o.store.UpdateMissionPhase(missionUUID, transition.To.String(), newStatus); err != nil {
		return nil, err
	}

	o.observeTransition(transition.Name, newStatus, time.Since(start))
	o.emitEvent(missionUUID, "transition_completed", map[string]any{
		"transition": transition.Name,
		"from":       mission.Phase,
		"to":         transition.To.String(),
		"status":     newStatus,
	})

	return o.store.GetMission(missionUUID)
}

// executePhase delegates phase work to the external executor under a
// deadline. Executor errors degrade into a recorded, actionable failure
// rather than a raised one.
func (o *Orchestrator) executePhase(ctx context.Context, mission *persistence.Mission, transition *workflow.Transition) *PhaseResult {
	execCtx, cancel := context.WithTimeout(ctx, o.execTimeout)
	defer cancel()

	result, err := o.executor.Execute(execCtx, mission, transition.To)
	if err != nil {
		msg := fmt.Sprintf("phase executor failed for transition %s: %v", transition.Name, err)
		if execCtx.Err() != nil {
			msg = fmt.Sprintf("phase executor timed out after %s on transition %s", o.execTimeout, transition.Name)
		}
		o.logger.Error("%s", msg)
		return &PhaseResult{
			Success: false,
			Decisions: []*persistence.DecisionRecord{{
				DecisionType: "phase_execution_failed",
				Rationale:    msg,
				Actor:        "orchestrator",
			}},
		}
	}
	if result == nil {
		return &PhaseResult{Success: false, Decisions: []*persistence.DecisionRecord{{
			DecisionType: "phase_execution_failed",
			Rationale:    fmt.Sprintf("phase executor returned no result for transition %s", transition.Name),
			Actor:        "orchestrator",
		}}}
	}
	return result
}

// Approve resolves a HITL wait-state: it records the approval decision and
// re-drives the transition with the outcome as intent. It is the only way
// out of a wait-state.
func (o *Orchestrator) Approve(ctx context.Context, missionUUID, approver string, approved bool) (*persistence.Mission, error) {
	lock := o.missionLock(missionUUID)
	lock.Lock()
	defer lock.Unlock()

	mission, err := o.store.GetMission(missionUUID)
	if err != nil {
		return nil, err
	}

	if !o.def.IsWaitState(workflow.Phase(mission.Phase)) {
		return nil, fmt.Errorf("%w: mission %s is not awaiting approval (phase: %s)",
			ErrInvalidState, missionUUID, mission.Phase)
	}

	intent := IntentApproved
	verdict := "approved"
	if !approved {
		intent = IntentRejected
		verdict = "rejected"
	}

	decision := &persistence.DecisionRecord{
		MissionUUID:  missionUUID,
		DecisionType: "approval",
		Rationale:    fmt.Sprintf("mission %s at phase %s by %s", verdict, mission.Phase, approver),
		Actor:        approver,
	}
	if err := o.store.AppendDecision(decision); err != nil {
		return nil, err
	}

	o.emitEvent(missionUUID, "approval_recorded", map[string]any{
		"approver": approver,
		"approved": approved,
		"phase":    mission.Phase,
	})

	return o.advanceLocked(ctx, missionUUID, intent)
}

func (o *Orchestrator) observeTransition(name, status string, duration time.Duration) {
	if o.recorder != nil {
		o.recorder.ObserveTransition(name, status, duration)
	}
}

func (o *Orchestrator) emitEvent(missionUUID, eventType string, payload map[string]any) {
	if o.events == nil {
		return
	}
	if err := o.events.WriteEvent(missionUUID, eventType, payload); err != nil {
		o.logger.Warn("Failed to write %s event for %s: %v", eventType, missionUUID, err)
	}
}
