// Package gate runs the quality checks attached to a workflow transition
// and decides whether the transition may proceed. Every check result is
// persisted before the blocking decision is evaluated, so a gate's outcome
// is durable even when the engine subsequently fails.
package gate

import (
	"context"
	"fmt"
	"time"

	"missioncore/pkg/logx"
	"missioncore/pkg/persistence"
	"missioncore/pkg/workflow"
)

// AuditReport is the auditor's structured result for one check.
type AuditReport struct {
	Status      string `json:"status"` // PASS, FAIL, ERROR
	Findings    *int   `json:"findings,omitempty"`
	Message     string `json:"message,omitempty"`
	Remediation string `json:"remediation,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// Auditor evaluates a single quality-gate check against a mission. It is
// an external collaborator: potentially slow, potentially failing. An
// error return is converted to a status=ERROR report by the engine.
type Auditor interface {
	Check(ctx context.Context, checkName string, mission *persistence.Mission) (*AuditReport, error)
}

// Decision is the engine's verdict for a transition attempt.
type Decision string

const (
	// DecisionProceed means every blocking check passed.
	DecisionProceed Decision = "PROCEED"
	// DecisionBlocked means a blocking check failed or errored.
	DecisionBlocked Decision = "BLOCKED"
)

// Failure is returned when a blocking gate failed or errored. It carries
// the failing check's message and remediation so the caller can present
// actionable guidance and retry from the same phase.
type Failure struct {
	Transition  string
	Check       string
	Status      string
	Message     string
	Remediation string
}

// Error implements the error interface.
func (f *Failure) Error() string {
	msg := fmt.Sprintf("quality gate %s blocked transition %s (status: %s)", f.Check, f.Transition, f.Status)
	if f.Message != "" {
		msg += ": " + f.Message
	}
	return msg
}

// Recorder receives gate check observations for metrics export.
type Recorder interface {
	ObserveGateCheck(checkName, status string, duration time.Duration)
}

// Engine evaluates the gate list of a transition against a mission.
type Engine struct {
	store        *persistence.Store
	auditor      Auditor
	logger       *logx.Logger
	recorder     Recorder
	checkTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithCheckTimeout bounds each auditor invocation. A check that exceeds
// the deadline is recorded as status=ERROR rather than hanging the
// per-mission lock.
func WithCheckTimeout(d time.Duration) Option {
	return func(e *Engine) { e.checkTimeout = d }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// DefaultCheckTimeout bounds a single auditor invocation. Auditor calls
// may represent LLM invocations, so minutes rather than seconds.
const DefaultCheckTimeout = 5 * time.Minute

// NewEngine creates a quality gate engine over the given store and auditor.
func NewEngine(store *persistence.Store, auditor Auditor, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		auditor:      auditor,
		logger:       logx.NewLogger("gate-engine"),
		checkTimeout: DefaultCheckTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every gate check attached to the transition, in list
// order. All scheduled checks run even after a blocking failure: the
// complete audit trail takes priority over fast-fail. The first blocking
// FAIL or ERROR is surfaced as a *Failure after the loop has recorded
// everything; non-blocking failures are recorded but do not block.
func (e *Engine) Evaluate(ctx context.Context, mission *persistence.Mission, transition *workflow.Transition) (Decision, error) {
	var firstFailure *Failure

	for i := range transition.Gates {
		spec := &transition.Gates[i]
		report := e.runCheck(ctx, spec.Check, mission)

		rec := &persistence.QualityGateResult{
			MissionUUID:    mission.UUID,
			TransitionName: transition.Name,
			CheckName:      spec.Check,
			Status:         report.Status,
			Severity:       spec.Severity,
			Blocking:       spec.Blocking,
			Findings:       report.Findings,
			Message:        report.Message,
			Remediation:    report.Remediation,
			DurationMS:     report.DurationMS,
		}

		// The result must be durable before any control-flow effect.
		if err := e.store.AppendQualityGateResult(rec); err != nil {
			return DecisionBlocked, fmt.Errorf("failed to record gate result for %s: %w", spec.Check, err)
		}

		if e.recorder != nil {
			e.recorder.ObserveGateCheck(spec.Check, report.Status, time.Duration(report.DurationMS)*time.Millisecond)
		}

		// An errored check is blocking-equivalent when the gate is marked
		// blocking: an engine failure must never silently permit an
		// unverified transition.
		if spec.Blocking && report.Status != persistence.GateStatusPass && firstFailure == nil {
			firstFailure = &Failure{
				Transition:  transition.Name,
				Check:       spec.Check,
				Status:      report.Status,
				Message:     report.Message,
				Remediation: report.Remediation,
			}
		}

		if report.Status != persistence.GateStatusPass {
			e.logger.Warn("Gate %s on %s: %s (blocking: %v)", spec.Check, transition.Name, report.Status, spec.Blocking)
		} else {
			e.logger.Debug("Gate %s on %s: PASS", spec.Check, transition.Name)
		}
	}

	if firstFailure != nil {
		return DecisionBlocked, firstFailure
	}
	return DecisionProceed, nil
}

// runCheck invokes the auditor under the per-check deadline, converting
// errors, panics and timeouts into status=ERROR reports.
func (e *Engine) runCheck(ctx context.Context, checkName string, mission *persistence.Mission) (report *AuditReport) {
	checkCtx, cancel := context.WithTimeout(ctx, e.checkTimeout)
	defer cancel()

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			report = &AuditReport{
				Status:     persistence.GateStatusError,
				Message:    fmt.Sprintf("auditor panicked: %v", r),
				DurationMS: time.Since(start).Milliseconds(),
			}
		}
	}()

	result, err := e.auditor.Check(checkCtx, checkName, mission)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		msg := fmt.Sprintf("auditor error: %v", err)
		if checkCtx.Err() != nil {
			msg = fmt.Sprintf("auditor timed out after %s", e.checkTimeout)
		}
		return &AuditReport{
			Status:     persistence.GateStatusError,
			Message:    msg,
			DurationMS: elapsed,
		}
	}
	if result == nil {
		return &AuditReport{
			Status:     persistence.GateStatusError,
			Message:    "auditor returned no report",
			DurationMS: elapsed,
		}
	}

	if result.DurationMS == 0 {
		result.DurationMS = elapsed
	}
	return result
}
