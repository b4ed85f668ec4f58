package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncore/pkg/persistence"
	"missioncore/pkg/workflow"
)

// scriptedAuditor returns a canned report (or error) per check name and
// records the order checks were invoked in.
type scriptedAuditor struct {
	reports map[string]*AuditReport
	errs    map[string]error
	calls   []string
	panicOn string
	blockOn string // check that blocks until ctx expires
}

func (a *scriptedAuditor) Check(ctx context.Context, checkName string, _ *persistence.Mission) (*AuditReport, error) {
	a.calls = append(a.calls, checkName)
	if checkName == a.panicOn {
		panic("auditor exploded")
	}
	if checkName == a.blockOn {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := a.errs[checkName]; ok {
		return nil, err
	}
	if report, ok := a.reports[checkName]; ok {
		return report, nil
	}
	return &AuditReport{Status: persistence.GateStatusPass}, nil
}

func newGateTestStore(t *testing.T) *persistence.Store {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "gate_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tempDir) })

	db, err := persistence.InitializeDatabase(filepath.Join(tempDir, "test.db"))
	require.NoError(t, err)
	store := persistence.NewStore(db)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func createGateTestMission(t *testing.T, store *persistence.Store) *persistence.Mission {
	t.Helper()
	uuid, err := store.CreateMission("CODING", 0, 0, nil)
	require.NoError(t, err)
	mission, err := store.GetMission(uuid)
	require.NoError(t, err)
	return mission
}

func testTransition(gates ...workflow.GateSpec) *workflow.Transition {
	return &workflow.Transition{
		Name:  "T2_StartTesting",
		From:  workflow.PhaseCoding,
		To:    workflow.PhaseTesting,
		Gates: gates,
	}
}

func TestEvaluateAllPass(t *testing.T) {
	store := newGateTestStore(t)
	mission := createGateTestMission(t, store)
	auditor := &scriptedAuditor{}

	engine := NewEngine(store, auditor)
	decision, err := engine.Evaluate(context.Background(), mission, testTransition(
		workflow.GateSpec{Check: "lint", Blocking: true},
		workflow.GateSpec{Check: "unit_tests", Blocking: true},
	))

	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, decision)
	assert.Equal(t, []string{"lint", "unit_tests"}, auditor.calls)

	results, err := store.ListQualityGateResults(mission.UUID, "T2_StartTesting")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, rec := range results {
		assert.Equal(t, persistence.GateStatusPass, rec.Status)
	}
}

func TestEvaluateBlockingFailure(t *testing.T) {
	store := newGateTestStore(t)
	mission := createGateTestMission(t, store)
	findings := 3
	auditor := &scriptedAuditor{
		reports: map[string]*AuditReport{
			"security_scan": {
				Status:      persistence.GateStatusFail,
				Findings:    &findings,
				Message:     "3 injection findings",
				Remediation: "sanitize inputs",
			},
		},
	}

	engine := NewEngine(store, auditor)
	decision, err := engine.Evaluate(context.Background(), mission, testTransition(
		workflow.GateSpec{Check: "security_scan", Severity: "high", Blocking: true},
	))

	assert.Equal(t, DecisionBlocked, decision)
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "security_scan", failure.Check)
	assert.Equal(t, persistence.GateStatusFail, failure.Status)
	assert.Equal(t, "sanitize inputs", failure.Remediation)

	// The FAIL record must be durable even though the transition blocked.
	results, err := store.ListQualityGateResults(mission.UUID, "T2_StartTesting")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, persistence.GateStatusFail, results[0].Status)
	assert.True(t, results[0].Blocking)
	require.NotNil(t, results[0].Findings)
	assert.Equal(t, 3, *results[0].Findings)
}

func TestEvaluateRunsAllChecksAfterBlockingFailure(t *testing.T) {
	store := newGateTestStore(t)
	mission := createGateTestMission(t, store)
	auditor := &scriptedAuditor{
		reports: map[string]*AuditReport{
			"lint": {Status: persistence.GateStatusFail, Message: "style violations"},
		},
	}

	engine := NewEngine(store, auditor)
	decision, err := engine.Evaluate(context.Background(), mission, testTransition(
		workflow.GateSpec{Check: "lint", Blocking: true},
		workflow.GateSpec{Check: "unit_tests", Blocking: true},
		workflow.GateSpec{Check: "coverage", Blocking: false},
	))

	assert.Equal(t, DecisionBlocked, decision)
	require.Error(t, err)

	// Later checks still ran and were recorded.
	assert.Equal(t, []string{"lint", "unit_tests", "coverage"}, auditor.calls)
	results, listErr := store.ListQualityGateResults(mission.UUID, "T2_StartTesting")
	require.NoError(t, listErr)
	assert.Len(t, results, 3)

	// The first blocking failure is the one surfaced.
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "lint", failure.Check)
}

func TestEvaluateNonBlockingFailureProceeds(t *testing.T) {
	store := newGateTestStore(t)
	mission := createGateTestMission(t, store)
	auditor := &scriptedAuditor{
		reports: map[string]*AuditReport{
			"coverage": {Status: persistence.GateStatusFail, Message: "coverage below target"},
		},
	}

	engine := NewEngine(store, auditor)
	decision, err := engine.Evaluate(context.Background(), mission, testTransition(
		workflow.GateSpec{Check: "coverage", Severity: "low", Blocking: false},
		workflow.GateSpec{Check: "unit_tests", Blocking: true},
	))

	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, decision)

	// The advisory failure is still on the record.
	results, err := store.ListQualityGateResults(mission.UUID, "T2_StartTesting")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, persistence.GateStatusFail, results[0].Status)
	assert.False(t, results[0].Blocking)
}

func TestEvaluateAuditorErrorBlocks(t *testing.T) {
	store := newGateTestStore(t)
	mission := createGateTestMission(t, store)
	auditor := &scriptedAuditor{
		errs: map[string]error{"security_scan": errors.New("scanner unreachable")},
	}

	engine := NewEngine(store, auditor)
	decision, err := engine.Evaluate(context.Background(), mission, testTransition(
		workflow.GateSpec{Check: "security_scan", Blocking: true},
	))

	assert.Equal(t, DecisionBlocked, decision)
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, persistence.GateStatusError, failure.Status)
	assert.Contains(t, failure.Message, "scanner unreachable")

	results, listErr := store.ListQualityGateResults(mission.UUID, "T2_StartTesting")
	require.NoError(t, listErr)
	require.Len(t, results, 1)
	assert.Equal(t, persistence.GateStatusError, results[0].Status)
}

func TestEvaluateAuditorPanicBlocks(t *testing.T) {
	store := newGateTestStore(t)
	mission := createGateTestMission(t, store)
	auditor := &scriptedAuditor{panicOn: "security_scan"}

	engine := NewEngine(store, auditor)
	decision, err := engine.Evaluate(context.Background(), mission, testTransition(
		workflow.GateSpec{Check: "security_scan", Blocking: true},
	))

	assert.Equal(t, DecisionBlocked, decision)
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, persistence.GateStatusError, failure.Status)
	assert.Contains(t, failure.Message, "panicked")
}

func TestEvaluateAuditorTimeout(t *testing.T) {
	store := newGateTestStore(t)
	mission := createGateTestMission(t, store)
	auditor := &scriptedAuditor{blockOn: "slow_check"}

	engine := NewEngine(store, auditor, WithCheckTimeout(50*time.Millisecond))
	decision, err := engine.Evaluate(context.Background(), mission, testTransition(
		workflow.GateSpec{Check: "slow_check", Blocking: true},
	))

	assert.Equal(t, DecisionBlocked, decision)
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, persistence.GateStatusError, failure.Status)
	assert.Contains(t, failure.Message, "timed out")
}

func TestEvaluateNoGates(t *testing.T) {
	store := newGateTestStore(t)
	mission := createGateTestMission(t, store)
	auditor := &scriptedAuditor{}

	engine := NewEngine(store, auditor)
	decision, err := engine.Evaluate(context.Background(), mission, testTransition())

	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, decision)
	assert.Empty(t, auditor.calls)
}

// countingRecorder captures metric observations for assertions.
type countingRecorder struct {
	observations map[string]int
}

func (r *countingRecorder) ObserveGateCheck(checkName, status string, _ time.Duration) {
	if r.observations == nil {
		r.observations = make(map[string]int)
	}
	r.observations[fmt.Sprintf("%s/%s", checkName, status)]++
}

func TestEvaluateRecordsMetrics(t *testing.T) {
	store := newGateTestStore(t)
	mission := createGateTestMission(t, store)
	auditor := &scriptedAuditor{
		reports: map[string]*AuditReport{
			"lint": {Status: persistence.GateStatusFail},
		},
	}
	recorder := &countingRecorder{}

	engine := NewEngine(store, auditor, WithRecorder(recorder))
	_, _ = engine.Evaluate(context.Background(), mission, testTransition(
		workflow.GateSpec{Check: "lint", Blocking: false},
		workflow.GateSpec{Check: "unit_tests", Blocking: true},
	))

	assert.Equal(t, 1, recorder.observations["lint/FAIL"])
	assert.Equal(t, 1, recorder.observations["unit_tests/PASS"])
}
