package persistence

import (
	"time"

	"github.com/google/uuid"
)

// Mission status constants. Status is orthogonal to phase: a mission can be
// in_progress in any phase.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Quality gate result status constants.
const (
	GateStatusPass  = "PASS"
	GateStatusFail  = "FAIL"
	GateStatusError = "ERROR"
)

// ValidStatuses returns all valid mission statuses.
func ValidStatuses() []string {
	return []string{StatusPending, StatusInProgress, StatusCompleted, StatusFailed}
}

// IsValidStatus checks if a status string is valid.
func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses() {
		if status == s {
			return true
		}
	}
	return false
}

// Mission is one unit of work moving through the workflow graph.
//
//nolint:govet // struct alignment optimization not critical for this type
type Mission struct {
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ID             int64          `json:"id"`
	UUID           string         `json:"uuid"`
	Phase          string         `json:"phase"`
	SubPhase       string         `json:"sub_phase,omitempty"`
	Status         string         `json:"status"`
	MaxCost        float64        `json:"max_cost"`
	CurrentCost    float64        `json:"current_cost"`
	AlertThreshold float64        `json:"alert_threshold"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ArtifactRecord is a named output produced during a phase, owned
// exclusively by its mission.
type ArtifactRecord struct {
	CreatedAt    time.Time `json:"created_at"`
	ID           int64     `json:"id"`
	MissionUUID  string    `json:"mission_uuid"`
	ArtifactType string    `json:"artifact_type"`
	ArtifactName string    `json:"artifact_name"`
	Ref          string    `json:"ref,omitempty"` // content hash or commit id
	Path         string    `json:"path,omitempty"`
	URL          string    `json:"url,omitempty"`
}

// ToolCallRecord is an append-only audit entry for one invocation of an
// external tool or capability.
type ToolCallRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	ID           int64     `json:"id"`
	MissionUUID  string    `json:"mission_uuid"`
	ToolName     string    `json:"tool_name"`
	Args         string    `json:"args,omitempty"`   // JSON payload
	Result       string    `json:"result,omitempty"` // JSON payload, empty on failure
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
}

// DecisionRecord is an append-only audit entry capturing why the
// orchestrator or a delegated actor made a choice.
type DecisionRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	ID           int64     `json:"id"`
	MissionUUID  string    `json:"mission_uuid"`
	DecisionType string    `json:"decision_type"`
	Rationale    string    `json:"rationale"`
	Actor        string    `json:"actor"`
}

// QualityGateResult is the append-only outcome of one gate check at one
// transition attempt. Multiple results for the same check are allowed
// (retries); the most recent is authoritative for blocking decisions.
//
//nolint:govet // struct alignment optimization not critical for this type
type QualityGateResult struct {
	Timestamp      time.Time `json:"timestamp"`
	Findings       *int      `json:"findings,omitempty"`
	ID             int64     `json:"id"`
	MissionUUID    string    `json:"mission_uuid"`
	TransitionName string    `json:"transition_name"`
	CheckName      string    `json:"check_name"`
	Status         string    `json:"status"` // PASS, FAIL, ERROR
	Severity       string    `json:"severity"`
	Blocking       bool      `json:"blocking"`
	Message        string    `json:"message,omitempty"`
	Remediation    string    `json:"remediation,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
}

// AuditEvent is one entry in the merged, time-ordered audit trail view.
// Exactly one of ToolCall, Decision or GateResult is set, matching Kind.
type AuditEvent struct {
	Timestamp  time.Time          `json:"timestamp"`
	Kind       string             `json:"kind"` // "tool_call", "decision", "gate_result"
	ToolCall   *ToolCallRecord    `json:"tool_call,omitempty"`
	Decision   *DecisionRecord    `json:"decision,omitempty"`
	GateResult *QualityGateResult `json:"gate_result,omitempty"`
}

// Audit event kind constants.
const (
	AuditKindToolCall   = "tool_call"
	AuditKindDecision   = "decision"
	AuditKindGateResult = "gate_result"
)

// GenerateMissionUUID generates a new external-facing mission UUID.
// The UUID is assigned once at creation and never changes.
func GenerateMissionUUID() string {
	return uuid.New().String()
}
