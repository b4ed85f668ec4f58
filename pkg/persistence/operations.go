package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"missioncore/pkg/logx"
)

// Store provides durable, queryable storage for missions and their audit
// records. It has no knowledge of workflow semantics; transition legality
// is the orchestrator's concern.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// NewStore creates a Store over an initialized database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: logx.NewLogger("persistence"),
	}
}

// DB exposes the underlying connection for lifecycle management.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// missionRowID resolves a mission UUID to its internal surrogate key.
func (s *Store) missionRowID(missionUUID string) (int64, error) {
	var id int64
	err := s.db.QueryRow("SELECT id FROM missions WHERE uuid = ?", missionUUID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", ErrMissionNotFound, missionUUID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve mission %s: %w", missionUUID, err)
	}
	return id, nil
}

// CreateMission creates a new mission at the given initial phase with a
// fresh UUID and status pending. Budget fields and metadata are fixed at
// creation; metadata is an opaque payload for fields not promoted to
// columns.
func (s *Store) CreateMission(initialPhase string, maxCost, alertThreshold float64, metadata map[string]any) (string, error) {
	if initialPhase == "" {
		return "", fmt.Errorf("%w: initial phase must not be empty", ErrValidation)
	}
	if maxCost < 0 || alertThreshold < 0 {
		return "", fmt.Errorf("%w: budget fields must not be negative", ErrValidation)
	}

	var metadataJSON any
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("%w: failed to marshal metadata: %v", ErrValidation, err)
		}
		metadataJSON = string(data)
	}

	missionUUID := GenerateMissionUUID()
	now := time.Now().UTC()

	query := `
		INSERT INTO missions (uuid, phase, status, created_at, updated_at, max_cost, current_cost, alert_threshold, metadata)
		VALUES (?, ?, ?, ?, ?, ?, 0.0, ?, ?)
	`
	_, err := s.db.Exec(query, missionUUID, initialPhase, StatusPending, now, now, maxCost, alertThreshold, metadataJSON)
	if err != nil {
		return "", fmt.Errorf("failed to create mission: %w", err)
	}

	s.logger.Info("Mission created: %s (phase: %s, max_cost: %.4f)", missionUUID, initialPhase, maxCost)
	return missionUUID, nil
}

// GetMission retrieves a mission by its UUID.
func (s *Store) GetMission(missionUUID string) (*Mission, error) {
	query := `
		SELECT id, uuid, phase, sub_phase, status, created_at, updated_at, completed_at,
		       max_cost, current_cost, alert_threshold, metadata
		FROM missions WHERE uuid = ?
	`

	var m Mission
	var subPhase, metadata sql.NullString
	var completedAt sql.NullTime

	err := s.db.QueryRow(query, missionUUID).Scan(
		&m.ID, &m.UUID, &m.Phase, &subPhase, &m.Status, &m.CreatedAt, &m.UpdatedAt,
		&completedAt, &m.MaxCost, &m.CurrentCost, &m.AlertThreshold, &metadata,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrMissionNotFound, missionUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mission %s: %w", missionUUID, err)
	}

	if subPhase.Valid {
		m.SubPhase = subPhase.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		m.CompletedAt = &t
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for mission %s: %w", missionUUID, err)
		}
	}

	return &m, nil
}

// ListMissions returns all missions, optionally filtered by status,
// ordered by creation time.
func (s *Store) ListMissions(status string) ([]*Mission, error) {
	if status != "" && !IsValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %s", ErrValidation, status)
	}

	query := `
		SELECT uuid FROM missions
	`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var uuids []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan mission row: %w", err)
		}
		uuids = append(uuids, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mission row iteration error: %w", err)
	}

	missions := make([]*Mission, 0, len(uuids))
	for _, u := range uuids {
		m, err := s.GetMission(u)
		if err != nil {
			return nil, err
		}
		missions = append(missions, m)
	}
	return missions, nil
}

// UpdateMissionPhase moves a mission to a new phase and status. The
// orchestrator must have validated transition legality before calling.
// Side effect: updated_at is refreshed; completed_at is set when the new
// status is completed.
func (s *Store) UpdateMissionPhase(missionUUID, newPhase, newStatus string) error {
	if newPhase == "" {
		return fmt.Errorf("%w: phase must not be empty", ErrValidation)
	}
	if !IsValidStatus(newStatus) {
		return fmt.Errorf("%w: unknown status %s", ErrValidation, newStatus)
	}

	now := time.Now().UTC()
	var result sql.Result
	var err error
	if newStatus == StatusCompleted {
		result, err = s.db.Exec(
			"UPDATE missions SET phase = ?, status = ?, updated_at = ?, completed_at = ? WHERE uuid = ?",
			newPhase, newStatus, now, now, missionUUID,
		)
	} else {
		result, err = s.db.Exec(
			"UPDATE missions SET phase = ?, status = ?, updated_at = ? WHERE uuid = ?",
			newPhase, newStatus, now, missionUUID,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update mission %s phase: %w", missionUUID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrMissionNotFound, missionUUID)
	}

	s.logger.Info("Mission %s moved to phase %s (status: %s)", missionUUID, newPhase, newStatus)
	return nil
}

// IncrementCost atomically adds deltaUSD to the mission's current cost and
// returns the new total. Under hard enforcement the call fails with
// ErrBudgetExceeded, recording nothing, when the new total would exceed
// max_cost; soft mode records the overage and logs a warning. Cost is
// append-only: negative deltas are rejected.
func (s *Store) IncrementCost(missionUUID string, deltaUSD float64, hardEnforce bool) (float64, error) {
	if deltaUSD < 0 {
		return 0, fmt.Errorf("%w: cost delta must not be negative", ErrValidation)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin cost transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current, maxCost, alertThreshold float64
	err = tx.QueryRow(
		"SELECT current_cost, max_cost, alert_threshold FROM missions WHERE uuid = ?",
		missionUUID,
	).Scan(&current, &maxCost, &alertThreshold)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", ErrMissionNotFound, missionUUID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read mission cost: %w", err)
	}

	newTotal := current + deltaUSD
	if hardEnforce && newTotal > maxCost {
		return current, fmt.Errorf("%w: %.4f + %.4f exceeds max_cost %.4f",
			ErrBudgetExceeded, current, deltaUSD, maxCost)
	}

	_, err = tx.Exec(
		"UPDATE missions SET current_cost = ?, updated_at = ? WHERE uuid = ?",
		newTotal, time.Now().UTC(), missionUUID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update mission cost: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cost transaction: %w", err)
	}

	if newTotal > maxCost {
		s.logger.Warn("Mission %s over budget: %.4f of %.4f (soft enforcement)", missionUUID, newTotal, maxCost)
	} else if alertThreshold > 0 && current < alertThreshold && newTotal >= alertThreshold {
		s.logger.Warn("Mission %s crossed budget alert threshold: %.4f of %.4f", missionUUID, newTotal, maxCost)
	}

	return newTotal, nil
}

// AppendToolCall inserts a tool call audit record. Append-only; records
// are never updated after insert.
func (s *Store) AppendToolCall(rec *ToolCallRecord) error {
	if rec.ToolName == "" {
		return fmt.Errorf("%w: tool name must not be empty", ErrValidation)
	}
	missionID, err := s.missionRowID(rec.MissionUUID)
	if err != nil {
		return err
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO tool_calls (mission_id, tool_name, args, result, success, error_message, timestamp, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query, missionID, rec.ToolName, rec.Args, rec.Result,
		rec.Success, rec.ErrorMessage, rec.Timestamp, rec.DurationMS)
	if err != nil {
		return fmt.Errorf("failed to append tool call: %w", err)
	}
	rec.ID, _ = result.LastInsertId()
	return nil
}

// AppendDecision inserts a decision audit record.
func (s *Store) AppendDecision(rec *DecisionRecord) error {
	if rec.DecisionType == "" || rec.Actor == "" {
		return fmt.Errorf("%w: decision type and actor must not be empty", ErrValidation)
	}
	missionID, err := s.missionRowID(rec.MissionUUID)
	if err != nil {
		return err
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO decisions (mission_id, decision_type, rationale, actor, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query, missionID, rec.DecisionType, rec.Rationale, rec.Actor, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	rec.ID, _ = result.LastInsertId()
	return nil
}

// AppendQualityGateResult inserts a gate result audit record.
func (s *Store) AppendQualityGateResult(rec *QualityGateResult) error {
	if rec.TransitionName == "" || rec.CheckName == "" {
		return fmt.Errorf("%w: transition and check name must not be empty", ErrValidation)
	}
	switch rec.Status {
	case GateStatusPass, GateStatusFail, GateStatusError:
	default:
		return fmt.Errorf("%w: unknown gate status %s", ErrValidation, rec.Status)
	}

	missionID, err := s.missionRowID(rec.MissionUUID)
	if err != nil {
		return err
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO quality_gate_results (mission_id, transition_name, check_name, status, severity, blocking, findings, message, remediation, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query, missionID, rec.TransitionName, rec.CheckName, rec.Status,
		rec.Severity, rec.Blocking, rec.Findings, rec.Message, rec.Remediation, rec.DurationMS, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append gate result: %w", err)
	}
	rec.ID, _ = result.LastInsertId()
	return nil
}

// AppendArtifact inserts an artifact record.
func (s *Store) AppendArtifact(rec *ArtifactRecord) error {
	if rec.ArtifactType == "" || rec.ArtifactName == "" {
		return fmt.Errorf("%w: artifact type and name must not be empty", ErrValidation)
	}
	missionID, err := s.missionRowID(rec.MissionUUID)
	if err != nil {
		return err
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO artifacts (mission_id, artifact_type, artifact_name, ref, path, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query, missionID, rec.ArtifactType, rec.ArtifactName,
		rec.Ref, rec.Path, rec.URL, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append artifact: %w", err)
	}
	rec.ID, _ = result.LastInsertId()
	return nil
}

// ListToolCalls returns the mission's tool call records ordered by
// timestamp. An empty slice, not an error, when none exist.
func (s *Store) ListToolCalls(missionUUID string) ([]*ToolCallRecord, error) {
	missionID, err := s.missionRowID(missionUUID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, tool_name, args, result, success, error_message, timestamp, duration_ms
		FROM tool_calls WHERE mission_id = ? ORDER BY timestamp ASC, id ASC
	`
	rows, err := s.db.Query(query, missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*ToolCallRecord{}
	for rows.Next() {
		rec := &ToolCallRecord{MissionUUID: missionUUID}
		var args, result, errorMessage sql.NullString
		if err := rows.Scan(&rec.ID, &rec.ToolName, &args, &result, &rec.Success,
			&errorMessage, &rec.Timestamp, &rec.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan tool call row: %w", err)
		}
		rec.Args = args.String
		rec.Result = result.String
		rec.ErrorMessage = errorMessage.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tool call row iteration error: %w", err)
	}
	return records, nil
}

// ListDecisions returns the mission's decision records ordered by timestamp.
func (s *Store) ListDecisions(missionUUID string) ([]*DecisionRecord, error) {
	missionID, err := s.missionRowID(missionUUID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, decision_type, rationale, actor, timestamp
		FROM decisions WHERE mission_id = ? ORDER BY timestamp ASC, id ASC
	`
	rows, err := s.db.Query(query, missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*DecisionRecord{}
	for rows.Next() {
		rec := &DecisionRecord{MissionUUID: missionUUID}
		if err := rows.Scan(&rec.ID, &rec.DecisionType, &rec.Rationale, &rec.Actor, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("decision row iteration error: %w", err)
	}
	return records, nil
}

// ListQualityGateResults returns the mission's gate results ordered by
// timestamp, optionally filtered to one transition.
func (s *Store) ListQualityGateResults(missionUUID, transitionName string) ([]*QualityGateResult, error) {
	missionID, err := s.missionRowID(missionUUID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, transition_name, check_name, status, severity, blocking, findings, message, remediation, duration_ms, timestamp
		FROM quality_gate_results WHERE mission_id = ?
	`
	args := []any{missionID}
	if transitionName != "" {
		query += " AND transition_name = ?"
		args = append(args, transitionName)
	}
	query += " ORDER BY timestamp ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list gate results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*QualityGateResult{}
	for rows.Next() {
		rec := &QualityGateResult{MissionUUID: missionUUID}
		var severity, message, remediation sql.NullString
		var findings sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.TransitionName, &rec.CheckName, &rec.Status,
			&severity, &rec.Blocking, &findings, &message, &remediation,
			&rec.DurationMS, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan gate result row: %w", err)
		}
		rec.Severity = severity.String
		rec.Message = message.String
		rec.Remediation = remediation.String
		if findings.Valid {
			n := int(findings.Int64)
			rec.Findings = &n
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gate result row iteration error: %w", err)
	}
	return records, nil
}

// ListArtifacts returns the mission's artifacts ordered by creation time,
// optionally filtered by artifact type.
func (s *Store) ListArtifacts(missionUUID, artifactType string) ([]*ArtifactRecord, error) {
	missionID, err := s.missionRowID(missionUUID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, artifact_type, artifact_name, ref, path, url, created_at
		FROM artifacts WHERE mission_id = ?
	`
	args := []any{missionID}
	if artifactType != "" {
		query += " AND artifact_type = ?"
		args = append(args, artifactType)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*ArtifactRecord{}
	for rows.Next() {
		rec := &ArtifactRecord{MissionUUID: missionUUID}
		var ref, path, url sql.NullString
		if err := rows.Scan(&rec.ID, &rec.ArtifactType, &rec.ArtifactName, &ref, &path, &url, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact row: %w", err)
		}
		rec.Ref = ref.String
		rec.Path = path.String
		rec.URL = url.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("artifact row iteration error: %w", err)
	}
	return records, nil
}

// LatestGateStatus returns, per check name, only the most recent gate
// result status for one transition. History stays in the table for audit;
// this derived view is what decides whether a transition is currently
// blocked.
func (s *Store) LatestGateStatus(missionUUID, transitionName string) (map[string]string, error) {
	results, err := s.ListQualityGateResults(missionUUID, transitionName)
	if err != nil {
		return nil, err
	}

	// Results are ordered oldest-first; the last write per check wins.
	latest := make(map[string]string, len(results))
	for _, rec := range results {
		latest[rec.CheckName] = rec.Status
	}
	return latest, nil
}

// ListAuditTrail returns the merged, time-ordered view across tool calls,
// decisions and gate results for one mission.
func (s *Store) ListAuditTrail(missionUUID string) ([]*AuditEvent, error) {
	toolCalls, err := s.ListToolCalls(missionUUID)
	if err != nil {
		return nil, err
	}
	decisions, err := s.ListDecisions(missionUUID)
	if err != nil {
		return nil, err
	}
	gateResults, err := s.ListQualityGateResults(missionUUID, "")
	if err != nil {
		return nil, err
	}

	events := make([]*AuditEvent, 0, len(toolCalls)+len(decisions)+len(gateResults))
	for _, rec := range toolCalls {
		events = append(events, &AuditEvent{Timestamp: rec.Timestamp, Kind: AuditKindToolCall, ToolCall: rec})
	}
	for _, rec := range decisions {
		events = append(events, &AuditEvent{Timestamp: rec.Timestamp, Kind: AuditKindDecision, Decision: rec})
	}
	for _, rec := range gateResults {
		events = append(events, &AuditEvent{Timestamp: rec.Timestamp, Kind: AuditKindGateResult, GateResult: rec})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// DeleteMission removes a mission and, via cascade, all of its child
// records. Administrative purge only; audit records are never otherwise
// hard-deleted.
func (s *Store) DeleteMission(missionUUID string) error {
	result, err := s.db.Exec("DELETE FROM missions WHERE uuid = ?", missionUUID)
	if err != nil {
		return fmt.Errorf("failed to delete mission %s: %w", missionUUID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrMissionNotFound, missionUUID)
	}
	s.logger.Info("Mission purged: %s", missionUUID)
	return nil
}
