package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS missions (
    id TEXT PRIMARY KEY,
    description TEXT NOT NULL,
    status TEXT DEFAULT 'queue',
    branch TEXT,
    result TEXT,
    error TEXT,
    retry_count INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    started_at DATETIME,
    finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    mission_id TEXT NOT NULL REFERENCES missions(id),
    name TEXT NOT NULL,
    description TEXT,
    agent_type TEXT,
    status TEXT DEFAULT 'pending',
    depends_on_json TEXT,
    branch TEXT,
    worktree TEXT,
    result TEXT,
    error TEXT,
    started_at DATETIME,
    finished_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_agents_mission ON agents(mission_id);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    mission_id TEXT NOT NULL,
    agent_id TEXT,
    kind TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_events_mission ON events(mission_id);
`

// NewSQLiteBundle creates a Bundle backed by SQLite at the given path
func NewSQLiteBundle(dbPath string) (*Bundle, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Bundle{
		Missions: &SQLiteMissionStore{db: db},
		Agents:   &SQLiteAgentStore{db: db},
		Events:   &SQLiteEventStore{db: db},
		closer:   db.Close,
	}, nil
}

// =============================================================================
// SQLiteMissionStore
// =============================================================================

type SQLiteMissionStore struct {
	db *sql.DB
}

func (s *SQLiteMissionStore) CreateMission(description string) (string, error) {
	id := generateID()
	_, err := s.db.Exec(
		`INSERT INTO missions (id, description, status) VALUES (?, ?, ?)`,
		id, description, MissionQueue,
	)
	if err != nil {
		return "", fmt.Errorf("create mission: %w", err)
	}
	return id, nil
}

func (s *SQLiteMissionStore) UpdateMissionStatus(id, status string, result, errMsg *string) error {
	var startedAt, finishedAt *time.Time
	now := time.Now()
	switch status {
	case MissionActive:
		startedAt = &now
	case MissionCompleted, MissionFailed:
		finishedAt = &now
	}
	_, err := s.db.Exec(
		`UPDATE missions SET status = ?,
		    result = COALESCE(?, result),
		    error = COALESCE(?, error),
		    started_at = COALESCE(started_at, ?),
		    finished_at = COALESCE(?, finished_at)
		 WHERE id = ?`,
		status, result, errMsg, startedAt, finishedAt, id,
	)
	return err
}

func (s *SQLiteMissionStore) SetMissionBranch(id, branch string) error {
	_, err := s.db.Exec(`UPDATE missions SET branch = ? WHERE id = ?`, branch, id)
	return err
}

func (s *SQLiteMissionStore) IncrementRetry(id string) (int, error) {
	if _, err := s.db.Exec(`UPDATE missions SET retry_count = retry_count + 1 WHERE id = ?`, id); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRow(`SELECT retry_count FROM missions WHERE id = ?`, id).Scan(&count)
	return count, err
}

func (s *SQLiteMissionStore) GetMission(id string) (*MissionRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, description, status, branch, result, error, retry_count, created_at, started_at, finished_at
		 FROM missions WHERE id = ?`, id,
	)
	m, err := scanMission(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("mission %s: %w", id, err)
	}
	return m, nil
}

func (s *SQLiteMissionStore) ListMissions(limit int) ([]MissionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, description, status, branch, result, error, retry_count, created_at, started_at, finished_at
		 FROM missions ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMissions(rows)
}

func (s *SQLiteMissionStore) ListMissionsByStatus(status string) ([]MissionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, description, status, branch, result, error, retry_count, created_at, started_at, finished_at
		 FROM missions WHERE status = ? ORDER BY created_at`, status,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMissions(rows)
}

func scanMission(scan func(...any) error) (*MissionRecord, error) {
	var m MissionRecord
	var branch, result, errMsg sql.NullString
	var startedAt, finishedAt sql.NullTime

	if err := scan(&m.ID, &m.Description, &m.Status, &branch, &result, &errMsg,
		&m.RetryCount, &m.CreatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	if branch.Valid {
		m.Branch = branch.String
	}
	if result.Valid {
		m.Result = &result.String
	}
	if errMsg.Valid {
		m.Error = &errMsg.String
	}
	if startedAt.Valid {
		m.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		m.FinishedAt = &finishedAt.Time
	}
	return &m, nil
}

func collectMissions(rows *sql.Rows) ([]MissionRecord, error) {
	var missions []MissionRecord
	for rows.Next() {
		m, err := scanMission(rows.Scan)
		if err != nil {
			return nil, err
		}
		missions = append(missions, *m)
	}
	return missions, rows.Err()
}

// =============================================================================
// SQLiteAgentStore
// =============================================================================

type SQLiteAgentStore struct {
	db *sql.DB
}

func (s *SQLiteAgentStore) CreateAgent(missionID, name, description, agentType string, dependsOn []string) (string, error) {
	id := generateID()
	depsJSON, err := json.Marshal(dependsOn)
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(
		`INSERT INTO agents (id, mission_id, name, description, agent_type, depends_on_json) VALUES (?, ?, ?, ?, ?, ?)`,
		id, missionID, name, description, agentType, string(depsJSON),
	)
	if err != nil {
		return "", fmt.Errorf("create agent: %w", err)
	}
	return id, nil
}

func (s *SQLiteAgentStore) UpdateAgentStatus(id, status string, result, errMsg *string) error {
	var startedAt, finishedAt *time.Time
	now := time.Now()
	switch status {
	case "executing":
		startedAt = &now
	case "completed", "failed":
		finishedAt = &now
	}
	_, err := s.db.Exec(
		`UPDATE agents SET status = ?,
		    result = COALESCE(?, result),
		    error = COALESCE(?, error),
		    started_at = COALESCE(started_at, ?),
		    finished_at = COALESCE(?, finished_at)
		 WHERE id = ?`,
		status, result, errMsg, startedAt, finishedAt, id,
	)
	return err
}

func (s *SQLiteAgentStore) SetAgentWorkspace(id, branch, worktree string) error {
	_, err := s.db.Exec(`UPDATE agents SET branch = ?, worktree = ? WHERE id = ?`, branch, worktree, id)
	return err
}

func (s *SQLiteAgentStore) GetAgentsByMission(missionID string) ([]AgentRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, mission_id, name, description, agent_type, status, depends_on_json, branch, worktree, result, error, started_at, finished_at
		 FROM agents WHERE mission_id = ? ORDER BY name`, missionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []AgentRecord
	for rows.Next() {
		var a AgentRecord
		var description, agentType, depsJSON, branch, worktree, result, errMsg sql.NullString
		var startedAt, finishedAt sql.NullTime

		if err := rows.Scan(&a.ID, &a.MissionID, &a.Name, &description, &agentType, &a.Status,
			&depsJSON, &branch, &worktree, &result, &errMsg, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		a.Description = description.String
		a.AgentType = agentType.String
		a.Branch = branch.String
		a.Worktree = worktree.String
		if depsJSON.Valid && depsJSON.String != "" {
			if err := json.Unmarshal([]byte(depsJSON.String), &a.DependsOn); err != nil {
				return nil, fmt.Errorf("agent %s depends_on: %w", a.ID, err)
			}
		}
		if result.Valid {
			a.Result = &result.String
		}
		if errMsg.Valid {
			a.Error = &errMsg.String
		}
		if startedAt.Valid {
			a.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			a.FinishedAt = &finishedAt.Time
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// =============================================================================
// SQLiteEventStore
// =============================================================================

type SQLiteEventStore struct {
	db *sql.DB
}

func (s *SQLiteEventStore) Append(missionID, agentID, kind, message string) error {
	_, err := s.db.Exec(
		`INSERT INTO events (mission_id, agent_id, kind, message) VALUES (?, ?, ?, ?)`,
		missionID, agentID, kind, message,
	)
	return err
}

func (s *SQLiteEventStore) ListEvents(missionID string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, mission_id, agent_id, kind, message, created_at FROM events
		 WHERE mission_id = ? ORDER BY id DESC LIMIT ?`, missionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		var agentID sql.NullString
		if err := rows.Scan(&e.ID, &e.MissionID, &agentID, &e.Kind, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.AgentID = agentID.String
		events = append(events, e)
	}
	// Oldest first
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, rows.Err()
}
