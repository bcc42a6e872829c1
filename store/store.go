package store

import "time"

// Bundle holds all stores for tracking mission execution. The scheduler
// writes task progress through it and the mission monitor reads the
// same records, so both views stay consistent.
type Bundle struct {
	Missions MissionStore
	Agents   AgentStore
	Events   EventStore
	closer   func() error
}

// Close cleans up the bundle resources
func (b *Bundle) Close() error {
	if b.closer != nil {
		return b.closer()
	}
	return nil
}

// Mission lifecycle states.
const (
	MissionQueue     = "queue"
	MissionActive    = "active"
	MissionCompleted = "completed"
	MissionFailed    = "failed"
)

// MissionRecord is the durable view of one orchestrated task.
type MissionRecord struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Branch      string     `json:"branch,omitempty"`
	Result      *string    `json:"result,omitempty"`
	Error       *string    `json:"error,omitempty"`
	RetryCount  int        `json:"retryCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// MissionStore tracks missions and their lifecycle
type MissionStore interface {
	CreateMission(description string) (id string, err error)
	UpdateMissionStatus(id, status string, result, errMsg *string) error
	SetMissionBranch(id, branch string) error
	IncrementRetry(id string) (int, error)
	GetMission(id string) (*MissionRecord, error)
	ListMissions(limit int) ([]MissionRecord, error)
	ListMissionsByStatus(status string) ([]MissionRecord, error)
}

// AgentRecord is one spawned expert agent working a subtask of a mission.
type AgentRecord struct {
	ID          string     `json:"id"`
	MissionID   string     `json:"missionId"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	AgentType   string     `json:"agentType"`
	Status      string     `json:"status"`
	DependsOn   []string   `json:"dependsOn,omitempty"`
	Branch      string     `json:"branch,omitempty"`
	Worktree    string     `json:"worktree,omitempty"`
	Result      *string    `json:"result,omitempty"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// AgentStore tracks the agents spawned for a mission
type AgentStore interface {
	CreateAgent(missionID, name, description, agentType string, dependsOn []string) (id string, err error)
	UpdateAgentStatus(id, status string, result, errMsg *string) error
	SetAgentWorkspace(id, branch, worktree string) error
	GetAgentsByMission(missionID string) ([]AgentRecord, error)
}

// EventRecord is one entry of the append-only audit log.
type EventRecord struct {
	ID        int       `json:"id"`
	MissionID string    `json:"missionId"`
	AgentID   string    `json:"agentId,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// EventStore is an append-only audit log of orchestration activity
type EventStore interface {
	Append(missionID, agentID, kind, message string) error
	ListEvents(missionID string, limit int) ([]EventRecord, error)
}
