package store

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// NewMemoryBundle creates a Bundle backed entirely by in-memory stores
func NewMemoryBundle() *Bundle {
	return &Bundle{
		Missions: &MemoryMissionStore{missions: make(map[string]*MissionRecord)},
		Agents:   &MemoryAgentStore{agents: make(map[string]*AgentRecord)},
		Events:   &MemoryEventStore{},
	}
}

// =============================================================================
// MemoryMissionStore
// =============================================================================

type MemoryMissionStore struct {
	mu       sync.Mutex
	missions map[string]*MissionRecord
	order    []string
}

func (s *MemoryMissionStore) CreateMission(description string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := generateID()
	s.missions[id] = &MissionRecord{
		ID:          id,
		Description: description,
		Status:      MissionQueue,
		CreatedAt:   time.Now(),
	}
	s.order = append(s.order, id)
	return id, nil
}

func (s *MemoryMissionStore) UpdateMissionStatus(id, status string, result, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[id]
	if !ok {
		return fmt.Errorf("mission %s not found", id)
	}
	m.Status = status
	if result != nil {
		m.Result = result
	}
	if errMsg != nil {
		m.Error = errMsg
	}
	now := time.Now()
	switch status {
	case MissionActive:
		if m.StartedAt == nil {
			m.StartedAt = &now
		}
	case MissionCompleted, MissionFailed:
		m.FinishedAt = &now
	}
	return nil
}

func (s *MemoryMissionStore) SetMissionBranch(id, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[id]
	if !ok {
		return fmt.Errorf("mission %s not found", id)
	}
	m.Branch = branch
	return nil
}

func (s *MemoryMissionStore) IncrementRetry(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[id]
	if !ok {
		return 0, fmt.Errorf("mission %s not found", id)
	}
	m.RetryCount++
	return m.RetryCount, nil
}

func (s *MemoryMissionStore) GetMission(id string) (*MissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[id]
	if !ok {
		return nil, fmt.Errorf("mission %s not found", id)
	}
	copied := *m
	return &copied, nil
}

func (s *MemoryMissionStore) ListMissions(limit int) ([]MissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []MissionRecord
	// Newest first
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *s.missions[s.order[i]])
	}
	return out, nil
}

func (s *MemoryMissionStore) ListMissionsByStatus(status string) ([]MissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []MissionRecord
	for _, id := range s.order {
		if m := s.missions[id]; m.Status == status {
			out = append(out, *m)
		}
	}
	return out, nil
}

// =============================================================================
// MemoryAgentStore
// =============================================================================

type MemoryAgentStore struct {
	mu     sync.Mutex
	agents map[string]*AgentRecord
}

func (s *MemoryAgentStore) CreateAgent(missionID, name, description, agentType string, dependsOn []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := generateID()
	s.agents[id] = &AgentRecord{
		ID:          id,
		MissionID:   missionID,
		Name:        name,
		Description: description,
		AgentType:   agentType,
		Status:      "pending",
		DependsOn:   append([]string(nil), dependsOn...),
	}
	return id, nil
}

func (s *MemoryAgentStore) UpdateAgentStatus(id, status string, result, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s not found", id)
	}
	a.Status = status
	if result != nil {
		a.Result = result
	}
	if errMsg != nil {
		a.Error = errMsg
	}
	now := time.Now()
	switch status {
	case "executing":
		if a.StartedAt == nil {
			a.StartedAt = &now
		}
	case "completed", "failed":
		a.FinishedAt = &now
	}
	return nil
}

func (s *MemoryAgentStore) SetAgentWorkspace(id, branch, worktree string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s not found", id)
	}
	a.Branch = branch
	a.Worktree = worktree
	return nil
}

func (s *MemoryAgentStore) GetAgentsByMission(missionID string) ([]AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AgentRecord
	for _, a := range s.agents {
		if a.MissionID == missionID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// =============================================================================
// MemoryEventStore
// =============================================================================

type MemoryEventStore struct {
	mu     sync.Mutex
	events []EventRecord
}

func (s *MemoryEventStore) Append(missionID, agentID, kind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, EventRecord{
		ID:        len(s.events) + 1,
		MissionID: missionID,
		AgentID:   agentID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemoryEventStore) ListEvents(missionID string, limit int) ([]EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []EventRecord
	for _, e := range s.events {
		if e.MissionID == missionID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func generateID() string {
	const chars = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = chars[rand.Intn(len(chars))]
	}
	return string(b)
}
