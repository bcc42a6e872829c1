package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"foreman/llm"
	"foreman/store"
	"foreman/template"
)

// scriptProvider replays canned responses in order. An exhausted script
// answers with a generic completion; a set err fails every call.
type scriptProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
}

func (p *scriptProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.responses) == 0 {
		return &llm.ChatResponse{Content: "synthesized result"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return &llm.ChatResponse{Content: resp}, nil
}

// stubBackend records execution order, prompts and peak concurrency.
type stubBackend struct {
	mu      sync.Mutex
	fail    map[string]bool
	prompts map[string]string
	order   []string
	active  int
	peak    int
	delay   time.Duration
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Execute(ctx context.Context, st *Subtask, prompt string) (string, error) {
	b.mu.Lock()
	b.active++
	if b.active > b.peak {
		b.peak = b.active
	}
	b.order = append(b.order, st.ID)
	if b.prompts != nil {
		b.prompts[st.ID] = prompt
	}
	b.mu.Unlock()

	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	b.mu.Lock()
	b.active--
	b.mu.Unlock()

	if b.fail[st.ID] {
		return "", errors.New("boom")
	}
	return "result-" + st.ID, nil
}

func planJSON(t *testing.T, plan Plan) string {
	t.Helper()
	data, err := json.Marshal(plan)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func newScheduler(provider llm.Provider, backend Backend, opts Options) *Scheduler {
	opts.Planner = NewPlanner(provider, "test-model", template.NewRegistry(), nil)
	opts.Backend = backend
	opts.Synthesizer = NewSynthesizer(provider, "test-model", nil)
	return New(opts)
}

func TestValidateGraph(t *testing.T) {
	cases := []struct {
		name     string
		subtasks []*Subtask
		wantErr  string
	}{
		{
			name: "valid chain",
			subtasks: []*Subtask{
				{ID: "a", Status: SubtaskPending},
				{ID: "b", DependsOn: []string{"a"}, Status: SubtaskPending},
			},
		},
		{
			name: "unknown dependency",
			subtasks: []*Subtask{
				{ID: "a", DependsOn: []string{"ghost"}, Status: SubtaskPending},
			},
			wantErr: "unknown subtask",
		},
		{
			name: "duplicate id",
			subtasks: []*Subtask{
				{ID: "a", Status: SubtaskPending},
				{ID: "a", Status: SubtaskPending},
			},
			wantErr: "duplicate",
		},
		{
			name: "cycle",
			subtasks: []*Subtask{
				{ID: "a", DependsOn: []string{"b"}, Status: SubtaskPending},
				{ID: "b", DependsOn: []string{"a"}, Status: SubtaskPending},
			},
			wantErr: "cycle",
		},
		{
			name: "self cycle",
			subtasks: []*Subtask{
				{ID: "a", DependsOn: []string{"a"}, Status: SubtaskPending},
			},
			wantErr: "cycle",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateGraph(tc.subtasks)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var perr *PlanningError
			if !errors.As(err, &perr) {
				t.Fatalf("expected PlanningError, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %q", tc.wantErr, err)
			}
		})
	}
}

func TestPlannerFallbackOnOracleError(t *testing.T) {
	provider := &scriptProvider{err: errors.New("model offline")}
	p := NewPlanner(provider, "test-model", template.NewRegistry(), nil)

	plan := p.Plan(context.Background(), "Build a FastAPI endpoint for user login")
	if len(plan.Subtasks) != 1 {
		t.Fatalf("expected single fallback subtask, got %d", len(plan.Subtasks))
	}
	st := plan.Subtasks[0]
	if st.ID != "subtask-1" {
		t.Errorf("expected id subtask-1, got %q", st.ID)
	}
	if st.AgentType != "python-backend" {
		t.Errorf("expected keyword match to pick python-backend, got %q", st.AgentType)
	}
}

func TestPlannerFallbackOnEmptyPlan(t *testing.T) {
	provider := &scriptProvider{responses: []string{`{"analysis": "nothing to do", "subtasks": []}`}}
	p := NewPlanner(provider, "test-model", template.NewRegistry(), nil)

	plan := p.Plan(context.Background(), "write docs")
	if len(plan.Subtasks) != 1 {
		t.Fatalf("expected single fallback subtask, got %d", len(plan.Subtasks))
	}
}

func TestRunDependencyOrdering(t *testing.T) {
	plan := Plan{
		Analysis: "two step",
		Subtasks: []PlanSubtask{
			{ID: "backend", Description: "build the API", AgentType: "python-backend", DependsOn: []string{}},
			{ID: "frontend", Description: "build the UI", AgentType: "react-frontend", DependsOn: []string{"backend"}},
		},
	}
	provider := &scriptProvider{responses: []string{planJSON(t, plan)}}
	backend := &stubBackend{prompts: make(map[string]string)}
	s := newScheduler(provider, backend, Options{})

	task := NewTask("build an app")
	if err := s.Run(context.Background(), task); err != nil {
		t.Fatalf("run: %v", err)
	}

	if task.Status != TaskCompleted {
		t.Fatalf("expected completed task, got %s", task.Status)
	}
	if len(backend.order) != 2 || backend.order[0] != "backend" || backend.order[1] != "frontend" {
		t.Fatalf("expected backend before frontend, got %v", backend.order)
	}

	// The dependent's prompt carries the dependency's result.
	prompt := backend.prompts["frontend"]
	if !strings.Contains(prompt, "Context from previous subtasks:") {
		t.Errorf("expected dependency context header, got:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Result from [backend] (python-backend):\nresult-backend") {
		t.Errorf("expected dependency result, got:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Your task:\nbuild the UI") {
		t.Errorf("expected own description, got:\n%s", prompt)
	}

	// Independent subtasks get the bare description.
	if got := backend.prompts["backend"]; got != "build the API" {
		t.Errorf("expected bare description, got %q", got)
	}
}

func TestRunFailureIsolation(t *testing.T) {
	plan := Plan{
		Subtasks: []PlanSubtask{
			{ID: "a", Description: "fails", AgentType: "fullstack", DependsOn: []string{}},
			{ID: "b", Description: "needs a", AgentType: "fullstack", DependsOn: []string{"a"}},
			{ID: "c", Description: "independent", AgentType: "fullstack", DependsOn: []string{}},
		},
	}
	provider := &scriptProvider{responses: []string{planJSON(t, plan)}}
	backend := &stubBackend{fail: map[string]bool{"a": true}}
	s := newScheduler(provider, backend, Options{})

	task := NewTask("mixed fortunes")
	if err := s.Run(context.Background(), task); err != nil {
		t.Fatalf("run: %v", err)
	}

	if task.Status != TaskCompleted {
		t.Fatalf("expected task to complete despite subtask failure, got %s", task.Status)
	}
	if got := task.Subtask("a").Status; got != SubtaskFailed {
		t.Errorf("expected a failed, got %s", got)
	}
	if got := task.Subtask("c").Status; got != SubtaskCompleted {
		t.Errorf("expected c completed, got %s", got)
	}
	// The dependent of a failed subtask never runs.
	if got := task.Subtask("b").Status; got != SubtaskPending {
		t.Errorf("expected b to stay pending, got %s", got)
	}

	if !strings.Contains(task.Subtask("a").Error, "backend stub: boom") {
		t.Errorf("expected wrapped backend error, got %q", task.Subtask("a").Error)
	}
}

func TestRunCycleFailsTask(t *testing.T) {
	plan := Plan{
		Subtasks: []PlanSubtask{
			{ID: "a", Description: "x", AgentType: "fullstack", DependsOn: []string{"b"}},
			{ID: "b", Description: "y", AgentType: "fullstack", DependsOn: []string{"a"}},
		},
	}
	provider := &scriptProvider{responses: []string{planJSON(t, plan)}}
	backend := &stubBackend{}
	s := newScheduler(provider, backend, Options{})

	task := NewTask("circular")
	err := s.Run(context.Background(), task)

	var perr *PlanningError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PlanningError, got %v", err)
	}
	if task.Status != TaskFailed {
		t.Errorf("expected failed task, got %s", task.Status)
	}
	if len(backend.order) != 0 {
		t.Errorf("expected no subtask execution, got %v", backend.order)
	}
}

func TestRunBoundedParallelism(t *testing.T) {
	var subs []PlanSubtask
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		subs = append(subs, PlanSubtask{ID: id, Description: id, AgentType: "fullstack", DependsOn: []string{}})
	}
	provider := &scriptProvider{responses: []string{planJSON(t, Plan{Subtasks: subs})}}
	backend := &stubBackend{delay: 20 * time.Millisecond}
	s := newScheduler(provider, backend, Options{MaxParallel: 2})

	task := NewTask("fan out")
	if err := s.Run(context.Background(), task); err != nil {
		t.Fatalf("run: %v", err)
	}
	if backend.peak > 2 {
		t.Errorf("expected at most 2 concurrent subtasks, saw %d", backend.peak)
	}
	for _, st := range task.Subtasks {
		if st.Status != SubtaskCompleted {
			t.Errorf("subtask %s: expected completed, got %s", st.ID, st.Status)
		}
	}
}

func TestReviewIsAdvisory(t *testing.T) {
	plan := Plan{
		Subtasks: []PlanSubtask{
			{ID: "only", Description: "do the thing", AgentType: "fullstack", DependsOn: []string{}},
		},
	}
	provider := &scriptProvider{responses: []string{
		planJSON(t, plan),
		`{"verdict": "request_changes", "notes": "missing tests"}`,
		"final answer",
	}}
	backend := &stubBackend{}
	s := newScheduler(provider, backend, Options{})
	s.reviewer = NewReviewer(provider, "test-model", nil)

	task := NewTask("reviewed work")
	if err := s.Run(context.Background(), task); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Changes requested, but the subtask completes anyway.
	if got := task.Subtask("only").Status; got != SubtaskCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	logText := strings.Join(task.Log, "\n")
	if !strings.Contains(logText, "review requested changes: missing tests") {
		t.Errorf("expected review note in log, got:\n%s", logText)
	}
	if task.FinalResult != "final answer" {
		t.Errorf("expected synthesized final result, got %q", task.FinalResult)
	}
}

func TestSynthesisFallbackConcatenates(t *testing.T) {
	subtasks := []*Subtask{
		{ID: "a", Description: "build it", AgentType: "python-backend", Status: SubtaskCompleted, Result: "made the API"},
		{ID: "b", Description: "break it", AgentType: "testing-expert", Status: SubtaskFailed, Error: "backend stub: boom"},
		{ID: "c", Description: "stuck", AgentType: "fullstack", Status: SubtaskPending},
	}
	synth := NewSynthesizer(&scriptProvider{err: errors.New("offline")}, "test-model", nil)

	out := synth.Synthesize(context.Background(), "everything", subtasks)
	if !strings.Contains(out, "## python-backend: build it\n\nmade the API") {
		t.Errorf("expected completed section, got:\n%s", out)
	}
	if !strings.Contains(out, "backend stub: boom") {
		t.Errorf("expected failed section to carry the error, got:\n%s", out)
	}
	if !strings.Contains(out, "No output") {
		t.Errorf("expected unresolved section marker, got:\n%s", out)
	}
	if !strings.Contains(out, "\n\n---\n\n") {
		t.Errorf("expected section separator, got:\n%s", out)
	}
}

func TestRunRecordsMission(t *testing.T) {
	plan := Plan{
		Subtasks: []PlanSubtask{
			{ID: "one", Description: "solo", AgentType: "fullstack", DependsOn: []string{}},
		},
	}
	provider := &scriptProvider{responses: []string{planJSON(t, plan)}}
	backend := &stubBackend{}
	bundle := store.NewMemoryBundle()
	s := newScheduler(provider, backend, Options{Store: bundle})

	task := NewTask("persisted work")
	if err := s.Run(context.Background(), task); err != nil {
		t.Fatalf("run: %v", err)
	}

	missions, err := bundle.Missions.ListMissions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missions) != 1 {
		t.Fatalf("expected 1 mission record, got %d", len(missions))
	}
	if missions[0].Status != store.MissionCompleted {
		t.Errorf("expected completed mission, got %s", missions[0].Status)
	}

	agents, err := bundle.Agents.GetAgentsByMission(missions[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent record, got %d", len(agents))
	}
	if agents[0].Status != string(SubtaskCompleted) {
		t.Errorf("expected completed agent, got %s", agents[0].Status)
	}

	events, err := bundle.Events.ListEvents(missions[0].ID, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 {
		t.Error("expected audit events for the mission")
	}
}

func TestTaskSnapshotRoundTrip(t *testing.T) {
	plan := Plan{
		Subtasks: []PlanSubtask{
			{ID: "one", Description: "solo", AgentType: "fullstack", DependsOn: []string{}},
		},
	}
	provider := &scriptProvider{responses: []string{planJSON(t, plan)}}
	s := newScheduler(provider, &stubBackend{}, Options{})

	task := NewTask("serialize me")
	if err := s.Run(context.Background(), task); err != nil {
		t.Fatalf("run: %v", err)
	}

	snap := task.Snapshot()
	data, err := json.Marshal(&snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Task
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != task.ID || decoded.Status != TaskCompleted {
		t.Errorf("round trip lost fields: %+v", decoded)
	}
	if len(decoded.Subtasks) != 1 || decoded.Subtasks[0].Result != "result-one" {
		t.Errorf("round trip lost subtasks: %+v", decoded.Subtasks)
	}
	if decoded.CompletedAt == nil {
		t.Error("expected completed_at to survive round trip")
	}
}

func TestServiceSubmitGetList(t *testing.T) {
	plan := Plan{
		Subtasks: []PlanSubtask{
			{ID: "one", Description: "solo", AgentType: "fullstack", DependsOn: []string{}},
		},
	}
	provider := &scriptProvider{responses: []string{planJSON(t, plan)}}
	s := newScheduler(provider, &stubBackend{}, Options{})
	svc := NewService(s, nil)

	task := svc.Submit(context.Background(), "service task")
	svc.Wait()

	got := svc.Get(task.ID)
	if got == nil {
		t.Fatal("expected task lookup to succeed")
	}
	if got.Status != TaskCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if svc.Get("nope") != nil {
		t.Error("expected nil for unknown id")
	}

	all := svc.List()
	if len(all) != 1 || all[0].ID != task.ID {
		t.Errorf("expected one listed task, got %+v", all)
	}
}
