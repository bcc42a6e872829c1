package scheduler

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Service owns the task registry and runs submitted tasks in the
// background. Lookups return snapshots so callers never alias live
// scheduler state.
type Service struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	order     []string
	scheduler *Scheduler
	log       hclog.Logger
	wg        sync.WaitGroup
}

func NewService(scheduler *Scheduler, log hclog.Logger) *Service {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Service{
		tasks:     make(map[string]*Task),
		scheduler: scheduler,
		log:       log.Named("tasks"),
	}
}

// Submit registers a task and starts it in the background.
func (s *Service) Submit(ctx context.Context, description string) *Task {
	task := NewTask(description)
	task.AddLog("Task created: %s", truncate(description, 100))

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.scheduler.Run(ctx, task); err != nil {
			s.log.Error("task run failed", "task", task.ID, "error", err)
		}
	}()
	return task
}

// Get returns a snapshot of one task, or nil if unknown.
func (s *Service) Get(id string) *Task {
	s.mu.Lock()
	task := s.tasks[id]
	s.mu.Unlock()
	if task == nil {
		return nil
	}
	snap := task.Snapshot()
	return &snap
}

// List returns snapshots of all tasks in submission order.
func (s *Service) List() []Task {
	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	tasks := make(map[string]*Task, len(s.tasks))
	for id, t := range s.tasks {
		tasks[id] = t
	}
	s.mu.Unlock()

	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, tasks[id].Snapshot())
	}
	return out
}

// Wait blocks until every submitted task has finished. Used by CLI
// one-shot runs and tests.
func (s *Service) Wait() { s.wg.Wait() }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
