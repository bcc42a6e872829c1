package scheduler

import (
	"fmt"
	"strings"
)

// ValidateGraph checks a subtask set for unknown dependencies and
// cycles before execution starts. A bad graph is a PlanningError: it
// fails the task up front instead of letting the wave loop spin until
// its iteration cap and silently report partial work.
func ValidateGraph(subtasks []*Subtask) error {
	byID := make(map[string]*Subtask, len(subtasks))
	for _, st := range subtasks {
		if _, dup := byID[st.ID]; dup {
			return &PlanningError{Reason: fmt.Sprintf("duplicate subtask id %q", st.ID)}
		}
		byID[st.ID] = st
	}

	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			if _, ok := byID[dep]; !ok {
				return &PlanningError{Reason: fmt.Sprintf("subtask %q depends on unknown subtask %q", st.ID, dep)}
			}
		}
	}

	// DFS coloring: white = unvisited, gray = on the current path,
	// black = fully explored. A gray-gray edge is a cycle.
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(subtasks))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		color[id] = gray
		path = append(path, id)
		for _, dep := range byID[id].DependsOn {
			switch color[dep] {
			case gray:
				return &PlanningError{Reason: fmt.Sprintf("dependency cycle: %s -> %s", strings.Join(path, " -> "), dep)}
			case white:
				if err := visit(dep, path); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, st := range subtasks {
		if color[st.ID] == white {
			if err := visit(st.ID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// readySet returns the subtasks still Pending whose dependencies are
// all in the completed set.
func readySet(subtasks []*Subtask, completed map[string]bool) []*Subtask {
	var ready []*Subtask
	for _, st := range subtasks {
		if st.Status != SubtaskPending {
			continue
		}
		ok := true
		for _, dep := range st.DependsOn {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, st)
		}
	}
	return ready
}

// blocked reports whether a pending subtask can never run because one
// of its transitive dependencies failed.
func blocked(st *Subtask, byID map[string]*Subtask) bool {
	for _, dep := range st.DependsOn {
		d := byID[dep]
		if d == nil {
			return true
		}
		if d.Status == SubtaskFailed {
			return true
		}
		if d.Status == SubtaskPending && blocked(d, byID) {
			return true
		}
	}
	return false
}
