// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"fmt"
	"sort"
	"sync"
)

// TaskQueue owns the task table and the dependency graph, and drives the
// lifecycle pending -> ready -> dispatched -> terminal. All mutation goes
// through the queue so transitions stay consistent with the graph.
type TaskQueue struct {
	mu sync.Mutex

	tasks    map[string]*SwarmTask
	graph    *DependencyGraph
	attempts map[string]int

	// skippedWithArtifacts marks skipped tasks that still left usable output
	// on disk; dependents may treat those as satisfied.
	skippedWithArtifacts map[string]bool
	rescued              map[string]bool

	strategy ConflictStrategy
	bus      *EventBus
}

// QueueSnapshot is the serializable queue state for checkpoints.
type QueueSnapshot struct {
	Tasks                []*SwarmTask    `json:"tasks"`
	Edges                []GraphEdge     `json:"edges"`
	Attempts             map[string]int  `json:"attempts,omitempty"`
	SkippedWithArtifacts map[string]bool `json:"skipped_with_artifacts,omitempty"`
	Rescued              map[string]bool `json:"rescued,omitempty"`
}

// NewTaskQueue creates an empty queue with the given conflict strategy.
func NewTaskQueue(strategy ConflictStrategy, bus *EventBus) *TaskQueue {
	if strategy == "" {
		strategy = ConflictSerialize
	}
	return &TaskQueue{
		tasks:                make(map[string]*SwarmTask),
		graph:                NewDependencyGraph(),
		attempts:             make(map[string]int),
		skippedWithArtifacts: make(map[string]bool),
		rescued:              make(map[string]bool),
		strategy:             strategy,
		bus:                  bus,
	}
}

// Ingest adds a batch of tasks, all or nothing. Dependencies must resolve
// inside the batch or to tasks already queued; any cycle rejects the whole
// batch and queues nothing.
func (q *TaskQueue) Ingest(tasks []*SwarmTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	known := make(map[string]bool, len(q.tasks)+len(tasks))
	for id := range q.tasks {
		known[id] = true
	}
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("%w: task with empty id", ErrConfiguration)
		}
		if known[t.ID] {
			return fmt.Errorf("%w: duplicate task id %s", ErrConfiguration, t.ID)
		}
		known[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if !known[dep] {
				return fmt.Errorf("%w: task %s depends on %s", ErrUnknownDependency, t.ID, dep)
			}
		}
	}

	// Trial-add on a scratch graph so a cycle leaves the queue untouched.
	trial := NewDependencyGraph()
	for id := range q.tasks {
		trial.AddNode(id)
	}
	for _, e := range q.graph.Edges() {
		trial.AddEdge(e.From, e.To) //nolint:errcheck // nodes exist
	}
	for _, t := range tasks {
		trial.AddNode(t.ID)
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if err := trial.AddEdge(dep, t.ID); err != nil {
				return err
			}
		}
	}
	if cycle := trial.DetectCycle(); cycle != nil {
		return fmt.Errorf("%w: %v", ErrCycleDetected, cycle)
	}

	q.graph = trial
	for _, t := range tasks {
		t.Status = TaskPending
		q.tasks[t.ID] = t
	}
	q.promoteLocked()
	return nil
}

// Get returns the task by ID, or nil.
func (q *TaskQueue) Get(id string) *SwarmTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks[id]
}

// Tasks returns every task, sorted by ID.
func (q *TaskQueue) Tasks() []*SwarmTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*SwarmTask, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Attempts returns the attempt counter for a task.
func (q *TaskQueue) Attempts(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.attempts[id]
}

// Waves computes the full dependency layering of the current non-terminal
// graph, for planning and status display.
func (q *TaskQueue) Waves() ([][]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.graph.Layers()
}

// Edges exposes the dependency edges for visualization.
func (q *TaskQueue) Edges() []GraphEdge {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.graph.Edges()
}

// MarkDispatched moves a ready task to dispatched and bumps its attempt
// counter.
func (q *TaskQueue) MarkDispatched(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status != TaskReady {
		return fmt.Errorf("%w: dispatch of %s in state %s", ErrInternalInvariant, id, t.Status)
	}
	t.Status = TaskDispatched
	q.attempts[id]++
	return nil
}

// MarkCompleted finishes a dispatched task and promotes dependents whose
// dependencies are now all satisfied.
func (q *TaskQueue) MarkCompleted(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	t.Status = TaskCompleted
	q.promoteLocked()
	return nil
}

// RequeueForRetry demotes a dispatched task back to ready after a transient
// failure. The attempt counter was already bumped at dispatch.
func (q *TaskQueue) RequeueForRetry(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status != TaskDispatched {
		return fmt.Errorf("%w: retry of %s in state %s", ErrInternalInvariant, id, t.Status)
	}
	t.Status = TaskReady
	return nil
}

// MarkFailed finishes a task as failed and skips every pending or ready task
// downstream of it. Each skip emits a skip event naming the failed root.
func (q *TaskQueue) MarkFailed(id string) error {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	t.Status = TaskFailed
	skipped := q.cascadeSkipLocked(id)
	q.mu.Unlock()

	if q.bus != nil {
		for _, skipID := range skipped {
			q.bus.Emit(newEvent(EventSkip, skipID, "", "Skipped: dependency failed", &SkipPayload{BlockedBy: id}))
		}
	}
	return nil
}

// cascadeSkipLocked skips all transitive dependents of failedID still in
// pending or ready, returning the IDs skipped in deterministic order.
func (q *TaskQueue) cascadeSkipLocked(failedID string) []string {
	var skipped []string
	queue := []string{failedID}
	seen := map[string]bool{failedID: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		dependents := q.graph.Dependents(cur)
		sort.Strings(dependents)
		for _, dep := range dependents {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			t := q.tasks[dep]
			if t != nil && (t.Status == TaskPending || t.Status == TaskReady) {
				t.Status = TaskSkipped
				skipped = append(skipped, dep)
			}
			queue = append(queue, dep)
		}
	}
	return skipped
}

// MarkSkippedWithArtifacts records that a skipped task left usable output on
// disk, which lets its dependents be promoted anyway.
func (q *TaskQueue) MarkSkippedWithArtifacts(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.tasks[id]; ok && t.Status == TaskSkipped {
		q.skippedWithArtifacts[id] = true
		q.promoteLocked()
	}
}

// RescueSkipped re-promotes a skipped task to ready, at most once per task.
// Returns false if the task is not skipped or was already rescued.
func (q *TaskQueue) RescueSkipped(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok || t.Status != TaskSkipped || q.rescued[id] {
		return false
	}
	q.rescued[id] = true
	t.Status = TaskReady
	return true
}

// Decompose replaces a task with LLM-produced sub-tasks. Sub-tasks inherit
// the original's dependencies; tasks that depended on the original now
// depend on every sub-task. The original ends in the decomposed state.
func (q *TaskQueue) Decompose(id string, subtasks []*SwarmTask) error {
	if len(subtasks) == 0 {
		return fmt.Errorf("%w: decompose %s with no subtasks", ErrConfiguration, id)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	original, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if original.Status.Terminal() {
		return fmt.Errorf("%w: decompose of terminal task %s", ErrInternalInvariant, id)
	}

	inherited := q.graph.Dependencies(id)
	dependents := q.graph.Dependents(id)

	for _, sub := range subtasks {
		if sub.ID == "" || q.tasks[sub.ID] != nil {
			return fmt.Errorf("%w: bad subtask id %q in decompose of %s", ErrConfiguration, sub.ID, id)
		}
	}

	for _, sub := range subtasks {
		sub.Status = TaskPending
		sub.Dependencies = append(append([]string(nil), inherited...), sub.Dependencies...)
		q.graph.AddNode(sub.ID)
	}
	for _, sub := range subtasks {
		for _, dep := range sub.Dependencies {
			if err := q.graph.AddEdge(dep, sub.ID); err != nil {
				return err
			}
		}
		q.tasks[sub.ID] = sub
	}
	for _, dependent := range dependents {
		t := q.tasks[dependent]
		for _, sub := range subtasks {
			if err := q.graph.AddEdge(sub.ID, dependent); err != nil {
				return err
			}
			t.Dependencies = append(t.Dependencies, sub.ID)
		}
	}

	original.Status = TaskDecomposed
	q.promoteLocked()
	return nil
}

// InsertFixup appends a fixup task with a dependency edge to the task it
// repairs. A fixup that would create a cycle is rejected.
func (q *TaskQueue) InsertFixup(fixup *SwarmTask) error {
	if !fixup.IsFixup() {
		return fmt.Errorf("%w: task %s is not a fixup", ErrConfiguration, fixup.ID)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.tasks[fixup.FixesTaskID]; !ok {
		return fmt.Errorf("%w: fixup target %s", ErrTaskNotFound, fixup.FixesTaskID)
	}
	if q.tasks[fixup.ID] != nil {
		return fmt.Errorf("%w: duplicate task id %s", ErrConfiguration, fixup.ID)
	}

	deps := append([]string(nil), fixup.Dependencies...)
	hasTarget := false
	for _, d := range deps {
		if d == fixup.FixesTaskID {
			hasTarget = true
		}
		if !q.graph.HasNode(d) {
			return fmt.Errorf("%w: %s", ErrUnknownDependency, d)
		}
	}
	if !hasTarget {
		deps = append(deps, fixup.FixesTaskID)
	}

	q.graph.AddNode(fixup.ID)
	for _, dep := range deps {
		if err := q.graph.AddEdge(dep, fixup.ID); err != nil {
			q.graph.RemoveNode(fixup.ID)
			return err
		}
	}
	if cycle := q.graph.DetectCycle(); cycle != nil {
		q.graph.RemoveNode(fixup.ID)
		return fmt.Errorf("%w: fixup %s: %v", ErrCycleDetected, fixup.ID, cycle)
	}

	fixup.Dependencies = deps
	fixup.Status = TaskPending
	q.tasks[fixup.ID] = fixup
	q.promoteLocked()
	return nil
}

// promoteLocked moves every pending task whose dependencies are all
// satisfied (completed, decomposed, or skipped-with-artifacts) to ready.
func (q *TaskQueue) promoteLocked() {
	for id, t := range q.tasks {
		if t.Status != TaskPending {
			continue
		}
		satisfied := true
		for _, dep := range q.graph.Dependencies(id) {
			if !q.depSatisfiedLocked(dep) {
				satisfied = false
				break
			}
		}
		if satisfied {
			t.Status = TaskReady
		}
	}
}

func (q *TaskQueue) depSatisfiedLocked(dep string) bool {
	t, ok := q.tasks[dep]
	if !ok {
		return false
	}
	switch t.Status {
	case TaskCompleted, TaskDecomposed:
		return true
	case TaskSkipped:
		return q.skippedWithArtifacts[dep]
	}
	return false
}

// NextWave returns the next ready set, largest first-fit subset with no
// unresolved file conflicts, capped at maxWorkers. Ordering is stable:
// priority ascending, then dependency count descending, then task ID.
//
// Under the serialize strategy, conflicting tasks simply stay ready for a
// later wave. Under first-wins, only the first claimant of a path joins the
// wave; each loser is skipped with a conflict event.
func (q *TaskQueue) NextWave(maxWorkers int) []*SwarmTask {
	q.mu.Lock()

	var ready []*SwarmTask
	for _, t := range q.tasks {
		if t.Status == TaskReady {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		da, db := len(q.graph.Dependencies(a.ID)), len(q.graph.Dependencies(b.ID))
		if da != db {
			return da > db
		}
		return a.ID < b.ID
	})

	var wave []*SwarmTask
	var conflicts []SwarmEvent
	claimed := make(map[string]string) // path -> taskID
	for _, t := range ready {
		if maxWorkers > 0 && len(wave) >= maxWorkers {
			break
		}
		conflictPath, conflictWith := "", ""
		for _, path := range t.TargetFiles {
			if holder, ok := claimed[path]; ok {
				conflictPath, conflictWith = path, holder
				break
			}
		}
		if conflictPath != "" {
			if q.strategy == ConflictFirstWins {
				t.Status = TaskSkipped
				conflicts = append(conflicts, newEvent(EventConflict, t.ID, "",
					fmt.Sprintf("Skipped: %s targeted by %s", conflictPath, conflictWith),
					&ConflictPayload{Path: conflictPath}))
			}
			continue
		}
		for _, path := range t.TargetFiles {
			claimed[path] = t.ID
		}
		wave = append(wave, t)
	}
	q.mu.Unlock()

	if q.bus != nil {
		for _, e := range conflicts {
			q.bus.Emit(e)
		}
	}
	return wave
}

// Stats counts tasks by lifecycle state.
func (q *TaskQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s QueueStats
	for _, t := range q.tasks {
		switch t.Status {
		case TaskPending:
			s.Pending++
		case TaskReady:
			s.Ready++
		case TaskDispatched:
			s.Running++
		case TaskCompleted:
			s.Completed++
		case TaskFailed:
			s.Failed++
		case TaskSkipped:
			s.Skipped++
		case TaskDecomposed:
			s.Decomposed++
		}
	}
	return s
}

// Snapshot serializes the queue for checkpointing.
func (q *TaskQueue) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := make([]*SwarmTask, 0, len(q.tasks))
	for _, t := range q.tasks {
		copied := *t
		copied.Dependencies = append([]string(nil), t.Dependencies...)
		copied.TargetFiles = append([]string(nil), t.TargetFiles...)
		tasks = append(tasks, &copied)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	attempts := make(map[string]int, len(q.attempts))
	for id, n := range q.attempts {
		attempts[id] = n
	}
	swa := make(map[string]bool, len(q.skippedWithArtifacts))
	for id, v := range q.skippedWithArtifacts {
		swa[id] = v
	}
	rescued := make(map[string]bool, len(q.rescued))
	for id, v := range q.rescued {
		rescued[id] = v
	}

	return QueueSnapshot{
		Tasks:                tasks,
		Edges:                q.graph.Edges(),
		Attempts:             attempts,
		SkippedWithArtifacts: swa,
		Rescued:              rescued,
	}
}

// Restore replaces the queue state from a snapshot. Tasks that were
// dispatched when the snapshot was taken are demoted to ready; attempt
// counters carry over.
func (q *TaskQueue) Restore(snap QueueSnapshot) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	graph := NewDependencyGraph()
	tasks := make(map[string]*SwarmTask, len(snap.Tasks))
	for _, t := range snap.Tasks {
		copied := *t
		if copied.Status == TaskDispatched {
			copied.Status = TaskReady
		}
		tasks[copied.ID] = &copied
		graph.AddNode(copied.ID)
	}
	for _, e := range snap.Edges {
		if err := graph.AddEdge(e.From, e.To); err != nil {
			return err
		}
	}
	if cycle := graph.DetectCycle(); cycle != nil {
		return fmt.Errorf("%w: %v", ErrCycleDetected, cycle)
	}

	q.tasks = tasks
	q.graph = graph
	q.attempts = make(map[string]int, len(snap.Attempts))
	for id, n := range snap.Attempts {
		q.attempts[id] = n
	}
	q.skippedWithArtifacts = make(map[string]bool, len(snap.SkippedWithArtifacts))
	for id, v := range snap.SkippedWithArtifacts {
		q.skippedWithArtifacts[id] = v
	}
	q.rescued = make(map[string]bool, len(snap.Rescued))
	for id, v := range snap.Rescued {
		q.rescued[id] = v
	}
	q.promoteLocked()
	return nil
}
