package parser

import (
	"github.com/marmos91/framekit/pkg/lock"
)

// List is an ordered registry of in-flight parser tasks.
//
// Tasks are kept in dispatch order. Finished tasks stay listed until the next
// Sweep; Clear drops everything at disconnect time.
//
// Thread safety:
// All methods are safe for concurrent use, guarded by the injected Locker.
type List struct {
	mu    lock.Locker
	tasks []*Task
}

// NewList creates an empty list guarded by mu. A nil mu selects an exclusive lock.
func NewList(mu lock.Locker) *List {
	if mu == nil {
		mu = lock.NewExclusive()
	}
	return &List{mu: mu}
}

// Add appends t.
func (l *List) Add(t *Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = append(l.tasks, t)
}

// Sweep removes finished tasks, preserving the order of the rest.
// Returns the number of tasks removed.
func (l *List) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.tasks[:0]
	for _, t := range l.tasks {
		if !t.Finished() {
			kept = append(kept, t)
		}
	}
	removed := len(l.tasks) - len(kept)

	for i := len(kept); i < len(l.tasks); i++ {
		l.tasks[i] = nil
	}
	l.tasks = kept
	return removed
}

// Clear cancels every listed task and empties the list.
//
// Running parsers observe cancellation through their context but are not
// waited for. Returns the number of tasks that were still running.
func (l *List) Clear() int {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	running := 0
	for _, t := range tasks {
		if !t.Finished() {
			running++
		}
		t.Cancel()
	}
	return running
}

// Len returns the number of listed tasks, finished or not.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Snapshot returns a copy of the listed tasks in dispatch order.
func (l *List) Snapshot() []*Task {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Task, len(l.tasks))
	copy(out, l.tasks)
	return out
}
