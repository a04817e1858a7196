// Package queue holds the in-memory FIFO of app-creation jobs shared by the
// control surface and the worker loop.
package queue

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is one requested app listing. Jobs are immutable once enqueued.
type Job struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Snapshot is a consistent copy of the queue taken under the queue lock.
type Snapshot struct {
	Current *Job
	Pending []Job
	Active  bool
}

// Queue is a mutex-guarded FIFO with a single "current" slot owned by the worker.
type Queue struct {
	mu      sync.Mutex
	pending []Job
	current *Job
	active  bool
	now     func() time.Time
}

// New creates an empty queue
func New() *Queue {
	return &Queue{now: time.Now}
}

// EnqueueMany appends one job per non-empty trimmed name, preserving order,
// and returns the resulting pending count.
func (q *Queue) EnqueueMany(names []string) int {
	names = CleanNames(names)
	jobs := make([]Job, 0, len(names))
	at := q.now()
	for _, name := range names {
		jobs = append(jobs, Job{
			ID:         uuid.New().String(),
			Name:       name,
			EnqueuedAt: at,
		})
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, jobs...)
	return len(q.pending)
}

// DequeueNext pops the head job and marks it current. It never blocks;
// ok is false when nothing is pending.
func (q *Queue) DequeueNext() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Job{}, false
	}

	job := q.pending[0]
	q.pending[0] = Job{}
	q.pending = q.pending[1:]
	q.current = &job
	return job, true
}

// FinishCurrent clears the current slot once the worker is done with a job.
func (q *Queue) FinishCurrent() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = nil
}

// Snapshot returns a read-only copy of the queue state.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{
		Pending: make([]Job, len(q.pending)),
		Active:  q.active,
	}
	copy(snap.Pending, q.pending)
	if q.current != nil {
		current := *q.current
		snap.Current = &current
	}
	return snap
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// MarkActive flags the queue as being drained by a running worker.
func (q *Queue) MarkActive() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = true
}

// MarkIdle clears the current job and sets active=false. Used when the
// worker loop stops.
func (q *Queue) MarkIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = nil
	q.active = false
}

// Clear drops every pending job and returns what was dropped.
func (q *Queue) Clear() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := q.pending
	q.pending = nil
	return dropped
}

// Names returns the names of the given jobs in order.
func Names(jobs []Job) []string {
	names := make([]string, len(jobs))
	for i, job := range jobs {
		names[i] = job.Name
	}
	return names
}

// CleanNames trims names and drops empty ones, keeping order.
func CleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// SplitNames splits newline-separated input into candidate job names.
// Blank lines are kept; EnqueueMany filters them.
func SplitNames(input string) []string {
	input = strings.ReplaceAll(input, "\r\n", "\n")
	return strings.Split(input, "\n")
}
