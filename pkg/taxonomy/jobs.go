package taxonomy

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LookupStatus represents the lifecycle of one OTU lookup.
type LookupStatus string

const (
	LookupQueued   LookupStatus = "queued"
	LookupRunning  LookupStatus = "running"
	LookupResolved LookupStatus = "resolved"
	LookupFailed   LookupStatus = "failed"
)

// LookupJob keeps track of one OTU while its taxonomy is being resolved.
type LookupJob struct {
	ID          string
	OTU         string
	Query       string
	MatchedName string
	Status      LookupStatus
	Attempts    int
	Reason      string // set when Status is LookupFailed
	CreatedAt   time.Time
	UpdatedAt   time.Time

	seq int
}

// LookupTracker stores lookup states indexed by OTU identifier.
type LookupTracker struct {
	mu   sync.RWMutex
	jobs map[string]*LookupJob
	next int
}

func NewLookupTracker() *LookupTracker {
	return &LookupTracker{
		jobs: make(map[string]*LookupJob),
	}
}

// NewJob registers a queued lookup. Registering the same OTU again replaces it.
func (m *LookupTracker) NewJob(otu, query string) *LookupJob {
	now := time.Now()
	job := &LookupJob{
		ID:        uuid.NewString(),
		OTU:       otu,
		Query:     query,
		Status:    LookupQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	job.seq = m.next
	m.next++
	m.jobs[otu] = job
	m.mu.Unlock()
	return job
}

func (m *LookupTracker) SetRunning(otu string) {
	m.updateJob(otu, func(job *LookupJob) {
		job.Status = LookupRunning
	})
}

// AddAttempt counts one call to the service.
func (m *LookupTracker) AddAttempt(otu string) {
	m.updateJob(otu, func(job *LookupJob) {
		job.Attempts++
	})
}

func (m *LookupTracker) Complete(otu, matchedName string) {
	m.updateJob(otu, func(job *LookupJob) {
		job.Status = LookupResolved
		job.MatchedName = matchedName
	})
}

func (m *LookupTracker) Fail(otu, reason string) {
	m.updateJob(otu, func(job *LookupJob) {
		job.Status = LookupFailed
		job.Reason = reason
	})
}

// Reset forgets every job.
func (m *LookupTracker) Reset() {
	m.mu.Lock()
	m.jobs = make(map[string]*LookupJob)
	m.next = 0
	m.mu.Unlock()
}

// GetJob returns a copy of the job so callers never race with updates.
func (m *LookupTracker) GetJob(otu string) (LookupJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[otu]
	if !ok {
		return LookupJob{}, false
	}
	return *job, true
}

// Jobs returns copies of all jobs with the given status, in registration order.
func (m *LookupTracker) Jobs(status LookupStatus) []LookupJob {
	m.mu.RLock()
	out := make([]LookupJob, 0)
	for _, job := range m.jobs {
		if job.Status == status {
			out = append(out, *job)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Counts returns the number of jobs per status.
func (m *LookupTracker) Counts() map[LookupStatus]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[LookupStatus]int, 4)
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts
}

func (m *LookupTracker) updateJob(otu string, update func(job *LookupJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[otu]
	if !ok {
		return
	}

	update(job)
	job.UpdatedAt = time.Now()
}
