package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ollamabenchmark/internal/logging"
	"ollamabenchmark/internal/speed"
)

// Job states
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Job is an asynchronous suite run with basic status tracking
type Job struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Progress    int             `json:"progress"` // 0-100
	Completed   int             `json:"completed"`
	Total       int             `json:"total"`
	Message     string          `json:"message"`
	Result      *speed.SuiteRun `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Request     SuiteRequest    `json:"request"`

	cancelFunc context.CancelFunc
}

// Finished reports whether the job reached a terminal state.
func (job Job) Finished() bool {
	return job.Status != StatusRunning
}

// ToSSEMessage formats the job as an SSE data frame
func (job Job) ToSSEMessage() string {
	data, err := json.Marshal(job)
	if err != nil {
		minimal := fmt.Sprintf(`{"id":%q,"status":%q,"progress":%d,"error":"job could not be serialized"}`, job.ID, job.Status, job.Progress)
		return fmt.Sprintf("data: %s\n\n", minimal)
	}
	return fmt.Sprintf("data: %s\n\n", data)
}

// JobManager tracks suite jobs and fans their updates out to listeners
type JobManager struct {
	jobs           map[string]*Job
	listeners      map[string][]chan Job
	onUpdate       func(Job)
	activeJobCount int
	logger         *logging.Logger
	mutex          sync.RWMutex
}

// NewJobManager creates a job manager
func NewJobManager(logger *logging.Logger) *JobManager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &JobManager{
		jobs:      make(map[string]*Job),
		listeners: make(map[string][]chan Job),
		logger:    logger,
	}
}

// OnUpdate registers a hook called after every job change, outside the
// manager lock.
func (jm *JobManager) OnUpdate(fn func(Job)) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()
	jm.onUpdate = fn
}

// CreateJob registers a running job for total tasks. cancel stops the run.
func (jm *JobManager) CreateJob(request SuiteRequest, total int, cancel context.CancelFunc) Job {
	jm.mutex.Lock()
	job := &Job{
		ID:         uuid.New().String(),
		Status:     StatusRunning,
		Total:      total,
		Message:    "Starting suite...",
		CreatedAt:  time.Now(),
		Request:    request,
		cancelFunc: cancel,
	}
	jm.jobs[job.ID] = job
	jm.activeJobCount++
	snapshot := *job
	hook := jm.onUpdate
	jm.mutex.Unlock()

	jm.logger.InfoWithFields("Job created", map[string]interface{}{
		"jobId":      snapshot.ID,
		"model":      request.Model,
		"tasks":      total,
		"activeJobs": jm.GetActiveJobCount(),
	})
	if hook != nil {
		hook(snapshot)
	}
	return snapshot
}

// GetJob returns a snapshot of the job
func (jm *JobManager) GetJob(jobID string) (Job, bool) {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns snapshots of all jobs, oldest first
func (jm *JobManager) ListJobs() []Job {
	jm.mutex.RLock()
	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	jm.mutex.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// update applies fn to a running job and broadcasts the new state. fn
// returning false leaves the job untouched.
func (jm *JobManager) update(jobID string, fn func(job *Job) bool) (Job, bool) {
	jm.mutex.Lock()
	job, exists := jm.jobs[jobID]
	if !exists || !fn(job) {
		jm.mutex.Unlock()
		return Job{}, false
	}
	snapshot := *job
	jm.broadcastUpdate(snapshot)
	hook := jm.onUpdate
	jm.mutex.Unlock()

	if hook != nil {
		hook(snapshot)
	}
	return snapshot, true
}

// UpdateJobProgress records the number of finished tasks
func (jm *JobManager) UpdateJobProgress(jobID string, done, total int, message string) {
	_, ok := jm.update(jobID, func(job *Job) bool {
		if job.Finished() {
			return false
		}
		job.Completed = done
		job.Total = total
		if total > 0 {
			job.Progress = done * 100 / total
		}
		job.Message = message
		return true
	})
	if ok {
		jm.logger.DebugWithContext(&logging.LogContext{JobID: jobID}, "Job progress updated: %d/%d - %s", done, total, message)
	}
}

// CompleteJob attaches the suite run. A cancelled job keeps its status but
// still gets the partial run.
func (jm *JobManager) CompleteJob(jobID string, run *speed.SuiteRun) {
	_, ok := jm.update(jobID, func(job *Job) bool {
		job.Result = run
		if job.Status == StatusCancelled {
			return true
		}
		job.Status = StatusCompleted
		job.Progress = 100
		job.Completed = job.Total
		job.Message = "Suite completed successfully"
		if run != nil && run.Failures() > 0 {
			job.Message = fmt.Sprintf("Suite completed with %d failed tasks", run.Failures())
		}
		jm.finish(job)
		return true
	})
	if ok {
		jm.logger.InfoWithContext(&logging.LogContext{JobID: jobID}, "Job completed")
	} else {
		jm.logger.ErrorWithContext(&logging.LogContext{JobID: jobID}, "Job not found for completion")
	}
}

// FailJob marks a running job as failed
func (jm *JobManager) FailJob(jobID string, errorMsg string) {
	_, ok := jm.update(jobID, func(job *Job) bool {
		if job.Finished() {
			return false
		}
		job.Status = StatusFailed
		job.Message = "Suite failed"
		job.Error = errorMsg
		jm.finish(job)
		return true
	})
	if ok {
		jm.logger.ErrorWithFields("Job failed", map[string]interface{}{
			"jobId": jobID,
			"error": errorMsg,
		})
	}
}

// CancelJob cancels a running job by cancelling its context
func (jm *JobManager) CancelJob(jobID string) bool {
	_, ok := jm.update(jobID, func(job *Job) bool {
		if job.Finished() {
			return false
		}
		if job.cancelFunc != nil {
			job.cancelFunc()
		}
		job.Status = StatusCancelled
		job.Message = "Job cancelled by user"
		job.Error = "Job cancelled by user"
		jm.finish(job)
		return true
	})
	if ok {
		jm.logger.InfoWithContext(&logging.LogContext{JobID: jobID}, "Job cancelled")
	} else {
		jm.logger.WarnWithContext(&logging.LogContext{JobID: jobID}, "Job not found or not cancellable")
	}
	return ok
}

// CancelAll cancels every running job, used on shutdown
func (jm *JobManager) CancelAll() {
	for _, job := range jm.ListJobs() {
		if !job.Finished() {
			jm.CancelJob(job.ID)
		}
	}
}

// finish must be called with the lock held
func (jm *JobManager) finish(job *Job) {
	now := time.Now()
	job.CompletedAt = &now
	if jm.activeJobCount > 0 {
		jm.activeJobCount--
	}
}

// RegisterListener returns a channel receiving every update of the job
func (jm *JobManager) RegisterListener(jobID string) chan Job {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	ch := make(chan Job, 16)
	jm.listeners[jobID] = append(jm.listeners[jobID], ch)
	return ch
}

// UnregisterListener removes and closes a listener channel
func (jm *JobManager) UnregisterListener(jobID string, ch chan Job) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	listeners := jm.listeners[jobID]
	for i, l := range listeners {
		if l == ch {
			jm.listeners[jobID] = append(listeners[:i], listeners[i+1:]...)
			close(ch)
			break
		}
	}
	if len(jm.listeners[jobID]) == 0 {
		delete(jm.listeners, jobID)
	}
}

// broadcastUpdate must be called with the lock held
func (jm *JobManager) broadcastUpdate(job Job) {
	for _, ch := range jm.listeners[job.ID] {
		select {
		case ch <- job:
		default:
			jm.logger.WarnWithContext(&logging.LogContext{JobID: job.ID}, "Listener channel full, skipping update")
		}
	}
}

// GetActiveJobCount returns the number of currently running jobs
func (jm *JobManager) GetActiveJobCount() int {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()
	return jm.activeJobCount
}

// GetSystemStatus returns the global system status
func (jm *JobManager) GetSystemStatus() map[string]interface{} {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()

	return map[string]interface{}{
		"activeJobs": jm.activeJobCount,
		"isBusy":     jm.activeJobCount > 0,
		"totalJobs":  len(jm.jobs),
		"timestamp":  time.Now(),
	}
}

// CleanupOldJobs removes jobs that finished more than maxAge ago and
// returns how many were removed
func (jm *JobManager) CleanupOldJobs(maxAge time.Duration) int {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range jm.jobs {
		if !job.Finished() {
			continue
		}
		finishedAt := job.CreatedAt
		if job.CompletedAt != nil {
			finishedAt = *job.CompletedAt
		}
		if finishedAt.Before(cutoff) {
			delete(jm.jobs, id)
			removed++
		}
	}
	return removed
}
