package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamabenchmark/internal/speed"
)

func TestJobManagerProgress(t *testing.T) {
	jm := NewJobManager(nil)
	var hooked []Job
	jm.OnUpdate(func(job Job) { hooked = append(hooked, job) })

	job := jm.CreateJob(SuiteRequest{Model: "llama3"}, 4, nil)
	assert.Equal(t, StatusRunning, job.Status)
	assert.Equal(t, 1, jm.GetActiveJobCount())

	updates := jm.RegisterListener(job.ID)
	jm.UpdateJobProgress(job.ID, 1, 4, "Question 81 finished")

	got := <-updates
	assert.Equal(t, 25, got.Progress)
	assert.Equal(t, 1, got.Completed)
	assert.Equal(t, "Question 81 finished", got.Message)

	run := &speed.SuiteRun{ID: "suite-1", Results: []speed.Result{{QuestionID: "81"}, {QuestionID: "82", Error: "boom"}}}
	jm.CompleteJob(job.ID, run)

	got = <-updates
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 4, got.Completed)
	assert.Equal(t, "Suite completed with 1 failed tasks", got.Message)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 0, jm.GetActiveJobCount())

	// finished jobs ignore progress and failure
	jm.UpdateJobProgress(job.ID, 2, 4, "late")
	jm.FailJob(job.ID, "late")
	current, _ := jm.GetJob(job.ID)
	assert.Equal(t, StatusCompleted, current.Status)
	assert.Empty(t, current.Error)

	jm.UnregisterListener(job.ID, updates)
	_, open := <-updates
	assert.False(t, open)

	require.Len(t, hooked, 3)
	assert.Equal(t, StatusRunning, hooked[0].Status)
	assert.Equal(t, StatusCompleted, hooked[2].Status)
}

func TestJobManagerCancel(t *testing.T) {
	jm := NewJobManager(nil)
	ctx, cancel := context.WithCancel(context.Background())
	job := jm.CreateJob(SuiteRequest{Model: "llama3"}, 1, cancel)

	assert.True(t, jm.CancelJob(job.ID))
	assert.Error(t, ctx.Err())
	assert.False(t, jm.CancelJob(job.ID))
	assert.False(t, jm.CancelJob("unknown"))

	jm.CompleteJob(job.ID, &speed.SuiteRun{ID: "partial"})
	current, _ := jm.GetJob(job.ID)
	assert.Equal(t, StatusCancelled, current.Status)
	require.NotNil(t, current.Result)
	assert.Equal(t, "partial", current.Result.ID)
	assert.Equal(t, 0, jm.GetActiveJobCount())
}

func TestJobManagerFail(t *testing.T) {
	jm := NewJobManager(nil)
	job := jm.CreateJob(SuiteRequest{Model: "llama3"}, 1, nil)

	jm.FailJob(job.ID, "setup failed: connection refused")

	current, ok := jm.GetJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, current.Status)
	assert.Equal(t, "setup failed: connection refused", current.Error)
	assert.Contains(t, current.ToSSEMessage(), `"status":"failed"`)
}

func TestJobManagerCancelAll(t *testing.T) {
	jm := NewJobManager(nil)
	a := jm.CreateJob(SuiteRequest{Model: "a"}, 1, nil)
	b := jm.CreateJob(SuiteRequest{Model: "b"}, 1, nil)
	jm.FailJob(b.ID, "boom")

	jm.CancelAll()

	jobA, _ := jm.GetJob(a.ID)
	jobB, _ := jm.GetJob(b.ID)
	assert.Equal(t, StatusCancelled, jobA.Status)
	assert.Equal(t, StatusFailed, jobB.Status)
}

func TestJobManagerListAndCleanup(t *testing.T) {
	jm := NewJobManager(nil)
	first := jm.CreateJob(SuiteRequest{Model: "a"}, 1, nil)
	second := jm.CreateJob(SuiteRequest{Model: "b"}, 1, nil)

	jobs := jm.ListJobs()
	require.Len(t, jobs, 2)
	assert.False(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))

	jm.CompleteJob(first.ID, nil)
	assert.Equal(t, 0, jm.CleanupOldJobs(time.Hour))
	assert.Equal(t, 1, jm.CleanupOldJobs(-time.Second))

	jobs = jm.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, second.ID, jobs[0].ID)
}

func TestSuiteRequestConfig(t *testing.T) {
	cfg := SuiteRequest{Model: "llama3"}.SuiteConfig()
	assert.Equal(t, []string{"81"}, cfg.QuestionIDs)
	assert.Equal(t, 1, cfg.MaxWorkers)
	assert.Zero(t, cfg.MonitoringInterval)

	cfg = SuiteRequest{
		Model:              "llama3",
		Questions:          []string{"82", "83"},
		MaxWorkers:         3,
		MaxTurns:           1,
		Options:            map[string]any{"seed": 1.0},
		Monitoring:         true,
		MonitoringInterval: 0.5,
	}.SuiteConfig()
	assert.Equal(t, []string{"82", "83"}, cfg.QuestionIDs)
	assert.Equal(t, 3, cfg.MaxWorkers)
	assert.Equal(t, 1, cfg.MaxTurns)
	assert.Equal(t, 1.0, cfg.Options["seed"])
	assert.True(t, cfg.MonitoringEnabled)
	assert.Equal(t, 500*time.Millisecond, cfg.MonitoringInterval)
}

func TestNewJobMessage(t *testing.T) {
	now := time.Now()
	running := Job{ID: "j", Status: StatusRunning, Progress: 50, Completed: 1, Total: 2, CreatedAt: now, Request: SuiteRequest{Model: "m"}}
	msg := NewJobMessage(running)
	assert.Equal(t, MessageTypeProgress, msg.Type)
	progress := msg.Data.(ProgressUpdate)
	assert.Equal(t, 50, progress.Progress)
	assert.Equal(t, "m", progress.Model)

	done := Job{ID: "j", Status: StatusCompleted, CompletedAt: &now, Result: &speed.SuiteRun{ID: "s", RealDuration: 2}}
	msg = NewJobMessage(done)
	assert.Equal(t, MessageTypeComplete, msg.Type)
	completion := msg.Data.(CompletionMessage)
	assert.Equal(t, "s", completion.SuiteID)
	assert.Equal(t, 2.0, completion.RealDuration)

	assert.Equal(t, MessageTypeError, NewJobMessage(Job{Status: StatusFailed}).Type)
	assert.Equal(t, MessageTypeCancelled, NewJobMessage(Job{Status: StatusCancelled}).Type)
}
