package speed

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamabenchmark/internal/api"
	"ollamabenchmark/internal/logging"
	"ollamabenchmark/internal/monitor"
	"ollamabenchmark/internal/questions"
	"ollamabenchmark/internal/tokenizer"
)

// fakeClient answers every exchange after the delay configured for the
// question's first prompt.
type fakeClient struct {
	mu       sync.Mutex
	delays   map[string]time.Duration
	failures map[string]error
	requests []api.ChatRequest

	pullErr    error
	prewarmErr error
	pulls      atomic.Int32

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		delays:   map[string]time.Duration{},
		failures: map[string]error{},
	}
}

func (f *fakeClient) Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResult, error) {
	key := req.Messages[0].Content
	if key == prewarmPrompt {
		return &api.ChatResult{Message: api.Message{Role: api.RoleAssistant, Content: "hi"}}, f.prewarmErr
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	delay := f.delays[key]
	failure := f.failures[key]
	f.mu.Unlock()

	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, &api.ClientError{Kind: api.KindConnection, Message: "request aborted", Cause: ctx.Err()}
	}
	if failure != nil {
		return nil, failure
	}

	turn := len(req.Messages)/2 + 1
	return &api.ChatResult{
		Message:            api.Message{Role: api.RoleAssistant, Content: fmt.Sprintf("answer %d to %s", turn, key)},
		TotalDuration:      delay,
		LoadDuration:       time.Millisecond,
		PromptEvalDuration: delay / 4,
		EvalDuration:       delay / 2,
		PromptEvalCount:    10 * turn,
		EvalCount:          20,
	}, nil
}

func (f *fakeClient) Pull(ctx context.Context, model string) error {
	f.pulls.Add(1)
	return f.pullErr
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

func (f *fakeClient) ListModels(ctx context.Context) ([]api.ModelInfo, error) {
	return []api.ModelInfo{{Name: "fake"}}, nil
}

func (f *fakeClient) chatRequests() []api.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.ChatRequest(nil), f.requests...)
}

// makeQuestions builds single turn questions q0..q{n-1} whose prompt is their id.
func makeQuestions(n int) (*questions.Set, []string) {
	qs := make([]questions.Question, n)
	ids := make([]string, n)
	for i := range qs {
		ids[i] = fmt.Sprintf("q%d", i)
		qs[i] = questions.Question{ID: ids[i], Turns: []string{ids[i]}}
	}
	return questions.NewSet(qs...), ids
}

func baseConfig(ids []string, workers int) Config {
	return Config{
		Model:       "fake",
		QuestionIDs: ids,
		MaxWorkers:  workers,
	}
}

func TestRunSuiteKeepsSubmissionOrder(t *testing.T) {
	for _, workers := range []int{1, 2, 3, 8, 32} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			source, ids := makeQuestions(12)
			client := newFakeClient()
			rng := rand.New(rand.NewSource(int64(workers)))
			for _, id := range ids {
				client.delays[id] = time.Duration(rng.Intn(20)) * time.Millisecond
			}

			tester, err := NewTester(baseConfig(ids, workers), client, source, nil)
			require.NoError(t, err)

			run, err := tester.RunSuite(context.Background())
			require.NoError(t, err)
			require.Len(t, run.Results, len(ids))
			for i, res := range run.Results {
				assert.Equal(t, ids[i], res.QuestionID)
				assert.False(t, res.Failed())
			}
			assert.LessOrEqual(t, int(client.maxActive.Load()), workers)
		})
	}
}

func TestRunSuiteTwoLanes(t *testing.T) {
	source := questions.NewSet(
		questions.Question{ID: "A", Turns: []string{"A"}},
		questions.Question{ID: "B", Turns: []string{"B"}},
		questions.Question{ID: "C", Turns: []string{"C"}},
	)
	client := newFakeClient()
	client.delays["A"] = 200 * time.Millisecond
	client.delays["B"] = 100 * time.Millisecond
	client.delays["C"] = 40 * time.Millisecond

	tester, err := NewTester(baseConfig([]string{"A", "B", "C"}, 2), client, source, nil)
	require.NoError(t, err)

	run, err := tester.RunSuite(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Results, 3)
	assert.Equal(t, "A", run.Results[0].QuestionID)
	assert.Equal(t, "B", run.Results[1].QuestionID)
	assert.Equal(t, "C", run.Results[2].QuestionID)

	// A runs alone on one lane while B then C share the other
	assert.GreaterOrEqual(t, run.RealDuration, 0.2)
	assert.Less(t, run.RealDuration, 0.34)
	for _, res := range run.Results {
		assert.GreaterOrEqual(t, run.RealDuration, res.Duration())
	}
	assert.Equal(t, int32(2), client.maxActive.Load())
}

func TestRunSuiteConnectionErrorIsLocal(t *testing.T) {
	source, ids := makeQuestions(3)
	client := newFakeClient()
	client.failures["q1"] = &api.ClientError{Kind: api.KindConnection, Message: "connection refused"}

	tester, err := NewTester(baseConfig(ids, 2), client, source, nil)
	require.NoError(t, err)

	run, err := tester.RunSuite(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Results, 3)

	failed := run.Results[1]
	assert.True(t, failed.Failed())
	assert.Equal(t, "connection refused", failed.Error)
	assert.Equal(t, string(api.KindConnection), failed.ErrorKind)
	assert.Nil(t, failed.EvalDurations)
	assert.Nil(t, failed.EvalRateMean)
	assert.Equal(t, 0, failed.Turns)

	assert.False(t, run.Results[0].Failed())
	assert.False(t, run.Results[2].Failed())
	assert.Equal(t, 1, run.Failures())
}

func TestRunSuiteMultiTurn(t *testing.T) {
	source := questions.NewSet(questions.Question{ID: "81", Turns: []string{"write", "rewrite", "again"}})
	client := newFakeClient()

	tester, err := NewTester(baseConfig([]string{"81"}, 1), client, source, nil)
	require.NoError(t, err)

	run, err := tester.RunSuite(context.Background())
	require.NoError(t, err)

	res := run.Results[0]
	require.Equal(t, 3, res.Turns)
	assert.Equal(t, []string{"answer 1 to write", "answer 2 to write", "answer 3 to write"}, res.Responses)
	assert.Equal(t, []int{10, 20, 30}, res.PromptEvalCounts)
	require.NotNil(t, res.PromptEvalCountMean)
	assert.Equal(t, 20.0, *res.PromptEvalCountMean)

	reqs := client.chatRequests()
	require.Len(t, reqs, 3)
	last := reqs[2].Messages
	require.Len(t, last, 5)
	assert.Equal(t, api.RoleUser, last[0].Role)
	assert.Equal(t, "write", last[0].Content)
	assert.Equal(t, api.RoleAssistant, last[1].Role)
	assert.Equal(t, "answer 1 to write", last[1].Content)
	assert.Equal(t, "again", last[4].Content)
}

func TestRunSuiteMaxTurns(t *testing.T) {
	source := questions.NewSet(questions.Question{ID: "81", Turns: []string{"write", "rewrite"}})
	client := newFakeClient()

	cfg := baseConfig([]string{"81"}, 1)
	cfg.MaxTurns = 1
	tester, err := NewTester(cfg, client, source, nil)
	require.NoError(t, err)

	run, err := tester.RunSuite(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Results[0].Turns)
	assert.Equal(t, []string{"write"}, run.Results[0].Question)
	assert.Len(t, client.chatRequests(), 1)
}

func TestRunSuiteFailureOnSecondTurnKeepsResponses(t *testing.T) {
	source := questions.NewSet(questions.Question{ID: "81", Turns: []string{"write", "rewrite"}})
	client := &secondTurnFailure{fakeClient: newFakeClient()}

	tester, err := NewTester(baseConfig([]string{"81"}, 1), client, source, nil)
	require.NoError(t, err)

	run, err := tester.RunSuite(context.Background())
	require.NoError(t, err)

	res := run.Results[0]
	assert.True(t, res.Failed())
	assert.Equal(t, 1, res.Turns)
	assert.Equal(t, []string{"answer 1 to write"}, res.Responses)
	assert.Equal(t, string(api.KindTimeout), res.ErrorKind)
	assert.Nil(t, res.TotalDurations)
}

type secondTurnFailure struct {
	*fakeClient
}

func (s *secondTurnFailure) Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResult, error) {
	if len(req.Messages) > 1 {
		return nil, &api.ClientError{Kind: api.KindTimeout, Message: "request timed out"}
	}
	return s.fakeClient.Chat(ctx, req)
}

func TestRunSuiteCanceled(t *testing.T) {
	source, ids := makeQuestions(4)
	client := newFakeClient()
	for _, id := range ids {
		client.delays[id] = time.Second
	}

	tester, err := NewTester(baseConfig(ids, 2), client, source, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	run, err := tester.RunSuite(ctx)
	require.NoError(t, err)
	require.Len(t, run.Results, 4)
	for _, res := range run.Results {
		assert.True(t, res.Failed())
	}
	assert.Less(t, run.RealDuration, 0.5)
}

func TestRunSuitePullAndPrewarm(t *testing.T) {
	source, ids := makeQuestions(1)

	t.Run("unreachable pull is fatal", func(t *testing.T) {
		client := newFakeClient()
		client.pullErr = &api.ClientError{Kind: api.KindConnection, Message: "dial tcp: connection refused"}
		cfg := baseConfig(ids, 1)
		cfg.Pull = true

		tester, err := NewTester(cfg, client, source, nil)
		require.NoError(t, err)

		run, err := tester.RunSuite(context.Background())
		require.Error(t, err)
		assert.Nil(t, run)
		assert.ErrorIs(t, err, ErrSetup)
		assert.Empty(t, client.chatRequests(), "no task may be dispatched")
		assert.Len(t, tester.Tasks(), 1, "tasks stay readable after a failed run")
	})

	t.Run("other pull failure is logged", func(t *testing.T) {
		client := newFakeClient()
		client.pullErr = &api.ClientError{Kind: api.KindInvalidResponse, Message: "pull failed"}
		cfg := baseConfig(ids, 1)
		cfg.Pull = true

		tester, err := NewTester(cfg, client, source, nil)
		require.NoError(t, err)

		run, err := tester.RunSuite(context.Background())
		require.NoError(t, err)
		assert.Len(t, run.Results, 1)
		assert.Equal(t, int32(1), client.pulls.Load())
	})

	t.Run("slow pull is logged", func(t *testing.T) {
		client := newFakeClient()
		client.pullErr = &api.ClientError{Kind: api.KindTimeout, Message: "POST /api/pull failed", Cause: context.DeadlineExceeded}
		cfg := baseConfig(ids, 1)
		cfg.Pull = true

		var logs bytes.Buffer
		logger := logging.New(logging.Options{Level: logging.WARN, Stdout: &logs, Stderr: &logs})
		tester, err := NewTester(cfg, client, source, logger)
		require.NoError(t, err)

		run, err := tester.RunSuite(context.Background())
		require.NoError(t, err)
		assert.Len(t, run.Results, 1)
		assert.False(t, run.Results[0].Failed())
		assert.Contains(t, logs.String(), "Pull failed (timeout), continuing")
	})

	t.Run("slow prewarm is logged", func(t *testing.T) {
		client := newFakeClient()
		client.prewarmErr = &api.ClientError{Kind: api.KindTimeout, Message: "request timed out"}
		cfg := baseConfig(ids, 1)
		cfg.Prewarm = true

		tester, err := NewTester(cfg, client, source, nil)
		require.NoError(t, err)

		run, err := tester.RunSuite(context.Background())
		require.NoError(t, err)
		assert.Len(t, run.Results, 1)
	})

	t.Run("unreachable prewarm is fatal", func(t *testing.T) {
		client := newFakeClient()
		client.prewarmErr = &api.ClientError{Kind: api.KindConnection, Message: "dial tcp: connection refused"}
		cfg := baseConfig(ids, 1)
		cfg.Prewarm = true

		tester, err := NewTester(cfg, client, source, nil)
		require.NoError(t, err)

		_, err = tester.RunSuite(context.Background())
		assert.ErrorIs(t, err, ErrSetup)
	})

	t.Run("prewarm is not measured", func(t *testing.T) {
		client := newFakeClient()
		cfg := baseConfig(ids, 1)
		cfg.Prewarm = true

		tester, err := NewTester(cfg, client, source, nil)
		require.NoError(t, err)

		run, err := tester.RunSuite(context.Background())
		require.NoError(t, err)
		assert.Len(t, client.chatRequests(), 1)
		assert.Len(t, run.Results, 1)
	})
}

func TestNewTesterSetupErrors(t *testing.T) {
	source, ids := makeQuestions(2)

	_, err := NewTester(baseConfig([]string{"q0", "missing"}, 1), newFakeClient(), source, nil)
	assert.ErrorIs(t, err, ErrSetup)
	assert.ErrorIs(t, err, questions.ErrUnknownQuestion)

	cfg := baseConfig(ids, 1)
	cfg.TokenizerModel = "no-such-tokenizer"
	_, err = NewTester(cfg, newFakeClient(), source, nil)
	assert.ErrorIs(t, err, ErrSetup)
	assert.ErrorIs(t, err, tokenizer.ErrLoad)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no model", Config{QuestionIDs: ids, MaxWorkers: 1}},
		{"no workers", Config{Model: "m", QuestionIDs: ids}},
		{"negative turns", Config{Model: "m", QuestionIDs: ids, MaxWorkers: 1, MaxTurns: -1}},
		{"no questions", Config{Model: "m", MaxWorkers: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTester(tt.cfg, newFakeClient(), source, nil)
			assert.ErrorIs(t, err, ErrSetup)
		})
	}
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestRunSuiteTokenizerCounts(t *testing.T) {
	source := questions.NewSet(questions.Question{ID: "x", Turns: []string{"one two", "three"}})
	tester, err := NewTester(baseConfig([]string{"x"}, 1), newFakeClient(), source, nil)
	require.NoError(t, err)
	tester.counter = wordCounter{}

	run, err := tester.RunSuite(context.Background())
	require.NoError(t, err)

	res := run.Results[0]
	// replies are "answer N to one two", four words
	assert.Equal(t, []int{4, 4}, res.TokenizerEvalCounts)
	// second prompt: "one two" + reply + "three"
	assert.Equal(t, []int{2, 7}, res.TokenizerPromptEvalCounts)
}

func TestRunSuiteOnResult(t *testing.T) {
	source, ids := makeQuestions(5)
	tester, err := NewTester(baseConfig(ids, 3), newFakeClient(), source, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []int
	tester.OnResult = func(done, total int, result Result) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 5, total)
		seen = append(seen, done)
	}

	_, err = tester.RunSuite(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, seen)
}

type tickProbe struct{}

func (tickProbe) Name() string { return "tick" }

func (tickProbe) Collect(ctx context.Context, s *monitor.Sample) error {
	s.Host = &monitor.HostStats{CPUPercent: 1}
	return nil
}

func TestMonitoringDisabled(t *testing.T) {
	source, ids := makeQuestions(2)
	tester, err := NewTester(baseConfig(ids, 1), newFakeClient(), source, nil)
	require.NoError(t, err)

	run, err := tester.RunSuite(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tester.MonitoringResults())
	assert.Empty(t, run.Monitoring)
}

func TestMonitoringIndependentOfTasks(t *testing.T) {
	samplesFor := func(tasks, workers int) int {
		source, ids := makeQuestions(tasks)
		client := newFakeClient()
		for _, id := range ids {
			client.delays[id] = 100 * time.Millisecond
		}
		cfg := baseConfig(ids, workers)
		cfg.MonitoringEnabled = true
		cfg.MonitoringInterval = 20 * time.Millisecond
		cfg.Probes = []monitor.Probe{tickProbe{}}

		tester, err := NewTester(cfg, client, source, nil)
		require.NoError(t, err)
		run, err := tester.RunSuite(context.Background())
		require.NoError(t, err)

		samples := tester.MonitoringResults()
		assert.Equal(t, len(samples), len(run.Monitoring))
		return len(samples)
	}

	few := samplesFor(1, 1)
	many := samplesFor(10, 10)

	assert.GreaterOrEqual(t, few, 3)
	assert.InDelta(t, few, many, 3)
}

func TestTasksBeforeRun(t *testing.T) {
	source, ids := makeQuestions(3)
	tester, err := NewTester(baseConfig(ids, 1), newFakeClient(), source, nil)
	require.NoError(t, err)

	tasks := tester.Tasks()
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, i, task.Index)
		assert.Equal(t, ids[i], task.QuestionID)
	}

	tasks[0].QuestionID = "mutated"
	assert.Equal(t, "q0", tester.Tasks()[0].QuestionID)
}

func TestErrorKindCanceled(t *testing.T) {
	res := Result{QuestionID: "x"}
	res.fail(context.Canceled, KindCanceled)
	assert.Equal(t, "context canceled", res.Error)
	assert.Equal(t, KindCanceled, res.ErrorKind)
}
