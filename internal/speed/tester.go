// Package speed runs a suite of benchmark questions against a model and
// collects per-turn timing and token metrics.
package speed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ollamabenchmark/internal/api"
	"ollamabenchmark/internal/logging"
	"ollamabenchmark/internal/monitor"
	"ollamabenchmark/internal/questions"
	"ollamabenchmark/internal/tokenizer"
)

// ErrSetup marks errors that abort a run before any task is dispatched.
var ErrSetup = errors.New("setup failed")

// KindCanceled is the error kind of tasks interrupted by the caller's context.
const KindCanceled = "canceled"

const prewarmPrompt = "Hello"

// Config is the run configuration of a Tester.
type Config struct {
	Model              string        `json:"model" yaml:"model"`
	QuestionIDs        []string      `json:"question_ids" yaml:"question-ids"`
	MaxWorkers         int           `json:"max_workers" yaml:"max-workers"`
	MaxTurns           int           `json:"max_turns,omitempty" yaml:"max-turns,omitempty"` // 0 runs every turn
	Options            api.Options   `json:"options,omitempty" yaml:"options,omitempty"`
	Pull               bool          `json:"pull" yaml:"pull"`
	Prewarm            bool          `json:"prewarm" yaml:"prewarm"`
	MonitoringEnabled  bool          `json:"monitoring_enabled" yaml:"monitoring-enabled"`
	MonitoringInterval time.Duration `json:"monitoring_interval,omitempty" yaml:"monitoring-interval,omitempty"`
	TokenizerModel     string        `json:"tokenizer_model,omitempty" yaml:"tokenizer-model,omitempty"`

	// Probes overrides the monitor probes; nil uses monitor.DefaultProbes.
	Probes []monitor.Probe `json:"-" yaml:"-"`
}

// Validate checks the values a run cannot start without.
func (c *Config) Validate() error {
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max workers must be at least 1, got %d", c.MaxWorkers)
	}
	if c.MaxTurns < 0 {
		return fmt.Errorf("max turns must not be negative, got %d", c.MaxTurns)
	}
	if len(c.QuestionIDs) == 0 {
		return errors.New("at least one question is required")
	}
	return nil
}

type tokenCounter interface {
	Count(text string) int
}

// Tester runs a suite of questions on a bounded pool of workers.
type Tester struct {
	cfg     Config
	client  api.Client
	logger  *logging.Logger
	tasks   []Task
	counter tokenCounter

	// OnResult is called from worker goroutines once per finished task.
	OnResult func(done, total int, result Result)

	mu         sync.Mutex
	monitoring []monitor.Sample
}

// NewTester resolves the configured questions and loads the tokenizer.
// Both failures are setup errors.
func NewTester(cfg Config, client api.Client, source questions.Source, logger *logging.Logger) (*Tester, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	tasks := make([]Task, 0, len(cfg.QuestionIDs))
	for i, id := range cfg.QuestionIDs {
		q, err := source.Get(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSetup, err)
		}
		tasks = append(tasks, Task{Index: i, QuestionID: q.ID, Question: q})
	}

	t := &Tester{
		cfg:    cfg,
		client: client,
		logger: logger,
		tasks:  tasks,
	}

	if cfg.TokenizerModel != "" {
		counter, err := tokenizer.Load(cfg.TokenizerModel)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSetup, err)
		}
		t.counter = counter
		logger.Info("Loaded tokenizer %s", cfg.TokenizerModel)
	}
	return t, nil
}

// Config returns the run configuration.
func (t *Tester) Config() Config {
	return t.cfg
}

// Tasks returns the task list in submission order, regardless of run state.
func (t *Tester) Tasks() []Task {
	return slices.Clone(t.tasks)
}

// MonitoringResults returns the samples of the last run; empty when
// monitoring is disabled.
func (t *Tester) MonitoringResults() []monitor.Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.monitoring)
}

// RunSuite pulls and prewarms the model when configured, runs every task and
// returns the results in task order. Only setup errors are returned; a
// failing task becomes an error Result.
func (t *Tester) RunSuite(ctx context.Context) (*SuiteRun, error) {
	if err := t.prepare(ctx); err != nil {
		return nil, err
	}

	run := &SuiteRun{
		ID:        uuid.NewString(),
		Model:     t.cfg.Model,
		StartedAt: time.Now().UTC(),
		Config:    t.cfg,
		Tasks:     t.Tasks(),
	}
	log := t.logger.WithContext(&logging.LogContext{SuiteID: run.ID, Model: t.cfg.Model})

	var mon *monitor.Monitor
	if t.cfg.MonitoringEnabled {
		probes := t.cfg.Probes
		if probes == nil {
			probes = monitor.DefaultProbes(t.client)
		}
		mon = monitor.New(t.cfg.MonitoringInterval, t.logger, probes...)
		if err := mon.Start(ctx); err != nil {
			return nil, fmt.Errorf("%w: starting monitor: %w", ErrSetup, err)
		}
	}

	log.Info("Running %d tasks with %d workers", len(t.tasks), t.cfg.MaxWorkers)
	start := time.Now()
	run.Results = t.dispatch(ctx, run.ID)
	run.RealDuration = time.Since(start).Seconds()

	if mon != nil {
		samples := mon.Stop()
		t.mu.Lock()
		t.monitoring = samples
		t.mu.Unlock()
		run.Monitoring = slices.Clone(samples)
	}

	log.InfoWithFields("Suite finished", map[string]interface{}{
		"real_duration": run.RealDuration,
		"failures":      run.Failures(),
		"samples":       len(run.Monitoring),
	})
	return run, nil
}

// prepare pulls and prewarms the model. Failures are logged; only an
// endpoint that refuses the connection aborts the run. A slow pull or
// prewarm is a warning.
func (t *Tester) prepare(ctx context.Context) error {
	log := t.logger.WithContext(&logging.LogContext{Model: t.cfg.Model, Operation: "prepare"})

	if t.cfg.Pull {
		log.Info("Pulling model")
		if err := t.client.Pull(ctx, t.cfg.Model); err != nil {
			if api.IsUnreachable(err) {
				return fmt.Errorf("%w: pulling %s: %w", ErrSetup, t.cfg.Model, err)
			}
			log.Warn("Pull failed (%s), continuing: %v", api.KindOf(err), err)
		}
	}

	if t.cfg.Prewarm {
		log.Info("Prewarming model")
		_, err := t.client.Chat(ctx, api.ChatRequest{
			Model:    t.cfg.Model,
			Messages: []api.Message{{Role: api.RoleUser, Content: prewarmPrompt}},
			Options:  t.cfg.Options,
		})
		if err != nil {
			if api.IsUnreachable(err) {
				return fmt.Errorf("%w: prewarming %s: %w", ErrSetup, t.cfg.Model, err)
			}
			log.Warn("Prewarm failed (%s), continuing: %v", api.KindOf(err), err)
		}
	}
	return nil
}

// dispatch feeds task indexes to MaxWorkers workers. Each result is written
// to the slot of its task, so the slice is in submission order once the
// pool drains.
func (t *Tester) dispatch(ctx context.Context, suiteID string) []Result {
	results := make([]Result, len(t.tasks))

	queue := make(chan int, len(t.tasks))
	for i := range t.tasks {
		queue <- i
	}
	close(queue)

	workers := min(t.cfg.MaxWorkers, len(t.tasks))
	var completed atomic.Int32
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range queue {
				results[i] = t.runTask(ctx, suiteID, t.tasks[i])
				done := int(completed.Add(1))
				if t.OnResult != nil {
					t.OnResult(done, len(t.tasks), results[i])
				}
			}
			return nil
		})
	}
	g.Wait()
	return results
}

// runTask runs the turns of one question sequentially, each turn carrying
// the conversation so far.
func (t *Tester) runTask(ctx context.Context, suiteID string, task Task) Result {
	log := t.logger.WithContext(&logging.LogContext{SuiteID: suiteID, QuestionID: task.QuestionID, Model: t.cfg.Model})

	turns := task.Question.Turns
	if t.cfg.MaxTurns > 0 && t.cfg.MaxTurns < len(turns) {
		turns = turns[:t.cfg.MaxTurns]
	}

	res := Result{
		QuestionID: task.QuestionID,
		Question:   slices.Clone(turns),
		Responses:  []string{},
	}

	messages := make([]api.Message, 0, 2*len(turns))
	for n, prompt := range turns {
		if err := ctx.Err(); err != nil {
			res.fail(err, KindCanceled)
			return res
		}

		messages = append(messages, api.Message{Role: api.RoleUser, Content: prompt})
		chat, err := t.client.Chat(ctx, api.ChatRequest{
			Model:    t.cfg.Model,
			Messages: slices.Clone(messages),
			Options:  t.cfg.Options,
		})
		if err != nil {
			kind := string(api.KindOf(err))
			if errors.Is(err, context.Canceled) {
				kind = KindCanceled
			}
			log.ErrorWithFields("Task failed", map[string]interface{}{
				"turn":  n + 1,
				"kind":  kind,
				"error": err.Error(),
			})
			res.fail(err, kind)
			return res
		}

		reply := chat.Message
		if reply.Role == "" {
			reply.Role = api.RoleAssistant
		}
		res.addTurn(chat)

		if t.counter != nil {
			promptTokens := 0
			for _, m := range messages {
				promptTokens += t.counter.Count(m.Content)
			}
			res.TokenizerPromptEvalCounts = append(res.TokenizerPromptEvalCounts, promptTokens)
			res.TokenizerEvalCounts = append(res.TokenizerEvalCounts, t.counter.Count(reply.Content))
		}

		messages = append(messages, reply)
		log.Debug("Turn %d done: %d tokens in %.2fs", n+1, chat.EvalCount, chat.EvalDuration.Seconds())
	}

	res.finalize()
	return res
}
