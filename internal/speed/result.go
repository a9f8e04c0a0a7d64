package speed

import (
	"time"

	"ollamabenchmark/internal/api"
	"ollamabenchmark/internal/monitor"
	"ollamabenchmark/internal/questions"
)

// Task is one unit of work: a question resolved from its identifier.
// Index is the submission position and the slot of its Result.
type Task struct {
	Index      int                `json:"index" yaml:"index"`
	QuestionID string             `json:"question_id" yaml:"question-id"`
	Question   questions.Question `json:"question" yaml:"question"`
}

// Result holds the per-turn metrics of one task. Durations are seconds and
// rates tokens per second. On failure Error is set, the metric lists and
// means are nil and Turns counts the turns that completed.
type Result struct {
	QuestionID string   `json:"question_id" yaml:"question-id"`
	Question   []string `json:"question" yaml:"question"`
	Responses  []string `json:"responses" yaml:"responses"`
	Turns      int      `json:"turns" yaml:"turns"`

	EvalDurations       []float64 `json:"eval_durations" yaml:"eval-durations"`
	PromptEvalDurations []float64 `json:"prompt_eval_durations" yaml:"prompt-eval-durations"`
	EvalCounts          []int     `json:"eval_counts" yaml:"eval-counts"`
	PromptEvalCounts    []int     `json:"prompt_eval_counts" yaml:"prompt-eval-counts"`
	EvalRates           []float64 `json:"eval_rates" yaml:"eval-rates"`
	PromptEvalRates     []float64 `json:"prompt_eval_rates" yaml:"prompt-eval-rates"`
	TotalDurations      []float64 `json:"total_durations" yaml:"total-durations"`
	LoadDurations       []float64 `json:"load_durations" yaml:"load-durations"`

	EvalDurationMean       *float64 `json:"eval_duration_mean" yaml:"eval-duration-mean"`
	PromptEvalDurationMean *float64 `json:"prompt_eval_duration_mean" yaml:"prompt-eval-duration-mean"`
	EvalCountMean          *float64 `json:"eval_count_mean" yaml:"eval-count-mean"`
	PromptEvalCountMean    *float64 `json:"prompt_eval_count_mean" yaml:"prompt-eval-count-mean"`
	EvalRateMean           *float64 `json:"eval_rate_mean" yaml:"eval-rate-mean"`
	PromptEvalRateMean     *float64 `json:"prompt_eval_rate_mean" yaml:"prompt-eval-rate-mean"`

	TokenizerEvalCounts       []int `json:"tokenizer_eval_counts,omitempty" yaml:"tokenizer-eval-counts,omitempty"`
	TokenizerPromptEvalCounts []int `json:"tokenizer_prompt_eval_counts,omitempty" yaml:"tokenizer-prompt-eval-counts,omitempty"`

	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty" yaml:"error-kind,omitempty"`
}

// Failed reports whether the task ended with an error.
func (r *Result) Failed() bool {
	return r.Error != ""
}

// addTurn appends the metrics of one completed exchange.
func (r *Result) addTurn(res *api.ChatResult) {
	evalSeconds := res.EvalDuration.Seconds()
	promptSeconds := res.PromptEvalDuration.Seconds()

	r.Turns++
	r.Responses = append(r.Responses, res.Message.Content)
	r.EvalDurations = append(r.EvalDurations, evalSeconds)
	r.PromptEvalDurations = append(r.PromptEvalDurations, promptSeconds)
	r.EvalCounts = append(r.EvalCounts, res.EvalCount)
	r.PromptEvalCounts = append(r.PromptEvalCounts, res.PromptEvalCount)
	r.EvalRates = append(r.EvalRates, rate(res.EvalCount, evalSeconds))
	r.PromptEvalRates = append(r.PromptEvalRates, rate(res.PromptEvalCount, promptSeconds))
	r.TotalDurations = append(r.TotalDurations, res.TotalDuration.Seconds())
	r.LoadDurations = append(r.LoadDurations, res.LoadDuration.Seconds())
}

// finalize computes the per-task means.
func (r *Result) finalize() {
	r.EvalDurationMean = meanPtr(r.EvalDurations)
	r.PromptEvalDurationMean = meanPtr(r.PromptEvalDurations)
	r.EvalCountMean = meanPtr(intsToFloats(r.EvalCounts))
	r.PromptEvalCountMean = meanPtr(intsToFloats(r.PromptEvalCounts))
	r.EvalRateMean = meanPtr(r.EvalRates)
	r.PromptEvalRateMean = meanPtr(r.PromptEvalRates)
}

// fail turns the result into an error result. Responses of completed turns
// are kept, metrics are dropped.
func (r *Result) fail(err error, kind string) {
	r.Error = err.Error()
	r.ErrorKind = kind
	r.EvalDurations = nil
	r.PromptEvalDurations = nil
	r.EvalCounts = nil
	r.PromptEvalCounts = nil
	r.EvalRates = nil
	r.PromptEvalRates = nil
	r.TotalDurations = nil
	r.LoadDurations = nil
	r.TokenizerEvalCounts = nil
	r.TokenizerPromptEvalCounts = nil
	r.EvalDurationMean = nil
	r.PromptEvalDurationMean = nil
	r.EvalCountMean = nil
	r.PromptEvalCountMean = nil
	r.EvalRateMean = nil
	r.PromptEvalRateMean = nil
}

// Duration is the sum of the task's per-turn total durations in seconds.
func (r *Result) Duration() float64 {
	return Sum(r.TotalDurations)
}

// Field is one reportable key of a Result.
type Field struct {
	Key   string
	Value any
}

// Fields lists the reportable fields in report order. question, question_id
// and responses are not part of it. Absent values are a nil Value.
func (r *Result) Fields(withTokenizer bool) []Field {
	fields := []Field{
		{"turns", r.Turns},
		{"eval_durations", floatsOrNil(r.EvalDurations)},
		{"prompt_eval_durations", floatsOrNil(r.PromptEvalDurations)},
		{"eval_counts", intsOrNil(r.EvalCounts)},
		{"prompt_eval_counts", intsOrNil(r.PromptEvalCounts)},
		{"eval_rates", floatsOrNil(r.EvalRates)},
		{"prompt_eval_rates", floatsOrNil(r.PromptEvalRates)},
		{"total_durations", floatsOrNil(r.TotalDurations)},
		{"load_durations", floatsOrNil(r.LoadDurations)},
	}
	for _, m := range r.means() {
		fields = append(fields, Field{m.Key, m.Value})
	}
	if withTokenizer {
		fields = append(fields,
			Field{"tokenizer_eval_counts", intsOrNil(r.TokenizerEvalCounts)},
			Field{"tokenizer_prompt_eval_counts", intsOrNil(r.TokenizerPromptEvalCounts)},
		)
	}
	if r.Failed() {
		fields = append(fields, Field{"error", r.Error}, Field{"error_kind", r.ErrorKind})
	}
	return fields
}

// MeanKeys are the aggregated keys, in report order.
var MeanKeys = []string{
	"eval_duration_mean",
	"prompt_eval_duration_mean",
	"eval_count_mean",
	"prompt_eval_count_mean",
	"eval_rate_mean",
	"prompt_eval_rate_mean",
}

func (r *Result) means() []Field {
	ptrs := []*float64{
		r.EvalDurationMean,
		r.PromptEvalDurationMean,
		r.EvalCountMean,
		r.PromptEvalCountMean,
		r.EvalRateMean,
		r.PromptEvalRateMean,
	}
	out := make([]Field, len(ptrs))
	for i, p := range ptrs {
		out[i] = Field{Key: MeanKeys[i]}
		if p != nil {
			out[i].Value = *p
		}
	}
	return out
}

func floatsOrNil(v []float64) any {
	if v == nil {
		return nil
	}
	return v
}

func intsOrNil(v []int) any {
	if v == nil {
		return nil
	}
	return v
}

// SuiteRun is the envelope of one run. RealDuration is the wall clock from
// dispatch to pool drain, in seconds.
type SuiteRun struct {
	ID           string           `json:"id" yaml:"id"`
	Model        string           `json:"model" yaml:"model"`
	StartedAt    time.Time        `json:"started_at" yaml:"started-at"`
	Config       Config           `json:"config" yaml:"config"`
	Tasks        []Task           `json:"tasks" yaml:"tasks"`
	Results      []Result         `json:"results" yaml:"results"`
	RealDuration float64          `json:"real_duration" yaml:"real-duration"`
	Monitoring   []monitor.Sample `json:"monitoring,omitempty" yaml:"monitoring,omitempty"`
}

// QuestionIDs returns the task identifiers in submission order.
func (s *SuiteRun) QuestionIDs() []string {
	ids := make([]string, len(s.Tasks))
	for i, t := range s.Tasks {
		ids[i] = t.QuestionID
	}
	return ids
}

// Failures counts the error results.
func (s *SuiteRun) Failures() int {
	n := 0
	for i := range s.Results {
		if s.Results[i].Failed() {
			n++
		}
	}
	return n
}

// TotalDuration sums the per-turn total durations of every result.
func (s *SuiteRun) TotalDuration() float64 {
	var total float64
	for i := range s.Results {
		total += Sum(s.Results[i].TotalDurations)
	}
	return total
}

// EvalRateMean averages the per-result eval rate means, skipping failures.
// It returns nil when no result has one.
func (s *SuiteRun) EvalRateMean() *float64 {
	var values []float64
	for i := range s.Results {
		if m := s.Results[i].EvalRateMean; m != nil {
			values = append(values, *m)
		}
	}
	return meanPtr(values)
}
