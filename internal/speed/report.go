package speed

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"ollamabenchmark/internal/api"
	"ollamabenchmark/internal/logging"
)

const (
	// MaxValueLength is the length past which a report value is cut.
	MaxValueLength = 100
	// MaxFieldLength is the length past which a per-task field is left out.
	MaxFieldLength = 500

	truncatedSuffix = "... (truncated)"
)

// OptionKeys are the generation options, in report order.
var OptionKeys = []string{
	"mirostat",
	"mirostat_eta",
	"mirostat_tau",
	"num_ctx",
	"repeat_last_n",
	"repeat_penalty",
	"temperature",
	"seed",
	"stop",
	"tfs_z",
	"num_predict",
	"top_k",
	"top_p",
	"min_p",
}

// Report prints a suite run as "key: value" lines.
type Report struct {
	Run    *SuiteRun
	Logger *logging.Logger
}

// WriteTo writes the report. Overall configuration comes first, then one
// "i;question_id;key: value" line per result field, then the aggregates.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	logger := r.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	run := r.Run
	cfg := run.Config

	var b strings.Builder
	line := func(key, value string) {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteByte('\n')
	}

	var maxTurns any
	if cfg.MaxTurns > 0 {
		maxTurns = cfg.MaxTurns
	}
	var tokenizerModel any
	if cfg.TokenizerModel != "" {
		tokenizerModel = cfg.TokenizerModel
	}

	line("model", run.Model)
	line("question_ids", jsonList(run.QuestionIDs()))
	line("max_workers", FormatValue(cfg.MaxWorkers))
	line("max_turns", FormatValue(maxTurns))
	line("tokenizer_model", FormatValue(tokenizerModel))
	for _, key := range OptionKeys {
		line(key, FormatValue(optionValue(cfg.Options, key)))
	}

	totals := make(map[string][]float64, len(MeanKeys))
	var totalDurations []float64
	withTokenizer := cfg.TokenizerModel != ""
	for i := range run.Results {
		res := &run.Results[i]
		for _, f := range res.Fields(withTokenizer) {
			value := FormatValue(f.Value)
			if n := utf8.RuneCountInString(value); n > MaxFieldLength {
				logger.Debug("Skipping large field '%s' with size %d", f.Key, n)
				continue
			}
			line(fmt.Sprintf("%d;%s;%s", i, res.QuestionID, f.Key), Truncate(value, MaxValueLength))
		}
		for _, m := range res.means() {
			if v, ok := m.Value.(float64); ok {
				totals[m.Key] = append(totals[m.Key], v)
			}
		}
		totalDurations = append(totalDurations, res.TotalDurations...)
	}

	for _, key := range MeanKeys {
		values := totals[key]
		if len(values) == 0 {
			continue
		}
		line(key, formatFloat(Mean(values)))
		line(strings.Replace(key, "mean", "stdev", 1), formatFloat(Stdev(values)))
	}

	if len(totalDurations) == 0 {
		line("total_duration", "0")
	} else {
		line("total_duration", formatFloat(Sum(totalDurations)))
	}
	line("real_duration", formatFloat(run.RealDuration))

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func optionValue(opts api.Options, key string) any {
	if opts == nil {
		return nil
	}
	return opts[key]
}

// Truncate cuts s to max characters followed by "... (truncated)".
// Shorter values are returned unchanged.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + truncatedSuffix
}

// FormatValue renders a value the way the report prints it: nil as None,
// floats with a decimal point, lists as [a, b] with quoted strings.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case string:
		return val
	case bool:
		if val {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case *float64:
		if val == nil {
			return "None"
		}
		return formatFloat(*val)
	case []float64:
		parts := make([]string, len(val))
		for i, f := range val {
			parts[i] = formatFloat(f)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []int:
		parts := make([]string, len(val))
		for i, n := range val {
			parts[i] = strconv.Itoa(n)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		parts := make([]string, len(val))
		for i, s := range val {
			parts[i] = quote(s)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []any:
		parts := make([]string, len(val))
		for i, e := range val {
			if s, ok := e.(string); ok {
				parts[i] = quote(s)
			} else {
				parts[i] = FormatValue(e)
			}
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(val)
	}
}

// formatFloat prints the shortest representation that round-trips, always
// with a decimal point or an exponent.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\t", `\t`, "\r", `\r`)
	return "'" + r.Replace(s) + "'"
}

// jsonList renders ids as a JSON array with ", " separators.
func jsonList(ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		data, _ := json.Marshal(id)
		parts[i] = string(data)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
