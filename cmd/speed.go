package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"ollamabenchmark/internal/config"
	"ollamabenchmark/internal/logging"
	"ollamabenchmark/internal/monitor"
	"ollamabenchmark/internal/questions"
	"ollamabenchmark/internal/speed"
	"ollamabenchmark/internal/store"
)

// speedFlags are the flags of the speed command. Each one overrides the
// config file and environment only when given.
type speedFlags struct {
	host               string
	api                string
	apiKey             string
	timeout            time.Duration
	model              string
	questions          []string
	questionsFile      string
	maxWorkers         int
	maxTurns           int
	pull               bool
	prewarm            bool
	monitoringEnabled  bool
	monitoringOutput   string
	monitoringInterval time.Duration
	tokenizerModel     string
	store              string
	format             string
	progress           bool
}

func newSpeedCmd(root *rootOptions) *cobra.Command {
	f := &speedFlags{}

	cmd := &cobra.Command{
		Use:   "speed",
		Short: "Run a question suite and report generation speed",
		Long: `Runs every selected question as a multi-turn conversation on a pool of
workers and prints per-question metrics followed by the suite aggregates.`,
		Example: `  # Default question on a local Ollama
  ollamabenchmark speed --model llama3

  # Several questions, two workers, a fixed seed and monitoring
  ollamabenchmark speed --model llama3 --questions 81,82,83 --max-workers 2 \
    --seed 42 --monitoring-enabled --monitoring-output monitoring.yaml

  # OpenAI-compatible endpoint, JSON output
  ollamabenchmark speed --api openai --host http://vllm:8000 --model mistral --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpeed(cmd, root, f)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.host, "host", config.DefaultHost, "serving endpoint (default $OLLAMA_HOST)")
	fs.StringVar(&f.api, "api", config.APIOllama, "serving protocol: ollama or openai")
	fs.StringVar(&f.apiKey, "api-key", "", "bearer token for the serving endpoint")
	fs.DurationVar(&f.timeout, "timeout", config.DefaultTimeout, "timeout of a single request")
	fs.StringVarP(&f.model, "model", "m", "", "model to benchmark")
	fs.StringSliceVarP(&f.questions, "questions", "q", config.DefaultQuestions, "question ids, comma separated or repeated (see the questions command)")
	fs.StringVar(&f.questionsFile, "questions-file", "", "JSONL or YAML file replacing the built-in questions")
	fs.IntVarP(&f.maxWorkers, "max-workers", "w", 1, "number of questions run concurrently")
	fs.IntVar(&f.maxTurns, "max-turns", 0, "maximum turns per question (0 runs every turn)")
	fs.BoolVar(&f.pull, "pull", false, "pull the model before the run")
	fs.BoolVar(&f.prewarm, "prewarm", false, "send one short request before the run")
	fs.BoolVar(&f.monitoringEnabled, "monitoring-enabled", false, "sample host and GPU usage during the run")
	fs.StringVar(&f.monitoringOutput, "monitoring-output", config.DefaultMonitoringOutput, "monitoring file (.json, .yaml or .yml)")
	fs.DurationVar(&f.monitoringInterval, "monitoring-interval", monitor.DefaultInterval, "monitoring sample interval")
	fs.StringVar(&f.tokenizerModel, "tokenizer-model", "", "tiktoken encoding, tokenizer.json path or Hugging Face repo id for client-side token counts")
	fs.StringVar(&f.store, "store", "", "SQLite file recording the run history")
	fs.StringVarP(&f.format, "format", "f", formatText, "output format: text, json or yaml")
	fs.BoolVar(&f.progress, "progress", true, "show a progress bar on stderr")
	addOptionFlags(fs)

	return cmd
}

// apply copies the flags given on the command line into cfg
func (f *speedFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("host") {
		cfg.Host = f.host
	}
	if fs.Changed("api") {
		cfg.API = f.api
	}
	if fs.Changed("api-key") {
		cfg.APIKey = f.apiKey
	}
	if fs.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if fs.Changed("model") {
		cfg.Model = f.model
	}
	if fs.Changed("questions") {
		cfg.Questions = f.questions
	}
	if fs.Changed("questions-file") {
		cfg.QuestionsFile = f.questionsFile
	}
	if fs.Changed("max-workers") {
		cfg.MaxWorkers = f.maxWorkers
	}
	if fs.Changed("max-turns") {
		cfg.MaxTurns = f.maxTurns
	}
	if fs.Changed("pull") {
		cfg.Pull = f.pull
	}
	if fs.Changed("prewarm") {
		cfg.Prewarm = f.prewarm
	}
	if fs.Changed("monitoring-enabled") {
		cfg.Monitoring.Enabled = f.monitoringEnabled
	}
	if fs.Changed("monitoring-output") {
		cfg.Monitoring.Output = f.monitoringOutput
	}
	if fs.Changed("monitoring-interval") {
		cfg.Monitoring.Interval = f.monitoringInterval
	}
	if fs.Changed("tokenizer-model") {
		cfg.TokenizerModel = f.tokenizerModel
	}
	if fs.Changed("store") {
		cfg.Store = f.store
	}
}

func loadQuestions(cfg *config.Config) (questions.Source, error) {
	if cfg.QuestionsFile == "" {
		return questions.Builtin(), nil
	}
	return questions.Load(cfg.QuestionsFile)
}

func runSpeed(cmd *cobra.Command, root *rootOptions, f *speedFlags) error {
	if err := validFormat(f.format); err != nil {
		return err
	}
	cfg, err := root.load()
	if err != nil {
		return err
	}
	f.apply(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Model == "" {
		return errors.New("--model is required")
	}

	// stdout carries the report
	logger, err := newLogger(cfg, cmd.ErrOrStderr(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	source, err := loadQuestions(cfg)
	if err != nil {
		return err
	}
	options, err := applyOptionFlags(cmd.Flags(), cfg.Options)
	if err != nil {
		return err
	}

	tester, err := speed.NewTester(speed.Config{
		Model:              cfg.Model,
		QuestionIDs:        cfg.Questions,
		MaxWorkers:         cfg.MaxWorkers,
		MaxTurns:           cfg.MaxTurns,
		Options:            options,
		Pull:               cfg.Pull,
		Prewarm:            cfg.Prewarm,
		MonitoringEnabled:  cfg.Monitoring.Enabled,
		MonitoringInterval: cfg.Monitoring.Interval,
		TokenizerModel:     cfg.TokenizerModel,
	}, client, source, logger)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if f.progress {
		bar = progressbar.NewOptions(len(tester.Tasks()),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription(fmt.Sprintf("%s questions", cfg.Model)),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionClearOnFinish(),
		)
		tester.OnResult = func(done, total int, result speed.Result) {
			bar.Add(1)
		}
	}

	run, err := tester.RunSuite(cmd.Context())
	if bar != nil {
		bar.Finish()
		bar.Close()
	}
	if err != nil {
		return err
	}

	// the report of a completed run is printed even when persisting it fails
	if err := writeRun(cmd.OutOrStdout(), run, f.format, logger); err != nil {
		return err
	}

	var errs []error
	if cfg.Monitoring.Enabled {
		if err := monitor.WriteFile(cfg.Monitoring.Output, run.Monitoring); err != nil {
			logger.Error("Failed to write monitoring results: %v", err)
			errs = append(errs, fmt.Errorf("writing monitoring results: %w", err))
		} else {
			logger.Info("Wrote %d monitoring samples to %s", len(run.Monitoring), cfg.Monitoring.Output)
		}
	}

	if cfg.Store != "" {
		if err := saveRun(cmd, cfg.Store, run, logger); err != nil {
			logger.Error("Failed to store suite run %s: %v", run.ID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func saveRun(cmd *cobra.Command, path string, run *speed.SuiteRun, logger *logging.Logger) error {
	st, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer st.Close()

	if err := st.Save(cmd.Context(), run); err != nil {
		return err
	}
	logger.Info("Saved suite run %s to %s", run.ID, path)
	return nil
}
