package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"ollamabenchmark/internal/store"
	"ollamabenchmark/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		port      int
		host      string
		apiName   string
		storePath string
		qFile     string
		retention time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the suite runner over HTTP",
		Long: `Starts the HTTP API: asynchronous suite jobs with SSE and websocket
progress, model discovery and the stored run history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("port") {
				cfg.Port = port
			}
			if fs.Changed("host") {
				cfg.Host = host
			}
			if fs.Changed("api") {
				cfg.API = apiName
			}
			if fs.Changed("store") {
				cfg.Store = storePath
			}
			if fs.Changed("questions-file") {
				cfg.QuestionsFile = qFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
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

			opts := server.Options{Client: client, Questions: source, Logger: logger, JobRetention: retention}
			if cfg.Store != "" {
				st, err := store.Open(cfg.Store)
				if err != nil {
					return fmt.Errorf("opening history store: %w", err)
				}
				defer st.Close()
				opts.Store = st
			}

			if os.Getenv("GIN_MODE") == "" {
				gin.SetMode(gin.ReleaseMode)
			}
			logger.Info("Benchmarking %s (%s api)", cfg.Host, cfg.API)
			return server.New(opts).Run(cmd.Context(), fmt.Sprintf(":%d", cfg.Port))
		},
	}

	fs := cmd.Flags()
	fs.IntVarP(&port, "port", "p", 8080, "listen port (default $PORT or 8080)")
	fs.StringVar(&host, "host", "", "serving endpoint (default $OLLAMA_HOST)")
	fs.StringVar(&apiName, "api", "", "serving protocol: ollama or openai")
	fs.StringVar(&storePath, "store", "", "SQLite file recording the run history")
	fs.StringVar(&qFile, "questions-file", "", "JSONL or YAML file replacing the built-in questions")
	fs.DurationVar(&retention, "job-retention", server.DefaultJobRetention, "how long finished jobs stay queryable")
	return cmd
}
