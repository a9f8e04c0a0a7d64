package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ollamabenchmark/internal/store"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		storePath string
		model     string
		limit     int
		format    string
	)

	openStore := func(cmd *cobra.Command) (*store.Store, error) {
		cfg, err := root.load()
		if err != nil {
			return nil, err
		}
		if cmd.Flags().Changed("store") {
			cfg.Store = storePath
		}
		if cfg.Store == "" {
			return nil, errors.New("no history store: pass --store or set OLLAMA_BENCHMARK_STORE")
		}
		return store.Open(cfg.Store)
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored suite runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.List(cmd.Context(), store.ListOptions{Model: model, Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case formatJSON:
				s, err := toJSON(runs)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
				return nil
			case formatYAML:
				s, err := toYAML(runs)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
				return nil
			}

			if len(runs) == 0 {
				fmt.Fprintln(out, "No stored runs")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMODEL\tSTARTED\tTASKS\tFAILED\tWORKERS\tREAL (s)\tEVAL RATE (tok/s)")
			for _, r := range runs {
				rate := "-"
				if r.EvalRateMean != nil {
					rate = humanize.FormatFloat("#,###.##", *r.EvalRateMean)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					r.ID, r.Model, humanize.Time(r.StartedAt), r.Tasks, r.Failures, r.MaxWorkers,
					humanize.FormatFloat("#,###.##", r.RealDuration), rate)
			}
			return tw.Flush()
		},
	}

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return writeRun(cmd.OutOrStdout(), run, format, logger)
		},
	}

	cmd.PersistentFlags().StringVar(&storePath, "store", "", "SQLite history file (default $OLLAMA_BENCHMARK_STORE)")
	cmd.PersistentFlags().StringVarP(&format, "format", "f", formatText, "output format: text, json or yaml")
	cmd.Flags().StringVarP(&model, "model", "m", "", "only runs of this model")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs (0 for all)")
	cmd.AddCommand(show)
	return cmd
}
