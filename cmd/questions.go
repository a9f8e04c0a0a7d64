package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ollamabenchmark/internal/questions"
)

func newQuestionsCmd(root *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "questions",
		Short: "List the available question ids",
		Long: `Lists the questions the speed command can run. The built-in set is a
subset of the MT-Bench questions: ids 81-85, 91, 101, 111, 121, 141 and 151.
For the full set (ids 81-160) pass FastChat's mt_bench question.jsonl with
--questions-file.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("questions-file") {
				cfg.QuestionsFile = file
			}
			source, err := loadQuestions(cfg)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCATEGORY\tTURNS\tFIRST TURN")
			for _, id := range source.IDs() {
				q, err := source.Get(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", q.ID, q.Category, len(q.Turns), firstLine(q))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&file, "questions-file", "", "JSONL or YAML question file (default built-in set)")
	return cmd
}

func firstLine(q questions.Question) string {
	if len(q.Turns) == 0 {
		return ""
	}
	line, _, _ := strings.Cut(q.Turns[0], "\n")
	if runes := []rune(line); len(runes) > 60 {
		return string(runes[:57]) + "..."
	}
	return line
}
