package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/thalesfsp/tune"
	"github.com/thalesfsp/tune/store"
)

type historyCmdConfig struct {
	*rootCmdConfig
	dbInput string
	study   string
}

func historyCmd(rootConfig *rootCmdConfig) *cobra.Command {
	hcc := &historyCmdConfig{rootCmdConfig: rootConfig}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded searches",
		Long: `List the studies recorded in a history database, or the trials of one
study with --study`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := hcc.Validate(); err != nil {
				return err
			}

			st, err := store.Open(hcc.dbInput)
			if err != nil {
				return err
			}
			defer st.Close()

			if hcc.study == "" {
				return listStudies(cmd.Context(), st, cmd.OutOrStdout())
			}

			return listTrials(cmd.Context(), st, hcc.study, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&hcc.dbInput, "db", "", "path to the history database")
	cmd.Flags().StringVar(&hcc.study, "study", "", "study to list the trials of")

	return cmd
}

func (hcc *historyCmdConfig) Validate() error {
	if hcc.dbInput == "" {
		return fmt.Errorf("required db flag was not set")
	}

	return nil
}

func listStudies(ctx context.Context, st *store.Store, w io.Writer) error {
	studies, err := st.Studies(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STUDY\tCREATED\tTRIALS\tFAILED\tBEST")

	for _, s := range studies {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			s.ID, s.CreatedAt.Format(time.RFC3339), s.Trials, s.Failed, formatScore(s.BestScore))
	}

	return tw.Flush()
}

func listTrials(ctx context.Context, st *store.Store, study string, w io.Writer) error {
	trials, err := st.Trials(ctx, study)
	if err != nil {
		return err
	}

	if len(trials) == 0 {
		return fmt.Errorf("no trials recorded for study %q", study)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSCORE\tDURATION\tPARAMS")

	for _, t := range trials {
		score := formatScore(t.Score)
		if t.Failed && t.Err != nil {
			score = "failed: " + t.Err.Error()
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", t.Number, score, t.Duration.Round(time.Millisecond), formatParams(t.Params))
	}

	return tw.Flush()
}

func formatScore(score float64) string {
	if score >= tune.FailureScore {
		return "-"
	}

	return fmt.Sprintf("%.6f", score)
}

func formatParams(p tune.Params) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, p[k])
	}

	return strings.Join(parts, " ")
}
