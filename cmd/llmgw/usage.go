package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) usageCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize recorded token usage per provider model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRuntime(rt, &err)
			if rt.Usage == nil {
				return errors.New("telemetry.sqlite is not configured, so no usage is recorded")
			}

			summary, err := rt.Usage.Summary(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			if len(summary) == 0 {
				fmt.Fprintf(a.out, "No usage recorded in the last %s.\n", since)
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL")
			for _, u := range summary {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n", u.Provider, u.ProviderModel, u.Requests, u.PromptTokens, u.CompletionTokens, u.TotalTokens)
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to summarize")
	return cmd
}
