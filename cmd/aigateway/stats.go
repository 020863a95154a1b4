package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/northwind-energy/aigateway/pkg/config"
	"github.com/northwind-energy/aigateway/pkg/tracker"
)

func newStatsCmd(configPath *string) *cobra.Command {
	var (
		feature string
		recent  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token usage per feature and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := cmd.Context()

			// Recent calls view
			if recent > 0 {
				records, err := tr.QueryByFeature(ctx, feature, time.Now().Add(-recent))
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Println("No calls in that window.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tFEATURE\tMODEL\tTOTAL\tLATENCY\tREQUEST ID")
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%dms\t%s\n",
						r.CreatedAt.Format("2006-01-02T15:04:05"), r.Feature, r.Model, r.TotalTokens, r.LatencyMs, r.RequestID)
				}
				return w.Flush()
			}

			summaries, err := tr.Summary(ctx, feature)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FEATURE\tMODEL\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL\tAVG LATENCY")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%dms\n",
					s.Feature, s.Model, s.RequestCount, s.TotalPrompt, s.TotalCompletion, s.TotalTokens, s.AvgLatencyMs)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "filter by feature (concierge, personalize, translate, safety)")
	cmd.Flags().DurationVar(&recent, "recent", 0, "list individual calls from this window instead of the summary")
	return cmd
}
