package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
)

func newStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show ticket totals and per-agent performance",
		Long:  "Summarizes the persisted tickets by state and each agent's finished work.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}

func runStats(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	s := store.New(gormDB)

	byState, err := s.CountTicketsByState(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range byState {
		total += n
	}
	fmt.Fprintf(out, "Tickets: %d total, %d queued, %d active, %d finished\n",
		total, byState[models.StateQueued], byState[models.StateActive], byState[models.StateFinished])

	agents, err := s.ListAgents(ctx)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSTATUS\tFINISHED\tAVG HANDLING\tAVG RATING\tRATED")
	for _, a := range agents {
		sum, err := s.AgentSummary(ctx, a.ID)
		if err != nil {
			return err
		}
		rating := "-"
		if sum.RatedTickets > 0 {
			rating = fmt.Sprintf("%.2f", sum.AvgRating)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\n",
			a.Name, a.Status, sum.Finished, formatDuration(sum.AvgHandling), rating, sum.RatedTickets)
	}
	return w.Flush()
}
