package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
)

func newTicketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Inspect stored tickets",
	}

	cmd.AddCommand(newTicketListCmd())
	cmd.AddCommand(newTicketShowCmd())
	return cmd
}

func newTicketListCmd() *cobra.Command {
	var (
		configPath string
		state      string
		agentID    uint
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		Long:  "Lists tickets as last persisted. A running server may be slightly ahead of the database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if state != "" && !models.ValidState(state) {
				return fmt.Errorf("unknown state %q (queued, active, finished)", state)
			}
			f := store.TicketFilter{Limit: limit}
			if state != "" {
				f.States = []string{state}
			}
			if agentID != 0 {
				f.AgentID = &agentID
			}
			return runTicketList(cmd, configPath, f)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	cmd.Flags().UintVar(&agentID, "agent", 0, "filter by assigned agent ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "max tickets to show")
	return cmd
}

func runTicketList(cmd *cobra.Command, configPath string, f store.TicketFilter) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	tickets, err := store.New(gormDB).ListTickets(cmd.Context(), f)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		fmt.Fprintln(out, "No tickets found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tSTATE\tAGENT\tCLIENT\tSUBJECT\tENTERED")
	for _, t := range tickets {
		agent := "-"
		if t.AgentID != nil {
			agent = strconv.FormatUint(uint64(*t.AgentID), 10)
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Priority, t.State, agent, t.ClientName, truncate(t.Subject, 40), t.EnteredQueueAt.Format(time.DateTime))
	}
	return w.Flush()
}

func newTicketShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a ticket and its conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid ticket id %q", args[0])
			}
			return runTicketShow(cmd, configPath, uint(id))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}

func runTicketShow(cmd *cobra.Command, configPath string, id uint) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	s := store.New(gormDB)
	t, err := s.GetTicket(cmd.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("ticket %d not found", id)
	}
	if err != nil {
		return err
	}
	msgs, err := s.ListMessages(cmd.Context(), id)
	if err != nil {
		return err
	}
	printTicket(out, *t, msgs)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
