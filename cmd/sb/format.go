package main

import (
	"fmt"
	"io"
	"time"

	"github.com/zulandar/switchboard/internal/models"
)

// formatDuration renders d rounded to the second, or "-" when d is zero.
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func printTicket(out io.Writer, t models.Ticket, msgs []models.Message) {
	fmt.Fprintf(out, "Ticket #%d  [%s]  priority %d\n", t.ID, t.State, t.Priority)
	fmt.Fprintf(out, "Client:   %s", t.ClientName)
	if t.ClientEmail != "" {
		fmt.Fprintf(out, " <%s>", t.ClientEmail)
	}
	if t.ClientPhone != "" {
		fmt.Fprintf(out, " %s", t.ClientPhone)
	}
	fmt.Fprintln(out)
	if t.Subject != "" {
		fmt.Fprintf(out, "Subject:  %s\n", t.Subject)
	}
	if t.Department != "" {
		fmt.Fprintf(out, "Dept:     %s\n", t.Department)
	}
	fmt.Fprintf(out, "Entered:  %s\n", t.EnteredQueueAt.Format(time.DateTime))
	if t.AgentID != nil {
		fmt.Fprintf(out, "Agent:    %d\n", *t.AgentID)
	}
	if wait, ok := t.WaitTime(); ok {
		fmt.Fprintf(out, "Waited:   %s\n", formatDuration(wait))
	}
	if handling, ok := t.HandlingTime(); ok {
		fmt.Fprintf(out, "Handled:  %s\n", formatDuration(handling))
	}
	if t.Rating != nil {
		fmt.Fprintf(out, "Rating:   %d/5", *t.Rating)
		if t.RatingComment != "" {
			fmt.Fprintf(out, " %q", t.RatingComment)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "\nMessages (%d):\n", len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(out, "  %s  %-6s  %s\n", m.SentAt.Format(time.TimeOnly), m.Sender, m.Body)
	}
}
