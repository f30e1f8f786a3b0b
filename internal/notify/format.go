package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/stats"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
)

// FormattedEvent is a chat-ready rendering of a desk event.
type FormattedEvent struct {
	Title    string
	Body     string
	Severity string // "info", "warning", "success"
	Color    string
	Fields   []Field
}

// Field is a key-value pair displayed under an event.
type Field struct {
	Name  string
	Value string
	Short bool // render side-by-side with another field
}

func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	default:
		return ColorInfo
	}
}

func ticketFields(t *models.Ticket) []Field {
	fields := []Field{
		{Name: "Ticket", Value: "#" + strconv.FormatUint(uint64(t.ID), 10), Short: true},
		{Name: "Priority", Value: strconv.Itoa(t.Priority), Short: true},
	}
	if t.Department != "" {
		fields = append(fields, Field{Name: "Department", Value: t.Department, Short: true})
	}
	if t.AgentID != nil {
		fields = append(fields, Field{Name: "Agent", Value: strconv.FormatUint(uint64(*t.AgentID), 10), Short: true})
	}
	return fields
}

func client(t *models.Ticket) string {
	if t.ClientName != "" {
		return t.ClientName
	}
	return "client"
}

// Format renders ev for chat. It reports false for events that are not
// worth a notification.
func Format(ev events.Event) (FormattedEvent, bool) {
	var f FormattedEvent
	switch ev.Type {
	case events.TicketEnqueued:
		if ev.Ticket == nil {
			return f, false
		}
		f.Title = fmt.Sprintf("Ticket #%d waiting", ev.Ticket.ID)
		f.Body = fmt.Sprintf("%s joined the queue", client(ev.Ticket))
		if ev.Ticket.Subject != "" {
			f.Body += ": " + ev.Ticket.Subject
		}
		f.Severity = "info"
		if ev.Ticket.Priority > 0 {
			f.Severity = "warning"
		}
		f.Fields = ticketFields(ev.Ticket)
	case events.TicketClaimed:
		if ev.Ticket == nil {
			return f, false
		}
		f.Title = fmt.Sprintf("Ticket #%d claimed", ev.Ticket.ID)
		if wait, ok := ev.Ticket.WaitTime(); ok {
			f.Body = fmt.Sprintf("%s waited %s", client(ev.Ticket), wait.Round(time.Second))
		}
		f.Severity = "info"
		f.Fields = ticketFields(ev.Ticket)
	case events.TicketFinalized:
		if ev.Ticket == nil {
			return f, false
		}
		f.Title = fmt.Sprintf("Ticket #%d finished", ev.Ticket.ID)
		var parts []string
		if d, ok := ev.Ticket.HandlingTime(); ok {
			parts = append(parts, fmt.Sprintf("handled in %s", d.Round(time.Second)))
		}
		if ev.Ticket.Rating != nil {
			parts = append(parts, fmt.Sprintf("rated %d/5", *ev.Ticket.Rating))
		}
		f.Body = strings.Join(parts, ", ")
		f.Severity = "success"
		f.Fields = ticketFields(ev.Ticket)
	case events.AgentLoggedIn:
		f.Title = fmt.Sprintf("Agent %d online", ev.AgentID)
		f.Severity = "info"
	case events.AgentLoggedOut:
		f.Title = fmt.Sprintf("Agent %d offline", ev.AgentID)
		f.Severity = "info"
	default:
		return f, false
	}
	f.Color = severityColor(f.Severity)
	return f, true
}

// FormatDigest renders a stats snapshot as a periodic summary.
func FormatDigest(s stats.Snapshot) FormattedEvent {
	seconds := func(v float64) string {
		return (time.Duration(v * float64(time.Second))).Round(time.Second).String()
	}
	fields := []Field{
		{Name: "Queued", Value: strconv.Itoa(s.Queued), Short: true},
		{Name: "Active", Value: strconv.Itoa(s.Active), Short: true},
		{Name: "Finished", Value: strconv.Itoa(s.Finished), Short: true},
		{Name: "Agents online", Value: fmt.Sprintf("%d/%d", s.AgentsOnline, s.AgentsTotal), Short: true},
		{Name: "Mean wait", Value: seconds(s.AvgWaitSeconds), Short: true},
		{Name: "Mean handling", Value: seconds(s.AvgHandlingSeconds), Short: true},
	}
	if s.RatingSamples > 0 {
		fields = append(fields, Field{Name: "Mean rating", Value: fmt.Sprintf("%.1f", s.AvgRating), Short: true})
	}
	severity := "info"
	if s.Queued > 0 && s.AgentsOnline == 0 {
		severity = "warning"
	}
	return FormattedEvent{
		Title:    "Support desk digest",
		Body:     fmt.Sprintf("%d tickets, %d waiting", s.Total, s.Queued),
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   fields,
	}
}
