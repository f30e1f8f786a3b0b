package api

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/events"
)

const sseBuffer = 64

// handleSSE streams desk events. ?ticket=<id> limits the stream to one
// ticket's events; agent presence events are always sent.
func (s *server) handleSSE(c *gin.Context) {
	var ticketID uint
	if q := c.Query("ticket"); q != "" {
		n, err := strconv.ParseUint(q, 10, 32)
		if err != nil {
			badRequest(c, fmt.Errorf("invalid ticket %q", q))
			return
		}
		ticketID = uint(n)
	}

	ch, cancel := s.Bus.Subscribe(sseBuffer)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(s.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ticketID != 0 && !concerns(ev, ticketID) {
				continue
			}
			writeSSE(c.Writer, ev.Type, ev)
			c.Writer.Flush()
		}
	}
}

func concerns(ev events.Event, ticketID uint) bool {
	switch {
	case ev.Ticket != nil:
		return ev.Ticket.ID == ticketID
	case ev.Message != nil:
		return ev.Message.TicketID == ticketID
	}
	return true
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
