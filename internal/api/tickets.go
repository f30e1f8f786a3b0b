package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/desk"
	"github.com/zulandar/switchboard/internal/models"
)

type enqueueRequest struct {
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	ClientEmail string `json:"client_email"`
	Subject     string `json:"subject"`
	Department  string `json:"department"`
	Priority    int    `json:"priority"`
}

type claimRequest struct {
	AgentID uint `json:"agent_id" binding:"required"`
}

type postMessageRequest struct {
	Sender  string `json:"sender" binding:"required"`
	Body    string `json:"body"`
	AgentID *uint  `json:"agent_id"`
}

type finalizeRequest struct {
	AgentID *uint  `json:"agent_id"`
	Rating  *int   `json:"rating"`
	Comment string `json:"comment"`
}

type escalateRequest struct {
	Note string `json:"note"`
}

type escalateResponse struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// bindOptionalJSON decodes the body into req when there is one. An empty
// body leaves req at its zero value.
func bindOptionalJSON(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		badRequest(c, err)
		return false
	}
	return true
}

func (s *server) handleQueue(c *gin.Context) {
	queue := s.Desk.PeekQueue()
	if queue == nil {
		queue = []models.Ticket{}
	}
	c.JSON(http.StatusOK, queue)
}

func (s *server) handleClaimNext(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := s.Desk.ClaimNext(c.Request.Context(), req.AgentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *server) handleEnqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := s.Desk.Enqueue(c.Request.Context(), desk.NewTicket{
		ClientName:  req.ClientName,
		ClientPhone: req.ClientPhone,
		ClientEmail: req.ClientEmail,
		Subject:     req.Subject,
		Department:  req.Department,
		Priority:    req.Priority,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *server) handleTicket(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	t, err := s.Desk.Ticket(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *server) handleMessages(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	msgs, err := s.Desk.ListMessages(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *server) handlePostMessage(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := s.Desk.PostMessage(c.Request.Context(), id, req.Sender, req.Body, req.AgentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (s *server) handleFinalize(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req finalizeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	t, err := s.Desk.Finalize(c.Request.Context(), id, desk.Outcome{
		AgentID: req.AgentID,
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// handleEscalate files the ticket as a GitHub issue. When the ticket is
// still active, a bot message with the issue link is added to the
// conversation.
func (s *server) handleEscalate(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req escalateRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	t, err := s.Desk.Ticket(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	msgs, err := s.Desk.ListMessages(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	issue, err := s.Escalator.Escalate(ctx, t, msgs, req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	if t.State == models.StateActive {
		body := fmt.Sprintf("Escalated as issue #%d: %s", issue.Number, issue.URL)
		if _, err := s.Desk.PostMessage(ctx, id, models.SenderBot, body, nil); err != nil {
			log.Printf("api: ticket %d: escalation note: %v", id, err)
		}
	}
	c.JSON(http.StatusCreated, escalateResponse{Number: issue.Number, URL: issue.URL})
}
