package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/registry"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	agent, err := s.Agents.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *server) handleLogout(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	err := s.Agents.Logout(c.Request.Context(), id)
	if errors.Is(err, registry.ErrAgentNotFound) {
		// Nothing to sign out.
		c.JSON(http.StatusOK, gin.H{"id": id, "status": models.AgentOffline})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	agent, err := s.Agents.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *server) handleAgentList(c *gin.Context) {
	c.JSON(http.StatusOK, s.Agents.List())
}

func (s *server) handleAgentsAvailable(c *gin.Context) {
	agents := s.Agents.Available()
	if agents == nil {
		agents = []registry.Agent{}
	}
	c.JSON(http.StatusOK, agents)
}

func (s *server) handleAgentTickets(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	state := c.Query("state")
	if state != "" && !models.ValidState(state) {
		badRequest(c, fmt.Errorf("unknown ticket state %q", state))
		return
	}
	if _, err := s.Agents.Get(id); err != nil {
		writeError(c, err)
		return
	}
	tickets, err := s.Desk.AgentTickets(c.Request.Context(), id, state)
	if err != nil {
		writeError(c, err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	c.JSON(http.StatusOK, tickets)
}

func (s *server) handleAgentStats(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	agent, err := s.Agents.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	st, err := s.Stats.AgentStats(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": agent, "stats": st})
}
