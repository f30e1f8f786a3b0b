package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/desk"
	"github.com/zulandar/switchboard/internal/escalate"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/store"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable maps domain errors to HTTP responses. The first match wins.
var errorTable = []errorMapping{
	{registry.ErrInvalidCredentials, http.StatusUnauthorized, "InvalidCredentials"},
	{registry.ErrAgentNotFound, http.StatusNotFound, "AgentNotFound"},
	{registry.ErrAgentOffline, http.StatusConflict, "AgentOffline"},
	{registry.ErrCapacityExceeded, http.StatusConflict, "CapacityExceeded"},
	{registry.ErrEmailTaken, http.StatusConflict, "EmailTaken"},
	{desk.ErrEmptyQueue, http.StatusNotFound, "EmptyQueue"},
	{desk.ErrTicketNotFound, http.StatusNotFound, "TicketNotFound"},
	{desk.ErrTicketNotActive, http.StatusConflict, "TicketNotActive"},
	{desk.ErrEmptyBody, http.StatusBadRequest, "EmptyBody"},
	{desk.ErrInvalidSender, http.StatusBadRequest, "InvalidSender"},
	{desk.ErrNotAssignee, http.StatusForbidden, "NotAssignee"},
	{desk.ErrInvalidTicket, http.StatusBadRequest, "InvalidTicket"},
	{desk.ErrInvalidRating, http.StatusBadRequest, "InvalidRating"},
	{store.ErrStoreUnavailable, http.StatusServiceUnavailable, "StoreUnavailable"},
	{escalate.ErrNotConfigured, http.StatusNotImplemented, "EscalationNotConfigured"},
}

// writeError renders err with the status and code of its taxonomy entry.
// Unknown errors are logged and reported as 500.
func writeError(c *gin.Context, err error) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			if m.status >= http.StatusInternalServerError {
				log.Printf("api: %s %s: %v", c.Request.Method, c.FullPath(), err)
			}
			c.JSON(m.status, errorBody{Error: err.Error(), Code: m.code})
			return
		}
	}
	log.Printf("api: %s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error", Code: "Internal"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "BadRequest"})
}
