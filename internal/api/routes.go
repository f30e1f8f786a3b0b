package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

type server struct {
	Deps
}

// NewRouter returns a gin engine with every API route registered.
func NewRouter(d Deps) (*gin.Engine, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if d.Heartbeat <= 0 {
		d.Heartbeat = 15 * time.Second
	}
	s := &server{Deps: d}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog())
	s.registerRoutes(router)
	return router, nil
}

// registerRoutes sets up all API routes on the Gin router.
func (s *server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api")

	api.POST("/agents/login", s.handleLogin)
	api.POST("/agents/:id/logout", s.handleLogout)
	api.GET("/agents", s.handleAgentList)
	api.GET("/agents/available", s.handleAgentsAvailable)
	api.GET("/agents/:id/tickets", s.handleAgentTickets)
	api.GET("/agents/:id/stats", s.handleAgentStats)

	api.GET("/queue", s.handleQueue)
	api.POST("/queue/next", s.handleClaimNext)

	api.POST("/tickets", s.handleEnqueue)
	api.GET("/tickets/:id", s.handleTicket)
	api.GET("/tickets/:id/messages", s.handleMessages)
	api.POST("/tickets/:id/messages", s.handlePostMessage)
	api.POST("/tickets/:id/finalize", s.handleFinalize)
	api.POST("/tickets/:id/escalate", s.handleEscalate)

	api.GET("/stats", s.handleStats)
	api.GET("/events", s.handleSSE)
	api.GET("/health", s.handleHealth)

	if s.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}
}

// requestLog tags each request with an ID, logs it, and records it in the
// metrics when they are enabled.
func (s *server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		status := c.Writer.Status()
		if s.Metrics != nil && route != "/metrics" {
			s.Metrics.ObserveHTTP(c.Request.Method, route, status, elapsed)
		}
		if route == "/api/events" || route == "/metrics" || route == "/api/health" {
			return
		}
		log.Printf("api: %s %s %d %s [%s]", c.Request.Method, c.Request.URL.Path, status, elapsed.Round(time.Microsecond), id)
	}
}

// paramID parses the :id path parameter.
func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid id " + strconv.Quote(c.Param("id")), Code: "BadRequest"})
		return 0, false
	}
	return uint(id), true
}

func (s *server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Stats.Snapshot())
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"queue":          s.Desk.QueueLen(),
		"agents_online":  s.Agents.OnlineCount(),
		"pending_writes": s.Writer.Pending(),
		"failed_writes":  s.Writer.Failed(),
	})
}
