// Package api is the Dispatch API: a JSON surface over the desk, the agent
// registry and the stats aggregator, plus an SSE event stream and the
// Prometheus scrape endpoint.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/desk"
	"github.com/zulandar/switchboard/internal/escalate"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/metrics"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/stats"
	"github.com/zulandar/switchboard/internal/store"
)

// Deps are the components the API delegates to. Escalator and Metrics are
// optional.
type Deps struct {
	Desk      *desk.Desk
	Agents    *registry.Registry
	Stats     *stats.Aggregator
	Bus       *events.Bus
	Writer    *store.Writer
	Escalator *escalate.Escalator
	Metrics   *metrics.Recorder

	// Heartbeat is the SSE keep-alive interval; zero means 15s.
	Heartbeat time.Duration
}

func (d Deps) validate() error {
	if d.Desk == nil || d.Agents == nil || d.Stats == nil || d.Bus == nil || d.Writer == nil {
		return fmt.Errorf("api: desk, agents, stats, bus and writer are required")
	}
	return nil
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Deps
	Port int
	Out  io.Writer
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if err := opts.Deps.validate(); err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts.Deps)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Switchboard API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
