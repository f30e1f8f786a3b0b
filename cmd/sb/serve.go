package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/api"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/desk"
	"github.com/zulandar/switchboard/internal/escalate"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/metrics"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/stats"
	"github.com/zulandar/switchboard/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch API",
		Long: `Restores the queue and active sessions from the database, then serves the
dispatch API, the SSE event stream and the Prometheus metrics endpoint.
Every agent starts offline and must log in again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	s := store.New(gormDB)
	writer := store.NewWriter(s)
	defer writer.Close()
	bus := events.NewBus()

	agents, err := registry.New(registry.Opts{Store: s, Writer: writer, Bus: bus})
	if err != nil {
		return err
	}
	d, err := desk.New(desk.Opts{Store: s, Writer: writer, Agents: agents, Bus: bus})
	if err != nil {
		return err
	}
	if err := d.Hydrate(ctx); err != nil {
		return fmt.Errorf("restore desk: %w", err)
	}

	agg, err := stats.New(stats.Opts{
		Store:   s,
		Live:    d,
		Agents:  agents,
		Bus:     bus,
		Window:  cfg.Stats.Window,
		MaxAge:  cfg.Stats.MaxAge,
		Refresh: cfg.Stats.Refresh,
	})
	if err != nil {
		return err
	}
	notifier, err := notify.FromConfig(cfg.Notify, agg)
	if err != nil {
		return err
	}
	rec := metrics.New(metrics.Gauges{
		QueueDepth:    d.QueueLen,
		AgentsOnline:  agents.OnlineCount,
		WritesPending: writer.Pending,
		WritesFailed:  writer.Failed,
		EventsDropped: bus.Dropped,
	})

	var wg sync.WaitGroup
	buffer := cfg.Desk.EventBuffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := agg.Run(ctx, buffer); err != nil {
			log.Printf("serve: stats: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		rec.Run(ctx, bus, buffer)
	}()
	if notifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := notifier.Run(ctx, bus, buffer); err != nil {
				log.Printf("serve: notify: %v", err)
			}
		}()
	}

	err = api.Start(ctx, api.StartOpts{
		Deps: api.Deps{
			Desk:      d,
			Agents:    agents,
			Stats:     agg,
			Bus:       bus,
			Writer:    writer,
			Escalator: escalate.New(ctx, cfg.Escalate),
			Metrics:   rec,
		},
		Port: port,
		Out:  out,
	})
	cancel()
	wg.Wait()
	if n := writer.Pending(); n > 0 {
		fmt.Fprintf(out, "Flushing %d pending writes...\n", n)
	}
	return err
}
