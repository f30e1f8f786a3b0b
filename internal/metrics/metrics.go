// Package metrics exposes desk activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/switchboard/internal/events"
)

// Gauges are sampled on every scrape. Nil funcs are not registered.
type Gauges struct {
	QueueDepth    func() int
	AgentsOnline  func() int
	WritesPending func() int
	WritesFailed  func() int
	EventsDropped func() int64
}

// Recorder holds the desk collectors.
type Recorder struct {
	reg *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	waitSeconds     prometheus.Histogram
	handlingSeconds prometheus.Histogram
	ratings         *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// waitBuckets spans a few seconds to an hour.
var waitBuckets = []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600}

// New creates a Recorder on its own registry, alongside the Go runtime and
// process collectors.
func New(g Gauges) *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	r := &Recorder{
		reg: reg,
		eventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_events_total",
				Help: "Desk events by type",
			},
			[]string{"type"},
		),
		waitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "switchboard_ticket_wait_seconds",
			Help:    "Time from queue entry to claim",
			Buckets: waitBuckets,
		}),
		handlingSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "switchboard_ticket_handling_seconds",
			Help:    "Time from claim to finalize",
			Buckets: waitBuckets,
		}),
		ratings: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_ticket_ratings_total",
				Help: "Client ratings given at finalize",
			},
			[]string{"rating"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_http_requests_total",
				Help: "API requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_http_request_duration_seconds",
				Help:    "API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	gauge := func(name, help string, fn func() float64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
	}
	if g.QueueDepth != nil {
		gauge("switchboard_queue_depth", "Tickets waiting to be claimed", func() float64 { return float64(g.QueueDepth()) })
	}
	if g.AgentsOnline != nil {
		gauge("switchboard_agents_online", "Agents currently online", func() float64 { return float64(g.AgentsOnline()) })
	}
	if g.WritesPending != nil {
		gauge("switchboard_store_writes_pending", "Write-behind operations not yet applied", func() float64 { return float64(g.WritesPending()) })
	}
	if g.WritesFailed != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Name: "switchboard_store_writes_failed_total",
			Help: "Write-behind operations dropped after retries",
		}, func() float64 { return float64(g.WritesFailed()) })
	}
	if g.EventsDropped != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Name: "switchboard_events_dropped_total",
			Help: "Events dropped because a subscriber was full",
		}, func() float64 { return float64(g.EventsDropped()) })
	}
	return r
}

// Observe records one desk event.
func (r *Recorder) Observe(ev events.Event) {
	r.eventsTotal.WithLabelValues(ev.Type).Inc()
	if ev.Ticket == nil {
		return
	}
	switch ev.Type {
	case events.TicketClaimed:
		if d, ok := ev.Ticket.WaitTime(); ok {
			r.waitSeconds.Observe(d.Seconds())
		}
	case events.TicketFinalized:
		if d, ok := ev.Ticket.HandlingTime(); ok {
			r.handlingSeconds.Observe(d.Seconds())
		}
		if ev.Ticket.Rating != nil {
			r.ratings.WithLabelValues(strconv.Itoa(*ev.Ticket.Rating)).Inc()
		}
	}
}

// ObserveHTTP records one API request. route is the matched pattern, not
// the raw path.
func (r *Recorder) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Run records events from bus until ctx is canceled.
func (r *Recorder) Run(ctx context.Context, bus *events.Bus, buffer int) {
	ch, cancel := bus.Subscribe(buffer)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.Observe(ev)
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests and embedding.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.reg
}
