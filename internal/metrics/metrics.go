// Package metrics exposes the server's Prometheus collectors.
//
// Every method is nil-safe so components can run without a registry.
package metrics

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audiobrowser"

type Registry struct {
	registry *prometheus.Registry

	eventsPublished  *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	eventSubscribers *prometheus.GaugeVec
	watcherEvents    *prometheus.CounterVec
	watcherErrors    prometheus.Counter
	watchedDirs      prometheus.Gauge
	requests         *prometheus.CounterVec
	heardToggles     *prometheus.CounterVec
}

// Default is the registry used by the server binary.
var Default = NewRegistry()

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published on a bus.",
		}, []string{"bus"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events not delivered because a subscriber buffer was full.",
		}, []string{"bus"}),
		eventSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Currently registered subscribers.",
		}, []string{"bus"}),
		watcherEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "events_total",
			Help:      "Raw filesystem events by outcome.",
		}, []string{"outcome"}),
		watcherErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "errors_total",
			Help:      "Errors reported by the filesystem watch backend.",
		}),
		watchedDirs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "directories",
			Help:      "Directories currently under watch.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		heardToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "library",
			Name:      "heard_updates_total",
			Help:      "Heard flag writes by resulting value.",
		}, []string{"value"}),
	}
	r.registry.MustRegister(
		r.eventsPublished,
		r.eventsDropped,
		r.eventSubscribers,
		r.watcherEvents,
		r.watcherErrors,
		r.watchedDirs,
		r.requests,
		r.heardToggles,
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Registry) IncEventPublished(bus string) {
	if r == nil {
		return
	}
	r.eventsPublished.WithLabelValues(bus).Inc()
}

func (r *Registry) IncEventDropped(bus string) {
	if r == nil {
		return
	}
	r.eventsDropped.WithLabelValues(bus).Inc()
}

func (r *Registry) SetEventSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.eventSubscribers.WithLabelValues(bus).Set(float64(count))
}

// IncWatcherEvent counts a raw watcher event. Outcome is one of "admitted",
// "filtered" or "coalesced".
func (r *Registry) IncWatcherEvent(outcome string) {
	if r == nil {
		return
	}
	r.watcherEvents.WithLabelValues(outcome).Inc()
}

func (r *Registry) IncWatcherError() {
	if r == nil {
		return
	}
	r.watcherErrors.Inc()
}

func (r *Registry) SetWatchedDirectories(count int) {
	if r == nil {
		return
	}
	r.watchedDirs.Set(float64(count))
}

func (r *Registry) IncRequest(route string, status int) {
	if r == nil {
		return
	}
	if strings.TrimSpace(route) == "" {
		route = "unknown"
	}
	r.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (r *Registry) IncHeardUpdate(value bool) {
	if r == nil {
		return
	}
	r.heardToggles.WithLabelValues(strconv.FormatBool(value)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
