// Package metrics exposes the brain's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/task"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/thread"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

// Metrics holds the counters updated by the control loop. Gauges are read
// from the manager, supervisor and bus at scrape time.
type Metrics struct {
	TaskResults *prometheus.CounterVec
}

// New registers every metric on registry.
func New(registry prometheus.Registerer, m *task.Manager, sup *thread.Supervisor, bus *comms.Bus) *Metrics {
	factory := promauto.With(registry)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "robosub_tasks_running",
			Help: "Number of tasks in the Running state",
		},
		func() float64 { return float64(len(m.Running())) },
	)

	for _, class := range []thread.Class{thread.ClassCritical, thread.ClassWorker} {
		factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "robosub_threads",
				Help:        "Number of loaded worker units",
				ConstLabels: prometheus.Labels{"class": class.String()},
			},
			func() float64 { return float64(sup.ThreadCountOf(class)) },
		)
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "robosub_bus_links",
			Help: "Number of links registered on the data bus",
		},
		func() float64 { return float64(len(bus.Links())) },
	)

	return &Metrics{
		TaskResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robosub_task_results_total",
				Help: "Tasks finished, by task and result status",
			},
			[]string{"task", "status"},
		),
	}
}

// NewRegistry creates a registry holding the brain's metrics and hooks the
// result counter into m.
func NewRegistry(m *task.Manager, sup *thread.Supervisor, bus *comms.Bus) (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	met := New(reg, m, sup, bus)
	m.OnFinish(met.ObserveResult)
	return reg, met
}

// ObserveResult counts one finished task.
func (x *Metrics) ObserveResult(name string, r task.Result) {
	x.TaskResults.WithLabelValues(name, r.Status.String()).Inc()
}

// HandlerFor returns the /metrics handler for a registry.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
