package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Load results.
const (
	LoadHit    = "hit"
	LoadMiss   = "miss"
	LoadShared = "shared"
	LoadError  = "error"
)

// Metrics records cache store activity.
type Metrics interface {
	IncProjectLoad(project, result string)
	IncRemoteList(project string)
	IncMutation(op, result string)
	ObserveLoadDuration(project string, seconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncProjectLoad(string, string)       {}
func (Noop) IncRemoteList(string)                {}
func (Noop) IncMutation(string, string)          {}
func (Noop) ObserveLoadDuration(string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	loads     *prometheus.CounterVec
	lists     *prometheus.CounterVec
	mutations *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	once      sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "project_loads_total",
			Help:      "Project image loads by project and result",
		}, []string{"project", "result"}),
		lists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_list_calls_total",
			Help:      "Remote listings started per project",
		}, []string{"project"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_mutations_total",
			Help:      "Image uploads and deletes by result",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "project_load_duration_seconds",
			Help:      "Remote resolution time per project",
			Buckets:   prometheus.DefBuckets,
		}, []string{"project"}),
	}
	p.once.Do(func() {
		prometheus.MustRegister(p.loads, p.lists, p.mutations, p.duration)
	})
	return p
}

func (p *Prom) IncProjectLoad(project, result string) {
	p.loads.WithLabelValues(project, result).Inc()
}

func (p *Prom) IncRemoteList(project string) {
	p.lists.WithLabelValues(project).Inc()
}

func (p *Prom) IncMutation(op, result string) {
	p.mutations.WithLabelValues(op, result).Inc()
}

func (p *Prom) ObserveLoadDuration(project string, seconds float64) {
	p.duration.WithLabelValues(project).Observe(seconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
