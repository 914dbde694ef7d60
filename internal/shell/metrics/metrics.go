// Package metrics exposes pipeline activity as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/artpar/dahlia-deploy/internal/core/domain"
)

// DefaultJob is the Pushgateway job name used when none is configured.
const DefaultJob = "dahlia_deploy"

// Metrics holds all Prometheus metrics for pipeline runs.
type Metrics struct {
	StageEvents    *prometheus.CounterVec
	Runs           *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	LastRunSuccess *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		StageEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dahlia_deploy_stage_events_total",
				Help: "Total number of action records by stage and status",
			},
			[]string{"stage", "status"},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dahlia_deploy_runs_total",
				Help: "Total number of pipeline runs",
			},
			[]string{"environment", "success"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dahlia_deploy_run_duration_seconds",
				Help:    "Pipeline run duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"environment"},
		),
		LastRunSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dahlia_deploy_last_run_success",
				Help: "1 if the last pipeline run for the environment succeeded, 0 otherwise",
			},
			[]string{"environment"},
		),
	}
}

// NewRegistry creates a new Prometheus registry with metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	return reg, m
}

// OnAction counts one action record. It makes Metrics an action log observer.
func (m *Metrics) OnAction(rec domain.ActionRecord) {
	m.StageEvents.WithLabelValues(string(rec.Action), string(rec.Status)).Inc()
}

// ObserveRun records the outcome of a finished run.
func (m *Metrics) ObserveRun(run domain.PipelineRun) {
	m.Runs.WithLabelValues(run.Environment, strconv.FormatBool(run.Succeeded)).Inc()
	m.RunDuration.WithLabelValues(run.Environment).Observe(run.Duration().Seconds())

	success := 0.0
	if run.Succeeded {
		success = 1
	}
	m.LastRunSuccess.WithLabelValues(run.Environment).Set(success)
}

// Push sends everything in gatherer to a Pushgateway, replacing the job's
// previous metrics.
func Push(ctx context.Context, url, job string, gatherer prometheus.Gatherer) error {
	if job == "" {
		job = DefaultJob
	}
	if err := push.New(url, job).Gatherer(gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// HandlerFor returns an HTTP handler for a specific registry.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
