package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for provisioning runs.
// A nil or disabled Metrics is safe to use; every recording method is a no-op.
type Metrics struct {
	config MetricsConfig

	targetsProvisioned *prometheus.CounterVec
	stagesExecuted     *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	commandsExecuted   *prometheus.CounterVec
	auditsPerformed    *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		targetsProvisioned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "targets_provisioned_total",
				Help:      "Total number of target pipelines completed, by outcome",
			},
			[]string{"status"},
		),
		stagesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_executed_total",
				Help:      "Total number of pipeline stages executed, by stage and outcome",
			},
			[]string{"stage", "status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		commandsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_executed_total",
				Help:      "Total number of shell commands executed, by backend and outcome",
			},
			[]string{"backend", "status"},
		),
		auditsPerformed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audits_performed_total",
				Help:      "Total number of verification audits, by outcome",
			},
			[]string{"status"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.targetsProvisioned,
		m.stagesExecuted,
		m.stageDuration,
		m.commandsExecuted,
		m.auditsPerformed,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// enabled reports whether this instance records anything.
func (m *Metrics) enabled() bool {
	return m != nil && m.config.Enabled
}

// RecordTarget records the outcome of one target pipeline.
func (m *Metrics) RecordTarget(status string) {
	if !m.enabled() {
		return
	}
	m.targetsProvisioned.WithLabelValues(status).Inc()
}

// RecordStage records the outcome and duration of one pipeline stage.
func (m *Metrics) RecordStage(stage, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.stagesExecuted.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordCommand records one executed command.
func (m *Metrics) RecordCommand(backend, status string) {
	if !m.enabled() {
		return
	}
	m.commandsExecuted.WithLabelValues(backend, status).Inc()
}

// RecordAudit records the outcome of one verification audit.
func (m *Metrics) RecordAudit(status string) {
	if !m.enabled() {
		return
	}
	m.auditsPerformed.WithLabelValues(status).Inc()
}

// StartServer starts the /metrics HTTP endpoint when a listen address is
// configured. It returns immediately; the server runs until Shutdown.
func (m *Metrics) StartServer() error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = m.server.ListenAndServe()
	}()

	return nil
}

// Shutdown stops the metrics endpoint, if one was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
