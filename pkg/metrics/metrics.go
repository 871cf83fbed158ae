// Package metrics exposes per-app supervision metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "appsup"

// Metrics holds the collectors of one supervisor on its own registry
type Metrics struct {
	registry *prometheus.Registry

	appUp           *prometheus.GaugeVec
	restartsTotal   *prometheus.CounterVec
	launchesTotal   *prometheus.CounterVec
	restartCount    *prometheus.GaugeVec
	appFailed       *prometheus.GaugeVec
	lastUptime      *prometheus.GaugeVec
	launchErrsTotal *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		appUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "app_up",
				Help:      "1 while the app process is running",
			},
			[]string{"app"},
		),
		restartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "app_restarts_total",
				Help:      "Relaunches after the first start (autorestart, watch, operator restart)",
			},
			[]string{"app"},
		),
		launchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "app_launches_total",
				Help:      "Successful process launches",
			},
			[]string{"app"},
		),
		restartCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "app_restart_count",
				Help:      "Current consecutive-restart counter",
			},
			[]string{"app"},
		),
		appFailed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "app_failed",
				Help:      "1 while the app is in the failed state",
			},
			[]string{"app"},
		),
		lastUptime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "app_last_uptime_seconds",
				Help:      "Uptime of the most recent completed run",
			},
			[]string{"app"},
		),
		launchErrsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "app_launch_errors_total",
				Help:      "Launch attempts that failed before a process existed",
			},
			[]string{"app"},
		),
	}

	m.registry.MustRegister(
		m.appUp,
		m.restartsTotal,
		m.launchesTotal,
		m.restartCount,
		m.appFailed,
		m.lastUptime,
		m.launchErrsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterApp initializes every series of an app so it is exported before the first launch
func (m *Metrics) RegisterApp(app string) {
	m.appUp.WithLabelValues(app).Set(0)
	m.restartsTotal.WithLabelValues(app)
	m.launchesTotal.WithLabelValues(app)
	m.restartCount.WithLabelValues(app).Set(0)
	m.appFailed.WithLabelValues(app).Set(0)
	m.lastUptime.WithLabelValues(app).Set(0)
	m.launchErrsTotal.WithLabelValues(app)
}

// UnregisterApp drops every series of a removed app
func (m *Metrics) UnregisterApp(app string) {
	m.appUp.DeleteLabelValues(app)
	m.restartsTotal.DeleteLabelValues(app)
	m.launchesTotal.DeleteLabelValues(app)
	m.restartCount.DeleteLabelValues(app)
	m.appFailed.DeleteLabelValues(app)
	m.lastUptime.DeleteLabelValues(app)
	m.launchErrsTotal.DeleteLabelValues(app)
}

func (m *Metrics) RecordLaunch(app string, relaunch bool) {
	m.launchesTotal.WithLabelValues(app).Inc()
	if relaunch {
		m.restartsTotal.WithLabelValues(app).Inc()
	}
	m.appUp.WithLabelValues(app).Set(1)
	m.appFailed.WithLabelValues(app).Set(0)
}

func (m *Metrics) RecordLaunchError(app string) {
	m.launchErrsTotal.WithLabelValues(app).Inc()
}

func (m *Metrics) RecordExit(app string, uptime time.Duration) {
	m.appUp.WithLabelValues(app).Set(0)
	m.lastUptime.WithLabelValues(app).Set(uptime.Seconds())
}

func (m *Metrics) SetRestartCount(app string, count int) {
	m.restartCount.WithLabelValues(app).Set(float64(count))
}

func (m *Metrics) SetFailed(app string, failed bool) {
	value := 0.0
	if failed {
		value = 1
	}
	m.appFailed.WithLabelValues(app).Set(value)
}
