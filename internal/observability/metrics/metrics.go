// Package metrics provides Prometheus instrumentation for PolyBuilder.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string
	initOnce    sync.Once

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Compiler metrics
	compileTotal    *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec

	// Chain metrics
	deployTotal *prometheus.CounterVec

	// Explorer metrics
	verificationTotal *prometheus.CounterVec
	verificationPolls *prometheus.HistogramVec

	// Pipeline metrics
	pipelineRunsTotal     *prometheus.CounterVec
	pipelineStageDuration *prometheus.HistogramVec

	analysisTotal *prometheus.CounterVec
)

// Init initializes the metrics system. Only the first call registers collectors.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	initOnce.Do(register)
}

func register() {
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	compileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compile_total",
			Help: "Total number of compilation runs",
		},
		[]string{"toolchain", "status"},
	)

	// Toolchain runs are slow; buckets go up to the default two minute timeout.
	compileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compile_duration_seconds",
			Help:    "Compilation latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		},
		[]string{"toolchain"},
	)

	deployTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploy_total",
			Help: "Total number of contract deployments attempted",
		},
		[]string{"network", "status"},
	)

	verificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_total",
			Help: "Total number of explorer verification requests",
		},
		[]string{"network", "result"},
	)

	verificationPolls = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verification_poll_attempts",
			Help:    "Status polls needed to reach a terminal verification state",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 30},
		},
		[]string{"network"},
	)

	pipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total number of full deployment pipeline runs",
		},
		[]string{"network", "final_stage"},
	)

	pipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	analysisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contract_analysis_total",
			Help: "Total number of AI contract analyses",
		},
		[]string{"status"},
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
