package metrics

import (
	"context"
	"crypto/tls"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the Prometheus metrics for linkgate.
type Metrics struct {
	// Counters
	Evaluations      *prometheus.CounterVec
	Decisions        *prometheus.CounterVec
	DetectorFailures *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec

	// Gauges
	PendingSessions *prometheus.GaugeVec

	// Histograms
	DetectorLatency *prometheus.HistogramVec
	HTTPDuration    *prometheus.HistogramVec
}

// Config holds configuration for the metrics server.
type Config struct {
	Enabled    bool
	Addr       string
	TLSCert    string
	TLSKey     string
	RequireTLS bool
}

// LoadConfig loads metrics configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Enabled:    getBool("METRICS_ENABLED", false),
		Addr:       getOr("METRICS_ADDR", "127.0.0.1:9090"),
		TLSCert:    getOr("METRICS_TLS_CERT", ""),
		TLSKey:     getOr("METRICS_TLS_KEY", ""),
		RequireTLS: getBool("METRICS_REQUIRE_TLS", false),
	}
}

// NewMetrics creates and registers all linkgate metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_evaluations_total",
				Help: "Total screening evaluations by threat level",
			},
			[]string{"threat_level"},
		),

		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_decisions_total",
				Help: "Total admission decisions by outcome and reason",
			},
			[]string{"allowed", "reason"},
		),

		DetectorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_detector_failures_total",
				Help: "Detector errors and timeouts degraded to neutral results",
			},
			[]string{"detector"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_cache_lookups_total",
				Help: "Result cache lookups by detector and outcome",
			},
			[]string{"detector", "outcome"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_sink_errors_total",
				Help: "Total errors writing to a flag sink",
			},
			[]string{"sink", "error_type"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_http_requests_total",
				Help: "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		PendingSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "linkgate_pending_sessions",
				Help: "Live honeypot/challenge sessions awaiting validation",
			},
			[]string{"store"},
		),

		DetectorLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkgate_detector_latency_seconds",
				Help:    "Per-detector evaluation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"detector"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkgate_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method"},
		),
	}

	prometheus.MustRegister(m.Evaluations)
	prometheus.MustRegister(m.Decisions)
	prometheus.MustRegister(m.DetectorFailures)
	prometheus.MustRegister(m.CacheLookups)
	prometheus.MustRegister(m.SinkErrors)
	prometheus.MustRegister(m.HTTPRequests)
	prometheus.MustRegister(m.PendingSessions)
	prometheus.MustRegister(m.DetectorLatency)
	prometheus.MustRegister(m.HTTPDuration)

	return m
}

// Server represents the metrics HTTP server.
type Server struct {
	server *http.Server
	config Config
}

// NewServer creates a new metrics server.
func NewServer(config Config) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if config.RequireTLS && config.TLSCert != "" && config.TLSKey != "" {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Server{server: srv, config: config}
}

// Start starts the metrics server in a separate goroutine.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		log.Printf("metrics: disabled (METRICS_ENABLED=false)")
		return nil
	}

	go func() {
		var err error
		if s.config.RequireTLS && s.config.TLSCert != "" && s.config.TLSKey != "" {
			log.Printf("metrics: HTTPS server listening on %s", s.config.Addr)
			err = s.server.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			log.Printf("metrics: HTTP server listening on %s", s.config.Addr)
			err = s.server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	log.Printf("metrics: shutting down server...")
	return s.server.Shutdown(ctx)
}

func getOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// Convenience methods for common operations.
func (m *Metrics) IncrementEvaluations(level string) {
	m.Evaluations.WithLabelValues(level).Inc()
}

func (m *Metrics) IncrementDecisions(allowed bool, reason string) {
	a := "false"
	if allowed {
		a = "true"
		reason = "allowed"
	}
	m.Decisions.WithLabelValues(a, reason).Inc()
}

func (m *Metrics) IncrementDetectorFailures(detector string) {
	m.DetectorFailures.WithLabelValues(detector).Inc()
}

func (m *Metrics) IncrementCacheLookups(detector, outcome string) {
	m.CacheLookups.WithLabelValues(detector, outcome).Inc()
}

func (m *Metrics) IncrementSinkErrors(sink, errorType string) {
	m.SinkErrors.WithLabelValues(sink, errorType).Inc()
}

func (m *Metrics) IncrementHTTPRequests(endpoint, method, status string) {
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) ObserveDetectorLatency(detector string, duration time.Duration) {
	m.DetectorLatency.WithLabelValues(detector).Observe(duration.Seconds())
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, duration time.Duration) {
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}
