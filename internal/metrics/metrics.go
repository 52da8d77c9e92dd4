package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Scan metrics
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classlog_scans_total",
			Help: "Total QR scans processed, by outcome",
		},
		[]string{"outcome"},
	)

	ScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classlog_scan_duration_seconds",
			Help:    "Scan handling duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"outcome"},
	)

	// Rotation metrics
	RotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "classlog_rotations_total",
			Help: "Total QR token rotations",
		},
	)

	RotationWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "classlog_rotation_write_failures_total",
			Help: "Watermark writes that failed during rotation",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "classlog_active_sessions",
			Help: "Number of sessions with a running rotation",
		},
	)

	// Attendance metrics
	ManualMarksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classlog_manual_marks_total",
			Help: "Attendance marks made by teachers, by status",
		},
		[]string{"status"},
	)

	// QR image cache metrics
	QRCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "classlog_qr_cache_hits_total",
			Help: "Rendered QR image cache hits",
		},
	)

	QRCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "classlog_qr_cache_misses_total",
			Help: "Rendered QR image cache misses",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		ScansTotal,
		ScanDuration,
		RotationsTotal,
		RotationWriteFailures,
		ActiveSessions,
		ManualMarksTotal,
		QRCacheHits,
		QRCacheMisses,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler exposes the server's mux, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
