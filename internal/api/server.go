package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/classlog/internal/attendance"
	"github.com/goodtune/classlog/internal/liveness"
	"github.com/goodtune/classlog/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	QRSize         int
	QRCacheSize    int
	QRCacheTTL     time.Duration
}

// Server is the attendance HTTP API.
type Server struct {
	config   Config
	store    storage.Store
	router   *mux.Router
	server   *http.Server
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, store storage.Store, service *attendance.Service, controller *liveness.Controller, logger zerolog.Logger) *Server {
	s := &Server{
		config: cfg,
		store:  store,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes(service, controller)

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(service *attendance.Service, controller *liveness.Controller) {
	s.router.Use(LoggingMiddleware(s.logger))
	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(CORSMiddleware(s.config.AllowedOrigins))
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	qr := newQRRenderer(s.config.QRSize, s.config.QRCacheSize, s.config.QRCacheTTL)

	sessionHandler := NewSessionHandler(service, controller, qr, s.logger)
	s.router.HandleFunc("/api/sessions", sessionHandler.Create).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/sessions/{id}", sessionHandler.Stop).Methods("DELETE", "OPTIONS")
	s.router.HandleFunc("/api/sessions/{id}/token", sessionHandler.Token).Methods("GET")
	s.router.HandleFunc("/api/sessions/{id}/qr.png", sessionHandler.QR).Methods("GET")
	s.router.HandleFunc("/api/sessions/{id}/report", sessionHandler.Report).Methods("GET")
	s.router.HandleFunc("/api/groups/{group}/sessions", sessionHandler.ListGroup).Methods("GET")
	s.router.HandleFunc("/api/teachers/{id}/groups", sessionHandler.TeacherGroups).Methods("GET")

	attendanceHandler := NewAttendanceHandler(service, s.logger)
	s.router.HandleFunc("/api/scan", attendanceHandler.Scan).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/attendance", attendanceHandler.Mark).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/students/{id}", attendanceHandler.UpsertStudent).Methods("PUT", "OPTIONS")
	s.router.HandleFunc("/api/students/{id}/stats", attendanceHandler.Stats).Methods("GET")
	s.router.HandleFunc("/api/groups/{group}/students", attendanceHandler.ListGroupStudents).Methods("GET")
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unavailable",
			"storage": "unreachable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}
