package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hookbin/hookbin/internal/capture"
	"github.com/hookbin/hookbin/internal/metrics"
	"github.com/hookbin/hookbin/internal/models"
	"github.com/hookbin/hookbin/internal/storage"
	"github.com/hookbin/hookbin/internal/stream"
	"github.com/hookbin/hookbin/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	store          storage.BinStore
	registry       *stream.Registry
	pipeline       *capture.Pipeline
	metricsManager *metrics.Manager
	logger         *logrus.Logger
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	config *ServerConfig,
	store storage.BinStore,
	registry *stream.Registry,
	pipeline *capture.Pipeline,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {

	server := &HTTPServer{
		config:         config,
		store:          store,
		registry:       registry,
		pipeline:       pipeline,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}

	// Setup router
	server.setupRouter()

	// Create HTTP server. No write timeout: live stream connections are
	// long-lived by design and only end on client disconnect, shutdown
	// or bin deletion.
	server.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:     server.router,
		ReadTimeout: config.ReadTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// Administrative endpoints
	s.router.HandleFunc("/create-url", s.createBinHandler).Methods("POST")
	s.router.HandleFunc("/delete-url/{id}", s.deleteBinHandler).Methods("DELETE")
	s.router.HandleFunc("/get-urls", s.listBinsHandler).Methods("GET")
	s.router.HandleFunc("/rename-url/{id}", s.renameBinHandler).Methods("POST")

	// Log endpoints
	s.router.HandleFunc("/logs/{id}/{logNumber:[0-9]+}", s.deleteEntryHandler).Methods("DELETE")
	s.router.HandleFunc("/logs/{id}", s.fetchLogHandler).Methods("GET")
	s.router.HandleFunc("/logs/{id}", s.deleteEntriesHandler).Methods("DELETE")
	s.router.HandleFunc("/logs-stream/{id}", s.streamLogHandler).Methods("GET")

	// Health check endpoint
	if s.config.EnableHealth {
		s.router.HandleFunc("/api/v1/health", s.healthHandler).Methods("GET")
	}

	// Metrics endpoints
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		s.router.HandleFunc("/api/v1/stats", s.statsHandler).Methods("GET")
	}

	// Capture endpoints: any method, any path suffix beneath the bin
	// segment. Registered last so the named routes above win.
	s.router.HandleFunc("/{id}/{suffix:.*}", s.captureHandler)
	s.router.HandleFunc("/{id}", s.captureHandler)
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	})

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		s.refreshComponentMetrics(s.metricsManager.GetPrometheusMetrics())
		s.metricsManager.StartUpdater(30*time.Second, s.refreshComponentMetrics)
	}

	// Create a channel to receive startup errors
	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", map[string]interface{}{"error": err})
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// refreshComponentMetrics updates the gauges the metrics updater cannot
// observe on its own
func (s *HTTPServer) refreshComponentMetrics(pm *metrics.PrometheusMetrics) {
	pm.UpdateComponentHealth("storage", s.store.Ping() == nil)
	pm.UpdateComponentHealth("registry", s.registry.IsHealthy())
	pm.UpdateActiveSubscribers(s.registry.GetStats().ActiveSubscribers)
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	if s.metricsManager != nil {
		s.metricsManager.StopUpdater()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler returns the configured router, used by tests
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Bin Handlers

// createBinHandler creates a new bin with a generated id
func (s *HTTPServer) createBinHandler(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Name string `json:"name"`
	}

	// The body is optional; an empty or absent body means the default name.
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if request.Name == "" {
		request.Name = models.DefaultBinName
	}

	id := utils.GenerateBinID()
	if err := s.store.CreateBin(r.Context(), id, request.Name); err != nil {
		s.writeError(w, statusForError(err), "Failed to create bin", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":   id,
		"name": request.Name,
	})
}

// deleteBinHandler deletes a bin and force-closes its live streams
func (s *HTTPServer) deleteBinHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if err := s.store.DeleteBin(r.Context(), id); err != nil {
		s.writeError(w, statusForError(err), "Failed to delete bin", err)
		return
	}

	s.registry.CloseBin(id)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Bin deleted successfully",
		"id":      id,
	})
}

// listBinsHandler lists all bins with summary stats
func (s *HTTPServer) listBinsHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListBins(r.Context())
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to list bins", err)
		return
	}

	s.writeJSON(w, http.StatusOK, summaries)
}

// renameBinHandler changes a bin's display name
func (s *HTTPServer) renameBinHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var request struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if request.Name == "" {
		s.writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}

	if err := s.store.RenameBin(r.Context(), id, request.Name); err != nil {
		s.writeError(w, statusForError(err), "Failed to rename bin", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Bin renamed successfully",
		"id":      id,
		"name":    request.Name,
	})
}

// Log Handlers

// fetchLogHandler returns a bin's name and its entries, newest first
func (s *HTTPServer) fetchLogHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	bin, err := s.store.GetBin(r.Context(), id)
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to fetch log", err)
		return
	}

	entries, err := s.store.ListEntries(r.Context(), id)
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to fetch log", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":     bin.Name,
		"requests": entries,
	})
}

// deleteEntryHandler deletes a single entry by log number
func (s *HTTPServer) deleteEntryHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	logNumber, err := strconv.ParseInt(vars["logNumber"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid log number", err)
		return
	}

	if err := s.store.DeleteEntries(r.Context(), id, []int64{logNumber}); err != nil {
		s.writeError(w, statusForError(err), "Failed to delete entry", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Entry deleted successfully",
		"logNumber": logNumber,
	})
}

// deleteEntriesHandler deletes the listed entries, or all entries when no
// list is supplied
func (s *HTTPServer) deleteEntriesHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var request struct {
		Logs []int64 `json:"logs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := s.store.DeleteEntries(r.Context(), id, request.Logs); err != nil {
		s.writeError(w, statusForError(err), "Failed to delete entries", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Entries deleted successfully",
	})
}

// streamLogHandler serves the live stream for a bin as server-sent events
func (s *HTTPServer) streamLogHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if _, err := s.store.GetBin(r.Context(), id); err != nil {
		s.writeError(w, statusForError(err), "Failed to open stream", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.registry.Subscribe(id)
	defer s.registry.Unsubscribe(id, sub)

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().UpdateActiveSubscribers(s.registry.GetStats().ActiveSubscribers)
		defer func() {
			s.metricsManager.GetPrometheusMetrics().UpdateActiveSubscribers(s.registry.GetStats().ActiveSubscribers)
		}()
	}

	keepAlive := time.NewTicker(s.registry.KeepAliveInterval())
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case entry := <-sub.Events():
			data, err := json.Marshal(entry)
			if err != nil {
				s.logger.Error("Failed to marshal stream event", map[string]interface{}{"error": err})
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			// Comment frame: a transport-level no-op, not a data event.
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Capture Handler

// captureHandler records any inbound request addressed to a bin
func (s *HTTPServer) captureHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	entry, err := s.pipeline.Capture(r.Context(), id, r)
	if err != nil {
		if utils.IsNotFound(err) {
			s.writeError(w, http.StatusNotFound, "Bin not found", err)
		} else {
			s.writeError(w, http.StatusInternalServerError, "Failed to capture request", err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Request captured",
		"logNumber": entry.LogNumber,
	})
}

// Health and Stats Handlers

// healthHandler returns component health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]bool{
		"storage":  s.store.Ping() == nil,
		"registry": s.registry.IsHealthy(),
	}

	status := "healthy"
	for _, healthy := range components {
		if !healthy {
			status = "unhealthy"
			break
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storeStats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now(),
		"storage":   storeStats,
		"stream":    s.registry.GetStats(),
	})
}

// Utility Methods

// statusForError maps an error's code to an HTTP status
func statusForError(err error) int {
	switch utils.ErrorCode(err) {
	case utils.ErrCodeNotFound:
		return http.StatusNotFound
	case utils.ErrCodeAlreadyExists:
		return http.StatusConflict
	case utils.ErrCodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", map[string]interface{}{"error": err})
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.Error("HTTP error", map[string]interface{}{
			"status":  status,
			"message": message,
			"error":   err,
		})
	}

	s.writeJSON(w, status, errorResponse)
}
