package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dyluth/pledge/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultHealthAddr is the listen address used when none is configured.
const DefaultHealthAddr = ":8080"

// HealthServer serves /healthz (Redis reachability) and /metrics while watch mode runs.
type HealthServer struct {
	client   *ledger.Client
	gatherer prometheus.Gatherer
	addr     string
	logger   *zap.Logger
	server   *http.Server
}

// NewHealthServer creates a health server. A nil gatherer disables /metrics.
func NewHealthServer(client *ledger.Client, gatherer prometheus.Gatherer, addr string, logger *zap.Logger) *HealthServer {
	if addr == "" {
		addr = DefaultHealthAddr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthServer{
		client:   client,
		gatherer: gatherer,
		addr:     addr,
		logger:   logger.Named("health"),
	}
}

// Handler returns the HTTP routes served by the health server.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)
	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start starts the HTTP server in the background.
func (h *HealthServer) Start() error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("health_server_failed", zap.Error(err))
		}
	}()

	h.logger.Info("health_server_started", zap.String("addr", h.addr))
	return nil
}

// Shutdown gracefully shuts down the server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK if Redis is accessible, 503 Service Unavailable otherwise.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{Status: "healthy", Redis: "connected"}
	status := http.StatusOK

	if err := h.client.Ping(ctx); err != nil {
		response = HealthResponse{Status: "unhealthy", Redis: "disconnected", Error: err.Error()}
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}
