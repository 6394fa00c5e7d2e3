package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/config"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/llm"
)

// ServiceName is reported by /ping.
const ServiceName = "ekaya-healthquery"

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse reports the state of the store and the completion service.
type HealthResponse struct {
	Status     string `json:"status"` // "ok" or "degraded"
	Store      string `json:"store,omitempty"`
	LLMCircuit string `json:"llm_circuit,omitempty"`
}

// StoreInfo is the part of the datasource health reports on.
type StoreInfo interface {
	Type() string
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg     *config.Config
	store   StoreInfo
	breaker *llm.CircuitBreaker
	logger  *zap.Logger
}

// NewHealthHandler creates a HealthHandler. store and breaker may be nil.
func NewHealthHandler(cfg *config.Config, store StoreInfo, breaker *llm.CircuitBreaker, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, store: store, breaker: breaker, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
// An open LLM circuit reports "degraded": questions still fail fast, evaluation still works.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "ok"}
	if h.store != nil {
		response.Store = h.store.Type()
	}
	if h.breaker != nil {
		state := h.breaker.State()
		response.LLMCircuit = state.String()
		if state == llm.CircuitOpen {
			response.Status = "degraded"
		}
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     ServiceName,
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
