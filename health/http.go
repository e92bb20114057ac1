package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HandlerConfig configures the health endpoints.
type HandlerConfig struct {
	// Environment is reported by the detailed endpoint, e.g. "production".
	Environment string

	// Timeout bounds the checks run per request.
	// Default: DefaultCheckTimeout
	Timeout time.Duration

	// Now replaces time.Now. Intended for tests.
	Now func() time.Time
}

// Handlers serves the health endpoints for one aggregator.
type Handlers struct {
	agg    *Aggregator
	config HandlerConfig
}

// NewHandlers creates the health endpoints over agg.
func NewHandlers(agg *Aggregator, config HandlerConfig) *Handlers {
	if config.Timeout <= 0 {
		config.Timeout = DefaultCheckTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Handlers{agg: agg, config: config}
}

// Liveness reports that the process is serving requests. It consults no
// checker.
func (h *Handlers) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Readiness runs every check and answers 503 only when one is unhealthy.
func (h *Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.config.Timeout)
	defer cancel()

	status := OverallStatus(h.agg.CheckAll(ctx))

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status.HTTPStatus())
	switch status {
	case StatusHealthy:
		_, _ = w.Write([]byte("OK"))
	case StatusDegraded:
		_, _ = w.Write([]byte("DEGRADED"))
	default:
		_, _ = w.Write([]byte("UNHEALTHY"))
	}
}

// Response is the JSON body of the detailed health endpoint.
type Response struct {
	Status      string                   `json:"status"`
	Timestamp   string                   `json:"timestamp"`
	Environment string                   `json:"environment"`
	Checks      map[string]CheckResponse `json:"checks,omitempty"`
}

// CheckResponse is the JSON body for a single health check.
type CheckResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Detailed reports the overall status with per-check details.
func (h *Handlers) Detailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.config.Timeout)
	defer cancel()

	results := h.agg.CheckAll(ctx)
	status := OverallStatus(results)

	response := Response{
		Status:      status.String(),
		Timestamp:   h.config.Now().UTC().Format(time.RFC3339),
		Environment: h.config.Environment,
		Checks:      make(map[string]CheckResponse, len(results)),
	}
	for name, result := range results {
		check := CheckResponse{
			Status:   result.Status.String(),
			Message:  result.Message,
			Duration: result.Duration.String(),
			Details:  result.Details,
		}
		if result.Error != nil {
			check.Error = result.Error.Error()
		}
		response.Checks[name] = check
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status.HTTPStatus())
	_ = json.NewEncoder(w).Encode(response)
}

// Register mounts /healthz, /readyz and /health on mux for GET requests.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Liveness)
	mux.HandleFunc("GET /readyz", h.Readiness)
	mux.HandleFunc("GET /health", h.Detailed)
}
