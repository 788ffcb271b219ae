package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is satisfied by *pgxpool.Pool and by the Redis client wrapper.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler reports process liveness and dependency readiness.
type HealthHandler struct {
	checks       map[string]Pinger
	breakerState func() string
	timeout      time.Duration
}

func NewHealthHandler(checks map[string]Pinger, breakerState func() string) *HealthHandler {
	return &HealthHandler{checks: checks, breakerState: breakerState, timeout: 2 * time.Second}
}

type healthResponse struct {
	Status     string            `json:"status"`
	LLMBreaker string            `json:"llm_breaker,omitempty"`
	Checks     map[string]string `json:"checks,omitempty"`
}

// Live handles GET /health. It never touches dependencies.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h != nil && h.breakerState != nil {
		resp.LLMBreaker = h.breakerState()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready handles GET /ready. Any failing dependency turns it 503; an open
// LLM breaker does not, since replies degrade to fallbacks.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK
	if h != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		for name, check := range h.checks {
			if err := check.Ping(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		if h.breakerState != nil {
			resp.LLMBreaker = h.breakerState()
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
