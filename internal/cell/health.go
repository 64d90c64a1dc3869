package cell

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HealthStatus represents the health state of the cell controller
type HealthStatus struct {
	Status        string  `json:"status"` // "healthy", "unhealthy"
	UptimeSeconds int64   `json:"uptime_seconds"`
	Running       bool    `json:"running"`
	Phase         string  `json:"phase"`
	Order         string  `json:"order,omitempty"`
	Ingredient    string  `json:"ingredient,omitempty"`
	LiveWeightG   float64 `json:"live_weight_g"`
	Position      int     `json:"position"`
	CyclesDone    int     `json:"cycles_done"`
	CyclesFailed  int     `json:"cycles_failed"`
}

// HealthCheck returns the current health status of the controller
func (c *Controller) HealthCheck() HealthStatus {
	c.mu.RLock()
	started := c.started
	running := c.isRunning
	c.mu.RUnlock()

	snap := c.state.snapshot()

	status := HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(started).Seconds()),
		Running:       running,
		Phase:         snap.Phase,
		Order:         snap.Order,
		Ingredient:    snap.Ingredient,
		LiveWeightG:   snap.LiveWeightG,
		Position:      c.state.getPosition(),
		CyclesDone:    snap.CyclesDone,
		CyclesFailed:  snap.CyclesFailed,
	}

	if !running {
		status.Status = "unhealthy"
	}

	return status
}

// LivenessHandler handles /health (simple liveness check)
func (c *Controller) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness (detailed readiness check)
func (c *Controller) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := c.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// MetricsHandler handles /metrics with plaintext counters
func (c *Controller) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")

	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	snap := c.state.snapshot()

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "vesta_uptime_seconds{instance=%q} %d\n", c.cfg.InstanceID, int64(time.Since(started).Seconds()))
	fmt.Fprintf(w, "vesta_cycles_done{instance=%q} %d\n", c.cfg.InstanceID, snap.CyclesDone)
	fmt.Fprintf(w, "vesta_cycles_failed{instance=%q} %d\n", c.cfg.InstanceID, snap.CyclesFailed)
	fmt.Fprintf(w, "vesta_live_weight_g{instance=%q} %g\n", c.cfg.InstanceID, snap.LiveWeightG)
	fmt.Fprintf(w, "vesta_turntable_position{instance=%q} %d\n", c.cfg.InstanceID, c.state.getPosition())
}

// StartHealthServer starts the HTTP health check server on the given
// port. Runs in its own goroutine and does not block.
func (c *Controller) StartHealthServer(port string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", c.LivenessHandler)
	mux.HandleFunc("/readiness", c.ReadinessHandler)
	mux.HandleFunc("/metrics", c.MetricsHandler)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()

	return nil
}
