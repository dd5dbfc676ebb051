package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Checker probes one dependency. Implementations should respect the context
// deadline; a slow dependency must not hang the readiness endpoint.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.CheckName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// HTTPChecker reports a dependency reachable when any response comes back
// below 500. A 404 still proves the service is up.
func HTTPChecker(name, url string) Checker {
	client := &http.Client{}
	return CheckerFunc{
		CheckName: name,
		Fn: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode >= 500 {
				return fmt.Errorf("%s returned status %d", name, resp.StatusCode)
			}
			return nil
		},
	}
}

// Handler serves liveness and readiness endpoints.
type Handler struct {
	version  string
	checkers []Checker
	logger   *zap.Logger
}

func NewHandler(version string, logger *zap.Logger, checkers ...Checker) *Handler {
	return &Handler{version: version, checkers: checkers, logger: logger}
}

// RegisterRoutes registers health routes on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/readiness", h.Readiness)
}

// Response is a health check response.
type Response struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Time    time.Time         `json:"time"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health. Liveness only: the process is up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, http.StatusOK, Response{
		Status:  "healthy",
		Version: h.version,
		Time:    time.Now(),
		Checks:  map[string]string{"assistant": "ok"},
	})
}

// Readiness handles GET /readiness. Probes each registered dependency and
// reports 503 if any fails.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := Response{
		Status:  "ready",
		Version: h.version,
		Time:    time.Now(),
		Checks:  make(map[string]string),
	}
	status := http.StatusOK

	for _, c := range h.checkers {
		if err := c.Check(ctx); err != nil {
			response.Status = "not ready"
			response.Checks[c.Name()] = "failed"
			status = http.StatusServiceUnavailable
			h.logger.Warn("Readiness check failed",
				zap.String("check", c.Name()), zap.Error(err))
			continue
		}
		response.Checks[c.Name()] = "ok"
	}

	writeResponse(w, status, response)
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
