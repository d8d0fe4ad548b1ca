// Package server provides the Pastense HTTP surface: the ingest/search API,
// health checks, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthResponse is the response from health endpoints.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthChecker is a function that performs a health check.
type HealthChecker func(ctx context.Context) HealthCheck

// HealthState tracks readiness, liveness and registered component checks.
type HealthState struct {
	mu      sync.RWMutex
	checks  map[string]HealthChecker
	version string
	ready   bool
	live    bool
}

// NewHealthState creates the health tracker.
func NewHealthState(version string) *HealthState {
	return &HealthState{
		checks:  make(map[string]HealthChecker),
		version: version,
		live:    true,
	}
}

// RegisterCheck adds a health check.
func (s *HealthState) RegisterCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

// SetReady marks the server as ready to accept traffic.
func (s *HealthState) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *HealthState) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.mu.RLock()
	checks := make(map[string]HealthChecker, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	version := s.version
	s.mu.RUnlock()

	response := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Checks:    make([]HealthCheck, 0, len(checks)),
	}

	for name, checker := range checks {
		check := checker(ctx)
		check.Name = name
		response.Checks = append(response.Checks, check)

		if check.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
		} else if check.Status == HealthStatusDegraded && response.Status == HealthStatusHealthy {
			response.Status = HealthStatusDegraded
		}
	}

	statusCode := http.StatusOK
	if response.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

func (s *HealthState) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	s.probeResponse(w, ready)
}

func (s *HealthState) handleLive(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	live := s.live
	s.mu.RUnlock()
	s.probeResponse(w, live)
}

func (s *HealthState) probeResponse(w http.ResponseWriter, ok bool) {
	response := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
	}
	if !ok {
		response.Status = HealthStatusUnhealthy
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// StoreHealthChecker checks metadata store connectivity. The store is the
// authoritative dependency: unreachable means unhealthy, not degraded.
func StoreHealthChecker(checkFn func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if checkFn == nil {
			return HealthCheck{Status: HealthStatusHealthy, Message: "store OK"}
		}
		if err := checkFn(ctx); err != nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: "store unreachable: " + err.Error(),
			}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: "store OK"}
	}
}

// EmbedderHealthChecker reports the embedding provider. A failing provider
// only degrades service (ingestion still records pages), so it never maps
// to unhealthy.
func EmbedderHealthChecker(providerName string, checkFn func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if checkFn == nil {
			return HealthCheck{
				Status:  HealthStatusHealthy,
				Message: "embedding provider configured: " + providerName,
			}
		}
		if err := checkFn(ctx); err != nil {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "embedding provider degraded: " + err.Error(),
			}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: "embedding provider OK"}
	}
}

// IndexHealthChecker reports vector index slot count. An empty index next
// to stored pages is reported degraded as a rebuild hint.
func IndexHealthChecker(sizeFn func() int, storedFn func(ctx context.Context) (int, error)) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		size := 0
		if sizeFn != nil {
			size = sizeFn()
		}
		if storedFn != nil && size == 0 {
			if stored, err := storedFn(ctx); err == nil && stored > 0 {
				return HealthCheck{
					Status:  HealthStatusDegraded,
					Message: fmt.Sprintf("index empty with %d pages stored, rebuild suggested", stored),
				}
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: fmt.Sprintf("index OK (%d slots)", size),
		}
	}
}
