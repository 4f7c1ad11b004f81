// health.go - Component health probes for the settlement daemon.
//
// Each registered component runs a probe on demand. A probe failing outright
// marks the component unhealthy; a probe returning a Degradation (ledger
// backlog, slow cache) marks it degraded without failing the daemon. The
// overall status is the worst component status.

package main

import (
	"errors"
	"sync"
	"time"
)

// HealthStatus classifies a component or the whole daemon.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// Degradation is a probe result for a component that works but is impaired.
type Degradation struct {
	Reason string
}

func (d Degradation) Error() string { return d.Reason }

// ComponentHealth is one probe outcome.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth is the full daemon health report.
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

type component struct {
	name  string
	probe func() error
}

// HealthChecker runs registered probes in registration order.
type HealthChecker struct {
	mu         sync.Mutex
	components []component
	startTime  time.Time
	version    string
}

// NewHealthChecker creates a health checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		version:   version,
	}
}

// RegisterComponent adds a probe under the given name.
func (hc *HealthChecker) RegisterComponent(name string, probe func() error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.components = append(hc.components, component{name: name, probe: probe})
}

// CheckHealth runs every probe and aggregates the worst status.
func (hc *HealthChecker) CheckHealth() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	overall := Healthy
	report := make([]ComponentHealth, 0, len(hc.components))
	for _, c := range hc.components {
		start := time.Now()
		err := c.probe()
		ch := ComponentHealth{
			Name:      c.name,
			Status:    Healthy,
			Message:   "OK",
			LastCheck: start,
			Latency:   time.Since(start),
		}

		var deg Degradation
		switch {
		case err == nil:
		case errors.As(err, &deg):
			ch.Status = Degraded
			ch.Message = deg.Reason
		default:
			ch.Status = Unhealthy
			ch.Message = err.Error()
		}

		if ch.Status == Unhealthy {
			overall = Unhealthy
		} else if ch.Status == Degraded && overall == Healthy {
			overall = Degraded
		}
		report = append(report, ch)
	}

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    report,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}

// HealthCheckResponse is the /healthz payload envelope.
type HealthCheckResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateHealthResponse wraps a health report for the HTTP endpoint.
func CreateHealthResponse(health *SystemHealth) *HealthCheckResponse {
	resp := &HealthCheckResponse{Status: "success", Message: "System is healthy", Data: health}
	switch health.OverallStatus {
	case Unhealthy:
		resp.Status = "error"
		resp.Message = "System is unhealthy"
	case Degraded:
		resp.Status = "warning"
		resp.Message = "System is degraded"
	}
	return resp
}
