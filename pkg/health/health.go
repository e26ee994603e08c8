// Package health runs dependency probes in parallel and serves the result
// for liveness and readiness checks.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Pinger is satisfied by the Elasticsearch, Redis and PostgreSQL clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports down when p fails. Optional dependencies should use
// DegradedCheck instead so they never fail readiness.
func PingCheck(p Pinger) Check {
	return pingCheck(p, StatusDown)
}

// DegradedCheck reports degraded when p fails.
func DegradedCheck(p Pinger) Check {
	return pingCheck(p, StatusDegraded)
}

func pingCheck(p Pinger, onFailure Status) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := p.Ping(ctx); err != nil {
			return ComponentHealth{Status: onFailure, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks:  make(map[string]Check),
		timeout: 5 * time.Second,
		logger:  slog.Default().With("component", "health"),
	}
}

func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes every check concurrently. The overall status is the worst
// component status.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			result := check(ctx)
			result.Latency = time.Since(start).Round(time.Millisecond).String()
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	for name, comp := range report.Components {
		switch comp.Status {
		case StatusDown:
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status == StatusUp {
				report.Status = StatusDegraded
			}
		}
		if comp.Status != StatusUp {
			c.logger.Warn("dependency unhealthy", "dependency", name, "status", comp.Status, "message", comp.Message)
		}
	}
	return report
}

func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers 503 only when a required dependency is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
		defer cancel()
		report := c.Run(ctx)
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
