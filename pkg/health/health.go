// Package health aggregates dependency checks for the directory service.
// The cache tier and the invalidation bus are optional, so their checks
// report degraded rather than down; only a dead document store makes the
// service unready.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mealex/peerdir/pkg/logger"
)

// Status classifies a component: up, degraded (serving without it), or down.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check reports the current state of one dependency.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth is one dependency's answer, with the time the check took.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report aggregates every registered component under the worst status seen.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

type namedCheck struct {
	name  string
	check Check
}

// Checker runs registered checks in parallel and aggregates the results.
type Checker struct {
	mu     sync.Mutex
	checks []namedCheck
	logger *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{logger: logger.WithComponent("health")}
}

// Register adds a named check. Registering the same name twice keeps both;
// names are expected to be unique per dependency.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

type checkResult struct {
	name   string
	health ComponentHealth
}

// Run executes every registered check concurrently. The report status is
// the worst component status: one down component marks the whole report
// down, otherwise one degraded component marks it degraded.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.Lock()
	checks := make([]namedCheck, len(c.checks))
	copy(checks, c.checks)
	c.mu.Unlock()

	results := make(chan checkResult, len(checks))
	for _, nc := range checks {
		go func(nc namedCheck) {
			start := time.Now()
			h := nc.check(ctx)
			h.Latency = time.Since(start).Round(time.Millisecond).String()
			results <- checkResult{name: nc.name, health: h}
		}(nc)
	}

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for range checks {
		r := <-results
		report.Components[r.name] = r.health
		switch r.health.Status {
		case StatusDown:
			c.logger.Warn("dependency down", "name", r.name, "message", r.health.Message)
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status == StatusUp {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

// LiveHandler answers liveness: the process is running, nothing more.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadyHandler runs the full check set with a bounded deadline and answers
// 503 unless every required dependency is up.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status != StatusUp {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}
