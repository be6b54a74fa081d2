// Package health aggregates dependency probes into a service status.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional dependency is failing.
	Degraded Status = "degraded"
	// Unhealthy indicates a critical dependency is failing.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	CheckOK    CheckResult = "ok"
	CheckError CheckResult = "error"
)

// Component is a named probe. Critical components make the service unhealthy when they fail.
type Component struct {
	Name     string
	Checker  Checker
	Critical bool
}

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	components []Component
	timeout    time.Duration
}

// New creates a Service. Nil checkers are skipped.
func New(timeout time.Duration, components ...Component) *Service {
	kept := make([]Component, 0, len(components))
	for _, c := range components {
		if c.Checker != nil {
			kept = append(kept, c)
		}
	}
	return &Service{components: kept, timeout: timeout}
}

// Check runs all probes in parallel, each bounded by the service timeout.
func (s *Service) Check(ctx context.Context) Report {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	results := make([]CheckResult, len(s.components))
	var wg sync.WaitGroup
	for i, c := range s.components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = CheckOK
			if err := c.Checker.HealthCheck(ctx); err != nil {
				results[i] = CheckError
			}
		}()
	}
	wg.Wait()

	status := Healthy
	checks := make(map[string]CheckResult, len(s.components))
	for i, c := range s.components {
		checks[c.Name] = results[i]
		if results[i] != CheckError {
			continue
		}
		if c.Critical {
			status = Unhealthy
		} else if status == Healthy {
			status = Degraded
		}
	}
	return Report{Status: status, Checks: checks}
}
