package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional component is failing.
	Degraded Status = "degraded"
	// Unhealthy indicates the backend cannot serve requests.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	backend BackendProber
	cache   CachePinger
}

// New creates a Service. cache can be nil.
func New(backend BackendProber, cache CachePinger) *Service {
	return &Service{backend: backend, cache: cache}
}

// Check probes the backend with a zero vector and pings the engine cache.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	// пробный прогон: ловит сломанный контекст / девайс
	probe := make([]float32, s.backend.ExpectedInputSize())
	if _, err := s.backend.Reconstruct(probe); err != nil {
		checks["backend"] = CheckError
	} else {
		checks["backend"] = CheckOK
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			checks["engine_cache"] = CheckError
		} else {
			checks["engine_cache"] = CheckOK
		}
	}

	status := Healthy
	if checks["backend"] == CheckError {
		status = Unhealthy
	} else if checks["engine_cache"] == CheckError {
		status = Degraded
	}

	return Report{Status: status, Checks: checks}
}
