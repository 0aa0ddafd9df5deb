// Package health aggregates component liveness into a single report.
package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
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

// Service coordinates health checks across the passage store, the query log
// database, and the model providers.
type Service struct {
	passages   StorePinger
	querylog   LogPinger
	embedding  ProviderChecker
	generation ProviderChecker
}

// New creates a Service. The provider checkers can be nil.
func New(passages StorePinger, querylog LogPinger, embedding, generation ProviderChecker) *Service {
	return &Service{passages: passages, querylog: querylog, embedding: embedding, generation: generation}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	record := func(name string, err error) {
		if err != nil {
			checks[name] = CheckError
		} else {
			checks[name] = CheckOK
		}
	}

	record("passages", s.passages.Ping(ctx))
	record("querylog", s.querylog.Ping(ctx))

	if s.embedding != nil {
		record("embedding", s.embedding.HealthCheck(ctx))
	}
	if s.generation != nil {
		record("generation", s.generation.HealthCheck(ctx))
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}
