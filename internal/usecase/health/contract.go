package health

import "context"

// StorePinger checks passage store availability.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// LogPinger checks query log database availability.
type LogPinger interface {
	Ping(ctx context.Context) error
}

// ProviderChecker checks an external model provider's availability.
type ProviderChecker interface {
	HealthCheck(ctx context.Context) error
}
