package channels

import (
	"context"
	"time"
)

// Adapter is a chat front end that feeds user messages into a TurnEngine.
type Adapter interface {
	// Start begins receiving messages. It returns once the adapter is
	// running; delivery continues in the background until Stop or ctx
	// cancellation.
	Start(ctx context.Context) error

	// Stop shuts the adapter down and waits for in-flight work or ctx.
	Stop(ctx context.Context) error

	// Name identifies the channel in logs and metrics.
	Name() string

	Status() Status
	HealthCheck(ctx context.Context) HealthStatus
}

// Status represents the connection status of a channel.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"` // Unix timestamp
}

// HealthStatus is the result of an adapter health check.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	LastCheck time.Time     `json:"last_check"`

	// Degraded means the adapter works but is recovering from errors.
	Degraded bool `json:"degraded,omitempty"`
}
