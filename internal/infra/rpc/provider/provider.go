// Package provider connects to the fleet API over gRPC.
//
// This package contains:
//   - Provider interface: a named, health-tracked connection
//   - GRPCProvider: TLS-aware gRPC channel with keepalive
//   - UnaryMethod / StreamMethod: any full gRPC method name exposed as a
//     call that the retry envelope can wrap
package provider

import (
	"time"

	"google.golang.org/grpc"
)

// Provider defines the core interface for an API endpoint.
type Provider interface {
	// GetName returns provider identifier (e.g., "fleet-api")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the provider is healthy enough to use
	IsAvailable() bool

	// Conn returns the connection generated clients and methods use
	Conn() grpc.ClientConnInterface

	// Close cleans up resources
	Close() error
}

// Config holds gRPC channel settings.
type Config struct {
	Name             string        `yaml:"name"              toml:"name"`
	Endpoint         string        `yaml:"endpoint"          toml:"endpoint"`
	KeepaliveTime    time.Duration `yaml:"keepalive_time"    toml:"keepalive_time"`
	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout" toml:"keepalive_timeout"`
	UserAgent        string        `yaml:"user_agent"        toml:"user_agent"`
}

// DefaultConfig returns the settings used by the example clients.
func DefaultConfig() Config {
	return Config{
		Name:             "fleet-api",
		Endpoint:         "api.bearrobotics.ai:443",
		KeepaliveTime:    30 * time.Second,
		KeepaliveTimeout: 10 * time.Second,
		UserAgent:        "fleetcall",
	}
}
