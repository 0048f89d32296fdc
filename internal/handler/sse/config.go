package sse

import "time"

// Config holds configuration for status streams
type Config struct {
	// HeartbeatInterval is how often every open stream receives a heartbeat event
	HeartbeatInterval time.Duration

	// BufferSize is the per-connection event queue length. A connection whose
	// queue is full is treated as dead.
	BufferSize int
}

// DefaultConfig returns the default stream configuration
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: 30 * time.Second,
		BufferSize:        16,
	}
}
