package config

import (
	"fmt"
	"strings"
)

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir required")
	}
	if c.Clearing.MinLeadSeconds < 0 || c.Clearing.MinExerciseWindowSeconds < 0 {
		return fmt.Errorf("clearing: window bounds must not be negative")
	}
	if err := c.Fees.Validate(); err != nil {
		return err
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.MutatingPerMinute < 0 {
		return fmt.Errorf("ratelimit: rates must not be negative")
	}
	if c.RateLimit.Burst < 0 || c.RateLimit.MutatingBurst < 0 {
		return fmt.Errorf("ratelimit: bursts must not be negative")
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	if c.Auth.ClockSkewSeconds < 0 {
		return fmt.Errorf("auth: clock skew must not be negative")
	}
	if (c.Telemetry.Tracing || c.Telemetry.Metrics) && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: endpoint required when export is enabled")
	}
	return nil
}
