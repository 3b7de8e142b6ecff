package pool

import (
	"fmt"
	"time"

	"hivecore/pkg/config"
)

// Config is copied into the pool at construction and on Reconfigure.
// Heartbeat <= 0 disables heartbeats, MaxIdleTime <= 0 disables staleness.
type Config struct {
	Name           string        `json:"name" yaml:"name"`
	MinConnections int           `json:"min_connections" yaml:"min_connections"`
	MaxConnections int           `json:"max_connections" yaml:"max_connections"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	WaitTimeout    time.Duration `json:"wait_timeout" yaml:"wait_timeout"`
	Heartbeat      time.Duration `json:"heartbeat" yaml:"heartbeat"`
	MaxIdleTime    time.Duration `json:"max_idle_time" yaml:"max_idle_time"`
}

func DefaultConfig() Config {
	return Config{
		Name:           "default",
		MinConnections: 1,
		MaxConnections: 10,
		ConnectTimeout: 10 * time.Second,
		WaitTimeout:    3 * time.Second,
		Heartbeat:      -1,
		MaxIdleTime:    60 * time.Second,
	}
}

// Merge returns c with every non-zero field of override applied.
func (c Config) Merge(override Config) Config {
	if override.Name != "" {
		c.Name = override.Name
	}
	if override.MinConnections != 0 {
		c.MinConnections = override.MinConnections
	}
	if override.MaxConnections != 0 {
		c.MaxConnections = override.MaxConnections
	}
	if override.ConnectTimeout != 0 {
		c.ConnectTimeout = override.ConnectTimeout
	}
	if override.WaitTimeout != 0 {
		c.WaitTimeout = override.WaitTimeout
	}
	if override.Heartbeat != 0 {
		c.Heartbeat = override.Heartbeat
	}
	if override.MaxIdleTime != 0 {
		c.MaxIdleTime = override.MaxIdleTime
	}
	return c
}

func (c Config) Validate() error {
	var errs config.MultiError
	key := func(field string) string { return fmt.Sprintf("pools.%s.%s", c.Name, field) }

	if c.MaxConnections < 1 {
		errs.Add(&config.ConfigError{Key: key("max_connections"), Message: fmt.Sprintf("must be at least 1, got %d", c.MaxConnections)})
	}
	if c.MinConnections < 0 {
		errs.Add(&config.ConfigError{Key: key("min_connections"), Message: fmt.Sprintf("must not be negative, got %d", c.MinConnections)})
	}
	if c.MinConnections > c.MaxConnections {
		errs.Add(&config.ConfigError{Key: key("min_connections"), Message: fmt.Sprintf("%d exceeds max_connections %d", c.MinConnections, c.MaxConnections)})
	}
	if c.WaitTimeout <= 0 {
		errs.Add(&config.ConfigError{Key: key("wait_timeout"), Message: "must be positive"})
	}
	if c.ConnectTimeout <= 0 {
		errs.Add(&config.ConfigError{Key: key("connect_timeout"), Message: "must be positive"})
	}
	return errs.ErrorOrNil()
}
