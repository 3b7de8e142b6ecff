package pool

import (
	"fmt"
	"strings"
	"time"

	"hivecore/pkg/config"
	"hivecore/pkg/logging"
)

// LoadConfig resolves the configuration of the named pool:
// DefaultConfig() <- pools.default.* <- pools.<name>.*.
func LoadConfig(m *config.ConfigManager, name string) (Config, error) {
	cfg := DefaultConfig()
	cfg.Name = name

	var errs config.MultiError
	for _, prefix := range []string{"pools.default", "pools." + name} {
		if prefix == "pools.default" && name == "default" {
			continue
		}
		readInt(m, prefix+".min_connections", &cfg.MinConnections, &errs)
		readInt(m, prefix+".max_connections", &cfg.MaxConnections, &errs)
		readDuration(m, prefix+".connect_timeout", &cfg.ConnectTimeout, &errs)
		readDuration(m, prefix+".wait_timeout", &cfg.WaitTimeout, &errs)
		readDuration(m, prefix+".heartbeat", &cfg.Heartbeat, &errs)
		readDuration(m, prefix+".max_idle_time", &cfg.MaxIdleTime, &errs)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Names lists the pools configured under pools.*, excluding "default".
func Names(m *config.ConfigManager) []string {
	seen := map[string]bool{}
	var names []string
	for _, key := range m.Keys("pools") {
		parts := strings.SplitN(key, ".", 3)
		if len(parts) < 3 || parts[1] == "default" || seen[parts[1]] {
			continue
		}
		seen[parts[1]] = true
		names = append(names, parts[1])
	}
	return names
}

func readInt(m *config.ConfigManager, key string, dst *int, errs *config.MultiError) {
	if _, ok := m.Value(key); !ok {
		return
	}
	v, err := m.GetInt(key)
	if err != nil {
		errs.Add(err)
		return
	}
	*dst = v
}

func readDuration(m *config.ConfigManager, key string, dst *time.Duration, errs *config.MultiError) {
	if _, ok := m.Value(key); !ok {
		return
	}
	v, err := m.GetDuration(key)
	if err != nil {
		errs.Add(err)
		return
	}
	*dst = v
}

// Reconfigurable is satisfied by every *Pool[C].
type Reconfigurable interface {
	Name() string
	Config() Config
	Reconfigure(cfg Config) error
}

// Watch re-applies pools.default and pools.<name> changes to p. Invalid
// updates are logged and leave the pool untouched.
func Watch(m *config.ConfigManager, p Reconfigurable, logger logging.Logger) {
	logger = logging.OrNoOp(logger)
	name := p.Name()
	own := fmt.Sprintf("pools.%s.", name)
	m.AddWatcher("pools", config.WatcherFunc(func(c config.ConfigChange) {
		if !strings.HasPrefix(c.Key, own) && !strings.HasPrefix(c.Key, "pools.default.") {
			return
		}
		cfg, err := LoadConfig(m, name)
		if err != nil {
			logger.Error("ignoring invalid pool config", "pool", name, "key", c.Key, "error", err)
			return
		}
		if cfg == p.Config() {
			return
		}
		if err := p.Reconfigure(cfg); err != nil {
			logger.Error("pool reconfigure failed", "pool", name, "error", err)
		}
	}))
}
