package config

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Get returns the value stored at key. A key that only prefixes other keys
// yields the nested map below it.
func (m *ConfigManager) Get(key string) (interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[key]; ok {
		return v.Value, nil
	}
	if sub := m.subLocked(key); len(sub) > 0 {
		return sub, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
}

// Value returns the stored value with its provenance.
func (m *ConfigManager) Value(key string) (ConfigValue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return ConfigValue{}, false
	}
	return *v, true
}

func (m *ConfigManager) Has(key string) bool {
	_, err := m.Get(key)
	return err == nil
}

func (m *ConfigManager) GetString(key string) (string, error) {
	v, err := m.Get(key)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case map[string]interface{}, []interface{}:
		return "", mismatch(key, "string", v)
	default:
		return fmt.Sprint(t), nil
	}
}

func (m *ConfigManager) GetInt(key string) (int, error) {
	v, err := m.Get(key)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case int32:
		return int(t), nil
	case uint:
		return int(t), nil
	case uint64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, mismatch(key, "integer", v)
		}
		return int(t), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, mismatch(key, "integer", v)
		}
		return i, nil
	default:
		return 0, mismatch(key, "integer", v)
	}
}

func (m *ConfigManager) GetFloat(key string) (float64, error) {
	v, err := m.Get(key)
	if err != nil {
		return 0, err
	}
	if f, ok := toFloat(v); ok {
		return f, nil
	}
	return 0, mismatch(key, "number", v)
}

func (m *ConfigManager) GetBool(key string) (bool, error) {
	v, err := m.Get(key)
	if err != nil {
		return false, err
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, mismatch(key, "boolean", v)
		}
		return b, nil
	default:
		return false, mismatch(key, "boolean", v)
	}
}

// GetDuration accepts Go duration strings ("250ms") and plain numbers, which
// are read as seconds.
func (m *ConfigManager) GetDuration(key string) (time.Duration, error) {
	v, err := m.Get(key)
	if err != nil {
		return 0, err
	}
	if d, ok := toDuration(v); ok {
		return d, nil
	}
	return 0, mismatch(key, "duration", v)
}

func (m *ConfigManager) GetStringSlice(key string) ([]string, error) {
	v, err := m.Get(key)
	if err != nil {
		return nil, err
	}
	out, ok := toStringSlice(v)
	if !ok {
		return nil, mismatch(key, "list", v)
	}
	return out, nil
}

// Sub returns the nested map of everything below prefix.
func (m *ConfigManager) Sub(prefix string) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subLocked(prefix)
}

func (m *ConfigManager) subLocked(prefix string) map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range m.values {
		rest, ok := strings.CutPrefix(k, prefix+".")
		if prefix == "" {
			rest, ok = k, true
		}
		if !ok {
			continue
		}
		setNestedValue(out, rest, v.Value)
	}
	return out
}

// Keys lists the flat keys under prefix in sorted order.
func (m *ConfigManager) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		if prefix == "" || k == prefix || strings.HasPrefix(k, prefix+".") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Redacted returns a flat snapshot with secret values masked.
func (m *ConfigManager) Redacted() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]interface{}, len(m.values))
	for k, v := range m.values {
		if v.IsSecret {
			out[k] = "******"
			continue
		}
		out[k] = v.Value
	}
	return out
}

func mismatch(key, want string, v interface{}) error {
	return &ConfigError{
		Key:     key,
		Message: fmt.Sprintf("cannot use %v (%T) as %s", v, v, want),
		Err:     ErrTypeMismatch,
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toDuration(v interface{}) (time.Duration, bool) {
	switch t := v.(type) {
	case time.Duration:
		return t, true
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(t)); err == nil {
			return d, true
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return time.Duration(f * float64(time.Second)), true
		}
		return 0, false
	default:
		f, ok := toFloat(v)
		if !ok {
			return 0, false
		}
		return time.Duration(f * float64(time.Second)), true
	}
}

// toStringSlice accepts lists and comma separated strings, the form list
// values take in environment variables and flags.
func toStringSlice(v interface{}) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), true
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	case string:
		if t == "" {
			return nil, true
		}
		parts := strings.Split(t, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, true
	default:
		return nil, false
	}
}
