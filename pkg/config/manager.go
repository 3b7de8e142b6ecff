// Package config implements the layered configuration every hivecore process
// boots from: defaults < files < environment < flags < runtime overrides.
package config

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"hivecore/pkg/logging"
)

const secretPrefix = "secret:"

type ConfigManager struct {
	mu          sync.RWMutex
	sources     []Source
	defaults    map[string]interface{}
	overrides   map[string]interface{}
	values      map[string]*ConfigValue
	validators  map[string][]ConfigValidator
	watchers    map[string][]ConfigWatcher
	schema      *ConfigSchema
	onChange    chan ConfigChange
	logger      logging.Logger
	secretStore SecretStore
	fileWatcher *FileWatcher
}

type Option func(*ConfigManager)

func WithLogger(l logging.Logger) Option {
	return func(m *ConfigManager) { m.logger = logging.OrNoOp(l) }
}

func WithSecretStore(s SecretStore) Option {
	return func(m *ConfigManager) { m.secretStore = s }
}

func NewConfigManager(opts ...Option) *ConfigManager {
	m := &ConfigManager{
		defaults:   make(map[string]interface{}),
		overrides:  make(map[string]interface{}),
		values:     make(map[string]*ConfigValue),
		validators: make(map[string][]ConfigValidator),
		watchers:   make(map[string][]ConfigWatcher),
		onChange:   make(chan ConfigChange, 100),
		logger:     logging.NoOp{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddSource registers a layer. Sources are applied in priority order; two
// sources at the same priority apply in registration order.
func (m *ConfigManager) AddSource(source Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, source)
	sort.SliceStable(m.sources, func(i, j int) bool {
		return m.sources[i].Priority() < m.sources[j].Priority()
	})
}

func (m *ConfigManager) AddValidator(key string, validator ConfigValidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators[key] = append(m.validators[key], validator)
}

// AddWatcher registers w for key and every key below it. An empty key
// watches everything. Watchers run on the goroutine that applied the change.
func (m *ConfigManager) AddWatcher(key string, w ConfigWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers[key] = append(m.watchers[key], w)
}

func (m *ConfigManager) SetSchema(schema *ConfigSchema) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schema = schema
	var walk func(prefix string, props map[string]*SchemaNode)
	walk = func(prefix string, props map[string]*SchemaNode) {
		for name, node := range props {
			key := joinKey(prefix, name)
			if node.Default != nil {
				m.defaults[key] = node.Default
			}
			walk(key, node.Properties)
		}
	}
	walk("", schema.Properties)
}

// SetDefault records the lowest layer value for key. Maps are flattened.
func (m *ConfigManager) SetDefault(key string, value interface{}) {
	flat := make(map[string]interface{})
	flatten(key, value, flat)

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range flat {
		m.defaults[k] = v
		if cur, ok := m.values[k]; !ok || cur.IsDefault {
			m.values[k] = &ConfigValue{Value: v, Source: SourceDefault, IsDefault: true, Timestamp: time.Now()}
		}
	}
}

// Load rebuilds every value from all layers. When validation fails the
// previous values stay in place and the aggregated error is returned.
func (m *ConfigManager) Load(ctx context.Context) error {
	m.mu.RLock()
	sources := append([]Source(nil), m.sources...)
	defaults := copyMap(m.defaults)
	overrides := copyMap(m.overrides)
	m.mu.RUnlock()

	now := time.Now()
	next := make(map[string]*ConfigValue, len(defaults))
	for k, v := range defaults {
		next[k] = &ConfigValue{Value: v, Source: SourceDefault, IsDefault: true, Timestamp: now}
	}

	for _, source := range sources {
		cfg, err := source.Load(ctx)
		if err != nil {
			return fmt.Errorf("load %s source: %w", source.Name(), err)
		}
		flat := make(map[string]interface{})
		flatten("", cfg, flat)
		for k, v := range flat {
			next[k] = &ConfigValue{Value: v, Source: source.Priority(), Timestamp: now}
		}
	}
	for k, v := range overrides {
		next[k] = &ConfigValue{Value: v, Source: SourceDynamic, Timestamp: now}
	}

	if err := m.resolveSecrets(ctx, next); err != nil {
		return err
	}
	if err := m.validateAll(next); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	m.mu.Lock()
	old := m.values
	m.values = next
	m.mu.Unlock()

	m.logger.Debug("configuration loaded", "keys", len(next), "sources", len(sources))
	for _, change := range diff(old, next, now) {
		m.notifyWatchers(change)
	}
	return nil
}

// Reload is Load with logging, used by file watching.
func (m *ConfigManager) Reload(ctx context.Context) error {
	if err := m.Load(ctx); err != nil {
		m.logger.Error("config reload failed, keeping previous values", "error", err)
		return err
	}
	m.logger.Info("configuration reloaded")
	return nil
}

func (m *ConfigManager) resolveSecrets(ctx context.Context, values map[string]*ConfigValue) error {
	var errs MultiError
	for key, v := range values {
		if m.isSecretKey(key) {
			v.IsSecret = true
		}
		s, ok := v.Value.(string)
		if !ok || !strings.HasPrefix(s, secretPrefix) {
			continue
		}
		v.IsSecret = true
		if m.secretStore == nil {
			errs.Add(&ConfigError{Key: key, Message: "cannot resolve secret", Err: ErrNoSecretStore})
			continue
		}
		secret, err := m.secretStore.GetSecret(ctx, strings.TrimPrefix(s, secretPrefix))
		if err != nil {
			errs.Add(&ConfigError{Key: key, Message: "cannot resolve secret", Err: err})
			continue
		}
		v.Value = secret
	}
	return errs.ErrorOrNil()
}

func (m *ConfigManager) validateAll(values map[string]*ConfigValue) error {
	m.mu.RLock()
	validators := make(map[string][]ConfigValidator, len(m.validators))
	for k, v := range m.validators {
		validators[k] = v
	}
	schema := m.schema
	m.mu.RUnlock()

	var errs MultiError
	for _, key := range sortedValidatorKeys(validators) {
		value, ok := values[key]
		var raw interface{}
		if ok {
			raw = value.Value
		}
		for _, validator := range validators[key] {
			if _, required := validator.(*RequiredValidator); !ok && !required {
				continue
			}
			if err := validator.Validate(key, raw); err != nil {
				errs.Add(&ConfigError{Key: key, Message: "validation failed", Err: err})
			}
		}
	}
	if schema != nil {
		validateSchema(schema, values, &errs)
	}
	return errs.ErrorOrNil()
}

// Set applies a runtime override. It is validated first and survives
// reloads.
func (m *ConfigManager) Set(key string, value interface{}) error {
	flat := make(map[string]interface{})
	flatten(key, value, flat)

	m.mu.RLock()
	for k, v := range flat {
		for _, validator := range m.validators[k] {
			if err := validator.Validate(k, v); err != nil {
				m.mu.RUnlock()
				return &ConfigError{Key: k, Message: "validation failed", Err: err}
			}
		}
	}
	m.mu.RUnlock()

	now := time.Now()
	var changes []ConfigChange
	m.mu.Lock()
	for _, k := range sortedKeys(flat) {
		v := flat[k]
		m.overrides[k] = v
		var oldValue interface{}
		if cur, ok := m.values[k]; ok {
			oldValue = cur.Value
		}
		m.values[k] = &ConfigValue{Value: v, Source: SourceDynamic, Timestamp: now}
		if !reflect.DeepEqual(oldValue, v) {
			changes = append(changes, ConfigChange{Key: k, OldValue: oldValue, NewValue: v, Source: SourceDynamic, Timestamp: now})
		}
	}
	m.mu.Unlock()

	for _, c := range changes {
		m.notifyWatchers(c)
	}
	return nil
}

func (m *ConfigManager) notifyWatchers(change ConfigChange) {
	m.mu.RLock()
	var targets []ConfigWatcher
	for key, ws := range m.watchers {
		if key == "" || key == change.Key || strings.HasPrefix(change.Key, key+".") {
			targets = append(targets, ws...)
		}
	}
	m.mu.RUnlock()

	for _, w := range targets {
		w.OnConfigChange(change)
	}

	select {
	case m.onChange <- change:
	default:
		m.logger.Warn("config change channel full, dropping change", "key", change.Key)
	}
}

// Watch returns a buffered stream of applied changes.
func (m *ConfigManager) Watch() <-chan ConfigChange {
	return m.onChange
}

// WatchFiles reloads the manager whenever one of its file sources changes on
// disk. It returns once the watcher is running; ctx ends it.
func (m *ConfigManager) WatchFiles(ctx context.Context) error {
	m.mu.Lock()
	if m.fileWatcher != nil {
		m.mu.Unlock()
		return nil
	}
	var paths []string
	for _, s := range m.sources {
		if fs, ok := s.(*FileSource); ok {
			paths = append(paths, fs.Paths()...)
		}
	}
	w := NewFileWatcher(m.logger)
	m.fileWatcher = w
	m.mu.Unlock()

	if err := w.Start(); err != nil {
		return err
	}
	for _, p := range paths {
		if err := w.Watch(p, func() { _ = m.Reload(ctx) }); err != nil {
			w.Stop()
			return fmt.Errorf("failed to watch file %s: %w", p, err)
		}
	}
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

func (m *ConfigManager) Close() {
	m.mu.Lock()
	w := m.fileWatcher
	m.fileWatcher = nil
	m.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

func (m *ConfigManager) isSecretKey(key string) bool {
	m.mu.RLock()
	schema := m.schema
	m.mu.RUnlock()
	if schema == nil {
		return false
	}
	node := lookupSchema(schema, key)
	return node != nil && node.Secret
}

func diff(old, next map[string]*ConfigValue, now time.Time) []ConfigChange {
	keys := make(map[string]struct{}, len(next))
	for k := range old {
		keys[k] = struct{}{}
	}
	for k := range next {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []ConfigChange
	for _, k := range sorted {
		var ov, nv interface{}
		src := SourceDefault
		if v, ok := old[k]; ok {
			ov = v.Value
		}
		if v, ok := next[k]; ok {
			nv = v.Value
			src = v.Source
		}
		if !reflect.DeepEqual(ov, nv) {
			changes = append(changes, ConfigChange{Key: k, OldValue: ov, NewValue: nv, Source: src, Timestamp: now})
		}
	}
	return changes
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedValidatorKeys(m map[string][]ConfigValidator) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
