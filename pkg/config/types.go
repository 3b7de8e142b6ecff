package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfigSource identifies the layer a value came from. Higher layers win.
type ConfigSource int

const (
	SourceDefault ConfigSource = iota
	SourceFile
	SourceEnvironment
	SourceFlag
	SourceDynamic
)

func (s ConfigSource) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceFile:
		return "file"
	case SourceEnvironment:
		return "environment"
	case SourceFlag:
		return "flag"
	case SourceDynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

type ConfigValue struct {
	Value     interface{}
	Source    ConfigSource
	IsDefault bool
	IsSecret  bool
	Timestamp time.Time
}

type ConfigChange struct {
	Key       string
	OldValue  interface{}
	NewValue  interface{}
	Source    ConfigSource
	Timestamp time.Time
}

type ConfigWatcher interface {
	OnConfigChange(change ConfigChange)
}

// WatcherFunc adapts a plain function to ConfigWatcher.
type WatcherFunc func(change ConfigChange)

func (f WatcherFunc) OnConfigChange(change ConfigChange) { f(change) }

type ConfigValidator interface {
	Validate(key string, value interface{}) error
}

var (
	ErrKeyNotFound     = errors.New("config key not found")
	ErrTypeMismatch    = errors.New("config value has unexpected type")
	ErrSecretNotFound  = errors.New("secret not found")
	ErrNoSecretStore   = errors.New("no secret store configured")
	ErrUnknownFormat   = errors.New("unknown config format")
)

// ConfigError is the configuration error of the runtime. Invalid pool
// settings, failed validators and unresolvable secrets all surface as one.
type ConfigError struct {
	Key     string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error for key %s: %s: %v", e.Key, e.Message, e.Err)
	}
	return fmt.Sprintf("config error for key %s: %s", e.Key, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

type MultiError struct {
	Errors []error
}

func (e *MultiError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("multiple config errors:\n%s", strings.Join(msgs, "\n"))
}

func (e *MultiError) Unwrap() []error { return e.Errors }

func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrorOrNil returns nil for an empty MultiError.
func (e *MultiError) ErrorOrNil() error {
	if e == nil || !e.HasErrors() {
		return nil
	}
	return e
}

// SchemaNode describes one key or subtree. Defaults declared here are applied
// by SetSchema.
type SchemaNode struct {
	Type        string                 `yaml:"type" json:"type"`
	Description string                 `yaml:"description" json:"description"`
	Default     interface{}            `yaml:"default" json:"default"`
	Required    bool                   `yaml:"required" json:"required"`
	Secret      bool                   `yaml:"secret" json:"secret"`
	Min         *float64               `yaml:"min" json:"min"`
	Max         *float64               `yaml:"max" json:"max"`
	Enum        []interface{}          `yaml:"enum" json:"enum"`
	Properties  map[string]*SchemaNode `yaml:"properties" json:"properties"`
	Items       *SchemaNode            `yaml:"items" json:"items"`
}

type ConfigSchema struct {
	Properties map[string]*SchemaNode `yaml:"properties" json:"properties"`
}
