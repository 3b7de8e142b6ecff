package config

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Source feeds one layer of configuration into a ConfigManager.
type Source interface {
	Name() string
	Priority() ConfigSource
	Load(ctx context.Context) (map[string]interface{}, error)
}

// FileSource reads one or more files, later files overriding earlier ones.
// Missing files are skipped. The format follows the extension.
type FileSource struct {
	paths    []string
	mu       sync.Mutex
	lastLoad time.Time
}

func NewFileSource(paths ...string) *FileSource {
	return &FileSource{paths: paths}
}

func (f *FileSource) Name() string { return "file" }

func (f *FileSource) Priority() ConfigSource { return SourceFile }

func (f *FileSource) Paths() []string { return f.paths }

func (f *FileSource) Load(ctx context.Context) (map[string]interface{}, error) {
	result := make(map[string]interface{})

	for _, path := range f.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
		format, err := FormatFor(path)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", path, err)
		}
		cfg, err := format.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal file %s: %w", path, err)
		}
		result = mergeMaps(result, cfg)
	}

	f.mu.Lock()
	f.lastLoad = time.Now()
	f.mu.Unlock()
	return result, nil
}

func (f *FileSource) LastLoad() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastLoad
}

// EnvironmentSource maps PREFIX_POOLS__REDIS__MAX_CONNECTIONS to
// pools.redis.max_connections. Double underscores separate levels so single
// underscores survive inside key names.
type EnvironmentSource struct {
	prefix  string
	exclude map[string]bool
	environ func() []string
}

func NewEnvironmentSource(prefix string) *EnvironmentSource {
	return &EnvironmentSource{prefix: prefix, exclude: map[string]bool{}, environ: os.Environ}
}

// Exclude drops the named variables, typically credentials read elsewhere.
func (e *EnvironmentSource) Exclude(names ...string) *EnvironmentSource {
	for _, n := range names {
		e.exclude[n] = true
	}
	return e
}

func (e *EnvironmentSource) Name() string { return "environment" }

func (e *EnvironmentSource) Priority() ConfigSource { return SourceEnvironment }

func (e *EnvironmentSource) Load(ctx context.Context) (map[string]interface{}, error) {
	result := make(map[string]interface{})
	for _, env := range e.environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if e.exclude[key] || (e.prefix != "" && !strings.HasPrefix(key, e.prefix)) {
			continue
		}
		configKey := strings.ToLower(strings.TrimPrefix(key, e.prefix))
		configKey = strings.ReplaceAll(configKey, "__", ".")
		configKey = strings.Trim(configKey, "._")
		if configKey == "" {
			continue
		}
		setNestedValue(result, configKey, parseEnvValue(value))
	}
	return result, nil
}

// FlagSource exposes flags that were set explicitly on the command line.
// Flag names are used as dotted keys, so -pools.redis.max_connections=4 works.
type FlagSource struct {
	fs *flag.FlagSet
}

func NewFlagSource(fs *flag.FlagSet) *FlagSource {
	return &FlagSource{fs: fs}
}

func (f *FlagSource) Name() string { return "flag" }

func (f *FlagSource) Priority() ConfigSource { return SourceFlag }

func (f *FlagSource) Load(ctx context.Context) (map[string]interface{}, error) {
	result := make(map[string]interface{})
	f.fs.Visit(func(fl *flag.Flag) {
		var v interface{} = fl.Value.String()
		if g, ok := fl.Value.(flag.Getter); ok {
			v = g.Get()
		}
		setNestedValue(result, fl.Name, v)
	})
	return result, nil
}

// MapSource serves a fixed map at a chosen layer. Useful for embedding
// defaults shipped with a binary and in tests.
type MapSource struct {
	name     string
	priority ConfigSource
	values   map[string]interface{}
}

func NewMapSource(name string, priority ConfigSource, values map[string]interface{}) *MapSource {
	return &MapSource{name: name, priority: priority, values: values}
}

func (s *MapSource) Name() string { return s.name }

func (s *MapSource) Priority() ConfigSource { return s.priority }

func (s *MapSource) Load(ctx context.Context) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		if strings.Contains(k, ".") {
			setNestedValue(out, k, v)
			continue
		}
		out = mergeMaps(out, map[string]interface{}{k: v})
	}
	return out, nil
}
