package plugin

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"hivecore/pkg/ordering"
)

type FactoryFunc func() Plugin

// Factories maps factory names to constructors. Build one per process and
// register every plugin the binary ships with.
type Factories struct {
	mu        sync.RWMutex
	factories map[string]FactoryFunc
}

func NewFactories() *Factories {
	return &Factories{factories: make(map[string]FactoryFunc)}
}

func (f *Factories) Register(name string, fn FactoryFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.factories[name]; ok {
		return fmt.Errorf("factory %s already registered", name)
	}
	f.factories[name] = fn
	return nil
}

func (f *Factories) Build(name string) (Plugin, error) {
	f.mu.RLock()
	fn, ok := f.factories[name]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFactoryNotFound, name)
	}
	return fn(), nil
}

func (f *Factories) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.factories))
	for n := range f.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ManifestEntry names a plugin, the factory that builds it and extra
// ordering constraints. Name defaults to Factory.
type ManifestEntry struct {
	Name    string   `yaml:"name" json:"name"`
	Factory string   `yaml:"factory" json:"factory"`
	Before  []string `yaml:"before,omitempty" json:"before,omitempty"`
	After   []string `yaml:"after,omitempty" json:"after,omitempty"`
}

func (e ManifestEntry) PluginName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Factory
}

type Manifest struct {
	Plugins []ManifestEntry `yaml:"plugins" json:"plugins"`
}

// ParseManifest reads YAML. JSON manifests parse too.
func ParseManifest(data []byte) (*Manifest, error) {
	var man Manifest
	if err := yaml.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("parse plugin manifest: %w", err)
	}
	for i, e := range man.Plugins {
		if e.Factory == "" {
			return nil, fmt.Errorf("plugin manifest entry %d: factory is required", i)
		}
	}
	return &man, nil
}

func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin manifest: %w", err)
	}
	return ParseManifest(data)
}

// Order returns the entries in the order a Manager would start them,
// ignoring constraints the plugins declare in code.
func (man *Manifest) Order() ([]ManifestEntry, error) {
	g := ordering.New[string, ManifestEntry]()
	for _, e := range man.Plugins {
		if err := g.Add(e.PluginName(), e); err != nil {
			return nil, err
		}
	}
	for _, e := range man.Plugins {
		for _, other := range e.Before {
			g.Before(e.PluginName(), other)
		}
		for _, other := range e.After {
			g.After(e.PluginName(), other)
		}
	}
	return g.Order()
}

// Apply builds every entry and adds it to m with its constraints.
func (f *Factories) Apply(m *Manager, man *Manifest) error {
	for _, e := range man.Plugins {
		p, err := f.Build(e.Factory)
		if err != nil {
			return err
		}
		if p.Name() != e.PluginName() {
			return fmt.Errorf("plugin manifest: factory %s builds %q, manifest names it %q", e.Factory, p.Name(), e.PluginName())
		}
		if err := m.Add(p); err != nil {
			return err
		}
		for _, other := range e.Before {
			m.Before(e.PluginName(), other)
		}
		for _, other := range e.After {
			m.After(e.PluginName(), other)
		}
	}
	return nil
}

// LoadManifest reads path and applies it to m.
func (f *Factories) LoadManifest(m *Manager, path string) error {
	man, err := ReadManifest(path)
	if err != nil {
		return err
	}
	return f.Apply(m, man)
}
