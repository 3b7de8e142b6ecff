package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivecore/pkg/ordering"
)

const manifestYAML = `
plugins:
  - factory: logger
  - name: cache
    factory: redis
    after: [config]
  - factory: config
    before: [logger]
`

func testFactories(j *journal) *Factories {
	f := NewFactories()
	for _, name := range []string{"logger", "config"} {
		name := name
		_ = f.Register(name, func() Plugin { return newTestPlugin(name, j) })
	}
	_ = f.Register("redis", func() Plugin { return newTestPlugin("cache", j) })
	return f
}

func TestManifestOrder(t *testing.T) {
	man, err := ParseManifest([]byte(manifestYAML))
	require.NoError(t, err)

	entries, err := man.Order()
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.PluginName())
	}
	assert.Equal(t, []string{"config", "logger", "cache"}, names)
}

func TestManifestRejectsMissingFactoryAndCycles(t *testing.T) {
	_, err := ParseManifest([]byte("plugins:\n  - name: x\n"))
	assert.ErrorContains(t, err, "factory is required")

	man, err := ParseManifest([]byte("plugins:\n  - factory: a\n    before: [b]\n  - factory: b\n    before: [a]\n"))
	require.NoError(t, err)
	_, err = man.Order()
	var ce *ordering.CycleError
	assert.ErrorAs(t, err, &ce)
}

func TestLoadManifestAddsPlugins(t *testing.T) {
	j := &journal{}
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestYAML), 0o644))

	m := newManager()
	require.NoError(t, testFactories(j).LoadManifest(m, path))
	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, []string{"init:config", "init:logger", "init:cache"}, j.all())
}

func TestApplyErrors(t *testing.T) {
	j := &journal{}
	f := testFactories(j)

	err := f.Apply(newManager(), &Manifest{Plugins: []ManifestEntry{{Factory: "nope"}}})
	assert.ErrorIs(t, err, ErrFactoryNotFound)

	err = f.Apply(newManager(), &Manifest{Plugins: []ManifestEntry{{Name: "other", Factory: "logger"}}})
	assert.ErrorContains(t, err, "manifest names it")

	assert.Error(t, f.Register("logger", nil))
	assert.Equal(t, []string{"config", "logger", "redis"}, f.Names())
}
