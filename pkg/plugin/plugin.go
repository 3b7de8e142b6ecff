// Package plugin orders plugins by their before/after constraints and drives
// them through init, server start and process start, with a readiness
// barrier per plugin and one for the whole set.
package plugin

import (
	"context"
	"sync"

	"hivecore/pkg/config"
	"hivecore/pkg/logging"
	"hivecore/pkg/process"
	"hivecore/pkg/rendezvous"
)

type State int

const (
	StateConstructed State = iota
	StateAdded
	StateInitialized
	StateServerStarted
	StateProcessStarting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateAdded:
		return "added"
	case StateInitialized:
		return "initialized"
	case StateServerStarted:
		return "server-started"
	case StateProcessStarting:
		return "process-starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Plugin is one unit of the runtime. BeforeProcessStart must end with the
// plugin firing its ReadySignal, normally through BasePlugin.Ready.
type Plugin interface {
	Name() string
	OnAdded(m *Manager)
	Init(ctx *Context) error
	BeforeServerStart(ctx *Context) error
	BeforeProcessStart(ctx *Context) error
	ReadySignal() *rendezvous.Signal
}

// Constraints lets a plugin declare its own ordering. Names of plugins that
// are never added are ignored.
type Constraints interface {
	Before() []string
	After() []string
}

// Context is handed to every plugin hook.
type Context struct {
	context.Context
	Process *process.Context
	Config  *config.ConfigManager
	Logger  logging.Logger
	Events  *Events
	Manager *Manager
}

// BasePlugin supplies no-op hooks and the readiness token. Embed it and
// override what the plugin needs.
type BasePlugin struct {
	PluginName  string
	BeforeNames []string
	AfterNames  []string

	once   sync.Once
	signal *rendezvous.Signal
}

func (b *BasePlugin) Name() string { return b.PluginName }

func (b *BasePlugin) Before() []string { return b.BeforeNames }

func (b *BasePlugin) After() []string { return b.AfterNames }

func (b *BasePlugin) ReadySignal() *rendezvous.Signal {
	b.once.Do(func() { b.signal = rendezvous.NewSignal() })
	return b.signal
}

// Ready fires the readiness token.
func (b *BasePlugin) Ready() { b.ReadySignal().Fire() }

func (b *BasePlugin) OnAdded(*Manager) {}

func (b *BasePlugin) Init(*Context) error { return nil }

func (b *BasePlugin) BeforeServerStart(*Context) error { return nil }

// BeforeProcessStart only signals readiness. Plugins overriding it must call
// Ready themselves.
func (b *BasePlugin) BeforeProcessStart(*Context) error {
	b.Ready()
	return nil
}
