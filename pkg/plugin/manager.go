package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hivecore/pkg/config"
	"hivecore/pkg/logging"
	"hivecore/pkg/ordering"
	"hivecore/pkg/process"
	"hivecore/pkg/rendezvous"
)

const DefaultReadyTimeout = 5 * time.Second

type Options struct {
	Config       *config.ConfigManager
	Logger       logging.Logger
	Events       *Events
	ReadyTimeout time.Duration
}

// Manager owns the plugins of one process.
type Manager struct {
	process      *process.Context
	config       *config.ConfigManager
	logger       logging.Logger
	events       *Events
	readyTimeout time.Duration
	signal       *rendezvous.Signal

	mu            sync.Mutex
	graph         *ordering.Graph[string, Plugin]
	states        map[string]State
	serverStarted bool
}

func NewManager(pc *process.Context, optFns ...func(o *Options)) *Manager {
	opts := Options{ReadyTimeout: DefaultReadyTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := logging.OrNoOp(opts.Logger)
	if opts.Logger == nil && pc != nil {
		logger = pc.Log()
	}
	events := opts.Events
	if events == nil {
		events = NewEvents(logger)
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	return &Manager{
		process:      pc,
		config:       opts.Config,
		logger:       logger,
		events:       events,
		readyTimeout: opts.ReadyTimeout,
		signal:       rendezvous.NewSignal(),
		graph:        ordering.New[string, Plugin](),
		states:       make(map[string]State),
	}
}

func (m *Manager) Events() *Events { return m.events }

// Add registers p and applies the constraints it declares. OnAdded runs
// after registration, so it may add further plugins or constraints.
func (m *Manager) Add(p Plugin) error {
	name := p.Name()
	m.mu.Lock()
	if err := m.graph.Add(name, p); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginAlreadyAdded, name)
	}
	m.states[name] = StateAdded
	if c, ok := p.(Constraints); ok {
		for _, other := range c.Before() {
			m.graph.Before(name, other)
		}
		for _, other := range c.After() {
			m.graph.After(name, other)
		}
	}
	m.mu.Unlock()

	m.logger.Debug("plugin added", "plugin", name)
	p.OnAdded(m)
	return nil
}

// Before orders name ahead of other.
func (m *Manager) Before(name, other string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graph.Before(name, other)
}

// After orders name behind other.
func (m *Manager) After(name, other string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graph.After(name, other)
}

func (m *Manager) Get(name string) (Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.graph.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	return p, nil
}

func (m *Manager) State(name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[name]
}

// Ordered returns the plugins in lifecycle order.
func (m *Manager) Ordered() ([]Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ordered, err := m.graph.Order()
	if err != nil {
		return nil, fmt.Errorf("order plugins: %w", err)
	}
	return ordered, nil
}

func (m *Manager) setState(name string, s State) {
	m.mu.Lock()
	m.states[name] = s
	m.mu.Unlock()
}

func (m *Manager) pluginContext(ctx context.Context) *Context {
	return &Context{
		Context: ctx,
		Process: m.process,
		Config:  m.config,
		Logger:  m.logger,
		Events:  m.events,
		Manager: m,
	}
}

// Init initializes every plugin in order. Plugins added while Init runs are
// picked up by a further pass. The first error aborts.
func (m *Manager) Init(ctx context.Context) error {
	pctx := m.pluginContext(ctx)
	for {
		ordered, err := m.Ordered()
		if err != nil {
			return err
		}
		var pending []Plugin
		for _, p := range ordered {
			if m.State(p.Name()) == StateAdded {
				pending = append(pending, p)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		for _, p := range pending {
			name := p.Name()
			if err := guard(name, func() error { return p.Init(pctx) }); err != nil {
				m.setState(name, StateFailed)
				m.logger.Error("plugin init failed", "plugin", name, "error", err)
				return fmt.Errorf("init plugin %s: %w", name, err)
			}
			m.setState(name, StateInitialized)
			m.logger.Debug("plugin initialized", "plugin", name)
		}
	}
}

// BeforeServerStart runs once per manager. A failing plugin aborts the
// server start.
func (m *Manager) BeforeServerStart(ctx context.Context) error {
	m.mu.Lock()
	if m.serverStarted {
		m.mu.Unlock()
		return ErrAlreadyRan
	}
	m.serverStarted = true
	m.mu.Unlock()

	ordered, err := m.Ordered()
	if err != nil {
		return err
	}
	if err := m.events.Dispatch(ctx, &Event{Type: EventBeforeServerStart}); err != nil {
		return err
	}
	pctx := m.pluginContext(ctx)
	for _, p := range ordered {
		name := p.Name()
		if err := guard(name, func() error { return p.BeforeServerStart(pctx) }); err != nil {
			m.setState(name, StateFailed)
			m.logger.Error("plugin server start failed", "plugin", name, "error", err)
			return fmt.Errorf("server start plugin %s: %w", name, err)
		}
		m.setState(name, StateServerStarted)
	}
	return m.events.Dispatch(ctx, &Event{Type: EventAfterServerStart})
}

// BeforeProcessStart starts every plugin in the current process. A plugin
// that errors, panics or does not signal readiness within the ready timeout
// is recorded as failed and the rest continue. When all plugins are handled
// the manager's own readiness signal fires.
func (m *Manager) BeforeProcessStart(ctx context.Context) []*StartFailure {
	ordered, err := m.Ordered()
	if err != nil {
		m.logger.Error("cannot order plugins for process start", "error", err)
		failures := []*StartFailure{{Plugin: "*", Err: err}}
		m.afterProcessStart(ctx, failures)
		return failures
	}

	pctx := m.pluginContext(ctx)
	var failures []*StartFailure
	fail := func(name string, err error) {
		m.setState(name, StateFailed)
		m.logger.Error("plugin failed to start", "plugin", name, "error", err)
		failures = append(failures, &StartFailure{Plugin: name, Err: err})
		_ = m.events.Dispatch(ctx, &Event{Type: EventPluginStartFail, Plugin: name, Err: err})
	}

	for _, p := range ordered {
		name := p.Name()
		m.setState(name, StateProcessStarting)
		if err := guard(name, func() error { return p.BeforeProcessStart(pctx) }); err != nil {
			fail(name, err)
			continue
		}
		sig := p.ReadySignal()
		if sig == nil {
			fail(name, ErrNotReady)
			continue
		}
		if err := sig.Wait(ctx, m.readyTimeout); err != nil {
			sig.Close()
			if errors.Is(err, rendezvous.ErrTimeout) {
				err = fmt.Errorf("%w within %s", ErrNotReady, m.readyTimeout)
			}
			fail(name, err)
			continue
		}
		m.setState(name, StateReady)
		m.logger.Info("plugin ready", "plugin", name)
		_ = m.events.Dispatch(ctx, &Event{Type: EventPluginStartSuccess, Plugin: name})
	}

	m.afterProcessStart(ctx, failures)
	return failures
}

func (m *Manager) afterProcessStart(ctx context.Context, failures []*StartFailure) {
	_ = m.events.Dispatch(ctx, &Event{Type: EventAfterProcessStart, Data: map[string]interface{}{"failed": len(failures)}})
	m.signal.Fire()
}

// WaitReady blocks until BeforeProcessStart has finished. The signal is
// consumed: a second call fails with rendezvous.ErrClosed.
func (m *Manager) WaitReady(ctx context.Context) error {
	if err := m.signal.Wait(ctx, 0); err != nil {
		return err
	}
	m.signal.Close()
	_ = m.events.Dispatch(ctx, &Event{Type: EventAllReady})
	return nil
}
