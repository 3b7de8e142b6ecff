package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"hivecore/pkg/auth"
	"hivecore/pkg/logging"
)

const DefaultInboxSize = 256

// MemoryNetwork connects endpoints living in one OS process. Messages are
// JSON encoded on send so nothing is shared between endpoints.
type MemoryNetwork struct {
	mu        sync.RWMutex
	endpoints map[string]*MemoryEndpoint
	logger    logging.Logger
}

func NewMemoryNetwork(logger logging.Logger) *MemoryNetwork {
	return &MemoryNetwork{
		endpoints: make(map[string]*MemoryEndpoint),
		logger:    logging.OrNoOp(logger),
	}
}

type MemoryEndpointOptions struct {
	// Identity is presented to receivers. It defaults to the endpoint name.
	Identity  auth.Identity
	InboxSize int
}

type envelope struct {
	from    auth.Identity
	payload []byte
}

// MemoryEndpoint is one process attached to a MemoryNetwork. It has one FIFO
// inbox drained by a single goroutine.
type MemoryEndpoint struct {
	network  *MemoryNetwork
	name     string
	identity auth.Identity
	inbox    chan envelope
	done     chan struct{}

	mu      sync.Mutex
	handler MessageHandler
	started bool
	once    sync.Once
	wg      sync.WaitGroup
}

var _ Transport = (*MemoryEndpoint)(nil)

func (n *MemoryNetwork) Endpoint(name string, optFns ...func(o *MemoryEndpointOptions)) (*MemoryEndpoint, error) {
	o := MemoryEndpointOptions{
		Identity:  auth.Identity{Process: name},
		InboxSize: DefaultInboxSize,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.InboxSize <= 0 {
		o.InboxSize = DefaultInboxSize
	}
	if o.Identity.Process == "" {
		o.Identity.Process = name
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[name]; ok {
		return nil, fmt.Errorf("ipc: endpoint %s already attached", name)
	}
	e := &MemoryEndpoint{
		network:  n,
		name:     name,
		identity: o.Identity,
		inbox:    make(chan envelope, o.InboxSize),
		done:     make(chan struct{}),
	}
	n.endpoints[name] = e
	return e, nil
}

func (n *MemoryNetwork) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.endpoints))
	for name := range n.endpoints {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (n *MemoryNetwork) lookup(name string) (*MemoryEndpoint, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.endpoints[name]
	return e, ok
}

func (n *MemoryNetwork) detach(e *MemoryEndpoint) {
	n.mu.Lock()
	if n.endpoints[e.name] == e {
		delete(n.endpoints, e.name)
	}
	n.mu.Unlock()
}

func (e *MemoryEndpoint) Name() string { return e.name }

// SetHandler installs h and starts draining the inbox. Messages that arrived
// earlier are kept until then.
func (e *MemoryEndpoint) SetHandler(h MessageHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
	if e.started {
		return
	}
	e.started = true
	e.wg.Add(1)
	go e.pump()
}

func (e *MemoryEndpoint) Send(ctx context.Context, to string, msg *Message) error {
	target, ok := e.network.lookup(to)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ipc: encode message: %w", err)
	}
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	select {
	case target.inbox <- envelope{from: e.identity, payload: payload}:
		return nil
	case <-target.done:
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *MemoryEndpoint) pump() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case env := <-e.inbox:
			var msg Message
			if err := json.Unmarshal(env.payload, &msg); err != nil {
				e.network.logger.Error("dropping undecodable message", "endpoint", e.name, "error", err)
				continue
			}
			msg.From = env.from.Process
			if msg.Call != nil {
				msg.Call.From = env.from.Process
			}
			e.mu.Lock()
			h := e.handler
			e.mu.Unlock()
			if h != nil {
				h(auth.WithIdentity(context.Background(), env.from), &msg)
			}
		}
	}
}

// Close detaches the endpoint. Messages still in the inbox are discarded.
func (e *MemoryEndpoint) Close() error {
	e.once.Do(func() {
		e.network.detach(e)
		close(e.done)
	})
	e.wg.Wait()
	return nil
}
