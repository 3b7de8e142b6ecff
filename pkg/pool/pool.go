// Package pool is a bounded, generic resource pool with blocking
// acquisition, staleness checks and frequency driven shrinking.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"hivecore/pkg/logging"
)

type Options struct {
	Logger    logging.Logger
	Frequency FrequencyFactory
	// Now is the clock used for staleness and frequency accounting.
	Now func() time.Time
}

type Pool[C Resource] struct {
	factory Factory[C]
	opts    Options
	logger  logging.Logger

	mu      sync.Mutex
	cfg     Config
	idle    chan *Conn[C]
	changed chan struct{}
	current int
	freq    Frequency
	closed  bool
}

type Stats struct {
	Name    string `json:"name" yaml:"name"`
	Current int    `json:"current" yaml:"current"`
	Idle    int    `json:"idle" yaml:"idle"`
	InUse   int    `json:"in_use" yaml:"in_use"`
	Min     int    `json:"min" yaml:"min"`
	Max     int    `json:"max" yaml:"max"`
}

func New[C Resource](cfg Config, factory Factory[C], optFns ...func(o *Options)) (*Pool[C], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := Options{
		Logger:    logging.NoOp{},
		Frequency: DefaultFrequencyFactory,
		Now:       time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	p := &Pool[C]{
		factory: factory,
		opts:    opts,
		logger:  opts.Logger,
		cfg:     cfg,
		idle:    make(chan *Conn[C], cfg.MaxConnections),
		changed: make(chan struct{}),
	}
	p.startFrequency()
	return p, nil
}

func (p *Pool[C]) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Name
}

func (p *Pool[C]) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Get returns an idle connection, creates one while below MaxConnections, or
// waits up to WaitTimeout for a release.
func (p *Pool[C]) Get(ctx context.Context) (*Conn[C], error) {
	start := time.Now()
	p.mu.Lock()
	deadline := start.Add(p.cfg.WaitTimeout)
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		cfg := p.cfg
		if len(p.idle) == 0 && p.current < cfg.MaxConnections {
			p.current++
			p.mu.Unlock()
			conn, err := p.create(ctx, cfg)
			if err != nil {
				p.mu.Lock()
				p.current--
				p.mu.Unlock()
				return nil, err
			}
			return p.checkout(conn), nil
		}
		idle, changed := p.idle, p.changed
		p.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &ExhaustedError{Pool: cfg.Name, Max: cfg.MaxConnections, Waited: time.Since(start)}
		}
		timer := time.NewTimer(remaining)
		select {
		case conn := <-idle:
			timer.Stop()
			if !p.Check(conn) {
				p.logger.Debug("closing stale connection", "pool", cfg.Name, "last_use", conn.lastUse)
				p.destroy(conn)
				continue
			}
			return p.checkout(conn), nil
		case <-changed:
			timer.Stop()
		case <-timer.C:
			return nil, &ExhaustedError{Pool: cfg.Name, Max: cfg.MaxConnections, Waited: time.Since(start)}
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Acquire is Get with a single retry after a logged warning.
func (p *Pool[C]) Acquire(ctx context.Context) (*Conn[C], error) {
	conn, err := p.Get(ctx)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() != nil || errors.Is(err, ErrPoolClosed) {
		return nil, err
	}
	p.logger.Warn("get connection failed, retrying once", "pool", p.Name(), "error", err)
	return p.Get(ctx)
}

// Do runs fn on an acquired resource. Returning an error wrapping ErrDiscard
// closes the connection instead of releasing it.
func (p *Pool[C]) Do(ctx context.Context, fn func(ctx context.Context, res C) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx, conn.Resource)
	if errors.Is(err, ErrDiscard) {
		p.Discard(conn)
		return err
	}
	p.Release(conn)
	return err
}

func (p *Pool[C]) create(ctx context.Context, cfg Config) (*Conn[C], error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	res, err := p.factory(cctx, cfg)
	if err != nil {
		p.logger.Warn("create connection failed", "pool", cfg.Name, "error", err)
		return nil, &ConnectionError{Pool: cfg.Name, Err: err}
	}
	return &Conn[C]{Resource: res, pool: p}, nil
}

func (p *Pool[C]) checkout(conn *Conn[C]) *Conn[C] {
	conn.lastUse = p.opts.Now()
	p.mu.Lock()
	freq := p.freq
	p.mu.Unlock()
	freq.Hit()
	if freq.IsLowFrequency() {
		if n := p.Flush(); n > 0 {
			p.logger.Debug("low frequency, flushed idle connections", "pool", p.Name(), "closed", n)
		}
	}
	return conn
}

// Release returns conn to the idle queue. Connections beyond the current
// MaxConnections, which only exist after a shrinking Reconfigure, are closed.
func (p *Pool[C]) Release(conn *Conn[C]) {
	conn.lastRelease = p.opts.Now()
	p.mu.Lock()
	if p.closed || p.current > p.cfg.MaxConnections {
		p.current--
		p.mu.Unlock()
		p.closeResource(conn)
		return
	}
	select {
	case p.idle <- conn:
		p.mu.Unlock()
	default:
		p.current--
		name := p.cfg.Name
		p.mu.Unlock()
		p.logger.Warn("idle queue full, closing released connection", "pool", name)
		p.closeResource(conn)
	}
}

func (p *Pool[C]) Discard(conn *Conn[C]) {
	p.destroy(conn)
}

// Check reports whether conn may be reused. A usable connection gets its
// release time refreshed.
func (p *Pool[C]) Check(conn *Conn[C]) bool {
	now := p.opts.Now()
	p.mu.Lock()
	maxIdle := p.cfg.MaxIdleTime
	p.mu.Unlock()
	if maxIdle > 0 && now.After(conn.lastUse.Add(maxIdle)) {
		return false
	}
	conn.lastRelease = now
	return true
}

// Flush closes idle connections while the pool is above MinConnections. It
// handles at most as many connections as were idle on entry.
func (p *Pool[C]) Flush() int {
	p.mu.Lock()
	n := len(p.idle)
	p.mu.Unlock()

	closed := 0
	for i := 0; i < n; i++ {
		p.mu.Lock()
		if p.current <= p.cfg.MinConnections {
			p.mu.Unlock()
			break
		}
		var conn *Conn[C]
		select {
		case conn = <-p.idle:
		default:
		}
		if conn == nil {
			p.mu.Unlock()
			break
		}
		p.current--
		p.mu.Unlock()
		p.closeResource(conn)
		closed++
	}
	return closed
}

// FlushOne inspects one idle connection. It is closed when must is set or
// it is stale; otherwise a Pinger is pinged and the connection goes back.
func (p *Pool[C]) FlushOne(must bool) {
	p.mu.Lock()
	var conn *Conn[C]
	select {
	case conn = <-p.idle:
	default:
	}
	cfg := p.cfg
	p.mu.Unlock()
	if conn == nil {
		return
	}

	if must || !p.Check(conn) {
		p.destroy(conn)
		return
	}
	if pinger, ok := any(conn.Resource).(Pinger); ok {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		err := pinger.Ping(ctx)
		cancel()
		if err != nil {
			p.logger.Warn("heartbeat failed, closing connection", "pool", cfg.Name, "error", err)
			p.destroy(conn)
			return
		}
	}
	p.putBack(conn)
}

func (p *Pool[C]) putBack(conn *Conn[C]) {
	p.mu.Lock()
	if p.closed {
		p.current--
		p.mu.Unlock()
		p.closeResource(conn)
		return
	}
	select {
	case p.idle <- conn:
		p.mu.Unlock()
	default:
		p.current--
		p.mu.Unlock()
		p.closeResource(conn)
	}
}

func (p *Pool[C]) destroy(conn *Conn[C]) {
	p.mu.Lock()
	p.current--
	p.mu.Unlock()
	p.closeResource(conn)
}

func (p *Pool[C]) closeResource(conn *Conn[C]) {
	if err := conn.Resource.Close(); err != nil {
		p.logger.Warn("close connection failed", "pool", p.Name(), "error", err)
	}
}

func (p *Pool[C]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := len(p.idle)
	return Stats{
		Name:    p.cfg.Name,
		Current: p.current,
		Idle:    idle,
		InUse:   p.current - idle,
		Min:     p.cfg.MinConnections,
		Max:     p.cfg.MaxConnections,
	}
}

// Reconfigure swaps in cfg and starts a fresh frequency strategy. Idle
// connections that no longer fit are closed; waiters re-check the new limits.
func (p *Pool[C]) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	old := p.freq
	p.cfg = cfg
	next := make(chan *Conn[C], cfg.MaxConnections)
	var overflow []*Conn[C]
	for drained := false; !drained; {
		select {
		case conn := <-p.idle:
			select {
			case next <- conn:
			default:
				overflow = append(overflow, conn)
				p.current--
			}
		default:
			drained = true
		}
	}
	p.idle = next
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()

	if r, ok := old.(Runner); ok {
		r.Stop()
	}
	p.startFrequency()
	for _, conn := range overflow {
		p.closeResource(conn)
	}
	p.logger.Info("pool reconfigured", "pool", cfg.Name, "min", cfg.MinConnections, "max", cfg.MaxConnections)
	return nil
}

func (p *Pool[C]) startFrequency() {
	p.mu.Lock()
	freq := p.opts.Frequency(p.cfg, p.opts.Now)
	p.freq = freq
	p.mu.Unlock()
	if r, ok := freq.(Runner); ok {
		r.Start(p)
	}
}

// Close stops the strategy and closes idle connections. Checked out
// connections are closed when released.
func (p *Pool[C]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	freq := p.freq
	var idle []*Conn[C]
	for drained := false; !drained; {
		select {
		case conn := <-p.idle:
			idle = append(idle, conn)
			p.current--
		default:
			drained = true
		}
	}
	close(p.changed)
	p.mu.Unlock()

	if r, ok := freq.(Runner); ok {
		r.Stop()
	}
	var errs []error
	for _, conn := range idle {
		if err := conn.Resource.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
