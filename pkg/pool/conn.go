package pool

import (
	"context"
	"time"
)

// Resource is anything a pool can hand out.
type Resource interface {
	Close() error
}

// Pinger resources are health-checked on heartbeat ticks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Factory creates one resource. ctx carries the ConnectTimeout deadline.
type Factory[C Resource] func(ctx context.Context, cfg Config) (C, error)

// Conn wraps a pooled resource with its usage timestamps. It belongs to the
// caller between Get and Release; do not touch it after releasing.
type Conn[C Resource] struct {
	Resource C

	pool        *Pool[C]
	lastUse     time.Time
	lastRelease time.Time
}

func (c *Conn[C]) Release() { c.pool.Release(c) }

// Discard closes the connection instead of returning it.
func (c *Conn[C]) Discard() { c.pool.Discard(c) }

func (c *Conn[C]) LastUseTime() time.Time { return c.lastUse }

func (c *Conn[C]) LastReleaseTime() time.Time { return c.lastRelease }
