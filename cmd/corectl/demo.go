package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"hivecore/pkg/auth/rbac"
	"hivecore/pkg/config"
	"hivecore/pkg/ipc"
	"hivecore/pkg/logging"
	"hivecore/pkg/plugin"
	"hivecore/pkg/pool"
	"hivecore/pkg/process"
)

const workerName = "worker"

// tally is the pooled resource behind the demo counter service.
type tally struct {
	total *atomic.Int64
}

func (t *tally) Add(n int64) int64 { return t.total.Add(n) }

func (t *tally) Close() error { return nil }

// poolPlugin owns the tally pool of the worker process.
type poolPlugin struct {
	plugin.BasePlugin
	pool *pool.Pool[*tally]
}

func (p *poolPlugin) Init(ctx *plugin.Context) error {
	cfg, err := pool.LoadConfig(ctx.Config, "demo")
	if err != nil {
		return err
	}
	var total atomic.Int64
	p.pool, err = pool.New[*tally](cfg, func(context.Context, pool.Config) (*tally, error) {
		return &tally{total: &total}, nil
	}, func(o *pool.Options) { o.Logger = ctx.Logger })
	if err != nil {
		return err
	}
	pool.Watch(ctx.Config, p.pool, ctx.Logger)
	return nil
}

// counterPlugin serves the Counter class once the pool is up.
type counterPlugin struct {
	plugin.BasePlugin
	bridge *ipc.Bridge
	pools  *poolPlugin
}

func (c *counterPlugin) BeforeProcessStart(ctx *plugin.Context) error {
	p := c.pools.pool
	err := c.bridge.Handler().Register("Counter", ipc.Methods{
		"incr": ipc.Unary(func(ctx context.Context, n int64) (int64, error) {
			var total int64
			err := p.Do(ctx, func(ctx context.Context, t *tally) error {
				total = t.Add(n)
				return nil
			})
			return total, err
		}),
		"total": ipc.Nullary(func(ctx context.Context) (int64, error) {
			var total int64
			err := p.Do(ctx, func(ctx context.Context, t *tally) error {
				total = t.Add(0)
				return nil
			})
			return total, err
		}),
	})
	if err != nil {
		return err
	}
	c.Ready()
	return nil
}

// runDemo starts a worker and a caller process on an in-memory network and
// exchanges IPC calls between them.
func runDemo(ctx context.Context, cfg *config.ConfigManager, rc *config.RuntimeConfig, logger logging.Logger) error {
	network := ipc.NewMemoryNetwork(logger)

	authorizer, err := rbac.FromConfig(cfg)
	if err != nil {
		return err
	}
	bridgeOpts := func(o *ipc.Options) {
		o.Timeout = rc.IPC.Timeout
		if len(cfg.Keys("ipc.auth.roles")) > 0 {
			o.Authorizer = authorizer
		}
	}

	workerPC := process.New(workerName, logger)
	workerEnd, err := network.Endpoint(workerName)
	if err != nil {
		return err
	}
	worker := ipc.NewBridge(workerPC, workerEnd, bridgeOpts)
	defer worker.Close()
	if err := worker.Handler().Use(ipc.Logging(logger)); err != nil {
		return err
	}

	callerName := rc.Process.Name
	if callerName == workerName {
		callerName = "main"
	}
	callerPC := process.New(callerName, logger)
	callerEnd, err := network.Endpoint(callerName)
	if err != nil {
		return err
	}
	caller := ipc.NewBridge(callerPC, callerEnd, bridgeOpts)
	defer caller.Close()

	pools := &poolPlugin{BasePlugin: plugin.BasePlugin{PluginName: "pools"}}
	counter := &counterPlugin{
		BasePlugin: plugin.BasePlugin{PluginName: "counter", AfterNames: []string{"pools"}},
		bridge:     worker,
		pools:      pools,
	}
	manager := plugin.NewManager(workerPC, func(o *plugin.Options) {
		o.Config = cfg
		o.ReadyTimeout = rc.Plugins.ReadyTimeout
	})
	for _, p := range []plugin.Plugin{counter, pools} {
		if err := manager.Add(p); err != nil {
			return err
		}
	}
	if err := manager.Init(ctx); err != nil {
		return err
	}
	defer func() {
		if pools.pool != nil {
			pools.pool.Close()
		}
	}()
	if err := manager.BeforeServerStart(ctx); err != nil {
		return err
	}
	if failures := manager.BeforeProcessStart(ctx); len(failures) > 0 {
		return failures[0]
	}
	if err := manager.WaitReady(ctx); err != nil {
		return err
	}

	proxy := caller.Proxy(workerName, "Counter")
	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= 4; i++ {
		n := int64(i)
		g.Go(func() error {
			_, err := ipc.CallAs[int64](gctx, proxy, "incr", n)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	err = proxy.StartTransaction(ctx, func(tx *ipc.Proxy) error {
		total, err := ipc.CallAs[int64](ctx, tx, "total")
		if err != nil {
			return err
		}
		_, err = ipc.CallAs[int64](ctx, tx, "incr", total)
		return err
	})
	if err != nil {
		return err
	}

	total, err := ipc.CallAs[int64](ctx, proxy, "total")
	if err != nil {
		return err
	}
	stats := pools.pool.Stats()
	fmt.Printf("counter total: %d\n", total)
	fmt.Printf("pool %s: current=%d idle=%d in_use=%d\n", stats.Name, stats.Current, stats.Idle, stats.InUse)
	return nil
}
