package main

import (
	"context"
	"errors"
	"net"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"hivecore/pkg/auth"
	"hivecore/pkg/auth/jwt"
	"hivecore/pkg/auth/rbac"
	"hivecore/pkg/config"
	"hivecore/pkg/ipc"
	"hivecore/pkg/logging"
	"hivecore/pkg/process"
)

const redialInterval = 500 * time.Millisecond

// keys never served over the Runtime class, even to authorized peers.
var privateKeys = []string{"ipc.secret", "ipc.auth.private_key"}

type nodeInfo struct {
	Process string   `json:"process"`
	ID      string   `json:"id"`
	Classes []string `json:"classes"`
	Peers   []string `json:"peers"`
}

// node is one process reachable over stream links.
type node struct {
	pc        *process.Context
	cfg       *config.ConfigManager
	transport *ipc.StreamTransport
	bridge    *ipc.Bridge
	listener  net.Listener
	peers     []string
	logger    logging.Logger
}

// issuerFromConfig returns the identity token issuer for stream links, or
// nil when no key material is configured.
func issuerFromConfig(cfg *config.ConfigManager, logger logging.Logger) (auth.TokenIssuer, error) {
	if !cfg.Has("ipc.secret") && !cfg.Has("ipc.auth.private_key") && !cfg.Has("ipc.auth.public_key") {
		logger.Warn("ipc links are not authenticated", "hint", "set ipc.secret")
		return nil, nil
	}
	p, err := jwt.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func startNode(cfg *config.ConfigManager, rc *config.RuntimeConfig, logger logging.Logger) (*node, error) {
	issuer, err := issuerFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	pc := process.New(rc.Process.Name, logger)
	transport := ipc.NewStreamTransport(pc, func(o *ipc.StreamOptions) {
		o.Logger = logger
		o.Issuer = issuer
	})

	var authorizer auth.Authorizer
	if len(cfg.Keys("ipc.auth.roles")) > 0 {
		a, err := rbac.FromConfig(cfg)
		if err != nil {
			return nil, err
		}
		authorizer = a
	}
	bridge := ipc.NewBridge(pc, transport, func(o *ipc.Options) {
		o.Logger = logger
		o.Timeout = rc.IPC.Timeout
		o.Authorizer = authorizer
	})

	n := &node{pc: pc, cfg: cfg, transport: transport, bridge: bridge, peers: rc.IPC.Peers, logger: logger}
	if err := n.registerRuntime(); err != nil {
		bridge.Close()
		return nil, err
	}
	if err := bridge.Handler().Use(ipc.Logging(logger)); err != nil {
		bridge.Close()
		return nil, err
	}
	if rc.IPC.Listen != "" {
		n.listener, err = net.Listen("tcp", rc.IPC.Listen)
		if err != nil {
			bridge.Close()
			return nil, err
		}
		logger.Info("ipc listening", "addr", n.listener.Addr().String())
	}
	return n, nil
}

func (n *node) registerRuntime() error {
	return n.bridge.Handler().Register("Runtime", ipc.Methods{
		"info": ipc.Nullary(func(ctx context.Context) (nodeInfo, error) {
			peers := n.transport.Peers()
			sort.Strings(peers)
			return nodeInfo{
				Process: n.pc.Name,
				ID:      n.pc.ID,
				Classes: n.bridge.Handler().Classes(),
				Peers:   peers,
			}, nil
		}),
		"config": ipc.Unary(func(ctx context.Context, key string) (interface{}, error) {
			for _, p := range privateKeys {
				if key == p {
					return nil, ipc.NewServiceError("Forbidden", 403, key+" is private")
				}
			}
			v, ok := n.cfg.Redacted()[key]
			if !ok {
				return nil, ipc.NewServiceError("NotFound", 404, config.ErrKeyNotFound.Error()+": "+key)
			}
			return v, nil
		}),
	})
}

// Addr is the listening address, or "" when the node does not listen.
func (n *node) Addr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Run accepts links and keeps a link to every configured peer until ctx is
// done.
func (n *node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if n.listener != nil {
		g.Go(func() error { return n.transport.Serve(gctx, n.listener) })
	}
	for _, addr := range n.peers {
		addr := addr
		g.Go(func() error {
			n.keepLinked(gctx, addr)
			return nil
		})
	}
	return g.Wait()
}

// keepLinked dials addr until a link is up, and again whenever it drops.
func (n *node) keepLinked(ctx context.Context, addr string) {
	var linked string
	for {
		if linked == "" || !n.hasPeer(linked) {
			peer, err := n.transport.Dial(ctx, addr)
			switch {
			case err == nil:
				linked = peer.Process
				n.logger.Info("linked to peer", "addr", addr, "peer", peer.String())
			case errors.Is(err, ipc.ErrHandshake):
				n.logger.Error("peer rejected handshake", "addr", addr, "error", err)
			default:
				n.logger.Debug("peer not reachable", "addr", addr, "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(redialInterval):
		}
	}
}

func (n *node) hasPeer(name string) bool {
	for _, p := range n.transport.Peers() {
		if p == name {
			return true
		}
	}
	return false
}

func (n *node) Close() error {
	if n.listener != nil {
		n.listener.Close()
	}
	return n.bridge.Close()
}

func runServe(ctx context.Context, cfg *config.ConfigManager, rc *config.RuntimeConfig, logger logging.Logger) error {
	if rc.IPC.Listen == "" && len(rc.IPC.Peers) == 0 {
		return errors.New("serve needs ipc.listen or ipc.peers")
	}
	n, err := startNode(cfg, rc, logger)
	if err != nil {
		return err
	}
	defer n.Close()
	return n.Run(ctx)
}
