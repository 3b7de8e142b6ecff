package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivecore/internal/testutil"
	"hivecore/pkg/auth"
	"hivecore/pkg/config"
	"hivecore/pkg/ipc"
	"hivecore/pkg/logging"
)

func nodeConfig(t *testing.T, settings map[string]interface{}) (*config.ConfigManager, *config.RuntimeConfig) {
	t.Helper()
	cfg, err := config.Bootstrap(context.Background(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cfg.Close() })
	for k, v := range settings {
		require.NoError(t, cfg.Set(k, v))
	}
	rc, err := config.LoadRuntime(cfg)
	require.NoError(t, err)
	return cfg, rc
}

func startTestNode(t *testing.T, settings map[string]interface{}) *node {
	t.Helper()
	cfg, rc := nodeConfig(t, settings)
	n, err := startNode(cfg, rc, logging.NoOp{})
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func TestServeLinksProcesses(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alpha := startTestNode(t, map[string]interface{}{
		"process.name": "alpha",
		"ipc.secret":   "shared",
		"ipc.listen":   "127.0.0.1:0",
	})
	go alpha.Run(ctx)

	beta := startTestNode(t, map[string]interface{}{
		"process.name": "beta",
		"ipc.secret":   "shared",
		"ipc.peers":    []interface{}{alpha.Addr()},
	})
	go beta.Run(ctx)

	require.Eventually(t, func() bool { return beta.hasPeer("alpha") }, 5*time.Second, 10*time.Millisecond)

	runtime := beta.bridge.Proxy("alpha", "Runtime")
	info, err := ipc.CallAs[nodeInfo](ctx, runtime, "info")
	require.NoError(t, err)
	assert.Equal(t, "alpha", info.Process)
	assert.Equal(t, []string{"Runtime"}, info.Classes)
	assert.Contains(t, info.Peers, "beta")

	name, err := ipc.CallAs[string](ctx, runtime, "config", "process.name")
	require.NoError(t, err)
	assert.Equal(t, "alpha", name)

	_, err = runtime.Call(ctx, "config", "ipc.secret")
	assert.ErrorIs(t, err, &ipc.RemoteError{Class: "Forbidden", Code: 403})

	_, err = runtime.Call(ctx, "config", "no.such.key")
	assert.ErrorIs(t, err, &ipc.RemoteError{Class: "NotFound"})
}

func TestServeRejectsForeignSecret(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alpha := startTestNode(t, map[string]interface{}{
		"process.name": "alpha",
		"ipc.secret":   "one",
		"ipc.listen":   "127.0.0.1:0",
	})
	go alpha.Run(ctx)

	intruder := startTestNode(t, map[string]interface{}{
		"process.name": "intruder",
		"ipc.secret":   "two",
	})
	_, err := intruder.transport.Dial(ctx, alpha.Addr())
	assert.ErrorIs(t, err, ipc.ErrHandshake)
	assert.Empty(t, intruder.transport.Peers())
}

func TestIssuerFromConfig(t *testing.T) {
	log := &testutil.Recorder{}
	cfg, _ := nodeConfig(t, nil)
	issuer, err := issuerFromConfig(cfg, log)
	require.NoError(t, err)
	assert.Nil(t, issuer)
	assert.Len(t, log.Find("warn", "not authenticated"), 1)

	cfg, _ = nodeConfig(t, map[string]interface{}{"ipc.secret": "s"})
	issuer, err = issuerFromConfig(cfg, log)
	require.NoError(t, err)
	require.NotNil(t, issuer)
	token, err := issuer.Issue(auth.Identity{Process: "alpha"})
	require.NoError(t, err)
	id, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alpha", id.Process)
}

func TestRunServeNeedsAddresses(t *testing.T) {
	cfg, rc := nodeConfig(t, nil)
	assert.Error(t, runServe(context.Background(), cfg, rc, logging.NoOp{}))
}

func TestBootstrapRejectsBadPeerAddress(t *testing.T) {
	cfg, err := config.Bootstrap(context.Background(), nil, nil)
	require.NoError(t, err)
	defer cfg.Close()
	assert.Error(t, cfg.Set("ipc.peers", []interface{}{"no-port"}))
}
