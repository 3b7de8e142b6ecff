package ipc

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivecore/internal/testutil"
	"hivecore/pkg/auth"
	"hivecore/pkg/auth/jwt"
	"hivecore/pkg/process"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &Message{Kind: KindCall, Call: &Call{ClassName: "Calc", MethodName: "add", Token: 7}}
	require.NoError(t, WriteFrame(&buf, in, DefaultMaxFrame))

	var out Message
	require.NoError(t, ReadFrame(&buf, &out, DefaultMaxFrame))
	assert.Equal(t, KindCall, out.Kind)
	assert.Equal(t, uint64(7), out.Call.Token)
	assert.True(t, out.Call.Deadline.IsZero())
}

func TestFrameLimits(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, strings.Repeat("x", 64), 16)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	require.NoError(t, WriteFrame(&buf, strings.Repeat("x", 64), 1024))
	var s string
	assert.ErrorIs(t, ReadFrame(&buf, &s, 16), ErrFrameTooLarge)
}

func issuer(t *testing.T, secret string) auth.TokenIssuer {
	t.Helper()
	p, err := jwt.NewProvider(jwt.Config{Secret: secret, Issuer: "hivecore"})
	require.NoError(t, err)
	return p
}

func attachPipe(t *testing.T, a, b *StreamTransport) (error, error) {
	t.Helper()
	c1, c2 := net.Pipe()
	errs := make(chan error, 1)
	go func() {
		_, err := b.Attach(context.Background(), c2)
		errs <- err
	}()
	_, err := a.Attach(context.Background(), c1)
	return err, <-errs
}

func TestStreamBridgeWithTokens(t *testing.T) {
	pa := process.New("alpha", nil)
	pb := process.New("beta", nil)
	ta := NewStreamTransport(pa, func(o *StreamOptions) {
		o.Issuer = issuer(t, "shared")
		o.Roles = []string{"reader"}
	})
	tb := NewStreamTransport(pb, func(o *StreamOptions) { o.Issuer = issuer(t, "shared") })

	alpha := NewBridge(pa, ta)
	beta := NewBridge(pb, tb)
	defer alpha.Close()
	defer beta.Close()

	require.NoError(t, beta.Handler().Register("Calc", Methods{
		"add": add,
		"peer": Nullary(func(ctx context.Context) (auth.Identity, error) {
			id, _ := auth.FromContext(ctx)
			return id, nil
		}),
	}))

	errA, errB := attachPipe(t, ta, tb)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, []string{"beta"}, ta.Peers())
	assert.Equal(t, []string{"alpha"}, tb.Peers())

	calc := alpha.Proxy("beta", "Calc")
	sum, err := CallAs[int](context.Background(), calc, "add", 20, 22)
	require.NoError(t, err)
	assert.Equal(t, 42, sum)

	peer, err := CallAs[auth.Identity](context.Background(), calc, "peer")
	require.NoError(t, err)
	assert.Equal(t, "alpha", peer.Process)
	assert.Equal(t, pa.ID, peer.ID)
	assert.Equal(t, []string{"reader"}, peer.Roles)
}

func TestStreamHandshakeRejectsForeignToken(t *testing.T) {
	rec := &testutil.Recorder{}
	ta := NewStreamTransport(process.New("alpha", nil), func(o *StreamOptions) { o.Issuer = issuer(t, "one") })
	tb := NewStreamTransport(process.New("beta", rec), func(o *StreamOptions) { o.Issuer = issuer(t, "two") })
	defer ta.Close()
	defer tb.Close()

	errA, errB := attachPipe(t, ta, tb)
	assert.ErrorIs(t, errA, ErrHandshake)
	assert.ErrorIs(t, errB, ErrHandshake)
	assert.Empty(t, ta.Peers())
	assert.Empty(t, tb.Peers())
}

func TestStreamHandshakeTimeout(t *testing.T) {
	ta := NewStreamTransport(process.New("alpha", nil), func(o *StreamOptions) { o.HandshakeTimeout = 50 * time.Millisecond })
	defer ta.Close()

	c1, c2 := net.Pipe()
	defer c2.Close()
	go func() {
		var h hello
		_ = ReadFrame(c2, &h, DefaultMaxFrame)
	}()
	_, err := ta.Attach(context.Background(), c1)
	assert.ErrorIs(t, err, ErrHandshake)
}

func TestStreamOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ps := process.New("server", nil)
	pc := process.New("client", nil)
	ts := NewStreamTransport(ps)
	tc := NewStreamTransport(pc)
	server := NewBridge(ps, ts)
	client := NewBridge(pc, tc)
	defer client.Close()
	defer server.Close()
	require.NoError(t, server.Handler().Register("Calc", Methods{"add": add}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- ts.Serve(ctx, ln) }()

	peer, err := tc.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, "server", peer.Process)
	require.Eventually(t, func() bool { return len(ts.Peers()) == 1 }, time.Second, 5*time.Millisecond)

	sum, err := CallAs[int](ctx, client.Proxy("server", "Calc"), "add", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, sum)

	cancel()
	assert.NoError(t, <-served)
}

func TestStreamSendUnknownPeer(t *testing.T) {
	ts := NewStreamTransport(process.New("alpha", nil))
	defer ts.Close()
	err := ts.Send(context.Background(), "beta", &Message{Kind: KindCall})
	assert.ErrorIs(t, err, ErrUnknownPeer)

	require.NoError(t, ts.Close())
	assert.ErrorIs(t, ts.Send(context.Background(), "beta", &Message{}), ErrClosed)
}
