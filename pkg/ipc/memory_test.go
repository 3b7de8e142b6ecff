package ipc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivecore/pkg/auth"
)

func TestMemoryEndpointNames(t *testing.T) {
	n := NewMemoryNetwork(nil)
	a, err := n.Endpoint("a")
	require.NoError(t, err)
	_, err = n.Endpoint("a")
	assert.Error(t, err)
	_, err = n.Endpoint("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, n.Names())

	require.NoError(t, a.Close())
	assert.Equal(t, []string{"b"}, n.Names())
	_, err = n.Endpoint("a")
	assert.NoError(t, err)
}

func TestMemorySendUnknownPeer(t *testing.T) {
	n := NewMemoryNetwork(nil)
	a, err := n.Endpoint("a")
	require.NoError(t, err)
	defer a.Close()
	err = a.Send(context.Background(), "nobody", &Message{Kind: KindCall, Call: &Call{}})
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestMemoryFIFOAndIdentity(t *testing.T) {
	n := NewMemoryNetwork(nil)
	a, err := n.Endpoint("a", func(o *MemoryEndpointOptions) {
		o.Identity = auth.Identity{Process: "a", Roles: []string{"writer"}}
	})
	require.NoError(t, err)
	b, err := n.Endpoint("b", func(o *MemoryEndpointOptions) { o.InboxSize = 8 })
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	// Sent before b has a handler; kept in the inbox.
	require.NoError(t, a.Send(context.Background(), "b", &Message{Kind: KindCall, Call: &Call{Token: 0, From: "spoofed"}}))

	var mu sync.Mutex
	var tokens []uint64
	var roles []string
	b.SetHandler(func(ctx context.Context, msg *Message) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "a", msg.From)
		assert.Equal(t, "a", msg.Call.From)
		tokens = append(tokens, msg.Call.Token)
		if id, ok := auth.FromContext(ctx); ok {
			roles = id.Roles
		}
	})

	for i := uint64(1); i <= 100; i++ {
		require.NoError(t, a.Send(context.Background(), "b", &Message{Kind: KindCall, Call: &Call{Token: i}}))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(tokens) == 101
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, tok := range tokens {
		assert.Equal(t, uint64(i), tok)
	}
	assert.Equal(t, []string{"writer"}, roles)
}

func TestMemorySendHonoursContext(t *testing.T) {
	n := NewMemoryNetwork(nil)
	a, err := n.Endpoint("a")
	require.NoError(t, err)
	_, err = n.Endpoint("b", func(o *MemoryEndpointOptions) { o.InboxSize = 1 })
	require.NoError(t, err)
	defer a.Close()

	msg := &Message{Kind: KindCall, Call: &Call{}}
	require.NoError(t, a.Send(context.Background(), "b", msg))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Send(ctx, "b", msg), context.DeadlineExceeded)
}
