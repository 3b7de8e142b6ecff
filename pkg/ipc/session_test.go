package ipc

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type journal struct {
	mu     sync.Mutex
	values []string
}

func (j *journal) append(ctx context.Context, s string) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.values = append(j.values, s)
	return len(j.values), nil
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.values...)
}

func newJournalPair(t *testing.T) (*pair, *journal) {
	t.Helper()
	p := newPair(t)
	j := &journal{}
	require.NoError(t, p.beta.Handler().Register("Journal", Methods{"append": Unary(j.append)}))
	return p, j
}

func TestSessionQueuesOtherCallers(t *testing.T) {
	p, j := newJournalPair(t)
	h := p.beta.Handler()
	journal := p.alpha.Proxy("beta", "Journal")
	ctx := context.Background()

	id, err := journal.AcquireSession(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	owner, ok := h.SessionOwner("Journal")
	require.True(t, ok)
	assert.Equal(t, id, owner)

	done := make(chan error, 1)
	go func() {
		_, err := journal.Call(ctx, "append", "outsider")
		done <- err
	}()
	require.Eventually(t, func() bool { return h.Queued("Journal") == 1 }, time.Second, 5*time.Millisecond)

	tx := journal.WithSession(id)
	_, err = tx.Call(ctx, "append", "insider")
	require.NoError(t, err)
	assert.Equal(t, []string{"insider"}, j.snapshot())

	again, err := tx.AcquireSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	released, err := tx.ReleaseSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, released)

	require.NoError(t, <-done)
	assert.Equal(t, []string{"insider", "outsider"}, j.snapshot())
	_, ok = h.SessionOwner("Journal")
	assert.False(t, ok)
}

func TestReleaseWithoutSession(t *testing.T) {
	p, _ := newJournalPair(t)
	old, err := p.alpha.Proxy("beta", "Journal").ReleaseSession(context.Background())
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestReplayKeepsArrivalOrder(t *testing.T) {
	p, j := newJournalPair(t)
	h := p.beta.Handler()
	journal := p.alpha.Proxy("beta", "Journal")
	ctx := context.Background()

	id, err := journal.AcquireSession(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			_, err := journal.Call(ctx, "append", v)
			assert.NoError(t, err)
		}(strconv.Itoa(i))
		want := i
		require.Eventually(t, func() bool { return h.Queued("Journal") == want }, time.Second, 5*time.Millisecond)
	}

	_, err = journal.WithSession(id).ReleaseSession(ctx)
	require.NoError(t, err)
	wg.Wait()
	assert.ElementsMatch(t, []string{"1", "2", "3"}, j.snapshot())

	entries := p.betaLog.Find("debug", "replaying queued call")
	require.Len(t, entries, 3)
	var tokens []uint64
	for _, e := range entries {
		tok, ok := e.Field("token")
		require.True(t, ok)
		tokens = append(tokens, tok.(uint64))
	}
	assert.IsIncreasing(t, tokens)
}

func TestReplayDoesNotHoldBackNewTraffic(t *testing.T) {
	p, _ := newJournalPair(t)
	h := p.beta.Handler()
	gate := make(chan struct{})
	require.NoError(t, h.Register("Worker", Methods{
		"slow": Nullary(func(ctx context.Context) (string, error) {
			<-gate
			return "slow", nil
		}),
		"fast": Nullary(func(ctx context.Context) (string, error) {
			return "fast", nil
		}),
	}))
	ctx := context.Background()
	worker := p.alpha.Proxy("beta", "Worker")

	id, err := worker.AcquireSession(ctx)
	require.NoError(t, err)

	slow := make(chan error, 1)
	go func() {
		_, err := worker.Call(ctx, "slow")
		slow <- err
	}()
	require.Eventually(t, func() bool { return h.Queued("Worker") == 1 }, time.Second, 5*time.Millisecond)

	_, err = worker.WithSession(id).ReleaseSession(ctx)
	require.NoError(t, err)

	short := p.alpha.Proxy("beta", "Worker", func(o *ProxyOptions) { o.Timeout = 500 * time.Millisecond })
	v, err := CallAs[string](ctx, short, "fast")
	require.NoError(t, err)
	assert.Equal(t, "fast", v)

	close(gate)
	require.NoError(t, <-slow)
}

func TestReplayedCallCanCallItsOwnClass(t *testing.T) {
	p, _ := newJournalPair(t)
	h := p.beta.Handler()
	self := p.beta.Proxy("beta", "Nested", func(o *ProxyOptions) { o.Timeout = time.Second })
	require.NoError(t, h.Register("Nested", Methods{
		"leaf": Nullary(func(ctx context.Context) (int, error) { return 7, nil }),
		"outer": Nullary(func(ctx context.Context) (int, error) {
			return CallAs[int](ctx, self, "leaf")
		}),
	}))
	ctx := context.Background()
	nested := p.alpha.Proxy("beta", "Nested", func(o *ProxyOptions) { o.Timeout = 2 * time.Second })

	id, err := nested.AcquireSession(ctx)
	require.NoError(t, err)

	type outcome struct {
		v   int
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := CallAs[int](ctx, nested, "outer")
		done <- outcome{v, err}
	}()
	require.Eventually(t, func() bool { return h.Queued("Nested") == 1 }, time.Second, 5*time.Millisecond)

	_, err = nested.WithSession(id).ReleaseSession(ctx)
	require.NoError(t, err)
	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, 7, got.v)
}

func TestExpiredQueuedCallIsDropped(t *testing.T) {
	p, j := newJournalPair(t)
	h := p.beta.Handler()
	ctx := context.Background()
	journal := p.alpha.Proxy("beta", "Journal")

	id, err := journal.AcquireSession(ctx)
	require.NoError(t, err)

	short := p.alpha.Proxy("beta", "Journal", func(o *ProxyOptions) { o.Timeout = 50 * time.Millisecond })
	_, err = short.Call(ctx, "append", "late")
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, h.Queued("Journal"))

	_, err = journal.WithSession(id).ReleaseSession(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.Queued("Journal") == 0 && len(p.betaLog.Find("warn", "dropping expired queued call")) == 1
	}, time.Second, 5*time.Millisecond)
	h.Wait()
	assert.Empty(t, j.snapshot())
}

func TestLockTakenDuringReplay(t *testing.T) {
	p, j := newJournalPair(t)
	h := p.beta.Handler()
	ctx := context.Background()
	journal := p.alpha.Proxy("beta", "Journal")

	first, err := journal.AcquireSession(ctx)
	require.NoError(t, err)

	second := make(chan string, 1)
	go func() {
		id, err := journal.AcquireSession(ctx)
		assert.NoError(t, err)
		second <- id
	}()
	require.Eventually(t, func() bool { return h.Queued("Journal") == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := journal.Call(ctx, "append", "x")
		done <- err
	}()
	require.Eventually(t, func() bool { return h.Queued("Journal") == 2 }, time.Second, 5*time.Millisecond)

	_, err = journal.WithSession(first).ReleaseSession(ctx)
	require.NoError(t, err)

	secondID := <-second
	assert.NotEqual(t, first, secondID)
	require.Eventually(t, func() bool { return h.Queued("Journal") == 1 }, time.Second, 5*time.Millisecond)
	owner, _ := h.SessionOwner("Journal")
	assert.Equal(t, secondID, owner)
	assert.Empty(t, j.snapshot())

	_, err = journal.WithSession(secondID).ReleaseSession(ctx)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"x"}, j.snapshot())
}

func TestStartTransaction(t *testing.T) {
	p, j := newJournalPair(t)
	h := p.beta.Handler()
	ctx := context.Background()
	journal := p.alpha.Proxy("beta", "Journal")

	err := journal.StartTransaction(ctx, func(tx *Proxy) error {
		owner, ok := h.SessionOwner("Journal")
		assert.True(t, ok)
		assert.Equal(t, owner, tx.SessionID())
		_, err := tx.Call(ctx, "append", "in-tx")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"in-tx"}, j.snapshot())
	_, held := h.SessionOwner("Journal")
	assert.False(t, held)

	rollback := errors.New("rollback")
	err = journal.StartTransaction(ctx, func(tx *Proxy) error { return rollback })
	assert.ErrorIs(t, err, rollback)
	_, held = h.SessionOwner("Journal")
	assert.False(t, held)

	assert.Panics(t, func() {
		_ = journal.StartTransaction(ctx, func(tx *Proxy) error { panic("boom") })
	})
	_, held = h.SessionOwner("Journal")
	assert.False(t, held)
}

func TestQueuedAcquireNearDeadlineIsDropped(t *testing.T) {
	var skew atomic.Int64
	p := newPair(t, func(o *Options) {
		o.Now = func() time.Time { return time.Now().Add(time.Duration(skew.Load())) }
	})
	h := p.beta.Handler()
	require.NoError(t, h.Register("Journal", Methods{"append": Unary((&journal{}).append)}))
	ctx := context.Background()
	journal := p.alpha.Proxy("beta", "Journal")

	first, err := journal.AcquireSession(ctx)
	require.NoError(t, err)

	late := p.alpha.Proxy("beta", "Journal", func(o *ProxyOptions) { o.Timeout = time.Second })
	done := make(chan error, 1)
	go func() {
		_, err := late.AcquireSession(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return h.Queued("Journal") == 1 }, time.Second, 5*time.Millisecond)

	skew.Store(int64(time.Second - acquireGrace/2))
	_, err = journal.WithSession(first).ReleaseSession(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, <-done, ErrTimeout)
	_, held := h.SessionOwner("Journal")
	assert.False(t, held)
	assert.Len(t, p.betaLog.Find("warn", "dropping expired queued call"), 1)
}
