package rendezvous

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotPutTake(t *testing.T) {
	s := NewSlot[int]()
	assert.True(t, s.Put(7))
	assert.False(t, s.Put(8), "slot holds one value")

	v, err := s.Take(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestSlotTakeTimeout(t *testing.T) {
	s := NewSlot[string]()
	start := time.Now()
	_, err := s.Take(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSlotTakeContextCancel(t *testing.T) {
	s := NewSlot[string]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Take(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSlotCloseWakesWaiters(t *testing.T) {
	s := NewSlot[int]()
	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Take(context.Background(), 5*time.Second)
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	s.Close()
	s.Close()
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
	}
	assert.True(t, s.Closed())
	assert.False(t, s.Put(1))
}

func TestSlotTakeAfterCloseFailsEvenWithValue(t *testing.T) {
	s := NewSlot[int]()
	require.True(t, s.Put(1))
	s.Close()
	_, err := s.Take(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSignal(t *testing.T) {
	sig := NewSignal()
	go func() {
		time.Sleep(5 * time.Millisecond)
		sig.Fire()
	}()
	require.NoError(t, sig.Wait(context.Background(), time.Second))

	assert.ErrorIs(t, sig.Wait(context.Background(), 10*time.Millisecond), ErrTimeout)

	sig.Close()
	assert.True(t, sig.Closed())
	assert.ErrorIs(t, sig.Wait(context.Background(), time.Second), ErrClosed)
}
