// Package rendezvous provides a one-value hand-off between goroutines with
// timeout and close semantics. It backs plugin readiness and IPC replies.
package rendezvous

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrTimeout = errors.New("rendezvous: timed out waiting for value")
	ErrClosed  = errors.New("rendezvous: slot closed")
)

// Slot holds at most one value. The zero value is not usable, use NewSlot.
type Slot[T any] struct {
	ch     chan T
	closed chan struct{}
	once   sync.Once
	mu     sync.RWMutex
}

func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{
		ch:     make(chan T, 1),
		closed: make(chan struct{}),
	}
}

// Put stores v without blocking. It reports false when the slot already holds
// a value or has been closed.
func (s *Slot[T]) Put(v T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

// Take waits for a value. A timeout <= 0 waits until ctx is done or the slot
// is closed.
func (s *Slot[T]) Take(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	select {
	case <-s.closed:
		return zero, ErrClosed
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case v := <-s.ch:
		return v, nil
	case <-s.closed:
		return zero, ErrClosed
	case <-expired:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close wakes every waiter with ErrClosed. Calling it again is a no-op.
func (s *Slot[T]) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.closed)
		s.mu.Unlock()
	})
}

func (s *Slot[T]) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
