package pool

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPoolExhausted = errors.New("pool exhausted")
	ErrPoolClosed    = errors.New("pool closed")
	// ErrDiscard tells Do to drop the connection instead of releasing it.
	ErrDiscard = errors.New("pool: discard connection")
)

// ExhaustedError reports a wait that ended without a free connection.
type ExhaustedError struct {
	Pool   string
	Max    int
	Waited time.Duration
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("pool %s exhausted: no connection available within %s (max %d)", e.Pool, e.Waited, e.Max)
}

func (e *ExhaustedError) Unwrap() error { return ErrPoolExhausted }

// ConnectionError wraps a factory failure.
type ConnectionError struct {
	Pool string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("pool %s: create connection: %v", e.Pool, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
