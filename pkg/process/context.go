// Package process holds the state that is unique to one OS process of a
// hivecore deployment: its name, a random id, the logger and the IPC token
// counter. Build one at startup and pass it down.
package process

import (
	"sync/atomic"

	"github.com/google/uuid"

	"hivecore/pkg/logging"
)

type Context struct {
	Name   string
	ID     string
	Logger logging.Logger

	tokens atomic.Uint64
}

func New(name string, logger logging.Logger) *Context {
	return &Context{
		Name:   name,
		ID:     uuid.NewString(),
		Logger: logging.OrNoOp(logger),
	}
}

// NextToken returns a fresh correlation token. Tokens start at 1 and are
// unique for the life of the process.
func (c *Context) NextToken() uint64 {
	return c.tokens.Add(1)
}

func (c *Context) Log() logging.Logger {
	if c == nil {
		return logging.NoOp{}
	}
	return logging.OrNoOp(c.Logger)
}
