package plugin

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	ErrPluginAlreadyAdded = errors.New("plugin already added")
	ErrPluginNotFound     = errors.New("plugin not found")
	ErrFactoryNotFound    = errors.New("plugin factory not found")
	ErrAlreadyRan         = errors.New("lifecycle phase already ran")
	ErrNotReady           = errors.New("plugin did not signal readiness")
)

// StartFailure records a plugin whose process start failed. Other plugins
// keep starting; failures are reported, not returned as an error.
type StartFailure struct {
	Plugin string
	Err    error
}

func (f *StartFailure) Error() string {
	return fmt.Sprintf("plugin %s failed to start: %v", f.Plugin, f.Err)
}

func (f *StartFailure) Unwrap() error { return f.Err }

// PanicError is a recovered panic from a plugin hook.
type PanicError struct {
	Plugin string
	Value  interface{}
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("plugin %s panicked: %v", e.Plugin, e.Value)
}

// guard runs fn and turns a panic into a *PanicError.
func guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Plugin: name, Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
