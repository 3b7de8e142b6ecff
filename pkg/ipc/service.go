package ipc

import (
	"context"
	"encoding/json"
	"fmt"
)

// Service executes methods of one class.
type Service interface {
	Invoke(ctx context.Context, method string, args []json.RawMessage) (interface{}, error)
}

type MethodFunc func(ctx context.Context, args []json.RawMessage) (interface{}, error)

// Methods is a Service backed by a method table.
type Methods map[string]MethodFunc

func (m Methods) Invoke(ctx context.Context, method string, args []json.RawMessage) (interface{}, error) {
	fn, ok := m[method]
	if !ok {
		return nil, &ServiceError{ErrClass: "NoSuchMethod", ErrCode: 404, Msg: fmt.Sprintf("method %s not found", method)}
	}
	return fn(ctx, args)
}

// Unary adapts a typed single-argument method.
func Unary[A, R any](fn func(ctx context.Context, arg A) (R, error)) MethodFunc {
	return func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		var a A
		if err := DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		return fn(ctx, a)
	}
}

// Nullary adapts a method without arguments.
func Nullary[R any](fn func(ctx context.Context) (R, error)) MethodFunc {
	return func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		if err := DecodeArgs(args); err != nil {
			return nil, err
		}
		return fn(ctx)
	}
}

type callKey struct{}

func withCall(ctx context.Context, c *Call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

// CallFromContext returns the call a service method is serving.
func CallFromContext(ctx context.Context) (*Call, bool) {
	c, ok := ctx.Value(callKey{}).(*Call)
	return c, ok
}
