package ipc

import (
	"context"
	"time"

	"hivecore/pkg/logging"
	"hivecore/pkg/ordering"
)

// Invoker runs one call and returns its value.
type Invoker func(ctx context.Context, call *Call) (interface{}, error)

// Interceptor wraps call execution on the handler side. Before and After
// name other interceptors this one must run outside of or inside of.
type Interceptor struct {
	Name   string
	Before []string
	After  []string
	Wrap   func(next Invoker) Invoker
}

// orderInterceptors returns the interceptors outermost first.
func orderInterceptors(list []Interceptor) ([]Interceptor, error) {
	g := ordering.New[string, Interceptor]()
	for _, ic := range list {
		if err := g.Add(ic.Name, ic); err != nil {
			return nil, err
		}
		for _, b := range ic.Before {
			g.Before(ic.Name, b)
		}
		for _, a := range ic.After {
			g.After(ic.Name, a)
		}
	}
	return g.Order()
}

func chain(list []Interceptor, last Invoker) Invoker {
	inv := last
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Wrap != nil {
			inv = list[i].Wrap(inv)
		}
	}
	return inv
}

// Logging logs every call at debug level with its duration.
func Logging(logger logging.Logger) Interceptor {
	logger = logging.OrNoOp(logger)
	return Interceptor{
		Name: "logging",
		Wrap: func(next Invoker) Invoker {
			return func(ctx context.Context, call *Call) (interface{}, error) {
				start := time.Now()
				v, err := next(ctx, call)
				if err != nil {
					logger.Debug("call failed", "call", call.String(), "from", call.From, "duration", time.Since(start), "error", err)
					return v, err
				}
				logger.Debug("call served", "call", call.String(), "from", call.From, "duration", time.Since(start))
				return v, err
			}
		},
	}
}
