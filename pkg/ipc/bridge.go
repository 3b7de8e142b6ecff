package ipc

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"hivecore/pkg/auth"
	"hivecore/pkg/logging"
	"hivecore/pkg/process"
)

const DefaultTimeout = 5 * time.Second

type Options struct {
	Logger     logging.Logger
	Timeout    time.Duration
	Authorizer auth.Authorizer
	Now        func() time.Time
}

// Bridge is the per-process IPC endpoint: it sends calls through proxies and
// serves calls for the services registered on its Handler.
type Bridge struct {
	pc        *process.Context
	transport Transport
	pending   *Pending
	handler   *Handler
	timeout   time.Duration
	logger    logging.Logger
	now       func() time.Time
	closed    atomic.Bool
}

func NewBridge(pc *process.Context, transport Transport, optFns ...func(o *Options)) *Bridge {
	o := Options{
		Logger:  pc.Log(),
		Timeout: DefaultTimeout,
		Now:     time.Now,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	logger := logging.OrNoOp(o.Logger)

	b := &Bridge{
		pc:        pc,
		transport: transport,
		pending:   NewPending(),
		handler:   newHandler(logger, o.Authorizer, o.Now),
		timeout:   o.Timeout,
		logger:    logger,
		now:       o.Now,
	}
	transport.SetHandler(b.Deliver)
	return b
}

func (b *Bridge) Process() *process.Context { return b.pc }

func (b *Bridge) Handler() *Handler { return b.handler }

func (b *Bridge) Pending() *Pending { return b.pending }

// Deliver is the transport's message handler.
func (b *Bridge) Deliver(ctx context.Context, msg *Message) {
	if b.closed.Load() {
		return
	}
	switch msg.Kind {
	case KindResult:
		if msg.Result == nil {
			b.logger.Warn("result message without result", "from", msg.From)
			return
		}
		if !b.pending.Resolve(msg.Result) {
			b.logger.Debug("dropping late reply", "token", msg.Result.Token, "from", msg.From)
		}
	case KindCall:
		if msg.Call == nil {
			b.logger.Warn("call message without call", "from", msg.From)
			return
		}
		call := msg.Call
		if call.From == "" {
			call.From = msg.From
		}
		b.handler.admit(ctx, call, func(r *Result) { b.reply(ctx, call.From, r) })
	default:
		b.logger.Warn("unknown message kind", "kind", msg.Kind, "from", msg.From)
	}
}

func (b *Bridge) reply(ctx context.Context, to string, r *Result) {
	if b.closed.Load() {
		return
	}
	if err := b.transport.Send(context.WithoutCancel(ctx), to, resultMessage(b.pc.Name, r)); err != nil {
		b.logger.Error("failed to send reply", "to", to, "token", r.Token, "error", err)
	}
}

func (b *Bridge) send(ctx context.Context, to string, c *Call) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.transport.Send(ctx, to, callMessage(c))
}

// Close stops serving, wakes every caller still waiting for a reply and
// closes the transport.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.pending.Close()
	err := b.transport.Close()
	b.handler.Wait()
	if err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}
