package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hivecore/pkg/rendezvous"
)

type ProxyOptions struct {
	Oneway    bool
	Timeout   time.Duration
	SessionID string
}

// Proxy invokes methods of one class in one target process.
type Proxy struct {
	bridge    *Bridge
	target    string
	className string
	opts      ProxyOptions
}

func (b *Bridge) Proxy(target, className string, optFns ...func(o *ProxyOptions)) *Proxy {
	o := ProxyOptions{Timeout: b.timeout}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.Timeout <= 0 {
		o.Timeout = b.timeout
	}
	return &Proxy{bridge: b, target: target, className: className, opts: o}
}

func (p *Proxy) Target() string    { return p.target }
func (p *Proxy) ClassName() string { return p.className }
func (p *Proxy) SessionID() string { return p.opts.SessionID }

// WithSession returns a copy bound to the session id.
func (p *Proxy) WithSession(id string) *Proxy {
	cp := *p
	cp.opts.SessionID = id
	return &cp
}

// Call sends method with args and waits for the reply. Oneway proxies return
// as soon as the call is sent.
func (p *Proxy) Call(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	return p.call(ctx, method, p.opts.Oneway, args...)
}

func (p *Proxy) call(ctx context.Context, method string, oneway bool, args ...interface{}) (json.RawMessage, error) {
	encoded, err := EncodeArgs(args...)
	if err != nil {
		return nil, err
	}
	b := p.bridge
	c := &Call{
		ClassName:  p.className,
		MethodName: method,
		Args:       encoded,
		Token:      b.pc.NextToken(),
		Oneway:     oneway,
		SessionID:  p.opts.SessionID,
		From:       b.pc.Name,
	}

	if oneway {
		if err := b.send(ctx, p.target, c); err != nil {
			return nil, fmt.Errorf("ipc: send %s to %s: %w", c, p.target, err)
		}
		return nil, nil
	}

	c.Deadline = b.now().Add(p.opts.Timeout)
	slot := b.pending.Register(c.Token)
	defer b.pending.Forget(c.Token)

	if err := b.send(ctx, p.target, c); err != nil {
		return nil, fmt.Errorf("ipc: send %s to %s: %w", c, p.target, err)
	}

	r, err := slot.Take(ctx, p.opts.Timeout)
	switch {
	case errors.Is(err, rendezvous.ErrTimeout):
		return nil, &TimeoutError{Target: p.target, Call: c.String(), Timeout: p.opts.Timeout}
	case errors.Is(err, rendezvous.ErrClosed):
		return nil, ErrClosed
	case err != nil:
		return nil, err
	}

	if r.Failed {
		return nil, &RemoteError{Target: p.target, Class: r.ErrorClass, Code: r.ErrorCode, Message: r.ErrorMessage}
	}
	return r.Value, nil
}

// CallAs calls method and decodes the reply into T.
func CallAs[T any](ctx context.Context, p *Proxy, method string, args ...interface{}) (T, error) {
	var out T
	raw, err := p.Call(ctx, method, args...)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("ipc: decode reply of %s.%s: %w", p.className, method, err)
	}
	return out, nil
}

// AcquireSession takes the target class's session lock, waiting behind
// other holders for as long as the proxy timeout allows.
func (p *Proxy) AcquireSession(ctx context.Context) (string, error) {
	raw, err := p.call(ctx, GetSessionMethod, false)
	if err != nil {
		return "", err
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("ipc: decode session id: %w", err)
	}
	return id, nil
}

// ReleaseSession frees the lock held by the proxy's session and returns the
// released id.
func (p *Proxy) ReleaseSession(ctx context.Context) (string, error) {
	raw, err := p.call(ctx, ClearSessionMethod, false)
	if err != nil {
		return "", err
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("ipc: decode session id: %w", err)
	}
	return id, nil
}

// StartTransaction runs fn with exclusive use of the target class. The lock
// is released when fn returns, fails or panics.
func (p *Proxy) StartTransaction(ctx context.Context, fn func(tx *Proxy) error) (err error) {
	id, err := p.AcquireSession(ctx)
	if err != nil {
		return fmt.Errorf("ipc: start transaction on %s: %w", p.className, err)
	}
	tx := p.WithSession(id)

	defer func() {
		if _, rerr := tx.ReleaseSession(context.WithoutCancel(ctx)); rerr != nil {
			p.bridge.logger.Error("failed to release session", "class", p.className, "session", id, "error", rerr)
			if err == nil {
				err = fmt.Errorf("ipc: release session on %s: %w", p.className, rerr)
			}
		}
	}()
	return fn(tx)
}
