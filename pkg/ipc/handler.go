package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"hivecore/pkg/auth"
	"hivecore/pkg/logging"
)

type replyFunc func(r *Result)

// Handler resolves incoming calls to registered services and runs them.
type Handler struct {
	mu           sync.RWMutex
	services     map[string]Service
	factories    map[string]func() (Service, error)
	interceptors []Interceptor
	ordered      []Interceptor
	authorizer   auth.Authorizer
	group        singleflight.Group

	sessMu   sync.Mutex
	sessions map[string]*sessionLock

	logger logging.Logger
	now    func() time.Time
	newID  func() string
	wg     sync.WaitGroup
}

func newHandler(logger logging.Logger, authorizer auth.Authorizer, now func() time.Time) *Handler {
	return &Handler{
		services:   make(map[string]Service),
		factories:  make(map[string]func() (Service, error)),
		sessions:   make(map[string]*sessionLock),
		authorizer: authorizer,
		logger:     logging.OrNoOp(logger),
		now:        now,
		newID:      uuid.NewString,
	}
}

func (h *Handler) Register(className string, svc Service) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registeredLocked(className) {
		return fmt.Errorf("%w: %s", ErrServiceExists, className)
	}
	h.services[className] = svc
	return nil
}

// RegisterFactory defers building the service until its first call.
// Concurrent first calls share one build.
func (h *Handler) RegisterFactory(className string, factory func() (Service, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registeredLocked(className) {
		return fmt.Errorf("%w: %s", ErrServiceExists, className)
	}
	h.factories[className] = factory
	return nil
}

func (h *Handler) registeredLocked(className string) bool {
	_, ok := h.services[className]
	_, pending := h.factories[className]
	return ok || pending
}

func (h *Handler) Classes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for name := range h.services {
		seen[name] = true
		out = append(out, name)
	}
	for name := range h.factories {
		if !seen[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Use adds an interceptor. It is rejected when its name is taken or its
// constraints form a cycle.
func (h *Handler) Use(ic Interceptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := append(append([]Interceptor(nil), h.interceptors...), ic)
	ordered, err := orderInterceptors(next)
	if err != nil {
		return err
	}
	h.interceptors = next
	h.ordered = ordered
	return nil
}

func (h *Handler) SetAuthorizer(a auth.Authorizer) {
	h.mu.Lock()
	h.authorizer = a
	h.mu.Unlock()
}

// Wait blocks until every call started so far has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) resolve(className string) (Service, error) {
	h.mu.RLock()
	svc, ok := h.services[className]
	factory, hasFactory := h.factories[className]
	h.mu.RUnlock()
	if ok {
		return svc, nil
	}
	if !hasFactory {
		return nil, &ServiceError{ErrClass: "NoSuchService", ErrCode: 404, Msg: fmt.Sprintf("no service registered for %s", className)}
	}

	v, err, _ := h.group.Do(className, func() (interface{}, error) {
		h.mu.RLock()
		svc, ok := h.services[className]
		h.mu.RUnlock()
		if ok {
			return svc, nil
		}
		svc, err := factory()
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		h.services[className] = svc
		delete(h.factories, className)
		h.mu.Unlock()
		h.logger.Debug("service built", "class", className)
		return svc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Service), nil
}

func (h *Handler) authorize(ctx context.Context, call *Call) *Result {
	h.mu.RLock()
	a := h.authorizer
	h.mu.RUnlock()
	if a == nil {
		return nil
	}
	peer, ok := auth.FromContext(ctx)
	if !ok {
		peer = auth.Identity{Process: call.From}
	}
	err := a.Authorize(ctx, peer, call.ClassName, call.MethodName)
	if err == nil {
		return nil
	}
	h.logger.Warn("call denied", "call", call.String(), "peer", peer.String(), "error", err)
	res := failure(call.Token, err)
	res.ErrorClass = "AccessDenied"
	if res.ErrorCode == 0 {
		res.ErrorCode = 403
	}
	return res
}

// admit decides, in arrival order, whether call runs now or waits behind a
// session lock held by another caller.
func (h *Handler) admit(ctx context.Context, call *Call, reply replyFunc) {
	if denied := h.authorize(ctx, call); denied != nil {
		if !call.Oneway {
			reply(denied)
		}
		return
	}

	h.sessMu.Lock()
	if lock := h.sessions[call.ClassName]; lock != nil && lock.blocks(call) {
		lock.pending = append(lock.pending, queued{ctx: ctx, call: call, reply: reply})
		h.sessMu.Unlock()
		h.logger.Debug("call queued behind session", "call", call.String(), "from", call.From)
		return
	}

	switch call.MethodName {
	case GetSessionMethod:
		id := h.acquireLocked(call.ClassName)
		h.sessMu.Unlock()
		h.replyValue(call, reply, id)
		return
	case ClearSessionMethod:
		old, released := h.releaseLocked(call.ClassName)
		h.sessMu.Unlock()
		h.replyValue(call, reply, old)
		h.replay(released)
		return
	}
	h.sessMu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.execute(ctx, call, reply)
	}()
}

func (h *Handler) execute(ctx context.Context, call *Call, reply replyFunc) {
	v, err := h.invoke(ctx, call)
	if call.Oneway {
		if err != nil {
			h.logger.Error("oneway call failed", "call", call.String(), "from", call.From, "error", err)
		}
		return
	}
	if err != nil {
		reply(failure(call.Token, err))
		return
	}
	h.replyValue(call, reply, v)
}

func (h *Handler) invoke(ctx context.Context, call *Call) (v interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Call: call.String(), Value: r}
			h.logger.Error("service panicked", "call", call.String(), "panic", r, "stack", string(debug.Stack()))
		}
	}()
	h.mu.RLock()
	ordered := h.ordered
	h.mu.RUnlock()
	return chain(ordered, h.dispatch)(withCall(ctx, call), call)
}

func (h *Handler) dispatch(ctx context.Context, call *Call) (interface{}, error) {
	svc, err := h.resolve(call.ClassName)
	if err != nil {
		return nil, err
	}
	return svc.Invoke(ctx, call.MethodName, call.Args)
}

func (h *Handler) replyValue(call *Call, reply replyFunc, v interface{}) {
	if call.Oneway {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		reply(failure(call.Token, &ServiceError{ErrClass: "EncodeError", Msg: err.Error()}))
		return
	}
	reply(&Result{Token: call.Token, Value: raw})
}
