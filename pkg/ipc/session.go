package ipc

import (
	"context"
	"time"
)

// acquireGrace is how much time a queued session acquire must still have
// before its caller's deadline to be granted on replay. A lock granted to a
// caller that already gave up would never be released.
const acquireGrace = 100 * time.Millisecond

type queued struct {
	ctx   context.Context
	call  *Call
	reply replyFunc
}

// sessionLock gives one caller exclusive use of a class. Calls from anyone
// else wait in pending, in arrival order.
type sessionLock struct {
	owner   string
	pending []queued
}

func (l *sessionLock) blocks(c *Call) bool {
	return l.owner != "" && c.SessionID != l.owner
}

// replayed is a queued call released by drainLocked. Session control calls
// carry the value they answer with.
type replayed struct {
	queued
	control bool
	value   string
}

// acquireLocked takes the lock for className. The caller already owns it
// when it is held, since admission let the call through.
func (h *Handler) acquireLocked(className string) string {
	lock := h.sessions[className]
	if lock == nil {
		lock = &sessionLock{}
		h.sessions[className] = lock
	}
	if lock.owner == "" {
		lock.owner = h.newID()
		h.logger.Debug("session acquired", "class", className, "session", lock.owner)
	}
	return lock.owner
}

// releaseLocked frees className and returns the old id together with the
// queued calls that may now run.
func (h *Handler) releaseLocked(className string) (string, []replayed) {
	lock := h.sessions[className]
	if lock == nil || lock.owner == "" {
		return "", nil
	}
	old := lock.owner
	lock.owner = ""
	h.logger.Debug("session released", "class", className, "session", old, "queued", len(lock.pending))
	return old, h.drainLocked(className, lock)
}

// drainLocked pops queued calls in arrival order while the lock is free. A
// queued acquire takes the lock and ends the drain; the calls behind it stay
// queued for the new owner's release.
func (h *Handler) drainLocked(className string, lock *sessionLock) []replayed {
	var out []replayed
	now := h.now()
	for len(lock.pending) > 0 && lock.owner == "" {
		q := lock.pending[0]
		lock.pending = lock.pending[1:]

		expiry := now
		if q.call.MethodName == GetSessionMethod {
			expiry = now.Add(acquireGrace)
		}
		if q.call.Expired(expiry) {
			h.logger.Warn("dropping expired queued call", "call", q.call.String(), "from", q.call.From)
			continue
		}

		switch q.call.MethodName {
		case GetSessionMethod:
			out = append(out, replayed{queued: q, control: true, value: h.acquireLocked(className)})
		case ClearSessionMethod:
			out = append(out, replayed{queued: q, control: true})
		default:
			out = append(out, replayed{queued: q})
		}
	}
	if lock.owner == "" && len(lock.pending) == 0 {
		delete(h.sessions, className)
	}
	return out
}

// replay schedules released calls in arrival order, each as its own unit of
// work alongside any newer traffic.
func (h *Handler) replay(calls []replayed) {
	for _, r := range calls {
		h.logger.Debug("replaying queued call", "call", r.call.String(), "token", r.call.Token, "from", r.call.From)
		if r.control {
			h.replyValue(r.call, r.reply, r.value)
			continue
		}
		h.wg.Add(1)
		go func(r replayed) {
			defer h.wg.Done()
			h.execute(r.ctx, r.call, r.reply)
		}(r)
	}
}

// SessionOwner returns the id holding className's lock, if any.
func (h *Handler) SessionOwner(className string) (string, bool) {
	h.sessMu.Lock()
	defer h.sessMu.Unlock()
	lock := h.sessions[className]
	if lock == nil || lock.owner == "" {
		return "", false
	}
	return lock.owner, true
}

// Queued returns how many calls wait on className's lock.
func (h *Handler) Queued(className string) int {
	h.sessMu.Lock()
	defer h.sessMu.Unlock()
	if lock := h.sessions[className]; lock != nil {
		return len(lock.pending)
	}
	return 0
}
