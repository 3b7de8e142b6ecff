package ipc

import (
	"sync"

	"hivecore/pkg/rendezvous"
)

// Pending maps outstanding call tokens to the slot their reply is delivered
// into.
type Pending struct {
	mu     sync.Mutex
	slots  map[uint64]*rendezvous.Slot[*Result]
	closed bool
}

func NewPending() *Pending {
	return &Pending{slots: make(map[uint64]*rendezvous.Slot[*Result])}
}

// Register returns the slot for token. After Close it returns a closed slot.
func (p *Pending) Register(token uint64) *rendezvous.Slot[*Result] {
	slot := rendezvous.NewSlot[*Result]()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		slot.Close()
		return slot
	}
	p.slots[token] = slot
	return slot
}

// Resolve hands r to the caller waiting on r.Token. It reports false when
// nobody waits any more, for example after a timeout.
func (p *Pending) Resolve(r *Result) bool {
	p.mu.Lock()
	slot, ok := p.slots[r.Token]
	if ok {
		delete(p.slots, r.Token)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	return slot.Put(r)
}

func (p *Pending) Forget(token uint64) {
	p.mu.Lock()
	delete(p.slots, token)
	p.mu.Unlock()
}

func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Close wakes every waiter with rendezvous.ErrClosed.
func (p *Pending) Close() {
	p.mu.Lock()
	slots := p.slots
	p.slots = make(map[uint64]*rendezvous.Slot[*Result])
	p.closed = true
	p.mu.Unlock()
	for _, s := range slots {
		s.Close()
	}
}
