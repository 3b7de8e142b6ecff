package rendezvous

import (
	"context"
	"time"
)

// Signal is a readiness token: one side fires it, the other waits for it.
type Signal struct {
	slot *Slot[struct{}]
}

func NewSignal() *Signal {
	return &Signal{slot: NewSlot[struct{}]()}
}

// Fire deposits the token. Firing twice before a Wait is harmless.
func (s *Signal) Fire() bool {
	return s.slot.Put(struct{}{})
}

func (s *Signal) Wait(ctx context.Context, timeout time.Duration) error {
	_, err := s.slot.Take(ctx, timeout)
	return err
}

func (s *Signal) Close() { s.slot.Close() }

func (s *Signal) Closed() bool { return s.slot.Closed() }
