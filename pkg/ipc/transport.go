package ipc

import "context"

// MessageHandler receives every message addressed to this process. The
// context carries the sender's auth.Identity when the transport knows it.
type MessageHandler func(ctx context.Context, msg *Message)

// Transport carries messages between named processes. Delivery from one
// sender to one receiver is FIFO.
type Transport interface {
	Send(ctx context.Context, to string, msg *Message) error
	SetHandler(h MessageHandler)
	Close() error
}
