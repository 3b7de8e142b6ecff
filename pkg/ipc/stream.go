package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"hivecore/pkg/auth"
	"hivecore/pkg/logging"
	"hivecore/pkg/process"
)

const (
	DefaultHandshakeTimeout = 5 * time.Second
	linkQueueSize           = 64
)

type StreamOptions struct {
	Logger logging.Logger
	// Issuer signs this process's hello and verifies the peer's. Without
	// one, peers are trusted by the name they announce.
	Issuer           auth.TokenIssuer
	Roles            []string
	MaxFrame         int
	HandshakeTimeout time.Duration
}

type hello struct {
	Process string `json:"process"`
	ID      string `json:"id,omitempty"`
	Token   string `json:"token,omitempty"`
}

type link struct {
	peer auth.Identity
	conn net.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

// StreamTransport carries messages over net.Conn links, one per peer
// process. Each link starts with a hello exchange naming both ends.
type StreamTransport struct {
	self   auth.Identity
	opts   StreamOptions
	logger logging.Logger

	mu      sync.RWMutex
	links   map[string]*link
	handler MessageHandler

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup
}

var _ Transport = (*StreamTransport)(nil)

func NewStreamTransport(pc *process.Context, optFns ...func(o *StreamOptions)) *StreamTransport {
	o := StreamOptions{
		Logger:           pc.Log(),
		MaxFrame:         DefaultMaxFrame,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.MaxFrame <= 0 {
		o.MaxFrame = DefaultMaxFrame
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamTransport{
		self:   auth.Identity{Process: pc.Name, ID: pc.ID, Roles: o.Roles},
		opts:   o,
		logger: logging.OrNoOp(o.Logger),
		links:  make(map[string]*link),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (t *StreamTransport) SetHandler(h MessageHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Peers lists the processes with a live link.
func (t *StreamTransport) Peers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.links))
	for name := range t.links {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Attach runs the hello exchange on conn and starts serving it. A newer link
// to the same peer replaces the older one.
func (t *StreamTransport) Attach(ctx context.Context, conn net.Conn) (auth.Identity, error) {
	if t.closed.Load() {
		conn.Close()
		return auth.Identity{}, ErrClosed
	}
	peer, err := t.handshake(ctx, conn)
	if err != nil {
		conn.Close()
		return auth.Identity{}, err
	}

	l := &link{
		peer: peer,
		conn: conn,
		out:  make(chan []byte, linkQueueSize),
		done: make(chan struct{}),
	}
	t.mu.Lock()
	old := t.links[peer.Process]
	t.links[peer.Process] = l
	t.mu.Unlock()
	if old != nil {
		t.logger.Info("replacing link", "peer", peer.String())
		old.close()
	}

	t.wg.Add(2)
	go t.readLoop(l)
	go t.writeLoop(l)
	t.logger.Info("link established", "peer", peer.String(), "remote", conn.RemoteAddr().String())
	return peer, nil
}

func (t *StreamTransport) handshake(ctx context.Context, conn net.Conn) (auth.Identity, error) {
	deadline := time.Now().Add(t.opts.HandshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	mine := hello{Process: t.self.Process, ID: t.self.ID}
	if t.opts.Issuer != nil {
		token, err := t.opts.Issuer.Issue(t.self)
		if err != nil {
			return auth.Identity{}, fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		mine.Token = token
	}

	werr := make(chan error, 1)
	go func() { werr <- WriteFrame(conn, mine, t.opts.MaxFrame) }()

	var theirs hello
	if err := ReadFrame(conn, &theirs, t.opts.MaxFrame); err != nil {
		return auth.Identity{}, fmt.Errorf("%w: read hello: %v", ErrHandshake, err)
	}
	if err := <-werr; err != nil {
		return auth.Identity{}, fmt.Errorf("%w: write hello: %v", ErrHandshake, err)
	}

	peer := auth.Identity{Process: theirs.Process, ID: theirs.ID}
	if t.opts.Issuer != nil {
		id, err := t.opts.Issuer.Verify(theirs.Token)
		if err != nil {
			return auth.Identity{}, fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		if id.Process != theirs.Process {
			return auth.Identity{}, fmt.Errorf("%w: token names %s, hello names %s", ErrHandshake, id.Process, theirs.Process)
		}
		peer = *id
	}
	if peer.Process == "" {
		return auth.Identity{}, fmt.Errorf("%w: peer sent no process name", ErrHandshake)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	return peer, nil
}

// Dial connects to addr over TCP and attaches the connection.
func (t *StreamTransport) Dial(ctx context.Context, addr string) (auth.Identity, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("ipc: dial %s: %w", addr, err)
	}
	return t.Attach(ctx, conn)
}

// Serve attaches every connection accepted on ln until ctx is done or ln
// fails.
func (t *StreamTransport) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("ipc: accept: %w", err)
		}
		go func() {
			if _, err := t.Attach(ctx, conn); err != nil {
				t.logger.Warn("rejected link", "remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

func (t *StreamTransport) Send(ctx context.Context, to string, msg *Message) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mu.RLock()
	l, ok := t.links[to]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	buf, err := encodeFrame(msg, t.opts.MaxFrame)
	if err != nil {
		return err
	}
	select {
	case l.out <- buf:
		return nil
	case <-l.done:
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *StreamTransport) readLoop(l *link) {
	defer t.wg.Done()
	defer t.drop(l)
	ctx := auth.WithIdentity(t.ctx, l.peer)
	for {
		var msg Message
		if err := ReadFrame(l.conn, &msg, t.opts.MaxFrame); err != nil {
			select {
			case <-l.done:
			default:
				if !errors.Is(err, io.EOF) {
					t.logger.Warn("link read failed", "peer", l.peer.String(), "error", err)
				}
			}
			return
		}
		msg.From = l.peer.Process
		if msg.Call != nil {
			msg.Call.From = l.peer.Process
		}
		t.mu.RLock()
		h := t.handler
		t.mu.RUnlock()
		if h != nil {
			h(ctx, &msg)
		}
	}
}

func (t *StreamTransport) writeLoop(l *link) {
	defer t.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case buf := <-l.out:
			if _, err := l.conn.Write(buf); err != nil {
				t.logger.Warn("link write failed", "peer", l.peer.String(), "error", err)
				t.drop(l)
				return
			}
		}
	}
}

func (t *StreamTransport) drop(l *link) {
	l.close()
	t.mu.Lock()
	if t.links[l.peer.Process] == l {
		delete(t.links, l.peer.Process)
		t.logger.Info("link closed", "peer", l.peer.String())
	}
	t.mu.Unlock()
}

func (t *StreamTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()
	t.mu.Lock()
	links := make([]*link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	t.links = make(map[string]*link)
	t.mu.Unlock()
	for _, l := range links {
		l.close()
	}
	t.wg.Wait()
	return nil
}
