package speech

import (
	"context"
	"errors"
	"sync"
)

var errDropped = errors.New("fake: connection dropped")

// Fake is a scripted Recognizer. Every dialed connection is published on
// Conns so tests can drive it. Script, if set, is replayed on each
// connection once the first audio arrives.
type Fake struct {
	Script  []Update
	DialErr error
	Conns   chan *FakeConn

	mu    sync.Mutex
	dials int
}

func NewFake(script ...Update) *Fake {
	return &Fake{Script: script, Conns: make(chan *FakeConn, 16)}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *Fake) Dial(ctx context.Context, _ Config) (Conn, error) {
	f.mu.Lock()
	f.dials++
	err := f.DialErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c := &FakeConn{
		updates: make(chan Update, 64),
		dropped: make(chan struct{}),
		closed:  make(chan struct{}),
		script:  f.Script,
	}
	select {
	case f.Conns <- c:
	default:
	}
	return c, nil
}

type FakeConn struct {
	updates chan Update
	dropped chan struct{}
	closed  chan struct{}
	script  []Update

	mu        sync.Mutex
	sent      int
	dropOnce  sync.Once
	closeOnce sync.Once
}

func (c *FakeConn) Send(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	first := c.sent == 0
	c.sent += len(pcm)
	c.mu.Unlock()
	if first {
		for _, u := range c.script {
			c.Emit(u)
		}
	}
	return nil
}

func (c *FakeConn) Recv(ctx context.Context) (Update, error) {
	select {
	case u := <-c.updates:
		return u, nil
	case <-c.dropped:
		return Update{}, errDropped
	case <-c.closed:
		return Update{}, errors.New("fake: connection closed")
	case <-ctx.Done():
		return Update{}, ctx.Err()
	}
}

func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Emit queues an update for Recv.
func (c *FakeConn) Emit(u Update) {
	select {
	case c.updates <- u:
	default:
	}
}

// Drop ends the connection as if the server went away.
func (c *FakeConn) Drop() {
	c.dropOnce.Do(func() { close(c.dropped) })
}

func (c *FakeConn) SentBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func (c *FakeConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
