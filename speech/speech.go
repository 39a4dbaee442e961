// Package speech runs a live transcription session over an audio stream,
// redialing the recognizer a bounded number of times when the connection
// ends on its own.
package speech

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRestartDelay = 100 * time.Millisecond
	DefaultMaxRestarts  = 3
)

var (
	ErrRetriesExhausted = errors.New("speech: recognizer kept disconnecting")
	ErrNotIdle          = errors.New("speech: session already started")
	ErrInactiveStream   = errors.New("speech: stream not active")
)

type State int

const (
	Idle State = iota
	Listening
	Restarting
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Restarting:
		return "restarting"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Update is one hypothesis from the recognizer. Final updates are never
// revised; a non-final one is replaced by the next update.
type Update struct {
	Transcript string
	Final      bool
}

type Config struct {
	SampleRate int
	Channels   int
	Language   string
}

// Conn is a single recognizer connection. Recv blocks until an update
// arrives, the connection ends, or ctx is done.
type Conn interface {
	Send(ctx context.Context, pcm []byte) error
	Recv(ctx context.Context) (Update, error)
	Close() error
}

type Recognizer interface {
	Name() string
	Dial(ctx context.Context, cfg Config) (Conn, error)
}

type Source interface {
	Active() bool
	Subscribe(cb func(pcm []byte, frameCount uint32)) (cancel func())
}

type Event interface{ event() }

type StateChanged struct{ From, To State }

// Result carries the whole transcript so far: committed finals followed
// by the current interim hypothesis.
type Result struct {
	Transcript string
	Final      bool
}

type Error struct{ Err error }

func (StateChanged) event() {}
func (Result) event()       {}
func (Error) event()        {}

type Listener func(Event)

type Session struct {
	rec Recognizer
	cfg Config

	RestartDelay time.Duration
	MaxRestarts  int
	// Restarts, if set, counts redials.
	Restarts prometheus.Counter

	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
	committed []string
	interim   string
	restarts  int
	cancel    context.CancelFunc
	unsub     func()
	audio     chan []byte
	done      chan struct{}
}

func NewSession(rec Recognizer, cfg Config) *Session {
	return &Session{
		rec:          rec,
		cfg:          cfg,
		RestartDelay: DefaultRestartDelay,
		MaxRestarts:  DefaultMaxRestarts,
		listeners:    make(map[int]Listener),
		done:         make(chan struct{}),
	}
}

// On registers fn for session events and returns a func that removes it.
// Listeners run on the session goroutine or the caller of Start/Stop,
// without the session lock held.
func (s *Session) On(fn Listener) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptLocked()
}

// Done is closed once the session has stopped and its goroutine exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Start(ctx context.Context, src Source) error {
	if src == nil || !src.Active() {
		return ErrInactiveStream
	}
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.audio = make(chan []byte, 256)
	audio := s.audio
	s.unsub = src.Subscribe(forward(audio))
	s.state = Listening
	s.mu.Unlock()

	s.emit(StateChanged{From: Idle, To: Listening})
	go s.run(ctx)
	return nil
}

func forward(audio chan<- []byte) func([]byte, uint32) {
	return func(pcm []byte, _ uint32) {
		buf := make([]byte, len(pcm))
		copy(buf, pcm)
		select {
		case audio <- buf:
		default:
		}
	}
}

// Switch feeds the session from src instead of its current source. The
// recognizer connection is kept.
func (s *Session) Switch(src Source) error {
	if src == nil || !src.Active() {
		return ErrInactiveStream
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Idle || s.state == Stopped {
		return fmt.Errorf("speech: switch while %s", s.state)
	}
	if s.unsub != nil {
		s.unsub()
	}
	s.unsub = src.Subscribe(forward(s.audio))
	return nil
}

// Stop moves the session to Stopped from any state. It does not wait for
// the session goroutine; use Done for that.
func (s *Session) Stop() {
	s.mu.Lock()
	prev := s.state
	if prev == Stopped {
		s.mu.Unlock()
		return
	}
	s.state = Stopped
	s.releaseLocked()
	s.mu.Unlock()

	if prev == Idle {
		close(s.done)
	}
	s.emit(StateChanged{From: prev, To: Stopped})
}

func (s *Session) releaseLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		err := s.connect(ctx)
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if s.state != Listening {
			s.mu.Unlock()
			return
		}
		s.restarts++
		if s.restarts > s.MaxRestarts {
			s.state = Stopped
			s.releaseLocked()
			s.mu.Unlock()
			if err == nil {
				err = errors.New("connection closed")
			}
			s.emit(Error{Err: fmt.Errorf("%w: %w", ErrRetriesExhausted, err)})
			s.emit(StateChanged{From: Listening, To: Stopped})
			return
		}
		s.state = Restarting
		s.mu.Unlock()

		if err != nil {
			s.emit(Error{Err: err})
		}
		s.emit(StateChanged{From: Listening, To: Restarting})
		if s.Restarts != nil {
			s.Restarts.Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.RestartDelay):
		}

		if !s.transition(Restarting, Listening) {
			return
		}
	}
}

func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()
	s.emit(StateChanged{From: from, To: to})
	return true
}

// connect runs one recognizer connection until it ends.
func (s *Session) connect(ctx context.Context) error {
	conn, err := s.rec.Dial(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.rec.Name(), err)
	}
	defer conn.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case pcm := <-s.audio:
				if err := conn.Send(gctx, pcm); err != nil {
					return fmt.Errorf("send: %w", err)
				}
			}
		}
	})
	g.Go(func() error {
		for {
			u, err := conn.Recv(gctx)
			if err != nil {
				return fmt.Errorf("recv: %w", err)
			}
			s.handle(u)
		}
	})
	return g.Wait()
}

func (s *Session) handle(u Update) {
	text := strings.TrimSpace(u.Transcript)
	s.mu.Lock()
	if s.state != Listening {
		s.mu.Unlock()
		return
	}
	if u.Final {
		if text != "" {
			s.committed = append(s.committed, text)
		}
		s.interim = ""
	} else {
		s.interim = text
	}
	if text != "" {
		s.restarts = 0
	}
	transcript := s.transcriptLocked()
	s.mu.Unlock()

	s.emit(Result{Transcript: transcript, Final: u.Final})
}

func (s *Session) transcriptLocked() string {
	parts := s.committed
	if s.interim != "" {
		parts = append(parts[:len(parts):len(parts)], s.interim)
	}
	return strings.Join(parts, " ")
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	ids := slices.Sorted(maps.Keys(s.listeners))
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
