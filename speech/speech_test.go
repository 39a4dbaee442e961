package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type pushSource struct {
	mu     sync.Mutex
	active bool
	cb     func([]byte, uint32)
}

func (s *pushSource) Active() bool { return s.active }

func (s *pushSource) Subscribe(cb func([]byte, uint32)) func() {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.cb = nil
		s.mu.Unlock()
	}
}

func (s *pushSource) subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb != nil
}

func (s *pushSource) push() {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb(make([]byte, 320), 160)
	}
}

type recorder struct {
	events chan Event
}

func record(s *Session) *recorder {
	r := &recorder{events: make(chan Event, 64)}
	s.On(func(ev Event) { r.events <- ev })
	return r
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (r *recorder) waitState(t *testing.T, to State) {
	t.Helper()
	for {
		if sc, ok := r.next(t).(StateChanged); ok && sc.To == to {
			return
		}
	}
}

func (r *recorder) waitResult(t *testing.T) Result {
	t.Helper()
	for {
		if res, ok := r.next(t).(Result); ok {
			return res
		}
	}
}

func nextConn(t *testing.T, f *Fake) *FakeConn {
	t.Helper()
	select {
	case c := <-f.Conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("recognizer was not dialed")
		return nil
	}
}

func newTestSession(rec Recognizer) *Session {
	s := NewSession(rec, Config{SampleRate: 16000, Channels: 1})
	s.RestartDelay = time.Millisecond
	return s
}

func TestTranscriptJoinsFinalsAndInterim(t *testing.T) {
	fake := NewFake()
	s := newTestSession(fake)
	ev := record(s)
	src := &pushSource{active: true}

	if err := s.Start(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	ev.waitState(t, Listening)
	conn := nextConn(t, fake)

	conn.Emit(Update{Transcript: "hello", Final: true})
	if got := ev.waitResult(t); got.Transcript != "hello" || !got.Final {
		t.Errorf("result = %+v", got)
	}
	conn.Emit(Update{Transcript: "wor"})
	if got := ev.waitResult(t); got.Transcript != "hello wor" || got.Final {
		t.Errorf("result = %+v", got)
	}
	conn.Emit(Update{Transcript: " world ", Final: true})
	if got := ev.waitResult(t); got.Transcript != "hello world" {
		t.Errorf("result = %+v", got)
	}
	if s.Transcript() != "hello world" {
		t.Errorf("Transcript() = %q", s.Transcript())
	}
}

func TestAudioIsForwarded(t *testing.T) {
	fake := NewFake(Update{Transcript: "scripted", Final: true})
	s := newTestSession(fake)
	ev := record(s)
	src := &pushSource{active: true}
	if err := s.Start(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	conn := nextConn(t, fake)

	src.push()
	if got := ev.waitResult(t); got.Transcript != "scripted" {
		t.Errorf("result = %+v", got)
	}
	if conn.SentBytes() != 320 {
		t.Errorf("sent %d bytes, want 320", conn.SentBytes())
	}
}

func TestRestartAfterDrop(t *testing.T) {
	fake := NewFake()
	s := newTestSession(fake)
	restarts := prometheus.NewCounter(prometheus.CounterOpts{Name: "restarts"})
	s.Restarts = restarts
	ev := record(s)

	if err := s.Start(context.Background(), &pushSource{active: true}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	first := nextConn(t, fake)
	first.Drop()

	ev.waitState(t, Restarting)
	ev.waitState(t, Listening)
	nextConn(t, fake)
	if !first.Closed() {
		t.Error("dropped connection was not closed")
	}
	if fake.Dials() != 2 {
		t.Errorf("dials = %d, want 2", fake.Dials())
	}
	if got := testutil.ToFloat64(restarts); got != 1 {
		t.Errorf("restarts = %v, want 1", got)
	}
}

func TestRetriesExhausted(t *testing.T) {
	fake := NewFake()
	fake.DialErr = errors.New("network down")
	s := newTestSession(fake)
	s.MaxRestarts = 2
	ev := record(s)
	src := &pushSource{active: true}

	if err := s.Start(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	var final error
	for final == nil {
		if e, ok := ev.next(t).(Error); ok && errors.Is(e.Err, ErrRetriesExhausted) {
			final = e.Err
		}
	}
	ev.waitState(t, Stopped)
	<-s.Done()

	if fake.Dials() != 3 {
		t.Errorf("dials = %d, want 3", fake.Dials())
	}
	if s.State() != Stopped {
		t.Errorf("state = %v", s.State())
	}
	if src.subscribed() {
		t.Error("still subscribed after giving up")
	}
}

func TestResultResetsRestartCount(t *testing.T) {
	fake := NewFake()
	s := newTestSession(fake)
	s.MaxRestarts = 1
	ev := record(s)

	if err := s.Start(context.Background(), &pushSource{active: true}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	nextConn(t, fake).Drop()
	ev.waitState(t, Restarting)

	second := nextConn(t, fake)
	second.Emit(Update{Transcript: "still here", Final: true})
	ev.waitResult(t)
	second.Drop()
	ev.waitState(t, Restarting)

	nextConn(t, fake)
	ev.waitState(t, Listening)
	if s.State() != Listening {
		t.Errorf("state = %v, want listening", s.State())
	}
}

func TestStop(t *testing.T) {
	fake := NewFake()
	s := newTestSession(fake)
	ev := record(s)
	src := &pushSource{active: true}

	if err := s.Start(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	conn := nextConn(t, fake)
	s.Stop()
	ev.waitState(t, Stopped)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session goroutine did not exit")
	}
	if !conn.Closed() {
		t.Error("connection not closed")
	}
	if src.subscribed() {
		t.Error("still subscribed")
	}

	conn.Emit(Update{Transcript: "late", Final: true})
	s.Stop()
	select {
	case e := <-ev.events:
		t.Errorf("event after stop: %#v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSwitchSource(t *testing.T) {
	fake := NewFake()
	s := newTestSession(fake)
	first := &pushSource{active: true}
	if err := s.Start(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	conn := nextConn(t, fake)

	second := &pushSource{active: true}
	if err := s.Switch(second); err != nil {
		t.Fatal(err)
	}
	if first.subscribed() {
		t.Error("old source still subscribed")
	}
	second.push()
	deadline := time.Now().Add(2 * time.Second)
	for conn.SentBytes() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if conn.SentBytes() != 320 {
		t.Errorf("sent %d bytes after switch", conn.SentBytes())
	}
	if fake.Dials() != 1 {
		t.Errorf("switch redialed: %d dials", fake.Dials())
	}
}

func TestStartErrors(t *testing.T) {
	s := newTestSession(NewFake())
	if err := s.Start(context.Background(), &pushSource{}); !errors.Is(err, ErrInactiveStream) {
		t.Errorf("inactive: err = %v", err)
	}
	if err := s.Start(context.Background(), &pushSource{active: true}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if err := s.Start(context.Background(), &pushSource{active: true}); !errors.Is(err, ErrNotIdle) {
		t.Errorf("second start: err = %v", err)
	}
}

func TestStopIdle(t *testing.T) {
	s := newTestSession(NewFake())
	s.Stop()
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed for idle stop")
	}
	if err := s.Start(context.Background(), &pushSource{active: true}); !errors.Is(err, ErrNotIdle) {
		t.Errorf("start after stop: err = %v", err)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Listening: "listening", Restarting: "restarting", Stopped: "stopped"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q", s, s.String())
		}
	}
}
