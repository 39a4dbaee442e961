package speech

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func deepgramServer(t *testing.T, handler func(ctx context.Context, c *websocket.Conn)) (*httptest.Server, chan *http.Request) {
	t.Helper()
	reqs := make(chan *http.Request, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs <- r
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.CloseNow()
		handler(r.Context(), c)
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDeepgramRecv(t *testing.T) {
	srv, reqs := deepgramServer(t, func(ctx context.Context, c *websocket.Conn) {
		typ, data, err := c.Read(ctx)
		if err != nil || typ != websocket.MessageBinary || len(data) != 4 {
			t.Errorf("read audio: %v %v %d", typ, err, len(data))
			return
		}
		c.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata"}`))
		c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":" hi there "}]}}`))
		c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","speech_final":true,"channel":{"alternatives":[{"transcript":"hi there."}]}}`))
		c.Read(ctx)
	})

	dg, err := NewDeepgram("secret", WithEndpoint(wsURL(srv)), WithModel("base"))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dg.Dial(ctx, Config{SampleRate: 16000, Channels: 1, Language: "en-US"})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	r := <-reqs
	if got := r.Header.Get("Authorization"); got != "Token secret" {
		t.Errorf("Authorization = %q", got)
	}
	q := r.URL.Query()
	for k, want := range map[string]string{
		"model": "base", "encoding": "linear16", "sample_rate": "16000",
		"channels": "1", "language": "en-US", "interim_results": "true",
	} {
		if q.Get(k) != want {
			t.Errorf("%s = %q, want %q", k, q.Get(k), want)
		}
	}

	if err := conn.Send(ctx, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	u, err := conn.Recv(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if u.Transcript != "hi there" || u.Final {
		t.Errorf("first update = %+v", u)
	}
	u, err = conn.Recv(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if u.Transcript != "hi there." || !u.Final {
		t.Errorf("second update = %+v", u)
	}
}

func TestDeepgramSessionRestartsOnServerClose(t *testing.T) {
	srv, _ := deepgramServer(t, func(ctx context.Context, c *websocket.Conn) {
		c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"one"}]}}`))
		c.Close(websocket.StatusGoingAway, "bye")
	})
	dg, err := NewDeepgram("k", WithEndpoint(wsURL(srv)))
	if err != nil {
		t.Fatal(err)
	}

	s := newTestSession(dg)
	s.MaxRestarts = 5
	ev := record(s)
	if err := s.Start(context.Background(), &pushSource{active: true}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if got := ev.waitResult(t); got.Transcript != "one" {
		t.Errorf("result = %+v", got)
	}
	ev.waitState(t, Restarting)
	if got := ev.waitResult(t); got.Transcript != "one one" {
		t.Errorf("after redial = %+v", got)
	}
}

func TestNewDeepgramRequiresKey(t *testing.T) {
	if _, err := NewDeepgram(""); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("err = %v", err)
	}
	t.Setenv("DEEPGRAM_API_KEY", "")
	if _, err := FromEnv(); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("FromEnv err = %v", err)
	}
}

func TestParseDeepgramIgnoresNoise(t *testing.T) {
	for _, msg := range []string{
		`not json`,
		`{"type":"Metadata"}`,
		`{"type":"Results","channel":{"alternatives":[]}}`,
	} {
		if _, ok := parseDeepgram([]byte(msg)); ok {
			t.Errorf("parsed %s", msg)
		}
	}
}

func TestDeepgramCloseStalledWriter(t *testing.T) {
	srv, _ := deepgramServer(t, func(ctx context.Context, c *websocket.Conn) {
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	})
	old := closeStreamTimeout
	closeStreamTimeout = 50 * time.Millisecond
	t.Cleanup(func() { closeStreamTimeout = old })

	dg, err := NewDeepgram("secret", WithEndpoint(wsURL(srv)))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := dg.Dial(ctx, Config{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}

	// An unfinished message keeps the writer busy, so CloseStream cannot
	// be sent.
	if _, err := conn.(*deepgramConn).conn.Writer(ctx, websocket.MessageText); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		conn.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked on a stalled connection")
	}
}
