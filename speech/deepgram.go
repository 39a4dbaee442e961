package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
)

var ErrNoCredentials = errors.New("speech: set DEEPGRAM_API_KEY to enable transcription")

type DeepgramOption func(*Deepgram)

func WithModel(model string) DeepgramOption {
	return func(d *Deepgram) { d.model = model }
}

// WithEndpoint points the client at a different listen URL.
func WithEndpoint(endpoint string) DeepgramOption {
	return func(d *Deepgram) { d.endpoint = endpoint }
}

type Deepgram struct {
	apiKey   string
	model    string
	endpoint string
}

func NewDeepgram(apiKey string, opts ...DeepgramOption) (*Deepgram, error) {
	if apiKey == "" {
		return nil, ErrNoCredentials
	}
	d := &Deepgram{apiKey: apiKey, model: defaultModel, endpoint: deepgramEndpoint}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// FromEnv builds the recognizer from DEEPGRAM_API_KEY.
func FromEnv(opts ...DeepgramOption) (*Deepgram, error) {
	return NewDeepgram(os.Getenv("DEEPGRAM_API_KEY"), opts...)
}

func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) listenURL(cfg Config) (string, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", d.model)
	q.Set("encoding", "linear16")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if cfg.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *Deepgram) Dial(ctx context.Context, cfg Config) (Conn, error) {
	endpoint, err := d.listenURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	return &deepgramConn{conn: conn}, nil
}

type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramConn struct {
	conn *websocket.Conn
}

func (c *deepgramConn) Send(ctx context.Context, pcm []byte) error {
	return c.conn.Write(ctx, websocket.MessageBinary, pcm)
}

// Recv skips metadata and other non-result messages.
func (c *deepgramConn) Recv(ctx context.Context) (Update, error) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return Update{}, err
		}
		u, ok := parseDeepgram(data)
		if ok {
			return u, nil
		}
	}
}

// closeStreamTimeout bounds the CloseStream write so a stalled connection
// cannot hold up Close.
var closeStreamTimeout = 2 * time.Second

func (c *deepgramConn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeStreamTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return c.conn.CloseNow()
	}
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func parseDeepgram(data []byte) (Update, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Update{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return Update{}, false
	}
	return Update{
		Transcript: strings.TrimSpace(resp.Channel.Alternatives[0].Transcript),
		Final:      resp.IsFinal || resp.SpeechFinal,
	}, true
}
