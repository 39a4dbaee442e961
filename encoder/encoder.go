package encoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// ErrClosed is returned when a block arrives after Close.
var ErrClosed = errors.New("encoder closed")

type Format string

const (
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatWAV, FormatFLAC:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown format %q (use wav or flac)", s)
}

func (f Format) MimeType() string {
	if f == FormatFLAC {
		return "audio/flac"
	}
	return "audio/wav"
}

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	Format() Format
}

func New(format Format) (Encoder, error) {
	switch format {
	case FormatWAV:
		return NewWav(), nil
	case FormatFLAC:
		return NewFlac()
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

// Samples converts little-endian PCM16 bytes to samples. A trailing odd
// byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// blockWriter holds what every format shares: the lock, splitting input
// into frames of at most BlockSize samples, the frame count and a Close
// that runs once. Output goes to an in-memory seekable buffer so encoders
// can patch their headers on Close.
type blockWriter struct {
	mu          sync.Mutex
	out         seekBuffer
	totalFrames uint64
	closed      bool
}

func (b *blockWriter) encode(block []int16, write func([]int16) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for len(block) > 0 {
		n := min(len(block), BlockSize)
		if err := write(block[:n]); err != nil {
			return err
		}
		b.totalFrames += uint64(n)
		block = block[n:]
	}
	return nil
}

func (b *blockWriter) close(finish func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return finish()
}

func (b *blockWriter) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.out.data
}

func (b *blockWriter) TotalFrames() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalFrames
}

// seekBuffer is an in-memory io.WriteSeeker.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		if end > cap(b.data) {
			grown := make([]byte, end, 2*end)
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:end]
		}
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, errors.New("seek: invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("seek: negative position")
	}
	b.pos = int(next)
	return next, nil
}
