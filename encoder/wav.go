package encoder

import (
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavEncoder writes PCM16 mono RIFF/WAVE into memory. The header sizes
// are patched on Close.
type WavEncoder struct {
	blockWriter
	enc    *wav.Encoder
	format *audio.Format
}

func NewWav() *WavEncoder {
	e := &WavEncoder{
		format: &audio.Format{NumChannels: Channels, SampleRate: SampleRate},
	}
	e.enc = wav.NewEncoder(&e.out, SampleRate, BitsPerSample, Channels, 1)
	return e
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	return e.encode(block, func(frame []int16) error {
		data := make([]int, len(frame))
		for i, s := range frame {
			data[i] = int(s)
		}
		buf := &audio.IntBuffer{Format: e.format, Data: data, SourceBitDepth: BitsPerSample}
		if err := e.enc.Write(buf); err != nil {
			return fmt.Errorf("writing wav block: %w", err)
		}
		return nil
	})
}

func (e *WavEncoder) Close() error {
	return e.close(func() error {
		if e.totalFrames == 0 {
			// go-audio/wav only emits a header once samples were written.
			if err := e.enc.Write(&audio.IntBuffer{Format: e.format, SourceBitDepth: BitsPerSample}); err != nil {
				return fmt.Errorf("writing wav header: %w", err)
			}
		}
		return e.enc.Close()
	})
}

func (e *WavEncoder) Format() Format { return FormatWAV }
