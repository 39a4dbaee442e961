package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
)

// Decode returns the first channel of an encoded blob as PCM16 samples
// together with its sample rate.
func Decode(format Format, data []byte) ([]int16, int, error) {
	switch format {
	case FormatWAV:
		return decodeWav(data)
	case FormatFLAC:
		return decodeFlac(data)
	}
	return nil, 0, fmt.Errorf("unknown format %q", format)
}

func decodeWav(data []byte) ([]int16, int, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, 0, errors.New("decode wav: invalid file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	chans := int(d.NumChans)
	if chans < 1 {
		chans = 1
	}
	out := make([]int16, 0, len(buf.Data)/chans)
	for i := 0; i < len(buf.Data); i += chans {
		out = append(out, int16(buf.Data[i]))
	}
	return out, int(d.SampleRate), nil
}

func decodeFlac(data []byte) ([]int16, int, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("decode flac: %w", err)
	}
	defer stream.Close()

	var out []int16
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("decode flac frame: %w", err)
		}
		if len(f.Subframes) == 0 {
			continue
		}
		for _, s := range f.Subframes[0].Samples {
			out = append(out, int16(s))
		}
	}
	return out, int(stream.Info.SampleRate), nil
}
