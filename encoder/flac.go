package encoder

import (
	"fmt"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacEncoder writes mono FLAC into memory, one frame per block. Silent
// or otherwise constant blocks use a constant subframe; everything else
// is stored verbatim.
type FlacEncoder struct {
	blockWriter
	enc *flac.Encoder
}

func NewFlac() (*FlacEncoder, error) {
	e := &FlacEncoder{}
	info := &meta.StreamInfo{
		BlockSizeMin:  16,
		BlockSizeMax:  BlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
	}
	enc, err := flac.NewEncoder(&e.out, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	e.enc = enc
	return e, nil
}

func (e *FlacEncoder) EncodeBlock(block []int16) error {
	return e.encode(block, e.writeFrame)
}

func (e *FlacEncoder) writeFrame(block []int16) error {
	samples := make([]int32, len(block))
	constant := true
	for i, s := range block {
		samples[i] = int32(s)
		constant = constant && s == block[0]
	}
	pred := frame.PredVerbatim
	if constant {
		pred = frame.PredConstant
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: pred},
			Samples:   samples,
			NSamples:  len(block),
		}},
	}
	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	return nil
}

func (e *FlacEncoder) Close() error {
	return e.close(e.enc.Close)
}

func (e *FlacEncoder) Format() Format { return FormatFLAC }
