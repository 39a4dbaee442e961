package encoder

import (
	"errors"
	"testing"
)

func ramp(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(i%2000 - 1000)
	}
	return s
}

func TestFlacEncoder(t *testing.T) {
	samples := ramp(BlockSize*2 + BlockSize/3)

	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	var totalFed uint64
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		block := samples[i:end]
		if err := enc.EncodeBlock(block); err != nil {
			t.Fatalf("EncodeBlock at offset %d: %v", i, err)
		}
		totalFed += uint64(len(block))
	}

	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if enc.TotalFrames() != totalFed {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), totalFed)
	}

	flacData := enc.Bytes()
	if len(flacData) < 4 || string(flacData[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}

	got, rate, err := Decode(FormatFLAC, flacData)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rate != SampleRate {
		t.Errorf("rate = %d, want %d", rate, SampleRate)
	}
	if len(got) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(samples))
	}
	for i := range got {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestFlacEncoderEmpty(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.EncodeBlock(nil); err != nil {
		t.Fatalf("EncodeBlock(nil): %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on empty encoder: %v", err)
	}
	if enc.TotalFrames() != 0 {
		t.Errorf("TotalFrames = %d, want 0", enc.TotalFrames())
	}
	if len(enc.Bytes()) == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
}

func TestFlacConstantBlocksAreCompact(t *testing.T) {
	encode := func(samples []int16) []byte {
		t.Helper()
		enc, err := NewFlac()
		if err != nil {
			t.Fatal(err)
		}
		if err := enc.EncodeBlock(samples); err != nil {
			t.Fatal(err)
		}
		if err := enc.Close(); err != nil {
			t.Fatal(err)
		}
		return enc.Bytes()
	}

	silence := make([]int16, BlockSize*2)
	quiet := encode(silence)
	loud := encode(ramp(len(silence)))
	if len(quiet)*4 > len(loud) {
		t.Errorf("silence encoded to %d bytes, ramp to %d", len(quiet), len(loud))
	}

	got, _, err := Decode(FormatFLAC, quiet)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(silence) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(silence))
	}
	for i, s := range got {
		if s != 0 {
			t.Fatalf("sample %d = %d, want 0", i, s)
		}
	}
}

func TestEncodersSplitLongBlocks(t *testing.T) {
	for _, format := range []Format{FormatWAV, FormatFLAC} {
		enc, err := New(format)
		if err != nil {
			t.Fatal(err)
		}
		samples := ramp(BlockSize*3 + 7)
		if err := enc.EncodeBlock(samples); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if err := enc.Close(); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if enc.TotalFrames() != uint64(len(samples)) {
			t.Errorf("%s: TotalFrames = %d, want %d", format, enc.TotalFrames(), len(samples))
		}
		got, _, err := Decode(format, enc.Bytes())
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if len(got) != len(samples) || got[len(got)-1] != samples[len(samples)-1] {
			t.Errorf("%s: decoded %d samples, want %d", format, len(got), len(samples))
		}

		if err := enc.Close(); err != nil {
			t.Errorf("%s: second Close: %v", format, err)
		}
		if err := enc.EncodeBlock(samples[:10]); !errors.Is(err, ErrClosed) {
			t.Errorf("%s: EncodeBlock after Close = %v, want ErrClosed", format, err)
		}
	}
}
