package recorder

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"micpanel/encoder"
)

type pushSource struct {
	active bool
	cb     func([]byte, uint32)
}

func (s *pushSource) Active() bool { return s.active }

func (s *pushSource) Subscribe(cb func([]byte, uint32)) func() {
	s.cb = cb
	return func() { s.cb = nil }
}

func (s *pushSource) push(samples []int16) {
	if s.cb == nil {
		return
	}
	pcm := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	s.cb(pcm, uint32(len(samples)))
}

func TestRecordRoundTrip(t *testing.T) {
	for _, format := range []encoder.Format{encoder.FormatWAV, encoder.FormatFLAC} {
		t.Run(string(format), func(t *testing.T) {
			src := &pushSource{active: true}
			r, err := Start(src, format)
			if err != nil {
				t.Fatal(err)
			}

			var want []int16
			for chunk := 0; chunk < 20; chunk++ {
				s := make([]int16, 1000)
				for i := range s {
					s[i] = int16(chunk*100 + i%50)
				}
				want = append(want, s...)
				src.push(s)
			}

			blob, err := r.Stop()
			if err != nil {
				t.Fatal(err)
			}
			if src.cb != nil {
				t.Error("recorder still subscribed after Stop")
			}
			if blob.Format != format {
				t.Errorf("format = %s", blob.Format)
			}
			if blob.Frames != uint64(len(want)) {
				t.Errorf("frames = %d, want %d", blob.Frames, len(want))
			}
			if blob.Duration != 1250*time.Millisecond {
				t.Errorf("duration = %v, want 1.25s", blob.Duration)
			}

			got, _, err := encoder.Decode(blob.Format, blob.Data)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(want) {
				t.Fatalf("decoded %d samples, want %d", len(got), len(want))
			}
			for i := range got {
				if got[i] != want[i] {
					t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
				}
			}
		})
	}
}

func TestSwitchContinuesBlob(t *testing.T) {
	first := &pushSource{active: true}
	r, err := Start(first, encoder.FormatWAV)
	if err != nil {
		t.Fatal(err)
	}
	first.push([]int16{1, 2, 3})

	second := &pushSource{active: true}
	if err := r.Switch(second); err != nil {
		t.Fatal(err)
	}
	if first.cb != nil {
		t.Error("still subscribed to the old source")
	}
	second.push([]int16{4, 5})

	blob, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	got, _, err := encoder.Decode(blob.Format, blob.Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 || got[0] != 1 || got[4] != 5 {
		t.Errorf("decoded %v", got)
	}
	if err := r.Switch(&pushSource{active: true}); err == nil {
		t.Error("Switch after Stop succeeded")
	}
	if err := (&Recorder{}).Switch(&pushSource{}); err == nil {
		t.Error("Switch to inactive source succeeded")
	}
}

func TestStopEmpty(t *testing.T) {
	r, err := Start(&pushSource{active: true}, encoder.FormatWAV)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Stop(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}

func TestStopTwice(t *testing.T) {
	src := &pushSource{active: true}
	r, _ := Start(src, encoder.FormatWAV)
	src.push([]int16{1, 2, 3})
	if _, err := r.Stop(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Stop(); err == nil {
		t.Error("second Stop succeeded")
	}
}

func TestStartInactive(t *testing.T) {
	if _, err := Start(&pushSource{}, encoder.FormatWAV); err == nil {
		t.Error("Start on inactive source succeeded")
	}
}

func TestMimeType(t *testing.T) {
	if got := (Blob{Format: encoder.FormatWAV}).MimeType(); got != "audio/wav" {
		t.Errorf("MimeType = %q", got)
	}
}
