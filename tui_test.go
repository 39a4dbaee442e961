package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"

	"micpanel/audio"
	"micpanel/meter"
	"micpanel/speech"
)

func TestWrapText(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  []string
	}{
		{"", 10, []string{""}},
		{"short", 10, []string{"short"}},
		{"hello world again", 11, []string{"hello world", "again"}},
		{"hello world again", 8, []string{"hello", "world", "again"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"héllo wörld", 5, []string{"héllo", "wörld"}},
		{"日本語のテキスト", 3, []string{"日本語", "のテキ", "スト"}},
	}
	for _, tt := range tests {
		got := wrapText(tt.text, tt.width)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
		}
		for _, line := range got {
			if !utf8.ValidString(line) {
				t.Errorf("wrapText(%q, %d) split a rune: %q", tt.text, tt.width, line)
			}
		}
	}
}

func TestMoveCursorWraps(t *testing.T) {
	if got := moveCursor(0, -1, 3); got != 2 {
		t.Errorf("up from top = %d", got)
	}
	if got := moveCursor(2, 1, 3); got != 0 {
		t.Errorf("down from bottom = %d", got)
	}
	if got := moveCursor(1, 1, 3); got != 2 {
		t.Errorf("down = %d", got)
	}
}

func TestLevelBarFill(t *testing.T) {
	filled := func(s string) int { return strings.Count(s, "█") }

	tests := []struct {
		loudness float64
		want     int
	}{
		{-80, 0},
		{-60, 0},
		{-10, 25},
		{40, 50},
		{90, 50},
	}
	for _, tt := range tests {
		bar := levelBar(meter.Reading{Loudness: tt.loudness}, 50)
		if got := filled(bar); got != tt.want {
			t.Errorf("loudness %v: filled %d, want %d", tt.loudness, got, tt.want)
		}
	}

	bar := levelBar(meter.Reading{Loudness: 0, Peak: 255}, 10)
	if !strings.Contains(bar, "▏") {
		t.Errorf("peak marker missing: %q", bar)
	}
}

func TestTUISinkSnapshot(t *testing.T) {
	s := newTUISink()
	s.Talking("Sales", true, "Desk Mic")
	s.Level("Sales", meter.Reading{Loudness: 12, Peak: 40})
	s.SpeechState("Sales", speech.Listening)
	s.Transcript("Sales", "hi there")
	s.Error("Client", errors.New("boom"))

	v := s.snapshot("Sales")
	if !v.talking || v.device != "Desk Mic" || v.level.Loudness != 12 {
		t.Errorf("snapshot = %+v", v)
	}
	if v.speech != speech.Listening || v.transcript != "hi there" {
		t.Errorf("speech fields = %v %q", v.speech, v.transcript)
	}
	if c := s.snapshot("Client"); c.err != "boom" {
		t.Errorf("client err = %q", c.err)
	}

	s.Talking("Sales", false, "")
	if v := s.snapshot("Sales"); v.level != (meter.Reading{}) {
		t.Errorf("level not cleared on stop: %+v", v.level)
	}
}

func newTestModel(t *testing.T) (tuiModel, *panelEnv) {
	t.Helper()
	env := newPanelEnv(t, audio.NewFakeContextPCM(audio.Tone(440, 0.5, 2*time.Second), true))
	sink := newTUISink()
	env.deps.Sink = sink
	panels := []*Panel{NewPanel("Sales", env.deps), NewPanel("Client", env.deps)}
	t.Cleanup(func() {
		for _, p := range panels {
			p.Close()
		}
	})
	return tuiModel{
		ctx:      context.Background(),
		audio:    env.fake,
		panels:   panels,
		sink:     sink,
		frames:   env.frames,
		interval: 10 * time.Millisecond,
		width:    120,
		height:   40,
	}, env
}

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// step feeds msg to the model and runs the returned command once.
func step(t *testing.T, m tuiModel, msg tea.Msg) (tuiModel, tea.Msg) {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(tuiModel)
	if cmd == nil {
		return m, nil
	}
	return m, cmd()
}

func TestTUITalkToggle(t *testing.T) {
	m, env := newTestModel(t)

	m, done := step(t, m, key(" "))
	if _, ok := done.(opDoneMsg); !ok {
		t.Fatalf("space returned %T", done)
	}
	if !m.panels[0].Talking() || m.panels[1].Talking() {
		t.Fatal("space should start only the focused panel")
	}

	eventually(t, "a level reading", func() bool {
		m.Update(tickMsg(time.Now()))
		return m.sink.snapshot("Sales").level.Loudness > 0
	})
	if !strings.Contains(m.View(), "TALKING") {
		t.Error("view does not show the talking panel")
	}

	m, _ = step(t, m, key(" "))
	if m.panels[0].Talking() || env.fake.OpenCaptures() != 0 {
		t.Error("second space should stop talking")
	}
}

func TestTUIFocus(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = step(t, m, key("tab"))
	if m.focus != 1 {
		t.Fatalf("focus = %d after tab", m.focus)
	}
	m, _ = step(t, m, key("tab"))
	if m.focus != 0 {
		t.Errorf("focus = %d, want wrap to 0", m.focus)
	}
}

func TestTUIInputPicker(t *testing.T) {
	m, _ := newTestModel(t)
	m.focus = 1

	m, msg := step(t, m, key("i"))
	m, _ = step(t, m, msg)
	if m.picker == nil || len(m.picker.devices) != 2 {
		t.Fatalf("picker = %+v", m.picker)
	}
	if !strings.Contains(m.View(), "Select input device for Client") {
		t.Errorf("picker view:\n%s", m.View())
	}

	m, _ = step(t, m, key("down"))
	m, done := step(t, m, key("enter"))
	m, _ = step(t, m, done)
	if m.picker != nil {
		t.Error("picker still open")
	}
	if in := m.panels[1].Input(); in == nil || in.ID != "mic-b" {
		t.Errorf("Client input = %+v", in)
	}
	if m.panels[0].Input() != nil {
		t.Error("Sales input changed")
	}
	if !strings.Contains(m.status, "Headset Mic") {
		t.Errorf("status = %q", m.status)
	}
}

func TestTUIOpErrorStatus(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = step(t, m, key("c"))
	if !strings.Contains(m.status, "Sales") {
		t.Errorf("status = %q", m.status)
	}

	m.status = ""
	m, _ = step(t, m, opDoneMsg{panel: 0, err: context.Canceled})
	if m.status != "" {
		t.Errorf("canceled playback set status %q", m.status)
	}
}
