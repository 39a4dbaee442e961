package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"micpanel/audio"
	"micpanel/meter"
	"micpanel/speech"
)

const (
	// displayOffset shifts the dB reading onto a 0-100 bar.
	displayOffset = 60
	levelRed      = 36
	levelYellow   = 30
	errorTTL      = 5 * time.Second
)

type panelView struct {
	level      meter.Reading
	talking    bool
	device     string
	speech     speech.State
	transcript string
	recorded   float64
	err        string
	errAt      time.Time
}

// tuiSink collects panel events for the next render. It never blocks the
// caller, so panels may report while holding their own locks.
type tuiSink struct {
	mu    sync.Mutex
	views map[string]*panelView
}

func newTUISink() *tuiSink {
	return &tuiSink{views: make(map[string]*panelView)}
}

func (s *tuiSink) view(panel string) *panelView {
	v, ok := s.views[panel]
	if !ok {
		v = &panelView{}
		s.views[panel] = v
	}
	return v
}

func (s *tuiSink) update(panel string, fn func(v *panelView)) {
	s.mu.Lock()
	fn(s.view(panel))
	s.mu.Unlock()
}

func (s *tuiSink) Level(panel string, r meter.Reading) {
	s.update(panel, func(v *panelView) { v.level = r })
}

func (s *tuiSink) Talking(panel string, on bool, device string) {
	s.update(panel, func(v *panelView) {
		v.talking = on
		v.device = device
		if !on {
			v.level = meter.Reading{}
		}
	})
}

func (s *tuiSink) SpeechState(panel string, st speech.State) {
	s.update(panel, func(v *panelView) { v.speech = st })
}

func (s *tuiSink) Transcript(panel string, text string) {
	s.update(panel, func(v *panelView) { v.transcript = text })
}

func (s *tuiSink) Recorded(panel string, seconds float64) {
	s.update(panel, func(v *panelView) { v.recorded = seconds })
}

func (s *tuiSink) Error(panel string, err error) {
	s.update(panel, func(v *panelView) {
		v.err = err.Error()
		v.errAt = time.Now()
	})
}

func (s *tuiSink) snapshot(panel string) panelView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.view(panel)
}

type tickMsg time.Time

type opDoneMsg struct {
	panel int
	text  string
	err   error
}

type devicesMsg struct {
	kind    audio.DeviceKind
	devices []audio.DeviceInfo
	err     error
}

type picker struct {
	kind    audio.DeviceKind
	devices []audio.DeviceInfo
	cursor  int
}

type tuiModel struct {
	ctx      context.Context
	audio    audio.Context
	panels   []*Panel
	sink     *tuiSink
	frames   *meter.FrameLoop
	interval time.Duration

	focus         int
	picker        *picker
	status        string
	width, height int
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	barRed       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	barYellow    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	barGreen     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	focusBorder  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("51")).Padding(0, 1)
	normalBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
)

func NewTUIProgram(ctx context.Context, actx audio.Context, panels []*Panel, sink *tuiSink, frames *meter.FrameLoop, interval time.Duration) *tea.Program {
	m := tuiModel{
		ctx:      ctx,
		audio:    actx,
		panels:   panels,
		sink:     sink,
		frames:   frames,
		interval: interval,
	}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick(m.interval)
}

func (m tuiModel) panelOp(fn func(p *Panel) (string, error)) tea.Cmd {
	idx := m.focus
	p := m.panels[idx]
	return func() tea.Msg {
		text, err := fn(p)
		return opDoneMsg{panel: idx, text: text, err: err}
	}
}

func (m tuiModel) listDevices(kind audio.DeviceKind) tea.Cmd {
	return func() tea.Msg {
		devices, err := m.audio.Devices(kind)
		return devicesMsg{kind: kind, devices: devices, err: err}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// Meter callbacks run here, on the UI goroutine.
		m.frames.RunFrame(time.Time(msg))
		return m, tuiTick(m.interval)

	case opDoneMsg:
		switch {
		case msg.err != nil && !isQuiet(msg.err):
			m.status = fmt.Sprintf("%s: %v", m.panels[msg.panel].Name(), msg.err)
		case msg.text != "":
			m.status = msg.text
		}

	case devicesMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("enumerating devices: %v", msg.err)
			return m, nil
		}
		if len(msg.devices) == 0 {
			m.status = fmt.Sprintf("no %s devices found", msg.kind)
			return m, nil
		}
		m.picker = &picker{kind: msg.kind, devices: msg.devices}

	case tea.KeyMsg:
		if m.picker != nil {
			return m.updatePicker(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m tuiModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "tab", "right", "l":
		m.focus = (m.focus + 1) % len(m.panels)
	case "shift+tab", "left", "h":
		m.focus = (m.focus + len(m.panels) - 1) % len(m.panels)
	case " ", "enter":
		ctx := m.ctx
		return m, m.panelOp(func(p *Panel) (string, error) {
			if p.Talking() {
				return "", p.StopTalking()
			}
			return "", p.StartTalking(ctx)
		})
	case "i":
		return m, m.listDevices(audio.KindInput)
	case "o":
		return m, m.listDevices(audio.KindOutput)
	case "p":
		ctx := m.ctx
		return m, m.panelOp(func(p *Panel) (string, error) {
			return "", p.Play(ctx)
		})
	case "t":
		ctx := m.ctx
		return m, m.panelOp(func(p *Panel) (string, error) {
			on, err := p.ToggleTranscription(ctx)
			if err != nil {
				return "", err
			}
			if on {
				return p.Name() + ": transcription on", nil
			}
			return p.Name() + ": transcription off", nil
		})
	case "c":
		return m, m.panelOp(func(p *Panel) (string, error) {
			if err := p.CopyTranscript(); err != nil {
				return "", err
			}
			return p.Name() + ": transcript copied", nil
		})
	}
	return m, nil
}

func (m tuiModel) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	pk := m.picker
	switch msg.String() {
	case "esc", "q":
		m.picker = nil
	case "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		pk.cursor = moveCursor(pk.cursor, -1, len(pk.devices))
	case "down", "j":
		pk.cursor = moveCursor(pk.cursor, 1, len(pk.devices))
	case "enter":
		dev := pk.devices[pk.cursor]
		kind := pk.kind
		m.picker = nil
		return m, m.panelOp(func(p *Panel) (string, error) {
			if kind == audio.KindOutput {
				p.SelectOutput(&dev)
				return p.Name() + ": output " + dev.Label(), nil
			}
			if err := p.SelectInput(&dev); err != nil {
				return "", err
			}
			return p.Name() + ": input " + dev.Label(), nil
		})
	}
	return m, nil
}

func moveCursor(cursor, delta, n int) int {
	cursor += delta
	if cursor < 0 {
		return n - 1
	}
	if cursor >= n {
		return 0
	}
	return cursor
}

// levelBar renders loudness as a bar of width cells. The bar is offset so
// quiet rooms still show some fill; colour follows the raw reading.
func levelBar(r meter.Reading, width int) string {
	pct := r.Loudness + displayOffset
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	style := barGreen
	switch {
	case r.Loudness > levelRed:
		style = barRed
	case r.Loudness > levelYellow:
		style = barYellow
	}
	bar := []rune(strings.Repeat("█", filled) + strings.Repeat("░", width-filled))
	if peak := int(float64(r.Peak) / 255 * float64(width-1)); r.Peak > 0 && peak >= filled {
		bar[peak] = '▏'
	}
	return style.Render(string(bar))
}

func (m tuiModel) renderPanel(i, width int) string {
	p := m.panels[i]
	v := m.sink.snapshot(p.Name())
	inner := width - 4
	if inner < 20 {
		inner = 20
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(p.Name()))
	b.WriteString("  ")
	if v.talking {
		b.WriteString(recStyle.Render("● TALKING"))
	} else {
		b.WriteString(dimStyle.Render("○ idle"))
	}
	b.WriteString("\n\n")

	in := deviceName(p.Input())
	if p.Input() != nil && audio.IsBluetooth(p.Input().Name) {
		in += " (BT!)"
	}
	b.WriteString(dimStyle.Render("in:  "+in) + "\n")
	b.WriteString(dimStyle.Render("out: "+deviceName(p.Output())) + "\n")
	if v.talking && v.device != "" {
		b.WriteString(dimStyle.Render("live: "+v.device) + "\n")
	}
	b.WriteString("\n")

	switch {
	case p.MeterDisabled():
		b.WriteString(errStyle.Render("level meter unavailable") + "\n")
	case v.talking:
		b.WriteString(levelBar(v.level, inner) + "\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("%5.1f dB", v.level.Loudness)) + "\n")
	default:
		b.WriteString(dimStyle.Render(strings.Repeat("░", inner)) + "\n\n")
	}

	if v.recorded > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("recording: %.1fs (p to play)", v.recorded)) + "\n")
	}

	tx := "transcription off"
	if p.Transcribing() {
		tx = "transcription " + v.speech.String()
	}
	b.WriteString(dimStyle.Render(tx) + "\n")
	if v.transcript != "" {
		for _, line := range wrapText(v.transcript, inner) {
			b.WriteString(textStyle.Render(line) + "\n")
		}
	}
	if v.err != "" && time.Since(v.errAt) < errorTTL {
		b.WriteString(errStyle.Render("⚠ "+v.err) + "\n")
	}

	style := normalBorder
	if i == m.focus {
		style = focusBorder
	}
	return style.Width(width - 2).Render(b.String())
}

func (m tuiModel) renderPicker() string {
	pk := m.picker
	var b strings.Builder
	fmt.Fprintf(&b, "Select %s device for %s (↑/↓, Enter, Esc):\n\n", kindTitle(pk.kind), m.panels[m.focus].Name())
	for i, d := range pk.devices {
		bt := ""
		if audio.IsBluetooth(d.Name) {
			bt = errStyle.Render(" [⚠ Lower audio quality]")
		}
		if i == pk.cursor {
			b.WriteString(cursorStyle.Render("  ▶ "+d.Label()) + bt + "\n")
		} else {
			b.WriteString("    " + d.Label() + bt + "\n")
		}
	}
	return b.String()
}

func kindTitle(kind audio.DeviceKind) string {
	if kind == audio.KindOutput {
		return "output"
	}
	return "input"
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	if m.picker != nil {
		return m.renderPicker()
	}

	width := m.width / len(m.panels)
	cols := make([]string, len(m.panels))
	for i := range m.panels {
		cols[i] = m.renderPanel(i, width)
	}
	out := lipgloss.JoinHorizontal(lipgloss.Top, cols...)

	help := keyStyle.Render("space") + helpStyle.Render(" talk  ") +
		keyStyle.Render("i/o") + helpStyle.Render(" devices  ") +
		keyStyle.Render("p") + helpStyle.Render(" play  ") +
		keyStyle.Render("t") + helpStyle.Render(" transcribe  ") +
		keyStyle.Render("c") + helpStyle.Render(" copy  ") +
		keyStyle.Render("tab") + helpStyle.Render(" panel  ") +
		keyStyle.Render("q") + helpStyle.Render(" quit")

	out += "\n" + help + "\n"
	if m.status != "" {
		out += dimStyle.Render(m.status) + "\n"
	}
	out += helpStyle.Render("micpanel " + version)
	return out
}

// wrapText breaks text into lines of at most width runes, preferring the
// last space that fits.
func wrapText(text string, width int) []string {
	if text == "" {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	rs := []rune(text)
	for len(rs) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if rs[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(rs[:splitAt]))
		rs = []rune(strings.TrimLeft(string(rs[splitAt:]), " "))
	}
	if len(rs) > 0 {
		lines = append(lines, string(rs))
	}
	return lines
}

// isQuiet reports errors that need no status line, like an interrupted
// playback.
func isQuiet(err error) bool {
	return errors.Is(err, context.Canceled)
}
