package audio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// ErrSelectionCancelled is returned when the user aborts a device prompt.
var ErrSelectionCancelled = errors.New("device selection cancelled")

type pickKey int

const (
	keyNone pickKey = iota
	keyUp
	keyDown
	keyEnter
	keyCancel
)

// decodeKey maps one raw-mode read to a picker key.
func decodeKey(b []byte) pickKey {
	if len(b) == 3 && b[0] == 0x1b && b[1] == '[' {
		switch b[2] {
		case 'A':
			return keyUp
		case 'B':
			return keyDown
		}
		return keyNone
	}
	if len(b) != 1 {
		return keyNone
	}
	switch b[0] {
	case '\r', '\n':
		return keyEnter
	case 3, 'q':
		return keyCancel
	case 'k':
		return keyUp
	case 'j':
		return keyDown
	}
	return keyNone
}

// SelectDevice asks the user to pick one device of kind. A single device is
// returned without prompting. On a terminal the list is navigated with the
// arrow keys; otherwise a numbered list is printed and one line is read.
func SelectDevice(ctx Context, kind DeviceKind, in *os.File, out io.Writer) (*DeviceInfo, error) {
	devices, err := ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, fmt.Errorf("no %s devices found", kindTitle(kind))
	case 1:
		return &devices[0], nil
	}

	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return selectNumbered(devices, kind, in, out)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)
	return selectRaw(devices, kind, in, out)
}

func selectRaw(devices []DeviceInfo, kind DeviceKind, in io.Reader, out io.Writer) (*DeviceInfo, error) {
	cursor := 0
	render := func() {
		fmt.Fprint(out, "\r\x1b[J")
		fmt.Fprintf(out, "Select %s device (↑/↓, Enter to confirm, q to skip):\r\n\r\n", kindTitle(kind))
		for i, d := range devices {
			bt := ""
			if IsBluetooth(d.Name) {
				bt = " \x1b[33m[⚠ Lower audio quality]\x1b[0m"
			}
			if i == cursor {
				fmt.Fprintf(out, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Label(), bt)
			} else {
				fmt.Fprintf(out, "    %s%s\r\n", d.Label(), bt)
			}
		}
	}
	render()

	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch decodeKey(buf[:n]) {
		case keyEnter:
			fmt.Fprint(out, "\r\n")
			return &devices[cursor], nil
		case keyCancel:
			fmt.Fprint(out, "\r\n")
			return nil, ErrSelectionCancelled
		case keyUp:
			cursor = clampCursor(cursor-1, len(devices))
		case keyDown:
			cursor = clampCursor(cursor+1, len(devices))
		default:
			continue
		}
		fmt.Fprintf(out, "\x1b[%dA", len(devices)+2)
		render()
	}
}

func selectNumbered(devices []DeviceInfo, kind DeviceKind, in io.Reader, out io.Writer) (*DeviceInfo, error) {
	fmt.Fprintf(out, "Select %s device:\n", kindTitle(kind))
	for i, d := range devices {
		fmt.Fprintf(out, "  %d) %s\n", i+1, d.Label())
	}
	fmt.Fprint(out, "> ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return nil, ErrSelectionCancelled
	}
	line = strings.TrimSpace(line)
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(devices) {
		return &devices[n-1], nil
	}
	for i := range devices {
		if devices[i].ID == line || devices[i].Name == line {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("no %s device %q", kindTitle(kind), line)
}

func kindTitle(kind DeviceKind) string {
	if kind == KindOutput {
		return "output"
	}
	return "input"
}

func clampCursor(cursor, n int) int {
	return max(0, min(cursor, n-1))
}
