package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var (
	ErrNoDevices     = errors.New("no capture devices found")
	ErrSelectAborted = errors.New("device selection aborted")
)

// FindDevice returns the first capture device whose name contains name,
// ignoring case. An empty name selects the system default (nil).
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	if name == "" {
		return nil, nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	want := strings.ToLower(name)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), want) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("no capture device matching %q", name)
}

// SelectDevice asks the user to pick a microphone on the terminal.
// A single device is returned without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, ErrNoDevices
	case 1:
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, saved)

	p := &picker{devices: devices, out: os.Stdout}
	i, err := p.run(os.Stdin)
	if err != nil {
		return nil, err
	}
	return &devices[i], nil
}

type pickKey int

const (
	keyNone pickKey = iota
	keyUp
	keyDown
	keyEnter
	keyAbort
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
	case 0x03, 'q':
		return keyAbort
	case 'k':
		return keyUp
	case 'j':
		return keyDown
	}
	return keyNone
}

// picker is an arrow-key list drawn in place with ANSI escapes.
type picker struct {
	devices []DeviceInfo
	cursor  int
	out     io.Writer
	drawn   bool
}

func (p *picker) render() {
	if p.drawn {
		fmt.Fprintf(p.out, "\x1b[%dA", len(p.devices)+2)
	}
	p.drawn = true
	fmt.Fprint(p.out, "\r\x1b[JSelect microphone (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range p.devices {
		tag := ""
		if IsBluetooth(d.Name) {
			tag = " \x1b[33m[bluetooth, lower quality]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Fprintf(p.out, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
			continue
		}
		fmt.Fprintf(p.out, "    %s%s\r\n", d.Name, tag)
	}
}

// run reads keys from in until a device is confirmed and returns its index.
func (p *picker) run(in io.Reader) (int, error) {
	p.render()
	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("reading input: %w", err)
		}
		switch decodeKey(buf[:n]) {
		case keyEnter:
			fmt.Fprint(p.out, "\r\n")
			return p.cursor, nil
		case keyAbort:
			fmt.Fprint(p.out, "\r\n")
			return 0, ErrSelectAborted
		case keyUp:
			p.cursor = max(p.cursor-1, 0)
		case keyDown:
			p.cursor = min(p.cursor+1, len(p.devices)-1)
		default:
			continue
		}
		p.render()
	}
}
