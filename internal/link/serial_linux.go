//go:build linux

package link

import (
	"os"

	"golang.org/x/sys/unix"

	"gridctl/internal/errcode"
)

// baudRate is the fixed line speed spec.md §6 requires: 2,000,000 baud,
// 8 data bits, no parity, one stop bit, no flow control.
const baudRate = unix.B2000000

// serialPort wraps an *os.File opened on a tty device, configured raw via
// termios. Grounded on the Daedaluz/goserial Port type's MakeRaw/SetAttr
// idiom (other_examples/6eb3d6bd_Daedaluz-goserial__port_linux.go.go),
// rebuilt here against golang.org/x/sys/unix instead of a hand-rolled ioctl
// package so the dependency is one already present across the pack
// (ehrlich-b-go-ublk's host build also requires golang.org/x/sys).
type serialPort struct {
	f *os.File
}

// DefaultDialer opens a real serial device. It is swapped out in tests.
var DefaultDialer Dialer = openSerialPort

func openSerialPort(path string) (RawPort, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}
	if err := configureRaw(f); err != nil {
		f.Close()
		return nil, errcode.Wrap(errcode.Connection, "link.openSerialPort", err)
	}
	return &serialPort{f: f}, nil
}

func configureRaw(f *os.File) error {
	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | baudRate
	t.Ispeed = baudRate
	t.Ospeed = baudRate

	// Non-canonical read: return as soon as at least one byte is available.
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

func (p *serialPort) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *serialPort) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *serialPort) Close() error                { return p.f.Close() }
