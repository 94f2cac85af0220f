//go:build linux

package wire

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

const ttyDevice = "/dev/ttyUSB0"

// ttyTransport is the serial byte channel: /dev/ttyUSB0, raw mode,
// 115200 8N1, no canonical mode, no echo, CR/LF translation disabled.
type ttyTransport struct {
	fd   int
	file *os.File
}

func newTTYTransport() (Transport, error) {
	fd, err := syscall.Open(ttyDevice, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}

	if err := setRawMode(fd); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	return &ttyTransport{
		fd:   fd,
		file: os.NewFile(uintptr(fd), ttyDevice),
	}, nil
}

func setRawMode(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	t.Iflag &^= unix.ICRNL
	t.Oflag &^= unix.ONLCR
	t.Lflag &^= unix.ECHO | unix.ICANON
	t.Cflag &^= unix.CBAUD | unix.CSIZE | unix.PARENB | unix.CSTOPB
	t.Cflag |= unix.B115200 | unix.CS8
	t.Ispeed = unix.B115200
	t.Ospeed = unix.B115200

	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

func (t *ttyTransport) ReadNonBlocking() ([]byte, error) {
	buf := make([]byte, 4096)
	n, err := syscall.Read(t.fd, buf)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	if n == 0 {
		return nil, ErrWouldBlock
	}
	return buf[:n], nil
}

func (t *ttyTransport) Write(p []byte) error {
	_, err := syscall.Write(t.fd, p)
	return err
}

func (t *ttyTransport) Close() error {
	return t.file.Close()
}
