//go:build !linux

package wire

import "errors"

// newTTYTransport is only implemented on Linux: the byte-channel contract
// (§6 of the spec) targets a Linux POSIX tty via termios ioctls.
func newTTYTransport() (Transport, error) {
	return nil, errors.New("wire: tty channel is only supported on linux")
}
