package wire

import "errors"

// ErrWouldBlock is returned by Transport.ReadNonBlocking when no data is
// currently available; this is the normal case on every tick where the
// device hasn't sent anything, not a failure.
var ErrWouldBlock = errors.New("wire: read would block")

// Transport is the byte channel WireTransfer owns exclusively: either a
// raw serial device or a TCP client socket to the device bridge. Reads
// never block; absence of data is reported via ErrWouldBlock.
type Transport interface {
	// ReadNonBlocking returns whatever bytes are currently available. It
	// returns ErrWouldBlock (with a nil/empty slice) when there is nothing
	// to read right now.
	ReadNonBlocking() ([]byte, error)
	// Write sends p in full or returns an error.
	Write(p []byte) error
	// Close releases the underlying file descriptor or socket.
	Close() error
}
