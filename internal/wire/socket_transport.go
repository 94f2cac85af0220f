package wire

import (
	"fmt"
	"net"
	"time"
)

// socketTransport is the TCP-tunneled byte channel: a non-blocking client
// connection to localhost:dbgPort. RX on this channel omits the flow byte
// per the on-wire contract (the tunnel peer always frames slave-to-master).
type socketTransport struct {
	conn net.Conn
}

func newSocketTransport(port int) (*socketTransport, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &socketTransport{conn: conn}, nil
}

func (s *socketTransport) ReadNonBlocking() ([]byte, error) {
	buf := make([]byte, 4096)
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		return nil, err
	}
	n, err := s.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	return buf[:n], nil
}

func (s *socketTransport) Write(p []byte) error {
	_, err := s.conn.Write(p)
	return err
}

func (s *socketTransport) Close() error {
	return s.conn.Close()
}
