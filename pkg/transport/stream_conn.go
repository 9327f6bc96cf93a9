package transport

import (
	"errors"
	"io"
	"net"
	"time"
)

// streamConn presents a ReadWriter as a net.Conn so the TLS engine can pull
// and push ciphertext through the wrapped transport's own Read and Write.
// Deadlines are forwarded when the transport supports them, so the bound
// the TLS engine puts on close_notify holds. Otherwise they are ignored.
type streamConn struct {
	rw ReadWriter
}

// Read forwards to the transport. A clean close is reported as a bare
// io.EOF because the TLS engine compares against it directly.
func (s *streamConn) Read(p []byte) (int, error) {
	n, err := s.rw.Read(p)
	if err != nil && errors.Is(err, io.EOF) {
		return n, io.EOF
	}
	return n, err
}

func (s *streamConn) Write(p []byte) (int, error) {
	return s.rw.Write(p)
}

// Close is only reached when a handshake context is cancelled; it closes
// the transport so a blocked read returns.
func (s *streamConn) Close() error {
	if c, ok := s.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *streamConn) LocalAddr() net.Addr {
	if a, ok := s.rw.(interface{ LocalAddr() net.Addr }); ok {
		return a.LocalAddr()
	}
	return streamAddr{}
}

func (s *streamConn) RemoteAddr() net.Addr {
	if a, ok := s.rw.(interface{ RemoteAddr() net.Addr }); ok {
		return a.RemoteAddr()
	}
	return streamAddr{}
}

// deadliner is implemented by transports with absolute deadlines, such as
// TCPConn.
type deadliner interface {
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

func (s *streamConn) SetDeadline(t time.Time) error {
	if d, ok := s.rw.(deadliner); ok {
		return d.SetDeadline(t)
	}
	return nil
}

func (s *streamConn) SetReadDeadline(t time.Time) error {
	if d, ok := s.rw.(deadliner); ok {
		return d.SetReadDeadline(t)
	}
	return nil
}

func (s *streamConn) SetWriteDeadline(t time.Time) error {
	if d, ok := s.rw.(deadliner); ok {
		return d.SetWriteDeadline(t)
	}
	return nil
}

// streamAddr is reported for transports without a network address.
type streamAddr struct{}

func (streamAddr) Network() string { return "stream" }
func (streamAddr) String() string  { return "stream" }
