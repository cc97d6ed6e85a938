package transport

import (
	"fmt"
	"net"
)

// TCPStream adapts one accepted net.Conn to Stream, for the TCP remote
// debug server boundary (spec.md §6). The listener itself — accepting new
// connections — lives in cmd/serve.go; this type only wraps a connection
// that has already been established, mirroring how the teacher's
// TCPConnection wraps an already-dialed net.Conn.
type TCPStream struct {
	conn net.Conn
	p    *pump
}

// NewTCPStream wraps an accepted TCP connection.
func NewTCPStream(conn net.Conn) *TCPStream {
	return &TCPStream{conn: conn, p: newPump(conn)}
}

func (s *TCPStream) Peek() (byte, bool)   { return s.p.peek() }
func (s *TCPStream) Get() (byte, bool)    { return s.p.get() }
func (s *TCPStream) Put(b byte) error     { return s.p.put(b) }
func (s *TCPStream) IsConnected() bool    { return s.p.isConnected() }
func (s *TCPStream) Close() error         { s.p.close(); return nil }
func (s *TCPStream) RemoteAddr() string   { return s.conn.RemoteAddr().String() }

// ListenTCP opens a TCP listener bound to addr (e.g. ":2331"), the
// transport boundary used by the remote debug server's TCP path.
func ListenTCP(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", addr, err)
	}
	return l, nil
}
