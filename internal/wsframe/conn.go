package wsframe

import (
	"bufio"
	"net"
	"time"
)

const bufSize = 16 << 10

// Conn is a WebSocket-framed duplex stream sitting directly on top of an
// already-dialed (and, for the client, already TLS-wrapped) net.Conn. It
// owns the buffered reader used during the handshake so that any frame
// bytes the server pipelines immediately after its 101 response are never
// dropped.
type Conn struct {
	nc net.Conn
	br *bufio.Reader
	bw *bufio.Writer

	closed bool
}

// NewConn wraps an established net.Conn. Call Upgrade before SendBinary /
// RecvBinary.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc: nc,
		br: bufio.NewReaderSize(nc, bufSize),
		bw: bufio.NewWriterSize(nc, bufSize),
	}
}

// Upgrade performs the client-side HTTP/1.1 WebSocket upgrade handshake.
func (c *Conn) Upgrade(host, path string) error {
	return clientUpgrade(c.br, c.bw, host, path)
}

// SendBinary masks and writes one binary frame, then drains the underlying
// transport (flushes the buffered writer) within the deadline already set on
// nc by the caller via SetWriteDeadline.
func (c *Conn) SendBinary(payload []byte) error {
	if err := WriteFrame(c.bw, OpBinary, payload); err != nil {
		return err
	}
	return c.bw.Flush()
}

// RecvBinary reads frames until a binary payload is available, transparently
// handling a close frame as an orderly shutdown (returning ErrClosed).
func (c *Conn) RecvBinary() ([]byte, error) {
	for {
		opcode, payload, err := ReadFrame(c.br)
		if err != nil {
			return nil, err
		}
		switch opcode {
		case OpBinary, OpContinuation:
			return payload, nil
		case OpClose:
			c.closed = true
			return nil, ErrClosed
		case OpPing, OpPong, OpText:
			// Not produced by this protocol's peer; ignore and keep reading.
			continue
		default:
			continue
		}
	}
}

// SetDeadline/SetReadDeadline/SetWriteDeadline forward to the underlying
// connection so every suspending operation in this package stays bounded,
// per the design's "every suspending operation has a bounded deadline" rule.
func (c *Conn) SetDeadline(t time.Time) error      { return c.nc.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.nc.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.nc.SetWriteDeadline(t) }

// Close sends a best-effort close frame and tears down the socket. Errors
// from the close frame write are swallowed: teardown must proceed either
// way (idempotent, safe to call twice).
func (c *Conn) Close() error {
	if !c.closed {
		c.closed = true
		_ = c.nc.SetWriteDeadline(time.Now().Add(time.Second))
		_ = WriteFrame(c.bw, OpClose, nil)
		_ = c.bw.Flush()
	}
	return c.nc.Close()
}
