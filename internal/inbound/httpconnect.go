package inbound

import (
	"bufio"
	"net"
	"strings"
	"time"

	"secure-proxy-ws/internal/errs"
)

// ErrNotConnect is returned by ParseHTTPConnect when the request line is not
// a CONNECT method; the caller should reply 405 and close.
var ErrNotConnect = errs.New(errs.KindInboundProtocolErr, "method not CONNECT", nil)

// ParseHTTPConnect reads an HTTP/1.1 request line and header block from
// conn. On a CONNECT request it returns the target "host:port" (defaulting
// the port to 443 when absent, per spec §4.5) and a net.Conn the caller must
// use in place of conn from then on (it preserves any bytes a pipelining
// client already sent past the header block). Any other method returns
// ErrNotConnect so the caller can write 405 and close.
func ParseHTTPConnect(conn net.Conn) (target string, wrapped net.Conn, err error) {
	_ = conn.SetReadDeadline(time.Now().Add(ProtocolTimeout))
	defer conn.SetReadDeadline(time.Time{})

	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		return "", nil, errs.New(errs.KindInboundProtocolErr, "reading request line", err)
	}
	line = strings.TrimRight(line, "\r\n")

	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "CONNECT" {
		_ = drainHeaders(br)
		return "", nil, ErrNotConnect
	}

	target = fields[1]
	if !strings.Contains(target, ":") {
		target += ":443"
	}

	if err := drainHeaders(br); err != nil {
		return "", nil, errs.New(errs.KindInboundProtocolErr, "reading headers", err)
	}
	return target, newBufferedConn(conn, br), nil
}

func drainHeaders(br *bufio.Reader) error {
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return nil
		}
	}
}

// WriteHTTPConnectSuccess writes the 200 reply spec §6 defines.
func WriteHTTPConnectSuccess(conn net.Conn) error {
	_, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	return err
}

// WriteHTTPMethodNotAllowed writes the 405 reply for a non-CONNECT request.
func WriteHTTPMethodNotAllowed(conn net.Conn) error {
	_, err := conn.Write([]byte("HTTP/1.1 405 Method Not Allowed\r\n\r\n"))
	return err
}
