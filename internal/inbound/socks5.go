// Package inbound implements the two inbound protocol parsers (C5): SOCKS5
// CONNECT and HTTP CONNECT. Each yields a target "host:port"; the caller
// writes the protocol's reply with WriteSOCKS5Success, or with
// WriteHTTPConnectSuccess / WriteHTTPMethodNotAllowed, once the tunnel
// establisher (internal/tunnel) has done its work. SOCKS5 has no failure
// reply: a failed flow is simply closed.
package inbound

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"secure-proxy-ws/internal/errs"
)

// ProtocolTimeout bounds every read during the protocol (handshake/request)
// phase, before the tunnel is established (spec §4.5).
const ProtocolTimeout = 2 * time.Second

const (
	socks5Version    = 0x05
	socks5CmdConnect = 0x01
	atypIPv4         = 0x01
	atypDomain       = 0x03
)

// ParseSOCKS5 reads the SOCKS5 greeting and CONNECT request from conn,
// replying NO AUTH to the greeting immediately (the only method this proxy
// supports). It returns the requested target "host:port". Any protocol
// violation closes the connection silently, per spec's "no client-visible
// diagnostic" policy — the caller just returns without replying further.
func ParseSOCKS5(conn net.Conn) (target string, err error) {
	_ = conn.SetReadDeadline(time.Now().Add(ProtocolTimeout))
	defer conn.SetReadDeadline(time.Time{})

	hdr := make([]byte, 2)
	if _, err = io.ReadFull(conn, hdr); err != nil {
		return "", errs.New(errs.KindInboundProtocolErr, "reading greeting", err)
	}
	if hdr[0] != socks5Version {
		return "", errs.New(errs.KindInboundProtocolErr, "not socks5", nil)
	}
	methods := make([]byte, hdr[1])
	if _, err = io.ReadFull(conn, methods); err != nil {
		return "", errs.New(errs.KindInboundProtocolErr, "reading methods", err)
	}
	if _, err = conn.Write([]byte{socks5Version, 0x00}); err != nil {
		return "", errs.New(errs.KindInboundProtocolErr, "writing method reply", err)
	}

	req := make([]byte, 4)
	if _, err = io.ReadFull(conn, req); err != nil {
		return "", errs.New(errs.KindInboundProtocolErr, "reading request", err)
	}
	if req[0] != socks5Version || req[1] != socks5CmdConnect {
		return "", errs.New(errs.KindInboundProtocolErr, "unsupported request", nil)
	}

	host, port, err := readSOCKS5Addr(conn, req[3])
	if err != nil {
		return "", errs.New(errs.KindInboundProtocolErr, "reading address", err)
	}
	return net.JoinHostPort(host, port), nil
}

func readSOCKS5Addr(r io.Reader, atyp byte) (host, port string, err error) {
	switch atyp {
	case atypIPv4:
		b := make([]byte, 4)
		if _, err = io.ReadFull(r, b); err != nil {
			return "", "", err
		}
		host = net.IP(b).String()
	case atypDomain:
		l := make([]byte, 1)
		if _, err = io.ReadFull(r, l); err != nil {
			return "", "", err
		}
		b := make([]byte, int(l[0]))
		if _, err = io.ReadFull(r, b); err != nil {
			return "", "", err
		}
		host = string(b)
	default:
		// ATYP=4 (IPv6) is not supported in the current design (spec §9
		// Open Question 3); any other value is likewise rejected.
		return "", "", errors.New("unsupported address type")
	}
	pb := make([]byte, 2)
	if _, err = io.ReadFull(r, pb); err != nil {
		return "", "", err
	}
	return host, fmt.Sprintf("%d", binary.BigEndian.Uint16(pb)), nil
}

// WriteSOCKS5Success writes the fixed success reply spec §6 defines. The
// bound address is always 0.0.0.0:0 — this proxy never exposes a real bind
// address to the client.
func WriteSOCKS5Success(conn net.Conn) error {
	_, err := conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	return err
}
