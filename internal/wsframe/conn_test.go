package wsframe

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

func TestConnUpgradeHandshake(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		c := NewConn(client)
		done <- c.Upgrade("example.com:443", "/tunnel")
	}()

	br := bufio.NewReader(server)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read request line: %v", err)
	}
	if !strings.HasPrefix(line, "GET /tunnel HTTP/1.1") {
		t.Fatalf("unexpected request line: %q", line)
	}
	sawKey := false
	for {
		h, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		if strings.TrimRight(h, "\r\n") == "" {
			break
		}
		if strings.HasPrefix(h, "Sec-WebSocket-Key:") {
			sawKey = true
		}
	}
	if !sawKey {
		t.Fatalf("missing Sec-WebSocket-Key header")
	}

	_, err = server.Write([]byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n"))
	if err != nil {
		t.Fatalf("write response: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("upgrade failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for upgrade")
	}
}

func TestConnUpgradeRejectedStatus(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		c := NewConn(client)
		done <- c.Upgrade("example.com:443", "/tunnel")
	}()

	br := bufio.NewReader(server)
	_, _ = br.ReadString('\n')
	for {
		h, _ := br.ReadString('\n')
		if strings.TrimRight(h, "\r\n") == "" {
			break
		}
	}
	_, _ = server.Write([]byte("HTTP/1.1 404 Not Found\r\n\r\n"))

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected handshake rejection")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
}

func TestConnSendRecvBinaryRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cc := NewConn(client)
	sc := NewConn(server)

	payload := []byte("hello tunnel")
	errc := make(chan error, 1)
	go func() { errc <- cc.SendBinary(payload) }()

	got, err := sc.RecvBinary()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
	if err := <-errc; err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestConnRecvBinaryReturnsErrClosedOnCloseFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewConn(server)
	go func() {
		cc := NewConn(client)
		_ = WriteFrame(cc.bw, OpClose, nil)
		_ = cc.bw.Flush()
	}()

	if _, err := sc.RecvBinary(); err != ErrClosed {
		t.Fatalf("got err=%v want ErrClosed", err)
	}
}
