package tunnel

import (
	"context"
	"net"
	"testing"

	"secure-proxy-ws/internal/config"
	"secure-proxy-ws/internal/cryptox"
	"secure-proxy-ws/internal/errs"
	"secure-proxy-ws/internal/wsframe"
)

func testPSK() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

// fakeServer drives the server side of the handshake (steps 3-9 of spec
// §4.3) over one end of a net.Pipe, so handshake() can be exercised without
// a real TLS dial or remote server.
func fakeServer(t *testing.T, conn net.Conn, psk []byte, acceptTarget string) {
	t.Helper()
	c := wsframe.NewConn(conn)

	clientPub, err := c.RecvBinary()
	if err != nil {
		t.Errorf("server: recv client pub: %v", err)
		return
	}
	serverPub := make([]byte, 32)
	for i := range serverPub {
		serverPub[i] = byte(i)
	}
	if err := c.SendBinary(serverPub); err != nil {
		t.Errorf("server: send server pub: %v", err)
		return
	}

	salt := append(append([]byte{}, clientPub...), serverPub...)
	// Server's send_key is the client's recv_key and vice versa.
	clientSendKey, clientRecvKey, err := cryptox.DeriveKeys(psk, salt)
	if err != nil {
		t.Errorf("server: derive keys: %v", err)
		return
	}

	clientAuth, err := c.RecvBinary()
	if err != nil {
		t.Errorf("server: recv auth: %v", err)
		return
	}
	wantAuth := cryptox.HMACSHA256(clientSendKey, authMsg)
	if !cryptox.ConstantTimeEqual(clientAuth, wantAuth) {
		// A server holding a different PSK rejects the client by closing the
		// stream; only a mismatch under the shared test PSK is a test failure.
		if string(psk) == string(testPSK()) {
			t.Errorf("server: client auth HMAC mismatch")
		}
		_ = conn.Close()
		return
	}
	if err := c.SendBinary(cryptox.HMACSHA256(clientRecvKey, okMsg)); err != nil {
		t.Errorf("server: send ok HMAC: %v", err)
		return
	}

	connectFrame, err := c.RecvBinary()
	if err != nil {
		t.Errorf("server: recv connect: %v", err)
		return
	}
	cmd, err := cryptox.Decrypt(clientSendKey, connectFrame)
	if err != nil {
		t.Errorf("server: decrypt connect: %v", err)
		return
	}
	if string(cmd) != "CONNECT "+acceptTarget {
		reply, _ := cryptox.Encrypt(clientRecvKey, []byte("unexpected target"))
		_ = c.SendBinary(reply)
		return
	}
	reply, err := cryptox.Encrypt(clientRecvKey, []byte("OK"))
	if err != nil {
		t.Errorf("server: encrypt OK: %v", err)
		return
	}
	_ = c.SendBinary(reply)
}

func TestHandshakeSuccess(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	psk := testPSK()
	target := "example.com:443"

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeServer(t, serverSide, psk, target)
	}()

	conn := wsframe.NewConn(clientSide)
	sendKey, recvKey, err := handshake(conn, psk, target)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	<-done

	if len(sendKey) != cryptox.KeySize || len(recvKey) != cryptox.KeySize {
		t.Fatalf("unexpected key sizes: %d / %d", len(sendKey), len(recvKey))
	}
	if string(sendKey) == string(recvKey) {
		t.Fatalf("send_key must differ from recv_key")
	}
}

func TestHandshakeAuthFailedWrongPSK(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	target := "example.com:443"
	go fakeServer(t, serverSide, []byte("different-shared-key-32-bytes!!"), target)

	conn := wsframe.NewConn(clientSide)
	_, _, err := handshake(conn, testPSK(), target)
	if errs.KindOf(err) != errs.KindAuthFailed {
		t.Fatalf("expected AuthFailed, got %v", err)
	}
}

func TestHandshakeMalformedShortServerNonce(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	go func() {
		c := wsframe.NewConn(serverSide)
		if _, err := c.RecvBinary(); err != nil {
			return
		}
		_ = c.SendBinary(make([]byte, 16)) // truncated, spec §8 scenario 6
	}()

	conn := wsframe.NewConn(clientSide)
	_, _, err := handshake(conn, testPSK(), "example.com:443")
	if errs.KindOf(err) != errs.KindHandshakeMalformed {
		t.Fatalf("expected HandshakeMalformed, got %v", err)
	}
}

func TestEstablishLoopPrevention(t *testing.T) {
	cfg := &config.Config{
		Name:         "test",
		SNIHost:      "example.com",
		Path:         "/ws",
		ServerPort:   443,
		SocksPort:    1080,
		HTTPPort:     8080,
		PreSharedKey: testPSK(),
	}

	_, err := Establish(context.Background(), cfg, cfg.SocksAddr())
	if errs.KindOf(err) != errs.KindLoopPrevention {
		t.Fatalf("expected LoopPrevention, got %v", err)
	}
}
