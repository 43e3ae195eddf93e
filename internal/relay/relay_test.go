package relay

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"secure-proxy-ws/internal/cryptox"
	"secure-proxy-ws/internal/logging"
	"secure-proxy-ws/internal/stats"
	"secure-proxy-ws/internal/tunnel"
	"secure-proxy-ws/internal/wsframe"
)

// TestRunEchoesAcrossTunnel wires up an inbound net.Pipe and a tunnel
// net.Pipe, starts Run, and verifies that bytes written by the "client" are
// decrypted/re-encrypted correctly and echoed back by a fake remote peer
// reading/writing raw WS frames on the other end of the tunnel pipe.
func TestRunEchoesAcrossTunnel(t *testing.T) {
	clientConn, clientPeer := net.Pipe()
	tunnelConn, remotePeer := net.Pipe()

	sendKey := bytes.Repeat([]byte{0x11}, cryptox.KeySize)
	recvKey := bytes.Repeat([]byte{0x22}, cryptox.KeySize)

	sess := tunnel.NewSession(wsframe.NewConn(tunnelConn), sendKey, recvKey)

	// Fake remote: decrypts what arrives under the client's send_key
	// (which is this peer's recv_key) and echoes it back encrypted under
	// the client's recv_key (this peer's send_key).
	remoteDone := make(chan struct{})
	go func() {
		defer close(remoteDone)
		rc := wsframe.NewConn(remotePeer)
		for {
			frame, err := rc.RecvBinary()
			if err != nil {
				return
			}
			plaintext, err := cryptox.Decrypt(sendKey, frame)
			if err != nil {
				return
			}
			reply, err := cryptox.Encrypt(recvKey, plaintext)
			if err != nil {
				return
			}
			if err := rc.SendBinary(reply); err != nil {
				return
			}
		}
	}()

	runDone := make(chan error, 1)
	counters := &stats.Counters{}
	go func() {
		runDone <- Run(context.Background(), clientConn, sess, counters, logging.Nop())
	}()

	msg := []byte("hello over the tunnel")
	if _, err := clientPeer.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, len(msg))
	clientPeer.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.ReadFull(clientPeer, buf); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if !bytes.Equal(buf, msg) {
		t.Fatalf("echo mismatch: got %q want %q", buf, msg)
	}

	_ = clientPeer.Close()
	select {
	case <-runDone:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after inbound close")
	}

	if counters.TrafficUp.Load() == 0 || counters.TrafficDown.Load() == 0 {
		t.Fatalf("expected nonzero traffic counters, got up=%d down=%d",
			counters.TrafficUp.Load(), counters.TrafficDown.Load())
	}

	<-remoteDone
}
