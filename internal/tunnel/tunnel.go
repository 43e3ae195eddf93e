package tunnel

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"io"
	"net"
	"time"

	"secure-proxy-ws/internal/config"
	"secure-proxy-ws/internal/cryptox"
	"secure-proxy-ws/internal/errs"
	"secure-proxy-ws/internal/wsframe"
)

// Timeouts and retry policy from spec §6's tunable defaults.
const (
	ConnectTimeout   = 3 * time.Second
	StepTimeout      = 2 * time.Second // per-handshake-step timeout
	EstablishTimeout = 5 * time.Second // end-to-end budget, spec §4.6
	MaxRetries       = 1
	RetryDelay       = 100 * time.Millisecond
)

var (
	authMsg = []byte("auth")
	okMsg   = []byte("ok")
	okReply = []byte("OK")
)

// Establish runs the full C3 pipeline for one inbound flow: TCP dial, TLS
// wrap (no certificate validation — the PSK handshake is the trust anchor),
// WS upgrade, ephemeral key exchange, mutual HMAC auth, and the CONNECT
// command, returning an authenticated Session ready for the relay.
//
// A loopback target matching the proxy's own listeners is refused before
// any dial is attempted (loop prevention, spec §4.3). A single bounded
// retry follows a non-timeout failure; a timeout on any step aborts
// immediately without retry.
func Establish(ctx context.Context, cfg *config.Config, target string) (*Session, error) {
	if isLoopback(target, cfg) {
		return nil, errs.New(errs.KindLoopPrevention, "target is the proxy's own listener: "+target, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, EstablishTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, timeoutOr(lastErr, ctx)
			case <-time.After(RetryDelay):
			}
		}

		sess, err := establishOnce(ctx, cfg, target)
		if err == nil {
			return sess, nil
		}
		lastErr = err
		if errs.IsTimeout(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func isLoopback(target string, cfg *config.Config) bool {
	return target == cfg.SocksAddr() || target == cfg.HTTPAddr()
}

func timeoutOr(err error, ctx context.Context) error {
	if ctx.Err() != nil {
		return errs.New(errs.KindConnectTimeout, "establish budget exceeded", ctx.Err())
	}
	return err
}

func establishOnce(ctx context.Context, cfg *config.Config, target string) (sess *Session, err error) {
	raw, err := dialTCP(ctx, cfg.ServerAddr())
	if err != nil {
		return nil, err
	}
	tuneRawConn(raw)

	tlsConn := tls.Client(raw, &tls.Config{
		ServerName:         cfg.SNIHost,
		InsecureSkipVerify: true, // PSK handshake is the trust anchor, not the cert (spec §1 Non-goals)
		MinVersion:         tls.VersionTLS12,
	})
	_ = tlsConn.SetDeadline(time.Now().Add(StepTimeout))
	if err = tlsConn.HandshakeContext(ctx); err != nil {
		_ = tlsConn.Close()
		return nil, errs.New(errs.KindConnectFailed, "TLS handshake", err)
	}

	conn := wsframe.NewConn(tlsConn)
	defer func() {
		if err != nil {
			_ = conn.Close()
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(StepTimeout))
	if err = conn.Upgrade(cfg.ServerAddr(), cfg.Path); err != nil {
		return nil, err
	}

	sendKey, recvKey, err := handshake(conn, cfg.PreSharedKey, target)
	if err != nil {
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})
	return NewSession(conn, sendKey, recvKey), nil
}

// handshake runs steps 3-9 of spec §4.3 over an already-upgraded conn. It
// is factored out from establishOnce so it can be exercised directly
// against an in-memory pipe in tests, without a real TLS dial.
func handshake(conn *wsframe.Conn, psk []byte, target string) (sendKey, recvKey []byte, err error) {
	clientPub := make([]byte, 32)
	if _, err = io.ReadFull(rand.Reader, clientPub); err != nil {
		return nil, nil, errs.New(errs.KindConnectFailed, "generating client nonce", err)
	}
	_ = conn.SetDeadline(time.Now().Add(StepTimeout))
	if err = conn.SendBinary(clientPub); err != nil {
		return nil, nil, errs.New(errs.KindHandshakeRejected, "sending client nonce", err)
	}

	serverPub, err := conn.RecvBinary()
	if err != nil {
		return nil, nil, errs.New(errs.KindHandshakeMalformed, "receiving server nonce", err)
	}
	if len(serverPub) != 32 {
		return nil, nil, errs.New(errs.KindHandshakeMalformed, "server nonce wrong length", nil)
	}

	salt := append(append([]byte{}, clientPub...), serverPub...)
	sendKey, recvKey, err = cryptox.DeriveKeys(psk, salt)
	if err != nil {
		return nil, nil, errs.New(errs.KindHandshakeMalformed, "deriving session keys", err)
	}

	_ = conn.SetDeadline(time.Now().Add(StepTimeout))
	if err = conn.SendBinary(cryptox.HMACSHA256(sendKey, authMsg)); err != nil {
		return nil, nil, errs.New(errs.KindHandshakeRejected, "sending auth HMAC", err)
	}

	serverAuth, err := conn.RecvBinary()
	if err != nil {
		return nil, nil, errs.New(errs.KindAuthFailed, "receiving auth reply", err)
	}
	want := cryptox.HMACSHA256(recvKey, okMsg)
	if !cryptox.ConstantTimeEqual(serverAuth, want) {
		return nil, nil, errs.New(errs.KindAuthFailed, "server HMAC mismatch", nil)
	}

	connectFrame, err := cryptox.Encrypt(sendKey, []byte("CONNECT "+target))
	if err != nil {
		return nil, nil, errs.New(errs.KindConnectFailed, "encrypting CONNECT command", err)
	}
	_ = conn.SetDeadline(time.Now().Add(StepTimeout))
	if err = conn.SendBinary(connectFrame); err != nil {
		return nil, nil, errs.New(errs.KindHandshakeRejected, "sending CONNECT command", err)
	}

	replyFrame, err := conn.RecvBinary()
	if err != nil {
		return nil, nil, errs.New(errs.KindConnectRejected, "receiving CONNECT reply", err)
	}
	reply, err := cryptox.Decrypt(recvKey, replyFrame)
	if err != nil {
		return nil, nil, err
	}
	if string(reply) != string(okReply) {
		return nil, nil, errs.New(errs.KindConnectRejected, string(reply), nil)
	}

	return sendKey, recvKey, nil
}

func dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.New(errs.KindConnectTimeout, "dialing "+addr, err)
		}
		return nil, errs.New(errs.KindConnectFailed, "dialing "+addr, err)
	}
	return conn, nil
}

// tuneRawConn applies the TCP tuning spec §4.3 step 1 calls for, best-effort
// (spec §9: any setsockopt failure is ignored and never aborts the flow).
func tuneRawConn(c net.Conn) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		tuneSocket(fd)
	})
}
