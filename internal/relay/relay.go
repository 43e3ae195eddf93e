// Package relay implements the bidirectional relay (C4): two concurrent
// copy loops between an inbound socket and an authenticated tunnel.Session,
// encrypting/decrypting with the session's keys, applying the drain
// backpressure policy, and tearing both directions down together on any
// exit.
package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"secure-proxy-ws/internal/cryptox"
	"secure-proxy-ws/internal/stats"
	"secure-proxy-ws/internal/tunnel"
	"secure-proxy-ws/internal/wsframe"
)

// Buffer sizes and timeouts from spec §6's tunable defaults.
const (
	ReadBufferSize  = 6 << 20   // 6 MiB, upstream read chunk cap
	WriteBufferSize = 640 << 10 // 640 KiB, downstream write high-water mark
	DrainThreshold  = 0.7
	DrainTimeout    = 1 * time.Second
	RecvTimeout     = 15 * time.Second
	SendTimeout     = 10 * time.Second
)

// Run drives both copy loops for one flow until either side ends, then
// cancels the other and returns the combined error (nil on a clean EOF in
// either direction). inbound is the client-facing socket (SOCKS5/HTTP
// CONNECT); sess is the authenticated tunnel the flow was established on.
func Run(ctx context.Context, inbound net.Conn, sess *tunnel.Session, c *stats.Counters, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Snapshot the keys once, before either loop starts: sess.Close (below)
	// zeroizes sess.SendKey/RecvKey in place as soon as the first loop exits,
	// which would race with the still-running second loop's Encrypt/Decrypt
	// call on those same slices. The loops only ever read their own local
	// copy, so zeroizing the Session's copy can't reach into a live AEAD call.
	sendKey := append([]byte(nil), sess.SendKey...)
	recvKey := append([]byte(nil), sess.RecvKey...)

	errCh := make(chan error, 2)
	go func() { errCh <- upstream(ctx, inbound, sess, sendKey, c) }()
	go func() { errCh <- downstream(ctx, inbound, sess, recvKey, c, log) }()

	err1 := <-errCh
	cancel()
	_ = sess.Close()
	_ = inbound.Close()
	err2 := <-errCh
	if err1 == nil {
		// The first loop ended cleanly; the second was stopped by the
		// teardown above, so its error only reports the closed connections.
		err2 = nil
	}

	return multierr.Combine(err1, err2)
}

// upstream is the client->server loop: read from inbound, encrypt under
// send_key, send as one WS frame. No explicit drain — the WS send path
// drains internally via Conn.SendBinary's Flush.
func upstream(ctx context.Context, inbound net.Conn, sess *tunnel.Session, sendKey []byte, c *stats.Counters) error {
	buf := make([]byte, ReadBufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = inbound.SetReadDeadline(time.Now().Add(RecvTimeout))
		n, err := inbound.Read(buf)
		if n > 0 {
			sess.Touch()
			ciphertext, encErr := cryptox.Encrypt(sendKey, buf[:n])
			if encErr != nil {
				return encErr
			}
			_ = sess.Conn.SetWriteDeadline(time.Now().Add(SendTimeout))
			if sendErr := sess.Conn.SendBinary(ciphertext); sendErr != nil {
				return sendErr
			}
			c.AddUp(n)
		}
		if err != nil {
			if isEOF(err) {
				return nil
			}
			return err
		}
	}
}

// downstream is the server->client loop: receive one frame, decrypt under
// recv_key, write the plaintext to inbound. Every write already
// backpressures naturally (a TCP Write blocks until the peer's receive
// window has room, spec §9's "TCP retains its own backpressure"); once the
// running total of unconfirmed-drained bytes crosses DrainThreshold, the
// next write's deadline is tightened from SendTimeout to the much shorter
// DrainTimeout to force an explicit backpressure check. A drain timeout
// there is counted and the loop continues regardless (spec §4.4: liveness
// over strict backpressure).
func downstream(ctx context.Context, inbound net.Conn, sess *tunnel.Session, recvKey []byte, c *stats.Counters, log *zap.Logger) error {
	pending := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = sess.Conn.SetReadDeadline(time.Now().Add(RecvTimeout))
		ciphertext, err := sess.Conn.RecvBinary()
		if err != nil {
			if isEOF(err) {
				return nil
			}
			return err
		}
		sess.Touch()

		plaintext, err := cryptox.Decrypt(recvKey, ciphertext)
		if err != nil {
			// Policy choice, not an implementation detail (spec §9 Open
			// Question 4): terminate the session rather than swallow a
			// forged/corrupted frame.
			return err
		}

		draining := float64(pending) > DrainThreshold*WriteBufferSize
		deadline := SendTimeout
		if draining {
			deadline = DrainTimeout
		}
		_ = inbound.SetWriteDeadline(time.Now().Add(deadline))
		n, werr := inbound.Write(plaintext)
		c.AddDown(n)

		if werr != nil {
			if draining {
				// The watermark write itself timed out: count the
				// overflow and keep relaying rather than tear the flow
				// down (TCP still backpressures the next write).
				c.BufferOverflows.Add(1)
				log.Debug("drain timeout, continuing without backpressure")
				pending = 0
				continue
			}
			return werr
		}

		if draining {
			c.DrainOperations.Add(1)
			pending = 0
			continue
		}
		pending += n
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, wsframe.ErrClosed)
}
