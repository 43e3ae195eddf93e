// Package tunnel implements the tunnel establisher (C3) and the per-flow
// Session it hands to the relay (C4): one TLS+WebSocket channel carrying
// exactly one inbound flow, authenticated by the PSK handshake in spec §4.3.
package tunnel

import (
	"sync"
	"time"

	"secure-proxy-ws/internal/wsframe"
)

// Session is the authenticated duplex channel spec §3 describes: a
// wsframe.Conn plus the two directional AEAD keys derived for this flow. It
// is owned exclusively by the flow's two relay copy loops and the
// supervisor that created it (spec §5's concurrency model).
type Session struct {
	Conn *wsframe.Conn

	SendKey []byte
	RecvKey []byte

	mu           sync.Mutex
	closed       bool
	lastActivity time.Time
}

// NewSession wraps an already-authenticated conn with its derived keys.
func NewSession(conn *wsframe.Conn, sendKey, recvKey []byte) *Session {
	return &Session{
		Conn:         conn,
		SendKey:      sendKey,
		RecvKey:      recvKey,
		lastActivity: time.Now(),
	}
}

// Touch records activity, which IdleFor reports. The session cap itself is
// enforced by the engine's sweep from establish time and is not extended by
// Touch (spec §9 Open Question 1; see DESIGN.md).
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleFor reports how long the session has gone without activity in either
// direction.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// Close tears down the underlying WS conn and zeroizes both directional
// keys (spec §3's "never logged, zeroized on drop" invariant). Idempotent:
// safe to call from both copy loops and the supervisor's timeout path.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	zero(s.SendKey)
	zero(s.RecvKey)
	return s.Conn.Close()
}

// Closed reports whether Close has already run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
