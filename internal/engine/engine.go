// Package engine implements admission & lifecycle (C6): the two loopback
// listeners, the global concurrency gate, and the per-flow supervisor that
// wires together the inbound parsers (C5), the tunnel establisher (C3), and
// the bidirectional relay (C4) for each accepted flow.
package engine

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"secure-proxy-ws/internal/config"
	"secure-proxy-ws/internal/errs"
	"secure-proxy-ws/internal/inbound"
	"secure-proxy-ws/internal/relay"
	"secure-proxy-ws/internal/stats"
	"secure-proxy-ws/internal/tunnel"
)

// Tunables from spec §6.
const (
	MaxConcurrentConnections = 200
	ListenBacklog            = 256
	SessionCap               = 300 * time.Second
	sweepInterval            = time.Second
)

// Engine owns the admission gate, the two listeners, and the session sweep.
// One Engine runs for the process lifetime.
type Engine struct {
	cfg      *config.Config
	counters *stats.Counters
	log      *zap.Logger

	gate  chan struct{}
	sweep *sessionSweep
}

// New builds an Engine for cfg. counters and log are shared with the rest of
// the process (the observability loops in internal/stats read the same
// counters).
func New(cfg *config.Config, counters *stats.Counters, log *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		counters: counters,
		log:      log,
		gate:     make(chan struct{}, MaxConcurrentConnections),
		sweep:    newSessionSweep(),
	}
}

// Run starts both listeners and the session sweep, blocking until ctx is
// canceled or a listener fails to start.
func (e *Engine) Run(ctx context.Context) error {
	socksLn, err := e.listen(e.cfg.SocksAddr())
	if err != nil {
		return err
	}
	defer socksLn.Close()

	httpLn, err := e.listen(e.cfg.HTTPAddr())
	if err != nil {
		return err
	}
	defer httpLn.Close()

	e.log.Info("listening",
		zap.String("socks_addr", e.cfg.SocksAddr()),
		zap.String("http_addr", e.cfg.HTTPAddr()),
	)

	go e.runSweep(ctx)
	go e.acceptLoop(ctx, socksLn, e.handleSOCKS5)
	go e.acceptLoop(ctx, httpLn, e.handleHTTPConnect)

	<-ctx.Done()
	return ctx.Err()
}

// listen binds addr. The Go runtime derives the listen backlog from the
// platform's somaxconn rather than exposing a per-call parameter;
// ListenBacklog documents the value spec §4.6 calls for.
func (e *Engine) listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{}
	return lc.Listen(context.Background(), "tcp", addr)
}

func (e *Engine) acceptLoop(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		go handle(ctx, conn)
	}
}

func (e *Engine) runSweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.sweep.Expire(now)
		}
	}
}

// handleSOCKS5 implements the SOCKS5 half of C5+C6's data flow.
func (e *Engine) handleSOCKS5(ctx context.Context, conn net.Conn) {
	e.runFlow(ctx, conn, func() (string, error) {
		return inbound.ParseSOCKS5(conn)
	}, inbound.WriteSOCKS5Success, nil)
}

// handleHTTPConnect implements the HTTP CONNECT half of C5+C6's data flow.
func (e *Engine) handleHTTPConnect(ctx context.Context, conn net.Conn) {
	var effective net.Conn = conn
	e.runFlow(ctx, conn, func() (string, error) {
		target, wrapped, err := inbound.ParseHTTPConnect(conn)
		if err != nil {
			if err == inbound.ErrNotConnect {
				_ = inbound.WriteHTTPMethodNotAllowed(conn)
			}
			return "", err
		}
		effective = wrapped
		return target, nil
	}, func(net.Conn) error {
		return inbound.WriteHTTPConnectSuccess(effective)
	}, func() net.Conn { return effective })
}

// runFlow is the common C6 supervisor body shared by both inbound
// protocols: admission, target parse, tunnel establish, success reply,
// relay, and teardown. parse returns the requested target; writeSuccess
// writes the protocol's success reply; connFor (nil for SOCKS5, where the
// parser never needs to swap the connection) returns the conn the relay
// should actually use, accounting for any buffered-header rewrap the HTTP
// parser performed.
func (e *Engine) runFlow(ctx context.Context, conn net.Conn, parse func() (string, error), writeSuccess func(net.Conn) error, connFor func() net.Conn) {
	select {
	case e.gate <- struct{}{}:
	case <-ctx.Done():
		_ = conn.Close()
		return
	}
	e.counters.ActiveConnections.Add(1)
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		e.counters.ActiveConnections.Add(-1)
		<-e.gate
	}
	defer release()
	defer conn.Close()

	flowID := uuid.NewString()
	log := e.log.With(zap.String("flow_id", flowID))

	target, err := parse()
	if err != nil {
		if err != inbound.ErrNotConnect {
			log.Debug("inbound protocol error", zap.Error(err))
		}
		return
	}
	log = log.With(zap.String("target", target))

	sess, err := tunnel.Establish(ctx, e.cfg, target)
	if err != nil {
		if errs.IsTimeout(err) {
			e.counters.TimeoutConnections.Add(1)
		} else {
			e.counters.FailedConnections.Add(1)
		}
		log.Debug("tunnel establish failed", zap.Error(err))
		return
	}
	e.counters.SuccessConnections.Add(1)
	log.Info("tunnel established")

	relayConn := conn
	if connFor != nil {
		relayConn = connFor()
	}

	if err := writeSuccess(relayConn); err != nil {
		_ = sess.Close()
		return
	}

	relayCtx, relayCancel := context.WithCancel(ctx)
	e.sweep.Add(flowID, time.Now().Add(SessionCap), relayCancel)
	defer e.sweep.Remove(flowID)

	err = relay.Run(relayCtx, relayConn, sess, e.counters, log)
	relayCancel()
	if err != nil {
		log.Debug("flow aborted", zap.Error(err))
	}
	log.Info("flow closed")
}
