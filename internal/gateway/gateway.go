// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package gateway implements the Session Gateway data plane (C9): it
// accepts client TCP connections, authenticates them against a session
// lease from the Session Registry (C10), authorizes the requested
// destination, and relays bytes to and from the upstream target until
// either side closes or the tunnel sits idle too long.
package gateway

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"meshcore.dev/core/internal/config"
	"meshcore.dev/core/internal/logging"
	"meshcore.dev/core/internal/mesh"
)

// OutboundDialer abstracts the upstream dial so tests can substitute a
// fake without opening a real socket, mirroring probe.Dialer's
// injectable-for-tests shape.
type OutboundDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// netDialer is the production OutboundDialer, a thin wrapper over
// net.Dialer.
type netDialer struct{}

func (netDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// Gateway is the Session Gateway data plane (C9).
type Gateway struct {
	listenAddr           string
	connectTimeout       time.Duration
	idleTimeout          time.Duration
	handshakeReadTimeout time.Duration

	registry *mesh.SessionRegistry
	logger   *logging.Logger
	dialer   OutboundDialer

	mu       sync.Mutex
	listener net.Listener

	wg sync.WaitGroup
}

// New builds a Gateway from its configuration block, bound to registry for
// session lookups.
func New(cfg *config.GatewayConfig, registry *mesh.SessionRegistry, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gateway{
		listenAddr:           cfg.ListenAddr,
		connectTimeout:       cfg.ConnectTimeout(),
		idleTimeout:          cfg.IdleTimeout(),
		handshakeReadTimeout: cfg.HandshakeReadTimeout(),
		registry:             registry,
		logger:               logger,
		dialer:               netDialer{},
	}
}

// NewWithDialer builds a Gateway using an injected OutboundDialer, for
// tests.
func NewWithDialer(cfg *config.GatewayConfig, registry *mesh.SessionRegistry, logger *logging.Logger, dialer OutboundDialer) *Gateway {
	g := New(cfg, registry, logger)
	g.dialer = dialer
	return g
}

// ListenAndServe binds the listen address and accepts connections until ctx
// is canceled or Close is called. Each accepted connection is handled on
// its own goroutine; ListenAndServe itself blocks until the accept loop
// exits.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.listenAddr)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.listener = ln
	g.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.handleConn(ctx, conn)
		}()
	}
}

// Close stops accepting new connections and waits for in-flight tunnels'
// handler goroutines to return. It does not forcibly close established
// tunnels — an in-flight relay runs until its own idle timeout or either
// peer closes, matching the contract that revocation and shutdown never
// kill an already-authorized tunnel out from under a client.
func (g *Gateway) Close() error {
	g.mu.Lock()
	ln := g.listener
	g.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	g.wg.Wait()
	return nil
}

func (g *Gateway) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	msg, err := readHandshake(conn, g.handshakeReadTimeout)
	if err != nil {
		g.logRefusal("", err)
		return
	}

	lease, ok := g.registry.Snapshot(msg.SessionID)
	if !ok {
		g.logFailure(msg.SessionID, ReasonSessionNotFound)
		return
	}
	if !lease.RevokedAt.IsZero() {
		g.logFailure(msg.SessionID, ReasonSessionRevoked)
		return
	}
	if !time.Now().Before(lease.ExpiresAt) {
		g.logFailure(msg.SessionID, ReasonSessionExpired)
		return
	}
	if !lease.VerifyToken(msg.SessionToken) {
		g.logFailure(msg.SessionID, ReasonTokenMismatch)
		return
	}
	if !destinationAllowed(lease.AllowedDestinations, msg.Destination) {
		g.logFailure(msg.SessionID, ReasonDestinationDenied)
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, g.connectTimeout)
	upstream, err := g.dialer.DialContext(dialCtx, "tcp", msg.Destination)
	cancel()
	if err != nil {
		g.logFailure(msg.SessionID, ReasonUpstreamConnectFailed)
		return
	}
	defer upstream.Close()

	if _, err := conn.Write([]byte("OK\n")); err != nil {
		return
	}

	g.logger.Info("tunnel established", "session_id", msg.SessionID, "destination", msg.Destination)
	g.relay(conn, upstream)
}

func (g *Gateway) logFailure(sessionID string, reason FailureReason) {
	g.logger.Warn("tunnel refused", "session_id", sessionID, "reason", reason)
}

func (g *Gateway) logRefusal(sessionID string, err error) {
	if he, ok := err.(*handshakeError); ok {
		g.logFailure(sessionID, he.reason)
		return
	}
	g.logFailure(sessionID, ReasonHandshakeMalformed)
}

// relay copies bytes in both directions between the client and the
// upstream target until one side closes or idleTimeout elapses with no
// traffic in either direction. Each direction runs on its own goroutine;
// closing both connections after the first direction finishes unblocks the
// other, which then reports done too.
func (g *Gateway) relay(client, upstream net.Conn) {
	done := make(chan struct{}, 2)
	var lastActive atomic.Int64
	lastActive.Store(time.Now().UnixNano())
	go g.relayDirection(upstream, client, &lastActive, done)
	go g.relayDirection(client, upstream, &lastActive, done)

	<-done
	client.Close()
	upstream.Close()
	<-done
}

func (g *Gateway) relayDirection(dst, src net.Conn, lastActive *atomic.Int64, done chan<- struct{}) {
	buf := make([]byte, 32*1024)
	for {
		src.SetReadDeadline(time.Unix(0, lastActive.Load()).Add(g.idleTimeout))
		n, rerr := src.Read(buf)
		if n > 0 {
			lastActive.Store(time.Now().UnixNano())
			dst.SetWriteDeadline(time.Now().Add(g.idleTimeout))
			if _, werr := dst.Write(buf[:n]); werr != nil {
				break
			}
		}
		if rerr != nil {
			if ne, ok := rerr.(net.Error); ok && ne.Timeout() && time.Since(time.Unix(0, lastActive.Load())) < g.idleTimeout {
				continue
			}
			if rerr != io.EOF {
				g.logger.Debug("tunnel direction closed", "error", rerr)
			}
			break
		}
	}
	done <- struct{}{}
}
