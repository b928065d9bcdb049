// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
	"github.com/sowndev0106/domain-router/pkg/metrics"
	"github.com/sowndev0106/domain-router/pkg/ratelimit"
)

const defaultHandshakeTimeout = 10 * time.Second

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TargetAddress is the backend server address to proxy to (host:port)
	TargetAddress string

	// TLSConfig makes the server terminate TLS when set
	TLSConfig *tls.Config

	// HandshakeTimeout bounds the TLS handshake of each connection. Default: 10s.
	HandshakeTimeout time.Duration

	// DialTimeout bounds each backend dial. Default: 10s.
	DialTimeout time.Duration

	// BufferSize is the size of copy buffers. Default: 32KiB.
	BufferSize int

	// MaxConnections bounds concurrently forwarded connections. 0 is unbounded.
	MaxConnections int

	// AcceptRate bounds newly admitted connections per second. 0 is unbounded.
	AcceptRate int64

	// AcceptBurst is the token bucket size for AcceptRate. Default: AcceptRate.
	AcceptBurst int64

	// Logger for server events
	Logger *slog.Logger

	// Metrics receives connection instrumentation. Optional.
	Metrics *metrics.Metrics
}

// Server owns one bound TCP port and forwards every accepted connection to
// a fixed backend, optionally terminating TLS first.
type Server struct {
	config     Config
	gate       *ratelimit.Gate
	bufferPool *sync.Pool
	wg         sync.WaitGroup
	active     atomic.Int64

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// New creates a new TCP server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}

	return &Server{
		config:     cfg,
		gate:       ratelimit.NewGate(cfg.MaxConnections, cfg.AcceptRate, cfg.AcceptBurst),
		bufferPool: newBufferPool(cfg.BufferSize),
		ready:      make(chan struct{}),
	}
}

// Listen binds the configured address and accepts connections until the
// context is cancelled. It returns once the listener is closed; connections
// already accepted keep forwarding until they end on their own (see Wait).
// A bind failure is returned as an error matching errors.ErrBind.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.markReady(nil)
		return proxyerrors.New("listen", portOf(s.config.Address), "", proxyerrors.Kind(proxyerrors.ErrBind, err))
	}

	port := portOf(listener.Addr().String())
	logger := s.config.Logger.With(slog.Int("port", int(port)))

	// Wrap with TLS if configured
	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
		logger.Info("TLS enabled", slog.String("address", s.config.Address))
	}
	s.markReady(listener)

	logger.Info("TCP server started",
		slog.String("address", listener.Addr().String()),
		slog.String("target", s.config.TargetAddress))

	if m := s.config.Metrics; m != nil {
		m.ListenerUp.WithLabelValues(metrics.Port(port)).Set(1)
		defer m.ListenerUp.WithLabelValues(metrics.Port(port)).Set(0)
	}

	// Forwarders outlive shutdown of the accept loop.
	connCtx := context.WithoutCancel(ctx)

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		s.acceptLoop(ctx, connCtx, listener, logger, port)
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("shutdown signal received, closing listener")

	// Close the listener to stop accepting new connections
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	// Wait for accept loop to finish
	<-acceptDone
	logger.Info("TCP server stopped", slog.Int64("in_flight", s.active.Load()))
	return nil
}

// acceptLoop accepts until the listener closes or ctx is done. Failed
// accepts are retried with a capped exponential delay.
func (s *Server) acceptLoop(ctx, connCtx context.Context, listener net.Listener, logger *slog.Logger, port uint16) {
	var backoff acceptBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Expected error during shutdown
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			delay := backoff.next()
			logger.Error("failed to accept connection",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay))
			if !sleepContext(ctx, delay) {
				return
			}
			continue
		}
		backoff.reset()

		if !s.gate.Allow() {
			s.reject(port, conn, "rate")
			continue
		}
		release, err := s.gate.Acquire(ctx)
		if err != nil {
			s.reject(port, conn, "shutdown")
			return
		}

		s.wg.Add(1)
		s.active.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.active.Add(-1)
			defer release()
			s.handleConn(connCtx, logger, port, conn)
		}()
	}
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// acceptBackoff doubles the retry delay after each failed accept, up to
// maxAcceptDelay. The zero value is ready to use.
type acceptBackoff struct {
	delay time.Duration
}

func (b *acceptBackoff) next() time.Duration {
	if b.delay == 0 {
		b.delay = minAcceptDelay
	} else {
		b.delay = min(2*b.delay, maxAcceptDelay)
	}
	return b.delay
}

func (b *acceptBackoff) reset() {
	b.delay = 0
}

// sleepContext waits for d and reports false if ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Ready is closed once Listen has bound its port or failed to.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or nil before binding or after a bind failure.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Active returns the number of connections currently being forwarded.
func (s *Server) Active() int64 {
	return s.active.Load()
}

// Wait blocks until every accepted connection has finished forwarding.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) markReady(l net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ready:
		return
	default:
	}
	s.listener = l
	close(s.ready)
}

func (s *Server) reject(port uint16, conn net.Conn, reason string) {
	s.config.Logger.Warn("connection rejected",
		slog.Int("port", int(port)),
		slog.String("remote", conn.RemoteAddr().String()),
		slog.String("reason", reason))
	if m := s.config.Metrics; m != nil {
		m.RejectedConnections.WithLabelValues(metrics.Port(port), reason).Inc()
	}
	conn.Close()
}

// handleConn processes a single client connection by:
// 1. Completing the TLS handshake when the listener terminates TLS
// 2. Dialing the backend server
// 3. Copying bytes in both directions until both sides are done
func (s *Server) handleConn(ctx context.Context, logger *slog.Logger, port uint16, inbound net.Conn) {
	sessionID := uuid.New().String()
	remote := inbound.RemoteAddr().String()
	logger = logger.With(slog.String("session", sessionID), slog.String("client", remote))

	if tlsConn, ok := inbound.(*tls.Conn); ok {
		hsCtx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
		err := tlsConn.HandshakeContext(hsCtx)
		cancel()
		if err != nil {
			err = proxyerrors.New("handshake", port, remote, proxyerrors.Kind(proxyerrors.ErrTLSHandshake, err))
			logger.Warn("TLS handshake failed", slog.String("error", err.Error()))
			if m := s.config.Metrics; m != nil {
				m.TLSHandshakeErrors.WithLabelValues(metrics.Port(port)).Inc()
			}
			inbound.Close()
			return
		}
	}

	logger.Debug("connection accepted", slog.String("backend", s.config.TargetAddress))

	var stats Stats
	err := s.config.Metrics.ObserveConnection(port, func() (int64, int64, error) {
		var err error
		stats, err = Forward(ctx, inbound, s.config.TargetAddress, ForwardOptions{
			DialTimeout: s.config.DialTimeout,
			BufferPool:  s.bufferPool,
		})
		return stats.Upstream, stats.Downstream, err
	})

	if err != nil {
		err = proxyerrors.New("forward", port, remote, err)
		if errors.Is(err, proxyerrors.ErrDial) {
			logger.Error("failed to dial backend",
				slog.String("backend", s.config.TargetAddress),
				slog.String("error", err.Error()))
			if m := s.config.Metrics; m != nil {
				m.DialErrors.WithLabelValues(metrics.Port(port)).Inc()
			}
			return
		}
		logger.Debug("connection handler error", slog.String("error", err.Error()))
	}

	logger.Info("connection closed",
		slog.Int64("bytes_from_client", stats.Upstream),
		slog.Int64("bytes_from_server", stats.Downstream))
}

// portOf extracts the port of a host:port address, 0 if it has none.
func portOf(address string) uint16 {
	_, p, err := net.SplitHostPort(address)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(n)
}

// JoinPort returns the all-interfaces listen address for port.
func JoinPort(port uint16) string {
	return fmt.Sprintf(":%d", port)
}
