// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
)

const (
	defaultBufferSize  = 32 * 1024
	defaultDialTimeout = 10 * time.Second
)

// Direction indicates the direction of byte flow.
type Direction int

const (
	// Upstream represents bytes flowing from client to backend server.
	Upstream Direction = iota

	// Downstream represents bytes flowing from backend server to client.
	Downstream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// Stats counts the bytes a forwarded connection carried.
type Stats struct {
	Upstream   int64
	Downstream int64
}

// ForwardOptions tunes a single Forward call.
type ForwardOptions struct {
	// DialTimeout bounds the backend dial. Default: 10s.
	DialTimeout time.Duration

	// BufferPool supplies *[]byte copy buffers. A private pool is used when nil.
	BufferPool *sync.Pool
}

// Forward dials backend and copies bytes between client and backend in both
// directions until both sides are done. client is closed on return.
// A dial failure returns an error matching errors.ErrDial.
func Forward(ctx context.Context, client net.Conn, backend string, opts ForwardOptions) (Stats, error) {
	defer client.Close()

	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.BufferPool == nil {
		opts.BufferPool = newBufferPool(defaultBufferSize)
	}

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	outbound, err := dialer.DialContext(ctx, "tcp", backend)
	if err != nil {
		return Stats{}, proxyerrors.Kind(proxyerrors.ErrDial, err)
	}
	defer outbound.Close()

	type result struct {
		dir Direction
		n   int64
		err error
	}
	results := make(chan result, 2)

	pipe := func(dir Direction, dst, src net.Conn) {
		n, err := copyBuffer(dst, src, opts.BufferPool)
		if err != nil {
			// Unblock the opposite copy.
			client.Close()
			outbound.Close()
		} else {
			closeWrite(dst)
		}
		results <- result{dir: dir, n: n, err: err}
	}

	go pipe(Upstream, outbound, client)
	go pipe(Downstream, client, outbound)

	var (
		stats     Stats
		streamErr error
	)
	for i := 0; i < 2; i++ {
		r := <-results
		switch r.dir {
		case Upstream:
			stats.Upstream = r.n
		case Downstream:
			stats.Downstream = r.n
		}
		if r.err != nil && streamErr == nil && !isClosed(r.err) {
			streamErr = r.err
		}
	}

	return stats, streamErr
}

func copyBuffer(dst io.Writer, src io.Reader, pool *sync.Pool) (int64, error) {
	bufPtr := pool.Get().(*[]byte)
	defer pool.Put(bufPtr)
	return io.CopyBuffer(dst, src, *bufPtr)
}

// closeWrite half-closes conn so the peer observes EOF while the opposite
// direction keeps flowing.
func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err == nil {
			return
		}
	}
	conn.Close()
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func newBufferPool(size int) *sync.Pool {
	return &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, size)
			return &buf
		},
	}
}
