// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package pool implements the PoolFactory abstraction of spec.md §4.6. The
// pool's internal checkout/return logic is explicitly out of scope
// (spec.md §1); this is a minimal, opaque connection handle sufficient to
// exercise the Manager's reconciliation lifecycle (open/close) faithfully.
package pool

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mongodb-labs/topology-core/address"
	"github.com/mongodb-labs/topology-core/internal/logger"
)

// ErrPoolClosed is returned by Borrow once a Pool has been closed.
var ErrPoolClosed = errors.New("pool: closed")

// ErrShuttingDown is returned by a Borrow that was still dialing when Close
// ran; the connection it dialed is closed instead of being handed out.
var ErrShuttingDown = errors.New("pool: shutting down")

// Dialer opens a network connection to an address. Mirrors the
// Dialer/DialerFunc idiom of core/connection.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

// DialContext implements Dialer.
func (f DialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

// DefaultDialer is used when Options.Dialer is nil.
var DefaultDialer Dialer = DialerFunc((&net.Dialer{}).DialContext)

// Options configures a Pool. It is the "connectOpts" of spec.md §4.6.
type Options struct {
	Database       string
	Address        address.Address
	ConnectTimeout time.Duration
	MinConns       int
	MaxConns       int
	Dialer         Dialer
	Log            *logger.Logger
}

var globalConnID uint64

func nextConnID() uint64 { return atomic.AddUint64(&globalConnID, 1) }

// Conn is an opaque handle to one borrowed connection. The wire protocol
// framing used to actually issue operations over it is out of scope
// (spec.md §1); only lifecycle (ID/Close) is exposed here.
type Conn struct {
	id   uint64
	raw  net.Conn
	pool *Pool
}

// ID returns a value unique to this connection's lifetime, for logging.
func (c *Conn) ID() uint64 { return c.id }

// Close returns the connection to its pool.
func (c *Conn) Close() error {
	return c.pool.checkin(c)
}

// Pool is the default, minimal PoolFactory-managed connection pool.
type Pool struct {
	opts   Options
	dialer Dialer

	mu     sync.Mutex
	idle   []*Conn
	closed bool
	cancel context.CancelFunc
}

// Open dials Options.Address once to validate connectivity (bounded by
// ConnectTimeout, per spec.md §5) and returns a ready Pool. A failure here
// is the "PoolOpenFailed" error of spec.md §7, which the Manager's
// reconciliation treats as fatal for that address.
func Open(ctx context.Context, opts Options) (*Pool, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = DefaultDialer
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", opts.Address.String())
	if err != nil {
		if opts.Log != nil {
			opts.Log.Print(logger.LevelInfo, logger.ComponentPool, "dial failed", "address", opts.Address, "error", err)
		}
		return nil, err
	}

	p := &Pool{opts: opts, dialer: dialer}
	p.idle = append(p.idle, &Conn{id: nextConnID(), raw: conn, pool: p})
	if opts.Log != nil {
		opts.Log.Print(logger.LevelDebug, logger.ComponentPool, "pool opened", "address", opts.Address)
	}
	return p, nil
}

// Borrow hands out a connection, dialing a new one if none are idle.
func (p *Pool) Borrow(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.opts.Address.String())
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		conn.Close()
		return nil, ErrShuttingDown
	}
	return &Conn{id: nextConnID(), raw: conn, pool: p}, nil
}

func (p *Pool) checkin(c *Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return c.raw.Close()
	}
	p.idle = append(p.idle, c)
	return nil
}

// Close drains the pool, closing every idle connection. Any Borrow call
// still outstanding when Close runs will see ErrShuttingDown the next time
// it touches the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var firstErr error
	for _, c := range p.idle {
		if err := c.raw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.idle = nil
	return firstErr
}

// Factory opens pool handles for the Manager, which treats them opaquely.
// The interface has Open only: Close is on Handle, and Borrow is a method of
// *Pool that neither interface exposes.
type Factory interface {
	Open(ctx context.Context, opts Options) (Handle, error)
}

// Handle is the narrow view of a Pool the Manager's reconciler needs: open
// and close. Borrow is exposed to callers obtaining a connection for
// operations, which are out of scope for this core.
type Handle interface {
	Close() error
}

// DefaultFactory opens real Pool values via Open.
type DefaultFactory struct{}

// Open implements Factory.
func (DefaultFactory) Open(ctx context.Context, opts Options) (Handle, error) {
	return Open(ctx, opts)
}
