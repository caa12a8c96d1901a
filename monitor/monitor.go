// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package monitor implements the background per-server health-check worker
// of spec.md §4.3. Its own probe transport is out of scope (spec.md §1); it
// depends on the Prober interface instead.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/mongodb-labs/topology-core/address"
	"github.com/mongodb-labs/topology-core/description"
	"github.com/mongodb-labs/topology-core/internal/logger"
)

// minHeartbeatInterval is the shortest heartbeat interval Start accepts;
// shorter intervals are raised to it. ForceCheck is not limited by it.
// Matches x/mongo/driver/topology/server.go's identical constant.
const minHeartbeatInterval = 500 * time.Millisecond

// Prober performs the actual hello/isMaster exchange against one server.
// This is the seam where the (out of scope) wire protocol codec plugs in;
// this package ships no production implementation, only test doubles.
type Prober interface {
	Probe(ctx context.Context, addr address.Address) (description.HelloReply, error)
}

// ProberFunc adapts a function to a Prober.
type ProberFunc func(ctx context.Context, addr address.Address) (description.HelloReply, error)

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, addr address.Address) (description.HelloReply, error) {
	return f(ctx, addr)
}

// Reporter receives ServerDescriptions produced by a Monitor's probe loop.
// The topology.Manager implements this.
type Reporter interface {
	Submit(description.Server)
}

// ReporterFunc adapts a function to a Reporter.
type ReporterFunc func(description.Server)

// Submit implements Reporter.
func (f ReporterFunc) Submit(s description.Server) { f(s) }

// Monitor is one background worker per address. It probes on a schedule,
// smooths round-trip time, and can be woken early with ForceCheck.
type Monitor struct {
	address  address.Address
	prober   Prober
	reportTo Reporter
	interval time.Duration

	checkNow chan struct{}
	done     chan struct{}
	stopped  chan struct{}

	mu      sync.Mutex
	hadRTT  bool
	prevRTT time.Duration

	log      *logger.Logger
	stopOnce sync.Once
}

// Opt configures optional Monitor behavior not central to its construction.
type Opt func(*Monitor)

// WithLogger attaches a Logger a Monitor reports probe outcomes through at
// ComponentMonitor/LevelDebug, instead of staying silent.
func WithLogger(l *logger.Logger) Opt {
	return func(m *Monitor) { m.log = l }
}

// Start constructs a Monitor and launches its probe loop immediately. The
// first probe happens right away (not after one full interval), matching
// the "probe, then sleep" order of spec.md §4.3.
func Start(addr address.Address, reportTo Reporter, prober Prober, heartbeatInterval time.Duration, opts ...Opt) *Monitor {
	if heartbeatInterval < minHeartbeatInterval {
		heartbeatInterval = minHeartbeatInterval
	}
	m := &Monitor{
		address:  addr.Canonicalize(),
		prober:   prober,
		reportTo: reportTo,
		interval: heartbeatInterval,
		checkNow: make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.run()
	return m
}

// ForceCheck wakes the monitor immediately if it is sleeping between
// probes. A call made mid-probe is not discarded: at most one request is
// held, and the monitor probes again right after the current probe instead
// of sleeping. It has no effect once the monitor is stopped.
func (m *Monitor) ForceCheck() {
	select {
	case m.checkNow <- struct{}{}:
	default:
	}
}

// Stop cancels any in-flight probe, joins the worker goroutine, and
// guarantees no further calls to reportTo.Submit after it returns. Safe to
// call concurrently or more than once; only the first call closes done.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	<-m.stopped
}

func (m *Monitor) run() {
	defer close(m.stopped)

	for {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			m.probeOnce(ctx)
		}()

		select {
		case <-m.done:
			cancel()
			<-done
			return
		case <-done:
			cancel()
		}

		timer := time.NewTimer(m.interval)
		select {
		case <-m.done:
			timer.Stop()
			return
		case <-m.checkNow:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	start := time.Now()
	reply, err := m.prober.Probe(ctx, m.address)
	sample := time.Since(start)

	var desc description.Server
	if err != nil {
		kind := classifyError(ctx, err)
		desc = description.NewServerFromError(m.address, kind, err)
		if m.log != nil {
			m.log.Print(logger.LevelDebug, logger.ComponentMonitor, "probe failed", "address", m.address, "errorKind", kind, "error", err)
		}
	} else {
		m.mu.Lock()
		rtt := description.UpdateRTT(m.prevRTT, m.hadRTT, sample)
		m.prevRTT = rtt
		m.hadRTT = true
		m.mu.Unlock()
		desc = description.NewServerFromHello(m.address, reply, rtt)
		if m.log != nil {
			m.log.Print(logger.LevelDebug, logger.ComponentMonitor, "probe succeeded", "address", m.address, "kind", desc.Kind, "rtt", rtt)
		}
	}

	select {
	case <-m.done:
		return
	default:
	}
	m.reportTo.Submit(desc)
}

func classifyError(ctx context.Context, err error) description.ErrorKind {
	if ctx.Err() != nil {
		return description.ErrorKindTimeout
	}
	return description.ErrorKindNetwork
}
