// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package topology implements the Manager: the single logical executor that
// owns a TopologyDescription, applies the pure description.Update
// transition to every observation a Monitor submits, and reconciles
// Monitor/Pool membership against the result.
package topology

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mongodb-labs/topology-core/address"
	"github.com/mongodb-labs/topology-core/description"
	"github.com/mongodb-labs/topology-core/event"
	"github.com/mongodb-labs/topology-core/internal/logger"
	"github.com/mongodb-labs/topology-core/monitor"
	"github.com/mongodb-labs/topology-core/pool"
)

// ErrTopologyClosed is returned by ConnectionFor once Stop has begun.
var ErrTopologyClosed = errors.New("topology: closed")

// ErrServerNotFound is returned by ConnectionFor when addr is not currently
// a member of the topology.
var ErrServerNotFound = errors.New("topology: server not found")

var errNoProberConfigured = errors.New("topology: no Prober configured")

var nextTopologyID uint64

func newTopologyID() event.TopologyID {
	n := atomic.AddUint64(&nextTopologyID, 1)
	return event.TopologyID("topology-" + itoaID(n))
}

func itoaID(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// submitBufferSize bounds how many in-flight observations the Manager's
// single command goroutine can queue before a submitting Monitor blocks.
const submitBufferSize = 64

// Manager is the single-writer owner of one TopologyDescription. All
// mutation happens serially, inside the goroutine started by Start; reads
// (Topology, ConnectionFor) take a short-lived lock to copy out a
// snapshot, never a reference to shared state (spec.md §5).
type Manager struct {
	cfg         config
	sink        event.Sink
	log         *logger.Logger
	poolFactory pool.Factory
	prober      monitor.Prober
	id          event.TopologyID

	seedCount int

	submitCh chan description.Server
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	current  description.Topology
	monitors map[address.Address]*monitor.Monitor
	pools    map[address.Address]pool.Handle
	closed   bool
}

// Start validates opts, opens a Monitor and Pool for every seed, and
// launches the Manager's single command goroutine. No resources are
// allocated if validation fails (spec.md §4.4).
func Start(opts ...Option) (*Manager, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg,
		sink:        cfg.Sink,
		log:         cfg.Log,
		poolFactory: cfg.PoolFactory,
		prober:      cfg.Prober,
		id:          newTopologyID(),
		seedCount:   len(cfg.Seeds),
		submitCh:    make(chan description.Server, submitBufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		monitors:    make(map[address.Address]*monitor.Monitor),
		pools:       make(map[address.Address]pool.Handle),
	}

	initial := description.NewTopology(cfg.SetName, cfg.LocalThresholdMs)
	initial.Kind = cfg.InitialKind
	for _, addr := range cfg.Seeds {
		initial.Servers[addr.Canonicalize()] = description.NewDefaultServer(addr)
	}

	m.sink.Publish(event.Event{Kind: event.TopologyOpening, TopologyID: m.id})

	// Reconcile synchronously, before the command goroutine starts, so no
	// submitted observation can race this initial membership setup.
	reconciled := m.reconcile(initial)

	m.mu.Lock()
	m.current = reconciled
	m.mu.Unlock()

	go m.run()

	return m, nil
}

// Topology returns a point-in-time snapshot of the topology description.
func (m *Manager) Topology() description.Topology {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.current
	snapshot.Servers = make(map[address.Address]description.Server, len(m.current.Servers))
	for a, s := range m.current.Servers {
		snapshot.Servers[a] = s
	}
	return snapshot
}

// ConnectionFor returns the pool.Handle for addr, if addr is currently a
// member of the topology.
func (m *Manager) ConnectionFor(addr address.Address) (pool.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrTopologyClosed
	}
	h, ok := m.pools[addr.Canonicalize()]
	if !ok {
		return nil, ErrServerNotFound
	}
	return h, nil
}

// Submit enqueues an observed ServerDescription for processing by the
// Manager's command goroutine. It implements monitor.Reporter. Submit
// drops the observation rather than blocking forever once Stop has begun,
// but otherwise applies backpressure through submitCh like any bounded
// channel.
func (m *Manager) Submit(s description.Server) {
	select {
	case m.submitCh <- s:
	case <-m.stopCh:
	}
}

// Stop stops every Monitor, closes every Pool, and emits ServerClosed for
// each address plus a final TopologyClosed. It is safe to call more than
// once; only the first call has effect.
//
// The command goroutine is quiesced first: closing stopCh and waiting on
// doneCh guarantees run (and any reconcile it has in flight) has returned
// before this function touches m.monitors/m.pools itself. Without that
// ordering, a reconcile racing this loop could stop/close the same Monitor
// or Pool concurrently, or start one after this snapshot was taken and
// leak it.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		close(m.stopCh)
		<-m.doneCh

		m.mu.Lock()
		monitors := make([]*monitor.Monitor, 0, len(m.monitors))
		for _, mon := range m.monitors {
			monitors = append(monitors, mon)
		}
		pools := make(map[address.Address]pool.Handle, len(m.pools))
		for a, h := range m.pools {
			pools[a] = h
		}
		m.mu.Unlock()

		for _, mon := range monitors {
			mon.Stop()
		}

		for addr, h := range pools {
			h.Close()
			m.sink.Publish(event.Event{Kind: event.ServerClosed, TopologyID: m.id, Address: addr})
		}
		m.sink.Publish(event.Event{Kind: event.TopologyClosed, TopologyID: m.id})
	})
}

func (m *Manager) run() {
	defer close(m.doneCh)
	for {
		select {
		case s := <-m.submitCh:
			m.applySubmit(s)
		case <-m.stopCh:
			return
		}
	}
}

// applySubmit implements the six-step ordering of spec.md §4.4: compute the
// pure update, reconcile membership, emit per-server change events, dispatch
// ForceChecks, emit a topology-changed event if the structural description
// moved, and only then publish the new current description.
func (m *Manager) applySubmit(observed description.Server) {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	next, changes, forceChecks := description.Update(current, observed, m.seedCount)

	next = m.reconcile(next)

	for _, c := range changes {
		m.sink.Publish(event.Event{
			Kind:       event.ServerDescriptionChanged,
			TopologyID: m.id,
			Address:    c.Address,
			PrevServer: c.Prev,
			NextServer: c.Next,
		})
	}

	for _, addr := range forceChecks {
		m.mu.Lock()
		mon := m.monitors[addr]
		m.mu.Unlock()
		if mon != nil {
			mon.ForceCheck()
		}
	}

	if !current.Equal(next) {
		m.sink.Publish(event.Event{
			Kind:         event.TopologyDescriptionChanged,
			TopologyID:   m.id,
			PrevTopology: current,
			NextTopology: next,
		})
	}

	m.mu.Lock()
	m.current = next
	m.mu.Unlock()
}

// reconcile brings Monitor/Pool membership in line with next's server set
// (spec.md §4.4.1). Added/Removed are computed against the *live* monitor
// set (m.monitors), not a topology snapshot: on the pool-open-failure retry
// path, reconcile recurses with the same next it was first called with,
// and every address already started in the first pass must diff as
// unchanged on the re-run, not as Added again. A Pool that fails to open is
// treated as fatal for that one address: the address is dropped from next
// and reconciliation is re-run, per the Open Question decision recorded in
// DESIGN.md. Idempotent: reconciling a topology whose addresses already
// match the live monitor set computes an empty diff and does nothing.
func (m *Manager) reconcile(next description.Topology) description.Topology {
	m.mu.Lock()
	var added, removed []address.Address
	for a := range next.Servers {
		if _, ok := m.monitors[a]; !ok {
			added = append(added, a)
		}
	}
	for a := range m.monitors {
		if _, ok := next.Servers[a]; !ok {
			removed = append(removed, a)
		}
	}
	m.mu.Unlock()

	if len(added) > 0 {
		var mu sync.Mutex
		var failed []address.Address

		var g errgroup.Group
		for _, a := range added {
			addr := a
			g.Go(func() error {
				m.sink.Publish(event.Event{Kind: event.ServerOpening, TopologyID: m.id, Address: addr})

				var monOpts []monitor.Opt
				if m.log != nil {
					monOpts = append(monOpts, monitor.WithLogger(m.log))
				}
				mon := monitor.Start(addr, monitor.ReporterFunc(m.Submit), m.prober, m.cfg.HeartbeatFrequency, monOpts...)

				ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
				handle, err := m.poolFactory.Open(ctx, pool.Options{
					Database:       m.cfg.Database,
					Address:        addr,
					ConnectTimeout: m.cfg.ConnectTimeout,
					Log:            m.log,
				})
				cancel()

				if err != nil {
					if m.log != nil {
						m.log.Print(logger.LevelInfo, logger.ComponentPool, "pool open failed", "address", addr, "error", err)
					}
					mon.Stop()
					mu.Lock()
					failed = append(failed, addr)
					mu.Unlock()
					return nil
				}

				m.mu.Lock()
				m.monitors[addr] = mon
				m.pools[addr] = handle
				m.mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if len(failed) > 0 {
			for _, addr := range failed {
				delete(next.Servers, addr)
				m.sink.Publish(event.Event{Kind: event.ServerClosed, TopologyID: m.id, Address: addr})
			}
			return m.reconcile(next)
		}
	}

	for _, addr := range removed {
		m.mu.Lock()
		mon := m.monitors[addr]
		delete(m.monitors, addr)
		handle := m.pools[addr]
		delete(m.pools, addr)
		m.mu.Unlock()

		if mon != nil {
			mon.Stop()
		}
		if handle != nil {
			handle.Close()
		}
		m.sink.Publish(event.Event{Kind: event.ServerClosed, TopologyID: m.id, Address: addr})
	}

	return next
}
