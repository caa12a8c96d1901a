package topology

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongodb-labs/topology-core/address"
	"github.com/mongodb-labs/topology-core/description"
	"github.com/mongodb-labs/topology-core/pool"
)

// fakeProber answers Probe with a canned reply or error per address,
// without touching the network. Grounded on the Prober test doubles in
// monitor/monitor_test.go.
type fakeProber struct {
	mu      sync.Mutex
	replies map[address.Address]description.HelloReply
	errs    map[address.Address]error
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		replies: make(map[address.Address]description.HelloReply),
		errs:    make(map[address.Address]error),
	}
}

func (p *fakeProber) setReply(addr address.Address, reply description.HelloReply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[addr] = reply
}

func (p *fakeProber) Probe(ctx context.Context, addr address.Address) (description.HelloReply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.errs[addr]; ok {
		return description.HelloReply{}, err
	}
	return p.replies[addr], nil
}

// fakeHandle is a pool.Handle that never dials.
type fakeHandle struct {
	mu     sync.Mutex
	closed bool
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// fakePoolFactory opens a fakeHandle for every address except those listed
// in failAddrs, for which it returns an error (simulating PoolOpenFailed,
// spec.md §7).
type fakePoolFactory struct {
	failAddrs map[address.Address]bool
}

func (f fakePoolFactory) Open(ctx context.Context, opts pool.Options) (pool.Handle, error) {
	if f.failAddrs[opts.Address] {
		return nil, errors.New("simulated pool open failure")
	}
	return &fakeHandle{}, nil
}

func TestManagerDiscoversStandaloneServer(t *testing.T) {
	prober := newFakeProber()
	prober.setReply("h1:27017", description.HelloReply{OK: true, IsMaster: true})

	m, err := Start(
		WithDatabase("test"),
		WithSeeds("h1:27017"),
		WithProber(prober),
		WithPoolFactory(fakePoolFactory{}),
		WithHeartbeatFrequency(time.Hour),
	)
	require.NoError(t, err)
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.Topology().Kind == description.Single
	}, time.Second, 5*time.Millisecond)

	s, ok := m.Topology().Server("h1:27017")
	require.True(t, ok)
	assert.Equal(t, description.Standalone, s.Kind)

	h, err := m.ConnectionFor("h1:27017")
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestManagerStopClosesPoolsAndRejectsFurtherCalls(t *testing.T) {
	prober := newFakeProber()
	factory := fakePoolFactory{}

	m, err := Start(
		WithDatabase("test"),
		WithSeeds("h1:27017"),
		WithProber(prober),
		WithPoolFactory(factory),
		WithHeartbeatFrequency(time.Hour),
	)
	require.NoError(t, err)

	h, err := m.ConnectionFor("h1:27017")
	require.NoError(t, err)
	handle := h.(*fakeHandle)

	m.Stop()

	handle.mu.Lock()
	closed := handle.closed
	handle.mu.Unlock()
	assert.True(t, closed)

	_, err = m.ConnectionFor("h1:27017")
	assert.ErrorIs(t, err, ErrTopologyClosed)

	// Stop is idempotent.
	m.Stop()
}

// Regression test: Stop used to stop Monitors from its own goroutine while
// the command goroutine's reconcile could still be running (and possibly
// stopping/removing that same Monitor concurrently), which raced
// Monitor.Stop's close(done). Firing Submit right up to the moment Stop is
// called exercises that handoff.
func TestManagerStopConcurrentWithInFlightSubmit(t *testing.T) {
	prober := newFakeProber()
	prober.setReply("h1:27017", description.HelloReply{OK: true, IsMaster: true, IsReplicaSet: true, SetName: "rs0", Hosts: []string{"h1:27017", "h2:27017"}})
	prober.setReply("h2:27017", description.HelloReply{OK: true, IsMaster: true, IsReplicaSet: true, SetName: "rs0", Hosts: []string{"h1:27017", "h2:27017"}})

	m, err := Start(
		WithDatabase("test"),
		WithSeeds("h1:27017"),
		WithSetName("rs0"),
		WithType(description.ReplicaSetNoPrimary),
		WithProber(prober),
		WithPoolFactory(fakePoolFactory{}),
		WithHeartbeatFrequency(time.Hour),
	)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			m.Submit(description.NewServerFromHello("h1:27017", description.HelloReply{
				OK: true, IsMaster: true, IsReplicaSet: true, SetName: "rs0",
				Hosts: []string{"h1:27017", "h2:27017"},
			}, time.Millisecond))
		}
	}()

	m.Stop()
	wg.Wait()
}

func TestManagerDropsAddressOnPoolOpenFailure(t *testing.T) {
	prober := newFakeProber()
	factory := fakePoolFactory{failAddrs: map[address.Address]bool{"h2:27017": true}}

	m, err := Start(
		WithDatabase("test"),
		WithSeeds("h1:27017", "h2:27017"),
		WithSetName("rs0"),
		WithType(description.ReplicaSetNoPrimary),
		WithProber(prober),
		WithPoolFactory(factory),
		WithHeartbeatFrequency(time.Hour),
	)
	require.NoError(t, err)
	defer m.Stop()

	_, ok := m.Topology().Server("h2:27017")
	assert.False(t, ok, "h2 should have been dropped after its pool failed to open")

	_, err = m.ConnectionFor("h2:27017")
	assert.ErrorIs(t, err, ErrServerNotFound)

	_, ok = m.Topology().Server("h1:27017")
	assert.True(t, ok)
}

// countingPoolFactory records how many times Open was called per address,
// so a test can detect a Monitor/Pool being started a second time for an
// address that already succeeded.
type countingPoolFactory struct {
	mu        sync.Mutex
	opens     map[address.Address]int
	failAddrs map[address.Address]bool
}

func (f *countingPoolFactory) Open(ctx context.Context, opts pool.Options) (pool.Handle, error) {
	f.mu.Lock()
	if f.opens == nil {
		f.opens = make(map[address.Address]int)
	}
	f.opens[opts.Address]++
	f.mu.Unlock()

	if f.failAddrs[opts.Address] {
		return nil, errors.New("simulated pool open failure")
	}
	return &fakeHandle{}, nil
}

func (f *countingPoolFactory) openCount(addr address.Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[addr]
}

// Regression test: reconcile's pool-open-failure retry path used to diff
// against the original snapshot it was first called with, so addresses
// that had already started successfully were re-reported as Added on the
// retry and started a second time, leaking the first Monitor/Pool.
func TestReconcileDoesNotRestartAlreadyAdmittedAddressOnRetry(t *testing.T) {
	factory := &countingPoolFactory{failAddrs: map[address.Address]bool{"h2:27017": true}}

	m, err := Start(
		WithDatabase("test"),
		WithSeeds("h1:27017", "h2:27017", "h3:27017"),
		WithSetName("rs0"),
		WithType(description.ReplicaSetNoPrimary),
		WithProber(newFakeProber()),
		WithPoolFactory(factory),
		WithHeartbeatFrequency(time.Hour),
	)
	require.NoError(t, err)
	defer m.Stop()

	assert.Equal(t, 1, factory.openCount("h1:27017"), "h1's pool should only have been opened once")
	assert.Equal(t, 1, factory.openCount("h3:27017"), "h3's pool should only have been opened once")
	assert.Equal(t, 1, factory.openCount("h2:27017"), "h2's pool should only have been attempted once")

	m.mu.Lock()
	monitorCount := len(m.monitors)
	m.mu.Unlock()
	assert.Equal(t, 2, monitorCount)
}

func TestStartRejectsSingleTopologyWithMultipleHosts(t *testing.T) {
	_, err := Start(
		WithDatabase("test"),
		WithSeeds("h1:27017", "h2:27017"),
		WithType(description.Single),
	)
	require.Error(t, err)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, SingleTopologyMultipleHosts, cfgErr.Code)
}

func TestStartRejectsMissingDatabase(t *testing.T) {
	_, err := Start(WithSeeds("h1:27017"))
	require.Error(t, err)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, MissingDatabase, cfgErr.Code)
}

func TestStartRejectsSetNameWithShardedType(t *testing.T) {
	_, err := Start(
		WithDatabase("test"),
		WithSeeds("h1:27017"),
		WithType(description.Sharded),
		WithSetName("rs0"),
	)
	require.Error(t, err)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, SetNameBadTopology, cfgErr.Code)
}

func TestManagerSubmitAppliesObservation(t *testing.T) {
	m, err := Start(
		WithDatabase("test"),
		WithSeeds("h1:27017"),
		WithProber(newFakeProber()),
		WithPoolFactory(fakePoolFactory{}),
		WithHeartbeatFrequency(time.Hour),
	)
	require.NoError(t, err)
	defer m.Stop()

	m.Submit(description.NewServerFromHello("h1:27017", description.HelloReply{OK: true, IsMaster: true}, time.Millisecond))

	require.Eventually(t, func() bool {
		s, ok := m.Topology().Server("h1:27017")
		return ok && s.Kind == description.Standalone
	}, time.Second, 5*time.Millisecond)
}

func TestReconcileIsIdempotent(t *testing.T) {
	m, err := Start(
		WithDatabase("test"),
		WithSeeds("h1:27017"),
		WithProber(newFakeProber()),
		WithPoolFactory(fakePoolFactory{}),
		WithHeartbeatFrequency(time.Hour),
	)
	require.NoError(t, err)
	defer m.Stop()

	before := m.Topology()
	after := m.reconcile(before)
	assert.True(t, before.Equal(after))

	m.mu.Lock()
	monitorCount := len(m.monitors)
	poolCount := len(m.pools)
	m.mu.Unlock()
	assert.Equal(t, 1, monitorCount)
	assert.Equal(t, 1, poolCount)
}
