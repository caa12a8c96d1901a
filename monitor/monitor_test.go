package monitor

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
	"github.com/mongodb-labs/topology-core/internal/logger"
)

type collectingReporter struct {
	mu   sync.Mutex
	subs []description.Server
}

func (c *collectingReporter) Submit(s description.Server) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, s)
}

func (c *collectingReporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func TestMonitorProbesImmediatelyOnStart(t *testing.T) {
	reporter := &collectingReporter{}
	prober := ProberFunc(func(ctx context.Context, addr address.Address) (description.HelloReply, error) {
		return description.HelloReply{OK: true, IsMaster: true}, nil
	})

	m := Start("h1:27017", reporter, prober, time.Hour)
	defer m.Stop()

	require.Eventually(t, func() bool { return reporter.count() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestMonitorForceCheckWakesSleepingLoop(t *testing.T) {
	reporter := &collectingReporter{}
	prober := ProberFunc(func(ctx context.Context, addr address.Address) (description.HelloReply, error) {
		return description.HelloReply{OK: true, IsMaster: true}, nil
	})

	m := Start("h1:27017", reporter, prober, time.Hour)
	defer m.Stop()

	require.Eventually(t, func() bool { return reporter.count() >= 1 }, time.Second, 5*time.Millisecond)
	m.ForceCheck()
	require.Eventually(t, func() bool { return reporter.count() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestMonitorReportsErrorAsUnknown(t *testing.T) {
	reporter := &collectingReporter{}
	prober := ProberFunc(func(ctx context.Context, addr address.Address) (description.HelloReply, error) {
		return description.HelloReply{}, errors.New("boom")
	})

	m := Start("h1:27017", reporter, prober, time.Hour)
	defer m.Stop()

	require.Eventually(t, func() bool { return reporter.count() >= 1 }, time.Second, 5*time.Millisecond)
	reporter.mu.Lock()
	s := reporter.subs[0]
	reporter.mu.Unlock()
	assert.Equal(t, description.Unknown, s.Kind)
	require.NotNil(t, s.Error)
}

type recordingSink struct {
	mu    sync.Mutex
	lines int
}

func (s *recordingSink) Info(level int, msg string, keysAndValues ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines++
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

func TestMonitorLogsProbeOutcomesWhenLoggerAttached(t *testing.T) {
	sink := &recordingSink{}
	log := logger.New(sink, map[logger.Component]logger.Level{logger.ComponentMonitor: logger.LevelDebug})
	defer log.Close()

	reporter := &collectingReporter{}
	prober := ProberFunc(func(ctx context.Context, addr address.Address) (description.HelloReply, error) {
		return description.HelloReply{OK: true, IsMaster: true}, nil
	})

	m := Start("h1:27017", reporter, prober, time.Hour, WithLogger(log))
	defer m.Stop()

	require.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestMonitorStopJoinsWorker(t *testing.T) {
	reporter := &collectingReporter{}
	prober := ProberFunc(func(ctx context.Context, addr address.Address) (description.HelloReply, error) {
		return description.HelloReply{OK: true, IsMaster: true}, nil
	})

	m := Start("h1:27017", reporter, prober, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	countAfterStop := reporter.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, countAfterStop, reporter.count(), "no submissions after Stop returns")
}
