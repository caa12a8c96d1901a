// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"time"

	"github.com/mongodb-labs/topology-core/address"
	"github.com/mongodb-labs/topology-core/description"
	"github.com/mongodb-labs/topology-core/event"
	"github.com/mongodb-labs/topology-core/internal/logger"
	"github.com/mongodb-labs/topology-core/monitor"
	"github.com/mongodb-labs/topology-core/pool"
)

// ConfigErrorCode identifies a Start-time configuration rejection, per
// spec.md §7.
type ConfigErrorCode string

// Recognized configuration error codes.
const (
	SingleTopologyMultipleHosts ConfigErrorCode = "SingleTopologyMultipleHosts"
	SetNameBadTopology          ConfigErrorCode = "SetNameBadTopology"
	MissingDatabase             ConfigErrorCode = "MissingDatabase"
)

// ConfigError is returned from Start when options are contradictory. No
// resources are allocated before this is returned (spec.md §4.4).
type ConfigError struct {
	Code    ConfigErrorCode
	Message string
}

func (e *ConfigError) Error() string {
	return string(e.Code) + ": " + e.Message
}

type config struct {
	Database           string
	Seeds              []address.Address
	InitialKind        description.TopologyKind
	SetName            *string
	HeartbeatFrequency time.Duration
	LocalThresholdMs   int64
	ConnectTimeout     time.Duration
	Sink               event.Sink
	Log                *logger.Logger
	PoolFactory        pool.Factory
	Prober             monitor.Prober
}

// Option configures a Manager at Start time.
type Option func(*config)

// WithDatabase sets the database name the pool factory is opened against.
// Required; omitting it is a MissingDatabase configuration error.
func WithDatabase(db string) Option {
	return func(c *config) { c.Database = db }
}

// WithSeeds overrides the default single-seed ("localhost:27017") seed
// list.
func WithSeeds(seeds ...string) Option {
	return func(c *config) {
		addrs := make([]address.Address, len(seeds))
		for i, s := range seeds {
			addrs[i] = address.Address(s).Canonicalize()
		}
		c.Seeds = addrs
	}
}

// WithType sets the initial topology type hint.
func WithType(kind description.TopologyKind) Option {
	return func(c *config) { c.InitialKind = kind }
}

// WithSetName sets the expected replica set name.
func WithSetName(name string) Option {
	return func(c *config) { c.SetName = &name }
}

// WithHeartbeatFrequency overrides the default 10s monitor interval.
func WithHeartbeatFrequency(d time.Duration) Option {
	return func(c *config) { c.HeartbeatFrequency = d }
}

// WithLocalThreshold overrides the default 15ms local threshold carried
// through to the selection layer.
func WithLocalThreshold(ms int64) Option {
	return func(c *config) { c.LocalThresholdMs = ms }
}

// WithConnectTimeout bounds pool-open duration. Monitor probes are not
// bounded by it.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) { c.ConnectTimeout = d }
}

// WithSink sets the event.Sink lifecycle/change events are published to.
func WithSink(s event.Sink) Option {
	return func(c *config) { c.Sink = s }
}

// WithLogger sets the structured logger used by the Manager.
func WithLogger(l *logger.Logger) Option {
	return func(c *config) { c.Log = l }
}

// WithPoolFactory overrides the default pool.Factory.
func WithPoolFactory(f pool.Factory) Option {
	return func(c *config) { c.PoolFactory = f }
}

// WithProber sets the Monitor's hello/isMaster transport. Required for a
// Manager to observe anything other than Unknown servers; the wire
// protocol codec itself remains out of scope (spec.md §1).
func WithProber(p monitor.Prober) Option {
	return func(c *config) { c.Prober = p }
}

func newConfig(opts ...Option) (config, error) {
	cfg := config{
		Seeds:              []address.Address{"localhost:27017"},
		InitialKind:        description.TopologyUnknown,
		HeartbeatFrequency: 10 * time.Second,
		LocalThresholdMs:   15,
		ConnectTimeout:     10 * time.Second,
		Sink:               event.NullSink{},
		PoolFactory:        pool.DefaultFactory{},
		Prober:             monitor.ProberFunc(unconfiguredProber),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Database == "" {
		return cfg, &ConfigError{Code: MissingDatabase, Message: "database is required"}
	}
	if cfg.InitialKind == description.Single && len(cfg.Seeds) > 1 {
		return cfg, &ConfigError{
			Code:    SingleTopologyMultipleHosts,
			Message: "type=Single requires exactly one seed",
		}
	}
	if cfg.SetName != nil {
		switch cfg.InitialKind {
		case description.ReplicaSetNoPrimary, description.Single, description.TopologyUnknown:
		default:
			return cfg, &ConfigError{
				Code:    SetNameBadTopology,
				Message: "setName is only valid with type Unknown, Single, or ReplicaSetNoPrimary",
			}
		}
	}

	return cfg, nil
}

// unconfiguredProber is the default Prober: it always fails, leaving every
// server Unknown, so a Manager started without WithProber degrades
// gracefully rather than panicking.
func unconfiguredProber(ctx context.Context, addr address.Address) (description.HelloReply, error) {
	return description.HelloReply{}, errNoProberConfigured
}
