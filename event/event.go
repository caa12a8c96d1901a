// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package event defines the lifecycle and transition events emitted by a
// topology Manager, and the Sink interface embedders implement to receive
// them. See spec.md §4.5.
package event

import (
	"github.com/mongodb-labs/topology-core/address"
	"github.com/mongodb-labs/topology-core/description"
)

// Kind identifies the shape of an Event.
type Kind int

const (
	// TopologyOpening fires once, when Start has validated its options and
	// before any seed's Monitor/Pool is started.
	TopologyOpening Kind = iota
	// TopologyClosed fires once, at the end of Stop.
	TopologyClosed
	// TopologyDescriptionChanged fires whenever the structural topology
	// description changes (see spec.md §4.4 step 5).
	TopologyDescriptionChanged
	// ServerOpening fires when an address is admitted to the topology and
	// before its Monitor/Pool are started.
	ServerOpening
	// ServerClosed fires when an address is removed from the topology,
	// after its Monitor/Pool are stopped.
	ServerClosed
	// ServerDescriptionChanged fires for any per-server semantic change
	// (see spec.md §4.4 step 3).
	ServerDescriptionChanged
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case TopologyOpening:
		return "TopologyOpening"
	case TopologyClosed:
		return "TopologyClosed"
	case TopologyDescriptionChanged:
		return "TopologyDescriptionChanged"
	case ServerOpening:
		return "ServerOpening"
	case ServerClosed:
		return "ServerClosed"
	case ServerDescriptionChanged:
		return "ServerDescriptionChanged"
	default:
		return "Unknown"
	}
}

// TopologyID identifies the Manager instance an event originated from, so a
// single Sink can be shared across more than one Manager.
type TopologyID string

// Event is a single lifecycle or transition notification. Only the fields
// relevant to Kind are populated; the rest are the zero value.
type Event struct {
	Kind       Kind
	TopologyID TopologyID
	Address    address.Address // ServerOpening, ServerClosed, ServerDescriptionChanged

	PrevTopology description.Topology // TopologyDescriptionChanged
	NextTopology description.Topology // TopologyDescriptionChanged

	PrevServer description.Server // ServerDescriptionChanged
	NextServer description.Server // ServerDescriptionChanged
}
