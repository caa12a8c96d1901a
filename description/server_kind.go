// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package description holds the immutable value types of the SDAM core:
// ServerDescription ("Server"), TopologyDescription ("Topology"), and the
// pure transition function Update that drives the topology state machine
// (spec.md §4.2).
package description

// ServerKind classifies the role a server plays, per the SDAM server-type
// table.
type ServerKind uint32

const (
	// Unknown means the server has never been successfully probed, or its
	// last probe failed.
	Unknown ServerKind = iota
	// Standalone is a non-replicated mongod.
	Standalone
	// Mongos is a sharding router.
	Mongos
	// PossiblePrimary is a transient classification used while a topology
	// is still Unknown and the server has not yet been fully evaluated.
	PossiblePrimary
	// RSPrimary is a replica set primary.
	RSPrimary
	// RSSecondary is a replica set secondary.
	RSSecondary
	// RSArbiter is a replica set arbiter (votes, holds no data).
	RSArbiter
	// RSOther is a replica set member that is none of the above (e.g.
	// building its index, or otherwise not yet electable).
	RSOther
	// RSGhost is a server that reports isreplicaset=true but has not yet
	// joined a set (or has been removed from one).
	RSGhost
)

// String implements fmt.Stringer.
func (k ServerKind) String() string {
	switch k {
	case Standalone:
		return "Standalone"
	case Mongos:
		return "Mongos"
	case PossiblePrimary:
		return "PossiblePrimary"
	case RSPrimary:
		return "RSPrimary"
	case RSSecondary:
		return "RSSecondary"
	case RSArbiter:
		return "RSArbiter"
	case RSOther:
		return "RSOther"
	case RSGhost:
		return "RSGhost"
	default:
		return "Unknown"
	}
}

// IsReplicaSetMember reports whether k is one of the RS* kinds.
func (k ServerKind) IsReplicaSetMember() bool {
	switch k {
	case RSPrimary, RSSecondary, RSArbiter, RSOther, RSGhost:
		return true
	default:
		return false
	}
}
