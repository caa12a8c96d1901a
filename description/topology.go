package description

import (
	"github.com/mongodb-labs/topology-core/address"
)

// Topology is an immutable snapshot of the whole cluster (spec.md §3,
// "TopologyDescription").
type Topology struct {
	Kind               TopologyKind
	SetName            *string
	Servers            map[address.Address]Server
	MaxSetVersion      *int64
	MaxElectionID      ElectionID
	Compatible         bool
	CompatibilityError string
	LocalThresholdMs   int64
}

// NewTopology returns the initial, empty Unknown topology that seeds admit
// their servers into.
func NewTopology(setName *string, localThresholdMs int64) Topology {
	return Topology{
		Kind:             TopologyUnknown,
		SetName:          setName,
		Servers:          make(map[address.Address]Server),
		Compatible:       true,
		LocalThresholdMs: localThresholdMs,
	}
}

// clone returns a deep-enough copy of t so callers can mutate the result
// without aliasing t.Servers.
func (t Topology) clone() Topology {
	next := t
	next.Servers = make(map[address.Address]Server, len(t.Servers))
	for a, s := range t.Servers {
		next.Servers[a] = s
	}
	return next
}

// Server returns the description stored for addr, if any.
func (t Topology) Server(addr address.Address) (Server, bool) {
	s, ok := t.Servers[addr.Canonicalize()]
	return s, ok
}

// Addresses returns the live server set as a slice, in no particular order.
func (t Topology) Addresses() []address.Address {
	out := make([]address.Address, 0, len(t.Servers))
	for a := range t.Servers {
		out = append(out, a)
	}
	return out
}

// primary returns the address of the current RSPrimary, if any.
func (t Topology) primary() (address.Address, bool) {
	for a, s := range t.Servers {
		if s.Kind == RSPrimary {
			return a, true
		}
	}
	return "", false
}

// ServerChange is one (previous, next) pair of descriptions for the same
// address, as described in spec.md §4.2, "Event list produced."
type ServerChange struct {
	Address address.Address
	Prev    Server
	Next    Server
}

// Update is the pure transition function of spec.md §4.2:
// update(current, observed, seedCount) -> (next, events). events is split
// into the two kinds spec.md describes: per-server change pairs, and
// ForceCheck directives, each already de-duplicated per address within this
// single call.
func Update(current Topology, observed Server, seedCount int) (next Topology, changes []ServerChange, forceChecks []address.Address) {
	observed.Address = observed.Address.Canonicalize()

	// Rule 1: stale reference to a server the topology no longer admits.
	if _, ok := current.Servers[observed.Address]; !ok {
		return current, nil, nil
	}

	next = current.clone()
	forceSet := make(map[address.Address]struct{})

	switch next.Kind {
	case TopologyUnknown:
		next = updateUnknownTopology(next, observed, seedCount, &changes)
	case Single:
		next = updateSingleTopology(next, observed, &changes)
	case Sharded:
		next = updateShardedTopology(next, observed, &changes)
	case ReplicaSetNoPrimary, ReplicaSetWithPrimary:
		next = updateReplicaSetTopology(next, observed, &changes, forceSet)
	default:
		next.Servers[observed.Address] = observed
	}

	next = recomputeCompatibility(next)

	for a := range forceSet {
		forceChecks = append(forceChecks, a)
	}
	return next, changes, forceChecks
}

func recordChange(changes *[]ServerChange, addr address.Address, prev, next Server) {
	if prev.Equal(next) {
		return
	}
	*changes = append(*changes, ServerChange{Address: addr, Prev: prev, Next: next})
}

// updateUnknownTopology implements spec.md §4.2 rule 2: the first
// non-Unknown observation picks the topology's type. Once the type is
// picked, the same observation is re-dispatched through the handler for
// that type so host-set merging / primary bookkeeping happens exactly once,
// in one place.
func updateUnknownTopology(t Topology, observed Server, seedCount int, changes *[]ServerChange) Topology {
	switch observed.Kind {
	case Unknown, RSGhost, PossiblePrimary:
		prev := t.Servers[observed.Address]
		recordChange(changes, observed.Address, prev, observed)
		t.Servers[observed.Address] = observed
		return t

	case Standalone:
		if seedCount == 1 {
			t.Kind = Single
			prev := t.Servers[observed.Address]
			recordChange(changes, observed.Address, prev, observed)
			t.Servers[observed.Address] = observed
			return t
		}
		// More than one seed: a standalone can't be part of a cluster;
		// drop the address and stay Unknown.
		delete(t.Servers, observed.Address)
		return t

	case Mongos:
		t.Kind = Sharded
		prev := t.Servers[observed.Address]
		recordChange(changes, observed.Address, prev, observed)
		t.Servers[observed.Address] = observed
		return t

	case RSPrimary, RSSecondary, RSArbiter, RSOther:
		t.Kind = ReplicaSetNoPrimary
		if t.SetName == nil && observed.SetName != "" {
			name := observed.SetName
			t.SetName = &name
		}
		forceSet := make(map[address.Address]struct{})
		t = updateReplicaSetTopology(t, observed, changes, forceSet)
		return t

	default:
		return t
	}
}

// updateSingleTopology implements spec.md §4.2 rule 3.
func updateSingleTopology(t Topology, observed Server, changes *[]ServerChange) Topology {
	prev := t.Servers[observed.Address]
	recordChange(changes, observed.Address, prev, observed)
	t.Servers[observed.Address] = observed
	return t
}

// updateShardedTopology implements spec.md §4.2 rule 4.
func updateShardedTopology(t Topology, observed Server, changes *[]ServerChange) Topology {
	switch observed.Kind {
	case Mongos, Unknown:
		prev := t.Servers[observed.Address]
		recordChange(changes, observed.Address, prev, observed)
		t.Servers[observed.Address] = observed
		return t
	default:
		delete(t.Servers, observed.Address)
		return t
	}
}

// updateReplicaSetTopology implements spec.md §4.2 rule 5, the richest
// case. forceSet accumulates ForceCheck targets, de-duplicated by virtue of
// being a set.
func updateReplicaSetTopology(t Topology, observed Server, changes *[]ServerChange, forceSet map[address.Address]struct{}) Topology {
	// Wrong setName.
	if t.SetName != nil && *t.SetName != "" && observed.SetName != "" && observed.SetName != *t.SetName {
		delete(t.Servers, observed.Address)
		return recomputeReplicaSetKind(t)
	}

	switch observed.Kind {
	case RSPrimary:
		return updateReplicaSetWithPrimary(t, observed, changes, forceSet)

	case RSSecondary, RSArbiter, RSOther:
		if observed.Me != "" && observed.Me != observed.Address {
			delete(t.Servers, observed.Address)
			return recomputeReplicaSetKind(t)
		}

		prev := t.Servers[observed.Address]
		recordChange(changes, observed.Address, prev, observed)
		t.Servers[observed.Address] = observed

		union := address.Union(observed.Hosts, observed.Passives, observed.Arbiters)
		for a := range union {
			if _, ok := t.Servers[a]; !ok {
				t.Servers[a] = NewDefaultServer(a)
			}
		}
		return recomputeReplicaSetKind(t)

	case Unknown:
		prev := t.Servers[observed.Address]
		recordChange(changes, observed.Address, prev, observed)
		t.Servers[observed.Address] = observed
		return recomputeReplicaSetKind(t)

	case Mongos, Standalone:
		delete(t.Servers, observed.Address)
		return recomputeReplicaSetKind(t)

	default:
		// RSGhost / PossiblePrimary observed inside an already-established
		// replica set: store but do not merge host sets or renegotiate
		// primary.
		prev := t.Servers[observed.Address]
		recordChange(changes, observed.Address, prev, observed)
		t.Servers[observed.Address] = observed
		return recomputeReplicaSetKind(t)
	}
}

// updateReplicaSetWithPrimary implements the "RSPrimary observed" sub-rule
// of spec.md §4.2 rule 5, including stale-primary rejection and the
// demotion of any previously-known primary.
func updateReplicaSetWithPrimary(t Topology, observed Server, changes *[]ServerChange, forceSet map[address.Address]struct{}) Topology {
	if isStalePrimary(t, observed) {
		stale := observed
		stale.Kind = Unknown
		prev := t.Servers[observed.Address]
		recordChange(changes, observed.Address, prev, stale)
		t.Servers[observed.Address] = stale
		forceSet[observed.Address] = struct{}{}
		return recomputeReplicaSetKind(t)
	}

	if observed.SetVersion != nil {
		if t.MaxSetVersion == nil || *observed.SetVersion > *t.MaxSetVersion {
			v := *observed.SetVersion
			t.MaxSetVersion = &v
			t.MaxElectionID = observed.ElectionID
		} else if *observed.SetVersion == *t.MaxSetVersion && observed.ElectionID != "" {
			t.MaxElectionID = observed.ElectionID
		}
	}

	// Demote any other server currently believed to be primary.
	if oldPrimary, ok := t.primary(); ok && oldPrimary != observed.Address {
		demoted := t.Servers[oldPrimary]
		newDemoted := demoted
		newDemoted.Kind = Unknown
		recordChange(changes, oldPrimary, demoted, newDemoted)
		t.Servers[oldPrimary] = newDemoted
		forceSet[oldPrimary] = struct{}{}
	}

	prev := t.Servers[observed.Address]
	recordChange(changes, observed.Address, prev, observed)
	t.Servers[observed.Address] = observed

	union := address.Union(observed.Hosts, observed.Passives, observed.Arbiters)
	for a := range union {
		if _, ok := t.Servers[a]; !ok {
			t.Servers[a] = NewDefaultServer(a)
		}
	}
	for a := range t.Servers {
		if a == observed.Address {
			continue
		}
		if _, ok := union[a]; !ok {
			delete(t.Servers, a)
		}
	}

	t.Kind = ReplicaSetWithPrimary
	return t
}

// isStalePrimary implements the tie-break of spec.md §4.2: reject a primary
// observation whose (setVersion, electionId) is lexicographically less than
// the topology's watermarks, comparing setVersion first and electionId only
// when setVersions are equal.
func isStalePrimary(t Topology, observed Server) bool {
	if observed.SetVersion == nil || observed.ElectionID == "" {
		return false
	}
	if t.MaxSetVersion == nil {
		return false
	}
	if *observed.SetVersion < *t.MaxSetVersion {
		return true
	}
	if *observed.SetVersion == *t.MaxSetVersion && observed.ElectionID < t.MaxElectionID && t.MaxElectionID != "" {
		return true
	}
	return false
}

// recomputeReplicaSetKind recomputes ReplicaSetNoPrimary vs
// ReplicaSetWithPrimary after a change that might have removed the primary
// or changed set membership.
func recomputeReplicaSetKind(t Topology) Topology {
	if _, ok := t.primary(); ok {
		t.Kind = ReplicaSetWithPrimary
	} else {
		t.Kind = ReplicaSetNoPrimary
	}
	return t
}

// recomputeCompatibility implements spec.md §4.2 rule 6.
func recomputeCompatibility(t Topology) Topology {
	for _, s := range t.Servers {
		if s.Kind == Unknown {
			continue
		}
		if s.MaxWireVersion < DriverWireVersionRange.Min {
			t.Compatible = false
			t.CompatibilityError = "server at " + s.Address.String() +
				" reports wire version " + itoa(s.MaxWireVersion) +
				", but this driver requires at least " + itoa(DriverWireVersionRange.Min)
			return t
		}
		if s.MinWireVersion > DriverWireVersionRange.Max {
			t.Compatible = false
			t.CompatibilityError = "server at " + s.Address.String() +
				" requires wire version " + itoa(s.MinWireVersion) +
				", but this driver only supports up to " + itoa(DriverWireVersionRange.Max)
			return t
		}
	}
	t.Compatible = true
	t.CompatibilityError = ""
	return t
}

func itoa(v int32) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Equal reports whether t and other describe the same topology, ignoring no
// fields (unlike Server.Equal, every field here is semantic).
func (t Topology) Equal(other Topology) bool {
	if t.Kind != other.Kind || t.Compatible != other.Compatible || t.CompatibilityError != other.CompatibilityError {
		return false
	}
	if (t.SetName == nil) != (other.SetName == nil) {
		return false
	}
	if t.SetName != nil && *t.SetName != *other.SetName {
		return false
	}
	if (t.MaxSetVersion == nil) != (other.MaxSetVersion == nil) {
		return false
	}
	if t.MaxSetVersion != nil && *t.MaxSetVersion != *other.MaxSetVersion {
		return false
	}
	if t.MaxElectionID != other.MaxElectionID || t.LocalThresholdMs != other.LocalThresholdMs {
		return false
	}
	if len(t.Servers) != len(other.Servers) {
		return false
	}
	for a, s := range t.Servers {
		os, ok := other.Servers[a]
		if !ok || !s.Equal(os) {
			return false
		}
	}
	return true
}
