package description

import "github.com/mongodb-labs/topology-core/address"

// Diff is the set-difference between two topology snapshots, grounded on
// DiffTopology in the pack's older description.Topology (see DESIGN.md).
// The Manager's reconciliation step does not use it: reconcile diffs the
// next topology against its live monitor set instead.
type Diff struct {
	Added   []address.Address
	Removed []address.Address
}

// DiffAddresses compares the live server sets of old and next.
func DiffAddresses(old, next Topology) Diff {
	var d Diff
	for a := range next.Servers {
		if _, ok := old.Servers[a]; !ok {
			d.Added = append(d.Added, a)
		}
	}
	for a := range old.Servers {
		if _, ok := next.Servers[a]; !ok {
			d.Removed = append(d.Removed, a)
		}
	}
	return d
}

// HasWritableServer reports whether the topology currently has a server
// that can accept writes. Not used by this module (server selection is out
// of scope, spec.md §1) but kept as a cheap read-only query that falls
// directly out of the Topology value, for a future selection layer.
func (t Topology) HasWritableServer() bool {
	switch t.Kind {
	case Single:
		for _, s := range t.Servers {
			return s.Kind != Unknown
		}
		return false
	case Sharded:
		for _, s := range t.Servers {
			if s.Kind == Mongos {
				return true
			}
		}
		return false
	case ReplicaSetWithPrimary:
		_, ok := t.primary()
		return ok
	default:
		return false
	}
}
