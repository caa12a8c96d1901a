package description

// VersionRange represents an inclusive range of wire protocol versions a
// server supports.
type VersionRange struct {
	Min int32
	Max int32
}

// Includes reports whether v falls within the range, inclusive.
func (r VersionRange) Includes(v int32) bool {
	return v >= r.Min && v <= r.Max
}

// DriverWireVersionRange is the range of wire protocol versions this module
// supports. It is the basis for ServerDescription/TopologyDescription
// compatibility checks (spec.md §4.2 rule 6).
var DriverWireVersionRange = VersionRange{Min: 0, Max: 21}
