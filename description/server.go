package description

import (
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmpopts"

	"github.com/mongodb-labs/topology-core/address"
)

// ErrorKind classifies a probe failure captured on a Server description.
// See spec.md §7.
type ErrorKind string

// Recognized probe error kinds.
const (
	ErrorKindNetwork        ErrorKind = "NetworkError"
	ErrorKindTimeout        ErrorKind = "Timeout"
	ErrorKindAuthFailure    ErrorKind = "AuthFailure"
	ErrorKindWireProtocol   ErrorKind = "WireProtocolError"
	ErrorKindUnsupportedOps ErrorKind = "Unsupported"
)

// ServerError wraps a failed probe. It is stored on a Server description
// instead of being returned to the caller of Manager.Submit (spec.md §7).
type ServerError struct {
	Kind    ErrorKind
	Message string
}

func (e *ServerError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}

// OpTime is an opaque replication position, used only for staleness
// comparisons upstream of this module; this core never interprets it.
type OpTime struct {
	Timestamp int64
	Increment int64
}

// ElectionID is the opaque, monotonically-assigned identifier a replica set
// primary is elected with. Comparison is lexicographic on the underlying
// string, matching the ordering MongoDB's ObjectId-based election IDs
// provide in practice.
type ElectionID string

// HelloReply is the already-decoded result of a hello/isMaster command, as
// produced by the (out of scope, spec.md §1) wire protocol codec. Fields
// consumed are exactly those enumerated in spec.md §6.
type HelloReply struct {
	OK              bool
	IsMaster        bool
	Secondary       bool
	ArbiterOnly     bool
	Hidden          bool
	IsReplicaSet    bool
	SetName         string
	SetVersion      *int64
	ElectionID      ElectionID
	Primary         address.Address
	Hosts           []string
	Passives        []string
	Arbiters        []string
	Tags            map[string]string
	Me              address.Address
	Msg             string
	MinWireVersion  int32
	MaxWireVersion  int32
	LastWriteDate   time.Time
	LastOpTime      OpTime
}

// Server is an immutable snapshot of one server's last observed state
// (spec.md §3, "ServerDescription"). The zero value is not meaningful; use
// one of the constructors below.
type Server struct {
	Address        address.Address
	Kind           ServerKind
	RoundTripTime  time.Duration
	LastWriteDate  time.Time
	OpTime         OpTime
	MinWireVersion int32
	MaxWireVersion int32
	Me             address.Address
	Hosts          address.Set
	Passives       address.Set
	Arbiters       address.Set
	SetName        string
	SetVersion     *int64
	ElectionID     ElectionID
	Primary        address.Address
	Tags           map[string]string
	LastUpdateTime time.Time
	Error          *ServerError
}

// NewDefaultServer returns a zeroed Server description for addr, as used
// when a new address is first admitted to a topology and has not yet been
// probed.
func NewDefaultServer(addr address.Address) Server {
	return Server{
		Address:        addr.Canonicalize(),
		Kind:           Unknown,
		LastUpdateTime: time.Now(),
	}
}

// NewServerFromError returns a Server description recording a failed probe.
// Kind is always Unknown; err is never propagated to the caller of Submit.
func NewServerFromError(addr address.Address, kind ErrorKind, err error) Server {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Server{
		Address:        addr.Canonicalize(),
		Kind:           Unknown,
		LastUpdateTime: time.Now(),
		Error:          &ServerError{Kind: kind, Message: msg},
	}
}

// NewServerFromHello parses a hello/isMaster reply into a Server
// description and applies the SDAM server-type table (spec.md §4.1). rtt is
// stored as given; the Monitor passes its smoothed average, not the raw
// sample (see description.UpdateRTT).
func NewServerFromHello(addr address.Address, reply HelloReply, rtt time.Duration) Server {
	s := Server{
		Address:        addr.Canonicalize(),
		RoundTripTime:  rtt,
		LastWriteDate:  reply.LastWriteDate,
		OpTime:         reply.LastOpTime,
		MinWireVersion: reply.MinWireVersion,
		MaxWireVersion: reply.MaxWireVersion,
		Me:             reply.Me.Canonicalize(),
		Hosts:          address.NewSet(reply.Hosts...),
		Passives:       address.NewSet(reply.Passives...),
		Arbiters:       address.NewSet(reply.Arbiters...),
		SetName:        reply.SetName,
		SetVersion:     reply.SetVersion,
		ElectionID:     reply.ElectionID,
		Primary:        reply.Primary.Canonicalize(),
		Tags:           reply.Tags,
		LastUpdateTime: time.Now(),
	}

	if !reply.OK {
		s.Kind = Unknown
		s.Error = &ServerError{Kind: ErrorKindWireProtocol, Message: "hello reply had ok != 1"}
		return s
	}

	switch {
	case reply.IsReplicaSet:
		s.Kind = RSGhost
	case reply.Msg == "isdbgrid":
		s.Kind = Mongos
	case reply.SetName != "" && reply.IsMaster:
		s.Kind = RSPrimary
	case reply.SetName != "" && reply.Secondary:
		s.Kind = RSSecondary
	case reply.SetName != "" && reply.ArbiterOnly:
		s.Kind = RSArbiter
	case reply.SetName != "":
		s.Kind = RSOther
	case reply.IsMaster:
		s.Kind = Standalone
	default:
		s.Kind = Unknown
	}

	return s
}

// UpdateRTT folds sample into prevRTT using the SDAM exponentially weighted
// moving average (spec.md §4.3): rtt <- alpha*sample + (1-alpha)*rtt, with
// the very first sample seeding the average directly.
func UpdateRTT(prevRTT time.Duration, hadPrev bool, sample time.Duration) time.Duration {
	const alpha = 0.2
	if !hadPrev {
		return sample
	}
	return time.Duration(alpha*float64(sample) + (1-alpha)*float64(prevRTT))
}

// cosmeticFields are ignored when comparing two Server descriptions for
// semantic equality (spec.md §4.1): RTT and the monotonic update timestamp
// change on every probe even when nothing else did, and firing a change
// event for them would spam subscribers with noise.
var cosmeticFields = cmpopts.IgnoreFields(Server{}, "RoundTripTime", "LastUpdateTime")

// Equal reports whether s and other are identical, ignoring cosmetic
// fields. This is the comparison spec.md §4.1 and §4.4 step 3 require
// before emitting a ServerDescriptionChanged event.
func (s Server) Equal(other Server) bool {
	return cmp.Equal(s, other, cosmeticFields, cmp.Comparer(addressSetEqual))
}

func addressSetEqual(a, b address.Set) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
