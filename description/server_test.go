package description

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func setVersion(v int64) *int64 { return &v }

func TestNewServerFromHello_ServerTypeTable(t *testing.T) {
	tests := []struct {
		name  string
		reply HelloReply
		want  ServerKind
	}{
		{
			name:  "standalone",
			reply: HelloReply{OK: true, IsMaster: true},
			want:  Standalone,
		},
		{
			name:  "mongos",
			reply: HelloReply{OK: true, Msg: "isdbgrid"},
			want:  Mongos,
		},
		{
			name:  "rs primary",
			reply: HelloReply{OK: true, IsMaster: true, SetName: "rs0"},
			want:  RSPrimary,
		},
		{
			name:  "rs secondary",
			reply: HelloReply{OK: true, Secondary: true, SetName: "rs0"},
			want:  RSSecondary,
		},
		{
			name:  "rs arbiter",
			reply: HelloReply{OK: true, ArbiterOnly: true, SetName: "rs0"},
			want:  RSArbiter,
		},
		{
			name:  "rs other",
			reply: HelloReply{OK: true, SetName: "rs0"},
			want:  RSOther,
		},
		{
			name:  "rs ghost",
			reply: HelloReply{OK: true, IsReplicaSet: true},
			want:  RSGhost,
		},
		{
			name:  "not ok",
			reply: HelloReply{OK: false},
			want:  Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServerFromHello("h1:27017", tt.reply, 10*time.Millisecond)
			assert.Equal(t, tt.want, s.Kind)
		})
	}
}

func TestServerEqualIgnoresCosmeticFields(t *testing.T) {
	base := NewServerFromHello("h1:27017", HelloReply{OK: true, IsMaster: true}, 10*time.Millisecond)
	other := base
	other.RoundTripTime = 999 * time.Millisecond
	other.LastUpdateTime = base.LastUpdateTime.Add(time.Hour)

	assert.True(t, base.Equal(other), "RTT/LastUpdateTime must not affect Equal")

	changed := base
	changed.Kind = RSPrimary
	assert.False(t, base.Equal(changed), "Kind change must affect Equal")
}

func TestUpdateRTT(t *testing.T) {
	first := UpdateRTT(0, false, 100*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, first, "first sample seeds directly")

	second := UpdateRTT(first, true, 200*time.Millisecond)
	want := time.Duration(0.2*float64(200*time.Millisecond) + 0.8*float64(100*time.Millisecond))
	assert.Equal(t, want, second)
}
