package address

import "testing"

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   Address
		want Address
	}{
		{"lowercases host", "MongoHost:27017", "mongohost:27017"},
		{"adds default port", "mongohost", "mongohost:27017"},
		{"trims whitespace", "  mongohost:27018  ", "mongohost:27018"},
		{"leaves ipv6 alone", "[::1]:27017", "[::1]:27017"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Canonicalize()
			if got != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHostPort(t *testing.T) {
	a := Address("Host.Example.com:27018")
	if got := a.Host(); got != "host.example.com" {
		t.Errorf("Host() = %q, want host.example.com", got)
	}
	if got := a.Port(); got != "27018" {
		t.Errorf("Port() = %q, want 27018", got)
	}
}

func TestSet(t *testing.T) {
	s := NewSet("H1:27017", "h2:27017", "H1:27017")
	if len(s) != 2 {
		t.Fatalf("expected 2 distinct addresses, got %d", len(s))
	}
	if !s.Contains("h1:27017") {
		t.Errorf("expected set to contain h1:27017")
	}

	other := NewSet("h3:27017")
	union := Union(s, other)
	if len(union) != 3 {
		t.Errorf("expected union of 3, got %d", len(union))
	}
}
