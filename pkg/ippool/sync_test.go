package ippool

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSynchronizerHostsExcludesNetworkAndBroadcast(t *testing.T) {
	cidr := netip.MustParsePrefix("10.0.0.0/29") // .0-.7, hosts are .1-.6
	s := &Synchronizer{cidr: cidr, reserved: map[netip.Addr]bool{}, logger: testLogger()}

	hosts := s.hosts()
	if len(hosts) != 6 {
		t.Fatalf("len(hosts) = %d, want 6", len(hosts))
	}
	if hosts[0] != netip.MustParseAddr("10.0.0.1") {
		t.Errorf("first host = %s, want 10.0.0.1", hosts[0])
	}
	if hosts[len(hosts)-1] != netip.MustParseAddr("10.0.0.6") {
		t.Errorf("last host = %s, want 10.0.0.6", hosts[len(hosts)-1])
	}
}

func TestSynchronizerHostsIncludesReserved(t *testing.T) {
	cidr := netip.MustParsePrefix("10.0.0.0/29")
	reserved := map[netip.Addr]bool{netip.MustParseAddr("10.0.0.1"): true}
	s := &Synchronizer{cidr: cidr, reserved: reserved, logger: testLogger()}

	for _, h := range s.hosts() {
		if h == netip.MustParseAddr("10.0.0.1") {
			// hosts() itself doesn't filter reserved; that's done in syncLocked
			// by checking s.reserved against the desired set. This test just
			// documents that hosts() alone still includes it.
			return
		}
	}
	t.Fatal("expected 10.0.0.1 to still appear in raw hosts()")
}

func TestLastAddr(t *testing.T) {
	tests := []struct {
		cidr string
		want string
	}{
		{"10.0.0.0/24", "10.0.0.255"},
		{"10.0.0.0/29", "10.0.0.7"},
		{"192.168.1.0/30", "192.168.1.3"},
	}
	for _, tt := range tests {
		got := lastAddr(netip.MustParsePrefix(tt.cidr))
		if got.String() != tt.want {
			t.Errorf("lastAddr(%s) = %s, want %s", tt.cidr, got, tt.want)
		}
	}
}
