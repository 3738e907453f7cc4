package network

import (
	"testing"

	gnet "github.com/shirou/gopsutil/v4/net"
)

func TestChoose_PrefersWirelessOverEverything(t *testing.T) {
	s := NewInterfaceSelector("eth")
	ifaces := []gnet.InterfaceStat{
		{Name: "eth0"},
		{Name: "wlan0"},
	}
	if got := s.choose(ifaces); got != "wlan0" {
		t.Fatalf("choose = %q, want wlan0", got)
	}
}

func TestChoose_FallsBackToPreferredPrefix(t *testing.T) {
	s := NewInterfaceSelector("eth")
	ifaces := []gnet.InterfaceStat{
		{Name: "lo"},
		{Name: "eth0"},
		{Name: "docker0"},
	}
	if got := s.choose(ifaces); got != "eth0" {
		t.Fatalf("choose = %q, want eth0", got)
	}
}

func TestChoose_FallsBackToFirstCandidate(t *testing.T) {
	s := NewInterfaceSelector("eth")
	ifaces := []gnet.InterfaceStat{
		{Name: "docker0"},
		{Name: "lo"},
	}
	if got := s.choose(ifaces); got != "docker0" {
		t.Fatalf("choose = %q, want docker0 (first candidate, no wireless or prefix match)", got)
	}
}

func TestChoose_EmptyPreferenceSkipsPrefixMatching(t *testing.T) {
	s := NewInterfaceSelector("")
	ifaces := []gnet.InterfaceStat{{Name: "eth0"}, {Name: "eth1"}}
	if got := s.choose(ifaces); got != "eth0" {
		t.Fatalf("choose = %q, want eth0 (first candidate)", got)
	}
}

func TestIsWireless(t *testing.T) {
	cases := map[string]bool{
		"wlan0": true,
		"wlp3s0": true,
		"Wi-Fi": true,
		"en0-wifi": true,
		"eth0": false,
		"lo":   false,
	}
	for name, want := range cases {
		if got := isWireless(name); got != want {
			t.Errorf("isWireless(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestHasFlag_CaseInsensitive(t *testing.T) {
	if !hasFlag([]string{"UP", "broadcast"}, "up") {
		t.Fatal("hasFlag should be case-insensitive")
	}
	if hasFlag([]string{"broadcast"}, "up") {
		t.Fatal("hasFlag should not find an absent flag")
	}
}

func TestInterfaceSelector_CurrentEmptyBeforeSelection(t *testing.T) {
	s := NewInterfaceSelector("eth")
	if s.Current() != "" {
		t.Fatalf("Current() before any selection = %q, want empty", s.Current())
	}
}
