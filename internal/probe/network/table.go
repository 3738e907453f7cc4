// Package network implements the Network Probe: per-cycle TCP-v4 owner
// snapshotting, connection caching, and destination/payload indicator
// rules (spec §4.7).
package network

import (
	"fmt"
	"strings"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"
)

// Row is one TCP connection owned by a PID (spec §3 "TCP connection row").
type Row struct {
	PID             int       `json:"pid"`
	LocalAddr       string    `json:"local_addr"`
	LocalPort       uint16    `json:"local_port"`
	RemoteAddr      string    `json:"remote_addr"`
	RemotePort      uint16    `json:"remote_port"`
	LastObserved    time.Time `json:"last_observed"`
	PayloadSnapshot string    `json:"payload_snapshot"`
}

// Key identifies a connection for caching purposes (spec §4.7 step 2).
type Key struct {
	PID        int
	LocalAddr  string
	LocalPort  uint16
	RemoteAddr string
	RemotePort uint16
}

func (r Row) key() Key {
	return Key{r.PID, r.LocalAddr, r.LocalPort, r.RemoteAddr, r.RemotePort}
}

// CommandLineLookup resolves process identity for payload-snapshot
// construction — satisfied by an adapter over *process.Prober.Snapshot().
// payload_snapshot is explanation text only (SPEC_FULL.md §C.2); it is
// never derived from wire bytes.
type CommandLineLookup interface {
	Lookup(pid int) (name, commandLine string, ok bool)
}

// TableSnapshotter is the ConnectionSnapshotter contract (SPEC_FULL.md
// §C.5): the raw TCP-v4 owner-table source.
type TableSnapshotter interface {
	Snapshot() ([]Row, error)
}

// GopsutilSnapshotter reads the owner-aware TCP-v4 table via
// gopsutil/v4/net, the same stack the Process Probe uses for process
// enumeration.
type GopsutilSnapshotter struct {
	lookup CommandLineLookup
}

func NewSnapshotter(lookup CommandLineLookup) *GopsutilSnapshotter {
	return &GopsutilSnapshotter{lookup: lookup}
}

func (s *GopsutilSnapshotter) Snapshot() ([]Row, error) {
	conns, err := gnet.Connections("tcp4")
	if err != nil {
		return nil, fmt.Errorf("tcp4 connection table: %w", err)
	}

	now := time.Now().UTC()
	rows := make([]Row, 0, len(conns))
	for _, c := range conns {
		pid := int(c.Pid)
		if pid <= 0 || c.Raddr.IP == "" || c.Raddr.Port == 0 {
			continue // no remote endpoint — not an outbound connection
		}
		row := Row{
			PID:          pid,
			LocalAddr:    c.Laddr.IP,
			LocalPort:    uint16(c.Laddr.Port),
			RemoteAddr:   c.Raddr.IP,
			RemotePort:   uint16(c.Raddr.Port),
			LastObserved: now,
		}
		row.PayloadSnapshot = s.explain(row)
		rows = append(rows, row)
	}
	return rows, nil
}

// explain builds the human-readable payload_snapshot text: the
// connection tuple plus, best-effort, the owning process's name and
// command line — never wire bytes (spec §9 "unclear network-indicator
// source" resolution).
func (s *GopsutilSnapshotter) explain(row Row) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tcp4 %s:%d -> %s:%d", row.LocalAddr, row.LocalPort, row.RemoteAddr, row.RemotePort)
	if s.lookup == nil {
		return b.String()
	}
	if name, cmdline, ok := s.lookup.Lookup(row.PID); ok {
		fmt.Fprintf(&b, " proc=%s cmd=%s", name, cmdline)
	}
	return b.String()
}
