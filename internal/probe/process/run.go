package process

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Run is the Process Probe's worker loop, suitable for registration with
// the Monitoring Host. It composes the two event sources from spec
// §4.5: the netlink process-connector subscription (when available) and
// a process_scan_interval poll that enumerates every PID.
//
// Cancellation is observed at every select iteration, comfortably within
// one scan_interval (spec §5).
func (p *Prober) Run(ctx context.Context) {
	src, err := OpenNetlinkSource()
	if err != nil {
		if p.log != nil {
			p.log.Info("process connector unavailable — relying on the polling loop alone",
				zap.Error(err))
		}
		src = nil
	} else {
		defer src.Close() //nolint:errcheck
	}

	var events <-chan int
	if src != nil {
		events = src.Events()
	}

	interval := p.cfg.ScanInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.pollAll()

	for {
		select {
		case <-ctx.Done():
			return
		case pid, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.Analyze(pid)
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll enumerates every live PID and analyzes each (spec §4.5
// "Polling loop").
func (p *Prober) pollAll() {
	pids, err := p.lister.ListPIDs()
	if err != nil {
		if p.log != nil {
			p.log.Warn("process enumeration failed", zap.Error(err))
		}
		return
	}
	for _, pid := range pids {
		p.Analyze(pid)
	}
}
