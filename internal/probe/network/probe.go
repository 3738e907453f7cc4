package network

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/exfilguard/internal/action"
	"github.com/octoreflex/exfilguard/internal/behavior"
)

// EventSink mirrors behavior.EventSink / action.EventSink.
type EventSink interface {
	Log(event map[string]any)
}

// credentialExfilKeywords are checked against payload_snapshot text
// (spec §4.7).
var credentialExfilKeywords = []string{"uid=", "cid=", "hwid=", "ver=4.0"}

// Config holds network.* (spec §6).
type Config struct {
	ScanInterval             time.Duration
	PrimaryInterfacePreference string
	HighRiskHosts            []string
	SuspiciousPorts          []int
}

// Prober is the Network Probe (spec §4.7).
type Prober struct {
	cfg        Config
	snapshotter TableSnapshotter
	cache      *Cache
	iface      *InterfaceSelector
	table      *behavior.Table
	actions    *action.Manager
	sink       EventSink
	log        *zap.Logger
	suspiciousPorts map[int]bool
}

func New(cfg Config, snapshotter TableSnapshotter, table *behavior.Table, actions *action.Manager, sink EventSink, log *zap.Logger) *Prober {
	ports := make(map[int]bool, len(cfg.SuspiciousPorts))
	for _, p := range cfg.SuspiciousPorts {
		ports[p] = true
	}
	return &Prober{
		cfg:             cfg,
		snapshotter:     snapshotter,
		cache:           NewCache(),
		iface:           NewInterfaceSelector(cfg.PrimaryInterfacePreference),
		table:           table,
		actions:         actions,
		sink:            sink,
		log:             log,
		suspiciousPorts: ports,
	}
}

// SnapshotConnections exposes the cache's recent-entries view (spec
// §4.7 "Snapshot API").
func (p *Prober) SnapshotConnections() []Row {
	return p.cache.Snapshot()
}

// SwitchInterface delegates to the interface selector and audits an
// interfaceSwitched event on success; a failed switch returns the error
// without an audit event.
func (p *Prober) SwitchInterface(name string) error {
	err := p.iface.SwitchInterface(name)
	if err != nil {
		return err
	}
	p.audit(map[string]any{
		"event_type": "interfaceSwitched",
		"interface":  name,
	})
	return nil
}

// Cycle runs one network-probe cycle: snapshot, cache merge, indicator
// evaluation (spec §4.7 steps 1-3).
func (p *Prober) Cycle() {
	rows, err := p.snapshotter.Snapshot()
	if err != nil {
		if p.log != nil {
			p.log.Warn("tcp snapshot failed", zap.Error(err))
		}
		return
	}
	rows = p.cache.Update(rows)

	for _, row := range rows {
		if row.PID <= 4 {
			continue
		}
		if p.actions.IsNetworkBlocked(row.PID) {
			continue
		}
		p.evaluate(row)
	}
}

func (p *Prober) evaluate(row Row) {
	var indicators []behavior.Indicator

	if p.suspiciousPorts[int(row.RemotePort)] {
		indicators = append(indicators, behavior.Indicator{
			Name: fmt.Sprintf("remotePort:%d", row.RemotePort), Weight: 3,
		})
	}
	if containsAny(row.RemoteAddr, p.cfg.HighRiskHosts) {
		indicators = append(indicators, behavior.Indicator{Name: "highRiskHost", Weight: 3})
	}
	for _, kw := range credentialExfilKeywords {
		if strings.Contains(row.PayloadSnapshot, kw) {
			indicators = append(indicators, behavior.Indicator{Name: "exfilKeyword:" + kw, Weight: 4})
		}
	}

	if len(indicators) == 0 {
		return
	}

	score := p.table.Update(row.PID, func(s behavior.Score) behavior.Score {
		return behavior.WithIndicators(s, indicators, p.table.Thresholds())
	})

	p.actions.EvaluateAndRespond(row.PID)

	for _, ind := range indicators {
		if ind.Weight >= 4 {
			p.actions.BlockNetwork(row.PID)
			break
		}
	}

	p.audit(map[string]any{
		"event_type":  "networkIndicators",
		"pid":         row.PID,
		"local_addr":  row.LocalAddr,
		"remote_addr": row.RemoteAddr,
		"remote_port": row.RemotePort,
		"indicators":  indicators,
		"total":       score.Total,
		"level":       score.Level.String(),
	})
}

func (p *Prober) audit(event map[string]any) {
	if p.sink != nil {
		p.sink.Log(event)
	}
}

// Run is the Network Probe's worker loop, suitable for registration
// with the Monitoring Host.
func (p *Prober) Run(ctx context.Context) {
	if name, err := p.iface.SelectStartup(); err == nil {
		p.audit(map[string]any{"event_type": "interfaceSwitched", "interface": name})
	} else if p.log != nil {
		p.log.Warn("no operationally-up interface found at startup", zap.Error(err))
	}

	interval := p.cfg.ScanInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Cycle()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Cycle()
		}
	}
}

func containsAny(s string, substrs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if sub != "" && strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
