package observability

import "github.com/octoreflex/exfilguard/internal/behavior"

// MetricsSink adapts audit events into Prometheus metric updates. It
// implements the same Log(event) contract as the Secure Audit Log and
// every probe/action EventSink, so it can be fanned out to alongside
// the real audit writer.
type MetricsSink struct {
	m *Metrics
}

func NewMetricsSink(m *Metrics) *MetricsSink {
	return &MetricsSink{m: m}
}

// Log inspects event_type and updates the matching counter/gauge. Events
// with no matching type are ignored — the audit log remains the record
// of truth; metrics are a derived, lossy view.
func (s *MetricsSink) Log(event map[string]any) {
	switch event["event_type"] {
	case "behaviorScore":
		if total, ok := event["total"].(int); ok {
			s.m.BehaviorScoreHistogram.Observe(float64(total))
		}
	case "processIndicators":
		s.m.ProcessesAnalyzedTotal.Inc()
		for _, name := range indicatorNames(event["indicators"]) {
			s.m.ProcessIndicatorsTotal.WithLabelValues(name).Inc()
		}
	case "memoryAnomaly":
		s.m.MemoryScansTotal.Inc()
		s.m.MemoryAnomaliesTotal.Inc()
	case "networkIndicators":
		for _, name := range indicatorNames(event["indicators"]) {
			s.m.NetworkIndicatorsTotal.WithLabelValues(name).Inc()
		}
	case "defenseAction":
		if decision, ok := event["decision"].(string); ok {
			s.m.DefenseActionsTotal.WithLabelValues(decision).Inc()
		}
	case "monitoringWorkerFailed":
		if worker, ok := event["worker"].(string); ok {
			s.m.MonitoringWorkerFailuresTotal.WithLabelValues(worker).Inc()
		}
	}
}

// indicatorNames extracts names from the []behavior.Indicator slice
// stored under the "indicators" key of probe audit events.
func indicatorNames(v any) []string {
	indicators, ok := v.([]behavior.Indicator)
	if !ok {
		return nil
	}
	names := make([]string, len(indicators))
	for i, ind := range indicators {
		names[i] = ind.Name
	}
	return names
}
