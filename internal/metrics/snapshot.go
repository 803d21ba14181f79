package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Snapshot is the GET /metrics JSON form of the same data the Prometheus
// exposition endpoint serves, with derived alert flags.
type Snapshot struct {
	ToolDispatchTotal     map[string]float64 `json:"tool_dispatch_total"`
	ApprovalQueueDepth    float64            `json:"approval_queue_depth"`
	RetrieverDegradeTotal map[string]float64 `json:"retriever_degrade_total"`
	SNNEDriftAlertsTotal  map[string]float64 `json:"snne_drift_alerts_total"`
	DecisionActionTotal   map[string]float64 `json:"decision_action_total"`
	Alerts                []string           `json:"alerts"`
}

// approvalQueueAlertThreshold and snneDriftAlertThreshold are deliberately
// conservative defaults; a workspace with sustained approval backlogs or
// repeated drift alerts needs operator attention regardless of the specific
// accept threshold in play.
const (
	approvalQueueAlertThreshold = 20
	snneDriftAlertThreshold     = 5
)

// Snapshot gathers the current collector values into the JSON shape above,
// deriving alert flags from fixed operational thresholds.
func (m *Registry) Snapshot() Snapshot {
	gatherer, ok := m.reg.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	families, _ := gatherer.Gather()

	snap := Snapshot{
		ToolDispatchTotal:     map[string]float64{},
		RetrieverDegradeTotal: map[string]float64{},
		SNNEDriftAlertsTotal:  map[string]float64{},
		DecisionActionTotal:   map[string]float64{},
	}

	for _, f := range families {
		switch f.GetName() {
		case "cortex_tools_dispatch_total":
			sumByLabel(f, "tool", snap.ToolDispatchTotal)
		case "cortex_approval_queue_depth":
			for _, mf := range f.GetMetric() {
				snap.ApprovalQueueDepth = mf.GetGauge().GetValue()
			}
		case "cortex_retriever_degrade_total":
			sumByLabel(f, "source", snap.RetrieverDegradeTotal)
		case "cortex_uncertainty_snne_drift_alerts_total":
			sumByLabel(f, "domain", snap.SNNEDriftAlertsTotal)
		case "cortex_decision_action_total":
			sumByLabel(f, "action", snap.DecisionActionTotal)
		}
	}

	if snap.ApprovalQueueDepth >= approvalQueueAlertThreshold {
		snap.Alerts = append(snap.Alerts, "approval_queue_backlog")
	}
	for domainName, total := range snap.SNNEDriftAlertsTotal {
		if total >= snneDriftAlertThreshold {
			snap.Alerts = append(snap.Alerts, "snne_drift:"+domainName)
		}
	}
	return snap
}

func sumByLabel(f *dto.MetricFamily, label string, into map[string]float64) {
	for _, mf := range f.GetMetric() {
		key := ""
		for _, lp := range mf.GetLabel() {
			if lp.GetName() == label {
				key = lp.GetValue()
				break
			}
		}
		var v float64
		if c := mf.GetCounter(); c != nil {
			v = c.GetValue()
		}
		into[key] += v
	}
}
