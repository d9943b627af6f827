package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts entitlement, download and view outcomes.
type LedgerMetrics struct {
	grants            *prometheus.CounterVec
	revokes           *prometheus.CounterVec
	downloads         *prometheus.CounterVec
	accessLogFailures prometheus.Counter
	views             *prometheus.CounterVec
	viewClaimFailures prometheus.Counter
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
// A nil registerer yields a no-op collector.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	grants := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assetledger_entitlement_grants_total",
		Help: "Entitlement grant attempts by source and outcome.",
	}, []string{"source", "outcome"})
	revokes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assetledger_entitlement_revokes_total",
		Help: "Entitlement revocations by mode and outcome.",
	}, []string{"mode", "outcome"})
	downloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assetledger_download_decisions_total",
		Help: "Download gate decisions by kind.",
	}, []string{"decision"})
	accessLogFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assetledger_access_log_failures_total",
		Help: "Access log writes that failed and were swallowed.",
	})
	views := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assetledger_views_total",
		Help: "View events by dedup outcome.",
	}, []string{"outcome"})
	viewClaimFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assetledger_view_claim_failures_total",
		Help: "Redis view window claims that errored and fell back to the database check.",
	})
	reg.MustRegister(grants, revokes, downloads, accessLogFailures, views, viewClaimFailures)
	return &LedgerMetrics{
		grants:            grants,
		revokes:           revokes,
		downloads:         downloads,
		accessLogFailures: accessLogFailures,
		views:             views,
		viewClaimFailures: viewClaimFailures,
	}
}

// IncGrant records a grant attempt. outcome is created, existing or skipped.
func (m *LedgerMetrics) IncGrant(source, outcome string) {
	if m == nil || m.grants == nil {
		return
	}
	m.grants.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *LedgerMetrics) IncRevoke(mode, outcome string) {
	if m == nil || m.revokes == nil {
		return
	}
	m.revokes.WithLabelValues(normalizeLabel(mode), normalizeLabel(outcome)).Inc()
}

func (m *LedgerMetrics) IncDownload(decision string) {
	if m == nil || m.downloads == nil {
		return
	}
	m.downloads.WithLabelValues(normalizeLabel(decision)).Inc()
}

func (m *LedgerMetrics) IncAccessLogFailure() {
	if m == nil || m.accessLogFailures == nil {
		return
	}
	m.accessLogFailures.Inc()
}

// IncView records a view outcome, created or deduped.
func (m *LedgerMetrics) IncView(outcome string) {
	if m == nil || m.views == nil {
		return
	}
	m.views.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *LedgerMetrics) IncViewClaimFailure() {
	if m == nil || m.viewClaimFailures == nil {
		return
	}
	m.viewClaimFailures.Inc()
}
