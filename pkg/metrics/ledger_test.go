package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestLedgerMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)

	m.IncGrant("manual", "created")
	m.IncGrant("manual", "created")
	m.IncGrant("checkout", "existing")
	m.IncRevoke("revoke", "revoked")
	m.IncDownload("stream")
	m.IncDownload("")
	m.IncAccessLogFailure()
	m.IncView("deduped")
	m.IncViewClaimFailure()

	cases := []struct {
		family string
		labels map[string]string
		want   float64
	}{
		{"assetledger_entitlement_grants_total", map[string]string{"source": "manual"}, 2},
		{"assetledger_entitlement_grants_total", map[string]string{"outcome": "existing"}, 1},
		{"assetledger_entitlement_revokes_total", map[string]string{"mode": "revoke"}, 1},
		{"assetledger_download_decisions_total", map[string]string{"decision": "unknown"}, 1},
		{"assetledger_views_total", map[string]string{"outcome": "deduped"}, 1},
		{"assetledger_access_log_failures_total", nil, 1},
	}
	for _, tc := range cases {
		got, found := sample(t, reg, tc.family, tc.labels)
		assert.True(t, found, "%s %v", tc.family, tc.labels)
		assert.Equal(t, tc.want, got, "%s %v", tc.family, tc.labels)
	}
}

func TestLedgerMetricsNilSafe(t *testing.T) {
	var m *LedgerMetrics
	assert.NotPanics(t, func() {
		m.IncGrant("manual", "created")
		m.IncRevoke("delete", "deleted")
		m.IncDownload("redirect")
		m.IncAccessLogFailure()
		m.IncView("created")
		m.IncViewClaimFailure()
		NewLedgerMetrics(nil).IncView("created")
	})
}
