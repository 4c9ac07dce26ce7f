package metrics_test

import (
	"testing"
	"time"

	"cssd/internal/ledger"
	"cssd/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := metrics.NewRecorder()

	r.RecordTransaction("DISTRIBUTE", "PENDING")
	r.RecordTransaction("DISTRIBUTE", "COMPLETED")
	r.RecordTransaction("COLLECT", "PENDING")
	r.RecordDiscrepancy("DISTRIBUTE")
	r.RecordSterilizationBatch("SUCCESS")
	r.RecordMovement()
	r.RecordMovement()

	families, err := r.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["cssd_transactions_total"])
	assert.True(t, names["cssd_validation_discrepancies_total"])
	assert.True(t, names["cssd_sterilization_batches_total"])
	assert.True(t, names["cssd_ledger_movements_total"])
}

func TestRecorderGauges(t *testing.T) {
	r := metrics.NewRecorder()

	r.SetStockLevel("KELLY-CLAMP", "CSSD", 12)
	r.SetStockLevel("KELLY-CLAMP", "CSSD", 9)
	r.SetOverdueLines("UNIT-WARD-3A", 2)
	r.RecordValidationDelay("DISTRIBUTE", (45 * time.Minute).Seconds())

	count, err := testutil.GatherAndCount(r.Registry(),
		"cssd_stock_level", "cssd_overdue_lines", "cssd_validation_delay_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRecorderListensOnLedger(t *testing.T) {
	r := metrics.NewRecorder()
	var pub ledger.Publisher = r

	pub.StockChanged(ledger.Movement{InstrumentID: 1, Location: "CSSD", Delta: -4})
	pub.StockChanged(ledger.Movement{InstrumentID: 1, Location: "UNIT-3", Delta: 4})

	families, err := r.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "cssd_ledger_movements_total" {
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, float64(2), f.GetMetric()[0].GetCounter().GetValue())
			return
		}
	}
	t.Fatal("cssd_ledger_movements_total was not gathered")
}

func TestMonitorSnapshot(t *testing.T) {
	m := metrics.NewMonitor()
	m.Set("last_audit_findings", 0)
	m.Set("pending_transactions", 3)

	got, ok := m.Get("pending_transactions")
	require.True(t, ok)
	assert.Equal(t, 3, got)

	snapshot := m.Snapshot()
	assert.Equal(t, 0, snapshot["last_audit_findings"])
	assert.Contains(t, snapshot, "uptime_seconds")

	// snapshot is a copy
	snapshot["pending_transactions"] = 99
	got, _ = m.Get("pending_transactions")
	assert.Equal(t, 3, got)
}
