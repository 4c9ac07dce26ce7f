package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"cssd/internal/ledger"
)

// Recorder owns the prometheus collectors of the inventory service. It is
// registered on its own registry so tests can run several side by side.
type Recorder struct {
	registry *prometheus.Registry

	transactions  *prometheus.CounterVec
	discrepancies *prometheus.CounterVec
	validation    *prometheus.HistogramVec
	stockLevel    *prometheus.GaugeVec
	overdueLines  *prometheus.GaugeVec
	sterilization *prometheus.CounterVec
	movements     prometheus.Counter
}

// NewRecorder creates a recorder with all collectors registered
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	transactions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cssd_transactions_total",
			Help: "Transactions created, by type and final status",
		},
		[]string{"type", "status"},
	)

	discrepancies := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cssd_validation_discrepancies_total",
			Help: "Validated transactions whose received counts differed from declared",
		},
		[]string{"type"},
	)

	validation := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cssd_validation_delay_seconds",
			Help:    "Time between transaction creation and validation",
			Buckets: prometheus.ExponentialBuckets(60, 4, 8),
		},
		[]string{"type"},
	)

	stockLevel := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cssd_stock_level",
			Help: "Current stock of an instrument at a location",
		},
		[]string{"instrument", "location"},
	)

	overdueLines := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cssd_overdue_lines",
			Help: "Open distribute lines past their expected return date, per unit",
		},
		[]string{"unit"},
	)

	sterilization := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cssd_sterilization_batches_total",
			Help: "Sterilization batches recorded, by outcome",
		},
		[]string{"outcome"},
	)

	movements := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cssd_ledger_movements_total",
			Help: "Ledger movements applied",
		},
	)

	for _, c := range []prometheus.Collector{
		transactions, discrepancies, validation, stockLevel, overdueLines, sterilization, movements,
	} {
		registry.MustRegister(c)
	}

	return &Recorder{
		registry:      registry,
		transactions:  transactions,
		discrepancies: discrepancies,
		validation:    validation,
		stockLevel:    stockLevel,
		overdueLines:  overdueLines,
		sterilization: sterilization,
		movements:     movements,
	}
}

// Registry exposes the underlying registry for the /metrics handler
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordTransaction counts a transaction reaching a status
func (r *Recorder) RecordTransaction(txType, status string) {
	r.transactions.WithLabelValues(txType, status).Inc()
}

// RecordDiscrepancy counts a validation that disagreed with declared counts
func (r *Recorder) RecordDiscrepancy(txType string) {
	r.discrepancies.WithLabelValues(txType).Inc()
}

// RecordValidationDelay observes the creation-to-validation delay
func (r *Recorder) RecordValidationDelay(txType string, seconds float64) {
	r.validation.WithLabelValues(txType).Observe(seconds)
}

// SetStockLevel publishes the current stock of an instrument at a location
func (r *Recorder) SetStockLevel(instrument, location string, qty int) {
	r.stockLevel.WithLabelValues(instrument, location).Set(float64(qty))
}

// SetOverdueLines publishes a unit's current overdue line count
func (r *Recorder) SetOverdueLines(unit string, lines int) {
	r.overdueLines.WithLabelValues(unit).Set(float64(lines))
}

// RecordSterilizationBatch counts a recorded sterilization batch
func (r *Recorder) RecordSterilizationBatch(outcome string) {
	r.sterilization.WithLabelValues(outcome).Inc()
}

// RecordMovement counts one applied ledger movement
func (r *Recorder) RecordMovement() {
	r.movements.Inc()
}

// StockChanged implements ledger.Publisher so the recorder can sit on the
// ledger's fan-out next to the websocket hub.
func (r *Recorder) StockChanged(m ledger.Movement) {
	r.RecordMovement()
}
