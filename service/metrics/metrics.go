package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Block Processing Metrics
	blocksProcessedTotal    *prometheus.CounterVec
	blockProcessingDuration *prometheus.HistogramVec
	blocksUndoneTotal       prometheus.Counter
	lastProcessedSlot       prometheus.Gauge
	transactionsExtracted   *prometheus.CounterVec
	transactionsSkipped     *prometheus.CounterVec
	balanceChangesTotal     prometheus.Counter
	pricesDiscoveredTotal   prometheus.Counter

	// Accumulator Metrics
	accumulatorKeys    *prometheus.GaugeVec
	accumulatorJournal *prometheus.GaugeVec
	accumulatorDeltas  *prometheus.CounterVec
	sinkWritesTotal    *prometheus.CounterVec
	sinkWriteDuration  *prometheus.HistogramVec

	// Activity Metrics
	activityDuration *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration     *prometheus.HistogramVec
	httpRequestsTotal       *prometheus.CounterVec
	streamActiveConnections *prometheus.GaugeVec
	streamEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		// Block Processing Metrics
		blocksProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_blocks_processed_total",
				Help: "Total number of blocks processed by status",
			},
			[]string{"status"},
		),
		blockProcessingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_block_processing_duration_seconds",
				Help:    "Duration of block processing stages in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"stage"},
		),
		blocksUndoneTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_blocks_undone_total",
				Help: "Total number of blocks reverted",
			},
		),
		lastProcessedSlot: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_last_processed_slot",
				Help: "Slot of the most recently applied block",
			},
		),
		transactionsExtracted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transactions_extracted_total",
				Help: "Total number of transactions extracted by classification label",
			},
			[]string{"label"},
		),
		transactionsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transactions_skipped_total",
				Help: "Total number of transactions skipped by reason",
			},
			[]string{"reason"},
		),
		balanceChangesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_balance_changes_total",
				Help: "Total number of balance changes emitted",
			},
		),
		pricesDiscoveredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_prices_discovered_total",
				Help: "Total number of token prices discovered",
			},
		),

		// Accumulator Metrics
		accumulatorKeys: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "accumulator_keys",
				Help: "Number of keys held by each accumulator store",
			},
			[]string{"space"},
		),
		accumulatorJournal: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "accumulator_journal_blocks",
				Help: "Number of blocks that can still be undone per store",
			},
			[]string{"space"},
		),
		accumulatorDeltas: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accumulator_deltas_total",
				Help: "Total number of key deltas emitted per store",
			},
			[]string{"space"},
		),
		sinkWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_writes_total",
				Help: "Total number of sink writes by sink, operation and status",
			},
			[]string{"sink", "operation", "status"},
		),
		sinkWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sink_write_duration_seconds",
				Help:    "Duration of sink writes in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"sink"},
		),

		// Activity Metrics
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "activity_duration_seconds",
				Help:    "Duration of workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		streamActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stream_active_connections",
				Help: "Number of active streaming connections by transport",
			},
			[]string{"transport"},
		),
		streamEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_events_sent_total",
				Help: "Total number of streamed events sent",
			},
			[]string{"transport", "event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// Block processing metric helpers

// RecordBlockProcessed records the outcome of one block.
func (m *Metrics) RecordBlockProcessed(slot uint64, status string) {
	m.blocksProcessedTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.lastProcessedSlot.Set(float64(slot))
	}
}

// RecordBlockStage records how long a processing stage took.
func (m *Metrics) RecordBlockStage(stage string, duration float64) {
	m.blockProcessingDuration.WithLabelValues(stage).Observe(duration)
}

// RecordBlockUndone records a reverted block.
func (m *Metrics) RecordBlockUndone() {
	m.blocksUndoneTotal.Inc()
}

// RecordTransactionExtracted records an extracted transaction by label.
func (m *Metrics) RecordTransactionExtracted(label string) {
	m.transactionsExtracted.WithLabelValues(label).Inc()
}

// RecordTransactionsSkipped records skipped transactions.
func (m *Metrics) RecordTransactionsSkipped(reason string, count int) {
	m.transactionsSkipped.WithLabelValues(reason).Add(float64(count))
}

// RecordBalanceChanges records emitted balance changes.
func (m *Metrics) RecordBalanceChanges(count int) {
	m.balanceChangesTotal.Add(float64(count))
}

// RecordPricesDiscovered records discovered prices.
func (m *Metrics) RecordPricesDiscovered(count int) {
	m.pricesDiscoveredTotal.Add(float64(count))
}

// Accumulator metric helpers

// RecordAccumulator records the size of a store after a block.
func (m *Metrics) RecordAccumulator(space string, keys, journal, deltas int) {
	m.accumulatorKeys.WithLabelValues(space).Set(float64(keys))
	m.accumulatorJournal.WithLabelValues(space).Set(float64(journal))
	m.accumulatorDeltas.WithLabelValues(space).Add(float64(deltas))
}

// RecordSinkWrite records a sink write.
func (m *Metrics) RecordSinkWrite(sink, operation string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.sinkWritesTotal.WithLabelValues(sink, operation, status).Inc()
	m.sinkWriteDuration.WithLabelValues(sink).Observe(duration)
}

// Activity metric helpers

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, status string, duration float64) {
	m.activityDuration.WithLabelValues(activity, status).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordStreamConnectionChange records a change in streaming connection count.
func (m *Metrics) RecordStreamConnectionChange(transport string, delta float64) {
	m.streamActiveConnections.WithLabelValues(transport).Add(delta)
}

// RecordStreamEventSent records a streamed event.
func (m *Metrics) RecordStreamEventSent(transport, eventType string) {
	m.streamEventsSent.WithLabelValues(transport, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
