package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации прогонов
// - анализ отклонений валидатора и срабатываний стопов

// OrdersSubmitted - принятые в обработку ордера
var OrdersSubmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "engine",
		Name:      "orders_submitted_total",
		Help:      "Total orders submitted to the execution simulator",
	},
	[]string{"strategy", "reason"},
)

// OrdersRejected - отклонения валидатора по причинам
var OrdersRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "engine",
		Name:      "orders_rejected_total",
		Help:      "Total orders rejected by the validator",
	},
	[]string{"strategy", "rejection_reason"},
)

// FillsExecuted - исполненные ордера
var FillsExecuted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "engine",
		Name:      "fills_total",
		Help:      "Total simulated fills",
	},
	[]string{"strategy", "symbol", "side"},
)

// StopTriggers - срабатывания StopMonitor по причинам
var StopTriggers = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "engine",
		Name:      "stop_triggers_total",
		Help:      "Forced exits triggered by the stop monitor",
	},
	[]string{"strategy", "reason"},
)

// RebalanceEvents - события ребалансировки
var RebalanceEvents = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "engine",
		Name:      "rebalance_events_total",
		Help:      "Total rebalance events fired",
	},
)

// StepLatency - длительность обработки одного тика
var StepLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "papertrade",
		Subsystem: "engine",
		Name:      "step_latency_ms",
		Help:      "Wall-clock time to process one simulated tick in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 25},
	},
)

// BufferOverflows - переполнения внутренних каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "engine",
		Name:      "buffer_overflow_total",
		Help:      "Dropped events due to full internal buffers",
	},
	[]string{"buffer"},
)

// DataStaleEvents - пропуски циклов из-за устаревших данных
var DataStaleEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "papertrade",
		Subsystem: "engine",
		Name:      "data_stale_total",
		Help:      "Cycles skipped because of stale price data",
	},
	[]string{"symbol"},
)

// RecordBufferOverflow фиксирует потерю события из-за полного буфера
func RecordBufferOverflow(buffer string) {
	BufferOverflows.WithLabelValues(buffer).Inc()
}
