package server

import (
	"log/slog"

	"factorpool/core/events"
	"factorpool/core/types"
	"factorpool/native/pool"
	"factorpool/observability/metrics"
)

// EventBridge forwards engine events into structured logs and prometheus
// counters. Emission is fire-and-forget on the engine side, so the bridge
// must never block or fail.
type EventBridge struct {
	log     *slog.Logger
	metrics *metrics.PoolMetrics
}

// NewEventBridge wires engine events to the given logger and metrics set.
func NewEventBridge(log *slog.Logger, poolMetrics *metrics.PoolMetrics) *EventBridge {
	if log == nil {
		log = slog.Default()
	}
	return &EventBridge{log: log, metrics: poolMetrics}
}

// Emit implements events.Emitter.
func (b *EventBridge) Emit(ev events.Event) {
	if b == nil || ev == nil {
		return
	}
	if attributed, ok := ev.(interface{ Event() *types.Event }); ok {
		record := attributed.Event()
		args := make([]any, 0, 2*len(record.Attributes))
		for key, value := range record.Attributes {
			args = append(args, key, value)
		}
		b.log.Info(record.Type, args...)
	} else {
		b.log.Info(ev.EventType())
	}

	if b.metrics == nil {
		return
	}
	switch payload := ev.(type) {
	case events.PoolDeposited:
		b.metrics.ObserveDeposit()
	case events.PoolWithdrawn:
		b.metrics.ObserveWithdrawal()
	case events.PoolLoanFunded:
		rating, err := pool.RatingOf(payload.RiskScore)
		if err != nil {
			rating = ""
		}
		b.metrics.ObserveLoanFunded(string(rating))
	case events.PoolLoanRepaid:
		b.metrics.ObserveLoanRepaid()
	}
}
