package infra

import (
	"errors"
	"sync/atomic"
	"time"

	"liquidation_go/internal/domain"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	settlements          atomic.Uint64
	unauthorized         atomic.Uint64
	invalidSignatures    atomic.Uint64
	expired              atomic.Uint64
	replays              atomic.Uint64
	collaboratorFailures atomic.Uint64
	valueReceipts        atomic.Uint64
	errorsTotal          atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	streamSubscribers atomic.Int32
	marker            atomic.Uint64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordSettlement records the outcome of one settlement and its latency.
func (m *Metrics) RecordSettlement(latencyNs int64, err error) {
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)

	var collab *domain.CollaboratorError
	switch {
	case err == nil:
		m.settlements.Add(1)
		return
	case errors.Is(err, domain.ErrUnauthorized):
		m.unauthorized.Add(1)
	case errors.Is(err, domain.ErrInvalidAuthorizationSignature):
		m.invalidSignatures.Add(1)
	case errors.Is(err, domain.ErrExpiredAuthorization):
		m.expired.Add(1)
	case errors.Is(err, domain.ErrAuthorizationAlreadyUsed):
		m.replays.Add(1)
	case errors.As(err, &collab):
		m.collaboratorFailures.Add(1)
	}
	m.errorsTotal.Add(1)
}

// RecordValueReceived records an accepted unsolicited value transfer.
func (m *Metrics) RecordValueReceived() {
	m.valueReceipts.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementSubscribers increments stream subscribers by 1.
func (m *Metrics) IncrementSubscribers() {
	m.streamSubscribers.Add(1)
}

// DecrementSubscribers decrements stream subscribers by 1.
func (m *Metrics) DecrementSubscribers() {
	m.streamSubscribers.Add(-1)
}

// SetMarker records the latest deadline marker.
func (m *Metrics) SetMarker(height uint64) {
	m.marker.Store(height)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Settlements          uint64    `json:"settlements"`
	Unauthorized         uint64    `json:"rejected_unauthorized"`
	InvalidSignatures    uint64    `json:"rejected_invalid_signature"`
	Expired              uint64    `json:"rejected_expired"`
	Replays              uint64    `json:"rejected_already_used"`
	CollaboratorFailures uint64    `json:"collaborator_failures"`
	ValueReceipts        uint64    `json:"value_receipts"`
	ErrorsTotal          uint64    `json:"errors_total"`
	AvgLatencyNs         int64     `json:"avg_latency_ns"`
	StreamSubscribers    int32     `json:"stream_subscribers"`
	Marker               uint64    `json:"marker"`
	Timestamp            time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		Settlements:          m.settlements.Load(),
		Unauthorized:         m.unauthorized.Load(),
		InvalidSignatures:    m.invalidSignatures.Load(),
		Expired:              m.expired.Load(),
		Replays:              m.replays.Load(),
		CollaboratorFailures: m.collaboratorFailures.Load(),
		ValueReceipts:        m.valueReceipts.Load(),
		ErrorsTotal:          m.errorsTotal.Load(),
		AvgLatencyNs:         avgLatency,
		StreamSubscribers:    m.streamSubscribers.Load(),
		Marker:               m.marker.Load(),
		Timestamp:            time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.settlements.Store(0)
	m.unauthorized.Store(0)
	m.invalidSignatures.Store(0)
	m.expired.Store(0)
	m.replays.Store(0)
	m.collaboratorFailures.Store(0)
	m.valueReceipts.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.streamSubscribers.Store(0)
	m.marker.Store(0)
}
