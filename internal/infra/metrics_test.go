package infra

import (
	"errors"
	"fmt"
	"testing"

	"liquidation_go/internal/domain"
)

func TestMetrics_RecordSettlement(t *testing.T) {
	m := &Metrics{}

	m.RecordSettlement(1000, nil)
	m.RecordSettlement(2000, nil)
	m.RecordSettlement(3000, fmt.Errorf("%w: marker 10 is past 9", domain.ErrExpiredAuthorization))

	snap := m.Snapshot()

	if snap.Settlements != 2 {
		t.Errorf("Expected 2 settlements, got %d", snap.Settlements)
	}
	if snap.Expired != 1 {
		t.Errorf("Expected 1 expired rejection, got %d", snap.Expired)
	}
	if snap.ErrorsTotal != 1 {
		t.Errorf("Expected 1 error, got %d", snap.ErrorsTotal)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatencyNs)
	}
}

func TestMetrics_RejectionKinds(t *testing.T) {
	m := &Metrics{}

	m.RecordSettlement(1, domain.ErrUnauthorized)
	m.RecordSettlement(1, domain.ErrInvalidAuthorizationSignature)
	m.RecordSettlement(1, domain.ErrAuthorizationAlreadyUsed)
	m.RecordSettlement(1, domain.NewCollaboratorError("liquidate", domain.ErrVaultNotLiquidatable))
	m.RecordSettlement(1, errors.New("disk full"))

	snap := m.Snapshot()
	if snap.Unauthorized != 1 || snap.InvalidSignatures != 1 || snap.Replays != 1 {
		t.Errorf("unexpected rejection counters %+v", snap)
	}
	if snap.CollaboratorFailures != 1 {
		t.Errorf("Expected 1 collaborator failure, got %d", snap.CollaboratorFailures)
	}
	if snap.ErrorsTotal != 5 {
		t.Errorf("Expected 5 errors, got %d", snap.ErrorsTotal)
	}
	if snap.Settlements != 0 {
		t.Errorf("Expected 0 settlements, got %d", snap.Settlements)
	}
}

func TestMetrics_Subscribers(t *testing.T) {
	m := &Metrics{}

	m.IncrementSubscribers()
	m.IncrementSubscribers()
	m.IncrementSubscribers()

	snap := m.Snapshot()
	if snap.StreamSubscribers != 3 {
		t.Errorf("Expected 3 subscribers, got %d", snap.StreamSubscribers)
	}

	m.DecrementSubscribers()
	snap = m.Snapshot()
	if snap.StreamSubscribers != 2 {
		t.Errorf("Expected 2 subscribers, got %d", snap.StreamSubscribers)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordSettlement(1000, nil)
	m.RecordError()
	m.RecordValueReceived()
	m.IncrementSubscribers()
	m.SetMarker(42)

	m.Reset()
	snap := m.Snapshot()

	if snap.Settlements != 0 {
		t.Error("Expected 0 settlements after reset")
	}
	if snap.ErrorsTotal != 0 {
		t.Error("Expected 0 errors after reset")
	}
	if snap.ValueReceipts != 0 {
		t.Error("Expected 0 value receipts after reset")
	}
	if snap.StreamSubscribers != 0 {
		t.Error("Expected 0 subscribers after reset")
	}
	if snap.Marker != 0 {
		t.Error("Expected marker 0 after reset")
	}
}
