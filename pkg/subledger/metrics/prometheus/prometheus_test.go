package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordEventApplied(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordEventApplied("subscription_created", "success")
	metrics.RecordEventApplied("subscription_payment_failed", "success")
	metrics.RecordEventApplied("", "ignored")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	var applied *dto.MetricFamily
	for _, m := range families {
		if m.GetName() == "test_ledger_events_applied_total" {
			applied = m
			break
		}
	}
	if applied == nil {
		t.Fatal("Expected to find events applied metric")
	}
	if len(applied.Metric) != 3 {
		t.Errorf("Expected 3 time series, got %d", len(applied.Metric))
	}

	// Empty event types must be relabeled, not dropped
	found := false
	for _, m := range applied.Metric {
		for _, label := range m.Label {
			if label.GetName() == "event_type" && label.GetValue() == "unknown" {
				found = true
			}
		}
	}
	if !found {
		t.Error("Expected empty event type to be recorded as \"unknown\"")
	}
}

func TestRecordCreditGrant(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordCreditGrant(150)
	metrics.RecordCreditGrant(150)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	for _, m := range families {
		if m.GetName() == "test_ledger_credit_grant_amount" {
			if count := m.Metric[0].GetHistogram().GetSampleCount(); count != 2 {
				t.Errorf("Expected 2 grant observations, got %d", count)
			}
			if sum := m.Metric[0].GetHistogram().GetSampleSum(); sum != 300 {
				t.Errorf("Expected grant sum 300, got %f", sum)
			}
			return
		}
	}
	t.Fatal("Expected to find credit grant metric")
}

func TestRecordCreditConsumption(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordCreditConsumption(true)
	metrics.RecordCreditConsumption(false)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	for _, m := range families {
		if m.GetName() == "test_ledger_credit_consumptions_total" {
			if len(m.Metric) != 2 {
				t.Errorf("Expected success and error series, got %d", len(m.Metric))
			}
			return
		}
	}
	t.Fatal("Expected to find credit consumption metric")
}

func TestRecordStorageOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStorageOperation("update", 5*time.Millisecond, nil)
	metrics.RecordStorageOperation("update", 7*time.Millisecond, errors.New("down"))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	var sawDuration, sawErrors bool
	for _, m := range families {
		switch m.GetName() {
		case "test_ledger_storage_operation_duration_seconds":
			sawDuration = true
			if count := m.Metric[0].GetHistogram().GetSampleCount(); count != 2 {
				t.Errorf("Expected 2 duration observations, got %d", count)
			}
		case "test_ledger_storage_operation_errors_total":
			sawErrors = true
			if v := m.Metric[0].GetCounter().GetValue(); v != 1 {
				t.Errorf("Expected 1 storage error, got %f", v)
			}
		}
	}
	if !sawDuration || !sawErrors {
		t.Error("Expected both duration and error metrics to be recorded")
	}
}
