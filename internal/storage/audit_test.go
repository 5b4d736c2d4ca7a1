package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"tempmon/internal/alerting"
	"tempmon/internal/models"
)

type memAlertStore struct {
	records []AlertRecord
	err     error
}

func (m *memAlertStore) InsertAlert(_ context.Context, rec AlertRecord) (AlertRecord, error) {
	if m.err != nil {
		return AlertRecord{}, m.err
	}
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *memAlertStore) ListRecentAlerts(context.Context, string, int) ([]AlertRecord, error) {
	return m.records, nil
}

func (m *memAlertStore) ListAlertsBetween(context.Context, time.Time, time.Time) ([]AlertRecord, error) {
	return m.records, nil
}

func (m *memAlertStore) DeleteAlertsBefore(context.Context, time.Time) error { return nil }

func TestAuditNotifierRecordsAlert(t *testing.T) {
	store := &memAlertStore{}
	audit := NewAuditNotifier(store)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := audit.Notify(context.Background(), alerting.Notification{
		Machine:       "oven-1",
		Alert:         models.AlertHigh,
		PriorKnown:    true,
		Prior:         models.AlertNormal,
		Changed:       true,
		Value:         31.25,
		ThresholdLow:  10,
		ThresholdHigh: 30,
		Timestamp:     ts,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(store.records))
	}
	rec := store.records[0]
	if rec.Machine != "oven-1" || rec.AlertVal != 1 || rec.Reason != "change" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Value.String() != "31.25" || rec.ThresholdHigh.String() != "30" {
		t.Fatalf("unexpected values %s / %s", rec.Value, rec.ThresholdHigh)
	}
	if !rec.SampleTS.Equal(ts) {
		t.Fatalf("unexpected sample ts %s", rec.SampleTS)
	}
}

func TestAuditNotifierWrapsStoreError(t *testing.T) {
	boom := errors.New("db down")
	audit := NewAuditNotifier(&memAlertStore{err: boom})
	if err := audit.Notify(context.Background(), alerting.Notification{Machine: "A"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	if _, err := s.ListRecentAlerts(context.Background(), "", 10); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, _, err := NewStore(nil).TryAdvisoryLock(context.Background(), 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := NewAuditNotifier(nil).Notify(context.Background(), alerting.Notification{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
