package storage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tempmon/internal/alerting"
)

// AuditNotifier records every published alert in an AlertStore.
type AuditNotifier struct {
	store AlertStore
}

// NewAuditNotifier wraps an AlertStore as an alerting.Notifier.
func NewAuditNotifier(store AlertStore) *AuditNotifier {
	return &AuditNotifier{store: store}
}

// Notify inserts one audit record.
func (a *AuditNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	if a == nil || a.store == nil {
		return ErrNotConfigured
	}
	if _, err := a.store.InsertAlert(ctx, RecordFromNotification(note)); err != nil {
		return fmt.Errorf("audit alert %s: %w", note.Machine, err)
	}
	return nil
}

// RecordFromNotification maps a notification to its audit row.
func RecordFromNotification(note alerting.Notification) AlertRecord {
	return AlertRecord{
		Machine:       note.Machine,
		AlertVal:      int(note.Alert),
		Reason:        note.Reason(),
		Value:         decimal.NewFromFloat(note.Value),
		ThresholdLow:  decimal.NewFromFloat(note.ThresholdLow),
		ThresholdHigh: decimal.NewFromFloat(note.ThresholdHigh),
		SampleTS:      note.Timestamp,
	}
}

var _ alerting.Notifier = (*AuditNotifier)(nil)
