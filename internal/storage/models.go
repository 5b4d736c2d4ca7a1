package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord is one published alert kept for auditing. It records what
// subscribers were told, not the sample series.
type AlertRecord struct {
	ID            int64
	Machine       string
	AlertVal      int
	Reason        string
	Value         decimal.Decimal
	ThresholdLow  decimal.Decimal
	ThresholdHigh decimal.Decimal
	SampleTS      time.Time
	CreatedAt     time.Time
}
