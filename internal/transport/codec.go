package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"tempmon/internal/models"
)

// ErrMalformed marks an inbound payload that cannot become a Reading.
var ErrMalformed = errors.New("transport: malformed payload")

// TimestampLayout is ISO-8601 with microseconds and a numeric UTC offset.
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// SamplePayload is the wire form of an averaged sample.
type SamplePayload struct {
	Machine     string  `json:"machine"`
	Temperature float64 `json:"temperature"`
	Timestamp   string  `json:"timestamp"`
	Sensor      string  `json:"sensor,omitempty"`
	Samples     int     `json:"samples,omitempty"`
}

// AlertPayload is the wire form of an alert.
type AlertPayload struct {
	Timestamp     string  `json:"timestamp"`
	Machine       string  `json:"machine"`
	AlertVal      int     `json:"AlertVal"`
	ThresholdLow  float64 `json:"ThresholdLow"`
	ThresholdHigh float64 `json:"ThresholdHigh"`
}

// FormatTimestamp renders t in the wire layout, keeping its offset.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseTimestamp accepts RFC 3339 with any fractional precision. Timestamps
// without an offset are read as local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, s)
}

// EncodeSample serialises an averaged sample.
func EncodeSample(s models.AveragedSample) ([]byte, error) {
	return json.Marshal(SamplePayload{
		Machine:     s.EntityID,
		Temperature: s.Value,
		Timestamp:   FormatTimestamp(s.ProducedAt),
		Sensor:      s.Sensor,
		Samples:     s.SampleCount,
	})
}

// DecodeSample parses an inbound sample. The reading may be named
// `temperature` or `temp`; numeric strings are accepted. A missing machine
// falls back to the last topic level.
func DecodeSample(topic string, payload []byte) (models.Reading, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return models.Reading{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	machine := ""
	if raw, ok := fields["machine"]; ok {
		if err := json.Unmarshal(raw, &machine); err != nil {
			return models.Reading{}, fmt.Errorf("%w: machine: %v", ErrMalformed, err)
		}
	}
	if machine == "" {
		machine = MachineFromTopic(topic)
	}
	if machine == "" {
		return models.Reading{}, fmt.Errorf("%w: machine missing", ErrMalformed)
	}

	raw, ok := fields["temperature"]
	if !ok {
		raw, ok = fields["temp"]
	}
	if !ok {
		return models.Reading{}, fmt.Errorf("%w: temperature missing", ErrMalformed)
	}
	value, err := decodeNumber(raw)
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: temperature: %v", ErrMalformed, err)
	}

	var stamp string
	if rawTS, ok := fields["timestamp"]; !ok || json.Unmarshal(rawTS, &stamp) != nil || stamp == "" {
		return models.Reading{}, fmt.Errorf("%w: timestamp missing", ErrMalformed)
	}
	ts, err := ParseTimestamp(stamp)
	if err != nil {
		return models.Reading{}, err
	}

	return models.Reading{EntityID: machine, Value: value, Timestamp: ts, Topic: topic}, nil
}

func decodeNumber(raw json.RawMessage) (float64, error) {
	if strings.TrimSpace(string(raw)) == "null" {
		return 0, errors.New("null")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(raw))
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %q", s)
	}
	return f, nil
}

// EncodeAlert serialises an alert for `<topic>/alerts`.
func EncodeAlert(machine string, alert models.Alert, low, high float64, ts time.Time) ([]byte, error) {
	return json.Marshal(AlertPayload{
		Timestamp:     FormatTimestamp(ts),
		Machine:       machine,
		AlertVal:      int(alert),
		ThresholdLow:  low,
		ThresholdHigh: high,
	})
}
