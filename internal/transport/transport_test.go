package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"tempmon/internal/models"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"temperature_monitoring/+", "temperature_monitoring/A", true},
		{"temperature_monitoring/+", "temperature_monitoring/A/alerts", false},
		{"temperature_monitoring/#", "temperature_monitoring/A/alerts", true},
		{"temperature_monitoring/#", "temperature_monitoring", true},
		{"temperature_monitoring/+/alerts", "temperature_monitoring/A/alerts", true},
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"#", "anything/at/all", true},
		{"a/#/b", "a/x/b", false},
	}
	for _, tc := range cases {
		if got := Match(tc.pattern, tc.topic); got != tc.want {
			t.Fatalf("Match(%q, %q) = %v, want %v", tc.pattern, tc.topic, got, tc.want)
		}
	}
}

func TestTopics(t *testing.T) {
	in := MachineTopic("temperature_monitoring/", "A")
	if in != "temperature_monitoring/A" {
		t.Fatalf("unexpected machine topic %q", in)
	}
	if AlertTopic(in) != "temperature_monitoring/A/alerts" {
		t.Fatalf("unexpected alert topic %q", AlertTopic(in))
	}
	if Match(SamplePattern("temperature_monitoring"), AlertTopic(in)) {
		t.Fatal("sample subscription must not receive alert output")
	}
}

func TestDecodeSampleFieldVariants(t *testing.T) {
	cases := map[string]string{
		"temperature": `{"machine":"A","temperature":21.5,"timestamp":"2024-03-01T10:00:00.000000+01:00"}`,
		"temp":        `{"machine":"A","temp":21.5,"timestamp":"2024-03-01T10:00:00+01:00"}`,
		"string":      `{"machine":"A","temp":"21.5","timestamp":"2024-03-01T10:00:00+01:00"}`,
	}
	for name, payload := range cases {
		r, err := DecodeSample("temperature_monitoring/A", []byte(payload))
		if err != nil {
			t.Fatalf("%s: decode failed: %v", name, err)
		}
		if r.EntityID != "A" || r.Value != 21.5 {
			t.Fatalf("%s: unexpected reading %+v", name, r)
		}
		_, offset := r.Timestamp.Zone()
		if offset != 3600 {
			t.Fatalf("%s: offset not preserved: %d", name, offset)
		}
	}
}

func TestDecodeSampleMachineFromTopic(t *testing.T) {
	r, err := DecodeSample("temperature_monitoring/oven-2", []byte(`{"temperature":5,"timestamp":"2024-03-01T10:00:00Z"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if r.EntityID != "oven-2" {
		t.Fatalf("expected machine from topic, got %q", r.EntityID)
	}
}

func TestDecodeSampleMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"no reading":    `{"machine":"A","timestamp":"2024-03-01T10:00:00Z"}`,
		"null reading":  `{"machine":"A","temperature":null,"timestamp":"2024-03-01T10:00:00Z"}`,
		"bad reading":   `{"machine":"A","temperature":"warm","timestamp":"2024-03-01T10:00:00Z"}`,
		"nan reading":   `{"machine":"A","temperature":"NaN","timestamp":"2024-03-01T10:00:00Z"}`,
		"no timestamp":  `{"machine":"A","temperature":1}`,
		"bad timestamp": `{"machine":"A","temperature":1,"timestamp":"yesterday"}`,
	}
	for name, payload := range cases {
		if _, err := DecodeSample("temperature_monitoring/A", []byte(payload)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestEncodeAlertSchema(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("", 3600))
	data, err := EncodeAlert("A", models.AlertLow, 10, 30, ts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["machine"] != "A" || got["AlertVal"].(float64) != -1 {
		t.Fatalf("unexpected payload %s", data)
	}
	if got["ThresholdLow"].(float64) != 10 || got["ThresholdHigh"].(float64) != 30 {
		t.Fatalf("unexpected thresholds %s", data)
	}
	if stamp := got["timestamp"].(string); !strings.HasSuffix(stamp, "+01:00") {
		t.Fatalf("timestamp must carry UTC offset, got %q", stamp)
	}
}

func TestEncodeSampleRoundTripsThroughDecode(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	data, err := EncodeSample(models.AveragedSample{EntityID: "A", Value: 19.25, SampleCount: 10, ProducedAt: ts, Sensor: "simulated"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r, err := DecodeSample("temperature_monitoring/A", data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Value != 19.25 || !r.Timestamp.Equal(ts) {
		t.Fatalf("unexpected reading %+v", r)
	}
}

func TestBusRetainsForLateSubscribers(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bus.Publish(ctx, "p/A/alerts", []byte(`{"AlertVal":1}`), true); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(ctx, "p/B/alerts", []byte(`{"AlertVal":0}`), false); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ch, err := bus.Subscribe(ctx, "p/+/alerts")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Topic != "p/A/alerts" || !msg.Retained {
			t.Fatalf("unexpected retained delivery %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("retained message not delivered")
	}

	select {
	case msg := <-ch:
		t.Fatalf("non-retained message must not be replayed: %+v", msg)
	default:
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after cancel")
		}
	}
}

func TestFromKafkaFiltersByKey(t *testing.T) {
	msg := kafka.Message{
		Key:     []byte("p/A"),
		Value:   []byte("{}"),
		Headers: []kafka.Header{{Key: retainHeader, Value: []byte("1")}},
	}
	got, ok := fromKafka("p/+", msg)
	if !ok || got.Topic != "p/A" || !got.Retained {
		t.Fatalf("unexpected conversion %+v ok=%v", got, ok)
	}

	msg.Key = []byte("p/A/alerts")
	if _, ok := fromKafka("p/+", msg); ok {
		t.Fatal("alert key must not match sample pattern")
	}
}

func TestClientIDGenerated(t *testing.T) {
	if ClientID("fixed") != "fixed" {
		t.Fatal("configured client id must be kept")
	}
	a, b := ClientID(""), ClientID("")
	if !strings.HasPrefix(a, "tempmon-") || a == b {
		t.Fatalf("expected unique generated ids, got %q and %q", a, b)
	}
}
