package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tempmon/internal/models"
	"tempmon/internal/transport"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{Machine: "A", Alert: models.AlertHigh, Value: 31, ThresholdLow: 10, ThresholdHigh: 30, Timestamp: time.Now()}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("telegram notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "HIGH") {
		t.Fatalf("text should name the alert, got %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Machine: "A", Timestamp: time.Now()}); err == nil {
		t.Fatal("ok=false should be reported as an error")
	}
}

func TestTransportNotifierPublishesRetained(t *testing.T) {
	bus := transport.NewBus(4)
	defer bus.Close()

	n := NewTransportNotifier(bus, testLogger())
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	note := Notification{Machine: "A", Topic: "temperature_monitoring/A", Alert: models.AlertHigh, ThresholdLow: 10, ThresholdHigh: 30, Timestamp: ts}
	if err := n.Notify(context.Background(), note); err != nil {
		t.Fatalf("notify: %v", err)
	}

	msg, ok := bus.Retained("temperature_monitoring/A/alerts")
	if !ok {
		t.Fatal("alert should be retained on the alerts topic")
	}
	var payload transport.AlertPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.AlertVal != 1 || payload.Machine != "A" || payload.ThresholdHigh != 30 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestOnChangeSkipsHeartbeats(t *testing.T) {
	var calls []Notification
	inner := NotifierFunc(func(_ context.Context, note Notification) error {
		calls = append(calls, note)
		return nil
	})
	n := OnChange(inner)
	ctx := context.Background()

	_ = n.Notify(ctx, Notification{Alert: models.AlertNormal})
	_ = n.Notify(ctx, Notification{Alert: models.AlertHigh})
	_ = n.Notify(ctx, Notification{Alert: models.AlertHigh, PriorKnown: true, Prior: models.AlertHigh, Heartbeat: true})
	_ = n.Notify(ctx, Notification{Alert: models.AlertNormal, PriorKnown: true, Prior: models.AlertHigh, Changed: true})

	if len(calls) != 2 {
		t.Fatalf("expected 2 forwarded notifications, got %d", len(calls))
	}
	if calls[1].Alert != models.AlertNormal {
		t.Fatalf("expected the recovery to be forwarded, got %+v", calls[1])
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	called := 0
	f := Fanout{
		NotifierFunc(func(context.Context, Notification) error { called++; return boom }),
		nil,
		NotifierFunc(func(context.Context, Notification) error { called++; return nil }),
	}
	err := f.Notify(context.Background(), Notification{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if called != 2 {
		t.Fatalf("every notifier should be called, got %d", called)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
