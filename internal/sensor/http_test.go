package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPJSONReadsNestedField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "tempmon/") {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sensor": map[string]any{"tC": 21.5},
		})
	}))
	defer srv.Close()

	h := NewHTTPJSON(srv.URL, "sensor.tC", time.Second)
	defer h.Close()

	s, err := h.ReadRaw(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if s.Value != 21.5 {
		t.Fatalf("expected 21.5, got %v", s.Value)
	}
}

func TestHTTPJSONStringValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"temperature":"19.25"}`))
	}))
	defer srv.Close()

	s, err := NewHTTPJSON(srv.URL, "", time.Second).ReadRaw(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if s.Value != 19.25 {
		t.Fatalf("expected 19.25, got %v", s.Value)
	}
}

func TestHTTPJSONErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"server error", http.StatusServiceUnavailable, "busy", true},
		{"rate limited", http.StatusTooManyRequests, "", true},
		{"not found", http.StatusNotFound, "no such sensor", false},
		{"garbled body", http.StatusOK, "{", true},
		{"missing field", http.StatusOK, `{"humidity":40}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewHTTPJSON(srv.URL, "", time.Second).ReadRaw(context.Background())
			if err == nil {
				t.Fatal("expected an error")
			}
			if errors.Is(err, ErrTransient) != tc.transient {
				t.Fatalf("transient=%v, got %v", tc.transient, err)
			}
		})
	}
}

func TestHTTPJSONUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPJSON(url, "", 200*time.Millisecond).ReadRaw(context.Background())
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestOpenHTTPJSONRequiresURL(t *testing.T) {
	if _, err := Open(Config{Machine: "A", Driver: "http_json"}); err == nil {
		t.Fatal("expected error without url")
	}
}
