package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tempmon/internal/models"
	"tempmon/internal/version"
)

const (
	defaultHTTPField   = "temperature"
	defaultHTTPTimeout = 5 * time.Second
	maxHTTPBody        = 64 << 10
)

// HTTPJSON polls a networked thermometer that serves its reading as JSON,
// e.g. {"temperature": 21.4} or {"sensor": {"tC": 21.4}} with Field "sensor.tC".
type HTTPJSON struct {
	url    string
	path   []string
	client *http.Client
}

func newHTTPJSON(cfg Config) (Reader, error) {
	url := cfg.URL
	if url == "" {
		url = cfg.Device
	}
	if url == "" {
		return nil, errors.New("url is required")
	}
	return NewHTTPJSON(url, cfg.Field, cfg.Timeout), nil
}

// NewHTTPJSON builds a reader for url. An empty field reads "temperature".
func NewHTTPJSON(url, field string, timeout time.Duration) *HTTPJSON {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	field = strings.TrimSpace(field)
	if field == "" {
		field = defaultHTTPField
	}
	return &HTTPJSON{
		url:    strings.TrimSpace(url),
		path:   strings.Split(field, "."),
		client: &http.Client{Timeout: timeout},
	}
}

// ReadRaw fetches one reading. Network faults, 5xx and 429 responses and
// unparseable bodies are transient; other non-200 statuses are not.
func (h *HTTPJSON) ReadRaw(ctx context.Context) (models.RawSample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return models.RawSample{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := h.client.Do(req)
	if err != nil {
		return models.RawSample{}, fmt.Errorf("http sensor: %v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return models.RawSample{}, fmt.Errorf("http sensor body: %v: %w", err, ErrTransient)
	}

	if resp.StatusCode != http.StatusOK {
		return models.RawSample{}, httpStatusError(resp.StatusCode, payload)
	}

	v, err := extractField(payload, h.path)
	if err != nil {
		return models.RawSample{}, fmt.Errorf("http sensor: %v: %w", err, ErrTransient)
	}
	return models.RawSample{Value: v, AcquiredAt: time.Now()}, nil
}

// Close releases idle connections.
func (h *HTTPJSON) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func httpStatusError(status int, payload []byte) error {
	msg := strings.TrimSpace(string(payload))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	err := fmt.Errorf("http sensor status %d: %s", status, msg)
	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("%v: %w", err, ErrTransient)
	}
	return err
}

func extractField(payload []byte, path []string) (float64, error) {
	var node any
	if err := json.Unmarshal(payload, &node); err != nil {
		return 0, err
	}
	for _, key := range path {
		obj, ok := node.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("field %q: not an object", key)
		}
		node, ok = obj[key]
		if !ok {
			return 0, fmt.Errorf("field %q missing", strings.Join(path, "."))
		}
	}
	switch v := node.(type) {
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("field %q: unexpected %T", strings.Join(path, "."), node)
	}
}
