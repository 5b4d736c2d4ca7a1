// Package sensor provides the acquisition capability the sampler reads from
// and the drivers that implement it.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tempmon/internal/models"
)

var (
	// ErrTransient marks an acquisition fault that should be retried on the
	// next tick (bus NACK, CRC failure, read timeout, garbled line).
	ErrTransient = errors.New("transient acquisition fault")
	// ErrUnknownDriver is returned by Open for an unregistered driver tag.
	ErrUnknownDriver = errors.New("unknown sensor driver")
)

// Reader is one acquisition backend instance. It is used by a single sampler
// and is not safe for concurrent use.
type Reader interface {
	ReadRaw(ctx context.Context) (models.RawSample, error)
	Close() error
}

// Config describes one monitored machine and the backend that measures it.
type Config struct {
	Machine string `mapstructure:"machine"`
	Driver  string `mapstructure:"driver"`
	// Device is the driver-specific path: a w1_slave file, a tty, a sysfs input.
	Device  string `mapstructure:"device"`
	Channel int    `mapstructure:"channel"`
	// Baud is the serial_json line rate; zero means 115200.
	Baud int `mapstructure:"baud"`
	// Conversion is applied to the raw value: "identity" (default) or "pt_rtd".
	Conversion        string  `mapstructure:"conversion"`
	NominalResistance float64 `mapstructure:"nominal_resistance"`
	// Scale multiplies numbers read by the file driver.
	Scale       float64 `mapstructure:"scale"`
	Seed        int64   `mapstructure:"seed"`
	Base        float64 `mapstructure:"base"`
	FailureRate float64 `mapstructure:"failure_rate"`
	// URL, Field and Timeout configure the http_json driver.
	URL     string        `mapstructure:"url"`
	Field   string        `mapstructure:"field"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Factory constructs a Reader from its configuration.
type Factory func(cfg Config) (Reader, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register binds a driver tag to its factory. Registering the same tag twice
// panics.
func Register(tag string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[tag]; dup {
		panic("sensor: driver registered twice: " + tag)
	}
	registry[tag] = f
}

// Drivers lists the registered driver tags.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Open resolves cfg.Driver and wraps the backend with the configured
// conversion.
func Open(cfg Config) (Reader, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Driver]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	conv, err := NewConverter(cfg.Conversion, cfg.NominalResistance)
	if err != nil {
		return nil, fmt.Errorf("sensor %s: %w", cfg.Machine, err)
	}

	r, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s sensor for %s: %w", cfg.Driver, cfg.Machine, err)
	}
	if _, identity := conv.(Identity); identity {
		return r, nil
	}
	return &converting{Reader: r, conv: conv}, nil
}

type converting struct {
	Reader
	conv Converter
}

func (c *converting) ReadRaw(ctx context.Context) (models.RawSample, error) {
	s, err := c.Reader.ReadRaw(ctx)
	if err != nil {
		return s, err
	}
	s.Value = c.conv.Convert(s.Value)
	return s, nil
}

func init() {
	Register("simulated", newSimulated)
	Register("w1therm", newW1Therm)
	Register("serial_json", newSerialJSON)
	Register("file", newFile)
	Register("http_json", newHTTPJSON)
}
