package sensor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"tempmon/internal/models"
)

// File reads a single number from a file on every acquisition, e.g. a hwmon
// temp1_input (millidegrees, scale 0.001).
type File struct {
	path  string
	scale float64
}

func newFile(cfg Config) (Reader, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("file driver requires device")
	}
	if _, err := os.Stat(cfg.Device); err != nil {
		return nil, err
	}
	return NewFile(cfg.Device, cfg.Scale), nil
}

// NewFile reads path and multiplies by scale (1 when zero).
func NewFile(path string, scale float64) *File {
	if scale == 0 {
		scale = 1
	}
	return &File{path: path, scale: scale}
}

// ReadRaw reads and parses the file. Read and parse errors are transient.
func (f *File) ReadRaw(ctx context.Context) (models.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return models.RawSample{}, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return models.RawSample{}, fmt.Errorf("read %s: %v: %w", f.path, err, ErrTransient)
	}
	v, err := strconv.ParseFloat(string(bytes.TrimSpace(data)), 64)
	if err != nil {
		return models.RawSample{}, fmt.Errorf("parse %s: %v: %w", f.path, err, ErrTransient)
	}
	return models.RawSample{Value: v * f.scale, AcquiredAt: time.Now()}, nil
}

// Close is a no-op.
func (f *File) Close() error { return nil }
