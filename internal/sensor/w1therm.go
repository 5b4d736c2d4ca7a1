package sensor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"tempmon/internal/models"
)

const w1SysfsRoot = "/sys/bus/w1/devices"

// W1Therm reads a DS18B20-style 1-Wire sensor through the kernel w1_therm
// driver. Values are reported in Celsius.
type W1Therm struct {
	path string
}

func newW1Therm(cfg Config) (Reader, error) {
	path, err := resolveW1Path(cfg.Device)
	if err != nil {
		return nil, err
	}
	return &W1Therm{path: path}, nil
}

// resolveW1Path accepts a w1_slave file, a device directory, a bare device id,
// or nothing (the first 28-* device found).
func resolveW1Path(device string) (string, error) {
	switch {
	case device == "":
		matches, _ := filepath.Glob(filepath.Join(w1SysfsRoot, "28-*", "w1_slave"))
		if len(matches) == 0 {
			return "", fmt.Errorf("no 1-wire temperature sensor under %s", w1SysfsRoot)
		}
		return matches[0], nil
	case filepath.Base(device) == "w1_slave":
	case !filepath.IsAbs(device):
		device = filepath.Join(w1SysfsRoot, device, "w1_slave")
	default:
		device = filepath.Join(device, "w1_slave")
	}
	if _, err := os.Stat(device); err != nil {
		return "", fmt.Errorf("1-wire device: %w", err)
	}
	return device, nil
}

// ReadRaw reads and parses w1_slave. A failed CRC or I/O error is transient.
func (w *W1Therm) ReadRaw(ctx context.Context) (models.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return models.RawSample{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return models.RawSample{}, fmt.Errorf("read %s: %v: %w", w.path, err, ErrTransient)
	}
	v, err := parseW1Slave(data)
	if err != nil {
		return models.RawSample{}, err
	}
	return models.RawSample{Value: v, AcquiredAt: time.Now()}, nil
}

// Close is a no-op; the file is reopened on every read.
func (w *W1Therm) Close() error { return nil }

// parseW1Slave parses
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1Slave(data []byte) (float64, error) {
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	if len(lines) < 2 {
		return 0, fmt.Errorf("w1_slave: short read: %w", ErrTransient)
	}
	if !bytes.HasSuffix(bytes.TrimSpace(lines[0]), []byte("YES")) {
		return 0, fmt.Errorf("w1_slave: crc check failed: %w", ErrTransient)
	}
	idx := bytes.LastIndex(lines[1], []byte("t="))
	if idx < 0 {
		return 0, fmt.Errorf("w1_slave: no temperature field: %w", ErrTransient)
	}
	milli, err := strconv.ParseInt(string(bytes.TrimSpace(lines[1][idx+2:])), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("w1_slave: %v: %w", err, ErrTransient)
	}
	return float64(milli) / 1000, nil
}
