package sensor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.bug.st/serial"

	"tempmon/internal/models"
)

const (
	defaultSerialDevice  = "/dev/ttyACM0"
	defaultSerialBaud    = 115200
	defaultSerialTimeout = time.Second
)

var errSerialTimeout = errors.New("serial read timed out")

// SerialJSON reads line-delimited JSON objects of the form {"T": 21.5} from a
// microcontroller front end.
type SerialJSON struct {
	port   io.ReadCloser
	reader *bufio.Reader
}

func newSerialJSON(cfg Config) (Reader, error) {
	device := cfg.Device
	if device == "" {
		device = defaultSerialDevice
	}
	baud := cfg.Baud
	if baud <= 0 {
		baud = defaultSerialBaud
	}

	p, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	if err := p.SetReadTimeout(defaultSerialTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set serial read timeout: %w", err)
	}
	return NewSerialJSON(timeoutPort{Port: p}), nil
}

// timeoutPort reports the library's empty timed-out read as an error so a
// silent front end does not spin the line reader.
type timeoutPort struct {
	serial.Port
}

func (p timeoutPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil {
		return 0, errSerialTimeout
	}
	return n, err
}

// NewSerialJSON reads from an already opened port. A port exposing
// SetReadTimeout or SetReadDeadline is bounded by the ReadRaw context.
func NewSerialJSON(port io.ReadCloser) *SerialJSON {
	return &SerialJSON{port: port, reader: bufio.NewReader(port)}
}

type serialLine struct {
	T *float64 `json:"T"`
}

// ReadRaw reads one line, bounded by the context deadline. Timeouts and
// garbled lines are transient.
func (s *SerialJSON) ReadRaw(ctx context.Context) (models.RawSample, error) {
	if deadline, ok := ctx.Deadline(); ok {
		s.bound(deadline)
	}
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, errSerialTimeout) || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.EOF) {
			return models.RawSample{}, fmt.Errorf("serial read: %v: %w", err, ErrTransient)
		}
		return models.RawSample{}, fmt.Errorf("serial read: %w", err)
	}
	v, err := parseSerialLine(line)
	if err != nil {
		return models.RawSample{}, err
	}
	return models.RawSample{Value: v, AcquiredAt: time.Now()}, nil
}

func (s *SerialJSON) bound(deadline time.Time) {
	switch p := s.port.(type) {
	case interface{ SetReadTimeout(time.Duration) error }:
		timeout := time.Until(deadline)
		if timeout <= 0 {
			timeout = time.Millisecond
		}
		_ = p.SetReadTimeout(timeout)
	case interface{ SetReadDeadline(time.Time) error }:
		// regular files reject deadlines and report EOF instead
		_ = p.SetReadDeadline(deadline)
	}
}

// Close releases the port.
func (s *SerialJSON) Close() error { return s.port.Close() }

func parseSerialLine(line []byte) (float64, error) {
	var msg serialLine
	if err := json.Unmarshal(line, &msg); err != nil {
		return 0, fmt.Errorf("serial line %q: %v: %w", line, err, ErrTransient)
	}
	if msg.T == nil {
		return 0, fmt.Errorf("serial line %q: missing T: %w", line, ErrTransient)
	}
	return *msg.T, nil
}
