package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/tejusbharadwaj/currentcost/internal/models"
)

const (
	DefaultBaudRate      = 57600
	defaultSerialTimeout = 500 * time.Millisecond
	maxSerialLineLength  = 64 * 1024
)

// port is the part of serial.Port used by the client.
type port interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
}

type portOpener func(name string, mode *serial.Mode) (port, error)

func openSerialPort(name string, mode *serial.Mode) (port, error) {
	return serial.Open(name, mode)
}

// Serial reads newline terminated messages from a meter on a serial port.
type Serial struct {
	opts   SerialOptions
	logger *logrus.Logger
	open   portOpener

	mu      sync.Mutex
	port    port
	pending []byte
}

func NewSerial(opts SerialOptions, logger *logrus.Logger) *Serial {
	if opts.BaudRate == 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaultSerialTimeout
	}
	return &Serial{opts: opts, logger: logger, open: openSerialPort}
}

func (s *Serial) Connect(ctx context.Context, target Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := orDefault(target.Address, s.opts.Port)
	if name == "" {
		return newError(models.TransportSerial, "open", errors.New("no serial port configured"))
	}

	p, err := s.open(name, &serial.Mode{
		BaudRate: s.opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return newError(models.TransportSerial, "open "+name, err)
	}
	// a read timeout lets ReadUpdate notice cancellation between bytes
	if err := p.SetReadTimeout(s.opts.ReadTimeout); err != nil {
		p.Close()
		return newError(models.TransportSerial, "configure "+name, err)
	}

	s.mu.Lock()
	s.port = p
	s.pending = nil
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"port": name,
		"baud": s.opts.BaudRate,
	}).Info("Serial port opened")
	return nil
}

func (s *Serial) ReadUpdate(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	p := s.port
	s.mu.Unlock()
	if p == nil {
		return nil, newError(models.TransportSerial, "read", ErrNotConnected)
	}

	buf := make([]byte, 512)
	for {
		if line, ok := s.nextLine(); ok {
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := p.Read(buf)
		if err != nil {
			return nil, newError(models.TransportSerial, "read", err)
		}
		if n == 0 {
			// read timeout
			continue
		}
		s.pending = append(s.pending, buf[:n]...)
		if len(s.pending) > maxSerialLineLength {
			s.pending = nil
			s.logger.Warn("Discarded oversized serial line")
		}
	}
}

func (s *Serial) nextLine() ([]byte, bool) {
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			return nil, false
		}
		line := bytes.TrimSpace(s.pending[:i])
		s.pending = s.pending[i+1:]
		if len(line) > 0 {
			return append([]byte(nil), line...), true
		}
	}
}

func (s *Serial) Disconnect() error {
	s.mu.Lock()
	p := s.port
	s.port = nil
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	if err := p.Close(); err != nil {
		return newError(models.TransportSerial, "close", err)
	}
	return nil
}
