// Package transport adapts the clients that deliver raw CurrentCost updates.
//
// A Client is connected once, read from by a single goroutine and
// disconnected from any goroutine. Disconnect unblocks a pending ReadUpdate.
// Failures of the underlying connection are reported as *Error and end the
// connection; the caller decides what to tell the user.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/currentcost/internal/models"
)

var (
	ErrUnknownKind  = errors.New("unknown transport kind")
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("connection closed")
)

// Target says where to connect. Empty fields fall back to the configured
// defaults of the transport.
type Target struct {
	Address string `json:"address"`
	Topic   string `json:"topic"`
}

// Client delivers raw update payloads from a meter.
type Client interface {
	Connect(ctx context.Context, target Target) error
	// ReadUpdate blocks until the next payload arrives.
	ReadUpdate(ctx context.Context) ([]byte, error)
	Disconnect() error
}

// Error is a failure of the connection itself. It is never retried.
type Error struct {
	Kind models.TransportKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s transport: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind models.TransportKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

type SerialOptions struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

type MQTTOptions struct {
	Broker         string
	Topic          string
	QoS            byte
	ClientPrefix   string
	ConnectTimeout time.Duration
}

type NATSOptions struct {
	URL     string
	Subject string
	Name    string
}

// Options configures every transport kind.
type Options struct {
	Serial SerialOptions
	MQTT   MQTTOptions
	NATS   NATSOptions
}

// Factory creates a client for a transport kind.
type Factory func(kind models.TransportKind) (Client, error)

// NewFactory returns a Factory producing real clients configured by opts.
func NewFactory(opts Options, logger *logrus.Logger) Factory {
	return func(kind models.TransportKind) (Client, error) {
		return New(kind, opts, logger)
	}
}

// New creates an unconnected client for kind.
func New(kind models.TransportKind, opts Options, logger *logrus.Logger) (Client, error) {
	switch kind {
	case models.TransportSerial:
		return NewSerial(opts.Serial, logger), nil
	case models.TransportMQTT:
		return NewMQTT(opts.MQTT, logger), nil
	case models.TransportNATS:
		return NewNATS(opts.NATS, logger), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
