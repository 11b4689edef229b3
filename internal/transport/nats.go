package transport

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/currentcost/internal/models"
)

const (
	defaultNATSSubject = "currentcost.live"
	natsConnectTimeout = 5 * time.Second
)

// NATS receives updates published on a NATS subject.
type NATS struct {
	opts   NATSOptions
	logger *logrus.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	sub    *nats.Subscription
	msgs   chan *nats.Msg
	closed chan struct{}
	once   *sync.Once
}

func NewNATS(opts NATSOptions, logger *logrus.Logger) *NATS {
	if opts.Name == "" {
		opts.Name = "currentcost"
	}
	return &NATS{opts: opts, logger: logger}
}

func (n *NATS) Connect(ctx context.Context, target Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	url := orDefault(target.Address, orDefault(n.opts.URL, nats.DefaultURL))
	subject := orDefault(target.Topic, orDefault(n.opts.Subject, defaultNATSSubject))

	msgs, closed, once := n.reset()

	conn, err := nats.Connect(url,
		nats.Name(n.opts.Name),
		nats.Timeout(natsConnectTimeout),
		nats.NoReconnect(),
		nats.ClosedHandler(func(_ *nats.Conn) {
			once.Do(func() { close(closed) })
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				n.logger.WithError(err).Warn("NATS connection dropped")
			}
		}),
	)
	if err != nil {
		return newError(models.TransportNATS, "connect "+url, err)
	}

	sub, err := conn.ChanSubscribe(subject, msgs)
	if err != nil {
		conn.Close()
		return newError(models.TransportNATS, "subscribe "+subject, err)
	}

	n.mu.Lock()
	n.conn = conn
	n.sub = sub
	n.mu.Unlock()

	n.logger.WithFields(logrus.Fields{
		"url":     url,
		"subject": subject,
	}).Info("Subscribed to NATS subject")
	return nil
}

func (n *NATS) reset() (chan *nats.Msg, chan struct{}, *sync.Once) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = make(chan *nats.Msg, 64)
	n.closed = make(chan struct{})
	n.once = &sync.Once{}
	return n.msgs, n.closed, n.once
}

func (n *NATS) ReadUpdate(ctx context.Context) ([]byte, error) {
	n.mu.Lock()
	msgs, closed := n.msgs, n.closed
	n.mu.Unlock()
	if msgs == nil {
		return nil, newError(models.TransportNATS, "read", ErrNotConnected)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-msgs:
		return msg.Data, nil
	case <-closed:
		return nil, newError(models.TransportNATS, "read", ErrClosed)
	}
}

func (n *NATS) Disconnect() error {
	n.mu.Lock()
	conn, sub, closed, once := n.conn, n.sub, n.closed, n.once
	n.conn, n.sub = nil, nil
	n.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.WithError(err).Debug("NATS unsubscribe failed")
		}
	}
	if conn != nil {
		conn.Close()
	}
	if once != nil {
		once.Do(func() { close(closed) })
	}
	return nil
}
