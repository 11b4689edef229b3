// Package transporttest provides a scripted transport.Client for tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/tejusbharadwaj/currentcost/internal/models"
	"github.com/tejusbharadwaj/currentcost/internal/transport"
)

// Client hands out payloads pushed with Send. Fail ends the stream with a
// transport error, as a dropped connection would.
type Client struct {
	Kind models.TransportKind

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error

	mu          sync.Mutex
	updates     chan []byte
	failures    chan error
	stopped     chan struct{}
	stopOnce    sync.Once
	target      transport.Target
	connects    int
	disconnects int
}

func NewClient(kind models.TransportKind) *Client {
	return &Client{
		Kind:     kind,
		updates:  make(chan []byte, 128),
		failures: make(chan error, 1),
		stopped:  make(chan struct{}),
	}
}

func (c *Client) Connect(ctx context.Context, target transport.Target) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	c.target = target
	return c.ConnectErr
}

func (c *Client) ReadUpdate(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopped:
		return nil, &transport.Error{Kind: c.Kind, Op: "read", Err: transport.ErrClosed}
	case err := <-c.failures:
		return nil, &transport.Error{Kind: c.Kind, Op: "read", Err: err}
	case p := <-c.updates:
		return p, nil
	}
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.stopped) })
	return nil
}

// Send queues a raw payload.
func (c *Client) Send(payload string) {
	c.updates <- []byte(payload)
}

// Fail makes the next read fail with err.
func (c *Client) Fail(err error) {
	c.failures <- err
}

func (c *Client) Target() transport.Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Calls returns how many times Connect and Disconnect were called.
func (c *Client) Calls() (connects, disconnects int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.disconnects
}

// Factory returns a transport.Factory handing out clients from the given
// map, one per kind.
func Factory(clients map[models.TransportKind]*Client) transport.Factory {
	return func(kind models.TransportKind) (transport.Client, error) {
		c, ok := clients[kind]
		if !ok {
			return nil, transport.ErrUnknownKind
		}
		return c, nil
	}
}
