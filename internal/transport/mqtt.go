package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/currentcost/internal/models"
)

const (
	defaultMQTTBroker  = "tcp://localhost:1883"
	defaultMQTTTopic   = "currentcost/live"
	defaultMQTTTimeout = 10 * time.Second
	mqttQuiesceMillis  = 250
)

// MQTT receives updates published to a broker topic.
type MQTT struct {
	opts   MQTTOptions
	logger *logrus.Logger

	mu       sync.Mutex
	client   mqtt.Client
	topic    string
	payloads chan []byte
	lost     chan error
	lostOnce sync.Once
}

func NewMQTT(opts MQTTOptions, logger *logrus.Logger) *MQTT {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = defaultMQTTTimeout
	}
	if opts.ClientPrefix == "" {
		opts.ClientPrefix = "currentcost"
	}
	return &MQTT{opts: opts, logger: logger}
}

func (m *MQTT) Connect(ctx context.Context, target Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	broker := orDefault(target.Address, orDefault(m.opts.Broker, defaultMQTTBroker))
	topic := orDefault(target.Topic, orDefault(m.opts.Topic, defaultMQTTTopic))
	clientID := fmt.Sprintf("%s-%s", m.opts.ClientPrefix, uuid.New().String()[:8])

	m.reset(topic)

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(false).
		SetConnectTimeout(m.opts.ConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.connectionLost(err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(m.opts.ConnectTimeout) {
		return newError(models.TransportMQTT, "connect "+broker, errors.New("timed out"))
	}
	if err := token.Error(); err != nil {
		return newError(models.TransportMQTT, "connect "+broker, err)
	}

	sub := client.Subscribe(topic, m.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		m.deliver(msg.Payload())
	})
	if !sub.WaitTimeout(m.opts.ConnectTimeout) {
		client.Disconnect(mqttQuiesceMillis)
		return newError(models.TransportMQTT, "subscribe "+topic, errors.New("timed out"))
	}
	if err := sub.Error(); err != nil {
		client.Disconnect(mqttQuiesceMillis)
		return newError(models.TransportMQTT, "subscribe "+topic, err)
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"broker":    broker,
		"topic":     topic,
		"client_id": clientID,
	}).Info("Subscribed to MQTT topic")
	return nil
}

func (m *MQTT) reset(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topic = topic
	m.payloads = make(chan []byte, 64)
	m.lost = make(chan error, 1)
	m.lostOnce = sync.Once{}
}

// deliver queues a payload. Payloads arriving faster than they are read are
// dropped rather than blocking the client's network goroutine.
func (m *MQTT) deliver(payload []byte) {
	m.mu.Lock()
	ch, topic := m.payloads, m.topic
	m.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- append([]byte(nil), payload...):
	default:
		m.logger.WithField("topic", topic).Warn("Dropped MQTT update, reader is behind")
	}
}

func (m *MQTT) connectionLost(err error) {
	m.mu.Lock()
	lost := m.lost
	m.mu.Unlock()
	if lost == nil {
		return
	}
	m.lostOnce.Do(func() {
		if err == nil {
			err = ErrClosed
		}
		lost <- err
		close(lost)
	})
}

func (m *MQTT) ReadUpdate(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	payloads, lost := m.payloads, m.lost
	m.mu.Unlock()
	if payloads == nil {
		return nil, newError(models.TransportMQTT, "read", ErrNotConnected)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p := <-payloads:
		return p, nil
	case err, ok := <-lost:
		if !ok {
			err = ErrClosed
		}
		return nil, newError(models.TransportMQTT, "read", err)
	}
}

func (m *MQTT) Disconnect() error {
	m.mu.Lock()
	client, topic := m.client, m.topic
	m.client = nil
	m.mu.Unlock()

	if client != nil {
		if tok := client.Unsubscribe(topic); tok.WaitTimeout(m.opts.ConnectTimeout) && tok.Error() != nil {
			m.logger.WithError(tok.Error()).Warn("Failed to unsubscribe from MQTT topic")
		}
		client.Disconnect(mqttQuiesceMillis)
	}
	m.connectionLost(ErrClosed)
	return nil
}
